// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"time"

	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/log"
)

type presigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// SignedURLDTO 封装了文档访问链接。
type SignedURLDTO struct {
	DocumentID string    `json:"documentId"`
	FileName   string    `json:"fileName"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// StatusDTO 描述文档的入库进度。
type StatusDTO struct {
	DocumentID string               `json:"documentId"`
	Status     model.DocumentStatus `json:"status"`
	ChunkCount int                  `json:"chunkCount"`
	Error      string               `json:"error,omitempty"`
}

// DocumentService 接口定义了文档访问相关的业务操作。
type DocumentService interface {
	SignedURL(ctx context.Context, ownerID, documentID string) (*SignedURLDTO, error)
	Status(ctx context.Context, ownerID, documentID string) (*StatusDTO, error)
}

type documentService struct {
	docRepo repository.DocumentRepository
	objects presigner
	ttl     time.Duration
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, objects presigner, ttl time.Duration) DocumentService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &documentService{docRepo: docRepo, objects: objects, ttl: ttl}
}

// SignedURL 为用户自己的文档生成短期有效的下载链接。
func (s *documentService) SignedURL(ctx context.Context, ownerID, documentID string) (*SignedURLDTO, error) {
	doc, err := s.docRepo.GetByOwner(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	url, err := s.objects.PresignedURL(ctx, doc.StorageKey, s.ttl)
	if err != nil {
		log.Errorf("[DocumentService] 生成签名链接失败, documentId: %s, error: %v", documentID, err)
		return nil, err
	}
	return &SignedURLDTO{
		DocumentID: doc.ID,
		FileName:   doc.FileName,
		URL:        url,
		ExpiresAt:  time.Now().Add(s.ttl),
	}, nil
}

func (s *documentService) Status(ctx context.Context, ownerID, documentID string) (*StatusDTO, error) {
	doc, err := s.docRepo.GetByOwner(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	return &StatusDTO{
		DocumentID: doc.ID,
		Status:     doc.Status,
		ChunkCount: doc.ChunkCount,
		Error:      doc.Error,
	}, nil
}

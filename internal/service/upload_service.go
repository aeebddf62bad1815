// Package service 包含了应用的业务逻辑层。
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/log"
	"pdf-tutor-go/pkg/storage"
	"pdf-tutor-go/pkg/tasks"

	"github.com/google/uuid"
)

var pdfMagic = []byte("%PDF-")

type objectPutter interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

type jobProducer interface {
	ProduceJob(ctx context.Context, job tasks.Job) error
}

// UploadResult 是上传成功后返回给客户端的内容。
type UploadResult struct {
	DocumentID string `json:"documentId"`
	ChatID     string `json:"chatId"`
}

// UploadService 接口定义了文件上传相关的业务操作。
type UploadService interface {
	Upload(ctx context.Context, ownerID, fileName, contentType string, r io.Reader) (*UploadResult, error)
}

type uploadService struct {
	docRepo   repository.DocumentRepository
	objects   objectPutter
	producer  jobProducer
	uploadCfg config.UploadConfig
	inlineMax int64
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(docRepo repository.DocumentRepository, objects objectPutter, producer jobProducer, uploadCfg config.UploadConfig, ingestCfg config.IngestionConfig) UploadService {
	return &uploadService{
		docRepo:   docRepo,
		objects:   objects,
		producer:  producer,
		uploadCfg: uploadCfg,
		inlineMax: ingestCfg.InlineMaxBytes,
	}
}

// Upload 校验并保存 PDF，创建文档与首个会话，然后投递入库任务。
func (s *uploadService) Upload(ctx context.Context, ownerID, fileName, contentType string, r io.Reader) (*UploadResult, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, apperr.Validation("file name required")
	}
	if !strings.EqualFold(filepath.Ext(fileName), ".pdf") && !strings.HasPrefix(strings.ToLower(contentType), "application/pdf") {
		return nil, apperr.Validation("only PDF files are accepted")
	}

	data, err := s.readBounded(r)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, apperr.Validation("file is not a valid PDF")
	}

	documentID := uuid.NewString()
	chatID := uuid.NewString()
	key := storage.ObjectKey(ownerID, documentID, fileName)
	log.Infof("[UploadService] 开始保存文件, ownerId: %s, documentId: %s, size: %d", ownerID, documentID, len(data))

	// 1. 保存原始文件
	if err := s.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		return nil, apperr.Transient("upload.Put", err)
	}

	// 2. 创建文档与会话
	doc := &model.Document{
		ID:         documentID,
		OwnerID:    ownerID,
		FileName:   fileName,
		StorageKey: key,
		Size:       int64(len(data)),
		Status:     model.StatusQueued,
	}
	session := &model.ChatSession{ID: chatID, OwnerID: ownerID, DocumentID: documentID, Title: clip(fileName, maxTitleLength)}
	if err := s.docRepo.CreateWithSession(ctx, doc, session); err != nil {
		return nil, err
	}

	// 3. 投递任务，小文件直接携带内容
	job := tasks.Job{
		Name:       tasks.JobName,
		DocumentID: documentID,
		OwnerID:    ownerID,
		StorageKey: key,
		FileName:   fileName,
	}
	if int64(len(data)) <= s.inlineMax {
		job.Inline = data
	}
	if err := s.producer.ProduceJob(ctx, job); err != nil {
		log.Errorf("[UploadService] 投递入库任务失败, documentId: %s, error: %v", documentID, err)
		if uerr := s.docRepo.UpdateStatus(ctx, documentID, model.StatusFailed, 0, "enqueue failed: "+err.Error()); uerr != nil {
			log.Warnf("[UploadService] 更新文档状态失败: %v", uerr)
		}
		return nil, apperr.Transient("upload.ProduceJob", err)
	}

	log.Infof("[UploadService] 上传完成, documentId: %s, chatId: %s", documentID, chatID)
	return &UploadResult{DocumentID: documentID, ChatID: chatID}, nil
}

func (s *uploadService) readBounded(r io.Reader) ([]byte, error) {
	limit := s.uploadCfg.MaxBytes
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, apperr.Validation(fmt.Sprintf("file exceeds %d bytes", limit))
	}
	if len(data) == 0 {
		return nil, apperr.Validation("file is empty")
	}
	return data, nil
}

// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"context"
	"errors"
	"fmt"

	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/pkg/apperr"

	"gorm.io/gorm"
)

// DocumentRepository 接口定义了上传文档相关的数据持久化操作。
type DocumentRepository interface {
	// CreateWithSession 在同一事务内创建文档记录和它的第一个会话。
	CreateWithSession(ctx context.Context, doc *model.Document, session *model.ChatSession) error
	GetByOwner(ctx context.Context, ownerID, documentID string) (*model.Document, error)
	UpdateStatus(ctx context.Context, documentID string, status model.DocumentStatus, chunkCount int, errMsg string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) CreateWithSession(ctx context.Context, doc *model.Document, session *model.ChatSession) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			return err
		}
		return tx.Create(session).Error
	})
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByOwner 只返回属于该用户的文档，其他用户的文档视为不存在。
func (r *documentRepository) GetByOwner(ctx context.Context, ownerID, documentID string) (*model.Document, error) {
	var doc model.Document
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", documentID, ownerID).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("document", documentID)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// UpdateStatus 更新文档的处理状态。
func (r *documentRepository) UpdateStatus(ctx context.Context, documentID string, status model.DocumentStatus, chunkCount int, errMsg string) error {
	return r.db.WithContext(ctx).Model(&model.Document{}).Where("id = ?", documentID).Updates(map[string]interface{}{
		"status":      status,
		"chunk_count": chunkCount,
		"error":       errMsg,
	}).Error
}

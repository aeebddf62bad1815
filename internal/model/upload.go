// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// DocumentStatus 表示文档在入库流水线中的状态。
type DocumentStatus string

const (
	StatusQueued     DocumentStatus = "queued"
	StatusProcessing DocumentStatus = "processing"
	StatusDone       DocumentStatus = "done"
	StatusFailed     DocumentStatus = "failed"
)

// Document 定义了 documents 表的 ORM 模型，记录上传的 PDF 及其处理状态。
type Document struct {
	ID         string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID    string         `gorm:"type:varchar(128);index;not null" json:"ownerId"`
	FileName   string         `gorm:"type:varchar(255);not null" json:"fileName"`
	StorageKey string         `gorm:"type:varchar(512);not null" json:"storageKey"`
	Size       int64          `gorm:"not null" json:"size"`
	Status     DocumentStatus `gorm:"type:varchar(16);not null;default:queued" json:"status"`
	ChunkCount int            `gorm:"not null;default:0" json:"chunkCount"`
	Error      string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

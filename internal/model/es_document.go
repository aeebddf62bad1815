// Package model 定义了与数据库表对应的 Go 结构体。
package model

// Chunk 是从某一页中切出的一段文本。ChunkIndex 在整份文档内从 0 连续递增。
type Chunk struct {
	Text       string
	Page       int
	ChunkIndex int
}

// ChunkPayload 定义了存储在向量索引中的文档结构（不含向量）。
type ChunkPayload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	Text       string `json:"text"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	CreatedAt  string `json:"created_at"`
}

// VectorPoint 是写入向量索引的一条记录。
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload ChunkPayload
}

// SearchHit 是一次向量检索返回的结果。
type SearchHit struct {
	ID      string
	Score   float64
	Payload ChunkPayload
}

// Source 是回答中引用的片段，Score 为 0..100 的整数百分比。
type Source struct {
	Page       int    `json:"page"`
	DocumentID string `json:"documentId"`
	Score      int    `json:"score"`
	Preview    string `json:"preview"`
}

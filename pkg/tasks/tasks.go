// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// JobName 是 PDF 入库任务的名称。
const JobName = "process-pdf"

// Job represents the data structure for a PDF ingestion job.
// 小文件直接携带 Inline 字节，大文件通过 StorageKey 从对象存储读取。
type Job struct {
	Name       string `json:"name"`
	DocumentID string `json:"documentId"`
	OwnerID    string `json:"ownerId"`
	StorageKey string `json:"storageKey"`
	FileName   string `json:"fileName"`
	Inline     []byte `json:"inline,omitempty"`
}

// Failure 是任务最终失败后发送到失败主题的记录。
type Failure struct {
	DocumentID string `json:"documentId"`
	OwnerID    string `json:"ownerId"`
	Stage      string `json:"stage"`
	BatchIndex int    `json:"batchIndex"`
	Error      string `json:"error"`
}

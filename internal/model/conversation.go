// Package model 包含了应用的数据模型定义。
package model

import "time"

// 消息角色。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatSession 是用户与某一份文档之间的一次会话。
type ChatSession struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID    string    `gorm:"type:varchar(128);index;not null" json:"ownerId"`
	DocumentID string    `gorm:"type:varchar(36);index;not null" json:"documentId"`
	Title      string    `gorm:"type:varchar(255)" json:"title"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (ChatSession) TableName() string {
	return "chat_sessions"
}

// Message 代表会话中的单条消息，同一轮问答的 user 与 assistant 消息成对写入。
type Message struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	ChatID    string    `gorm:"type:varchar(36);uniqueIndex:idx_chat_seq,priority:1;not null" json:"chatId"`
	// Seq 在会话内单调递增，历史顺序以它为准；同一轮的 user 与 assistant 消息相邻。
	Seq       int64     `gorm:"uniqueIndex:idx_chat_seq,priority:2;not null" json:"seq"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"` // "user" 或 "assistant"
	Content   string    `gorm:"type:mediumtext;not null" json:"content"`
	CreatedAt time.Time `gorm:"precision:6" json:"createdAt"`
}

func (Message) TableName() string {
	return "messages"
}

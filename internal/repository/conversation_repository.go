// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/pkg/apperr"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository 定义了会话与消息的持久化操作。
type ChatRepository interface {
	CreateSession(ctx context.Context, session *model.ChatSession) error
	GetSession(ctx context.Context, ownerID, chatID string) (*model.ChatSession, error)
	ListSessions(ctx context.Context, ownerID string) ([]model.ChatSession, error)
	RenameSession(ctx context.Context, ownerID, chatID, title string) error
	// AppendPair 在一个事务中写入一问一答两条消息，两条消息的 seq 相邻且 user 在前。
	AppendPair(ctx context.Context, chatID, question, answer string, at time.Time) error
	// RecentMessages 返回最近 n 条消息，按 seq 正序。
	RecentMessages(ctx context.Context, chatID string, n int) ([]model.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository 创建一个新的 ChatRepository 实例。
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateSession(ctx context.Context, session *model.ChatSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *chatRepository) GetSession(ctx context.Context, ownerID, chatID string) (*model.ChatSession, error) {
	var s model.ChatSession
	err := r.db.WithContext(ctx).Where("id = ? AND owner_id = ?", chatID, ownerID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("chat", chatID)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions 按最近更新时间倒序返回用户的全部会话。
func (r *chatRepository) ListSessions(ctx context.Context, ownerID string) ([]model.ChatSession, error) {
	var sessions []model.ChatSession
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("updated_at desc").Find(&sessions).Error
	return sessions, err
}

func (r *chatRepository) RenameSession(ctx context.Context, ownerID, chatID, title string) error {
	res := r.db.WithContext(ctx).Model(&model.ChatSession{}).
		Where("id = ? AND owner_id = ?", chatID, ownerID).
		Update("title", title)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("chat", chatID)
	}
	return nil
}

// AppendPair 先锁住会话行，再以会话内最大 seq 为起点连续分配两个序号，
// 并发的多轮对话因此按整轮串行落库，问答对不会交错。
func (r *chatRepository) AppendPair(ctx context.Context, chatID, question, answer string, at time.Time) error {
	at = at.UTC().Truncate(time.Microsecond)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session model.ChatSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").Where("id = ?", chatID).Take(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("chat", chatID)
		}
		if err != nil {
			return err
		}

		var last model.Message
		if err := tx.Select("seq", "created_at").Where("chat_id = ?", chatID).
			Order("seq desc").Limit(1).Find(&last).Error; err != nil {
			return err
		}
		// 时钟回拨或同一时刻写入时，保证 createdAt 与 seq 同向递增
		if !last.CreatedAt.IsZero() && !at.After(last.CreatedAt) {
			at = last.CreatedAt.UTC().Add(time.Microsecond)
		}

		msgs := []model.Message{
			{ID: uuid.NewString(), ChatID: chatID, Seq: last.Seq + 1, Role: model.RoleUser, Content: question, CreatedAt: at},
			{ID: uuid.NewString(), ChatID: chatID, Seq: last.Seq + 2, Role: model.RoleAssistant, Content: answer, CreatedAt: at.Add(time.Microsecond)},
		}
		if err := tx.Create(&msgs).Error; err != nil {
			return err
		}
		return tx.Model(&model.ChatSession{}).Where("id = ?", chatID).Update("updated_at", at).Error
	})
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

func (r *chatRepository) RecentMessages(ctx context.Context, chatID string, n int) ([]model.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	var msgs []model.Message
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Order("seq desc").
		Limit(n).Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).Where("chat_id = ?", chatID).
		Order("seq asc").
		Find(&msgs).Error
	return msgs, err
}

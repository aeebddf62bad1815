// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"strings"

	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/apperr"

	"github.com/google/uuid"
)

const maxTitleLength = 255

// SessionService 定义了会话管理的接口。所有操作都限定在调用者自己的会话内。
type SessionService interface {
	Create(ctx context.Context, ownerID, documentID, title string) (*model.ChatSession, error)
	List(ctx context.Context, ownerID string) ([]model.ChatSession, error)
	Get(ctx context.Context, ownerID, chatID string) (*model.ChatSession, error)
	Messages(ctx context.Context, ownerID, chatID string) ([]model.Message, error)
	Rename(ctx context.Context, ownerID, chatID, title string) error
}

type sessionService struct {
	chatRepo repository.ChatRepository
	docRepo  repository.DocumentRepository
}

// NewSessionService 创建一个新的 SessionService。
func NewSessionService(chatRepo repository.ChatRepository, docRepo repository.DocumentRepository) SessionService {
	return &sessionService{chatRepo: chatRepo, docRepo: docRepo}
}

// Create 为用户已拥有的文档新建会话，未提供标题时使用文件名。
func (s *sessionService) Create(ctx context.Context, ownerID, documentID, title string) (*model.ChatSession, error) {
	if documentID == "" {
		return nil, apperr.Validation("documentId required")
	}
	doc, err := s.docRepo.GetByOwner(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = doc.FileName
	}
	session := &model.ChatSession{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		DocumentID: documentID,
		Title:      clip(title, maxTitleLength),
	}
	if err := s.chatRepo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *sessionService) List(ctx context.Context, ownerID string) ([]model.ChatSession, error) {
	return s.chatRepo.ListSessions(ctx, ownerID)
}

func (s *sessionService) Get(ctx context.Context, ownerID, chatID string) (*model.ChatSession, error) {
	return s.chatRepo.GetSession(ctx, ownerID, chatID)
}

// Messages 返回会话的完整消息记录，按时间正序。
func (s *sessionService) Messages(ctx context.Context, ownerID, chatID string) ([]model.Message, error) {
	if _, err := s.chatRepo.GetSession(ctx, ownerID, chatID); err != nil {
		return nil, err
	}
	return s.chatRepo.ListMessages(ctx, chatID)
}

func (s *sessionService) Rename(ctx context.Context, ownerID, chatID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return apperr.Validation("title required")
	}
	return s.chatRepo.RenameSession(ctx, ownerID, chatID, clip(title, maxTitleLength))
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package service

import (
	"context"
	"strings"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/llm"
)

// maxExplainChars 限制讲解接口输入文本的长度。
const maxExplainChars = 8000

// StudyService 提供会话总结与段落讲解。
type StudyService interface {
	Summary(ctx context.Context, ownerID, chatID string) (string, error)
	Explain(ctx context.Context, text, style string) (string, error)
}

type studyService struct {
	chatRepo  repository.ChatRepository
	llmClient llm.Client
	gen       config.LLMGenerationConfig
	window    int
	maxChars  int
}

// NewStudyService 创建一个新的 StudyService。
func NewStudyService(chatRepo repository.ChatRepository, llmClient llm.Client, gen config.LLMGenerationConfig, cfg config.RetrievalConfig) StudyService {
	return &studyService{
		chatRepo:  chatRepo,
		llmClient: llmClient,
		gen:       gen,
		window:    cfg.HistoryWindow,
		maxChars:  cfg.MaxContextChars,
	}
}

func (s *studyService) Summary(ctx context.Context, ownerID, chatID string) (string, error) {
	if chatID == "" {
		return "", apperr.Validation("chatId required")
	}
	if _, err := s.chatRepo.GetSession(ctx, ownerID, chatID); err != nil {
		return "", err
	}
	// 总结使用两倍于问答的历史窗口
	msgs, err := s.chatRepo.RecentMessages(ctx, chatID, 2*s.window)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", apperr.Validation("chat has no messages to summarize")
	}
	history := truncateRunes(FormatHistory(msgs), s.maxChars)
	prompt := SummaryPrompt().Render(PromptInput{History: history})
	return s.llmClient.Complete(ctx, []llm.Message{{Role: model.RoleUser, Content: prompt}}, llm.DefaultParams(s.gen))
}

func (s *studyService) Explain(ctx context.Context, text, style string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", apperr.Validation("text required")
	}
	prompt := ExplainPrompt(style).Render(PromptInput{Text: truncateRunes(text, maxExplainChars)})
	return s.llmClient.Complete(ctx, []llm.Message{{Role: model.RoleUser, Content: prompt}}, llm.DefaultParams(s.gen))
}

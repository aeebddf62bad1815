// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/embedding"
	"pdf-tutor-go/pkg/es"
	"pdf-tutor-go/pkg/llm"
	"pdf-tutor-go/pkg/log"
)

// ContextSeparator 分隔拼接进 prompt 的各个片段。
const ContextSeparator = "\n\n---\n\n"

// TurnRequest 是一次问答的输入。
type TurnRequest struct {
	OwnerID    string
	ChatID     string
	DocumentID string
	Question   string
}

// TurnResponse 是一次问答的结果。
type TurnResponse struct {
	ChatID     string         `json:"chatId"`
	Answer     string         `json:"answer"`
	Pages      []int          `json:"pages"`
	Sources    []model.Source `json:"sources"`
	ChunkCount int            `json:"chunkCount"`
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error)
}

type chatService struct {
	embedder    embedding.Client
	index       es.Index
	llmClient   llm.Client
	chatRepo    repository.ChatRepository
	cfg         config.RetrievalConfig
	gen         config.LLMGenerationConfig
	indexPrefix string
	prompt      PromptTemplate
	now         func() time.Time
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	embedder embedding.Client,
	index es.Index,
	llmClient llm.Client,
	chatRepo repository.ChatRepository,
	cfg config.RetrievalConfig,
	gen config.LLMGenerationConfig,
	indexPrefix string,
) ChatService {
	return &chatService{
		embedder:    embedder,
		index:       index,
		llmClient:   llmClient,
		chatRepo:    chatRepo,
		cfg:         cfg,
		gen:         gen,
		indexPrefix: indexPrefix,
		prompt:      TutorPrompt(),
		now:         time.Now,
	}
}

// Turn 执行一次检索增强问答：校验 → 历史 → 向量化 → 检索（先按文档过滤，再全集合兜底）→ 组装 prompt → 生成 → 落库。
// 生成成功后的落库失败只记录日志，不影响返回。
func (s *chatService) Turn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	// 1. 校验
	if err := validateTurn(req); err != nil {
		return nil, err
	}
	session, err := s.chatRepo.GetSession(ctx, req.OwnerID, req.ChatID)
	if err != nil {
		return nil, err
	}
	if session.DocumentID != req.DocumentID {
		return nil, apperr.Validation("chatId does not belong to documentId")
	}

	// 2. 历史
	history, err := s.chatRepo.RecentMessages(ctx, req.ChatID, s.cfg.HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	// 3. 向量化问题
	vector, err := s.embedder.CreateEmbedding(ctx, req.Question)
	if err != nil {
		return nil, err
	}

	// 4-5. 检索
	hits, err := s.search(ctx, req, vector)
	if err != nil {
		return nil, err
	}

	// 6. 无结果
	if len(hits) == 0 {
		log.Infow("[ChatService] 未检索到相关片段", "chatId", req.ChatID, "documentId", req.DocumentID)
		s.persist(ctx, req.ChatID, req.Question, s.cfg.NoContentText)
		return &TurnResponse{
			ChatID:  req.ChatID,
			Answer:  s.cfg.NoContentText,
			Pages:   []int{},
			Sources: []model.Source{},
		}, nil
	}

	// 7-8. 组装 prompt
	prompt := s.prompt.Render(PromptInput{
		History:  FormatHistory(history),
		Context:  BuildContext(hits, s.cfg.MaxContextChars),
		Question: req.Question,
	})

	// 9. 生成
	answer, err := s.llmClient.Complete(ctx, []llm.Message{{Role: model.RoleUser, Content: prompt}}, llm.DefaultParams(s.gen))
	if err != nil {
		return nil, err
	}
	if answer == "" {
		answer = "No response generated"
	}

	// 10. 落库
	s.persist(ctx, req.ChatID, req.Question, answer)

	// 11. 响应
	return &TurnResponse{
		ChatID:     req.ChatID,
		Answer:     answer,
		Pages:      Pages(hits),
		Sources:    Sources(hits, s.cfg.MaxSources, s.cfg.PreviewChars),
		ChunkCount: len(hits),
	}, nil
}

func validateTurn(req TurnRequest) error {
	var missing []string
	if strings.TrimSpace(req.Question) == "" {
		missing = append(missing, "question")
	}
	if req.ChatID == "" {
		missing = append(missing, "chatId")
	}
	if req.DocumentID == "" {
		missing = append(missing, "documentId")
	}
	if len(missing) > 0 {
		return apperr.Validation(strings.Join(missing, ", ") + " required")
	}
	return nil
}

// search 先按 documentId 过滤检索，零结果时对用户整个集合再检索一次。
func (s *chatService) search(ctx context.Context, req TurnRequest, vector []float32) ([]model.SearchHit, error) {
	collection := es.CollectionName(s.indexPrefix, req.OwnerID)
	hits, err := s.index.Search(ctx, collection, vector, s.cfg.TopK, map[string]string{"document_id": req.DocumentID})
	if err != nil {
		return nil, err
	}
	if len(hits) > 0 {
		return hits, nil
	}
	log.Warnw("[ChatService] 文档内无命中, 回退到全集合检索", "documentId", req.DocumentID, "collection", collection)
	return s.index.Search(ctx, collection, vector, s.cfg.TopK, nil)
}

func (s *chatService) persist(ctx context.Context, chatID, question, answer string) {
	// 请求被取消时答案已经生成，仍然尝试保存
	ctx = context.WithoutCancel(ctx)
	if err := s.chatRepo.AppendPair(ctx, chatID, question, answer, s.now()); err != nil {
		log.Error("[ChatService] 保存消息失败", apperr.Persistence("chat.persist", err))
	}
}

// FormatHistory 把消息格式化为 "ROLE: content" 行。
func FormatHistory(msgs []model.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, strings.ToUpper(m.Role)+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// BuildContext 用分隔符拼接命中文本，并在拼接之后整体截断到 maxChars 个字符。
func BuildContext(hits []model.SearchHit, maxChars int) string {
	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Payload.Text)
	}
	return truncateRunes(strings.Join(texts, ContextSeparator), maxChars)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Pages 返回命中片段去重后升序排列的页码。
func Pages(hits []model.SearchHit) []int {
	seen := make(map[int]struct{}, len(hits))
	pages := make([]int, 0, len(hits))
	for _, h := range hits {
		if _, ok := seen[h.Payload.Page]; ok {
			continue
		}
		seen[h.Payload.Page] = struct{}{}
		pages = append(pages, h.Payload.Page)
	}
	sort.Ints(pages)
	return pages
}

// Sources 按检索排序返回最多 limit 条引用，分数换算为整数百分比。
func Sources(hits []model.SearchHit, limit, previewChars int) []model.Source {
	if limit <= 0 || limit > len(hits) {
		limit = len(hits)
	}
	out := make([]model.Source, 0, limit)
	for _, h := range hits[:limit] {
		out = append(out, model.Source{
			Page:       h.Payload.Page,
			DocumentID: h.Payload.DocumentID,
			Score:      int(math.Round(h.Score * 100)),
			Preview:    truncateRunes(h.Payload.Text, previewChars) + "...",
		})
	}
	return out
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/es"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPrefix = "pdfs"
	noContent  = "No relevant content found in document."
)

func retrievalConfig() config.RetrievalConfig {
	return config.RetrievalConfig{
		TopK:            3,
		HistoryWindow:   8,
		MaxContextChars: 18000,
		MaxSources:      5,
		PreviewChars:    100,
		NoContentText:   noContent,
	}
}

// recordingIndex 记录每次检索使用的过滤条件。
type recordingIndex struct {
	*es.MemoryIndex
	mu      sync.Mutex
	filters []map[string]string
}

func (r *recordingIndex) Search(ctx context.Context, name string, vector []float32, limit int, filter map[string]string) ([]model.SearchHit, error) {
	r.mu.Lock()
	r.filters = append(r.filters, filter)
	r.mu.Unlock()
	return r.MemoryIndex.Search(ctx, name, vector, limit, filter)
}

func seed(t *testing.T, idx es.Index, owner, doc string, texts ...string) {
	t.Helper()
	ctx := context.Background()
	collection := es.CollectionName(testPrefix, owner)
	require.NoError(t, idx.EnsureCollection(ctx, collection, testDims, es.MetricCosine))
	points := make([]model.VectorPoint, 0, len(texts))
	for i, text := range texts {
		vec, _ := bagOfWords{}.CreateEmbedding(ctx, text)
		points = append(points, model.VectorPoint{
			ID:     fmt.Sprintf("%s-%d", doc, i),
			Vector: vec,
			Payload: model.ChunkPayload{
				DocumentID: doc, OwnerID: owner, Text: text, Page: i + 1, ChunkIndex: i,
			},
		})
	}
	require.NoError(t, idx.Upsert(ctx, collection, points))
}

func newTestChat(idx es.Index, repo *memoryChatRepo, llmClient *fakeLLM, cfg config.RetrievalConfig) ChatService {
	return NewChatService(bagOfWords{}, idx, llmClient, repo, cfg, config.LLMGenerationConfig{Temperature: 0.3, TopP: 0.9}, testPrefix)
}

func session(id, owner, doc string) model.ChatSession {
	return model.ChatSession{ID: id, OwnerID: owner, DocumentID: doc, Title: "bio.pdf"}
}

func TestTurnAnswersFromDocument(t *testing.T) {
	idx := &recordingIndex{MemoryIndex: es.NewMemoryIndex()}
	seed(t, idx, "owner-1", "doc-1", "photosynthesis sunlight chloroplast.", "mitochondria respiration atp.")
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	llmClient := &fakeLLM{}

	resp, err := newTestChat(idx, repo, llmClient, retrievalConfig()).Turn(context.Background(), TurnRequest{
		OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: "explain photosynthesis",
	})
	require.NoError(t, err)

	assert.Equal(t, "chat-1", resp.ChatID)
	assert.Equal(t, "answer to explain photosynthesis", resp.Answer)
	assert.Equal(t, 2, resp.ChunkCount)
	assert.Equal(t, []int{1, 2}, resp.Pages)
	require.NotEmpty(t, resp.Sources)
	assert.Equal(t, 1, resp.Sources[0].Page)
	assert.Equal(t, "doc-1", resp.Sources[0].DocumentID)

	// 只检索了一次，且带有文档过滤
	require.Len(t, idx.filters, 1)
	assert.Equal(t, map[string]string{"document_id": "doc-1"}, idx.filters[0])

	prompt := llmClient.lastPrompt()
	assert.Contains(t, prompt, "You are an expert technical tutor.")
	assert.Contains(t, prompt, "photosynthesis sunlight chloroplast."+ContextSeparator+"mitochondria respiration atp.")
	assert.Contains(t, prompt, "User question:\nexplain photosynthesis")

	msgs, _ := repo.ListMessages(context.Background(), "chat-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "explain photosynthesis", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))
}

func TestTurnFallsBackToWholeCollection(t *testing.T) {
	idx := &recordingIndex{MemoryIndex: es.NewMemoryIndex()}
	seed(t, idx, "owner-1", "doc-a", "photosynthesis sunlight chloroplast.")
	repo := newMemoryChatRepo(session("chat-b", "owner-1", "doc-b"))

	resp, err := newTestChat(idx, repo, &fakeLLM{}, retrievalConfig()).Turn(context.Background(), TurnRequest{
		OwnerID: "owner-1", ChatID: "chat-b", DocumentID: "doc-b", Question: "photosynthesis",
	})
	require.NoError(t, err)

	require.Len(t, idx.filters, 2)
	assert.Equal(t, map[string]string{"document_id": "doc-b"}, idx.filters[0])
	assert.Nil(t, idx.filters[1])
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "doc-a", resp.Sources[0].DocumentID)
}

func TestTurnWithoutHitsPersistsNoContentAnswer(t *testing.T) {
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	llmClient := &fakeLLM{}

	resp, err := newTestChat(es.NewMemoryIndex(), repo, llmClient, retrievalConfig()).Turn(context.Background(), TurnRequest{
		OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: "anything?",
	})
	require.NoError(t, err)

	assert.Equal(t, noContent, resp.Answer)
	assert.Empty(t, resp.Pages)
	assert.Empty(t, resp.Sources)
	assert.Zero(t, resp.ChunkCount)
	assert.Zero(t, llmClient.calls())

	msgs, _ := repo.ListMessages(context.Background(), "chat-1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "anything?", msgs[0].Content)
	assert.Equal(t, noContent, msgs[1].Content)
}

func TestTurnValidation(t *testing.T) {
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	svc := newTestChat(es.NewMemoryIndex(), repo, &fakeLLM{}, retrievalConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		req  TurnRequest
		kind apperr.Kind
	}{
		{"missing question", TurnRequest{OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: "  "}, apperr.KindValidation},
		{"missing chat", TurnRequest{OwnerID: "owner-1", DocumentID: "doc-1", Question: "q"}, apperr.KindValidation},
		{"missing document", TurnRequest{OwnerID: "owner-1", ChatID: "chat-1", Question: "q"}, apperr.KindValidation},
		{"document mismatch", TurnRequest{OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-2", Question: "q"}, apperr.KindValidation},
		{"unknown chat", TurnRequest{OwnerID: "owner-1", ChatID: "chat-9", DocumentID: "doc-1", Question: "q"}, apperr.KindNotFound},
		{"other owner", TurnRequest{OwnerID: "owner-2", ChatID: "chat-1", DocumentID: "doc-1", Question: "q"}, apperr.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Turn(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
	msgs, _ := repo.ListMessages(ctx, "chat-1")
	assert.Empty(t, msgs)
}

func TestTurnLLMFailureDoesNotPersist(t *testing.T) {
	idx := es.NewMemoryIndex()
	seed(t, idx, "owner-1", "doc-1", "photosynthesis sunlight chloroplast.")
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	llmClient := &fakeLLM{err: apperr.Transient("llm.Complete", errors.New("503"))}

	_, err := newTestChat(idx, repo, llmClient, retrievalConfig()).Turn(context.Background(), TurnRequest{
		OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: "photosynthesis",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTransient))

	msgs, _ := repo.ListMessages(context.Background(), "chat-1")
	assert.Empty(t, msgs)
}

func TestTurnReturnsAnswerWhenPersistFails(t *testing.T) {
	idx := es.NewMemoryIndex()
	seed(t, idx, "owner-1", "doc-1", "photosynthesis sunlight chloroplast.")
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	repo.appendErr = errors.New("deadlock")

	resp, err := newTestChat(idx, repo, &fakeLLM{answer: "Leaves make sugar."}, retrievalConfig()).Turn(context.Background(), TurnRequest{
		OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: "photosynthesis",
	})
	require.NoError(t, err)
	assert.Equal(t, "Leaves make sugar.", resp.Answer)
}

func TestTurnBoundsContextLength(t *testing.T) {
	idx := es.NewMemoryIndex()
	long := strings.Repeat("photosynthesis ", 20)
	seed(t, idx, "owner-1", "doc-1", long, long, long)
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	llmClient := &fakeLLM{}
	cfg := retrievalConfig()
	cfg.MaxContextChars = 40

	_, err := newTestChat(idx, repo, llmClient, cfg).Turn(context.Background(), TurnRequest{
		OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: "photosynthesis",
	})
	require.NoError(t, err)

	prompt := llmClient.lastPrompt()
	const marker = "Document content to use as the ONLY source:\n"
	start := strings.Index(prompt, marker)
	require.GreaterOrEqual(t, start, 0)
	rest := prompt[start+len(marker):]
	end := strings.Index(rest, "\n\nUser question:")
	require.GreaterOrEqual(t, end, 0)
	assert.LessOrEqual(t, len([]rune(rest[:end])), 40)
}

func TestTurnIncludesRecentHistory(t *testing.T) {
	idx := es.NewMemoryIndex()
	seed(t, idx, "owner-1", "doc-1", "photosynthesis sunlight chloroplast.")
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	llmClient := &fakeLLM{}
	svc := newTestChat(idx, repo, llmClient, retrievalConfig())
	ctx := context.Background()

	for _, q := range []string{"first photosynthesis", "second photosynthesis"} {
		_, err := svc.Turn(ctx, TurnRequest{OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: q})
		require.NoError(t, err)
	}
	assert.Contains(t, llmClient.lastPrompt(), "USER: first photosynthesis\nASSISTANT: answer to first photosynthesis")
}

func TestConcurrentTurnsPersistEachAnswerRightAfterItsQuestion(t *testing.T) {
	idx := es.NewMemoryIndex()
	seed(t, idx, "owner-1", "doc-1", "photosynthesis sunlight chloroplast.")
	repo := newMemoryChatRepo(session("chat-1", "owner-1", "doc-1"))
	svc := newTestChat(idx, repo, &fakeLLM{}, retrievalConfig())

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Turn(context.Background(), TurnRequest{
				OwnerID: "owner-1", ChatID: "chat-1", DocumentID: "doc-1", Question: fmt.Sprintf("photosynthesis q%d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	msgs, _ := repo.ListMessages(context.Background(), "chat-1")
	require.Len(t, msgs, 2*n)
	asked := map[string]bool{}
	for i := 0; i < len(msgs); i += 2 {
		q, a := msgs[i], msgs[i+1]
		assert.Equal(t, model.RoleUser, q.Role)
		assert.Equal(t, model.RoleAssistant, a.Role)
		assert.Equal(t, "answer to "+q.Content, a.Content)
		assert.Equal(t, q.Seq+1, a.Seq)
		assert.False(t, asked[q.Content], "question persisted twice: %s", q.Content)
		asked[q.Content] = true
	}
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, msgs[i].Seq, msgs[i-1].Seq)
	}
}

func TestBuildContextTruncatesAfterJoin(t *testing.T) {
	chunk := strings.Repeat("a", 10000)
	hits := []model.SearchHit{
		{Payload: model.ChunkPayload{Text: chunk}},
		{Payload: model.ChunkPayload{Text: chunk}},
		{Payload: model.ChunkPayload{Text: chunk}},
	}
	got := BuildContext(hits, 18000)
	assert.Len(t, []rune(got), 18000)
	assert.Equal(t, chunk+ContextSeparator, got[:10000+len(ContextSeparator)])

	assert.Equal(t, "x"+ContextSeparator+"y", BuildContext([]model.SearchHit{
		{Payload: model.ChunkPayload{Text: "x"}}, {Payload: model.ChunkPayload{Text: "y"}},
	}, 18000))
}

func TestSourcesAndPages(t *testing.T) {
	hits := []model.SearchHit{
		{Score: 0.876, Payload: model.ChunkPayload{DocumentID: "d", Page: 3, Text: strings.Repeat("b", 150)}},
		{Score: 0.5, Payload: model.ChunkPayload{DocumentID: "d", Page: 1, Text: "short"}},
		{Score: 0.4, Payload: model.ChunkPayload{DocumentID: "d", Page: 3, Text: "again"}},
	}

	assert.Equal(t, []int{1, 3}, Pages(hits))

	sources := Sources(hits, 2, 100)
	require.Len(t, sources, 2)
	assert.Equal(t, 88, sources[0].Score)
	assert.Equal(t, strings.Repeat("b", 100)+"...", sources[0].Preview)
	assert.Equal(t, model.Source{Page: 1, DocumentID: "d", Score: 50, Preview: "short..."}, sources[1])
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]model.Message{
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
	})
	assert.Equal(t, "USER: hi\nASSISTANT: hello", got)
}

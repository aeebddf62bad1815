package service

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/llm"
	"pdf-tutor-go/pkg/tasks"
)

const testDims = 16

// bagOfWords 把每个词哈希到固定维度上计数。
type bagOfWords struct{}

func (bagOfWords) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, testDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		v[h.Sum32()%testDims]++
	}
	return v, nil
}

func (b bagOfWords) CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = b.CreateEmbedding(ctx, t)
	}
	return out, nil
}

// fakeLLM 记录收到的 prompt，默认回答 "answer to <question>"。
type fakeLLM struct {
	mu      sync.Mutex
	prompts []string
	answer  string
	err     error
}

func (f *fakeLLM) Complete(_ context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prompt := messages[len(messages)-1].Content
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if f.answer != "" {
		return f.answer, nil
	}
	return "answer to " + questionOf(prompt), nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func questionOf(prompt string) string {
	const marker = "User question:\n"
	i := strings.Index(prompt, marker)
	if i < 0 {
		return ""
	}
	rest := prompt[i+len(marker):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// memoryChatRepo 是进程内的 ChatRepository。
type memoryChatRepo struct {
	mu        sync.Mutex
	sessions  map[string]model.ChatSession
	messages  map[string][]model.Message
	appendErr error
}

func newMemoryChatRepo(sessions ...model.ChatSession) *memoryChatRepo {
	r := &memoryChatRepo{sessions: map[string]model.ChatSession{}, messages: map[string][]model.Message{}}
	for _, s := range sessions {
		r.sessions[s.ID] = s
	}
	return r
}

func (r *memoryChatRepo) CreateSession(_ context.Context, s *model.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = *s
	return nil
}

func (r *memoryChatRepo) GetSession(_ context.Context, ownerID, chatID string) (*model.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok || s.OwnerID != ownerID {
		return nil, apperr.NotFound("chat", chatID)
	}
	return &s, nil
}

func (r *memoryChatRepo) ListSessions(_ context.Context, ownerID string) ([]model.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ChatSession
	for _, s := range r.sessions {
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryChatRepo) RenameSession(_ context.Context, ownerID, chatID, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	if !ok || s.OwnerID != ownerID {
		return apperr.NotFound("chat", chatID)
	}
	s.Title = title
	r.sessions[chatID] = s
	return nil
}

func (r *memoryChatRepo) AppendPair(_ context.Context, chatID, question, answer string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return r.appendErr
	}
	if _, ok := r.sessions[chatID]; !ok {
		return apperr.NotFound("chat", chatID)
	}
	// 与 MySQL 实现一致：持锁分配会话内连续的两个 seq
	var seq int64
	if msgs := r.messages[chatID]; len(msgs) > 0 {
		seq = msgs[len(msgs)-1].Seq
	}
	r.messages[chatID] = append(r.messages[chatID],
		model.Message{ChatID: chatID, Seq: seq + 1, Role: model.RoleUser, Content: question, CreatedAt: at},
		model.Message{ChatID: chatID, Seq: seq + 2, Role: model.RoleAssistant, Content: answer, CreatedAt: at.Add(time.Microsecond)},
	)
	return nil
}

func (r *memoryChatRepo) RecentMessages(_ context.Context, chatID string, n int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.messages[chatID]
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return append([]model.Message(nil), msgs...), nil
}

func (r *memoryChatRepo) ListMessages(_ context.Context, chatID string) ([]model.Message, error) {
	return r.RecentMessages(context.Background(), chatID, 0)
}

// memoryDocRepo 是进程内的 DocumentRepository。
type memoryDocRepo struct {
	mu       sync.Mutex
	docs     map[string]model.Document
	chats    *memoryChatRepo
	createEr error
}

func newMemoryDocRepo(chats *memoryChatRepo, docs ...model.Document) *memoryDocRepo {
	r := &memoryDocRepo{docs: map[string]model.Document{}, chats: chats}
	for _, d := range docs {
		r.docs[d.ID] = d
	}
	return r
}

func (r *memoryDocRepo) CreateWithSession(ctx context.Context, doc *model.Document, session *model.ChatSession) error {
	r.mu.Lock()
	if r.createEr != nil {
		r.mu.Unlock()
		return r.createEr
	}
	r.docs[doc.ID] = *doc
	r.mu.Unlock()
	if r.chats != nil {
		return r.chats.CreateSession(ctx, session)
	}
	return nil
}

func (r *memoryDocRepo) GetByOwner(_ context.Context, ownerID, documentID string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[documentID]
	if !ok || d.OwnerID != ownerID {
		return nil, apperr.NotFound("document", documentID)
	}
	return &d, nil
}

func (r *memoryDocRepo) UpdateStatus(_ context.Context, documentID string, status model.DocumentStatus, chunkCount int, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[documentID]
	if !ok {
		return apperr.NotFound("document", documentID)
	}
	d.Status, d.ChunkCount, d.Error = status, chunkCount, errMsg
	r.docs[documentID] = d
	return nil
}

// memoryObjects 同时实现 Put、Get 与 PresignedURL。
type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{objects: map[string][]byte{}}
}

func (m *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryObjects) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

func (m *memoryObjects) PresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.test/" + key + "?expires=" + expiry.String(), nil
}

type recordingProducer struct {
	jobs []tasks.Job
	err  error
}

func (p *recordingProducer) ProduceJob(_ context.Context, job tasks.Job) error {
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, job)
	return nil
}

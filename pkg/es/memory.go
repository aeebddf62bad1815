package es

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/pkg/apperr"
)

// MemoryIndex 是进程内的 Index 实现，未配置 Elasticsearch 时用于本地运行。
// 打分方式与 Elasticsearch 的 cosine 相同：(1 + cos) / 2。
type MemoryIndex struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dims   int
	metric string
	points map[string]model.VectorPoint
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{collections: make(map[string]*memoryCollection)}
}

func (m *MemoryIndex) EnsureCollection(_ context.Context, name string, dims int, metric string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.collections[name]; ok {
		if c.dims != dims || c.metric != metric {
			return apperr.Conflict("es.EnsureCollection", fmt.Sprintf("collection %s has dims=%d metric=%s, want dims=%d metric=%s",
				name, c.dims, c.metric, dims, metric))
		}
		return nil
	}
	m.collections[name] = &memoryCollection{dims: dims, metric: metric, points: make(map[string]model.VectorPoint)}
	return nil
}

func (m *MemoryIndex) Upsert(_ context.Context, name string, points []model.VectorPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return apperr.NotFound("collection", name)
	}
	for _, p := range points {
		if len(p.Vector) != c.dims {
			return apperr.Transient("es.Upsert", fmt.Errorf("point %s has %d dims, collection has %d", p.ID, len(p.Vector), c.dims))
		}
	}
	for _, p := range points {
		c.points[p.ID] = p
	}
	return nil
}

// Count 返回集合中的点数量。
func (m *MemoryIndex) Count(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[name]; ok {
		return len(c.points)
	}
	return 0
}

// Points 返回集合中全部点，按 ChunkIndex 排序。
func (m *MemoryIndex) Points(name string) []model.VectorPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil
	}
	out := make([]model.VectorPoint, 0, len(c.points))
	for _, p := range c.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Payload.DocumentID != out[j].Payload.DocumentID {
			return out[i].Payload.DocumentID < out[j].Payload.DocumentID
		}
		return out[i].Payload.ChunkIndex < out[j].Payload.ChunkIndex
	})
	return out
}

func (m *MemoryIndex) Search(_ context.Context, name string, vector []float32, limit int, filter map[string]string) ([]model.SearchHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok || limit <= 0 {
		return nil, nil
	}
	var hits []model.SearchHit
	for _, p := range c.points {
		if !matches(p.Payload, filter) {
			continue
		}
		hits = append(hits, model.SearchHit{ID: p.ID, Score: (1 + cosine(vector, p.Vector)) / 2, Payload: p.Payload})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func matches(p model.ChunkPayload, filter map[string]string) bool {
	for k, v := range filter {
		switch k {
		case "document_id":
			if p.DocumentID != v {
				return false
			}
		case "owner_id":
			if p.OwnerID != v {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

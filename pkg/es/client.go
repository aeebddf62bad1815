// Package es 提供了基于 Elasticsearch dense_vector 的向量库客户端。
// 每个用户对应一个索引（集合），文档分块以向量 + payload 的形式写入。
package es

import (
	"bytes"
	"context"
	"crypto/sha1"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// MetricCosine 是目前唯一支持的相似度度量。
const MetricCosine = "cosine"

// Index 是向量库的抽象，入库流水线与检索都依赖它。
type Index interface {
	EnsureCollection(ctx context.Context, name string, dims int, metric string) error
	Upsert(ctx context.Context, name string, points []model.VectorPoint) error
	Search(ctx context.Context, name string, vector []float32, limit int, filter map[string]string) ([]model.SearchHit, error)
}

// Client 封装了 go-elasticsearch 客户端。
type Client struct {
	es      *elasticsearch.Client
	timeout time.Duration
}

// NewClient 初始化 Elasticsearch 客户端
func NewClient(esCfg config.ElasticsearchConfig) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{es: client, timeout: esCfg.Timeout}, nil
}

// CollectionName 由前缀与用户 ID 推导索引名。
// 索引名只允许小写字母、数字、下划线和连字符，因此对用户 ID 做清洗，
// 并追加原始 ID 的短哈希以避免清洗后的冲突。
func CollectionName(prefix, ownerID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ownerID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	sum := sha1.Sum([]byte(ownerID))
	safe := b.String()
	if len(safe) > 64 {
		safe = safe[:64]
	}
	return fmt.Sprintf("%s_%s_%s", strings.ToLower(prefix), safe, hex.EncodeToString(sum[:4]))
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

type vectorField struct {
	Type       string `json:"type"`
	Dims       int    `json:"dims"`
	Index      bool   `json:"index"`
	Similarity string `json:"similarity"`
}

type mappingResponse map[string]struct {
	Mappings struct {
		Properties struct {
			Vector *vectorField `json:"vector"`
		} `json:"properties"`
	} `json:"mappings"`
}

func collectionMapping(dims int, metric string) string {
	return fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"document_id": { "type": "keyword" },
				"owner_id": { "type": "keyword" },
				"text": { "type": "text" },
				"page": { "type": "integer" },
				"chunk_index": { "type": "integer" },
				"created_at": { "type": "date" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": %q
				}
			}
		}
	}`, dims, metric)
}

// EnsureCollection 保证索引存在且向量维度、相似度与参数一致。重复调用是幂等的。
func (c *Client) EnsureCollection(ctx context.Context, name string, dims int, metric string) error {
	const op = "es.EnsureCollection"
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	exists, err := c.checkMapping(ctx, name, dims, metric)
	if err != nil || exists {
		return err
	}

	res, err := c.es.Indices.Create(
		name,
		c.es.Indices.Create.WithBody(strings.NewReader(collectionMapping(dims, metric))),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", name, err)
		return apperr.Transient(op, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		// 并发创建时另一方已建好索引，重新校验其参数。
		if strings.Contains(string(body), "resource_already_exists_exception") {
			_, err := c.checkMapping(ctx, name, dims, metric)
			return err
		}
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", name, string(body))
		return apperr.Transient(op, fmt.Errorf("create index: %s", res.Status()))
	}

	log.Infof("索引 '%s' 创建成功, dims: %d, metric: %s", name, dims, metric)
	return nil
}

// checkMapping 返回索引是否存在；存在但参数不兼容时返回 Conflict 错误。
func (c *Client) checkMapping(ctx context.Context, name string, dims int, metric string) (bool, error) {
	const op = "es.EnsureCollection"
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithIndex(name),
		c.es.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return false, apperr.Transient(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if res.IsError() {
		return false, apperr.Transient(op, fmt.Errorf("get mapping: %s", res.Status()))
	}

	var mapping mappingResponse
	if err := json.NewDecoder(res.Body).Decode(&mapping); err != nil {
		return false, apperr.Transient(op, fmt.Errorf("decode mapping: %w", err))
	}
	for _, idx := range mapping {
		v := idx.Mappings.Properties.Vector
		if v == nil {
			return true, apperr.Conflict(op, fmt.Sprintf("index %s has no vector field", name))
		}
		if v.Dims != dims || !strings.EqualFold(v.Similarity, metric) {
			return true, apperr.Conflict(op, fmt.Sprintf("index %s has dims=%d similarity=%s, want dims=%d similarity=%s",
				name, v.Dims, v.Similarity, dims, metric))
		}
	}
	return true, nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string          `json:"_id"`
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

type storedDocument struct {
	model.ChunkPayload
	Vector []float32 `json:"vector"`
}

// Upsert 使用 _bulk 批量写入，相同 ID 的点会被覆盖。
func (c *Client) Upsert(ctx context.Context, name string, points []model.VectorPoint) error {
	const op = "es.Upsert"
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		meta := map[string]map[string]string{"index": {"_id": p.ID}}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("encode bulk meta: %w", err)
		}
		if err := enc.Encode(storedDocument{ChunkPayload: p.Payload, Vector: p.Vector}); err != nil {
			return fmt.Errorf("encode bulk doc: %w", err)
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithIndex(name),
		c.es.Bulk.WithRefresh("wait_for"),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return apperr.Transient(op, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return apperr.Transient(op, fmt.Errorf("bulk request: %s", res.Status()))
	}
	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return apperr.Transient(op, fmt.Errorf("decode bulk response: %w", err))
	}
	if br.Errors {
		failed := 0
		var first string
		for _, item := range br.Items {
			for _, r := range item {
				if r.Status >= 300 {
					failed++
					if first == "" {
						first = string(r.Error)
					}
				}
			}
		}
		return apperr.Transient(op, fmt.Errorf("%d of %d points rejected: %s", failed, len(points), first))
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string             `json:"_id"`
			Score  float64            `json:"_score"`
			Source model.ChunkPayload `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 执行 kNN 检索。filter 中的每个键值对都会作为 term 过滤条件。
// 索引不存在时返回空结果。
func (c *Client) Search(ctx context.Context, name string, vector []float32, limit int, filter map[string]string) ([]model.SearchHit, error) {
	const op = "es.Search"
	if limit <= 0 {
		return nil, nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	numCandidates := limit * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              limit,
		"num_candidates": numCandidates,
	}
	if len(filter) > 0 {
		terms := make([]map[string]interface{}, 0, len(filter))
		for k, v := range filter {
			terms = append(terms, map[string]interface{}{"term": map[string]string{k: v}})
		}
		knn["filter"] = terms
	}
	body := map[string]interface{}{
		"knn":     knn,
		"size":    limit,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode search body: %w", err)
	}

	req := esapi.SearchRequest{
		Index: []string{name},
		Body:  &buf,
	}
	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, apperr.Transient(op, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		log.Warnf("[ES] 索引 '%s' 不存在, 返回空结果", name)
		return nil, nil
	}
	if res.IsError() {
		return nil, apperr.Transient(op, fmt.Errorf("search: %s", res.String()))
	}

	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, apperr.Transient(op, fmt.Errorf("decode search response: %w", err))
	}
	hits := make([]model.SearchHit, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		hits = append(hits, model.SearchHit{ID: h.ID, Score: h.Score, Payload: h.Source})
	}
	return hits, nil
}

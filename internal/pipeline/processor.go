// Package pipeline 定义了 PDF 入库的核心流程：提取、切块、建集合、批量向量化写入。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/model"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/apperr"
	"pdf-tutor-go/pkg/embedding"
	"pdf-tutor-go/pkg/es"
	"pdf-tutor-go/pkg/log"
	"pdf-tutor-go/pkg/pdfextract"
	"pdf-tutor-go/pkg/tasks"

	"github.com/google/uuid"
)

// Stage 是入库任务所处的阶段。
type Stage string

const (
	StageReceived           Stage = "RECEIVED"
	StageExtracting         Stage = "EXTRACTING"
	StageChunking           Stage = "CHUNKING"
	StageCollectionReady    Stage = "COLLECTION_READY"
	StageEmbeddingUpserting Stage = "EMBEDDING_UPSERTING"
	StageDone               Stage = "DONE"
	StageFailed             Stage = "FAILED"
)

// JobError 描述任务在哪个阶段、哪个批次失败。非批次阶段的 Batch 为 -1。
type JobError struct {
	At       Stage
	Batch    int
	Attempts int
	Err      error
}

func (e *JobError) Error() string {
	if e.Batch >= 0 {
		return fmt.Sprintf("%s batch %d failed after %d attempts: %v", e.At, e.Batch, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.At, e.Err)
}

func (e *JobError) Unwrap() error   { return e.Err }
func (e *JobError) Stage() string   { return string(e.At) }
func (e *JobError) BatchIndex() int { return e.Batch }

// pointNamespace 用于从 documentId 与 chunkIndex 推导稳定的点 ID，重复入库会覆盖而不是追加。
var pointNamespace = uuid.MustParse("6f1c7c2e-8a3b-4d0e-9a51-3f2b7e4c9d10")

// PointID 返回某个分块在向量库中的 ID。
func PointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(pointNamespace, []byte(fmt.Sprintf("%s:%d", documentID, chunkIndex))).String()
}

type objectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Processor 封装了文件处理的所有依赖和逻辑。
type Processor struct {
	extractor   pdfextract.Extractor
	embedder    embedding.Client
	index       es.Index
	objects     objectGetter
	docRepo     repository.DocumentRepository
	chunker     Chunker
	ingestCfg   config.IngestionConfig
	indexPrefix string
	dims        int
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。objects 或 docRepo 可以为 nil。
func NewProcessor(
	extractor pdfextract.Extractor,
	embedder embedding.Client,
	index es.Index,
	objects objectGetter,
	docRepo repository.DocumentRepository,
	ingestCfg config.IngestionConfig,
	esCfg config.ElasticsearchConfig,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		extractor:   extractor,
		embedder:    embedder,
		index:       index,
		objects:     objects,
		docRepo:     docRepo,
		chunker:     Chunker{Size: ingestCfg.ChunkSize, MinLength: ingestCfg.MinChunkLength},
		ingestCfg:   ingestCfg,
		indexPrefix: esCfg.IndexPrefix,
		dims:        embeddingCfg.Dimensions,
		sleep:       sleepContext,
		now:         time.Now,
	}
}

// SetSleeper 替换等待函数，测试中用来跳过退避与限流的真实等待。
func (p *Processor) SetSleeper(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Process 是文件处理的主函数。任一阶段失败都会返回 *JobError，并把文档标记为 failed。
// 已写入的批次不会回滚。
func (p *Processor) Process(ctx context.Context, job tasks.Job) error {
	log.Infof("[Processor] 开始处理文件, documentId: %s, fileName: %s, ownerId: %s", job.DocumentID, job.FileName, job.OwnerID)
	p.setStatus(ctx, job.DocumentID, model.StatusProcessing, 0, "")

	count, err := p.run(ctx, job)
	if err != nil {
		log.Errorf("[Processor] 文件处理失败, documentId: %s, error: %v", job.DocumentID, err)
		p.setStatus(ctx, job.DocumentID, model.StatusFailed, count, err.Error())
		return err
	}

	p.setStatus(ctx, job.DocumentID, model.StatusDone, count, "")
	log.Infof("[Processor] 文件处理成功完成, documentId: %s, chunks: %d", job.DocumentID, count)
	return nil
}

func (p *Processor) run(ctx context.Context, job tasks.Job) (int, error) {
	if job.DocumentID == "" || job.OwnerID == "" {
		return 0, &JobError{At: StageReceived, Batch: -1, Err: apperr.Validation("documentId and ownerId are required")}
	}

	// 1. 读取文件内容
	log.Infof("[Processor] 步骤1: 读取文件, storageKey: %s, inline: %d 字节", job.StorageKey, len(job.Inline))
	data, err := p.load(ctx, job)
	if err != nil {
		return 0, &JobError{At: StageExtracting, Batch: -1, Err: err}
	}

	// 2. 按页提取文本
	pages, err := p.extractor.ExtractPages(ctx, data, job.FileName)
	if err != nil {
		return 0, &JobError{At: StageExtracting, Batch: -1, Err: err}
	}
	if !pdfextract.HasText(pages) {
		return 0, &JobError{At: StageExtracting, Batch: -1, Err: apperr.EmptyDocument(job.DocumentID)}
	}
	log.Infof("[Processor] 步骤2: 文本提取成功, 共 %d 页", len(pages))

	// 3. 切块
	chunks := p.chunker.Split(pages)
	if len(chunks) == 0 {
		return 0, &JobError{At: StageChunking, Batch: -1, Err: apperr.EmptyDocument(job.DocumentID)}
	}
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))

	// 4. 确保用户集合存在
	collection := es.CollectionName(p.indexPrefix, job.OwnerID)
	if err := p.index.EnsureCollection(ctx, collection, p.dims, es.MetricCosine); err != nil {
		return 0, &JobError{At: StageCollectionReady, Batch: -1, Err: err}
	}
	log.Infof("[Processor] 步骤4: 集合 '%s' 已就绪", collection)

	// 5. 按批次向量化并写入
	return p.writeBatches(ctx, job, collection, chunks)
}

func (p *Processor) load(ctx context.Context, job tasks.Job) ([]byte, error) {
	if len(job.Inline) > 0 {
		return job.Inline, nil
	}
	if job.StorageKey == "" || p.objects == nil {
		return nil, apperr.Validation("job has neither inline bytes nor a storage key")
	}
	data, err := p.objects.Get(ctx, job.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("从对象存储下载文件失败: %w", err)
	}
	if len(data) == 0 {
		return nil, apperr.EmptyDocument(job.DocumentID)
	}
	return data, nil
}

func (p *Processor) writeBatches(ctx context.Context, job tasks.Job, collection string, chunks []model.Chunk) (int, error) {
	size := p.ingestCfg.BatchSize
	if size <= 0 {
		size = len(chunks)
	}
	total := (len(chunks) + size - 1) / size
	written := 0

	for b := 0; b < total; b++ {
		start := b * size
		end := start + size
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		attempts, err := p.writeBatchWithRetry(ctx, job, collection, batch, b, total)
		if err != nil {
			return written, &JobError{At: StageEmbeddingUpserting, Batch: b, Attempts: attempts, Err: err}
		}
		written += len(batch)
		log.Infof("[Processor] 批次 %d/%d 写入成功", b+1, total)

		if b < total-1 {
			if err := p.sleep(ctx, p.ingestCfg.BatchPause); err != nil {
				return written, &JobError{At: StageEmbeddingUpserting, Batch: b + 1, Err: err}
			}
		}
	}
	return written, nil
}

// writeBatchWithRetry 最多尝试 MaxAttempts 次，第 n 次失败后等待 n × BackoffBase。
func (p *Processor) writeBatchWithRetry(ctx context.Context, job tasks.Job, collection string, batch []model.Chunk, index, total int) (int, error) {
	maxAttempts := p.ingestCfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.writeBatch(ctx, job, collection, batch)
		if lastErr == nil {
			return attempt, nil
		}
		log.Warnf("[Processor] 批次 %d/%d 失败 (attempt %d/%d): %v", index+1, total, attempt, maxAttempts, lastErr)
		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, time.Duration(attempt)*p.ingestCfg.BackoffBase); err != nil {
			return attempt, errors.Join(lastErr, err)
		}
	}
	return maxAttempts, lastErr
}

// writeBatch 串行向量化批次内的每个分块，然后一次性写入。
func (p *Processor) writeBatch(ctx context.Context, job tasks.Job, collection string, batch []model.Chunk) error {
	createdAt := p.now().UTC().Format(time.RFC3339Nano)
	points := make([]model.VectorPoint, 0, len(batch))
	for _, ch := range batch {
		vector, err := p.embedder.CreateEmbedding(ctx, ch.Text)
		if err != nil {
			return err
		}
		if p.dims > 0 && len(vector) != p.dims {
			return apperr.Transient("pipeline.writeBatch", fmt.Errorf("chunk %d: embedding dimension %d, want %d", ch.ChunkIndex, len(vector), p.dims))
		}
		points = append(points, model.VectorPoint{
			ID:     PointID(job.DocumentID, ch.ChunkIndex),
			Vector: vector,
			Payload: model.ChunkPayload{
				DocumentID: job.DocumentID,
				OwnerID:    job.OwnerID,
				Text:       ch.Text,
				Page:       ch.Page,
				ChunkIndex: ch.ChunkIndex,
				CreatedAt:  createdAt,
			},
		})
	}
	return p.index.Upsert(ctx, collection, points)
}

func (p *Processor) setStatus(ctx context.Context, documentID string, status model.DocumentStatus, chunkCount int, errMsg string) {
	if p.docRepo == nil || documentID == "" {
		return
	}
	if err := p.docRepo.UpdateStatus(ctx, documentID, status, chunkCount, errMsg); err != nil {
		log.Warnf("[Processor] 更新文档状态失败, documentId: %s, status: %s, error: %v", documentID, status, err)
	}
}

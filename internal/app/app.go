// Package app 组装 API 进程与 worker 进程共用的组件。
package app

import (
	"context"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/pipeline"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/embedding"
	"pdf-tutor-go/pkg/es"
	"pdf-tutor-go/pkg/kafka"
	"pdf-tutor-go/pkg/log"
	"pdf-tutor-go/pkg/pdfextract"
	"pdf-tutor-go/pkg/storage"
	"pdf-tutor-go/pkg/tika"
)

// OpenIndex 连接 Elasticsearch。未配置地址时退回进程内索引，此时只有内嵌 worker 写入的数据可被检索。
func OpenIndex(cfg config.ElasticsearchConfig) (es.Index, error) {
	if cfg.Addresses == "" {
		log.Warnf("未配置 elasticsearch.addresses, 使用进程内向量索引")
		return es.NewMemoryIndex(), nil
	}
	client, err := es.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	log.Infof("Elasticsearch 客户端初始化成功, addresses: %s", cfg.Addresses)
	return client, nil
}

// NewExtractor 返回 PDF 文本提取器，配置了 Tika 时以它作为兜底。
func NewExtractor(cfg config.TikaConfig) pdfextract.Extractor {
	if cfg.ServerURL == "" {
		return pdfextract.Native{}
	}
	return pdfextract.Fallback{Primary: pdfextract.Native{}, Secondary: tika.NewClient(cfg)}
}

// NewProcessor 按配置创建入库处理器。
func NewProcessor(cfg config.Config, index es.Index, objects storage.ObjectStore, docRepo repository.DocumentRepository) *pipeline.Processor {
	return pipeline.NewProcessor(
		NewExtractor(cfg.Tika),
		embedding.NewClient(cfg.Embedding),
		index,
		objects,
		docRepo,
		cfg.Ingestion,
		cfg.Elasticsearch,
		cfg.Embedding,
	)
}

// RunWorker 启动 Kafka 消费循环，直到 ctx 被取消。失败的任务写入失败 topic。
func RunWorker(ctx context.Context, cfg config.KafkaConfig, processor kafka.TaskProcessor, failures kafka.FailureReporter) error {
	log.Infof("入库 worker 启动, topic: %s, group: %s", cfg.Topic, cfg.GroupID)
	return kafka.NewConsumer(cfg, processor, failures).Run(ctx)
}

// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/pkg/log"
	"pdf-tutor-go/pkg/tasks"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, job tasks.Job) error
}

// stagedError 由流水线错误实现，用于填充失败记录。
type stagedError interface {
	Stage() string
	BatchIndex() int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func brokerList(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Producer 负责投递入库任务与失败记录。
type Producer struct {
	jobs   messageWriter
	failed messageWriter
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	addr := kafka.TCP(brokerList(cfg.Brokers)...)
	p := &Producer{
		jobs: &kafka.Writer{
			Addr:                   addr,
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		failed: &kafka.Writer{
			Addr:                   addr,
			Topic:                  cfg.FailedTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// ProduceJob 发送一个入库任务到 Kafka，以 documentId 作为消息 key。
func (p *Producer) ProduceJob(ctx context.Context, job tasks.Job) error {
	if job.Name == "" {
		job.Name = tasks.JobName
	}
	value, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.jobs.WriteMessages(ctx, kafka.Message{Key: []byte(job.DocumentID), Value: value})
}

// ReportFailure 将失败记录写入失败主题。
func (p *Producer) ReportFailure(ctx context.Context, f tasks.Failure) error {
	value, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return p.failed.WriteMessages(ctx, kafka.Message{Key: []byte(f.DocumentID), Value: value})
}

// Close 关闭底层 writer。
func (p *Producer) Close() error {
	return errors.Join(p.jobs.Close(), p.failed.Close())
}

// FailureReporter 接收最终失败的任务。
type FailureReporter interface {
	ReportFailure(ctx context.Context, f tasks.Failure) error
}

// Consumer 顺序消费入库任务，同一时间只处理一个任务。
type Consumer struct {
	reader    messageReader
	processor TaskProcessor
	failures  FailureReporter
}

// NewConsumer 创建一个消费者组成员。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, failures FailureReporter) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokerList(cfg.Brokers),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: r, processor: processor, failures: failures}
}

// Run 启动消费循环，直到 ctx 被取消。
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Kafka 消费者已启动")
	defer func() {
		if err := c.reader.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者退出")
				return nil
			}
			log.Error("从 Kafka 读取消息失败", err)
			return err
		}
		c.handle(ctx, m)
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	log.Infof("收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)

	var job tasks.Job
	if err := json.Unmarshal(m.Value, &job); err != nil {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, m)
		return
	}
	if job.Name != "" && job.Name != tasks.JobName {
		log.Warnf("忽略未知任务: %s", job.Name)
		c.commit(ctx, m)
		return
	}

	log.Infof("开始处理入库任务: documentId=%s, fileName=%s", job.DocumentID, job.FileName)
	if err := c.processor.Process(ctx, job); err != nil {
		log.Errorf("处理入库任务失败: documentId=%s, error: %v", job.DocumentID, err)
		failure := tasks.Failure{
			DocumentID: job.DocumentID,
			OwnerID:    job.OwnerID,
			Error:      err.Error(),
			BatchIndex: -1,
		}
		var se stagedError
		if errors.As(err, &se) {
			failure.Stage = se.Stage()
			failure.BatchIndex = se.BatchIndex()
		}
		if c.failures != nil {
			if rerr := c.failures.ReportFailure(ctx, failure); rerr != nil {
				log.Errorf("写入失败主题失败: %v", rerr)
			}
		}
	} else {
		log.Infof("入库任务处理成功: documentId=%s", job.DocumentID)
	}
	// 任务只执行一次，无论成功与否都提交 offset
	c.commit(ctx, m)
}

func (c *Consumer) commit(ctx context.Context, m kafka.Message) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

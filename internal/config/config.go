// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Ingestion     IngestionConfig     `mapstructure:"ingestion"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Upload        UploadConfig        `mapstructure:"upload"`
	Worker        WorkerConfig        `mapstructure:"worker"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// JWTConfig 存储身份提供方签发 token 的校验密钥。
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers     string `mapstructure:"brokers"`
	Topic       string `mapstructure:"topic"`
	FailedTopic string `mapstructure:"failed_topic"`
	GroupID     string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置，ServerURL 为空时不启用 Tika 兜底解析。
type TikaConfig struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ElasticsearchConfig 存储向量库（Elasticsearch dense_vector）的配置。
type ElasticsearchConfig struct {
	Addresses   string        `mapstructure:"addresses"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	IndexPrefix string        `mapstructure:"index_prefix"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Timeout    time.Duration       `mapstructure:"timeout"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
}

// LLMGenerationConfig 配置生成相关参数。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// IngestionConfig 配置切块、批量写入、重试与限流。
type IngestionConfig struct {
	ChunkSize      int           `mapstructure:"chunk_size"`
	MinChunkLength int           `mapstructure:"min_chunk_length"`
	BatchSize      int           `mapstructure:"batch_size"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BatchPause     time.Duration `mapstructure:"batch_pause"`
	InlineMaxBytes int64         `mapstructure:"inline_max_bytes"`
}

// RetrievalConfig 配置检索与 prompt 组装。
type RetrievalConfig struct {
	TopK            int    `mapstructure:"top_k"`
	HistoryWindow   int    `mapstructure:"history_window"`
	MaxContextChars int    `mapstructure:"max_context_chars"`
	MaxSources      int    `mapstructure:"max_sources"`
	PreviewChars    int    `mapstructure:"preview_chars"`
	NoContentText   string `mapstructure:"no_content_text"`
}

// UploadConfig 配置上传限制与签名链接有效期。
type UploadConfig struct {
	MaxBytes     int64         `mapstructure:"max_bytes"`
	SignedURLTTL time.Duration `mapstructure:"signed_url_ttl"`
}

// WorkerConfig 控制是否在 API 进程内同时运行入库 worker。
type WorkerConfig struct {
	Embedded bool `mapstructure:"embedded"`
}

// RateLimitConfig 限制每个用户调用大模型相关接口的频率，PerMinute 为 0 时不限流。
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

// setDefaults 注册默认值，使最小配置文件也能启动。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.redis.history_ttl", "1h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "process-pdf")
	v.SetDefault("kafka.failed_topic", "process-pdf.failed")
	v.SetDefault("kafka.group_id", "pdf-tutor-worker")
	v.SetDefault("tika.timeout", "60s")
	v.SetDefault("elasticsearch.index_prefix", "pdfs")
	v.SetDefault("elasticsearch.timeout", "60s")
	v.SetDefault("minio.bucket_name", "pdfs")
	v.SetDefault("embedding.base_url", "http://127.0.0.1:11434/v1")
	v.SetDefault("embedding.model", "all-minilm")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.timeout", "30s")
	v.SetDefault("llm.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.model", "llama-3.1-8b-instant")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.generation.temperature", 0.3)
	v.SetDefault("llm.generation.top_p", 0.9)
	v.SetDefault("llm.generation.max_tokens", 2048)
	v.SetDefault("ingestion.chunk_size", 800)
	v.SetDefault("ingestion.min_chunk_length", 50)
	v.SetDefault("ingestion.batch_size", 15)
	v.SetDefault("ingestion.max_attempts", 3)
	v.SetDefault("ingestion.backoff_base", "1s")
	v.SetDefault("ingestion.batch_pause", "400ms")
	v.SetDefault("ingestion.inline_max_bytes", 512*1024)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.history_window", 8)
	v.SetDefault("retrieval.max_context_chars", 18000)
	v.SetDefault("retrieval.max_sources", 5)
	v.SetDefault("retrieval.preview_chars", 100)
	v.SetDefault("retrieval.no_content_text", "No relevant content found in document.")
	v.SetDefault("upload.max_bytes", 200*1024*1024)
	v.SetDefault("upload.signed_url_ttl", "1h")
	v.SetDefault("rate_limit.per_minute", 20)
	v.SetDefault("rate_limit.burst", 5)
}

// Load 从指定路径读取 YAML 文件，环境变量（PDFTUTOR_ 前缀）可覆盖任意键。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PDFTUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate 拒绝会让大模型退回到服务端默认值的生成参数。
func (c Config) validate() error {
	gen := c.LLM.Generation
	if gen.MaxTokens <= 0 {
		return fmt.Errorf("llm.generation.max_tokens 必须大于 0, 当前为 %d", gen.MaxTokens)
	}
	if gen.Temperature < 0 || gen.Temperature > 2 {
		return fmt.Errorf("llm.generation.temperature 必须在 [0, 2] 之间, 当前为 %v", gen.Temperature)
	}
	return nil
}

// Init 初始化全局配置 Conf，失败时 panic。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Package main 是独立入库 worker 的入口点。
// 每个进程一次只处理一个任务，扩容时在同一个消费者组内启动更多进程。
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"pdf-tutor-go/internal/app"
	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/pkg/database"
	"pdf-tutor-go/pkg/kafka"
	"pdf-tutor-go/pkg/log"
	"pdf-tutor-go/pkg/storage"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume process-pdf jobs and index the documents",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() {
	config.Init(configPath)
	cfg := config.Conf
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database.InitMySQL(cfg.Database.MySQL.DSN)
	objects, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	if cfg.Elasticsearch.Addresses == "" {
		log.Fatalf("独立 worker 需要配置 elasticsearch.addresses")
	}
	index, err := app.OpenIndex(cfg.Elasticsearch)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}

	producer := kafka.NewProducer(cfg.Kafka)
	defer func() {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}()

	processor := app.NewProcessor(cfg, index, objects, repository.NewDocumentRepository(database.DB))
	if err := app.RunWorker(ctx, cfg.Kafka, processor, producer); err != nil {
		log.Errorf("worker 异常退出: %v", err)
	}
	log.Info("worker 已退出")
}

// Package main 是 API 服务的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"pdf-tutor-go/internal/app"
	"pdf-tutor-go/internal/config"
	"pdf-tutor-go/internal/handler"
	"pdf-tutor-go/internal/middleware"
	"pdf-tutor-go/internal/repository"
	"pdf-tutor-go/internal/service"
	"pdf-tutor-go/pkg/database"
	"pdf-tutor-go/pkg/embedding"
	"pdf-tutor-go/pkg/kafka"
	"pdf-tutor-go/pkg/llm"
	"pdf-tutor-go/pkg/log"
	"pdf-tutor-go/pkg/storage"
	"pdf-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var (
	configPath string
	seedDir    string
	seedOwner  string
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "PDF tutor HTTP API",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	rootCmd.Flags().StringVar(&seedDir, "seed-dir", "", "启动时通过上传流程导入该目录下的 PDF")
	rootCmd.Flags().StringVar(&seedOwner, "seed-owner", "", "导入文件的归属用户 ID")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() {
	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 初始化数据库、Redis、对象存储、向量索引与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if cfg.Database.Redis.Addr != "" {
		database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	}
	objects, err := storage.NewMinIO(ctx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
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

	// 4. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	chatRepo := repository.NewChatRepository(database.DB)
	if database.RDB != nil {
		chatRepo = repository.NewCachedChatRepository(chatRepo, database.RDB, cfg.Database.Redis.HistoryTTL)
	}

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer)
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)
	uploadService := service.NewUploadService(docRepo, objects, producer, cfg.Upload, cfg.Ingestion)
	chatService := service.NewChatService(embeddingClient, index, llmClient, chatRepo, cfg.Retrieval, cfg.LLM.Generation, cfg.Elasticsearch.IndexPrefix)
	sessionService := service.NewSessionService(chatRepo, docRepo)
	documentService := service.NewDocumentService(docRepo, objects, cfg.Upload.SignedURLTTL)
	studyService := service.NewStudyService(chatRepo, llmClient, cfg.LLM.Generation, cfg.Retrieval)

	// 6. 可选：在 API 进程内运行入库 worker
	if cfg.Worker.Embedded {
		processor := app.NewProcessor(cfg, index, objects, docRepo)
		go func() {
			if err := app.RunWorker(ctx, cfg.Kafka, processor, producer); err != nil {
				log.Errorf("内嵌 worker 异常退出: %v", err)
			}
		}()
	}

	// 7. 可选：导入目录中的 PDF
	if seedDir != "" {
		go seedFiles(ctx, seedDir, seedOwner, uploadService)
	}

	// 8. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	handler.RegisterRoutes(r, handler.Handlers{
		Upload:       handler.NewUploadHandler(uploadService, cfg.Upload.MaxBytes),
		Chat:         handler.NewChatHandler(chatService),
		Conversation: handler.NewConversationHandler(sessionService),
		Document:     handler.NewDocumentHandler(documentService),
		Study:        handler.NewStudyHandler(studyService),
	}, middleware.AuthMiddleware(jwtManager), middleware.NewOwnerRateLimiter(cfg.RateLimit))

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	<-ctx.Done()
	stop()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// seedFiles 扫描目录下的 PDF 并通过标准上传流程导入，单个文件失败不影响其余文件。
func seedFiles(ctx context.Context, dir, ownerID string, uploads service.UploadService) {
	if ownerID == "" {
		log.Warnf("seedFiles: 未指定 --seed-owner，跳过导入")
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("seedFiles: 目录 '%s' 不存在或不可用，跳过导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f, err := os.Open(path)
		if err != nil {
			log.Warnf("seedFiles: 打开文件失败: %s, err=%v", path, err)
			return nil
		}
		defer f.Close()

		res, err := uploads.Upload(ctx, ownerID, info.Name(), "application/pdf", f)
		if err != nil {
			log.Warnf("seedFiles: 导入失败: %s, err=%v", path, err)
			return nil
		}
		log.Infof("seedFiles: 已导入 %s, documentId: %s, chatId: %s", info.Name(), res.DocumentID, res.ChatID)
		return nil
	})
	if walkErr != nil {
		log.Warnf("seedFiles: 遍历目录发生错误: %v", walkErr)
	}
}

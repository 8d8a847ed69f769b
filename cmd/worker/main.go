package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/database"
	"github.com/qs3c/agent_review_server/internal/pkg/github"
	"github.com/qs3c/agent_review_server/internal/pkg/oss"
	"github.com/qs3c/agent_review_server/internal/pkg/pubsub"
	"github.com/qs3c/agent_review_server/internal/pkg/queue"
	"github.com/qs3c/agent_review_server/internal/repository"
	"github.com/qs3c/agent_review_server/internal/worker"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 OSS（可选）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化 Queue 和 Pub/Sub
	jobQueue := queue.NewQueue(rdb, cfg.Queue.JobQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	analysisRepo := repository.NewAnalysisRepository(db)
	fixJobRepo := repository.NewFixJobRepository(db)

	// 初始化执行组件
	runner := worker.NewRunner()
	gitClient := worker.NewGitClient(
		runner,
		cfg.Git.BotName,
		cfg.Git.BotEmail,
		time.Duration(cfg.Git.CloneTimeoutSeconds)*time.Second,
	)
	agent := worker.NewAgentRunner(runner, &cfg.Agent)
	workspaces := worker.NewWorkspaceManager(cfg.Workspace.TempDir)
	githubClient := github.NewClient()

	// 创建任务处理器
	fixer := worker.NewFixer(fixJobRepo, analysisRepo, workspaces, gitClient, agent, githubClient, publisher, cfg)
	processor := worker.NewProcessor(analysisRepo, workspaces, gitClient, agent, ossClient, publisher, fixer, cfg)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	// 本地转录补传（OSS 配置缺失或上传失败时转录先落盘，这里定期补传）
	if ossClient != nil {
		reuploader := worker.NewReuploader(analysisRepo, ossClient, cfg)
		go reuploader.Start(ctx)
	}

	log.Printf("Worker started, max workers: %d", cfg.Queue.MaxWorkers)

	// 启动 worker 循环
	for i := 0; i < cfg.Queue.MaxWorkers; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					// 从队列获取任务
					msg, err := jobQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop job: %v", workerID, err)
						continue
					}

					if msg == nil {
						continue // 超时，继续等待
					}

					switch msg.Kind {
					case queue.KindFix:
						log.Printf("Worker %d: processing fix job %s", workerID, msg.FixJobID)
						if err := fixer.Process(ctx, msg); err != nil {
							log.Printf("Worker %d: fix job %s failed: %v", workerID, msg.FixJobID, err)
						}
					default:
						log.Printf("Worker %d: processing analysis %s", workerID, msg.AnalysisID)
						if err := processor.Process(ctx, msg); err != nil {
							log.Printf("Worker %d: analysis %s failed: %v", workerID, msg.AnalysisID, err)
						}
					}
				}
			}
		}(i)
	}

	// 等待 context 取消
	<-ctx.Done()
	log.Println("Worker shutdown complete")
}

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/api"
	"github.com/qs3c/agent_review_server/internal/api/handler"
	"github.com/qs3c/agent_review_server/internal/database"
	"github.com/qs3c/agent_review_server/internal/pkg/cron"
	"github.com/qs3c/agent_review_server/internal/pkg/github"
	"github.com/qs3c/agent_review_server/internal/pkg/oauth"
	"github.com/qs3c/agent_review_server/internal/pkg/oss"
	"github.com/qs3c/agent_review_server/internal/pkg/pubsub"
	"github.com/qs3c/agent_review_server/internal/pkg/queue"
	"github.com/qs3c/agent_review_server/internal/pkg/ws"
	"github.com/qs3c/agent_review_server/internal/repository"
	"github.com/qs3c/agent_review_server/internal/service"
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

	// 初始化 OSS（可选，用于头像上传）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化 Queue
	jobQueue := queue.NewQueue(rdb, cfg.Queue.JobQueue)

	// 初始化 WebSocket Hub，并把 Redis 上的进度消息转发给所属用户
	wsHub := ws.NewHub()
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(msg *pubsub.ProgressMessage) {
			if msg.UserID == 0 {
				return // 匿名任务没有 WebSocket 接收方
			}
			if !wsHub.IsOnline(msg.UserID) {
				return
			}
			if err := wsHub.SendToUser(msg.UserID, &ws.Message{
				Type: msg.Type,
				Data: msg,
			}); err != nil {
				log.Printf("Failed to forward progress to user %d: %v", msg.UserID, err)
			}
		})
		if err != nil && err != context.Canceled {
			log.Printf("Progress subscriber stopped: %v", err)
		}
	}()
	log.Println("WebSocket hub started")

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	analysisRepo := repository.NewAnalysisRepository(db)
	fixJobRepo := repository.NewFixJobRepository(db)

	// 初始化 Service
	authService := service.NewAuthService(userRepo, cfg)
	userService := service.NewUserService(userRepo, ossClient, cfg)
	analysisService := service.NewAnalysisService(analysisRepo, jobQueue, cfg)
	fixService := service.NewFixService(fixJobRepo, analysisRepo, jobQueue, cfg)

	// 初始化 Handler
	stateStore := oauth.NewStateStore(rdb)
	authHandler := handler.NewAuthHandler(authService, stateStore)
	userHandler := handler.NewUserHandler(userService)
	analysisHandler := handler.NewAnalysisHandler(analysisService)
	streamHandler := handler.NewStreamHandler(analysisService)
	fixHandler := handler.NewFixHandler(fixService)
	githubHandler := handler.NewGithubHandler(github.NewClient())
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 启动僵尸任务巡检（服务重启后落在非终态的任务由此收敛到 failed）
	cronService := cron.NewService(
		analysisRepo,
		fixJobRepo,
		cfg.Workspace.TempDir,
		cfg.Cleanup.StaleAfterMinutes,
		cfg.Cleanup.IntervalMinutes,
	)
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		userHandler,
		analysisHandler,
		streamHandler,
		fixHandler,
		githubHandler,
		websocketHandler,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

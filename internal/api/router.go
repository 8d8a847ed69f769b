package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/api/handler"
	"github.com/qs3c/agent_review_server/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	userHandler      *handler.UserHandler
	analysisHandler  *handler.AnalysisHandler
	streamHandler    *handler.StreamHandler
	fixHandler       *handler.FixHandler
	githubHandler    *handler.GithubHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	analysisHandler *handler.AnalysisHandler,
	streamHandler *handler.StreamHandler,
	fixHandler *handler.FixHandler,
	githubHandler *handler.GithubHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		userHandler:      userHandler,
		analysisHandler:  analysisHandler,
		streamHandler:    streamHandler,
		fixHandler:       fixHandler,
		githubHandler:    githubHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
			auth.GET("/github", r.authHandler.GithubAuth)
			auth.GET("/github/callback", r.authHandler.GithubCallback)
		}

		// 分析（允许匿名）
		analyses := api.Group("/analyses")
		analyses.Use(middleware.OptionalAuth(r.cfg.JWT.Secret))
		{
			analyses.POST("", r.analysisHandler.Create)
			analyses.GET("", r.analysisHandler.List)
			analyses.GET("/:id", r.analysisHandler.Get)
			analyses.GET("/:id/progress", r.analysisHandler.GetProgress)
			analyses.GET("/:id/stream", r.streamHandler.Stream)
			analyses.DELETE("/:id", r.analysisHandler.Delete)
			analyses.POST("/:id/fix", r.fixHandler.Trigger)
			analyses.GET("/:id/fix", r.fixHandler.GetLatestForAnalysis)
		}

		// 修复任务查询
		fixJobs := api.Group("/fix-jobs")
		fixJobs.Use(middleware.OptionalAuth(r.cfg.JWT.Secret))
		{
			fixJobs.GET("/:id", r.fixHandler.Get)
		}

		// GitHub 仓库浏览代理
		api.GET("/github/repos", r.githubHandler.ListRepos)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			user := authenticated.Group("/user")
			{
				user.GET("/profile", r.userHandler.GetProfile)
				user.PUT("/profile", r.userHandler.UpdateProfile)
				user.POST("/avatar", r.userHandler.UploadAvatar)
			}
		}
	}

	return engine
}

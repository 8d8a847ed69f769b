package main

import (
	"flag"
	"log"
	"os"

	"github.com/qs3c/agent_review_server/config"
	"github.com/qs3c/agent_review_server/internal/database"
	"github.com/qs3c/agent_review_server/internal/pkg/cron"
	"github.com/qs3c/agent_review_server/internal/repository"
)

var (
	staleAfter = flag.Int("stale-after", 0, "Minutes after which a non-terminal job is marked failed (0 = config value)")
	loop       = flag.Bool("loop", false, "Keep running on the configured interval instead of a single pass")
)

func main() {
	flag.Parse()

	log.Println("🧹 Starting cleanup task...")

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *staleAfter > 0 {
		cfg.Cleanup.StaleAfterMinutes = *staleAfter
	}

	// 连接数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	analysisRepo := repository.NewAnalysisRepository(db)
	fixJobRepo := repository.NewFixJobRepository(db)

	svc := cron.NewService(
		analysisRepo,
		fixJobRepo,
		cfg.Workspace.TempDir,
		cfg.Cleanup.StaleAfterMinutes,
		cfg.Cleanup.IntervalMinutes,
	)

	if *loop {
		svc.Start()
		select {} // 常驻运行，交由进程管理器终止
	}

	swept, cleaned := svc.RunOnce()
	log.Printf("✅ Cleanup completed: stale jobs failed=%d, workspaces removed=%d", swept, cleaned)
}

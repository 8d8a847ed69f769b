package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	OSS       OSSConfig       `mapstructure:"oss"`
	Queue     QueueConfig     `mapstructure:"queue"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Git       GitConfig       `mapstructure:"git"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type OSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	BucketName      string `mapstructure:"bucket_name"`
	CDNDomain       string `mapstructure:"cdn_domain"`
}

type QueueConfig struct {
	JobQueue   string `mapstructure:"job_queue"`
	MaxWorkers int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// AgentConfig 外部编码 Agent CLI 配置
type AgentConfig struct {
	Command        string   `mapstructure:"command"`          // 例如 claude
	Args           []string `mapstructure:"args"`             // CLI 附加参数
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`  // 单次调用硬超时
	MinOutputBytes int      `mapstructure:"min_output_bytes"` // 非零退出码时判定输出有效的下限
}

type GitConfig struct {
	BotName             string `mapstructure:"bot_name"`
	BotEmail            string `mapstructure:"bot_email"`
	CloneTimeoutSeconds int    `mapstructure:"clone_timeout_seconds"`
}

type WorkspaceConfig struct {
	TempDir string `mapstructure:"temp_dir"` // 任务临时目录根，空则用系统临时目录
}

type CleanupConfig struct {
	StaleAfterMinutes int `mapstructure:"stale_after_minutes"` // 非终态任务视为卡死的阈值
	IntervalMinutes   int `mapstructure:"interval_minutes"`    // 巡检周期
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "claude"
	}
	if cfg.Agent.TimeoutSeconds <= 0 {
		cfg.Agent.TimeoutSeconds = 600
	}
	if cfg.Agent.MinOutputBytes <= 0 {
		cfg.Agent.MinOutputBytes = 200
	}
	if cfg.Git.BotName == "" {
		cfg.Git.BotName = "agent-review-bot"
	}
	if cfg.Git.BotEmail == "" {
		cfg.Git.BotEmail = "agent-review-bot@users.noreply.github.com"
	}
	if cfg.Git.CloneTimeoutSeconds <= 0 {
		cfg.Git.CloneTimeoutSeconds = 300
	}
	if cfg.Workspace.TempDir == "" {
		cfg.Workspace.TempDir = filepath.Join(os.TempDir(), "agent_review")
	}
	if cfg.Queue.JobQueue == "" {
		cfg.Queue.JobQueue = "review_jobs"
	}
	if cfg.Queue.MaxWorkers <= 0 {
		cfg.Queue.MaxWorkers = 2
	}
	if cfg.Cleanup.StaleAfterMinutes <= 0 {
		cfg.Cleanup.StaleAfterMinutes = 60
	}
	if cfg.Cleanup.IntervalMinutes <= 0 {
		cfg.Cleanup.IntervalMinutes = 10
	}
}

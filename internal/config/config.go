package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultModel    string `yaml:"default_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent agent invocations
}

type WorkerConfig struct {
	Host             string        `yaml:"host"`               // worker id prefix
	TurnWorkers      int           `yaml:"turn_workers"`       // concurrent turn loops
	JobWorkers       int           `yaml:"job_workers"`        // concurrent job loops
	EmptyPollBackoff time.Duration `yaml:"empty_poll_backoff"` // sleep after an empty poll
	MaxSteps         int           `yaml:"max_steps"`          // agent/tool round-trips per turn
}

type SchedulerConfig struct {
	ScheduledInterval time.Duration `yaml:"scheduled_interval"` // scheduled-rule poll interval
	MinuteOffset      time.Duration `yaml:"minute_offset"`      // recurring polls fire this far past each minute
	StalenessWindow   time.Duration `yaml:"staleness_window"`   // how overdue a rule may be and still fire
}

type StreamConfig struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`  // give up after this much silence
	RecheckEvery time.Duration `yaml:"recheck_every"` // store re-read cadence while idle
}

type AuthConfig struct {
	APIKey     string        `yaml:"api_key"`
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	AI        AIConfig        `yaml:"ai"`
	Worker    WorkerConfig    `yaml:"worker"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Stream    StreamConfig    `yaml:"stream"`
	Auth      AuthConfig      `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = "gpt-4o-mini"
	}
	if cfg.AI.MaxOutputTokens <= 0 {
		cfg.AI.MaxOutputTokens = 4096
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.Worker.Host == "" {
		cfg.Worker.Host, _ = os.Hostname()
		if cfg.Worker.Host == "" {
			cfg.Worker.Host = "worker"
		}
	}
	if cfg.Worker.TurnWorkers <= 0 {
		cfg.Worker.TurnWorkers = 4
	}
	if cfg.Worker.JobWorkers <= 0 {
		cfg.Worker.JobWorkers = 2
	}
	if cfg.Worker.EmptyPollBackoff <= 0 {
		cfg.Worker.EmptyPollBackoff = 3 * time.Second
	}
	if cfg.Worker.MaxSteps <= 0 {
		cfg.Worker.MaxSteps = 8
	}
	if cfg.Scheduler.ScheduledInterval <= 0 {
		cfg.Scheduler.ScheduledInterval = 30 * time.Second
	}
	if cfg.Scheduler.MinuteOffset <= 0 {
		cfg.Scheduler.MinuteOffset = 2 * time.Second
	}
	if cfg.Scheduler.StalenessWindow <= 0 {
		cfg.Scheduler.StalenessWindow = 3 * time.Minute
	}
	if cfg.Stream.IdleTimeout <= 0 {
		cfg.Stream.IdleTimeout = 30 * time.Second
	}
	if cfg.Stream.RecheckEvery <= 0 {
		cfg.Stream.RecheckEvery = 2 * time.Second
	}
	if cfg.Auth.SessionTTL <= 0 {
		cfg.Auth.SessionTTL = 30 * time.Minute
	}

	// minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

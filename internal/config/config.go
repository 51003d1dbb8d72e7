package config

import (
	"fmt"
	"strings"
	"time"

	"freelancehub/internal/model"
	"freelancehub/pkg/circuitbreaker"
	"freelancehub/pkg/config"

	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	LogLevel     string              `yaml:"log_level"`
	Server       config.ServerConfig `yaml:"server"`
	Storage      StorageConfig       `yaml:"storage"`
	DB           config.DBConfig     `yaml:"db"`
	MQ           config.MQConfig     `yaml:"mq"`
	Redis        config.RedisConfig  `yaml:"redis"`
	JWT          config.JWTConfig    `yaml:"jwt"`
	Escrow       EscrowConfig        `yaml:"escrow"`
	Outbox       OutboxConfig        `yaml:"outbox"`
	Approvals    ApprovalsConfig     `yaml:"approvals"`
	Notifier     NotifierConfig      `yaml:"notifier"`
	Push         PushConfig          `yaml:"push"`
	AdminUserIDs []int64             `yaml:"admin_user_ids"`
}

// StorageConfig memory 驱动不需要 Postgres，Seed 中的项目在启动时写入
type StorageConfig struct {
	Driver string        `yaml:"driver"`
	Seed   []SeedProject `yaml:"seed"`
}

type SeedProject struct {
	ID        int64    `yaml:"id"`
	ClientID  int64    `yaml:"client_id"`
	Title     string   `yaml:"title"`
	Budget    string   `yaml:"budget"`
	StartDate string   `yaml:"start_date"`
	Deadline  string   `yaml:"deadline"`
	Bid       *SeedBid `yaml:"accepted_bid"`
}

type SeedBid struct {
	FreelancerID int64  `yaml:"freelancer_id"`
	Amount       string `yaml:"amount"`
	DeliveryDays int    `yaml:"delivery_days"`
}

// EscrowConfig 佣金率为十进制字符串，FeeAccountUserID 为 0 时平台费只记在付款上
type EscrowConfig struct {
	CommissionRate   string `yaml:"commission_rate"`
	FeeAccountUserID int64  `yaml:"fee_account_user_id"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type ApprovalsConfig struct {
	ResumeInterval time.Duration `yaml:"resume_interval"`
	BatchSize      int           `yaml:"batch_size"`
}

type NotifierConfig struct {
	Queue      string        `yaml:"queue"`
	DedupTTL   time.Duration `yaml:"dedup_ttl"`
	MaxRetries int64         `yaml:"max_retries"`
	// HealthPort notifier 进程的健康检查和指标端口
	HealthPort string        `yaml:"health_port"`
}

type PushConfig struct {
	Breaker circuitbreaker.Config `yaml:"breaker"`
}

// Load 读取 CONFIG_ENV / CONFIG_DIR 指定的配置
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideString(&cfg.Storage.Driver, "STORAGE_DRIVER")
	config.OverrideString(&cfg.Escrow.CommissionRate, "ESCROW_COMMISSION_RATE")
	config.OverrideString(&cfg.LogLevel, "LOG_LEVEL")

	cfg.clearPlaceholders()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// clearPlaceholders 未被 secrets.env 或环境变量替换的 ${VAR} 视为未配置
func (c *Config) clearPlaceholders() {
	for _, s := range []*string{&c.MQ.URL, &c.Redis.Addr, &c.Redis.Password, &c.DB.Password} {
		if strings.HasPrefix(*s, "${") {
			*s = ""
		}
	}
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	if c.Escrow.CommissionRate == "" {
		c.Escrow.CommissionRate = "0.05"
	}
	if c.Outbox.Interval <= 0 {
		c.Outbox.Interval = 2 * time.Second
	}
	if c.Outbox.BatchSize <= 0 {
		c.Outbox.BatchSize = 100
	}
	if c.Outbox.MaxRetries <= 0 {
		c.Outbox.MaxRetries = 5
	}
	if c.Approvals.ResumeInterval <= 0 {
		c.Approvals.ResumeInterval = 30 * time.Second
	}
	if c.Approvals.BatchSize <= 0 {
		c.Approvals.BatchSize = 50
	}
	if c.Notifier.Queue == "" {
		c.Notifier.Queue = "lifecycle.notifications"
	}
	if c.Notifier.DedupTTL <= 0 {
		c.Notifier.DedupTTL = 24 * time.Hour
	}
	if c.Notifier.MaxRetries <= 0 {
		c.Notifier.MaxRetries = 3
	}
	if c.Notifier.HealthPort == "" {
		c.Notifier.HealthPort = "8085"
	}
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unsupported storage.driver %q (want %s or %s)", c.Storage.Driver, DriverPostgres, DriverMemory)
	}
	if _, err := c.CommissionRate(); err != nil {
		return err
	}
	if c.JWT.Secret == "" || strings.HasPrefix(c.JWT.Secret, "${") {
		return fmt.Errorf("jwt.secret is required")
	}
	for _, s := range c.Storage.Seed {
		if _, err := s.Project(); err != nil {
			return fmt.Errorf("invalid storage.seed project %d: %w", s.ID, err)
		}
	}
	return nil
}

// CommissionRate 解析并校验佣金率，必须在 [0, 1) 之间
func (c *Config) CommissionRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Escrow.CommissionRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid escrow.commission_rate %q: %w", c.Escrow.CommissionRate, err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("escrow.commission_rate %s must be in [0, 1)", rate)
	}
	return rate, nil
}

// IsAdmin 管理接口的白名单
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Project 把种子配置转换为项目模型
func (s SeedProject) Project() (*model.Project, error) {
	p := &model.Project{
		ID:       s.ID,
		ClientID: s.ClientID,
		Title:    s.Title,
		Status:   model.ProjectInProgress,
	}
	if s.ClientID == 0 {
		return nil, fmt.Errorf("client_id is required")
	}
	if s.Budget != "" {
		budget, err := decimal.NewFromString(s.Budget)
		if err != nil {
			return nil, fmt.Errorf("budget: %w", err)
		}
		p.Budget = budget
	}
	var err error
	if p.StartDate, err = parseDate(s.StartDate); err != nil {
		return nil, fmt.Errorf("start_date: %w", err)
	}
	if p.Deadline, err = parseDate(s.Deadline); err != nil {
		return nil, fmt.Errorf("deadline: %w", err)
	}

	if s.Bid == nil {
		p.Status = model.ProjectOpenForBids
		return p, nil
	}
	p.Bid = &model.AcceptedBid{FreelancerID: s.Bid.FreelancerID, DeliveryDays: s.Bid.DeliveryDays}
	if s.Bid.Amount != "" {
		amount, err := decimal.NewFromString(s.Bid.Amount)
		if err != nil {
			return nil, fmt.Errorf("accepted_bid.amount: %w", err)
		}
		p.Bid.Amount = decimal.NewNullDecimal(amount)
	}
	return p, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	MaxConns    int32  `yaml:"max_conns"`
	MinConns    int32  `yaml:"min_conns"`
	AutoMigrate bool   `yaml:"auto_migrate"`
	// SlowQueryMS 慢查询阈值（毫秒），0 使用默认值
	SlowQueryMS int `yaml:"slow_query_ms"`
}

// DSN 生成 PostgreSQL 连接串
func (c DBConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		sslMode,
	)
}

// MQConfig 消息队列配置，URL 为空时使用进程内总线
type MQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// RedisConfig Redis配置，Addr 为空时不启用
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port            string        `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	OverrideString(&cfg.Host, "DB_HOST")
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	OverrideString(&cfg.User, "DB_USER")
	OverrideString(&cfg.Password, "DB_PASSWORD")
	OverrideString(&cfg.Name, "DB_NAME")
	OverrideString(&cfg.SSLMode, "DB_SSLMODE")
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoMigrate = b
		}
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	OverrideString(&cfg.URL, "MQ_URL")
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	OverrideString(&cfg.Addr, "REDIS_ADDR")
	OverrideString(&cfg.Password, "REDIS_PASSWORD")
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	OverrideString(&cfg.Secret, "JWT_SECRET")
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	OverrideString(&cfg.Port, "SERVER_PORT")
}

// OverrideString 环境变量非空时覆盖目标字段
func OverrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

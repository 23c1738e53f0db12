package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用全局配置结构体
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"db"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Store      StoreConfig      `mapstructure:"store"`
	Index      IndexConfig      `mapstructure:"index"`
	Assignment AssignmentConfig `mapstructure:"assignment"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port               int             `mapstructure:"port"`
	RequestTimeout     time.Duration   `mapstructure:"request_timeout"`
	MaxBodyBytes       int64           `mapstructure:"max_body_bytes"`
	MaxImportBodyBytes int64           `mapstructure:"max_import_body_bytes"` // 批量导入单独放宽
	CORS               CORSConfig      `mapstructure:"cors"`
	RateLimit          RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig 跨域配置
type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// RateLimitConfig 自助领取接口限流（依赖 Redis，未连接时放行）
type RateLimitConfig struct {
	SelfServeLimit  int           `mapstructure:"self_serve_limit"`
	SelfServeWindow time.Duration `mapstructure:"self_serve_window"`
}

// DatabaseConfig PostgreSQL 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"sslmode"`
	Timezone        string `mapstructure:"timezone"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`  // 连接最大生命周期（分钟）
	ConnMaxIdleTime int    `mapstructure:"conn_max_idle_time"` // 空闲连接最大存活时间（分钟）
}

// DSN 生成 PostgreSQL 连接字符串
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, c.Timezone,
	)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig NATS JetStream 配置（兼容模式存储）
type NATSConfig struct {
	URL     string        `mapstructure:"url"`
	Bucket  string        `mapstructure:"bucket"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// 存储后端
const (
	BackendPostgres = "postgres"
	BackendNATS     = "nats"
	BackendMemory   = "memory"
)

// 存储写入能力
const (
	CapabilityConditionalPatch  = "conditional_patch"
	CapabilityReadModifyReplace = "read_modify_replace"
)

// StoreConfig 条目存储配置；Capability 在启动时决定写入策略
type StoreConfig struct {
	Backend    string      `mapstructure:"backend"`
	Capability string      `mapstructure:"capability"`
	Buckets    int         `mapstructure:"buckets"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// RetryConfig 瞬时故障重试
type RetryConfig struct {
	MaxAttempts     uint          `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// IndexConfig 分配二级索引配置
type IndexConfig struct {
	Backend           string        `mapstructure:"backend"` // postgres | redis | memory
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	PendingCapacity   int           `mapstructure:"pending_capacity"`
}

// AssignmentConfig 领取与接管策略
type AssignmentConfig struct {
	TakeoverRoles     []string           `mapstructure:"takeover_roles"`
	OvershootFactor   int                `mapstructure:"overshoot_factor"`
	CandidatePoolSize int                `mapstructure:"candidate_pool_size"`
	MaxBatchSize      int                `mapstructure:"max_batch_size"`
	MaxRefills        int                `mapstructure:"max_refills"`
	MaxActivePerUser  int                `mapstructure:"max_active_per_user"`
	DatasetWeights    map[string]float64 `mapstructure:"dataset_weights"`
}

// AuthConfig 上游身份令牌校验配置（本服务不签发令牌）
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load 从配置文件与环境变量加载配置
// 优先级：环境变量 > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	v := viper.New()

	// ── 默认值 ──
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.max_import_body_bytes", 16<<20)
	v.SetDefault("server.cors.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.rate_limit.self_serve_limit", 30)
	v.SetDefault("server.rate_limit.self_serve_window", "1m")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.name", "ground_truth")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("db.max_open_conns", 25)
	v.SetDefault("db.max_idle_conns", 10)
	v.SetDefault("db.conn_max_lifetime", 60)  // 60分钟
	v.SetDefault("db.conn_max_idle_time", 30) // 30分钟

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.bucket", "work_items")
	v.SetDefault("nats.timeout", "5s")

	v.SetDefault("store.backend", BackendPostgres)
	v.SetDefault("store.capability", CapabilityConditionalPatch)
	v.SetDefault("store.buckets", 8)
	v.SetDefault("store.retry.max_attempts", 3)
	v.SetDefault("store.retry.initial_interval", "20ms")
	v.SetDefault("store.retry.max_interval", "500ms")

	v.SetDefault("index.backend", BackendPostgres)
	v.SetDefault("index.reconcile_interval", "5m")
	v.SetDefault("index.pending_capacity", 1024)

	v.SetDefault("assignment.takeover_roles", []string{"admin", "team-lead"})
	v.SetDefault("assignment.overshoot_factor", 3)
	v.SetDefault("assignment.candidate_pool_size", 200)
	v.SetDefault("assignment.max_batch_size", 50)
	v.SetDefault("assignment.max_refills", 1)
	v.SetDefault("assignment.max_active_per_user", 0)

	v.SetDefault("auth.issuer", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "gtc")

	// ── 配置文件 ──
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// ── 环境变量 ──
	v.SetEnvPrefix("GTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时仅依赖默认值和环境变量
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// ── 关键配置校验 ──
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验关键配置项
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 不能为空")
	}
	if len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("配置校验失败: auth.jwt_secret 长度不能少于 16 字符")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("配置校验失败: server.port 必须在 1-65535 之间")
	}
	switch c.Store.Backend {
	case BackendPostgres, BackendNATS, BackendMemory:
	default:
		return fmt.Errorf("配置校验失败: store.backend 不支持 %q", c.Store.Backend)
	}
	switch c.Store.Capability {
	case CapabilityConditionalPatch, CapabilityReadModifyReplace:
	default:
		return fmt.Errorf("配置校验失败: store.capability 不支持 %q", c.Store.Capability)
	}
	if c.Store.Backend == BackendNATS && c.Store.Capability == CapabilityConditionalPatch {
		return fmt.Errorf("配置校验失败: nats 存储仅支持 %s", CapabilityReadModifyReplace)
	}
	switch c.Index.Backend {
	case BackendPostgres, "redis", BackendMemory:
	default:
		return fmt.Errorf("配置校验失败: index.backend 不支持 %q", c.Index.Backend)
	}
	if c.Store.Buckets <= 0 {
		return fmt.Errorf("配置校验失败: store.buckets 必须大于 0")
	}
	if c.Assignment.OvershootFactor < 1 {
		return fmt.Errorf("配置校验失败: assignment.overshoot_factor 不能小于 1")
	}
	if c.Assignment.MaxBatchSize <= 0 {
		return fmt.Errorf("配置校验失败: assignment.max_batch_size 必须大于 0")
	}
	if len(c.Assignment.TakeoverRoles) == 0 {
		return fmt.Errorf("配置校验失败: assignment.takeover_roles 不能为空")
	}
	for ds, w := range c.Assignment.DatasetWeights {
		if w < 0 {
			return fmt.Errorf("配置校验失败: 数据集 %s 的权重不能为负数", ds)
		}
	}
	return nil
}

// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"stampcard/internal/pkg/redis"
)

// Config 是所有进程共享的配置结构
type Config struct {
	App     AppConfig     `yaml:"app"`
	Infra   InfraConfig   `yaml:"infra"`
	Loyalty LoyaltyConfig `yaml:"loyalty"`
}

type AppConfig struct {
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"logLevel"`
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     redis.Config    `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
}

type MySQLConfig struct {
	Addr         string `yaml:"addr"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
}

// DSN 生成 go-sql-driver 的连接串，时间统一按 UTC 解析
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers"`
	ScanTopic       string   `yaml:"scanTopic"`
	DeadLetterTopic string   `yaml:"deadLetterTopic"` // 重试耗尽的扫码消息
	LedgerTopic     string   `yaml:"ledgerTopic"`
	GroupID         string   `yaml:"groupId"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type ZookeeperConfig struct {
	Servers               []string `yaml:"servers"`
	SessionTimeoutSeconds int      `yaml:"sessionTimeoutSeconds"`
}

type LoyaltyConfig struct {
	CooldownFailurePolicy   string `yaml:"cooldownFailurePolicy"` // fail_open | fail_closed
	BonusPrecedence         string `yaml:"bonusPrecedence"`       // highest_award | first_match
	SweepIntervalMinutes    int    `yaml:"sweepIntervalMinutes"`
	SweepLease              string `yaml:"sweepLease"` // redis | zookeeper | none
	LeaseTTLSeconds         int    `yaml:"leaseTTLSeconds"`
	DeviceCache             string `yaml:"deviceCache"` // redis | memory
	BusinessCacheTTLSeconds int    `yaml:"businessCacheTTLSeconds"`
}

// LeaseTTL 返回租约有效期
func (c LoyaltyConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSeconds) * time.Second
}

// BusinessCacheTTL 返回商家配置缓存的有效期，0 表示不缓存
func (c LoyaltyConfig) BusinessCacheTTL() time.Duration {
	return time.Duration(c.BusinessCacheTTLSeconds) * time.Second
}

// DefaultConfig 返回本地开发可直接使用的默认配置
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Port: 8090, LogLevel: "info"},
		Infra: InfraConfig{
			MySQL: MySQLConfig{Addr: "localhost:3306", User: "root", Database: "stampcard", MaxOpenConns: 20},
			Redis: redis.Config{Addr: "localhost:6379"},
			Kafka: KafkaConfig{
				Brokers:         []string{"localhost:9092"},
				ScanTopic:       "stamp-scans",
				DeadLetterTopic: "stamp-scans-dlt",
				LedgerTopic:     "stamp-ledger",
				GroupID:         "loyalty-service",
			},
			Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}, SessionTimeoutSeconds: 10},
		},
		Loyalty: LoyaltyConfig{
			CooldownFailurePolicy:   "fail_open",
			BonusPrecedence:         "highest_award",
			SweepIntervalMinutes:    60,
			SweepLease:              "redis",
			LeaseTTLSeconds:         600,
			DeviceCache:             "redis",
			BusinessCacheTTLSeconds: 30,
		},
	}
}

var currentConfig atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置，未初始化时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := currentConfig.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func setCurrentConfig(cfg *Config) {
	currentConfig.Store(cfg)
}

// ParseConfig 在默认配置之上叠加 YAML 内容
func ParseConfig(content []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	return cfg, nil
}

// LoadConfig 读取 YAML 文件；path 为空或文件不存在时使用默认配置。最后叠加环境变量。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		content, err := os.ReadFile(path)
		switch {
		case err == nil:
			if cfg, err = ParseConfig(content); err != nil {
				return nil, err
			}
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "read config file %s", path)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyEnv 用环境变量覆盖部署相关的配置项
func applyEnv(cfg *Config) {
	if v := getEnv("PORT", ""); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = port
		}
	}
	cfg.App.LogLevel = getEnv("LOG_LEVEL", cfg.App.LogLevel)
	cfg.Infra.MySQL.Addr = getEnv("MYSQL_ADDR", cfg.Infra.MySQL.Addr)
	cfg.Infra.MySQL.User = getEnv("MYSQL_USER", cfg.Infra.MySQL.User)
	cfg.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", cfg.Infra.MySQL.Password)
	cfg.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", cfg.Infra.MySQL.Database)
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", cfg.Infra.Redis.Addr)
	cfg.Infra.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Infra.Redis.Password)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	if v := getEnv("KAFKA_BROKERS", ""); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getEnv("ZOOKEEPER_SERVERS", ""); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	cfg.Loyalty.CooldownFailurePolicy = getEnv("COOLDOWN_FAILURE_POLICY", cfg.Loyalty.CooldownFailurePolicy)
	cfg.Loyalty.SweepLease = getEnv("SWEEP_LEASE", cfg.Loyalty.SweepLease)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// internal/service/loyalty/provider.go
package loyalty

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"stampcard/internal/pkg/bootstrap"
	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/mq"
	"stampcard/internal/pkg/redis"
	"stampcard/internal/service/loyalty/application"
	"stampcard/internal/service/loyalty/domain"
	"stampcard/internal/service/loyalty/infrastructure"
	"stampcard/internal/zookeeper"
)

const sweepLeaseName = "expiry-sweep"

// Components 是组装好的集点服务依赖，供各个进程的 main 使用
type Components struct {
	DB          *gorm.DB
	Store       *infrastructure.GormMemberStore
	ScanService *application.ScanService
	Sweeper     *application.ExpirySweeper

	redisClient *redis.Client
	zkConn      *zookeeper.Conn
	ledger      *infrastructure.LedgerKafkaProducer
}

// OpenDB 打开数据库连接
func OpenDB(cfg *bootstrap.Config) (*gorm.DB, error) {
	return infrastructure.NewMySQLDB(cfg.Infra.MySQL.DSN(), cfg.Infra.MySQL.MaxOpenConns)
}

// Build 按配置组装存储、缓存、租约、账本生产者以及应用服务
func Build(ctx context.Context, cfg *bootstrap.Config, tracer trace.Tracer) (*Components, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	c := &Components{DB: db, Store: infrastructure.NewGormMemberStore(db)}

	var store domain.MemberStore = c.Store
	if ttl := cfg.Loyalty.BusinessCacheTTL(); ttl > 0 {
		store = infrastructure.NewCachedMemberStore(c.Store, ttl)
	}

	needRedis := cfg.Loyalty.DeviceCache == "redis" || cfg.Loyalty.SweepLease == "redis"
	if needRedis {
		if c.redisClient, err = redis.NewClient(ctx, cfg.Infra.Redis); err != nil {
			c.Close()
			return nil, err
		}
	}

	var devices domain.DeviceCache
	if cfg.Loyalty.DeviceCache == "redis" {
		devices = infrastructure.NewRedisDeviceCache(c.redisClient)
	} else {
		devices = infrastructure.NewMemoryDeviceCache()
	}

	var publisher domain.LedgerPublisher
	if len(cfg.Infra.Kafka.Brokers) > 0 && cfg.Infra.Kafka.LedgerTopic != "" {
		c.ledger = infrastructure.NewLedgerKafkaProducer(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.LedgerTopic))
		publisher = c.ledger
	}

	lease, err := c.buildLease(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}

	gate := application.NewCooldownGate(store, devices, tracer,
		application.WithFailurePolicy(application.ParseFailurePolicy(cfg.Loyalty.CooldownFailurePolicy)))
	resolver := domain.BonusPeriodResolver{Precedence: domain.ParsePrecedence(cfg.Loyalty.BonusPrecedence)}
	creditor := application.NewStampCreditor(store, tracer)
	c.ScanService = application.NewScanService(store, gate, resolver, creditor, publisher, tracer)

	sweeperOpts := []application.SweeperOption{}
	if lease != nil {
		// 租约不续期，单次清扫不能超过租约有效期
		sweeperOpts = append(sweeperOpts,
			application.WithLease(lease),
			application.WithTickTimeout(cfg.Loyalty.LeaseTTL()))
	}
	if publisher != nil {
		sweeperOpts = append(sweeperOpts, application.WithLedgerPublisher(publisher))
	}
	c.Sweeper = application.NewExpirySweeper(c.Store, tracer, sweeperOpts...)

	logger.Ctx(ctx).Info().
		Str("device_cache", cfg.Loyalty.DeviceCache).
		Str("sweep_lease", cfg.Loyalty.SweepLease).
		Str("cooldown_policy", cfg.Loyalty.CooldownFailurePolicy).
		Bool("ledger", publisher != nil).
		Msg("loyalty components assembled")
	return c, nil
}

func (c *Components) buildLease(cfg *bootstrap.Config) (domain.Lease, error) {
	switch cfg.Loyalty.SweepLease {
	case "redis":
		return infrastructure.NewRedisLease(c.redisClient, sweepLeaseName, cfg.Loyalty.LeaseTTL())
	case "zookeeper":
		timeout := time.Duration(cfg.Infra.Zookeeper.SessionTimeoutSeconds) * time.Second
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, timeout)
		if err != nil {
			return nil, err
		}
		c.zkConn = conn
		return zookeeper.NewLease(conn, sweepLeaseName)
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown sweep lease backend %q", cfg.Loyalty.SweepLease)
	}
}

// Close 释放所有外部连接
func (c *Components) Close() {
	if c.ledger != nil {
		if err := c.ledger.Close(); err != nil {
			logger.Ctx(context.Background()).Error().Err(err).Msg("failed to close ledger producer")
		}
	}
	if c.zkConn != nil {
		c.zkConn.Close()
	}
	if c.redisClient != nil {
		_ = c.redisClient.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

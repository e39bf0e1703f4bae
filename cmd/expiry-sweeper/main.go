// cmd/expiry-sweeper/main.go
package main

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"

	"stampcard/internal/pkg/bootstrap"
	"stampcard/internal/pkg/logger"
	"stampcard/internal/service/loyalty"
)

const (
	serviceName = "expiry-sweeper"
)

// 独立的过期清扫进程。可以部署多个副本，分布式租约保证同一时刻只有一个在清扫。
func main() {
	ctx := context.Background()
	cfg, err := bootstrap.Init(ctx)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)

	if cfg.Loyalty.SweepLease == "none" {
		logger.Ctx(ctx).Warn().Msg("⚠️ sweep lease disabled, run a single replica only")
	}

	components, err := loyalty.Build(ctx, cfg, otel.Tracer(serviceName))
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to assemble loyalty components")
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Run: func(ctx context.Context) error {
			if err := components.Sweeper.Start(ctx, cfg.Loyalty.SweepIntervalMinutes); err != nil {
				return err
			}
			logger.Ctx(ctx).Info().Int("interval_minutes", cfg.Loyalty.SweepIntervalMinutes).Msg("✅ expiry sweeper started")
			<-ctx.Done()
			return nil
		},
		Cleanup: func(ctx context.Context) {
			components.Sweeper.Stop()
			components.Close()
		},
	})
	if err != nil {
		os.Exit(1)
	}
}

// cmd/loyalty-service/main.go
package main

import (
	"context"
	"os"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"stampcard/internal/pkg/bootstrap"
	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/mq"
	"stampcard/internal/service/loyalty"
	"stampcard/internal/service/loyalty/interfaces"
)

const (
	serviceName = "loyalty-service"
)

// main 函数是应用的"组装根"：创建并组装所有依赖项，然后启动应用。
func main() {
	ctx := context.Background()
	cfg, err := bootstrap.Init(ctx)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel)

	tracer := otel.Tracer(serviceName)
	components, err := loyalty.Build(ctx, cfg, tracer)
	if err != nil {
		logger.Ctx(ctx).Fatal().Err(err).Msg("failed to assemble loyalty components")
	}

	var consumer *interfaces.ScanConsumerAdapter
	if len(cfg.Infra.Kafka.Brokers) > 0 && cfg.Infra.Kafka.ScanTopic != "" {
		reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.ScanTopic, cfg.Infra.Kafka.GroupID)
		var dlt *kafka.Writer
		if cfg.Infra.Kafka.DeadLetterTopic != "" {
			dlt = mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.DeadLetterTopic)
		}
		consumer = interfaces.NewScanConsumerAdapter(reader, components.ScanService, dlt)
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.App.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewLoyaltyHandler(components.ScanService, tracer).RegisterRoutes(appCtx.Mux)
		},
		Run: func(ctx context.Context) error {
			if consumer != nil {
				consumer.Start(ctx)
			}
			if err := components.Sweeper.Start(ctx, cfg.Loyalty.SweepIntervalMinutes); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		},
		Cleanup: func(ctx context.Context) {
			components.Sweeper.Stop()
			if consumer != nil {
				consumer.Stop()
			}
			components.Close()
		},
	})
	if err != nil {
		os.Exit(1)
	}
}

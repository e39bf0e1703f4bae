// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/nacos"
	"stampcard/internal/pkg/utils"
	"stampcard/internal/tracing"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个进程所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int                 // 为 0 时不启动 HTTP 服务，也不注册到 Nacos
	RegisterHandlers func(appCtx AppCtx) // 允许每个服务注册自己独特的 HTTP 路由
	// Run 启动后台任务（消费者、定时清扫等），应阻塞到 ctx 结束
	Run func(ctx context.Context) error
	// Cleanup 在 HTTP 服务关闭后按顺序释放资源
	Cleanup func(ctx context.Context)
}

// StartService 封装了通用的启动和优雅关停逻辑，收到 SIGINT/SIGTERM 或任一任务出错时退出。
func StartService(info AppInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, GetCurrentConfig().Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}

	// 2. 服务注册（配置了 NACOS_SERVER_ADDRS 且有 HTTP 端口时）
	var (
		namingClient *nacos.Client
		ip           string
	)
	if getEnv("NACOS_SERVER_ADDRS", "") != "" && info.Port > 0 {
		if namingClient, err = NewNamingClient(); err != nil {
			return err
		}
		if ip, err = utils.GetOutboundIP(); err != nil {
			return err
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
			return err
		}
	}

	eg, groupCtx := errgroup.WithContext(ctx)

	// 3. HTTP Server
	var server *http.Server
	if info.Port > 0 {
		mux := http.NewServeMux()
		if info.RegisterHandlers != nil {
			info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
		}
		server = &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
		eg.Go(func() error {
			logger.Ctx(groupCtx).Info().Int("port", info.Port).Msgf("%s listening", info.ServiceName)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	// 4. 后台任务
	if info.Run != nil {
		eg.Go(func() error { return info.Run(groupCtx) })
	}

	// 5. 优雅关停
	eg.Go(func() error {
		<-groupCtx.Done()
		logger.Ctx(ctx).Info().Msgf("Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// a. 从 Nacos 注销服务
		if namingClient != nil {
			if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
				logger.Ctx(shutdownCtx).Error().Err(err).Msg("Error deregistering from Nacos")
			}
			namingClient.Close()
		}
		if nacosConfigClient != nil {
			nacosConfigClient.CloseClient()
		}

		// b. 关闭 HTTP 服务器
		if server != nil {
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Ctx(shutdownCtx).Error().Err(err).Msg("Error shutting down http server")
			}
		}

		if info.Cleanup != nil {
			info.Cleanup(shutdownCtx)
		}

		// c. 最后关闭 Tracer Provider，确保缓冲的 trace 都被发送出去
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Ctx(shutdownCtx).Error().Err(err).Msg("Error shutting down tracer provider")
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Msgf("Service %s stopped with error", info.ServiceName)
		return err
	}
	logger.Ctx(ctx).Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	return nil
}

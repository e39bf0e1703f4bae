// cmd/stamp-admin/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"

	"stampcard/internal/pkg/bootstrap"
	"stampcard/internal/pkg/httpclient"
	"stampcard/internal/pkg/logger"
	"stampcard/internal/service/loyalty"
	"stampcard/internal/service/loyalty/application"
	"stampcard/internal/service/loyalty/domain"
	"stampcard/internal/service/loyalty/infrastructure"
)

const (
	serviceName       = "stamp-admin"
	loyaltyService    = "loyalty-service"
	loyaltyScanPath   = "/scan"
	defaultLogEntries = 20
)

var tracer = otel.Tracer(serviceName)

func main() {
	cliApp := &cli.App{
		Name:  serviceName,
		Usage: "operator tooling for the stamp card service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Value: "warn", EnvVars: []string{"LOG_LEVEL"}},
		},
		Before: func(c *cli.Context) error {
			// 日志写到 stderr，stdout 只输出命令结果
			logger.InitWithWriter(serviceName, c.String("log-level"), os.Stderr)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "create or update the loyalty schema",
				Action: migrateAction,
			},
			{
				Name:   "sweep",
				Usage:  "run one expiry sweep now (honours the configured lease)",
				Action: sweepAction,
			},
			{
				Name:   "cooldown",
				Usage:  "show the cooldown status of an identity at a business",
				Flags:  identityFlags(),
				Action: cooldownAction,
			},
			{
				Name:  "expired-log",
				Usage: "list the latest expired-stamps audit rows of a business",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "business", Required: true},
					&cli.IntFlag{Name: "limit", Value: defaultLogEntries},
				},
				Action: expiredLogAction,
			},
			{
				Name:  "scan",
				Usage: "post a scan to a running loyalty-service",
				Flags: append(identityFlags(),
					&cli.StringFlag{Name: "server", Usage: "base URL, e.g. http://localhost:8090; discovered via Nacos when empty"},
					&cli.StringFlag{Name: "event-id", Usage: "idempotency key"},
					&cli.StringFlag{Name: "customer-name"},
				),
				Action: scanAction,
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func identityFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "business", Required: true},
		&cli.StringFlag{Name: "kind", Value: string(domain.IdentityAuthenticated), Usage: "authenticated | anonymous"},
		&cli.StringFlag{Name: "ref", Required: true, Usage: "user id or device token"},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func loadConfig(ctx context.Context) (*bootstrap.Config, error) {
	return bootstrap.Init(ctx)
}

func migrateAction(c *cli.Context) error {
	cfg, err := loadConfig(c.Context)
	if err != nil {
		return err
	}
	db, err := loyalty.OpenDB(cfg)
	if err != nil {
		return err
	}
	if err := infrastructure.Migrate(db); err != nil {
		return err
	}
	fmt.Println("schema is up to date")
	return nil
}

func sweepAction(c *cli.Context) error {
	cfg, err := loadConfig(c.Context)
	if err != nil {
		return err
	}
	components, err := loyalty.Build(c.Context, cfg, tracer)
	if err != nil {
		return err
	}
	defer components.Close()

	expired, err := components.Sweeper.RunOnce(c.Context)
	if errors.Is(err, application.ErrLeaseNotAcquired) {
		return fmt.Errorf("another sweeper holds the lease, try again later")
	}
	if err != nil {
		return err
	}
	return printJSON(map[string]int{"expired": expired})
}

func cooldownAction(c *cli.Context) error {
	identity, err := domain.ParseIdentity(c.String("kind"), c.String("ref"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c.Context)
	if err != nil {
		return err
	}
	components, err := loyalty.Build(c.Context, cfg, tracer)
	if err != nil {
		return err
	}
	defer components.Close()

	status, err := components.ScanService.CheckCooldown(c.Context, c.String("business"), identity)
	if err != nil {
		return err
	}
	return printJSON(status)
}

func expiredLogAction(c *cli.Context) error {
	cfg, err := loadConfig(c.Context)
	if err != nil {
		return err
	}
	db, err := loyalty.OpenDB(cfg)
	if err != nil {
		return err
	}
	entries, err := infrastructure.NewGormMemberStore(db).ListExpiredLog(c.Context, c.String("business"), c.Int("limit"))
	if err != nil {
		return err
	}
	return printJSON(entries)
}

func scanAction(c *cli.Context) error {
	client := httpclient.NewClient(tracer)
	req := application.ScanRequest{
		EventID:      c.String("event-id"),
		BusinessID:   c.String("business"),
		IdentityKind: c.String("kind"),
		IdentityRef:  c.String("ref"),
		CustomerName: c.String("customer-name"),
	}

	var (
		result application.ScanResult
		err    error
	)
	if server := c.String("server"); server != "" {
		err = client.PostJSON(c.Context, server+loyaltyScanPath, req, &result)
	} else {
		naming, nerr := bootstrap.NewNamingClient()
		if nerr != nil {
			return nerr
		}
		defer naming.Close()
		client.Discoverer = naming
		err = client.CallService(c.Context, loyaltyService, loyaltyScanPath, req, &result)
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && result.InCooldown {
		// 冷却中也打印结果，便于查看剩余时间
		_ = printJSON(result)
		return err
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

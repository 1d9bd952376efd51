package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/meikuraledutech/flowchain"
	"github.com/meikuraledutech/flowchain/config"
	"github.com/meikuraledutech/flowchain/logging"
	"github.com/meikuraledutech/flowchain/memory"
	"github.com/meikuraledutech/flowchain/postgres"
	"github.com/meikuraledutech/flowchain/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server.

Examples:
  # In-memory store, no broker
  DATABASE_DRIVER=memory BROKER_DRIVER=none flowchain serve

  # PostgreSQL and NATS from a config file
  flowchain serve --config /etc/flowchain/config.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackend(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer be.close()

	broker, err := openBroker(ctx, cfg.Broker, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Warn("close broker", zap.Error(err))
		}
	}()

	registry, err := flowchain.NewRegistry(be.kinds...)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := flowchain.NewService(registry, be.layouts,
		flowchain.WithMaxNodes(cfg.Flow.MaxNodes),
		flowchain.WithMaxDepth(cfg.Flow.MaxDepth),
		flowchain.WithPublisher(broker),
		flowchain.WithPublishTimeout(cfg.Broker.PublishTimeout),
		flowchain.WithLogger(logger.Named("flowchain")),
		flowchain.WithMetrics(flowchain.NewMetrics(reg)),
	)

	app := newApp(appDeps{
		svc:      svc,
		events:   broker,
		logger:   logger.Named("http"),
		gatherer: reg,
	})

	go func() {
		<-ctx.Done()
		logger.Info("shutting down http server")
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			logger.Error("http shutdown", zap.Error(err))
		}
	}()

	logger.Info("starting http server",
		zap.String("addr", cfg.Addr()),
		zap.String("database", cfg.Database.Driver),
		zap.String("broker", cfg.Broker.Driver))
	if err := app.Listen(cfg.Addr(), fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// backend is the storage selected by database.driver.
type backend struct {
	kinds   []flowchain.ArtifactKind
	layouts flowchain.LayoutStore
	close   func()
}

func openBackend(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	if cfg.Driver == "memory" {
		s := memory.New()
		return &backend{kinds: s.Kinds(), layouts: s, close: func() {}}, nil
	}
	pool, err := postgres.Connect(ctx, cfg.URL, cfg.MaxConns)
	if err != nil {
		return nil, err
	}
	s := postgres.New(pool)
	return &backend{kinds: s.Kinds(), layouts: s, close: pool.Close}, nil
}

func openBroker(ctx context.Context, cfg config.BrokerConfig, logger *zap.Logger) (realtime.Broker, error) {
	switch cfg.Driver {
	case "nats":
		nc, err := realtime.DialNATS(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		return realtime.NewNATS(nc, logger.Named("nats")), nil
	case "redis":
		return realtime.NewRedis(ctx, realtime.RedisOptions{URL: cfg.RedisURL}, logger.Named("redis"))
	default:
		return realtime.Disabled{}, nil
	}
}

package main

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/meikuraledutech/flowchain"
	"github.com/meikuraledutech/flowchain/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultHeartbeat = 30 * time.Second

type appDeps struct {
	svc       *flowchain.Service
	events    realtime.Subscriber
	logger    *zap.Logger
	gatherer  prometheus.Gatherer
	heartbeat time.Duration
}

func newApp(d appDeps) *fiber.App {
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.events == nil {
		d.events = realtime.Disabled{}
	}
	if d.gatherer == nil {
		d.gatherer = prometheus.NewRegistry()
	}
	if d.heartbeat <= 0 {
		d.heartbeat = defaultHeartbeat
	}

	app := fiber.New(fiber.Config{AppName: "flowchain"})
	app.Use(recoverer.New())
	app.Use(requestid.New())
	app.Use(requestLogger(d.logger))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{})))

	h := &handlers{svc: d.svc, events: d.events, logger: d.logger, heartbeat: d.heartbeat}

	// ── Flow chain ────────────────────────────────────────────────────
	wr := app.Group("/api/work-requests/:id", requireCaller)
	wr.Get("/flow-chain", h.getFlowChain)
	wr.Post("/flow-chain/items", h.createFlowItem)

	// ── Flow UI ───────────────────────────────────────────────────────
	wr.Get("/flow-ui", h.getFlowUI)
	wr.Put("/flow-ui", h.saveFlowUI)
	wr.Get("/flow-ui/events", h.flowUIEvents)

	return app
}

// requestLogger logs one line per request once the handler chain returns.
func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Info("http request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)))
		return err
	}
}

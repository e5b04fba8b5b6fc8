// Package healthsrv is the tiny HTTP surface named in SPEC_FULL.md
// supplemented feature 4, "Health/metrics HTTP surface": /healthz,
// /readyz, and /metrics, served for the run's lifetime so a long-running
// hierarchical digest can be scraped mid-run.
package healthsrv

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/d1249/maildigest/internal/metrics"
)

// Handler exposes the run's optional-store connections and metrics
// registry, checking postgres, redis, and mongo independently since any
// subset may be unconfigured for a given run.
type Handler struct {
	db       *sqlx.DB
	redis    *redis.Client
	mongo    *mongo.Client
	registry *metrics.Registry
}

// New constructs a Handler. Any of db, redisClient, mongoClient may be
// nil when that optional store is not configured for this run.
func New(db *sqlx.DB, redisClient *redis.Client, mongoClient *mongo.Client, registry *metrics.Registry) *Handler {
	return &Handler{db: db, redis: redisClient, mongo: mongoClient, registry: registry}
}

// Register attaches the three routes to app.
func (h *Handler) Register(app *fiber.App) {
	app.Get("/healthz", h.Healthz)
	app.Get("/readyz", h.Readyz)
	app.Get("/metrics", h.Metrics)
}

// Healthz always reports ok once the process is up — it is a liveness
// probe, not a dependency check (that is Readyz's job).
func (h *Handler) Healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz pings every configured optional store and reports 503 if any of
// them is unhealthy; a store that was never configured is reported
// "not configured" without affecting readiness.
func (h *Handler) Readyz(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			checks["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["postgres"] = "healthy"
		}
	} else {
		checks["postgres"] = "not configured"
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["redis"] = "healthy"
		}
	} else {
		checks["redis"] = "not configured"
	}

	if h.mongo != nil {
		if err := h.mongo.Ping(ctx, nil); err != nil {
			checks["mongo"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			checks["mongo"] = "healthy"
		}
	} else {
		checks["mongo"] = "not configured"
	}

	status := "ready"
	statusCode := fiber.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = fiber.StatusServiceUnavailable
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Metrics serves the registry's Prometheus text exposition.
func (h *Handler) Metrics(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	if h.registry == nil {
		return c.SendString("")
	}
	return c.SendString(h.registry.WriteProm())
}

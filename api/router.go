package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yashasviy/payments-transfer-api/middleware"
)

// RouterConfig collects the collaborators of the HTTP surface.
type RouterConfig struct {
	Engine  Transferer
	Store   Pinger
	Redis   *redis.Client // nil disables idempotency replay
	Metrics http.Handler  // nil disables /metrics
	Logger  *zap.Logger
}

// NewRouter builds the service's routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(cfg.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", HealthHandler(cfg.Store))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.Redis != nil {
			r.Use(middleware.Idempotency(cfg.Redis, cfg.Logger))
		}
		r.Post("/payment", TransferHandler(cfg.Engine, cfg.Logger))
	})

	return r
}

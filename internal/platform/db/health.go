package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// Pinger is satisfied by *pgxpool.Pool and by the in-memory store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats is a JSON view of pgxpool.Stat.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

func newPoolStats(s *pgxpool.Stat) *PoolStats {
	return &PoolStats{
		TotalConns:      s.TotalConns(),
		IdleConns:       s.IdleConns(),
		AcquiredConns:   s.AcquiredConns(),
		MaxConns:        s.MaxConns(),
		AcquireCount:    s.AcquireCount(),
		AcquireDuration: s.AcquireDuration().String(),
		Healthy:         s.TotalConns() > 0,
	}
}

// StoreHealth is the /health/db response body.
type StoreHealth struct {
	Driver string     `json:"driver"`
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// CheckStore pings the store and, for PostgreSQL, snapshots the pool.
func CheckStore(ctx context.Context, store Pinger, driver string) StoreHealth {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	h := StoreHealth{Driver: driver, Status: "healthy"}
	if pool, ok := store.(*pgxpool.Pool); ok {
		h.Pool = newPoolStats(pool.Stat())
	}
	if err := store.Ping(ctx); err != nil {
		h.Status = "unhealthy"
		h.Error = err.Error()
		if h.Pool != nil {
			h.Pool.Healthy = false
		}
	}
	return h
}

// HealthHandler serves CheckStore, answering 503 when the store is down.
func HealthHandler(store Pinger, driver string) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := CheckStore(c.Request().Context(), store, driver)
		if h.Error != "" {
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}

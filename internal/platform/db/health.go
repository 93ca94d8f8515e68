package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthChecker reports whether the credential database is reachable.
type HealthChecker struct {
	Ping    func(ctx context.Context) error
	Stats   func() *PoolStats
	Timeout time.Duration
}

func NewHealthChecker(pool *pgxpool.Pool) *HealthChecker {
	return &HealthChecker{
		Ping:    pool.Ping,
		Stats:   func() *PoolStats { return GetPoolStats(pool) },
		Timeout: 5 * time.Second,
	}
}

type healthResponse struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// Handler serves 200 when a ping succeeds and 503 otherwise.
func (h *HealthChecker) Handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		err := h.Ping(ctx)
		var stats *PoolStats
		if h.Stats != nil {
			stats = h.Stats()
		}

		if err != nil {
			if stats != nil {
				stats.Healthy = false
			}
			return c.JSON(http.StatusServiceUnavailable, healthResponse{
				Status: "unhealthy",
				Error:  err.Error(),
				Pool:   stats,
			})
		}
		return c.JSON(http.StatusOK, healthResponse{Status: "healthy", Pool: stats})
	}
}

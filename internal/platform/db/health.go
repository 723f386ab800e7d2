package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

// Pinger checks database reachability. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PoolStats is a snapshot of pgxpool counters.
type PoolStats struct {
	Total        int32  `json:"total"`
	Idle         int32  `json:"idle"`
	Acquired     int32  `json:"acquired"`
	Max          int32  `json:"max"`
	Acquires     int64  `json:"acquires"`
	AcquireWait  string `json:"acquireWait"`
	EmptyAcquire int64  `json:"emptyAcquires"`
}

// Health is the body served by HealthHandler.
type Health struct {
	Status string     `json:"status"`
	Error  string     `json:"error,omitempty"`
	Pool   *PoolStats `json:"pool,omitempty"`
}

// Stats snapshots pool.
func Stats(pool *pgxpool.Pool) *PoolStats {
	s := pool.Stat()
	return &PoolStats{
		Total:        s.TotalConns(),
		Idle:         s.IdleConns(),
		Acquired:     s.AcquiredConns(),
		Max:          s.MaxConns(),
		Acquires:     s.AcquireCount(),
		AcquireWait:  s.AcquireDuration().String(),
		EmptyAcquire: s.EmptyAcquireCount(),
	}
}

// HealthHandler answers 200 when p can be pinged and 503 otherwise. Pool
// counters are included when p is a *pgxpool.Pool.
func HealthHandler(p Pinger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		h := Health{Status: "healthy"}
		if pool, ok := p.(*pgxpool.Pool); ok {
			h.Pool = Stats(pool)
		}
		if err := p.Ping(ctx); err != nil {
			h.Status = "unhealthy"
			h.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		return c.JSON(http.StatusOK, h)
	}
}

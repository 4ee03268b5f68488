package modules

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/oksasatya/student-records-api/pkg/response"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthModule reports whether the backing services answer.
// Public: GET /api/health
type HealthModule struct {
	DB    Pinger
	Redis *redis.Client
}

func NewHealthModule(db Pinger, rdb *redis.Client) *HealthModule {
	return &HealthModule{DB: db, Redis: rdb}
}

func (m *HealthModule) Register(rg *gin.RouterGroup) {
	rg.GET("/health", m.health)
}

func (m *HealthModule) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true
	if m.DB != nil {
		checks["postgres"] = "up"
		if err := m.DB.Ping(ctx); err != nil {
			checks["postgres"] = "down"
			healthy = false
		}
	}
	if m.Redis != nil {
		checks["redis"] = "up"
		if err := m.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "down"
			healthy = false
		}
	}

	if !healthy {
		response.Error[any](c, http.StatusServiceUnavailable, "unhealthy", checks)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "ok", "checks": checks}, "healthy", nil)
}

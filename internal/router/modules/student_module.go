package modules

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	handlers "github.com/oksasatya/student-records-api/internal/interface/http"
	"github.com/oksasatya/student-records-api/internal/interface/middleware"
	"github.com/oksasatya/student-records-api/pkg/helpers"
)

// StudentModule wires the student endpoints.
// Public: POST /api/students
// Protected: GET/PUT/DELETE /api/students, GET /api/students/search, PUT /api/students/photo
type StudentModule struct {
	Handler       *handlers.StudentHandler
	JWT           *helpers.JWTManager
	Redis         *redis.Client
	RegisterLimit int
}

func NewStudentModule(h *handlers.StudentHandler, jwt *helpers.JWTManager, rdb *redis.Client, registerLimit int) *StudentModule {
	return &StudentModule{Handler: h, JWT: jwt, Redis: rdb, RegisterLimit: registerLimit}
}

func (m *StudentModule) Register(rg *gin.RouterGroup) {
	registerLimiter := middleware.RateLimit(m.Redis, m.RegisterLimit, time.Minute, middleware.KeyByIPAndPath(), nil)
	rg.POST("/students", registerLimiter, m.Handler.Create)

	auth := rg.Group("/")
	auth.Use(middleware.Auth(m.Redis, m.JWT))
	auth.Use(middleware.RateLimit(m.Redis, 120, time.Minute, middleware.KeyByAccount(), nil))
	{
		auth.GET("/students", m.Handler.List)
		auth.PUT("/students", m.Handler.Update)
		auth.DELETE("/students", m.Handler.Delete)
		auth.GET("/students/search", m.Handler.Search)
		auth.PUT("/students/photo", m.Handler.UploadPhoto)
	}
}

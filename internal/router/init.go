package router

import (
	"github.com/oksasatya/student-records-api/internal/application"
	"github.com/oksasatya/student-records-api/internal/container"
	handlers "github.com/oksasatya/student-records-api/internal/interface/http"
	"github.com/oksasatya/student-records-api/internal/router/modules"
)

type StudentModuleDeps struct {
	Service *application.StudentService
	Handler *handlers.StudentHandler
}

type AuthModuleDeps struct {
	Service *application.AuthService
	Handler *handlers.AuthHandler
}

func buildStudentDeps() StudentModuleDeps {
	cfg := container.GetConfig()
	indexer := application.NewStudentIndexer(container.GetES(), cfg.ESStudentsIndex, container.GetLogger())

	// a nil *RabbitPublisher must not end up inside the interface
	var mail application.EmailPublisher
	if pub := container.GetRabbitPub(); pub != nil {
		mail = pub
	}

	service := application.NewStudentService(
		container.GetStore(),
		container.GetRedis(),
		indexer,
		mail,
		container.GetGCS(),
		cfg,
		container.GetLogger(),
	)
	return StudentModuleDeps{
		Service: service,
		Handler: handlers.NewStudentHandler(service, container.GetLogger()),
	}
}

func buildAuthDeps() AuthModuleDeps {
	cfg := container.GetConfig()
	service := application.NewAuthService(container.GetStore(), container.GetJWT(), container.GetRedis(), container.GetLogger())
	return AuthModuleDeps{
		Service: service,
		Handler: handlers.NewAuthHandler(service, container.GetLogger(), cfg.CookieDomain, cfg.CookieSecure),
	}
}

// InitModules initializes all application modules and registers them with the router registry.
// Call once during startup, after the container is populated.
func InitModules(r *Registry) {
	cfg := container.GetConfig()
	rdb := container.GetRedis()

	students := buildStudentDeps()
	auth := buildAuthDeps()

	// a nil *pgxpool.Pool must not end up inside the interface
	var db modules.Pinger
	if pool := container.GetPGPool(); pool != nil {
		db = pool
	}

	r.Add(modules.NewHealthModule(db, rdb))
	r.Add(modules.NewAuthModule(auth.Handler, container.GetJWT(), rdb))
	r.Add(modules.NewStudentModule(students.Handler, container.GetJWT(), rdb, cfg.RegisterRateLimit))
	if cfg.DebugMetricsEnabled {
		r.Add(modules.NewDebugModule(rdb))
	}
}

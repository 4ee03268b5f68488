package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("STORAGE_DRIVER", "")
	t.Setenv("DEFAULT_STUDENT_GROUP", "")

	cfg := Load()
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "postgres", cfg.StorageDriver)
	assert.Equal(t, "alumno", cfg.DefaultStudentGroup)
	assert.Equal(t, time.Hour, cfg.AccessTTL)
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("REGISTER_RATE_LIMIT", "not-a-number")
	t.Setenv("STUDENT_CACHE_TTL", "30s")
	t.Setenv("COOKIE_SECURE", "true")

	cfg := Load()
	assert.Equal(t, "memory", cfg.StorageDriver)
	assert.Equal(t, 10, cfg.RegisterRateLimit)
	assert.Equal(t, 30*time.Second, cfg.StudentCacheTTL)
	assert.True(t, cfg.CookieSecure)
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPassword: "p", DBHost: "db", DBPort: "5432", DBName: "school", DBSSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/school?sslmode=disable", cfg.PostgresDSN())
}

func TestSplitLists(t *testing.T) {
	cfg := &Config{
		CORSAllowedOrigins: " http://a.test, ,http://b.test ",
		ElasticsearchAddrs: "http://es:9200",
	}
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins())
	assert.Equal(t, []string{"http://es:9200"}, cfg.ESAddrs())
}

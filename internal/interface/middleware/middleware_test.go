package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/student-records-api/pkg/helpers"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mr
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthAcceptsLiveSession(t *testing.T) {
	rdb, mr := newRedis(t)
	jwt := helpers.NewJWTManager("a", "r", time.Minute, time.Hour)
	token, _, err := jwt.GenerateAccessToken(7, "sid-1")
	require.NoError(t, err)
	mr.HSet("account:session:7", "sid", "sid-1", "email", "ana@example.com", "groups", "alumno")

	r := gin.New()
	var seen int64
	var groups any
	r.GET("/p", Auth(rdb, jwt), func(c *gin.Context) {
		seen = c.GetInt64(CtxAccountIDKey)
		groups, _ = c.Get(CtxGroupsKey)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/p", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(r, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(7), seen)
	assert.Equal(t, []string{"alumno"}, groups)

	// cookie works too
	req = httptest.NewRequest(http.MethodGet, "/p", nil)
	req.AddCookie(&http.Cookie{Name: helpers.AccessCookie, Value: token})
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestAuthRejects(t *testing.T) {
	rdb, mr := newRedis(t)
	jwt := helpers.NewJWTManager("a", "r", time.Minute, time.Hour)
	token, _, err := jwt.GenerateAccessToken(7, "old-sid")
	require.NoError(t, err)
	mr.HSet("account:session:7", "sid", "new-sid")

	r := gin.New()
	r.GET("/p", Auth(rdb, jwt), func(c *gin.Context) { c.Status(http.StatusOK) })

	cases := map[string]string{
		"missing":     "",
		"garbage":     "Bearer not-a-jwt",
		"stale sid":   "Bearer " + token,
		"wrong place": token,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/p", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			w := serve(r, req)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Contains(t, w.Body.String(), `"success":false`)
		})
	}
}

func TestRateLimitBlocksAfterMax(t *testing.T) {
	rdb, _ := newRedis(t)
	r := gin.New()
	r.POST("/students", RateLimit(rdb, 2, time.Minute, KeyByIPAndPath(), nil), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	for i := 0; i < 2; i++ {
		w := serve(r, httptest.NewRequest(http.MethodPost, "/students", nil))
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := serve(r, httptest.NewRequest(http.MethodPost, "/students", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitAllowBypassAndNilRedis(t *testing.T) {
	rdb, _ := newRedis(t)
	r := gin.New()
	always := func(*gin.Context) bool { return true }
	r.GET("/a", RateLimit(rdb, 1, time.Minute, KeyByIP(), always), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/b", RateLimit(nil, 1, time.Minute, KeyByIP(), nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/a", nil)).Code)
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/b", nil)).Code)
	}
}

func TestRealIPPrefersForwardedHeaders(t *testing.T) {
	r := gin.New()
	var got string
	r.GET("/", RealIP(), func(c *gin.Context) {
		got = c.GetString("real_ip")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	serve(r, req)
	assert.Equal(t, "203.0.113.9", got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("CF-Connecting-IP", "198.51.100.4")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	serve(r, req)
	assert.Equal(t, "198.51.100.4", got)
}

func TestPrivateOnly(t *testing.T) {
	r := gin.New()
	r.GET("/debug/vars", PrivateOnly(), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/debug/vars", nil)
	req.RemoteAddr = "8.8.8.8:4000"
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)
}

func TestRequestIDReusesValidHeader(t *testing.T) {
	r := gin.New()
	r.GET("/", RequestIDMiddleware(), func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	const id = "4f6c1c4e-0f3a-4d53-8b0e-8f2d6f1b2c3d"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", id)
	w := serve(r, req)
	assert.Equal(t, id, w.Body.String())
	assert.Equal(t, id, w.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "bogus")
	w = serve(r, req)
	assert.NotEqual(t, "bogus", w.Body.String())
	assert.Len(t, w.Body.String(), 36)
}

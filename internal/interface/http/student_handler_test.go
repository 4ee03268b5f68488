package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oksasatya/student-records-api/config"
	"github.com/oksasatya/student-records-api/internal/application"
	"github.com/oksasatya/student-records-api/internal/infrastructure/memory"
	handlers "github.com/oksasatya/student-records-api/internal/interface/http"
	"github.com/oksasatya/student-records-api/internal/router"
	"github.com/oksasatya/student-records-api/internal/router/modules"
	"github.com/oksasatya/student-records-api/pkg/helpers"
	"github.com/oksasatya/student-records-api/pkg/validation"
)

type envelope struct {
	Status  int             `json:"status"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type testServer struct {
	engine *gin.Engine
	store  *memory.Store
	token  string
}

func newServer(t *testing.T) *testServer {
	t.Helper()
	return newServerWithRedis(t, nil)
}

func newServerWithRedis(t *testing.T, rdb *redis.Client) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validation.Init()

	cfg := &config.Config{DefaultStudentGroup: "alumno", CookieDomain: "localhost"}
	logger := helpers.NewDiscardLogger()
	store := memory.NewStore()
	jwt := helpers.NewJWTManager("access", "refresh", time.Minute, time.Hour)

	students := application.NewStudentService(store, rdb, nil, nil, nil, cfg, logger)
	auth := application.NewAuthService(store, jwt, rdb, logger)

	engine := gin.New()
	reg := router.NewRegistry(engine)
	reg.Add(modules.NewAuthModule(handlers.NewAuthHandler(auth, logger, cfg.CookieDomain, false), jwt, rdb))
	reg.Add(modules.NewStudentModule(handlers.NewStudentHandler(students, logger), jwt, rdb, 0))
	reg.RegisterAll()

	token, _, err := jwt.GenerateAccessToken(1, "sid")
	require.NoError(t, err)
	return &testServer{engine: engine, store: store, token: token}
}

func (s *testServer) do(t *testing.T, method, target string, body any, authed bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func registerBody(email string) map[string]any {
	return map[string]any{
		"rol":              "alumno",
		"first_name":       "Ana",
		"last_name":        "Lopez",
		"email":            email,
		"password":         "secret123",
		"matricula":        "A001",
		"curp":             "abc123",
		"rfc":              "abc123",
		"fecha_nacimiento": "2000-05-17",
		"edad":             24,
		"telefono":         "5550001111",
		"ocupacion":        "Estudiante",
	}
}

type studentBody struct {
	ID   int64 `json:"id"`
	User struct {
		ID        int64  `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
	} `json:"user"`
	Enrollment string `json:"matricula"`
	NationalID string `json:"curp"`
	TaxID      string `json:"rfc"`
	BirthDate  string `json:"fecha_nacimiento"`
	Phone      string `json:"telefono"`
}

func TestCreateStudent(t *testing.T) {
	s := newServer(t)

	w, env := s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.True(t, env.Success)
	assert.JSONEq(t, `{"id":1}`, string(env.Data))

	w, env = s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Username a@x.com, is already taken", env.Message)
}

func TestCreateStudentFieldErrors(t *testing.T) {
	s := newServer(t)

	body := registerBody("not-an-email")
	delete(body, "matricula")
	w, env := s.do(t, http.MethodPost, "/api/students", body, false)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(env.Error, &fields))
	assert.Contains(t, fields, "email")
	assert.Equal(t, "is required", fields["matricula"])

	body = registerBody("b@x.com")
	delete(body, "edad")
	w, env = s.do(t, http.MethodPost, "/api/students", body, false)
	require.Equal(t, http.StatusBadRequest, w.Code)
	fields = nil
	require.NoError(t, json.Unmarshal(env.Error, &fields))
	assert.Equal(t, "is required", fields["edad"])

	body["edad"] = "twenty"
	w, env = s.do(t, http.MethodPost, "/api/students", body, false)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Error), "edad")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newServer(t)
	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/students"},
		{http.MethodPut, "/api/students"},
		{http.MethodDelete, "/api/students?id=1"},
	} {
		w, env := s.do(t, tc.method, tc.target, nil, false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.method)
		assert.False(t, env.Success)
	}
}

func TestListAndGetStudent(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)
	s.do(t, http.MethodPost, "/api/students", registerBody("b@x.com"), false)

	w, env := s.do(t, http.MethodGet, "/api/students", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var list []studentBody
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 2)
	assert.Equal(t, int64(1), list[0].ID)
	assert.Equal(t, int64(2), list[1].ID)

	w, env = s.do(t, http.MethodGet, "/api/students?id=1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	var one studentBody
	require.NoError(t, json.Unmarshal(env.Data, &one))
	assert.Equal(t, "a@x.com", one.User.Email)
	assert.Equal(t, "ABC123", one.NationalID)
	assert.Equal(t, "ABC123", one.TaxID)
	assert.Equal(t, "2000-05-17", one.BirthDate)
	assert.NotContains(t, w.Body.String(), "password")

	w, _ = s.do(t, http.MethodGet, "/api/students?id=99", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/students?id=abc", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStudent(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)

	w, env := s.do(t, http.MethodPut, "/api/students", map[string]any{"id": 1, "telefono": "123", "rfc": "xyz9"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	var st studentBody
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.Equal(t, "123", st.Phone)
	assert.Equal(t, "XYZ9", st.TaxID)
	assert.Equal(t, "A001", st.Enrollment)
	assert.Equal(t, "Ana", st.User.FirstName)

	w, _ = s.do(t, http.MethodPut, "/api/students", map[string]any{"id": 99, "telefono": "1"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodPut, "/api/students", map[string]any{"telefono": "1"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateStudentAcceptsStringID(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)

	w, env := s.do(t, http.MethodPut, "/api/students", map[string]any{"id": "1", "ocupacion": "Docente"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "Docente")

	w, _ = s.do(t, http.MethodPut, "/api/students", map[string]any{"id": "99", "ocupacion": "x"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodPut, "/api/students", map[string]any{"id": "abc", "ocupacion": "x"}, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteStudent(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)
	s.do(t, http.MethodPost, "/api/students", registerBody("b@x.com"), false)

	w, _ := s.do(t, http.MethodDelete, "/api/students?id=1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(t, http.MethodGet, "/api/students?id=1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(t, http.MethodDelete, "/api/students?id=1", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	s.store.FailOn("accounts.Delete", errors.New("boom"))
	w, env := s.do(t, http.MethodDelete, "/api/students?id=2", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotContains(t, env.Message, "boom")
}

func TestSearchRequiresQuery(t *testing.T) {
	s := newServer(t)
	w, _ := s.do(t, http.MethodGet, "/api/students/search", nil, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/students/search?q=ana", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(env.Data))
}

func TestLoginSetsCookies(t *testing.T) {
	s := newServer(t)
	s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)

	w, env := s.do(t, http.MethodPost, "/api/login", map[string]any{"email": "a@x.com", "password": "secret123"}, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, env.Success)
	cookies := strings.Join(w.Header().Values("Set-Cookie"), ";")
	assert.Contains(t, cookies, helpers.AccessCookie+"=")
	assert.Contains(t, cookies, helpers.RefreshCookie+"=")

	w, _ = s.do(t, http.MethodPost, "/api/login", map[string]any{"email": "a@x.com", "password": "wrong-pass"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodPost, "/api/login", map[string]any{"email": "a@x.com", "password": "x"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeletedStudentSessionIsRejected(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := newServerWithRedis(t, rdb)

	s.do(t, http.MethodPost, "/api/students", registerBody("a@x.com"), false)
	w, _ := s.do(t, http.MethodPost, "/api/login", map[string]any{"email": "a@x.com", "password": "secret123"}, false)
	require.Equal(t, http.StatusOK, w.Code)

	var access string
	for _, ck := range w.Result().Cookies() {
		if ck.Name == helpers.AccessCookie {
			access = ck.Value
		}
	}
	require.NotEmpty(t, access)
	s.token = access

	w, _ = s.do(t, http.MethodGet, "/api/students", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodDelete, "/api/students?id=1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	w, env := s.do(t, http.MethodGet, "/api/students", nil, true)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, env.Success)
}

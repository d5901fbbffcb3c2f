package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/zip-merge/internal/config"
)

func newTestManager(t *testing.T, password string) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.AppUsername = "admin"
	cfg.SessionSecret = "test-secret"
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to hash password: %v", err)
		}
		cfg.AppPasswordHash = string(hash)
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewManager(cfg, logger)
}

func newRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(sessions.Sessions(SessionCookieName, cookie.NewStore([]byte("test-secret"))))
	router.POST("/login", m.Login)
	router.POST("/api/auth/login", m.Login)
	router.GET("/token", func(c *gin.Context) {
		token, err := CSRFToken(c)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, token)
	})
	protected := router.Group("")
	protected.Use(m.RequireLogin(), m.VerifyCSRF())
	protected.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "home") })
	protected.POST("/action", func(c *gin.Context) { c.String(http.StatusOK, "done") })
	protected.GET("/api/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return router
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

func jsonLogin(t *testing.T, router *gin.Engine, username, password string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRequireLoginDisabledPassesThrough(t *testing.T) {
	router := newRouter(newTestManager(t, ""))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireLoginRejectsAnonymous(t *testing.T) {
	router := newRouter(newTestManager(t, "secret"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status for api: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept", "text/html")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status for html: %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, LoginPath) {
		t.Fatalf("unexpected redirect: %s", loc)
	}
}

func TestLoginJSONAndCSRF(t *testing.T) {
	router := newRouter(newTestManager(t, "secret"))

	rec := jsonLogin(t, router, "admin", "secret")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected login status: %d body=%s", rec.Code, rec.Body.String())
	}
	token := rec.Header().Get(CSRFHeader)
	if token == "" {
		t.Fatal("expected CSRF token header")
	}
	cookie := sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodPost, "/action", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected CSRF rejection, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/action", nil)
	req.AddCookie(cookie)
	req.Header.Set(CSRFHeader, token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status with header token: %d", rec.Code)
	}

	form := url.Values{CSRFFormField: {token}}
	req = httptest.NewRequest(http.MethodPost, "/action", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status with form token: %d", rec.Code)
	}
}

func TestLoginFormRedirects(t *testing.T) {
	router := newRouter(newTestManager(t, "secret"))

	form := url.Values{"username": {"admin"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != LoginPath+"?error=INVALID_CREDENTIALS" {
		t.Fatalf("unexpected redirect: %s", loc)
	}

	form.Set("password", "secret")
	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/" {
		t.Fatalf("unexpected success response: %d %s", rec.Code, rec.Header().Get("Location"))
	}
}

func TestLoginRateLimit(t *testing.T) {
	router := newRouter(newTestManager(t, "secret"))

	for i := 0; i < maxLoginAttempts; i++ {
		rec := jsonLogin(t, router, "admin", "wrong")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: unexpected status %d", i, rec.Code)
		}
	}

	rec := jsonLogin(t, router, "admin", "secret")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected lockout, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestIdleTimeout(t *testing.T) {
	m := newTestManager(t, "secret")
	router := newRouter(m)

	rec := jsonLogin(t, router, "admin", "secret")
	cookie := sessionCookie(t, rec)

	m.now = func() time.Time { return time.Now().Add(idleTimeout + time.Minute) }
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["code"] != "SESSION_IDLE_TIMEOUT" {
		t.Fatalf("unexpected code: %s", payload["code"])
	}
}

func TestCSRFTokenIsStable(t *testing.T) {
	router := newRouter(newTestManager(t, ""))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/token", nil))
	first := rec.Body.String()
	cookie := sessionCookie(t, rec)

	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Body.String() != first {
		t.Fatalf("token changed: %s != %s", rec.Body.String(), first)
	}
}

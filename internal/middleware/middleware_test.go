package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/access"
	"mailroom/backend/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubChecker struct {
	decision  access.Decision
	principal *domain.Principal
	gotID     string
}

func (s *stubChecker) Check(ctx context.Context, profileID string, route access.Route) (access.Decision, *domain.Principal) {
	s.gotID = profileID
	return s.decision, s.principal
}

type stubTokens map[string]string

func (s stubTokens) ValidateAccessToken(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

type stubIPs struct {
	allowed map[string]bool
	err     error
}

func (s stubIPs) IsIPAllowed(ctx context.Context, ip string) (bool, error) {
	return s.allowed[ip], s.err
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAccessGate_Require(t *testing.T) {
	tokens := stubTokens{"good": "alice"}

	newRouter := func(checker *stubChecker) *gin.Engine {
		r := gin.New()
		r.GET("/mail",
			NewJWTAuth(tokens, nil).OptionalAuth(),
			NewAccessGate(checker).Require(access.RouteMailbox),
			func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"principal": Principal(c).ID})
			})
		return r
	}

	t.Run("放行并写入主体", func(t *testing.T) {
		checker := &stubChecker{decision: access.Allow(), principal: &domain.Principal{ID: "alice"}}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/mail", nil)
		req.Header.Set("Authorization", "Bearer good")
		newRouter(checker).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "alice", checker.gotID)
		assert.Equal(t, "alice", decodeBody(t, w)["principal"])
	})

	t.Run("重定向返回 303", func(t *testing.T) {
		checker := &stubChecker{decision: access.Redirect(access.LoginPath)}
		w := httptest.NewRecorder()
		newRouter(checker).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/mail", nil))

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, access.LoginPath, w.Header().Get("Location"))
		data := decodeBody(t, w)["data"].(map[string]interface{})
		assert.Equal(t, access.LoginPath, data["redirect"])
		assert.Empty(t, checker.gotID, "无令牌时按无会话处理")
	})

	t.Run("拒绝返回 404", func(t *testing.T) {
		checker := &stubChecker{decision: access.DenyNotFound()}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/mail", nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: "good"})
		newRouter(checker).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "alice", checker.gotID)
	})

	t.Run("无效令牌按无会话处理", func(t *testing.T) {
		checker := &stubChecker{decision: access.Redirect(access.LoginPath)}
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/mail", nil)
		req.Header.Set("Authorization", "Bearer forged")
		newRouter(checker).ServeHTTP(w, req)

		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Empty(t, checker.gotID)
	})
}

func TestJWTAuth_RequireAuth(t *testing.T) {
	r := gin.New()
	r.GET("/me", NewJWTAuth(stubTokens{"good": "alice"}, nil).RequireAuth(), func(c *gin.Context) {
		c.String(http.StatusOK, ProfileID(c))
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"有效令牌", "Bearer good", http.StatusOK},
		{"缺少令牌", "", http.StatusUnauthorized},
		{"无效令牌", "Bearer bad", http.StatusUnauthorized},
		{"非 Bearer", "Basic good", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestAdminIPAllowlist(t *testing.T) {
	newRouter := func(checker IPChecker) *gin.Engine {
		r := gin.New()
		r.GET("/admin", AdminIPAllowlist(checker, nil), func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}
	serve := func(r *gin.Engine, ip string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.RemoteAddr = ip + ":1234"
		r.ServeHTTP(w, req)
		return w.Code
	}

	r := newRouter(stubIPs{allowed: map[string]bool{"10.0.0.1": true}})
	assert.Equal(t, http.StatusOK, serve(r, "10.0.0.1"))
	assert.Equal(t, http.StatusNotFound, serve(r, "10.0.0.2"))

	t.Run("查询失败时拒绝", func(t *testing.T) {
		r := newRouter(stubIPs{allowed: map[string]bool{"10.0.0.1": true}, err: errors.New("db down")})
		assert.Equal(t, http.StatusNotFound, serve(r, "10.0.0.1"))
	})
}

func TestIPRateLimiter(t *testing.T) {
	limiter := NewIPRateLimiter("auth", 1, 2, time.Minute, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("1.1.1.1"))
	assert.True(t, limiter.Allow("1.1.1.1"))
	assert.False(t, limiter.Allow("1.1.1.1"), "突发耗尽")
	assert.True(t, limiter.Allow("2.2.2.2"), "不同 IP 独立计数")

	now = now.Add(time.Second)
	assert.True(t, limiter.Allow("1.1.1.1"), "令牌按速率补充")

	t.Run("中间件返回 429", func(t *testing.T) {
		r := gin.New()
		r.POST("/login", NewIPRateLimiter("auth", 0.001, 1, time.Minute, nil).Middleware(), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
		codes := make([]int, 0, 2)
		for i := 0; i < 2; i++ {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
			codes = append(codes, w.Code)
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
	})
}

func TestBodySizeLimit(t *testing.T) {
	r := gin.New()
	r.POST("/upload", BodySizeLimit(8), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("0123456789")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("ok")))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryHandler(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryHandler(nil, nil), SecurityHeaders())
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, float64(http.StatusInternalServerError), decodeBody(t, w)["code"])
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/access"
	"mailroom/backend/internal/auth"
	"mailroom/backend/internal/auth/jwt"
	"mailroom/backend/internal/cache"
	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/identity"
	"mailroom/backend/internal/payment"
	"mailroom/backend/internal/service"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/memory"
)

type stubGateway struct{}

func (stubGateway) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	return &payment.Invoice{ID: "inv-" + req.ExternalID, InvoiceURL: "https://pay.example.com/" + req.ExternalID}, nil
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
	tokens *jwt.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.NewStore()
	tokens := jwt.NewManager("router-test-secret-0123456789abcdef", "mailroom", 15*time.Minute, time.Hour)

	mail := service.NewMailService(store, nil, config.MailConfig{PageSize: 12, MaxRows: 1000}, nil, nil)
	lockers := service.NewLockerService(store, nil, nil)
	referrals := service.NewReferralService(store, config.ReferralConfig{MaxAttempts: 10, SuffixLength: 4}, nil, nil)
	billing := service.NewBillingService(store, stubGateway{}, lockers, referrals, config.PaymentConfig{
		CallbackSecret: "callback-secret",
		Currency:       "USD",
	}, nil, nil)
	admin := service.NewAdminService(store, mail, nil)
	authService := auth.NewService(store, tokens, cache.NewAttemptCounter(ctx), referrals, nil, nil)

	hc := health.NewHealthChecker(nil)
	hc.AddDependency("store", store)

	router := NewRouter(RouterDependencies{
		Config:          &config.Config{CORS: config.CORSConfig{AllowedOrigins: []string{"*"}}},
		AuthService:     authService,
		MailService:     mail,
		LockerService:   lockers,
		BillingService:  billing,
		ReferralService: referrals,
		AdminService:    admin,
		Gate:            access.NewGate(identity.NewResolver(store), store, nil, nil),
		Health:          hc,
	})
	return &testServer{router: router, store: store, tokens: tokens}
}

// seed 写入档案并返回访问令牌
func (s *testServer) seed(t *testing.T, id string, role domain.Role, plan domain.PlanType, kyc domain.KYCStatus) string {
	t.Helper()
	email := id + "@example.com"
	require.NoError(t, s.store.CreateProfile(context.Background(), &domain.Profile{
		ID:        id,
		Email:     email,
		Role:      role,
		PlanType:  plan,
		KYCStatus: kyc,
		IsActive:  true,
	}))
	pair, err := s.tokens.GenerateTokenPair(id, email, string(role))
	require.NoError(t, err)
	return pair.AccessToken
}

func (s *testServer) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.10:4321"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRouter_AccessPolicy(t *testing.T) {
	s := newTestServer(t)
	free := s.seed(t, "free", domain.RoleEndUser, domain.PlanFree, domain.KYCApproved)
	pending := s.seed(t, "pending", domain.RoleEndUser, domain.PlanPremium, domain.KYCPending)
	paid := s.seed(t, "paid", domain.RoleEndUser, domain.PlanPremium, domain.KYCApproved)
	operator := s.seed(t, "operator", domain.RoleOperator, domain.PlanFree, domain.KYCNotStarted)
	admin := s.seed(t, "admin", domain.RoleSystemAdmin, domain.PlanFree, domain.KYCNotStarted)

	t.Run("未登录重定向到登录页", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/mail", "", nil)
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, access.LoginPath, w.Header().Get("Location"))

		body := decode(t, w)
		assert.Equal(t, "redirect", body["msg"])
		assert.Equal(t, access.LoginPath, body["data"].(map[string]interface{})["redirect"])
	})

	t.Run("无效令牌按未登录处理", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/auth/me", "not-a-token", nil)
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, access.LoginPath, w.Header().Get("Location"))
	})

	t.Run("免费套餐访问付费路由返回404", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/lockers/box-1/fit?width=1&height=1&depth=1", free, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("KYC审核中重定向到核验页", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/mail", pending, nil)
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, access.KYCIntakePath, w.Header().Get("Location"))
	})

	t.Run("普通用户访问管理路由重定向首页", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/admin/users", paid, nil)
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, access.HomePath, w.Header().Get("Location"))
	})

	t.Run("运营访问仅管理员路由重定向运营首页", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/admin/packages", operator, nil)
		assert.Equal(t, http.StatusSeeOther, w.Code)
		assert.Equal(t, access.OperatorHomePath, w.Header().Get("Location"))

		w = s.do(http.MethodGet, "/v1/admin/actions", operator, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("管理边界决策写入审计日志", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/admin/users", admin, nil)
		require.Equal(t, http.StatusOK, w.Code)

		logs, total, err := s.store.ListAccessLogs(context.Background(), storage.AccessLogFilter{Limit: 100})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, total, int64(1))
		assert.NotEmpty(t, logs)
	})

	t.Run("已停用账户以不存在拒绝", func(t *testing.T) {
		profile, err := s.store.GetProfile(context.Background(), "paid")
		require.NoError(t, err)
		profile.IsActive = false
		require.NoError(t, s.store.UpdateProfile(context.Background(), profile))

		w := s.do(http.MethodGet, "/v1/mail", paid, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouter_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	paid := s.seed(t, "paid", domain.RoleEndUser, domain.PlanPremium, domain.KYCApproved)

	t.Run("邮件不存在返回404", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/mail/missing", paid, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("尺寸参数非法返回400", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/lockers/box-1/fit?width=abc&height=1&depth=1", paid, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("不支持的操作类型返回400", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/mail/missing/actions", paid, gin.H{"actionType": "BURN"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("回调签名无效返回403", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/payments/callback", bytes.NewReader([]byte(`{"externalId":"x","status":"paid"}`)))
		req.Header.Set(payment.SignatureHeader, "bad")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("空列表分页", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/mail?page=1&statusFilter=all", paid, nil)
		require.Equal(t, http.StatusOK, w.Code)
		data := decode(t, w)["data"].(map[string]interface{})
		assert.EqualValues(t, 0, data["total"])
	})
}

func TestRouter_AuthFlow(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"email": "new@example.com", "password": "Password123!"})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("密码错误返回401", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "new@example.com", "password": "wrong-password"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, MsgInvalidCredentials, decode(t, w)["msg"])
	})

	t.Run("登录后访问账户接口", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/auth/login", "", gin.H{"email": "new@example.com", "password": "Password123!"})
		require.Equal(t, http.StatusOK, w.Code)

		data := decode(t, w)["data"].(map[string]interface{})
		token := data["tokens"].(map[string]interface{})["accessToken"].(string)

		w = s.do(http.MethodGet, "/v1/auth/me", token, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = s.do(http.MethodPost, "/v1/referrals/code", token, nil)
		require.Equal(t, http.StatusOK, w.Code)
		code := decode(t, w)["data"].(map[string]interface{})["referralCode"]
		assert.NotEmpty(t, code)
	})

	t.Run("重复注册返回409", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/auth/register", "", gin.H{"email": "new@example.com", "password": "Password123!"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestRouter_AdminIPAllowlist(t *testing.T) {
	s := newTestServer(t)
	admin := s.seed(t, "admin", domain.RoleSystemAdmin, domain.PlanFree, domain.KYCNotStarted)

	w := s.do(http.MethodPost, "/v1/admin/settings/ip-allowlist", admin, gin.H{"ip": "10.0.0.1"})
	require.Equal(t, http.StatusCreated, w.Code)

	t.Run("白名单外的地址以不存在拒绝", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/admin/users", admin, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("非管理接口不受影响", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/auth/me", admin, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRouter_Health(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", decode(t, w)["store"])
}

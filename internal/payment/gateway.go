package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
)

// Collaborator 错误与指标中使用的协作方名称
const Collaborator = "payment-gateway"

// SignatureHeader 回调请求携带 HMAC 签名的头
const SignatureHeader = "X-Callback-Signature"

// CallbackStatus 网关回调的支付状态
type CallbackStatus string

const (
	CallbackPaid    CallbackStatus = "paid"
	CallbackFailed  CallbackStatus = "failed"
	CallbackExpired CallbackStatus = "expired"
)

// InvoiceRequest 创建账单请求
type InvoiceRequest struct {
	ExternalID  string `json:"external_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PayerEmail  string `json:"payer_email"`
	Description string `json:"description"`
}

// Invoice 网关返回的账单
type Invoice struct {
	ID         string `json:"id"`
	InvoiceURL string `json:"invoice_url"`
}

// Callback 网关回调载荷，ExternalID 即订阅 ID
type Callback struct {
	ExternalID string         `json:"external_id"`
	Status     CallbackStatus `json:"status"`
	Amount     int64          `json:"amount"`
}

// Gateway 外部支付网关
type Gateway interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
}

// HTTPGateway 基于 HTTP 的支付网关客户端
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPGateway 创建网关客户端，调用受 Timeout 限制
func NewHTTPGateway(cfg config.PaymentConfig) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateInvoice 网关失败一律包装为 UPSTREAM
func (g *HTTPGateway) CreateInvoice(ctx context.Context, in InvoiceRequest) (*Invoice, error) {
	if g.baseURL == "" {
		return nil, domain.Upstream(Collaborator, errors.New("gateway is not configured"))
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2/invoices", bytes.NewReader(payload))
	if err != nil {
		return nil, domain.Upstream(Collaborator, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(g.apiKey, "")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, domain.Upstream(Collaborator, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, domain.Upstream(Collaborator, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var invoice Invoice
	if err := json.Unmarshal(body, &invoice); err != nil {
		return nil, domain.Upstream(Collaborator, fmt.Errorf("failed to decode invoice: %w", err))
	}
	if invoice.InvoiceURL == "" {
		return nil, domain.Upstream(Collaborator, errors.New("invoice url missing in response"))
	}
	return &invoice, nil
}

// Sign 生成 HMAC-SHA256 签名
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifyCallback 校验签名后解析回调，签名不符返回 UNAUTHORIZED
func VerifyCallback(payload []byte, signature, secret string) (*Callback, error) {
	if secret == "" {
		return nil, domain.Unauthorized("callback secret is not configured")
	}
	if !hmac.Equal([]byte(Sign(payload, secret)), []byte(strings.TrimSpace(signature))) {
		return nil, domain.Unauthorized("invalid callback signature")
	}

	var cb Callback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, domain.Validation("malformed callback payload")
	}
	if cb.ExternalID == "" {
		return nil, domain.Validation("callback external_id is required")
	}
	return &cb, nil
}

package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
)

const collaborator = "artifact-store"

// ErrInvalidToken 签名 URL 令牌无效或已过期
var ErrInvalidToken = errors.New("invalid artifact token")

type claims struct {
	Ref string `json:"ref"`
	jwt.RegisteredClaims
}

// Signer 为扫描件引用签发限时访问 URL
type Signer struct {
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewSigner 创建签名器
func NewSigner(cfg config.ArtifactConfig) *Signer {
	return &Signer{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		secret:  []byte(cfg.SigningSecret),
		now:     time.Now,
	}
}

// IssueSignedURL 生成 BaseURL/ref?token=...，令牌在 ttl 后失效
func (s *Signer) IssueSignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", domain.Validation("artifact reference is required")
	}
	if s.baseURL == "" || len(s.secret) == 0 {
		return "", domain.Upstream(collaborator, errors.New("signer is not configured"))
	}
	if ttl <= 0 {
		return "", domain.Validation("signed url ttl must be positive")
	}

	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Ref: ref,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", domain.Upstream(collaborator, fmt.Errorf("failed to sign token: %w", err))
	}

	return s.baseURL + "/" + url.PathEscape(ref) + "?token=" + url.QueryEscape(signed), nil
}

// Verify 校验令牌并返回其授权访问的引用
func (s *Signer) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Ref == "" {
		return "", ErrInvalidToken
	}
	return c.Ref, nil
}

package artifact

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
)

func newTestSigner() *Signer {
	return NewSigner(config.ArtifactConfig{
		BaseURL:       "https://files.example.com/scans/",
		SigningSecret: "artifact-secret-artifact-secret-0123",
	})
}

func tokenOf(t *testing.T, signed string) string {
	u, err := url.Parse(signed)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestSigner_IssueAndVerify(t *testing.T) {
	ctx := context.Background()
	signer := newTestSigner()

	t.Run("签发并校验", func(t *testing.T) {
		signed, err := signer.IssueSignedURL(ctx, "item-1/full.pdf", 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(signed, "https://files.example.com/scans/item-1%2Ffull.pdf?token="))

		ref, err := signer.Verify(tokenOf(t, signed))
		require.NoError(t, err)
		assert.Equal(t, "item-1/full.pdf", ref)
	})

	t.Run("过期令牌", func(t *testing.T) {
		signed, err := signer.IssueSignedURL(ctx, "env.png", time.Minute)
		require.NoError(t, err)

		later := newTestSigner()
		later.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		_, err = later.Verify(tokenOf(t, signed))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("密钥不同", func(t *testing.T) {
		signed, err := signer.IssueSignedURL(ctx, "env.png", time.Minute)
		require.NoError(t, err)

		other := NewSigner(config.ArtifactConfig{BaseURL: "https://x", SigningSecret: "another-secret"})
		_, err = other.Verify(tokenOf(t, signed))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("空引用", func(t *testing.T) {
		_, err := signer.IssueSignedURL(ctx, "  ", time.Minute)
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("未配置", func(t *testing.T) {
		_, err := NewSigner(config.ArtifactConfig{}).IssueSignedURL(ctx, "env.png", time.Minute)
		assert.ErrorIs(t, err, domain.ErrUpstream)
	})
}

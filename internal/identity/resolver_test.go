package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage/memory"
)

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	resolver := NewResolver(store)

	seed := func(id string, role domain.Role, active bool) {
		require.NoError(t, store.CreateProfile(ctx, &domain.Profile{
			ID:        id,
			Email:     id + "@example.com",
			Role:      role,
			PlanType:  domain.PlanBasic,
			KYCStatus: domain.KYCApproved,
			IsActive:  active,
		}))
	}
	seed("user", domain.RoleEndUser, true)
	seed("member", domain.RoleEndUser, true)
	seed("stale-member", domain.RoleBusinessMember, true)
	seed("operator", domain.RoleOperator, true)
	seed("admin", domain.RoleSystemAdmin, true)
	seed("disabled", domain.RoleSystemAdmin, false)

	require.NoError(t, store.CreateBusinessAccount(ctx, &domain.BusinessAccount{ID: "biz", Name: "Acme"}))
	require.NoError(t, store.AddBusinessMember(ctx, &domain.BusinessMember{ProfileID: "member", BusinessAccountID: "biz"}))
	require.NoError(t, store.AddBusinessMember(ctx, &domain.BusinessMember{ProfileID: "admin", BusinessAccountID: "biz"}))

	tests := []struct {
		name     string
		id       string
		wantRole domain.Role
		wantBiz  bool
	}{
		{"普通用户", "user", domain.RoleEndUser, false},
		{"企业成员", "member", domain.RoleBusinessMember, true},
		{"无成员关系时降为普通用户", "stale-member", domain.RoleEndUser, false},
		{"运营", "operator", domain.RoleOperator, false},
		{"管理员优先于企业成员", "admin", domain.RoleSystemAdmin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := resolver.Resolve(ctx, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, p.Role)
			assert.Equal(t, tt.wantBiz, p.BusinessAccountID != nil)
			assert.Equal(t, domain.PlanBasic, p.PlanType)
		})
	}

	t.Run("档案不存在", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("停用档案视为不存在", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "disabled")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("空 ID", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

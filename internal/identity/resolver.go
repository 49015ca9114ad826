package identity

import (
	"context"
	"errors"

	"mailroom/backend/internal/domain"
)

// ProfileSource 解析身份所需的存储能力
type ProfileSource interface {
	GetProfile(ctx context.Context, id string) (*domain.Profile, error)
	GetMembership(ctx context.Context, profileID string) (*domain.BusinessMember, error)
}

// Resolver 把档案与企业成员关系合成为 Principal
type Resolver struct {
	store ProfileSource
}

// NewResolver 创建身份解析器
func NewResolver(store ProfileSource) *Resolver {
	return &Resolver{store: store}
}

// Resolve 角色优先级：SYSTEM_ADMIN > OPERATOR > BUSINESS_MEMBER > END_USER。
// 档案不存在或已停用时返回 NOT_FOUND，调用方不得退化为默认角色。
func (r *Resolver) Resolve(ctx context.Context, profileID string) (*domain.Principal, error) {
	if profileID == "" {
		return nil, domain.NotFound("profile")
	}

	profile, err := r.store.GetProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if !profile.IsActive {
		return nil, domain.NotFound("profile")
	}

	principal := &domain.Principal{
		ID:        profile.ID,
		Email:     profile.Email,
		PlanType:  profile.PlanType,
		KYCStatus: profile.KYCStatus,
	}

	member, err := r.store.GetMembership(ctx, profile.ID)
	switch {
	case err == nil && member != nil:
		bizID := member.BusinessAccountID
		principal.BusinessAccountID = &bizID
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	principal.Role = resolveRole(profile.Role, principal.BusinessAccountID != nil)
	return principal, nil
}

func resolveRole(stored domain.Role, hasMembership bool) domain.Role {
	switch stored {
	case domain.RoleSystemAdmin, domain.RoleOperator:
		return stored
	case domain.RoleBusinessMember, domain.RoleEndUser:
	}
	if hasMembership {
		return domain.RoleBusinessMember
	}
	return domain.RoleEndUser
}

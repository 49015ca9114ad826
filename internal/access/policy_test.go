package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/memory"
)

func principal(role domain.Role, plan domain.PlanType, kyc domain.KYCStatus) *domain.Principal {
	return &domain.Principal{ID: "p-1", Role: role, PlanType: plan, KYCStatus: kyc}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name      string
		principal *domain.Principal
		route     Route
		want      Decision
	}{
		{"未登录访问需登录路由", nil, RouteMailbox, Redirect(LoginPath)},
		{"未登录访问管理路由先跳登录", nil, RouteAdminSettings, Redirect(LoginPath)},
		{"普通用户访问管理路由", principal(domain.RoleEndUser, domain.PlanPremium, domain.KYCApproved), RouteOperator, Redirect(HomePath)},
		{"企业成员访问管理路由", principal(domain.RoleBusinessMember, domain.PlanBusiness, domain.KYCApproved), RouteAdminUsers, Redirect(HomePath)},
		{"运营访问仅管理员路由", principal(domain.RoleOperator, domain.PlanFree, domain.KYCNotStarted), RouteAdminSettings, Redirect(OperatorHomePath)},
		{"运营访问用户管理", principal(domain.RoleOperator, domain.PlanFree, domain.KYCNotStarted), RouteAdminUsers, Allow()},
		{"管理员访问设置", principal(domain.RoleSystemAdmin, domain.PlanFree, domain.KYCNotStarted), RouteAdminSettings, Allow()},
		{"免费用户访问付费路由不可见", principal(domain.RoleEndUser, domain.PlanFree, domain.KYCApproved), RouteMailActions, DenyNotFound()},
		{"未知套餐按免费处理", principal(domain.RoleEndUser, domain.PlanType("GOLD"), domain.KYCApproved), RouteParcelFit, DenyNotFound()},
		{"付费检查先于 KYC", principal(domain.RoleEndUser, domain.PlanFree, domain.KYCPending), RouteMailActions, DenyNotFound()},
		{"KYC 审核中", principal(domain.RoleEndUser, domain.PlanBasic, domain.KYCPending), RouteMailActions, Redirect(KYCIntakePath)},
		{"KYC 被拒", principal(domain.RoleEndUser, domain.PlanFree, domain.KYCRejected), RouteMailbox, Redirect(KYCIntakePath)},
		{"KYC 未开始不重定向", principal(domain.RoleEndUser, domain.PlanFree, domain.KYCNotStarted), RouteMailbox, Allow()},
		{"付费且已核验", principal(domain.RoleEndUser, domain.PlanBasic, domain.KYCApproved), RouteBusinessMail, Allow()},
		{"账户页只需登录", principal(domain.RoleEndUser, domain.PlanFree, domain.KYCRejected), RouteAccount, Allow()},
		{"公开路由允许匿名", nil, Route{Name: "public"}, Allow()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.principal, tt.route))
		})
	}
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(context.Context, string) (*domain.Principal, error) {
	return nil, f.err
}

type failingAudit struct{}

func (failingAudit) AppendAccessLog(context.Context, *domain.AccessLog) error {
	return errors.New("disk full")
}

type recorder struct{ outcomes []string }

func (r *recorder) RecordAccessDecision(route, outcome string) {
	r.outcomes = append(r.outcomes, route+":"+outcome)
}

type staticResolver struct{ p *domain.Principal }

func (s staticResolver) Resolve(context.Context, string) (*domain.Principal, error) {
	return s.p, nil
}

func TestGate_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("管理边界写入审计日志", func(t *testing.T) {
		store := memory.NewStore()
		rec := &recorder{}
		gate := NewGate(staticResolver{principal(domain.RoleOperator, domain.PlanFree, domain.KYCNotStarted)}, store, rec, nil)

		decision, p := gate.Check(ctx, "op-1", RouteAdminPackages)
		assert.Equal(t, Redirect(OperatorHomePath), decision)
		require.NotNil(t, p)

		logs, total, err := store.ListAccessLogs(ctx, storage.AccessLogFilter{})
		require.NoError(t, err)
		require.Equal(t, int64(1), total)
		assert.Equal(t, "admin-packages", logs[0].Route)
		assert.Equal(t, string(OutcomeRedirect), logs[0].Outcome)
		assert.Equal(t, OperatorHomePath, logs[0].Target)
		require.NotNil(t, logs[0].PrincipalID)
		assert.Equal(t, "op-1", *logs[0].PrincipalID)
		assert.Equal(t, []string{"admin-packages:REDIRECT"}, rec.outcomes)
	})

	t.Run("非管理路由不写审计", func(t *testing.T) {
		store := memory.NewStore()
		gate := NewGate(staticResolver{principal(domain.RoleEndUser, domain.PlanBasic, domain.KYCApproved)}, store, nil, nil)

		decision, _ := gate.Check(ctx, "u-1", RouteMailbox)
		assert.True(t, decision.Allowed())

		_, total, err := store.ListAccessLogs(ctx, storage.AccessLogFilter{})
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("匿名访问管理路由也记录", func(t *testing.T) {
		store := memory.NewStore()
		gate := NewGate(staticResolver{}, store, nil, nil)

		decision, p := gate.Check(ctx, "", RouteOperator)
		assert.Equal(t, Redirect(LoginPath), decision)
		assert.Nil(t, p)

		logs, _, err := store.ListAccessLogs(ctx, storage.AccessLogFilter{})
		require.NoError(t, err)
		require.Len(t, logs, 1)
		assert.Nil(t, logs[0].PrincipalID)
	})

	t.Run("档案缺失时拒绝而非默认角色", func(t *testing.T) {
		gate := NewGate(failingResolver{err: domain.NotFound("profile")}, nil, nil, nil)
		decision, p := gate.Check(ctx, "ghost", RouteAccount)
		assert.Equal(t, DenyNotFound(), decision)
		assert.Nil(t, p)
	})

	t.Run("存储故障同样拒绝", func(t *testing.T) {
		gate := NewGate(failingResolver{err: errors.New("connection refused")}, nil, nil, nil)
		decision, _ := gate.Check(ctx, "u-1", RouteMailbox)
		assert.Equal(t, OutcomeDenyNotFound, decision.Outcome)
	})

	t.Run("审计失败不影响决策", func(t *testing.T) {
		gate := NewGate(staticResolver{principal(domain.RoleSystemAdmin, domain.PlanFree, domain.KYCNotStarted)}, failingAudit{}, nil, nil)
		decision, _ := gate.Check(ctx, "admin", RouteAdminSettings)
		assert.True(t, decision.Allowed())
	})
}

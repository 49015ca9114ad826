package access

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
)

// PrincipalResolver 由会话中的档案 ID 解析主体
type PrincipalResolver interface {
	Resolve(ctx context.Context, profileID string) (*domain.Principal, error)
}

// AuditSink 访问审计日志存储
type AuditSink interface {
	AppendAccessLog(ctx context.Context, entry *domain.AccessLog) error
}

// DecisionRecorder 访问决策指标
type DecisionRecorder interface {
	RecordAccessDecision(route, outcome string)
}

// Gate 在每个边界上解析主体并调用 Decide
type Gate struct {
	resolver PrincipalResolver
	audit    AuditSink
	metrics  DecisionRecorder
	log      *zap.Logger
	now      func() time.Time
}

// NewGate 创建访问闸门，metrics 可为 nil
func NewGate(resolver PrincipalResolver, audit AuditSink, metrics DecisionRecorder, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{
		resolver: resolver,
		audit:    audit,
		metrics:  metrics,
		log:      log.Named("access"),
		now:      time.Now,
	}
}

// Check profileID 为空表示无会话。会话存在但主体无法解析时以不存在拒绝，不退化为默认角色。
func (g *Gate) Check(ctx context.Context, profileID string, route Route) (Decision, *domain.Principal) {
	decision, principal := g.evaluate(ctx, profileID, route)

	if g.metrics != nil {
		g.metrics.RecordAccessDecision(route.Name, string(decision.Outcome))
	}
	if route.IsAdminGated() {
		g.record(ctx, profileID, route, decision)
	}
	return decision, principal
}

func (g *Gate) evaluate(ctx context.Context, profileID string, route Route) (Decision, *domain.Principal) {
	if profileID == "" {
		return Decide(nil, route), nil
	}

	principal, err := g.resolver.Resolve(ctx, profileID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			g.log.Error("principal resolution failed",
				zap.String("principal_id", profileID),
				zap.String("route", route.Name),
				zap.Error(err),
			)
		}
		return DenyNotFound(), nil
	}
	return Decide(principal, route), principal
}

func (g *Gate) record(ctx context.Context, profileID string, route Route, decision Decision) {
	g.log.Info("admin access decision",
		zap.String("principal_id", profileID),
		zap.String("route", route.Name),
		zap.String("outcome", string(decision.Outcome)),
		zap.String("target", decision.Target),
	)

	if g.audit == nil {
		return
	}
	entry := &domain.AccessLog{
		ID:        uuid.New().String(),
		Route:     route.Name,
		Outcome:   string(decision.Outcome),
		Target:    decision.Target,
		CreatedAt: g.now().UTC(),
	}
	if profileID != "" {
		id := profileID
		entry.PrincipalID = &id
	}
	// 审计写入失败不改变决策
	if err := g.audit.AppendAccessLog(ctx, entry); err != nil {
		g.log.Error("failed to append access log",
			zap.String("principal_id", profileID),
			zap.String("route", route.Name),
			zap.Error(err),
		)
	}
}

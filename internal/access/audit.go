package access

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mailroom/backend/internal/domain"
)

const auditWriteTimeout = 5 * time.Second

// TaskSubmitter 非阻塞提交后台任务
type TaskSubmitter interface {
	TrySubmit(task func()) bool
}

// AsyncAuditSink 把审计写入转交后台协程池；队列满时在当前请求内同步写入，不丢记录
type AsyncAuditSink struct {
	sink AuditSink
	pool TaskSubmitter
	log  *zap.Logger
}

// NewAsyncAuditSink 创建异步审计写入器
func NewAsyncAuditSink(sink AuditSink, pool TaskSubmitter, log *zap.Logger) *AsyncAuditSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &AsyncAuditSink{sink: sink, pool: pool, log: log.Named("audit")}
}

// AppendAccessLog 实现 AuditSink
func (a *AsyncAuditSink) AppendAccessLog(ctx context.Context, entry *domain.AccessLog) error {
	// 请求结束后 ctx 会被取消，后台写入只继承其值
	detached := context.WithoutCancel(ctx)
	write := func() error {
		writeCtx, cancel := context.WithTimeout(detached, auditWriteTimeout)
		defer cancel()
		return a.sink.AppendAccessLog(writeCtx, entry)
	}

	if a.pool != nil && a.pool.TrySubmit(func() {
		if err := write(); err != nil {
			a.log.Error("failed to append access log",
				zap.String("route", entry.Route),
				zap.String("outcome", entry.Outcome),
				zap.Error(err),
			)
		}
	}) {
		return nil
	}
	return write()
}

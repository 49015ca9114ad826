package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const checkTimeout = 3 * time.Second

// Dependency 可探测的下游依赖
type Dependency interface {
	Health(ctx context.Context) error
}

// DependencyFunc 函数形式的依赖探测
type DependencyFunc func(ctx context.Context) error

// Health 实现 Dependency
func (f DependencyFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// HealthChecker 健康检查器，存活检查只看进程自身，就绪检查探测存储与缓存
type HealthChecker struct {
	health    healthcheck.Handler
	mu        sync.RWMutex
	deps      map[string]Dependency
	logger    *zap.Logger
	startTime time.Time
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health:    healthcheck.NewHandler(),
		deps:      make(map[string]Dependency),
		logger:    logger.Named("health"),
		startTime: time.Now(),
	}
	hc.health.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	return hc
}

// AddDependency 注册就绪检查
func (hc *HealthChecker) AddDependency(name string, dep Dependency) {
	hc.mu.Lock()
	hc.deps[name] = dep
	hc.mu.Unlock()

	hc.health.AddReadinessCheck(name, healthcheck.Timeout(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		if err := dep.Health(ctx); err != nil {
			hc.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			return err
		}
		return nil
	}, checkTimeout))
}

// Handler 提供 /live 与 /ready
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// CheckHealth 执行全部依赖检查并汇总
func (hc *HealthChecker) CheckHealth(ctx context.Context) map[string]string {
	hc.mu.RLock()
	names := make([]string, 0, len(hc.deps))
	for name := range hc.deps {
		names = append(names, name)
	}
	hc.mu.RUnlock()
	sort.Strings(names)

	results := make(map[string]string, len(names)+2)
	for _, name := range names {
		hc.mu.RLock()
		dep := hc.deps[name]
		hc.mu.RUnlock()

		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := dep.Health(checkCtx)
		cancel()
		if err != nil {
			results[name] = fmt.Sprintf("ERROR: %v", err)
		} else {
			results[name] = "OK"
		}
	}

	results["uptime"] = time.Since(hc.startTime).Round(time.Second).String()
	results["timestamp"] = time.Now().Format(time.RFC3339)
	return results
}

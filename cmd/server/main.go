package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailroom/backend/internal/access"
	"mailroom/backend/internal/artifact"
	"mailroom/backend/internal/auth"
	"mailroom/backend/internal/auth/jwt"
	"mailroom/backend/internal/cache"
	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/identity"
	"mailroom/backend/internal/logger"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/payment"
	"mailroom/backend/internal/pool"
	"mailroom/backend/internal/service"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/hybrid"
	"mailroom/backend/internal/storage/memory"
	"mailroom/backend/internal/storage/postgres"
	httptransport "mailroom/backend/internal/transport/http"
)

const version = "0.1.0"

// main 启动数字收发室 HTTP 服务。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.FromAppConfig(cfg.Log))
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() { _ = log.Sync() }()

	log.Info("starting mailroom server",
		zap.String("version", version),
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 初始化监控系统
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)

	// 初始化存储层
	store, attempts, err := initializeStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("storage close warning", zap.Error(err))
		}
	}()

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(log)
	healthChecker.AddDependency("store", store)

	// 初始化服务层
	signer := artifact.NewSigner(cfg.Artifact)
	gateway := payment.NewHTTPGateway(cfg.Payment)

	mailService := service.NewMailService(store, signer, cfg.Mail, metrics, log)
	lockerService := service.NewLockerService(store, metrics, log)
	referralService := service.NewReferralService(store, cfg.Referral, metrics, log)
	billingService := service.NewBillingService(store, gateway, lockerService, referralService, cfg.Payment, metrics, log)
	adminService := service.NewAdminService(store, mailService, log)

	// 初始化认证服务
	jwtManager := jwt.NewManager(
		cfg.JWT.Secret,
		cfg.JWT.Issuer,
		cfg.JWT.AccessExpiry,
		cfg.JWT.RefreshExpiry,
	)
	authService := auth.NewService(store, jwtManager, attempts, referralService, metrics, log)

	log.Info("JWT configuration",
		zap.String("issuer", cfg.JWT.Issuer),
		zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
		zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
	)

	// 访问策略，审计日志经协程池异步写入
	auditPool := pool.NewWorkerPool(4, 1024, log)
	auditPool.Start(context.WithoutCancel(ctx))
	defer auditPool.Stop()
	auditSink := access.NewAsyncAuditSink(store, auditPool, log)
	gate := access.NewGate(identity.NewResolver(store), auditSink, metrics, log)

	// 创建默认管理员与套餐（仅用于开发测试）
	if cfg.Log.Development {
		seedDevelopmentData(ctx, store, authService, billingService, log)
	}

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:          cfg,
		AuthService:     authService,
		MailService:     mailService,
		LockerService:   lockerService,
		BillingService:  billingService,
		ReferralService: referralService,
		AdminService:    adminService,
		Gate:            gate,
		Health:          healthChecker,
		Metrics:         metrics,
		Logger:          log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 运行时长指标 goroutine
	group.Go(func() error {
		started := time.Now()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				metrics.UpdateSystemUptime(time.Since(started))
			}
		}
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 按配置选择存储与登录计数器
//
// 未配置数据库时使用内存存储；配置了 Redis 时使用混合存储，登录计数也放在 Redis 中，
// 否则登录计数保存在本进程内。
func initializeStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (storage.Store, auth.AttemptLimiter, error) {
	if cfg.Database.Type == "" || cfg.Database.DSN == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), cache.NewAttemptCounter(ctx), nil
	}

	log.Info("initializing database storage",
		zap.String("database_type", cfg.Database.Type),
		zap.String("redis_address", cfg.Redis.Address),
	)

	if cfg.Redis.Address != "" {
		store, err := hybrid.NewStore(cfg.Database, cfg.Redis, log)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create hybrid store: %w", err)
		}
		log.Info("database storage initialized with redis cache",
			zap.String("database_type", cfg.Database.Type),
		)
		return store, store.Cache(), nil
	}

	store, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	log.Info("database storage initialized",
		zap.String("database_type", cfg.Database.Type),
	)
	return store, cache.NewAttemptCounter(ctx), nil
}

// seedDevelopmentData 创建默认管理员和付费套餐（仅用于开发测试）
func seedDevelopmentData(ctx context.Context, store storage.Store, authService *auth.Service, billing *service.BillingService, log *zap.Logger) {
	const (
		email    = "admin@mailroom.local"
		password = "Admin123456!"
	)

	profile, err := store.GetProfileByEmail(ctx, email)
	if err != nil {
		result, regErr := authService.Register(ctx, auth.RegisterInput{Email: email, Password: password})
		if regErr != nil {
			log.Error("创建默认管理员失败", zap.Error(regErr))
			return
		}
		profile = result.Profile
		profile.Role = domain.RoleSystemAdmin
		profile.EmailConfirmed = true
		if err := store.UpdateProfile(ctx, profile); err != nil {
			log.Error("提升默认管理员失败", zap.Error(err))
			return
		}
		log.Warn("默认管理员用户已创建（仅用于开发环境）",
			zap.String("email", email),
			zap.String("password", password),
		)
	}

	admin := &domain.Principal{ID: profile.ID, Email: profile.Email, Role: domain.RoleSystemAdmin}
	for _, plan := range []service.PlanInput{
		{PlanType: domain.PlanBasic, Name: "Basic", MonthlyPrice: 999},
		{PlanType: domain.PlanPremium, Name: "Premium", MonthlyPrice: 1999},
		{PlanType: domain.PlanBusiness, Name: "Business", MonthlyPrice: 4999},
	} {
		if _, err := billing.CreatePlan(ctx, admin, plan); err != nil && !errors.Is(err, domain.ErrPlanTypeExists) {
			log.Warn("failed to seed plan", zap.String("plan_type", string(plan.PlanType)), zap.Error(err))
		}
	}
}

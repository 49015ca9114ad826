package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailroom/backend/internal/access"
	"mailroom/backend/internal/auth"
	"mailroom/backend/internal/config"
	"mailroom/backend/internal/health"
	"mailroom/backend/internal/middleware"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/service"
)

// 认证接口的每 IP 限流参数
const (
	authRatePerSecond = 5
	authRateBurst     = 10
	authRateIdle      = 10 * time.Minute
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config          *config.Config
	AuthService     *auth.Service
	MailService     *service.MailService
	LockerService   *service.LockerService
	BillingService  *service.BillingService
	ReferralService *service.ReferralService
	AdminService    *service.AdminService
	Gate            middleware.AccessChecker // 访问策略
	Health          *health.HealthChecker
	Metrics         *monitoring.Metrics
	Logger          *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	router := gin.New()

	router.Use(middleware.RecoveryHandler(log, deps.Metrics))
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.HTTPMetrics(deps.Metrics))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Location", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AdminService, log)
	mailHandler := NewMailHandler(deps.MailService, log)
	lockerHandler := NewLockerHandler(deps.LockerService, log)
	billingHandler := NewBillingHandler(deps.BillingService, log)
	referralHandler := NewReferralHandler(deps.ReferralService, log)
	adminHandler := NewAdminHandler(deps.AdminService, log)

	jwtAuth := middleware.NewJWTAuth(deps.AuthService, log)
	gate := middleware.NewAccessGate(deps.Gate)
	authLimiter := middleware.NewIPRateLimiter("auth", authRatePerSecond, authRateBurst, authRateIdle, deps.Metrics)

	// guard 先解析令牌，再交给策略引擎决定放行、重定向或隐藏
	guard := func(route access.Route) []gin.HandlerFunc {
		return []gin.HandlerFunc{jwtAuth.OptionalAuth(), gate.Require(route)}
	}
	with := func(route access.Route, h gin.HandlerFunc) []gin.HandlerFunc {
		return append(guard(route), h)
	}

	// 指标与健康检查
	router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	if deps.Health != nil {
		probes := gin.WrapH(http.StripPrefix("/health", deps.Health.Handler()))
		router.GET("/health/live", probes)
		router.GET("/health/ready", probes)
		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, deps.Health.CheckHealth(c.Request.Context()))
		})
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.BodySizeLimit(middleware.DefaultBodyLimit))
	{
		// ========== Auth Routes ==========
		authRoutes := v1.Group("/auth")
		{
			authRoutes.POST("/register", authLimiter.Middleware(), authHandler.Register)
			authRoutes.POST("/login", authLimiter.Middleware(), authHandler.Login)
			authRoutes.POST("/refresh", authLimiter.Middleware(), authHandler.Refresh)
			authRoutes.GET("/me", with(access.RouteAccount, authHandler.Me)...)
			authRoutes.POST("/confirm", with(access.RouteAccount, authHandler.ConfirmEmail)...)
		}

		v1.POST("/kyc", with(access.RouteAccount, authHandler.SubmitKYC)...)

		// ========== Payment Callback ==========
		v1.POST("/payments/callback", middleware.BodySizeLimit(middleware.CallbackBodyLimit), billingHandler.PaymentCallback)

		// ========== Referral Routes ==========
		referralRoutes := v1.Group("/referrals", guard(access.RouteAccount)...)
		{
			referralRoutes.GET("", referralHandler.List)
			referralRoutes.POST("/code", referralHandler.GenerateCode)
			referralRoutes.GET("/stats", referralHandler.Stats)
		}

		// ========== Billing Routes ==========
		v1.GET("/plans", with(access.RouteAccount, billingHandler.ListPlans)...)
		billingRoutes := v1.Group("/billing", guard(access.RouteAccount)...)
		{
			billingRoutes.POST("/checkout", billingHandler.Checkout)
			billingRoutes.GET("/subscriptions", billingHandler.ListSubscriptions)
			billingRoutes.POST("/subscriptions/:id/cancel", billingHandler.Cancel)
		}

		// ========== Mail Routes ==========
		mailRoutes := v1.Group("/mail")
		{
			mailRoutes.GET("", with(access.RouteMailbox, mailHandler.List)...)
			mailRoutes.GET("/tags", with(access.RouteMailbox, mailHandler.Tags)...)
			mailRoutes.GET("/:id", with(access.RouteMailbox, mailHandler.Get)...)
			mailRoutes.PATCH("/:id", with(access.RouteMailbox, mailHandler.Update)...)
			mailRoutes.POST("/:id/actions", with(access.RouteMailActions, mailHandler.RequestAction)...)
		}

		// ========== Business Routes ==========
		businessRoutes := v1.Group("/business")
		{
			businessRoutes.GET("/:id/mail", with(access.RouteBusinessMail, mailHandler.ListBusiness)...)
			businessRoutes.POST("/:id/kyb", with(access.RouteAccount, adminHandler.SubmitKYB)...)
		}

		v1.GET("/lockers/:id/fit", with(access.RouteParcelFit, lockerHandler.CheckFit)...)

		// ========== Admin Routes ==========
		adminRoutes := v1.Group("/admin", middleware.AdminIPAllowlist(deps.AdminService, log))
		{
			// 运营可用
			adminRoutes.GET("/users", with(access.RouteAdminUsers, adminHandler.ListUsers)...)
			adminRoutes.GET("/access-logs", with(access.RouteAdminLogs, adminHandler.ListAccessLogs)...)
			adminRoutes.POST("/kyc/:id", with(access.RouteOperator, adminHandler.ReviewKYC)...)
			adminRoutes.POST("/kyb/:id", with(access.RouteOperator, adminHandler.ReviewKYB)...)

			adminRoutes.POST("/mail", with(access.RouteOperator, mailHandler.LogMailItem)...)
			adminRoutes.POST("/mail/:id/processed", with(access.RouteOperator, mailHandler.MarkProcessed)...)
			adminRoutes.GET("/actions", with(access.RouteOperator, mailHandler.Queue)...)
			adminRoutes.POST("/actions/:id/start", with(access.RouteOperator, mailHandler.StartAction)...)
			adminRoutes.POST("/actions/:id/fulfill", with(access.RouteOperator, mailHandler.FulfillAction)...)
			adminRoutes.POST("/actions/:id/confirm-shred", with(access.RouteOperator, mailHandler.ConfirmShred)...)

			// 仅系统管理员
			adminRoutes.PATCH("/users/:id", with(access.RouteAdminSettings, adminHandler.UpdateUser)...)

			settings := adminRoutes.Group("/settings", guard(access.RouteAdminSettings)...)
			{
				settings.GET("/ip-allowlist", adminHandler.ListAllowedIPs)
				settings.POST("/ip-allowlist", adminHandler.AddAllowedIP)
				settings.DELETE("/ip-allowlist/:id", adminHandler.RemoveAllowedIP)
			}

			business := adminRoutes.Group("/business-accounts", guard(access.RouteAdminSettings)...)
			{
				business.POST("", adminHandler.CreateBusinessAccount)
				business.POST("/:id/members", adminHandler.AddBusinessMember)
			}

			packages := adminRoutes.Group("/packages", guard(access.RouteAdminPackages)...)
			{
				packages.GET("", billingHandler.AdminListPlans)
				packages.POST("", billingHandler.CreatePlan)
				packages.PUT("/:type", billingHandler.UpdatePlan)
			}

			lockers := adminRoutes.Group("", guard(access.RouteAdminLockers)...)
			{
				lockers.GET("/locations", lockerHandler.ListLocations)
				lockers.POST("/locations", lockerHandler.CreateLocation)
				lockers.PUT("/locations/:id/status", lockerHandler.SetLocationStatus)
				lockers.GET("/clusters", lockerHandler.ListClusters)
				lockers.POST("/clusters", lockerHandler.CreateCluster)
				lockers.DELETE("/clusters/:id", lockerHandler.DeleteCluster)
				lockers.GET("/mailboxes", lockerHandler.ListMailboxes)
				lockers.POST("/mailboxes", lockerHandler.CreateMailbox)
				lockers.PUT("/mailboxes/:id", lockerHandler.UpdateMailbox)
			}

			referrals := adminRoutes.Group("/referrals/transactions", guard(access.RouteAdminBilling)...)
			{
				referrals.POST("", referralHandler.RecordTransaction)
				referrals.POST("/:id/paid", referralHandler.MarkPaid)
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		NotFound(c, "not found")
	})

	return router
}

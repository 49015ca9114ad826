package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标；nil 接收者上的记录方法均为空操作
type Metrics struct {
	gatherer prometheus.Gatherer

	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// 访问控制指标
	AccessDecisions *prometheus.CounterVec

	// 邮件生命周期指标
	MailItemsLogged prometheus.Counter
	ActionRequests  *prometheus.CounterVec
	ActionsFulfilled *prometheus.CounterVec

	// 信箱指标
	ParcelFitChecks    *prometheus.CounterVec
	MailboxAssignments *prometheus.CounterVec

	// 推荐与计费指标
	ReferralCodesGenerated *prometheus.CounterVec
	SubscriptionsActivated prometheus.Counter
	UsersRegistered        prometheus.Counter

	// 错误指标
	UpstreamFailures *prometheus.CounterVec
	PanicsTotal      prometheus.Counter

	// 限流指标
	RateLimitBlocks *prometheus.CounterVec

	SystemUptime prometheus.Gauge
}

// NewMetrics 在给定注册表上创建监控指标，reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	gatherer := prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroom_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroom_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mailroom_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "endpoint"},
		),

		AccessDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_access_decisions_total",
				Help: "Access policy decisions by route and outcome",
			},
			[]string{"route", "outcome"},
		),

		MailItemsLogged: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_mail_items_logged_total",
				Help: "Total number of physical mail items logged by operators",
			},
		),

		ActionRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_action_requests_total",
				Help: "Action requests raised by type and initial status",
			},
			[]string{"action", "status"},
		),

		ActionsFulfilled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_actions_fulfilled_total",
				Help: "Action requests completed by operators",
			},
			[]string{"action"},
		),

		ParcelFitChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_parcel_fit_checks_total",
				Help: "Parcel fit checks by result",
			},
			[]string{"fits"},
		),

		MailboxAssignments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_mailbox_assignments_total",
				Help: "Mailbox assignment attempts by result",
			},
			[]string{"result"},
		),

		ReferralCodesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_referral_codes_generated_total",
				Help: "Referral codes generated by strategy",
			},
			[]string{"strategy"},
		),

		SubscriptionsActivated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_subscriptions_activated_total",
				Help: "Total number of subscriptions activated by payment",
			},
		),

		UsersRegistered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_users_registered_total",
				Help: "Total number of users registered",
			},
		),

		UpstreamFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_upstream_failures_total",
				Help: "Failed calls to external collaborators",
			},
			[]string{"collaborator"},
		),

		PanicsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mailroom_panics_total",
				Help: "Total number of recovered panics",
			},
		),

		RateLimitBlocks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailroom_rate_limit_blocks_total",
				Help: "Requests rejected by rate limiting",
			},
			[]string{"limit_type"},
		),

		SystemUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailroom_system_uptime_seconds",
				Help: "System uptime in seconds",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求指标
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, requestSize, responseSize int64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, endpoint).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordAccessDecision 记录访问决策
func (m *Metrics) RecordAccessDecision(route, outcome string) {
	if m == nil {
		return
	}
	m.AccessDecisions.WithLabelValues(route, outcome).Inc()
}

// RecordMailItemLogged 记录邮件登记
func (m *Metrics) RecordMailItemLogged() {
	if m == nil {
		return
	}
	m.MailItemsLogged.Inc()
}

// RecordActionRequest 记录操作请求
func (m *Metrics) RecordActionRequest(action, status string) {
	if m == nil {
		return
	}
	m.ActionRequests.WithLabelValues(action, status).Inc()
}

// RecordActionFulfilled 记录操作完成
func (m *Metrics) RecordActionFulfilled(action string) {
	if m == nil {
		return
	}
	m.ActionsFulfilled.WithLabelValues(action).Inc()
}

// RecordParcelFit 记录装箱判定
func (m *Metrics) RecordParcelFit(fits bool) {
	if m == nil {
		return
	}
	label := "false"
	if fits {
		label = "true"
	}
	m.ParcelFitChecks.WithLabelValues(label).Inc()
}

// RecordMailboxAssignment 记录信箱分配结果
func (m *Metrics) RecordMailboxAssignment(result string) {
	if m == nil {
		return
	}
	m.MailboxAssignments.WithLabelValues(result).Inc()
}

// RecordReferralCode 记录推荐码生成方式
func (m *Metrics) RecordReferralCode(strategy string) {
	if m == nil {
		return
	}
	m.ReferralCodesGenerated.WithLabelValues(strategy).Inc()
}

// RecordSubscriptionActivated 记录订阅激活
func (m *Metrics) RecordSubscriptionActivated() {
	if m == nil {
		return
	}
	m.SubscriptionsActivated.Inc()
}

// RecordUserRegistered 记录用户注册
func (m *Metrics) RecordUserRegistered() {
	if m == nil {
		return
	}
	m.UsersRegistered.Inc()
}

// RecordUpstreamFailure 记录外部调用失败
func (m *Metrics) RecordUpstreamFailure(collaborator string) {
	if m == nil {
		return
	}
	m.UpstreamFailures.WithLabelValues(collaborator).Inc()
}

// RecordPanic 记录 panic
func (m *Metrics) RecordPanic() {
	if m == nil {
		return
	}
	m.PanicsTotal.Inc()
}

// RecordRateLimitBlock 记录限流阻止
func (m *Metrics) RecordRateLimitBlock(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitBlocks.WithLabelValues(limitType).Inc()
}

// UpdateSystemUptime 更新系统运行时间
func (m *Metrics) UpdateSystemUptime(uptime time.Duration) {
	if m == nil {
		return
	}
	m.SystemUptime.Set(uptime.Seconds())
}

// HTTPHandler 返回 Prometheus HTTP 处理器
func (m *Metrics) HTTPHandler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

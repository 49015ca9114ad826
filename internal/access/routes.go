package access

// 重定向目标
const (
	LoginPath        = "/login"
	HomePath         = "/dashboard"
	OperatorHomePath = "/admin"
	KYCIntakePath    = "/kyc"
)

// Route 受保护路由的访问要求
type Route struct {
	Name         string
	RequiresAuth bool
	// Privileged 运营或系统管理员
	Privileged bool
	// AdminOnly 仅系统管理员，隐含 Privileged
	AdminOnly    bool
	RequiresPaid bool
	RequiresKYC  bool
}

// IsAdminGated 管理边界上的决策需要写入审计日志
func (r Route) IsAdminGated() bool {
	return r.Privileged || r.AdminOnly
}

// 路由目录，HTTP 层与策略引擎共用同一份声明
var (
	RouteAccount = Route{Name: "account", RequiresAuth: true}

	RouteMailbox = Route{Name: "mailbox", RequiresAuth: true, RequiresKYC: true}

	RouteMailActions = Route{Name: "mail-actions", RequiresAuth: true, RequiresPaid: true, RequiresKYC: true}

	RouteBusinessMail = Route{Name: "business-mail", RequiresAuth: true, RequiresPaid: true, RequiresKYC: true}

	RouteParcelFit = Route{Name: "parcel-fit", RequiresAuth: true, RequiresPaid: true, RequiresKYC: true}

	RouteOperator = Route{Name: "admin", RequiresAuth: true, Privileged: true}

	RouteAdminUsers = Route{Name: "admin-users", RequiresAuth: true, Privileged: true}

	RouteAdminLogs = Route{Name: "admin-access-logs", RequiresAuth: true, Privileged: true}

	RouteAdminSettings = Route{Name: "admin-settings", RequiresAuth: true, Privileged: true, AdminOnly: true}

	RouteAdminPackages = Route{Name: "admin-packages", RequiresAuth: true, Privileged: true, AdminOnly: true}

	RouteAdminLockers = Route{Name: "admin-lockers", RequiresAuth: true, Privileged: true, AdminOnly: true}

	RouteAdminBilling = Route{Name: "admin-billing", RequiresAuth: true, Privileged: true, AdminOnly: true}
)

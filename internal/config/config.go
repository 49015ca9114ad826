package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到控制台
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 缓存服务配置
type RedisConfig struct {
	Address      string        // Redis 服务地址，格式 "host:port"
	Password     string        // Redis 认证密码
	DB           int           // Redis 数据库编号
	PrincipalTTL time.Duration // 身份档案缓存时间
}

// JWTConfig 定义 JWT 认证相关配置
type JWTConfig struct {
	Secret        string        // JWT 签名密钥，必须至少 32 字符
	Issuer        string        // JWT 签发者标识，默认 "mailroom"
	AccessExpiry  time.Duration // 访问令牌有效期，默认 15 分钟
	RefreshExpiry time.Duration // 刷新令牌有效期，默认 7 天
}

// MailConfig 定义邮件列表查询参数
type MailConfig struct {
	PageSize     int           // 每页条数，默认 12
	MaxRows      int           // 过滤前最多读取的行数，默认 1000
	SignedURLTTL time.Duration // 扫描件签名链接有效期
}

// ArtifactConfig 定义扫描件签名链接配置
type ArtifactConfig struct {
	BaseURL       string // 文件存储访问地址
	SigningSecret string // 签名密钥，留空时复用 JWT 密钥
}

// PaymentConfig 定义支付网关配置
type PaymentConfig struct {
	BaseURL        string        // 网关地址
	APIKey         string        // 网关 API Key
	CallbackSecret string        // 回调 HMAC 密钥
	Timeout        time.Duration // 单次调用超时
	Currency       string        // 结算币种
}

// ReferralConfig 定义推荐码生成配置
type ReferralConfig struct {
	MaxAttempts  int // 冲突后追加随机后缀的最大重试次数
	SuffixLength int // 随机后缀长度
}

// Config 是系统核心配置的根结构体
type Config struct {
	Server   ServerConfig
	CORS     CORSConfig
	Log      LogConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Mail     MailConfig
	Artifact ArtifactConfig
	Payment  PaymentConfig
	Referral ReferralConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILROOM_
// 例如: MAILROOM_SERVER_PORT, MAILROOM_JWT_SECRET
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("mailroom")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("cors.allowed_origins", "*")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("database.type", "") // 默认为空，使用内存存储
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.principal_ttl", "5m")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "mailroom")
	v.SetDefault("jwt.access_expiry", "15m")
	v.SetDefault("jwt.refresh_expiry", "168h")
	v.SetDefault("mail.page_size", 12)
	v.SetDefault("mail.max_rows", 1000)
	v.SetDefault("mail.signed_url_ttl", "15m")
	v.SetDefault("artifact.base_url", "http://localhost:9000/artifacts")
	v.SetDefault("artifact.signing_secret", "")
	v.SetDefault("payment.base_url", "")
	v.SetDefault("payment.api_key", "")
	v.SetDefault("payment.callback_secret", "")
	v.SetDefault("payment.timeout", "10s")
	v.SetDefault("payment.currency", "USD")
	v.SetDefault("referral.max_attempts", 10)
	v.SetDefault("referral.suffix_length", 4)

	jwtSecret := v.GetString("jwt.secret")

	// 安全检查：禁止使用默认的 JWT secret
	if jwtSecret == "change-me-in-production" {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret cannot be the default value. Please set MAILROOM_JWT_SECRET environment variable")
	}
	if len(jwtSecret) < 32 {
		return nil, fmt.Errorf("SECURITY ERROR: JWT secret must be at least 32 characters long")
	}

	corsOrigins := parseList(v.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	dbType := strings.ToLower(v.GetString("database.type"))
	switch dbType {
	case "", "postgres", "mysql":
	case "postgresql":
		dbType = "postgres"
	default:
		return nil, fmt.Errorf("unsupported database.type %q (supported: postgres, mysql)", dbType)
	}

	pageSize := v.GetInt("mail.page_size")
	if pageSize <= 0 {
		pageSize = 12
	}
	maxRows := v.GetInt("mail.max_rows")
	if maxRows <= 0 {
		maxRows = 1000
	}

	maxAttempts := v.GetInt("referral.max_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	suffixLength := v.GetInt("referral.suffix_length")
	if suffixLength <= 0 {
		suffixLength = 4
	}

	signingSecret := v.GetString("artifact.signing_secret")
	if signingSecret == "" {
		signingSecret = jwtSecret
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("server.host"),
			Port: v.GetInt("server.port"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            dbType,
			DSN:             v.GetString("database.dsn"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: parseDuration(v.GetString("database.conn_max_lifetime"), 5*time.Minute),
		},
		Redis: RedisConfig{
			Address:      v.GetString("redis.address"),
			Password:     v.GetString("redis.password"),
			DB:           v.GetInt("redis.db"),
			PrincipalTTL: parseDuration(v.GetString("redis.principal_ttl"), 5*time.Minute),
		},
		JWT: JWTConfig{
			Secret:        jwtSecret,
			Issuer:        v.GetString("jwt.issuer"),
			AccessExpiry:  parseDuration(v.GetString("jwt.access_expiry"), 15*time.Minute),
			RefreshExpiry: parseDuration(v.GetString("jwt.refresh_expiry"), 7*24*time.Hour),
		},
		Mail: MailConfig{
			PageSize:     pageSize,
			MaxRows:      maxRows,
			SignedURLTTL: parseDuration(v.GetString("mail.signed_url_ttl"), 15*time.Minute),
		},
		Artifact: ArtifactConfig{
			BaseURL:       strings.TrimRight(v.GetString("artifact.base_url"), "/"),
			SigningSecret: signingSecret,
		},
		Payment: PaymentConfig{
			BaseURL:        strings.TrimRight(v.GetString("payment.base_url"), "/"),
			APIKey:         v.GetString("payment.api_key"),
			CallbackSecret: v.GetString("payment.callback_secret"),
			Timeout:        parseDuration(v.GetString("payment.timeout"), 10*time.Second),
			Currency:       strings.ToUpper(v.GetString("payment.currency")),
		},
		Referral: ReferralConfig{
			MaxAttempts:  maxAttempts,
			SuffixLength: suffixLength,
		},
	}

	return cfg, nil
}

// parseDuration 解析失败或非正值时返回默认值
func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默跳过，已存在的环境变量不会被覆盖
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store 基于 GORM 的关系型存储实现（PostgreSQL / MySQL）
type Store struct {
	db *gorm.DB
}

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open 按配置的数据库类型创建存储实例
func Open(cfg config.DatabaseConfig) (*Store, error) {
	pool := PoolConfig{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
	switch cfg.Type {
	case "mysql":
		return NewStoreWithDialector(mysql.Open(cfg.DSN), pool)
	case "postgres":
		return NewStoreWithDialector(postgres.Open(cfg.DSN), pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %s (supported: mysql, postgres)", cfg.Type)
	}
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, pool PoolConfig) (*Store, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 25
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 5
	}
	if pool.ConnMaxLifetime <= 0 {
		pool.ConnMaxLifetime = 5 * time.Minute
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Profile{},
		&domain.BusinessAccount{},
		&domain.BusinessMember{},
		&domain.MailItem{},
		&domain.ActionRequest{},
		&domain.MailingLocation{},
		&domain.Cluster{},
		&domain.Mailbox{},
		&domain.Plan{},
		&domain.Subscription{},
		&domain.Referral{},
		&domain.ReferralTransaction{},
		&domain.AccessLog{},
		&domain.AllowedIP{},
	)
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

// translate 把驱动错误映射为业务错误类别
func translate(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.NotFound(entity)
	}
	if isUniqueViolation(err) {
		return domain.Conflict("%s already exists", entity)
	}
	return err
}

// conflictAs 唯一约束冲突时返回指定的具体错误
func conflictAs(err error, conflict error, entity string) error {
	if err != nil && isUniqueViolation(err) {
		return conflict
	}
	return translate(err, entity)
}

// ========== Profile Repository ==========

// CreateProfile 创建档案
func (s *Store) CreateProfile(ctx context.Context, profile *domain.Profile) error {
	err := s.db.WithContext(ctx).Create(profile).Error
	if err != nil && isUniqueViolation(err) {
		if _, lookupErr := s.GetProfileByEmail(ctx, profile.Email); lookupErr == nil || profile.ReferralCode == nil {
			return domain.ErrEmailExists
		}
		return domain.ErrReferralCodeTaken
	}
	return translate(err, "profile")
}

// GetProfile 根据 ID 获取档案
func (s *Store) GetProfile(ctx context.Context, id string) (*domain.Profile, error) {
	var profile domain.Profile
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, translate(err, "profile")
	}
	return &profile, nil
}

// GetProfileByEmail 根据邮箱获取档案，不区分大小写
func (s *Store) GetProfileByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	var profile domain.Profile
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(email)).First(&profile).Error
	if err != nil {
		return nil, translate(err, "profile")
	}
	return &profile, nil
}

// UpdateProfile 更新档案；邮箱与推荐码不在可更新列中，空密码哈希保留原值
func (s *Store) UpdateProfile(ctx context.Context, profile *domain.Profile) error {
	columns := []interface{}{"plan_type", "kyc_status", "referred_by", "email_confirmed", "is_active", "updated_at"}
	if profile.PasswordHash != "" {
		columns = append(columns, "password_hash")
	}
	result := s.db.WithContext(ctx).Model(&domain.Profile{}).
		Where("id = ?", profile.ID).
		Select("role", columns...).
		Updates(profile)
	if result.Error != nil {
		return translate(result.Error, "profile")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("profile")
	}
	return nil
}

// ListProfiles 按创建时间倒序分页列出档案
func (s *Store) ListProfiles(ctx context.Context, filter storage.ProfileFilter) ([]domain.Profile, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.Profile{})
	if filter.Role != "" {
		query = query.Where("role = ?", filter.Role)
	}
	if filter.KYCStatus != "" {
		query = query.Where("kyc_status = ?", filter.KYCStatus)
	}
	if search := strings.ToLower(strings.TrimSpace(filter.Search)); search != "" {
		query = query.Where("LOWER(email) LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("created_at DESC").Order("id")
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var profiles []domain.Profile
	if err := query.Find(&profiles).Error; err != nil {
		return nil, 0, err
	}
	return profiles, total, nil
}

// SetReferralCode 条件更新，仅在 referral_code 为空时写入
func (s *Store) SetReferralCode(ctx context.Context, profileID, code string) (bool, error) {
	result := s.db.WithContext(ctx).Model(&domain.Profile{}).
		Where("id = ? AND referral_code IS NULL", profileID).
		Update("referral_code", code)
	if result.Error != nil {
		return false, conflictAs(result.Error, domain.ErrReferralCodeTaken, "profile")
	}
	if result.RowsAffected == 1 {
		return true, nil
	}
	if _, err := s.GetProfile(ctx, profileID); err != nil {
		return false, err
	}
	return false, nil
}

// ReferralCodeExists 判断推荐码是否已被占用
func (s *Store) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&domain.Profile{}).Where("referral_code = ?", code).Count(&count).Error
	return count > 0, err
}

// ========== Business Repository ==========

// CreateBusinessAccount 创建企业账户
func (s *Store) CreateBusinessAccount(ctx context.Context, account *domain.BusinessAccount) error {
	return translate(s.db.WithContext(ctx).Create(account).Error, "business account")
}

// GetBusinessAccount 获取企业账户
func (s *Store) GetBusinessAccount(ctx context.Context, id string) (*domain.BusinessAccount, error) {
	var account domain.BusinessAccount
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, translate(err, "business account")
	}
	return &account, nil
}

// UpdateBusinessAccount 更新企业账户
func (s *Store) UpdateBusinessAccount(ctx context.Context, account *domain.BusinessAccount) error {
	result := s.db.WithContext(ctx).Model(&domain.BusinessAccount{}).
		Where("id = ?", account.ID).
		Select("name", "kyb_status", "updated_at").
		Updates(account)
	if result.Error != nil {
		return translate(result.Error, "business account")
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("business account")
	}
	return nil
}

// AddBusinessMember 添加成员，每个档案至多属于一个企业
func (s *Store) AddBusinessMember(ctx context.Context, member *domain.BusinessMember) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account domain.BusinessAccount
		if err := tx.Where("id = ?", member.BusinessAccountID).First(&account).Error; err != nil {
			return translate(err, "business account")
		}
		return translate(tx.Create(member).Error, "business membership")
	})
}

// GetMembership 获取档案的企业成员关系
func (s *Store) GetMembership(ctx context.Context, profileID string) (*domain.BusinessMember, error) {
	var member domain.BusinessMember
	if err := s.db.WithContext(ctx).Where("profile_id = ?", profileID).First(&member).Error; err != nil {
		return nil, translate(err, "business membership")
	}
	return &member, nil
}

// ========== Audit Repository ==========

// AppendAccessLog 追加审计记录
func (s *Store) AppendAccessLog(ctx context.Context, entry *domain.AccessLog) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// ListAccessLogs 按时间倒序分页列出审计记录
func (s *Store) ListAccessLogs(ctx context.Context, filter storage.AccessLogFilter) ([]domain.AccessLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&domain.AccessLog{})
	if filter.PrincipalID != "" {
		query = query.Where("principal_id = ?", filter.PrincipalID)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query = query.Order("created_at DESC").Order("id DESC")
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var logs []domain.AccessLog
	if err := query.Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// AddAllowedIP 添加白名单条目
func (s *Store) AddAllowedIP(ctx context.Context, entry *domain.AllowedIP) error {
	return translate(s.db.WithContext(ctx).Create(entry).Error, "allowed ip")
}

// RemoveAllowedIP 删除白名单条目
func (s *Store) RemoveAllowedIP(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.AllowedIP{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NotFound("allowed ip")
	}
	return nil
}

// ListAllowedIPs 列出白名单
func (s *Store) ListAllowedIPs(ctx context.Context) ([]domain.AllowedIP, error) {
	var entries []domain.AllowedIP
	err := s.db.WithContext(ctx).Order("ip").Find(&entries).Error
	return entries, err
}

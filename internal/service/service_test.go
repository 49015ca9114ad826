package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/payment"
	"mailroom/backend/internal/storage"
	"mailroom/backend/internal/storage/memory"
)

// MockSigner 模拟扫描件签名服务
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) IssueSignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, ref, ttl)
	return args.String(0), args.Error(1)
}

// MockGateway 模拟支付网关
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateInvoice(ctx context.Context, req payment.InvoiceRequest) (*payment.Invoice, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Invoice), args.Error(1)
}

type fixture struct {
	store     *memory.Store
	mail      *MailService
	lockers   *LockerService
	referrals *ReferralService
	billing   *BillingService
	admin     *AdminService
	gateway   *MockGateway
}

const callbackSecret = "callback-secret"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

// newFixtureWith 服务使用 wrap 包装后的存储，种子数据仍直接写入内存存储
func newFixtureWith(t *testing.T, wrap func(storage.Store) storage.Store) *fixture {
	t.Helper()
	mem := memory.NewStore()
	var store storage.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	gateway := &MockGateway{}

	mail := NewMailService(store, nil, config.MailConfig{PageSize: 12, MaxRows: 1000}, nil, nil)
	lockers := NewLockerService(store, nil, nil)
	referrals := NewReferralService(store, config.ReferralConfig{MaxAttempts: 10, SuffixLength: 4}, nil, nil)
	billing := NewBillingService(store, gateway, lockers, referrals, config.PaymentConfig{
		CallbackSecret: callbackSecret,
		Timeout:        time.Second,
		Currency:       "USD",
	}, nil, nil)
	admin := NewAdminService(store, mail, nil)

	return &fixture{
		store:     mem,
		mail:      mail,
		lockers:   lockers,
		referrals: referrals,
		billing:   billing,
		admin:     admin,
		gateway:   gateway,
	}
}

func (f *fixture) seedProfile(t *testing.T, id string, role domain.Role, plan domain.PlanType, kyc domain.KYCStatus) *domain.Principal {
	t.Helper()
	require.NoError(t, f.store.CreateProfile(context.Background(), &domain.Profile{
		ID:        id,
		Email:     id + "@example.com",
		Role:      role,
		PlanType:  plan,
		KYCStatus: kyc,
		IsActive:  true,
	}))
	return &domain.Principal{ID: id, Email: id + "@example.com", Role: role, PlanType: plan, KYCStatus: kyc}
}

func (f *fixture) operator(t *testing.T) *domain.Principal {
	return f.seedProfile(t, "operator", domain.RoleOperator, domain.PlanFree, domain.KYCNotStarted)
}

func (f *fixture) sysadmin(t *testing.T) *domain.Principal {
	return f.seedProfile(t, "admin", domain.RoleSystemAdmin, domain.PlanFree, domain.KYCNotStarted)
}

func (f *fixture) logItem(t *testing.T, op *domain.Principal, ownerID string, receivedAt time.Time) *domain.MailItem {
	t.Helper()
	owner := ownerID
	item, err := f.mail.LogMailItem(context.Background(), op, LogMailItemInput{
		OwnerID:    &owner,
		Sender:     "IRS",
		Subject:    "Notice",
		ReceivedAt: &receivedAt,
	})
	require.NoError(t, err)
	return item
}

// rendezvous 启用后让接下来的 n 次调用互相等待，全部到达后一起放行，此后直接通过
type rendezvous struct {
	remaining atomic.Int32
	mu        sync.Mutex
	release   chan struct{}
}

func (r *rendezvous) arm(n int32) {
	r.mu.Lock()
	r.release = make(chan struct{})
	r.mu.Unlock()
	r.remaining.Store(n)
}

func (r *rendezvous) wait() {
	left := r.remaining.Add(-1)
	if left < 0 {
		return
	}
	r.mu.Lock()
	release := r.release
	r.mu.Unlock()
	if left == 0 {
		close(release)
		return
	}
	select {
	case <-release:
	case <-time.After(2 * time.Second):
	}
}

// racingStore 读取邮件与订阅时经过 rendezvous，使并发调用都读到同一份旧状态
type racingStore struct {
	storage.Store
	mailReads rendezvous
	subReads  rendezvous
}

func (s *racingStore) GetMailItem(ctx context.Context, id string) (*domain.MailItem, error) {
	s.mailReads.wait()
	return s.Store.GetMailItem(ctx, id)
}

func (s *racingStore) GetSubscription(ctx context.Context, id string) (*domain.Subscription, error) {
	s.subReads.wait()
	return s.Store.GetSubscription(ctx, id)
}

func newRacingFixture(t *testing.T) (*fixture, *racingStore) {
	t.Helper()
	var racing *racingStore
	f := newFixtureWith(t, func(inner storage.Store) storage.Store {
		racing = &racingStore{Store: inner}
		return racing
	})
	return f, racing
}

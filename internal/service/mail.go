package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mailroom/backend/internal/config"
	"mailroom/backend/internal/domain"
	"mailroom/backend/internal/monitoring"
	"mailroom/backend/internal/storage"
)

// URLSigner 为扫描件签发限时 URL
type URLSigner interface {
	IssueSignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

// MailService 封装邮件生命周期与操作请求。
type MailService struct {
	store   storage.Store
	signer  URLSigner
	cfg     config.MailConfig
	metrics *monitoring.Metrics
	log     *zap.Logger
	now     func() time.Time

	// 串行化同一进程内的“查找未完成请求再创建”
	requestMu sync.Mutex
}

// NewMailService 创建邮件业务服务，signer 与 metrics 可为 nil。
func NewMailService(store storage.Store, signer URLSigner, cfg config.MailConfig, metrics *monitoring.Metrics, log *zap.Logger) *MailService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 12
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if cfg.SignedURLTTL <= 0 {
		cfg.SignedURLTTL = 15 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MailService{
		store:   store,
		signer:  signer,
		cfg:     cfg,
		metrics: metrics,
		log:     log.Named("mail"),
		now:     time.Now,
	}
}

// MailItemView 带展示状态与签名 URL 的邮件
type MailItemView struct {
	domain.MailItem
	DisplayStatus   string `json:"displayStatus"`
	EnvelopeScanURL string `json:"envelopeScanUrl,omitempty"`
	FullScanURL     string `json:"fullScanUrl,omitempty"`
}

// MailPage 分页结果
type MailPage struct {
	Items      []MailItemView `json:"items"`
	Page       int            `json:"page"`
	PageSize   int            `json:"pageSize"`
	Total      int            `json:"total"`
	TotalPages int            `json:"totalPages"`
}

// LogMailItemInput 运营登记邮件的输入
type LogMailItemInput struct {
	OwnerID           *string
	BusinessAccountID *string
	Sender            string
	Subject           string
	ReceivedAt        *time.Time
	EnvelopeScanRef   *string
	Tags              []string
}

// MailItemPatch 非物理字段的修改，nil 表示不变
type MailItemPatch struct {
	Archived *bool
	Tags     *[]string
	Category *string
	Notes    *string
}

// RequestActionInput 发起操作请求的输入
type RequestActionInput struct {
	ActionType  domain.ActionType
	Priority    domain.Priority
	Destination *string
}

// FulfillInput 运营履行请求时提交的产物
type FulfillInput struct {
	ArtifactRef *string
	Destination *string
}

// ActionQueue 运营队列，待审批请求单独成组
type ActionQueue struct {
	Open             []domain.ActionRequest `json:"open"`
	AwaitingApproval []domain.ActionRequest `json:"awaitingApproval"`
}

func requirePrivileged(p *domain.Principal) error {
	if !p.IsPrivileged() {
		return domain.Unauthorized("operator role required")
	}
	return nil
}

// canAccessScope 本人、所属企业或运营人员
func canAccessScope(p *domain.Principal, scope domain.MailScope) bool {
	if p != nil && p.IsPrivileged() {
		return true
	}
	return ownsScope(p, scope)
}

// ownsScope 本人档案或所属企业，不含运营特权
func ownsScope(p *domain.Principal, scope domain.MailScope) bool {
	if p == nil {
		return false
	}
	if scope.ProfileID != "" {
		return scope.ProfileID == p.ID
	}
	return p.BelongsTo(scope.BusinessAccountID)
}

func scopeOf(item *domain.MailItem) domain.MailScope {
	if item.BusinessAccountID != nil {
		return domain.BusinessScope(*item.BusinessAccountID)
	}
	if item.OwnerID != nil {
		return domain.PersonalScope(*item.OwnerID)
	}
	return domain.MailScope{}
}

// LogMailItem 登记一件到达的实体邮件，初始状态 RECEIVED。
func (s *MailService) LogMailItem(ctx context.Context, operator *domain.Principal, input LogMailItemInput) (*domain.MailItem, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	if err := domain.ValidateMailInput(input.Sender, input.Subject); err != nil {
		return nil, err
	}

	scope := domain.MailScope{}
	if input.OwnerID != nil {
		scope.ProfileID = strings.TrimSpace(*input.OwnerID)
	}
	if input.BusinessAccountID != nil {
		scope.BusinessAccountID = strings.TrimSpace(*input.BusinessAccountID)
	}
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	tags, err := domain.NormalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	item := &domain.MailItem{
		ID:         uuid.NewString(),
		Sender:     strings.TrimSpace(input.Sender),
		Subject:    strings.TrimSpace(input.Subject),
		ReceivedAt: now,
		Status:     domain.StatusReceived,
		Tags:       tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if input.ReceivedAt != nil && !input.ReceivedAt.IsZero() {
		item.ReceivedAt = input.ReceivedAt.UTC()
	}
	if input.EnvelopeScanRef != nil && strings.TrimSpace(*input.EnvelopeScanRef) != "" {
		ref := strings.TrimSpace(*input.EnvelopeScanRef)
		item.EnvelopeScanRef = &ref
	}

	if scope.ProfileID != "" {
		if _, err := s.store.GetProfile(ctx, scope.ProfileID); err != nil {
			return nil, err
		}
		owner := scope.ProfileID
		item.OwnerID = &owner
	} else {
		if _, err := s.store.GetBusinessAccount(ctx, scope.BusinessAccountID); err != nil {
			return nil, err
		}
		biz := scope.BusinessAccountID
		item.BusinessAccountID = &biz
	}

	if err := s.store.CreateMailItem(ctx, item); err != nil {
		return nil, err
	}
	s.metrics.RecordMailItemLogged()
	s.log.Info("mail item logged",
		zap.String("mail_item_id", item.ID),
		zap.String("operator_id", operator.ID),
	)
	return item, nil
}

// ListMailItems 过滤、排序后按固定页大小分页；越界页返回空列表。
func (s *MailService) ListMailItems(ctx context.Context, principal *domain.Principal, scope domain.MailScope, filter domain.MailFilter, page int) (*MailPage, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if !canAccessScope(principal, scope) {
		return nil, domain.NotFound("mail scope")
	}

	rows, err := s.store.ListMailItems(ctx, scope, s.cfg.MaxRows)
	if err != nil {
		return nil, err
	}

	matched := make([]domain.MailItem, 0, len(rows))
	for i := range rows {
		if filter.Matches(&rows[i]) {
			matched = append(matched, rows[i])
		}
	}

	size := s.cfg.PageSize
	result := &MailPage{
		Items:      []MailItemView{},
		Page:       page,
		PageSize:   size,
		Total:      len(matched),
		TotalPages: (len(matched) + size - 1) / size,
	}
	if page < 1 {
		return result, nil
	}
	start := (page - 1) * size
	if start >= len(matched) {
		return result, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}

	for i := start; i < end; i++ {
		result.Items = append(result.Items, s.view(ctx, &matched[i]))
	}
	return result, nil
}

// GetMailItem 不属于主体的邮件与不存在的邮件不可区分。
func (s *MailService) GetMailItem(ctx context.Context, principal *domain.Principal, id string) (*MailItemView, error) {
	item, err := s.loadVisible(ctx, principal, id)
	if err != nil {
		return nil, err
	}
	view := s.view(ctx, item)
	return &view, nil
}

// AllTags 范围内所有邮件标签的并集，排序返回
func (s *MailService) AllTags(ctx context.Context, principal *domain.Principal, scope domain.MailScope) ([]string, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if !canAccessScope(principal, scope) {
		return nil, domain.NotFound("mail scope")
	}

	rows, err := s.store.ListMailItems(ctx, scope, s.cfg.MaxRows)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	for _, item := range rows {
		for _, tag := range item.Tags {
			seen[tag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// UpdateMailItem 归档、标签、分类、备注在任何状态下都可修改。
func (s *MailService) UpdateMailItem(ctx context.Context, principal *domain.Principal, id string, patch MailItemPatch) (*MailItemView, error) {
	item, err := s.loadVisible(ctx, principal, id)
	if err != nil {
		return nil, err
	}

	if patch.Archived != nil {
		item.IsArchived = *patch.Archived
	}
	if patch.Tags != nil {
		tags, err := domain.NormalizeTags(*patch.Tags)
		if err != nil {
			return nil, err
		}
		item.Tags = tags
	}
	if patch.Category != nil {
		item.Category = trimmedOrNil(*patch.Category)
	}
	if patch.Notes != nil {
		item.Notes = trimmedOrNil(*patch.Notes)
	}
	item.UpdatedAt = s.now().UTC()

	if err := s.store.PatchMailItem(ctx, item); err != nil {
		return nil, err
	}
	view := s.view(ctx, item)
	return &view, nil
}

// RequestAction 仅所有者或企业成员可发起；同类型的未完成请求已存在时原样返回。
func (s *MailService) RequestAction(ctx context.Context, principal *domain.Principal, itemID string, input RequestActionInput) (*domain.ActionRequest, error) {
	if !input.ActionType.Valid() {
		return nil, domain.Validation("unknown action type %q", input.ActionType)
	}
	priority := input.Priority
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return nil, domain.Validation("unknown priority %q", input.Priority)
	}

	item, err := s.store.GetMailItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	// 操作请求只能由邮件所有者或企业成员发起，运营不可代为发起
	if !ownsScope(principal, scopeOf(item)) {
		return nil, domain.NotFound("mail item")
	}
	if err := item.Status.CanRequest(input.ActionType); err != nil {
		return nil, err
	}

	s.requestMu.Lock()
	defer s.requestMu.Unlock()

	existing, err := s.store.FindOpenActionRequest(ctx, item.ID, input.ActionType)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	kyc, err := s.ownerKYC(ctx, item)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &domain.ActionRequest{
		ID:          uuid.NewString(),
		MailItemID:  item.ID,
		RequestedBy: principal.ID,
		ActionType:  input.ActionType,
		Status:      domain.InitialActionStatus(input.ActionType, kyc),
		Priority:    priority,
		RequestedAt: now,
		UpdatedAt:   now,
	}
	if input.Destination != nil {
		req.Destination = trimmedOrNil(*input.Destination)
	}

	if err := s.store.CreateActionRequest(ctx, req); err != nil {
		return nil, err
	}
	s.metrics.RecordActionRequest(string(req.ActionType), string(req.Status))
	s.log.Info("action requested",
		zap.String("action_request_id", req.ID),
		zap.String("mail_item_id", item.ID),
		zap.String("action", string(req.ActionType)),
		zap.String("status", string(req.Status)),
	)
	return req, nil
}

// StartAction PENDING -> IN_PROGRESS；待审批请求仅在闸门放行后被提升。
func (s *MailService) StartAction(ctx context.Context, operator *domain.Principal, requestID string) (*domain.ActionRequest, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	req, err := s.store.GetActionRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case domain.ActionInProgress, domain.ActionCompleted:
		return req, nil
	case domain.ActionRequiresApproval:
		item, err := s.store.GetMailItem(ctx, req.MailItemID)
		if err != nil {
			return nil, err
		}
		if err := s.checkGate(ctx, req, item); err != nil {
			return nil, err
		}
	case domain.ActionPending:
	}

	now := s.now().UTC()
	req.Status = domain.ActionInProgress
	req.StartedAt = &now
	req.UpdatedAt = now
	if err := s.store.UpdateActionRequest(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// FulfillAction 履行扫描或转寄；销毁只能经 ConfirmShred 执行。
func (s *MailService) FulfillAction(ctx context.Context, operator *domain.Principal, requestID string, input FulfillInput) (*domain.MailItem, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	req, item, done, err := s.loadForExecution(ctx, requestID)
	if err != nil || done {
		return item, err
	}

	switch req.ActionType {
	case domain.ActionScan:
		if input.ArtifactRef == nil || strings.TrimSpace(*input.ArtifactRef) == "" {
			return nil, domain.Validation("scan fulfillment requires an artifact reference")
		}
		ref := strings.TrimSpace(*input.ArtifactRef)
		item.FullScanRef = &ref
		req.ArtifactRef = &ref
	case domain.ActionForward:
		dest := req.Destination
		if input.Destination != nil {
			dest = trimmedOrNil(*input.Destination)
		}
		if dest == nil {
			return nil, domain.Validation("forward fulfillment requires a destination")
		}
		item.ForwardedTo = dest
		req.Destination = dest
	case domain.ActionShred:
		return nil, domain.ErrShredNeedsConfirm
	}

	next, err := item.Status.Apply(req.ActionType)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, operator, req, item, next)
}

// ConfirmShred 两阶段销毁的确认步骤，真正执行不可逆的销毁。
func (s *MailService) ConfirmShred(ctx context.Context, operator *domain.Principal, requestID string) (*domain.MailItem, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	req, err := s.store.GetActionRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ActionType != domain.ActionShred {
		return nil, domain.Validation("request %s is not a shred request", req.ID)
	}

	req, item, done, err := s.loadForExecution(ctx, requestID)
	if err != nil || done {
		return item, err
	}
	next, err := item.Status.Apply(domain.ActionShred)
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, operator, req, item, next)
}

// MarkProcessed SCANNED -> PROCESSED，重复调用幂等
func (s *MailService) MarkProcessed(ctx context.Context, operator *domain.Principal, itemID string) (*domain.MailItem, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	item, err := s.store.GetMailItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	next, err := item.Status.MarkProcessed()
	if err != nil {
		return nil, err
	}
	if next == item.Status {
		return item, nil
	}
	from := item.Status
	item.Status = next
	item.UpdatedAt = s.now().UTC()
	err = s.store.TransitionMailItem(ctx, item, from)
	if errors.Is(err, domain.ErrMailItemChanged) {
		// 并发迁移后按最新状态重新判定
		current, getErr := s.store.GetMailItem(ctx, itemID)
		if getErr != nil {
			return nil, getErr
		}
		if _, err := current.Status.MarkProcessed(); err != nil {
			return nil, err
		}
		if current.Status == domain.StatusProcessed {
			return current, nil
		}
		return nil, domain.ErrMailItemChanged
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// OperatorQueue 按优先级从高到低、同优先级按请求时间先后排序。
func (s *MailService) OperatorQueue(ctx context.Context, operator *domain.Principal, limit int) (*ActionQueue, error) {
	if err := requirePrivileged(operator); err != nil {
		return nil, err
	}
	reqs, err := s.store.ListActionRequests(ctx, storage.ActionFilter{
		Statuses: []domain.ActionStatus{domain.ActionPending, domain.ActionInProgress, domain.ActionRequiresApproval},
		Limit:    limit,
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(reqs, func(i, j int) bool {
		ri, rj := reqs[i].Priority.Rank(), reqs[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return reqs[i].RequestedAt.Before(reqs[j].RequestedAt)
	})

	queue := &ActionQueue{Open: []domain.ActionRequest{}, AwaitingApproval: []domain.ActionRequest{}}
	for _, req := range reqs {
		if req.Status == domain.ActionRequiresApproval {
			queue.AwaitingApproval = append(queue.AwaitingApproval, req)
			continue
		}
		queue.Open = append(queue.Open, req)
	}
	return queue, nil
}

// ReleaseHeldRequests 核验通过后，把范围内仍能通过闸门的待审批请求移回 PENDING。
func (s *MailService) ReleaseHeldRequests(ctx context.Context, scope domain.MailScope, status domain.KYCStatus) (int, error) {
	items, err := s.store.ListMailItems(ctx, scope, 0)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	held, err := s.store.ListActionRequests(ctx, storage.ActionFilter{
		Statuses:    []domain.ActionStatus{domain.ActionRequiresApproval},
		MailItemIDs: ids,
	})
	if err != nil {
		return 0, err
	}

	released := 0
	now := s.now().UTC()
	for i := range held {
		req := &held[i]
		if !domain.CanExecute(req.ActionType, status) {
			continue
		}
		req.Status = domain.ActionPending
		req.UpdatedAt = now
		if err := s.store.UpdateActionRequest(ctx, req); err != nil {
			return released, err
		}
		released++
	}
	if released > 0 {
		s.log.Info("held action requests released", zap.Int("count", released))
	}
	return released, nil
}

func (s *MailService) loadVisible(ctx context.Context, principal *domain.Principal, id string) (*domain.MailItem, error) {
	item, err := s.store.GetMailItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccessScope(principal, scopeOf(item)) {
		return nil, domain.NotFound("mail item")
	}
	return item, nil
}

// loadForExecution 已完成时 done 为 true 并返回当前邮件
func (s *MailService) loadForExecution(ctx context.Context, requestID string) (*domain.ActionRequest, *domain.MailItem, bool, error) {
	req, err := s.store.GetActionRequest(ctx, requestID)
	if err != nil {
		return nil, nil, false, err
	}
	item, err := s.store.GetMailItem(ctx, req.MailItemID)
	if err != nil {
		return nil, nil, false, err
	}
	if req.Status == domain.ActionCompleted {
		return req, item, true, nil
	}
	if err := s.checkGate(ctx, req, item); err != nil {
		return nil, nil, false, err
	}
	return req, item, false, nil
}

// checkGate 每次执行前重新评估；不通过时把请求挂回待审批
func (s *MailService) checkGate(ctx context.Context, req *domain.ActionRequest, item *domain.MailItem) error {
	kyc, err := s.ownerKYC(ctx, item)
	if err != nil {
		return err
	}
	if domain.CanExecute(req.ActionType, kyc) {
		return nil
	}
	if req.Status != domain.ActionRequiresApproval {
		req.Status = domain.ActionRequiresApproval
		req.UpdatedAt = s.now().UTC()
		if err := s.store.UpdateActionRequest(ctx, req); err != nil {
			return err
		}
	}
	return domain.ErrRequiresApproval
}

func (s *MailService) complete(ctx context.Context, operator *domain.Principal, req *domain.ActionRequest, item *domain.MailItem, next domain.MailStatus) (*domain.MailItem, error) {
	now := s.now().UTC()
	from := item.Status
	item.Status = next
	item.UpdatedAt = now

	operatorID := operator.ID
	req.Status = domain.ActionCompleted
	req.CompletedAt = &now
	req.CompletedBy = &operatorID
	if req.StartedAt == nil {
		req.StartedAt = &now
	}
	req.UpdatedAt = now

	if err := s.store.SaveActionOutcome(ctx, req, item, from); err != nil {
		return s.resolveLostCompletion(ctx, req, err)
	}
	s.metrics.RecordActionFulfilled(string(req.ActionType))
	s.log.Info("action fulfilled",
		zap.String("action_request_id", req.ID),
		zap.String("mail_item_id", item.ID),
		zap.String("action", string(req.ActionType)),
		zap.String("operator_id", operator.ID),
	)
	return item, nil
}

// resolveLostCompletion 条件写入落空：请求已被他人完成时按幂等返回当前邮件，
// 邮件已被其他操作迁移时按最新状态重新判定
func (s *MailService) resolveLostCompletion(ctx context.Context, req *domain.ActionRequest, err error) (*domain.MailItem, error) {
	if !errors.Is(err, domain.ErrActionCompleted) && !errors.Is(err, domain.ErrMailItemChanged) {
		return nil, err
	}
	current, getErr := s.store.GetMailItem(ctx, req.MailItemID)
	if getErr != nil {
		return nil, getErr
	}
	if errors.Is(err, domain.ErrActionCompleted) {
		return current, nil
	}

	s.log.Warn("action lost a concurrent transition",
		zap.String("action_request_id", req.ID),
		zap.String("mail_item_id", current.ID),
		zap.String("action", string(req.ActionType)),
		zap.String("status", string(current.Status)),
	)
	if _, applyErr := current.Status.Apply(req.ActionType); applyErr != nil {
		return nil, applyErr
	}
	return nil, err
}

// ownerKYC 企业邮件使用企业账户的 KYB 状态
func (s *MailService) ownerKYC(ctx context.Context, item *domain.MailItem) (domain.KYCStatus, error) {
	if item.BusinessAccountID != nil {
		account, err := s.store.GetBusinessAccount(ctx, *item.BusinessAccountID)
		if err != nil {
			return "", err
		}
		return account.KYBStatus, nil
	}
	if item.OwnerID == nil {
		return "", domain.NotFound("mail item owner")
	}
	owner, err := s.store.GetProfile(ctx, *item.OwnerID)
	if err != nil {
		return "", err
	}
	return owner.KYCStatus, nil
}

// view 签名失败只记录日志，URL 留空
func (s *MailService) view(ctx context.Context, item *domain.MailItem) MailItemView {
	v := MailItemView{MailItem: *item, DisplayStatus: item.DisplayStatus()}
	if s.signer == nil {
		return v
	}
	v.EnvelopeScanURL = s.sign(ctx, item.ID, item.EnvelopeScanRef)
	v.FullScanURL = s.sign(ctx, item.ID, item.FullScanRef)
	return v
}

func (s *MailService) sign(ctx context.Context, itemID string, ref *string) string {
	if ref == nil || *ref == "" {
		return ""
	}
	signed, err := s.signer.IssueSignedURL(ctx, *ref, s.cfg.SignedURLTTL)
	if err != nil {
		s.metrics.RecordUpstreamFailure("artifact-store")
		s.log.Warn("failed to sign artifact url",
			zap.String("mail_item_id", itemID),
			zap.Error(err),
		)
		return ""
	}
	return signed
}

func trimmedOrNil(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

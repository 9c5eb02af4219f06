// Package porttest provides an in-memory implementation of the application
// ports for unit tests.
package porttest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Store holds all records in memory. Records are stored as private copies,
// so WithTransaction can roll back by restoring a shallow snapshot.
type Store struct {
	mu sync.Mutex

	requests     map[int64]*entity.ApprovableRequest
	history      []*entity.ApprovalHistory
	tiers        []*entity.ApprovalTier
	preApprovals map[string]*entity.PreApproval
	delegations  map[string]*entity.Delegation
	budgets      map[string]*entity.BudgetUtilization
	categories   map[string]*entity.Category
	users        map[string]*entity.User
	rates        map[string]decimal.Decimal
	sequences    map[string]int64
	outbox       []*entity.OutboxMessage

	nextID int64

	BaseCurrency string

	// Failure injection
	FailAppend  error
	FailLedger  error
	FailEnqueue error
}

// NewStore returns a store seeded with the default four-tier schedule.
func NewStore() *Store {
	s := &Store{
		requests:     make(map[int64]*entity.ApprovableRequest),
		preApprovals: make(map[string]*entity.PreApproval),
		delegations:  make(map[string]*entity.Delegation),
		budgets:      make(map[string]*entity.BudgetUtilization),
		categories:   make(map[string]*entity.Category),
		users:        make(map[string]*entity.User),
		rates:        make(map[string]decimal.Decimal),
		sequences:    make(map[string]int64),
		BaseCurrency: "USD",
	}
	s.tiers = DefaultTiers()
	return s
}

// DefaultTiers returns the seeded schedule: 0-25000 APPROVER,
// 25000.01-100000 APPROVER, 100000.01-500000 FINANCE, above that CEO.
func DefaultTiers() []*entity.ApprovalTier {
	return []*entity.ApprovalTier{
		Tier(1, "0", "25000", entity.RoleApprover, 3),
		Tier(2, "25000.01", "100000", entity.RoleApprover, 3),
		Tier(3, "100000.01", "500000", entity.RoleFinance, 5),
		Tier(4, "500000.01", "", entity.RoleCEO, 7),
	}
}

// Tier builds an active tier. An empty max means open-ended; escalationDays <= 0 means none.
func Tier(order int, min, max, role string, escalationDays int) *entity.ApprovalTier {
	t := &entity.ApprovalTier{
		ID:           int64(order),
		TierOrder:    order,
		MinAmount:    decimal.RequireFromString(min),
		ApproverRole: role,
		IsActive:     true,
	}
	if max != "" {
		m := decimal.RequireFromString(max)
		t.MaxAmount = &m
	}
	if escalationDays > 0 {
		d := escalationDays
		t.EscalationDays = &d
	}
	return t
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// --- seeding helpers

func (s *Store) AddUser(u *entity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *Store) AddCategory(c *entity.Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.categories[c.ID] = &cp
}

func (s *Store) SetBudget(b *entity.BudgetUtilization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.budgets[b.ScopeKey] = &cp
}

func (s *Store) Budget(scopeKey string) *entity.BudgetUtilization {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.budgets[scopeKey]; ok {
		cp := *b
		return &cp
	}
	return nil
}

func (s *Store) SetRate(currency string, rate decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[currency] = rate
}

func (s *Store) SetTiers(tiers []*entity.ApprovalTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiers = tiers
}

func (s *Store) AddPreApproval(pa *entity.PreApproval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *pa
	s.preApprovals[pa.ID] = &cp
}

func (s *Store) AddDelegation(d *entity.Delegation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.delegations[d.ID] = &cp
}

// PutRequest stores req as-is, assigning an ID when it has none.
func (s *Store) PutRequest(req *entity.ApprovableRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == 0 {
		req.ID = s.id()
	}
	s.requests[req.ID] = req.Clone()
}

// AppendHistory stores a history row directly.
func (s *Store) AppendHistory(h *entity.ApprovalHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *h
	cp.ID = s.id()
	s.history = append(s.history, &cp)
}

func (s *Store) HistoryRows(requestID int64) []*entity.ApprovalHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.ApprovalHistory
	for _, h := range s.history {
		if h.RequestID == requestID {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out
}

func (s *Store) OutboxMessages() []*entity.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		cp := *m
		out = append(out, &cp)
	}
	return out
}

func (s *Store) Request(id int64) *entity.ApprovableRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.requests[id]; ok {
		return r.Clone()
	}
	return nil
}

func (s *Store) PreApproval(id string) *entity.PreApproval {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.preApprovals[id]; ok {
		cp := *p
		return &cp
	}
	return nil
}

// --- transactions

type snapshot struct {
	requests     map[int64]*entity.ApprovableRequest
	history      []*entity.ApprovalHistory
	tiers        []*entity.ApprovalTier
	preApprovals map[string]*entity.PreApproval
	delegations  map[string]*entity.Delegation
	budgets      map[string]*entity.BudgetUtilization
	sequences    map[string]int64
	outbox       []*entity.OutboxMessage
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		requests:     make(map[int64]*entity.ApprovableRequest, len(s.requests)),
		history:      append([]*entity.ApprovalHistory(nil), s.history...),
		tiers:        append([]*entity.ApprovalTier(nil), s.tiers...),
		preApprovals: make(map[string]*entity.PreApproval, len(s.preApprovals)),
		delegations:  make(map[string]*entity.Delegation, len(s.delegations)),
		budgets:      make(map[string]*entity.BudgetUtilization, len(s.budgets)),
		sequences:    make(map[string]int64, len(s.sequences)),
		outbox:       append([]*entity.OutboxMessage(nil), s.outbox...),
	}
	for k, v := range s.requests {
		snap.requests[k] = v
	}
	for k, v := range s.preApprovals {
		snap.preApprovals[k] = v
	}
	for k, v := range s.delegations {
		snap.delegations[k] = v
	}
	for k, v := range s.budgets {
		snap.budgets[k] = v
	}
	for k, v := range s.sequences {
		snap.sequences[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = snap.requests
	s.history = snap.history
	s.tiers = snap.tiers
	s.preApprovals = snap.preApprovals
	s.delegations = snap.delegations
	s.budgets = snap.budgets
	s.sequences = snap.sequences
	s.outbox = snap.outbox
}

// WithTransaction runs fn and restores the previous state if it fails.
// Transactions are not isolated from each other.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// --- port adapters

func (s *Store) Requests() port.RequestRepository       { return requestRepo{s} }
func (s *Store) Audit() port.AuditSink                  { return auditSink{s} }
func (s *Store) TierRepo() port.TierRepository          { return tierRepo{s} }
func (s *Store) PreApprovals() port.PreApprovalStore    { return preApprovalStore{s} }
func (s *Store) Delegations() port.DelegationRepository { return delegationRepo{s} }
func (s *Store) Ledger() port.BudgetLedger              { return ledger{s} }
func (s *Store) Categories() port.CategoryRegistry      { return categoryRegistry{s} }
func (s *Store) Directory() port.RoleDirectory          { return directory{s} }
func (s *Store) Currency() port.CurrencyTable           { return currencyTable{s} }
func (s *Store) Sequences() port.SequenceCounter        { return sequenceCounter{s} }
func (s *Store) Outbox() port.NotificationOutbox        { return outbox{s} }
func (s *Store) TxManager() port.TransactionManager     { return s }

type requestRepo struct{ s *Store }

func (r requestRepo) Create(ctx context.Context, req *entity.ApprovableRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	req.ID = r.s.id()
	if req.Version == 0 {
		req.Version = 1
	}
	r.s.requests[req.ID] = req.Clone()
	return nil
}

func (r requestRepo) GetByID(ctx context.Context, id int64) (*entity.ApprovableRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if req, ok := r.s.requests[id]; ok {
		return req.Clone(), nil
	}
	return nil, nil
}

func (r requestRepo) UpdateIfVersion(ctx context.Context, req *entity.ApprovableRequest, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	current, ok := r.s.requests[req.ID]
	if !ok || current.Version != expectedVersion {
		return apperr.StaleState("request %d was modified concurrently", req.ID)
	}
	req.Version = expectedVersion + 1
	r.s.requests[req.ID] = req.Clone()
	return nil
}

func (r requestRepo) ListByStatus(ctx context.Context, status string, afterID int64, limit int) ([]*entity.ApprovableRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*entity.ApprovableRequest
	for _, req := range r.s.requests {
		if req.Status == status && req.ID > afterID {
			out = append(out, req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r requestRepo) ListPendingForRole(ctx context.Context, role string, limit, offset int) ([]*entity.ApprovableRequest, error) {
	all, _ := r.ListByStatus(ctx, entity.StatusPendingApproval, 0, 0)
	var out []*entity.ApprovableRequest
	for _, req := range all {
		if req.ApproverRoleRequired == role {
			out = append(out, req)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type auditSink struct{ s *Store }

func (a auditSink) Append(ctx context.Context, h *entity.ApprovalHistory) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if a.s.FailAppend != nil {
		return a.s.FailAppend
	}
	h.ID = a.s.id()
	cp := *h
	a.s.history = append(a.s.history, &cp)
	return nil
}

func (a auditSink) ListByRequest(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error) {
	return a.s.HistoryRows(requestID), nil
}

func (a auditSink) Latest(ctx context.Context, requestID int64) (*entity.ApprovalHistory, error) {
	rows := a.s.HistoryRows(requestID)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[len(rows)-1], nil
}

type tierRepo struct{ s *Store }

func (t tierRepo) ListActive(ctx context.Context) ([]*entity.ApprovalTier, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	var out []*entity.ApprovalTier
	for _, tier := range t.s.tiers {
		if tier.IsActive {
			cp := *tier
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TierOrder < out[j].TierOrder })
	return out, nil
}

func (t tierRepo) ReplaceActive(ctx context.Context, tiers []*entity.ApprovalTier) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	next := make([]*entity.ApprovalTier, 0, len(t.s.tiers)+len(tiers))
	for _, old := range t.s.tiers {
		cp := *old
		cp.IsActive = false
		next = append(next, &cp)
	}
	for _, tier := range tiers {
		tier.ID = t.s.id()
		tier.IsActive = true
		cp := *tier
		next = append(next, &cp)
	}
	t.s.tiers = next
	return nil
}

type preApprovalStore struct{ s *Store }

func (p preApprovalStore) Create(ctx context.Context, pa *entity.PreApproval) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if _, exists := p.s.preApprovals[pa.ID]; exists {
		return fmt.Errorf("pre-approval %s already exists", pa.ID)
	}
	cp := *pa
	p.s.preApprovals[pa.ID] = &cp
	return nil
}

func (p preApprovalStore) GetByID(ctx context.Context, id string) (*entity.PreApproval, error) {
	return p.s.PreApproval(id), nil
}

func (p preApprovalStore) ListApproved(ctx context.Context, requesterID, categoryID string) ([]*entity.PreApproval, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []*entity.PreApproval
	for _, pa := range p.s.preApprovals {
		if pa.RequesterID == requesterID && pa.CategoryID == categoryID && pa.Status == entity.PreApprovalStatusApproved {
			cp := *pa
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

func (p preApprovalStore) Decide(ctx context.Context, id, status, approverID, reason string, decidedAt time.Time) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pa, ok := p.s.preApprovals[id]
	if !ok || pa.Status != entity.PreApprovalStatusPending {
		return false, nil
	}
	cp := *pa
	cp.Status = status
	cp.ApproverID = approverID
	cp.DecisionReason = reason
	cp.DecidedAt = &decidedAt
	cp.UpdatedAt = decidedAt
	p.s.preApprovals[id] = &cp
	return true, nil
}

func (p preApprovalStore) Consume(ctx context.Context, id string, requestID int64, actualAmount decimal.Decimal, at time.Time) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pa, ok := p.s.preApprovals[id]
	if !ok || pa.Status != entity.PreApprovalStatusApproved {
		return false, nil
	}
	cp := *pa
	cp.Status = entity.PreApprovalStatusUsed
	cp.ActualAmount = &actualAmount
	cp.ConsumedByRequestID = &requestID
	cp.UpdatedAt = at
	p.s.preApprovals[id] = &cp
	return true, nil
}

func (p preApprovalStore) ListExpirable(ctx context.Context, limit int) ([]*entity.PreApproval, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	var out []*entity.PreApproval
	for _, pa := range p.s.preApprovals {
		if pa.Status == entity.PreApprovalStatusPending || pa.Status == entity.PreApprovalStatusApproved {
			cp := *pa
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (p preApprovalStore) MarkExpired(ctx context.Context, id, fromStatus string, at time.Time) (bool, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	pa, ok := p.s.preApprovals[id]
	if !ok || pa.Status != fromStatus {
		return false, nil
	}
	cp := *pa
	cp.Status = entity.PreApprovalStatusExpired
	cp.UpdatedAt = at
	p.s.preApprovals[id] = &cp
	return true, nil
}

type delegationRepo struct{ s *Store }

func (d delegationRepo) Create(ctx context.Context, del *entity.Delegation) error {
	d.s.AddDelegation(del)
	return nil
}

func (d delegationRepo) GetByID(ctx context.Context, id string) (*entity.Delegation, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if del, ok := d.s.delegations[id]; ok {
		cp := *del
		return &cp, nil
	}
	return nil, nil
}

func (d delegationRepo) ListActiveFrom(ctx context.Context, fromUserID string) ([]*entity.Delegation, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []*entity.Delegation
	for _, del := range d.s.delegations {
		if del.FromUserID == fromUserID && del.IsActive {
			cp := *del
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (d delegationRepo) Deactivate(ctx context.Context, id string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	del, ok := d.s.delegations[id]
	if !ok {
		return fmt.Errorf("delegation %s not found", id)
	}
	cp := *del
	cp.IsActive = false
	d.s.delegations[id] = &cp
	return nil
}

type ledger struct{ s *Store }

func (l ledger) GetUtilization(ctx context.Context, scopeKey string) (*entity.BudgetUtilization, error) {
	if l.s.FailLedger != nil {
		return nil, l.s.FailLedger
	}
	return l.s.Budget(scopeKey), nil
}

func (l ledger) update(scopeKey string, expectedVersion int64, fn func(b *entity.BudgetUtilization)) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if l.s.FailLedger != nil {
		return l.s.FailLedger
	}
	b, ok := l.s.budgets[scopeKey]
	if !ok || b.Version != expectedVersion {
		return apperr.StaleState("budget %s was modified concurrently", scopeKey)
	}
	cp := *b
	fn(&cp)
	cp.Version++
	l.s.budgets[scopeKey] = &cp
	return nil
}

func (l ledger) Commit(ctx context.Context, scopeKey string, amount decimal.Decimal, expectedVersion int64) error {
	return l.update(scopeKey, expectedVersion, func(b *entity.BudgetUtilization) {
		b.Committed = b.Committed.Add(amount)
	})
}

func (l ledger) Settle(ctx context.Context, scopeKey string, amount decimal.Decimal, expectedVersion int64) error {
	return l.update(scopeKey, expectedVersion, func(b *entity.BudgetUtilization) {
		b.Committed = b.Committed.Sub(amount)
		b.Spent = b.Spent.Add(amount)
	})
}

type categoryRegistry struct{ s *Store }

func (c categoryRegistry) GetCategory(ctx context.Context, id string) (*entity.Category, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if cat, ok := c.s.categories[id]; ok {
		cp := *cat
		return &cp, nil
	}
	return nil, nil
}

type directory struct{ s *Store }

func (d directory) GetUser(ctx context.Context, userID string) (*entity.User, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	if u, ok := d.s.users[userID]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (d directory) HasRole(ctx context.Context, userID, role string) (bool, error) {
	u, _ := d.GetUser(ctx, userID)
	return u != nil && u.Role == role, nil
}

func (d directory) ManagerOf(ctx context.Context, userID string) (string, error) {
	u, _ := d.GetUser(ctx, userID)
	if u == nil {
		return "", nil
	}
	return u.ManagerID, nil
}

func (d directory) UsersWithRole(ctx context.Context, role string) ([]string, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()
	var out []string
	for _, u := range d.s.users {
		if u.Role == role {
			out = append(out, u.ID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d directory) IsLocked(ctx context.Context, userID string) (bool, error) {
	u, _ := d.GetUser(ctx, userID)
	return u != nil && u.IsLocked, nil
}

type currencyTable struct{ s *Store }

func (c currencyTable) ToBase(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if currency == c.s.BaseCurrency {
		return amount, nil
	}
	rate, ok := c.s.rates[currency]
	if !ok {
		return decimal.Zero, apperr.Validation("no exchange rate for %s", currency)
	}
	return amount.Mul(rate), nil
}

type sequenceCounter struct{ s *Store }

func (q sequenceCounter) Next(ctx context.Context, scope string) (int64, error) {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	q.s.sequences[scope]++
	return q.s.sequences[scope], nil
}

type outbox struct{ s *Store }

func (o outbox) Enqueue(ctx context.Context, msg *entity.OutboxMessage) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	if o.s.FailEnqueue != nil {
		return o.s.FailEnqueue
	}
	msg.ID = o.s.id()
	cp := *msg
	o.s.outbox = append(o.s.outbox, &cp)
	return nil
}

func (o outbox) find(id int64) (int, error) {
	for i, m := range o.s.outbox {
		if m.ID == id {
			return i, nil
		}
	}
	return -1, errors.New("outbox message not found")
}

func (o outbox) MarkSent(ctx context.Context, id int64, at time.Time) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	i, err := o.find(id)
	if err != nil {
		return err
	}
	cp := *o.s.outbox[i]
	cp.Status = entity.NotificationStatusSent
	cp.Attempts++
	cp.DeliveredAt = &at
	o.s.outbox[i] = &cp
	return nil
}

func (o outbox) MarkFailed(ctx context.Context, id int64, remaining []string, errMsg string, final bool) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	i, err := o.find(id)
	if err != nil {
		return err
	}
	cp := *o.s.outbox[i]
	if len(remaining) > 0 {
		cp.Recipients = append([]string(nil), remaining...)
	}
	cp.Attempts++
	cp.LastError = errMsg
	if final {
		cp.Status = entity.NotificationStatusFailed
	}
	o.s.outbox[i] = &cp
	return nil
}

func (o outbox) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.OutboxMessage, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	var out []*entity.OutboxMessage
	for _, m := range o.s.outbox {
		if m.Status == entity.NotificationStatusPending && m.CreatedAt.Before(createdBefore) {
			cp := *m
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (o outbox) HasEventSince(ctx context.Context, requestID int64, eventType string, since time.Time) (bool, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	for _, m := range o.s.outbox {
		if m.RequestID == requestID && m.EventType == eventType && !m.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

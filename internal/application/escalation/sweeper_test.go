package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/expense-approval/internal/application/budget"
	"github.com/garyjia/expense-approval/internal/application/delegation"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/port/porttest"
	"github.com/garyjia/expense-approval/internal/application/preapproval"
	"github.com/garyjia/expense-approval/internal/application/tier"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

type fixture struct {
	store   *porttest.Store
	engine  workflow.ApprovalEngine
	ledger  *preapproval.Ledger
	clock   *clock
	sweeper *Sweeper
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := porttest.NewStore()
	store.AddUser(&entity.User{ID: "emp", Role: entity.RoleEmployee, DepartmentID: "eng"})
	store.AddUser(&entity.User{ID: "mgr1", Role: entity.RoleApprover})
	store.AddUser(&entity.User{ID: "admin", Role: entity.RoleAdmin})
	store.AddCategory(&entity.Category{ID: "travel", Name: "Travel", IsActive: true})
	store.SetTiers([]*entity.ApprovalTier{
		porttest.Tier(1, "0", "1000", entity.RoleApprover, 2),
		porttest.Tier(2, "1000.01", "5000", entity.RoleApprover, 2),
		porttest.Tier(3, "5000.01", "", entity.RoleCEO, 2),
	})

	c := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	logger := port.NopLogger{}
	tiers := tier.NewResolver(store.TierRepo(), store.Directory(), store.TxManager(), logger)
	delegations := delegation.NewResolver(store.Delegations(), store.Directory(), store.TxManager(), logger,
		delegation.WithClock(c.Now))
	ledger := preapproval.NewLedger(store.PreApprovals(), store.Categories(), store.Directory(), store.Sequences(),
		tiers, delegations, logger, preapproval.WithClock(c.Now))
	engine := workflow.NewEngine(workflow.Dependencies{
		Requests:     store.Requests(),
		Audit:        store.Audit(),
		Outbox:       store.Outbox(),
		Categories:   store.Categories(),
		Directory:    store.Directory(),
		Currency:     store.Currency(),
		Sequences:    store.Sequences(),
		TxManager:    store.TxManager(),
		Tiers:        tiers,
		Budget:       budget.NewGuard(store.Ledger(), logger),
		PreApprovals: ledger,
		Delegations:  delegations,
		Logger:       logger,
	}, workflow.WithClock(c.Now))

	return &fixture{
		store:   store,
		engine:  engine,
		ledger:  ledger,
		clock:   c,
		sweeper: NewSweeper(engine, store.Requests(), ledger, 0, logger),
	}
}

func (f *fixture) submit(t *testing.T, amount string) *entity.ApprovableRequest {
	t.Helper()
	ctx := context.Background()
	req, err := f.engine.CreateDraft(ctx, workflow.DraftInput{
		Kind: entity.KindExpense, RequesterID: "emp", CategoryID: "travel",
		Amount: decimal.RequireFromString(amount), Currency: "USD",
	})
	require.NoError(t, err)
	req, err = f.engine.Submit(ctx, req.ID, "emp")
	require.NoError(t, err)
	return req
}

type requestState struct {
	Status  string
	Tier    int
	Version int64
	History int
}

func (f *fixture) state(ids ...int64) []requestState {
	out := make([]requestState, 0, len(ids))
	for _, id := range ids {
		r := f.store.Request(id)
		out = append(out, requestState{r.Status, r.CurrentTier, r.Version, len(f.store.HistoryRows(id))})
	}
	return out
}

func TestSweepIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	low := f.submit(t, "100")
	mid := f.submit(t, "2000")
	top := f.submit(t, "9000")
	f.clock.t = f.clock.t.Add(36 * time.Hour)
	fresh := f.submit(t, "50")
	f.clock.t = f.clock.t.Add(24 * time.Hour)

	first, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, first.Scanned)
	assert.Equal(t, 2, first.Escalated)
	assert.Equal(t, 1, first.Flagged)

	after := f.state(low.ID, mid.ID, top.ID, fresh.ID)
	outbox := len(f.store.OutboxMessages())

	second, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Escalated)
	assert.Zero(t, second.Flagged)
	assert.Equal(t, after, f.state(low.ID, mid.ID, top.ID, fresh.ID))
	assert.Len(t, f.store.OutboxMessages(), outbox)

	assert.Equal(t, 2, f.store.Request(low.ID).CurrentTier)
	assert.Equal(t, 3, f.store.Request(mid.ID).CurrentTier)
	assert.Equal(t, 3, f.store.Request(top.ID).CurrentTier)
	assert.Equal(t, 1, f.store.Request(fresh.ID).CurrentTier)
}

func TestSweepExpiresPreApprovals(t *testing.T) {
	f := setup(t)
	f.store.AddPreApproval(&entity.PreApproval{
		ID: "pa-old", RequesterID: "emp", CategoryID: "travel",
		Status: entity.PreApprovalStatusApproved, ExpiresAt: f.clock.t.Add(-time.Minute),
	})
	f.store.AddPreApproval(&entity.PreApproval{
		ID: "pa-new", RequesterID: "emp", CategoryID: "travel",
		Status: entity.PreApprovalStatusApproved, ExpiresAt: f.clock.t.Add(time.Hour),
	})

	report, err := f.sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PreApprovalsExpired)
	assert.Equal(t, entity.PreApprovalStatusExpired, f.store.PreApproval("pa-old").Status)
	assert.Equal(t, entity.PreApprovalStatusApproved, f.store.PreApproval("pa-new").Status)
}

// racingEngine loses every escalation to a concurrent writer
type racingEngine struct {
	workflow.ApprovalEngine
}

func (racingEngine) Escalate(ctx context.Context, requestID int64) (*workflow.EscalationResult, error) {
	return nil, apperr.StaleState("request %d was modified concurrently", requestID)
}

func TestSweepCountsConflicts(t *testing.T) {
	f := setup(t)
	f.submit(t, "100")
	f.submit(t, "200")

	s := NewSweeper(racingEngine{f.engine}, f.store.Requests(), nil, 10, port.NopLogger{})
	report, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 2, report.Conflicts)
	assert.Zero(t, report.Escalated)
}

func TestSweepPagesPastRequestsThatStayPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	top := f.submit(t, "9000")
	f.clock.t = f.clock.t.Add(72 * time.Hour)
	_, err := f.engine.Escalate(ctx, top.ID)
	require.NoError(t, err)

	low := f.submit(t, "100")
	f.clock.t = f.clock.t.Add(72 * time.Hour)

	s := NewSweeper(f.engine, f.store.Requests(), nil, 1, port.NopLogger{})
	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Escalated)
	assert.Equal(t, 2, f.store.Request(low.ID).CurrentTier)
	assert.Equal(t, 3, f.store.Request(top.ID).CurrentTier)
}

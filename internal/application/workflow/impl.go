package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-approval/internal/application/budget"
	"github.com/garyjia/expense-approval/internal/application/delegation"
	"github.com/garyjia/expense-approval/internal/application/dispatcher"
	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/preapproval"
	"github.com/garyjia/expense-approval/internal/application/tier"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

// DefaultEmergencyRoles may approve any tier with an emergency reason
var DefaultEmergencyRoles = []string{entity.RoleCEO, entity.RoleSuperApprover, entity.RoleFinance}

// Dependencies are the collaborators of the engine
type Dependencies struct {
	Requests     port.RequestRepository
	Audit        port.AuditSink
	Outbox       port.NotificationOutbox
	Categories   port.CategoryRegistry
	Directory    port.RoleDirectory
	Currency     port.CurrencyTable
	Sequences    port.SequenceCounter
	TxManager    port.TransactionManager
	Tiers        *tier.Resolver
	Budget       *budget.Guard
	PreApprovals *preapproval.Ledger
	Delegations  *delegation.Resolver
	Logger       port.Logger
}

type engineImpl struct {
	Dependencies
	dispatcher     dispatcher.Dispatcher
	now            func() time.Time
	emergencyRoles []string
}

// EngineOption configures the approval engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher notified after each commit
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithEmergencyRoles overrides DefaultEmergencyRoles
func WithEmergencyRoles(roles []string) EngineOption {
	return func(e *engineImpl) {
		if len(roles) > 0 {
			e.emergencyRoles = roles
		}
	}
}

// NewEngine creates a new approval engine
func NewEngine(deps Dependencies, opts ...EngineOption) ApprovalEngine {
	e := &engineImpl{
		Dependencies:   deps,
		now:            time.Now,
		emergencyRoles: DefaultEmergencyRoles,
	}
	if e.Logger == nil {
		e.Logger = port.NopLogger{}
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// change describes one state transition to persist
type change struct {
	triggers   []domainwf.Trigger
	action     string
	actorID    string
	comment    string
	tierLevel  int
	emergency  bool
	budget     string
	eventType  event.Type
	recipients []string
	payload    map[string]interface{}

	// apply mutates the copy of the request that will be written
	apply func(next *entity.ApprovableRequest)
	// inTx runs inside the transaction before the request is written
	inTx func(txCtx context.Context, next *entity.ApprovableRequest) error
}

// commit fires the triggers and persists the resulting state, history row and
// outbox notification atomically. current must be the state the command was
// validated against; a concurrent change makes the write fail with STALE_STATE.
func (e *engineImpl) commit(ctx context.Context, current *entity.ApprovableRequest, c change) (*entity.ApprovableRequest, error) {
	to, err := approvalLifecycle.Walk(domainwf.State(current.Status), c.triggers...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidState, err, "cannot %s request %s in status %s",
			strings.ToLower(c.action), current.RequestNumber, current.Status)
	}

	now := e.now().UTC()
	next := current.Clone()
	if c.apply != nil {
		c.apply(next)
	}
	next.Status = to.String()
	next.UpdatedAt = now

	history := &entity.ApprovalHistory{
		RequestID:      current.ID,
		TierLevel:      c.tierLevel,
		Action:         c.action,
		ActorID:        c.actorID,
		PreviousStatus: current.Status,
		NewStatus:      next.Status,
		Comment:        c.comment,
		IsEmergency:    c.emergency,
		BudgetDecision: c.budget,
		CreatedAt:      now,
	}

	payload := map[string]interface{}{
		"action":          c.action,
		"actor_id":        c.actorID,
		"previous_status": current.Status,
		"new_status":      next.Status,
		"tier":            next.CurrentTier,
		"approver_role":   next.ApproverRoleRequired,
		"amount":          next.BaseCurrencyAmount.StringFixed(entity.BaseCurrencyScale),
		"kind":            string(next.Kind),
	}
	if c.comment != "" {
		payload["comment"] = c.comment
	}
	for k, v := range c.payload {
		payload[k] = v
	}
	evt := event.NewEvent(c.eventType, next.ID, next.RequestNumber, c.recipients, payload)
	evt.Timestamp = now

	err = e.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if c.inTx != nil {
			if err := c.inTx(txCtx, next); err != nil {
				return err
			}
		}
		if err := e.Requests.UpdateIfVersion(txCtx, next, current.Version); err != nil {
			return err
		}
		if err := e.Audit.Append(txCtx, history); err != nil {
			return apperr.Collaborator("audit sink", err)
		}
		msg, err := e.enqueue(txCtx, evt)
		if err != nil {
			return err
		}
		evt = evt.WithPayload("outbox_id", msg.ID)
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindStaleState {
			e.Logger.Warn("Concurrent modification detected",
				"request", current.RequestNumber,
				"action", c.action,
				"expected_version", current.Version,
			)
		}
		return nil, err
	}

	e.Logger.Info("Request transitioned",
		"request", next.RequestNumber,
		"action", c.action,
		"actor", c.actorID,
		"from", current.Status,
		"to", next.Status,
		"tier", next.CurrentTier,
	)
	e.dispatch(ctx, evt)
	return next, nil
}

// enqueue writes evt to the notification outbox within the caller's transaction
func (e *engineImpl) enqueue(txCtx context.Context, evt *event.Event) (*entity.OutboxMessage, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	msg := &entity.OutboxMessage{
		EventID:    evt.ID,
		EventType:  evt.Type.String(),
		RequestID:  evt.RequestID,
		Recipients: evt.Recipients,
		Payload:    string(raw),
		Status:     entity.NotificationStatusPending,
		CreatedAt:  evt.Timestamp,
	}
	if err := e.Outbox.Enqueue(txCtx, msg); err != nil {
		return nil, apperr.Collaborator("notification outbox", err)
	}
	return msg, nil
}

func (e *engineImpl) dispatch(ctx context.Context, evt *event.Event) {
	if e.dispatcher != nil {
		e.dispatcher.DispatchAsync(ctx, evt)
	}
}

// load returns the request or NOT_FOUND
func (e *engineImpl) load(ctx context.Context, id int64) (*entity.ApprovableRequest, error) {
	req, err := e.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load request %d: %w", id, err)
	}
	if req == nil {
		return nil, apperr.NotFound("request %d not found", id)
	}
	return req, nil
}

// route is the outcome of tier resolution plus the budget check
type route struct {
	tier     *entity.ApprovalTier
	outcome  *budget.Outcome
	assigned string
}

// routeFrom evaluates the budget for req and picks the tier the request goes
// to. start is the tier the amount or the previous approval points at. With
// bump set, an AUTO_ESCALATE overrun moves it one tier further when one
// exists; only the entry tier chosen at submit is bumped, later hops go to
// the next tier in order.
func (e *engineImpl) routeFrom(ctx context.Context, req *entity.ApprovableRequest, start *entity.ApprovalTier, bump bool) (*route, error) {
	outcome, err := e.Budget.EvaluateAll(ctx, req.BudgetScopes(), req.BaseCurrencyAmount)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == budget.DecisionBlock {
		return nil, apperr.BudgetExceeded("request %s exceeds budget: %s", req.RequestNumber, outcome.Summary())
	}

	target := start
	if bump && outcome.Escalate {
		bumped, err := e.Tiers.Next(ctx, start.TierOrder)
		if err != nil {
			return nil, err
		}
		if bumped != nil {
			e.Logger.Warn("Budget overrun escalates request",
				"request", req.RequestNumber,
				"from_tier", start.TierOrder,
				"to_tier", bumped.TierOrder,
			)
			target = bumped
		}
	}

	assigned, err := e.assignee(ctx, target.ApproverRole)
	if err != nil {
		return nil, err
	}
	return &route{tier: target, outcome: outcome, assigned: assigned}, nil
}

// assignee returns the single delegate the role pool maps to, or "" when the
// request stays assigned to the role.
func (e *engineImpl) assignee(ctx context.Context, role string) (string, error) {
	approvers, err := e.Delegations.EligibleApprovers(ctx, role, e.now())
	if err != nil {
		return "", err
	}
	if len(approvers) == 1 && approvers[0].OnBehalfOf != "" {
		return approvers[0].UserID, nil
	}
	return "", nil
}

// approverRecipients lists who should hear about a request waiting on role.
// With nobody eligible the requester's manager is told instead.
func (e *engineImpl) approverRecipients(ctx context.Context, req *entity.ApprovableRequest, role string) []string {
	approvers, err := e.Delegations.EligibleApprovers(ctx, role, e.now())
	if err != nil {
		e.Logger.Warn("Could not resolve approvers for notification", "request", req.RequestNumber, "role", role, "error", err)
	}
	ids := make([]string, 0, len(approvers))
	for _, a := range approvers {
		if a.UserID != req.RequesterID {
			ids = append(ids, a.UserID)
		}
	}
	if len(ids) > 0 {
		return ids
	}

	manager, err := e.Directory.ManagerOf(ctx, req.RequesterID)
	if err != nil || manager == "" {
		e.Logger.Warn("No approver available for role", "request", req.RequestNumber, "role", role)
		return nil
	}
	e.Logger.Warn("No approver available for role, notifying manager", "request", req.RequestNumber, "role", role, "manager", manager)
	return []string{manager}
}

// authorizeApprover checks that actorID may act for the request's current tier
func (e *engineImpl) authorizeApprover(ctx context.Context, req *entity.ApprovableRequest, actorID string) error {
	if actorID == req.RequesterID {
		return apperr.Unauthorized("requesters cannot act on their own request")
	}
	ok, err := e.Delegations.CanAct(ctx, actorID, req.ApproverRoleRequired, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Unauthorized("user %s is not an eligible %s approver for request %s",
			actorID, req.ApproverRoleRequired, req.RequestNumber)
	}
	return nil
}

// authorizeEmergency checks that actorID holds an emergency role
func (e *engineImpl) authorizeEmergency(ctx context.Context, req *entity.ApprovableRequest, actorID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return apperr.Validation("an emergency approval requires a reason")
	}
	if actorID == req.RequesterID {
		return apperr.Unauthorized("requesters cannot approve their own request")
	}
	locked, err := e.Directory.IsLocked(ctx, actorID)
	if err != nil {
		return apperr.Collaborator("role directory", err)
	}
	if locked {
		return apperr.Unauthorized("user %s is locked", actorID)
	}
	for _, role := range e.emergencyRoles {
		has, err := e.Directory.HasRole(ctx, actorID, role)
		if err != nil {
			return apperr.Collaborator("role directory", err)
		}
		if has {
			return nil
		}
	}
	return apperr.Unauthorized("user %s holds no emergency approval role", actorID)
}

func (e *engineImpl) requireRequester(req *entity.ApprovableRequest, actorID string) error {
	if actorID != req.RequesterID {
		return apperr.Unauthorized("only the requester may do this")
	}
	return nil
}

// tierEnteredAt is when the request entered its current tier: the time of the
// last history row, or the submission time if there is none.
func (e *engineImpl) tierEnteredAt(ctx context.Context, req *entity.ApprovableRequest) (time.Time, error) {
	latest, err := e.Audit.Latest(ctx, req.ID)
	if err != nil {
		return time.Time{}, apperr.Collaborator("audit sink", err)
	}
	if latest != nil {
		return latest.CreatedAt, nil
	}
	if req.SubmittedAt != nil {
		return *req.SubmittedAt, nil
	}
	return req.UpdatedAt, nil
}

func (e *engineImpl) Get(ctx context.Context, requestID int64) (*entity.ApprovableRequest, error) {
	return e.load(ctx, requestID)
}

func (e *engineImpl) History(ctx context.Context, requestID int64) ([]*entity.ApprovalHistory, error) {
	if _, err := e.load(ctx, requestID); err != nil {
		return nil, err
	}
	rows, err := e.Audit.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, apperr.Collaborator("audit sink", err)
	}
	return rows, nil
}

func (e *engineImpl) ListPending(ctx context.Context, role string, limit, offset int) ([]*entity.ApprovableRequest, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	reqs, err := e.Requests.ListPendingForRole(ctx, role, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending requests: %w", err)
	}
	return reqs, nil
}

package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/budget"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/domain/event"
	domainwf "github.com/garyjia/expense-approval/internal/domain/workflow"
)

const autoEscalatedComment = "auto-escalated"

// CreateDraft stores a new request in DRAFT with its human-readable number
func (e *engineImpl) CreateDraft(ctx context.Context, in DraftInput) (*entity.ApprovableRequest, error) {
	if !in.Kind.IsValid() {
		return nil, apperr.Validation("unknown request kind %q", in.Kind)
	}
	if !in.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		return nil, apperr.Validation("currency is required")
	}

	user, err := e.Directory.GetUser(ctx, in.RequesterID)
	if err != nil {
		return nil, apperr.Collaborator("role directory", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user %s not found", in.RequesterID)
	}
	if _, err := e.activeCategory(ctx, in.CategoryID); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	scope := fmt.Sprintf("%s-%d", in.Kind.NumberPrefix(), now.Year())
	seq, err := e.Sequences.Next(ctx, scope)
	if err != nil {
		return nil, apperr.Collaborator("sequence counter", err)
	}

	req := &entity.ApprovableRequest{
		Kind:          in.Kind,
		RequestNumber: fmt.Sprintf("%s-%06d", scope, seq),
		RequesterID:   user.ID,
		DepartmentID:  in.DepartmentID,
		ProjectID:     in.ProjectID,
		CategoryID:    in.CategoryID,
		Description:   in.Description,
		Amount:        in.Amount,
		Currency:      currency,
		Receipts:      in.Receipts,
		Status:        entity.StatusDraft,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.DepartmentID == "" {
		req.DepartmentID = user.DepartmentID
	}

	if err := e.Requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	e.Logger.Info("Draft created", "request", req.RequestNumber, "kind", req.Kind, "requester", req.RequesterID)
	return req, nil
}

func (e *engineImpl) activeCategory(ctx context.Context, id string) (*entity.Category, error) {
	cat, err := e.Categories.GetCategory(ctx, id)
	if err != nil {
		return nil, apperr.Collaborator("category registry", err)
	}
	if cat == nil || !cat.IsActive {
		return nil, apperr.Validation("category %q does not exist or is inactive", id)
	}
	return cat, nil
}

// routing is everything Submit and Resubmit decide before the state write
type routing struct {
	baseAmount    decimal.Decimal
	route         *route
	preApprovalID string
	consume       bool
}

// prepareRouting runs the submission policy against req, which already
// carries any amendments: receipts, conversion, category limit, tier, budget
// and pre-approval.
func (e *engineImpl) prepareRouting(ctx context.Context, req *entity.ApprovableRequest) (*routing, error) {
	cat, err := e.activeCategory(ctx, req.CategoryID)
	if err != nil {
		return nil, err
	}
	if req.Kind.EnforcesReceipts() && cat.RequiresReceipt && len(req.Receipts) == 0 {
		return nil, apperr.Validation("category %s requires at least one receipt", cat.Name)
	}

	base, err := e.Currency.ToBase(ctx, req.Amount, req.Currency)
	if err != nil {
		if apperr.KindOf(err) != "" {
			return nil, err
		}
		return nil, apperr.Collaborator("currency table", err)
	}
	base = entity.RoundBase(base)
	if base.IsNegative() {
		return nil, apperr.Validation("amount must not be negative")
	}
	if cat.MaxAmount != nil && base.GreaterThan(*cat.MaxAmount) {
		return nil, apperr.CategoryLimitExceeded("amount %s exceeds the %s limit of %s",
			base.StringFixed(entity.BaseCurrencyScale), cat.Name, cat.MaxAmount.StringFixed(entity.BaseCurrencyScale))
	}

	start, err := e.Tiers.ResolveTier(ctx, base)
	if err != nil {
		return nil, err
	}

	priced := req.Clone()
	priced.BaseCurrencyAmount = base
	rt, err := e.routeFrom(ctx, priced, start, true)
	if err != nil {
		return nil, err
	}

	r := &routing{baseAmount: base, route: rt, preApprovalID: req.PreApprovalID}
	if cat.RequiresPreApproval && req.PreApprovalID == "" {
		pa, err := e.PreApprovals.FindValidFor(ctx, req.RequesterID, req.CategoryID)
		if err != nil {
			return nil, err
		}
		if pa == nil {
			return nil, apperr.PreApprovalRequired("category %s requires an approved pre-approval", cat.Name)
		}
		r.preApprovalID = pa.ID
		r.consume = true
	}
	return r, nil
}

// routedChange builds the state write of a routed submission
func (e *engineImpl) routedChange(req *entity.ApprovableRequest, r *routing) change {
	rt := r.route
	return change{
		tierLevel: rt.tier.TierOrder,
		budget:    rt.outcome.Summary(),
		payload: map[string]interface{}{
			"budget_decision": string(rt.outcome.Decision),
		},
		apply: func(next *entity.ApprovableRequest) {
			now := e.now().UTC()
			next.BaseCurrencyAmount = r.baseAmount
			next.CurrentTier = rt.tier.TierOrder
			next.ApproverRoleRequired = rt.tier.ApproverRole
			next.AssignedApproverID = rt.assigned
			next.PreApprovalID = r.preApprovalID
			next.SubmittedAt = &now
		},
		inTx: func(txCtx context.Context, next *entity.ApprovableRequest) error {
			if !r.consume {
				return nil
			}
			return e.PreApprovals.Consume(txCtx, r.preApprovalID, req.ID, r.baseAmount)
		},
	}
}

func (e *engineImpl) Submit(ctx context.Context, requestID int64, actorID string) (*entity.ApprovableRequest, error) {
	req, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.requireRequester(req, actorID); err != nil {
		return nil, err
	}
	if req.Status != entity.StatusDraft && req.Status != entity.StatusResubmitted {
		return nil, apperr.InvalidState("request %s is %s and cannot be submitted", req.RequestNumber, req.Status)
	}

	r, err := e.prepareRouting(ctx, req)
	if err != nil {
		return nil, err
	}

	c := e.routedChange(req, r)
	c.triggers = []domainwf.Trigger{domainwf.TriggerSubmit, domainwf.TriggerRoute}
	c.action = entity.ActionSubmit
	c.actorID = actorID
	c.eventType = event.TypeRequestSubmitted
	c.recipients = e.approverRecipients(ctx, req, r.route.tier.ApproverRole)
	return e.commit(ctx, req, c)
}

func (e *engineImpl) Resubmit(ctx context.Context, cmd ResubmitCommand) (*entity.ApprovableRequest, error) {
	req, err := e.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if err := e.requireRequester(req, cmd.ActorID); err != nil {
		return nil, err
	}
	if req.Status != entity.StatusClarificationRequested {
		return nil, apperr.InvalidState("request %s is %s, only a request awaiting clarification can be resubmitted",
			req.RequestNumber, req.Status)
	}

	amended := req.Clone()
	if cmd.Amount != nil {
		if !cmd.Amount.IsPositive() {
			return nil, apperr.Validation("amount must be positive")
		}
		amended.Amount = *cmd.Amount
	}
	if cmd.Currency != nil {
		amended.Currency = strings.ToUpper(strings.TrimSpace(*cmd.Currency))
		if amended.Currency == "" {
			return nil, apperr.Validation("currency is required")
		}
	}
	if cmd.Description != nil {
		amended.Description = *cmd.Description
	}
	if cmd.Receipts != nil {
		amended.Receipts = append([]string(nil), cmd.Receipts...)
	}

	r, err := e.prepareRouting(ctx, amended)
	if err != nil {
		return nil, err
	}

	c := e.routedChange(amended, r)
	routed := c.apply
	c.apply = func(next *entity.ApprovableRequest) {
		next.Amount = amended.Amount
		next.Currency = amended.Currency
		next.Description = amended.Description
		next.Receipts = amended.Receipts
		routed(next)
	}
	c.triggers = []domainwf.Trigger{domainwf.TriggerResubmit, domainwf.TriggerSubmit, domainwf.TriggerRoute}
	c.action = entity.ActionResubmit
	c.actorID = cmd.ActorID
	c.comment = cmd.Comment
	c.eventType = event.TypeRequestResubmitted
	c.recipients = e.approverRecipients(ctx, amended, r.route.tier.ApproverRole)
	return e.commit(ctx, req, c)
}

func (e *engineImpl) Approve(ctx context.Context, cmd ApproveCommand) (*entity.ApprovableRequest, error) {
	req, err := e.load(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if err := e.requirePending(req, "approved"); err != nil {
		return nil, err
	}
	if cmd.IsEmergency {
		err = e.authorizeEmergency(ctx, req, cmd.ActorID, cmd.EmergencyReason)
	} else {
		err = e.authorizeApprover(ctx, req, cmd.ActorID)
	}
	if err != nil {
		return nil, err
	}

	next, err := e.Tiers.Next(ctx, req.CurrentTier)
	if err != nil {
		return nil, err
	}

	if next == nil {
		return e.finalApprove(ctx, req, cmd)
	}

	rt, err := e.routeFrom(ctx, req, next, false)
	if err != nil {
		return nil, err
	}
	c := e.advance(req, rt)
	c.triggers = []domainwf.Trigger{domainwf.TriggerAdvance}
	c.action = entity.ActionApprove
	c.actorID = cmd.ActorID
	c.comment = cmd.Comment
	c.eventType = event.TypeRequestAdvanced
	c.recipients = e.approverRecipients(ctx, req, rt.tier.ApproverRole)
	if cmd.IsEmergency {
		e.markEmergency(req, cmd, &c)
	}
	return e.commit(ctx, req, c)
}

// markEmergency records an emergency approval of the current tier on c. The
// request still moves through the remaining tiers as usual.
func (e *engineImpl) markEmergency(req *entity.ApprovableRequest, cmd ApproveCommand, c *change) {
	c.emergency = true
	c.comment = strings.TrimSpace(cmd.EmergencyReason)
	if cmd.Comment != "" {
		c.comment += ": " + cmd.Comment
	}
	c.eventType = event.TypeEmergencyApproval
	c.payload["emergency_reason"] = cmd.EmergencyReason
	e.Logger.Warn("Emergency approval",
		"request", req.RequestNumber,
		"actor", cmd.ActorID,
		"tier", req.CurrentTier,
		"required_role", req.ApproverRoleRequired,
		"reason", cmd.EmergencyReason,
	)
}

// advance moves a pending request to the tier chosen by rt
func (e *engineImpl) advance(req *entity.ApprovableRequest, rt *route) change {
	return change{
		tierLevel: req.CurrentTier,
		budget:    rt.outcome.Summary(),
		payload: map[string]interface{}{
			"from_tier":       req.CurrentTier,
			"budget_decision": string(rt.outcome.Decision),
		},
		apply: func(next *entity.ApprovableRequest) {
			next.CurrentTier = rt.tier.TierOrder
			next.ApproverRoleRequired = rt.tier.ApproverRole
			next.AssignedApproverID = rt.assigned
		},
	}
}

// finalApprove approves the request outright and commits its budget
func (e *engineImpl) finalApprove(ctx context.Context, req *entity.ApprovableRequest, cmd ApproveCommand) (*entity.ApprovableRequest, error) {
	outcome, err := e.Budget.EvaluateAll(ctx, req.BudgetScopes(), req.BaseCurrencyAmount)
	if err != nil {
		return nil, err
	}
	if outcome.Decision == budget.DecisionBlock {
		return nil, apperr.BudgetExceeded("request %s exceeds budget: %s", req.RequestNumber, outcome.Summary())
	}

	c := change{
		triggers:   []domainwf.Trigger{domainwf.TriggerApprove},
		action:     entity.ActionApprove,
		actorID:    cmd.ActorID,
		comment:    cmd.Comment,
		tierLevel:  req.CurrentTier,
		budget:     outcome.Summary(),
		eventType:  event.TypeRequestApproved,
		recipients: []string{req.RequesterID},
		payload: map[string]interface{}{
			"budget_decision": string(outcome.Decision),
		},
		apply: func(next *entity.ApprovableRequest) {
			next.AssignedApproverID = ""
		},
		inTx: func(txCtx context.Context, next *entity.ApprovableRequest) error {
			return e.Budget.Commit(txCtx, outcome, req.BaseCurrencyAmount)
		},
	}

	if cmd.IsEmergency {
		e.markEmergency(req, cmd, &c)
	}

	return e.commit(ctx, req, c)
}

func (e *engineImpl) Reject(ctx context.Context, requestID int64, actorID, reason string) (*entity.ApprovableRequest, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("a rejection requires a reason")
	}
	req, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.requirePending(req, "rejected"); err != nil {
		return nil, err
	}
	if err := e.authorizeApprover(ctx, req, actorID); err != nil {
		return nil, err
	}

	return e.commit(ctx, req, change{
		triggers:   []domainwf.Trigger{domainwf.TriggerReject},
		action:     entity.ActionReject,
		actorID:    actorID,
		comment:    reason,
		tierLevel:  req.CurrentTier,
		eventType:  event.TypeRequestRejected,
		recipients: []string{req.RequesterID},
	})
}

func (e *engineImpl) RequestClarification(ctx context.Context, requestID int64, actorID, question string) (*entity.ApprovableRequest, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Validation("a clarification request needs a question")
	}
	req, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.requirePending(req, "sent back for clarification"); err != nil {
		return nil, err
	}
	if err := e.authorizeApprover(ctx, req, actorID); err != nil {
		return nil, err
	}

	return e.commit(ctx, req, change{
		triggers:   []domainwf.Trigger{domainwf.TriggerClarify},
		action:     entity.ActionClarify,
		actorID:    actorID,
		comment:    question,
		tierLevel:  req.CurrentTier,
		eventType:  event.TypeClarificationRequested,
		recipients: []string{req.RequesterID},
	})
}

func (e *engineImpl) Withdraw(ctx context.Context, requestID int64, actorID string) (*entity.ApprovableRequest, error) {
	req, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := e.requireRequester(req, actorID); err != nil {
		return nil, err
	}
	if req.Status != entity.StatusSubmitted && req.Status != entity.StatusPendingApproval {
		return nil, apperr.InvalidState("request %s is %s and cannot be withdrawn", req.RequestNumber, req.Status)
	}

	rows, err := e.Audit.ListByRequest(ctx, req.ID)
	if err != nil {
		return nil, apperr.Collaborator("audit sink", err)
	}
	for _, h := range rows {
		if h.CountsAsApproval() && h.TierLevel >= 2 {
			return nil, apperr.InvalidState("request %s already passed tier %d and can no longer be withdrawn",
				req.RequestNumber, h.TierLevel)
		}
	}

	return e.commit(ctx, req, change{
		triggers:   []domainwf.Trigger{domainwf.TriggerWithdraw},
		action:     entity.ActionWithdraw,
		actorID:    actorID,
		tierLevel:  req.CurrentTier,
		eventType:  event.TypeRequestWithdrawn,
		recipients: e.approverRecipients(ctx, req, req.ApproverRoleRequired),
		apply: func(next *entity.ApprovableRequest) {
			next.AssignedApproverID = ""
		},
	})
}

func (e *engineImpl) MarkPaid(ctx context.Context, requestID int64, actorID string) (*entity.ApprovableRequest, error) {
	req, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.StatusApproved {
		return nil, apperr.InvalidState("request %s is %s, only approved requests can be paid", req.RequestNumber, req.Status)
	}
	if actorID == req.RequesterID {
		return nil, apperr.Unauthorized("requesters cannot pay out their own request")
	}
	finance, err := e.Directory.HasRole(ctx, actorID, entity.RoleFinance)
	if err != nil {
		return nil, apperr.Collaborator("role directory", err)
	}
	if !finance {
		return nil, apperr.Unauthorized("only %s may mark requests paid", entity.RoleFinance)
	}

	return e.commit(ctx, req, change{
		triggers:   []domainwf.Trigger{domainwf.TriggerPay},
		action:     entity.ActionPay,
		actorID:    actorID,
		tierLevel:  req.CurrentTier,
		eventType:  event.TypeRequestPaid,
		recipients: []string{req.RequesterID},
		inTx: func(txCtx context.Context, next *entity.ApprovableRequest) error {
			return e.Budget.Settle(txCtx, req.BudgetScopes(), req.BaseCurrencyAmount)
		},
	})
}

func (e *engineImpl) Escalate(ctx context.Context, requestID int64) (*EscalationResult, error) {
	req, err := e.load(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != entity.StatusPendingApproval {
		return &EscalationResult{Action: EscalationSkipped, Request: req, Reason: "not pending"}, nil
	}

	current, err := e.Tiers.Get(ctx, req.CurrentTier)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return &EscalationResult{Action: EscalationSkipped, Request: req, Reason: "tier no longer active"}, nil
	}
	window, ok := current.EscalationWindow()
	if !ok {
		return &EscalationResult{Action: EscalationSkipped, Request: req, Reason: "tier does not escalate"}, nil
	}

	entered, err := e.tierEnteredAt(ctx, req)
	if err != nil {
		return nil, err
	}
	if e.now().Sub(entered) <= window {
		return &EscalationResult{Action: EscalationNotDue, Request: req}, nil
	}

	next, err := e.Tiers.Next(ctx, req.CurrentTier)
	if err != nil {
		return nil, err
	}
	if next == nil {
		return e.flagStalled(ctx, req, entered, "")
	}

	rt, err := e.routeFrom(ctx, req, next, false)
	if errors.Is(err, apperr.ErrBudgetExceeded) {
		e.Logger.Warn("Escalation blocked by budget", "request", req.RequestNumber, "error", err)
		return e.flagStalled(ctx, req, entered, err.Error())
	}
	if err != nil {
		return nil, err
	}

	c := e.advance(req, rt)
	c.triggers = []domainwf.Trigger{domainwf.TriggerEscalate}
	c.action = entity.ActionEscalate
	c.actorID = entity.SystemActorID
	c.comment = autoEscalatedComment
	c.eventType = event.TypeRequestEscalated
	c.recipients = e.approverRecipients(ctx, req, rt.tier.ApproverRole)
	updated, err := e.commit(ctx, req, c)
	if err != nil {
		return nil, err
	}
	return &EscalationResult{Action: EscalationAdvanced, Request: updated}, nil
}

// flagStalled notifies administrators that an overdue request cannot move
// on by itself, either because it sits at the highest tier or because the
// budget blocks the next one (blocked holds the reason). The request itself
// is left untouched and the flag is raised once per tier entry.
func (e *engineImpl) flagStalled(ctx context.Context, req *entity.ApprovableRequest, entered time.Time, blocked string) (*EscalationResult, error) {
	admins, err := e.Directory.UsersWithRole(ctx, entity.RoleAdmin)
	if err != nil {
		return nil, apperr.Collaborator("role directory", err)
	}
	payload := map[string]interface{}{
		"tier":          req.CurrentTier,
		"approver_role": req.ApproverRoleRequired,
		"pending_since": entered.UTC().Format(time.RFC3339),
	}
	if blocked != "" {
		payload["blocked_reason"] = blocked
	}
	evt := event.NewEvent(event.TypeApprovalStalled, req.ID, req.RequestNumber, admins, payload)
	evt.Timestamp = e.now().UTC()

	flagged := false
	err = e.TxManager.WithTransaction(ctx, func(txCtx context.Context) error {
		seen, err := e.Outbox.HasEventSince(txCtx, req.ID, event.TypeApprovalStalled.String(), entered)
		if err != nil {
			return apperr.Collaborator("notification outbox", err)
		}
		if seen {
			flagged = true
			return nil
		}
		msg, err := e.enqueue(txCtx, evt)
		if err != nil {
			return err
		}
		evt = evt.WithPayload("outbox_id", msg.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if flagged {
		return &EscalationResult{Action: EscalationNotDue, Request: req, Reason: "already flagged"}, nil
	}

	e.Logger.Warn("Overdue request needs manual follow-up",
		"request", req.RequestNumber,
		"tier", req.CurrentTier,
		"pending_since", entered,
		"blocked_reason", blocked,
	)
	e.dispatch(ctx, evt)
	return &EscalationResult{Action: EscalationFlagged, Request: req, Reason: blocked}, nil
}

func (e *engineImpl) requirePending(req *entity.ApprovableRequest, verb string) error {
	if req.Status != entity.StatusPendingApproval {
		return apperr.InvalidState("request %s is %s and cannot be %s", req.RequestNumber, req.Status, verb)
	}
	return nil
}

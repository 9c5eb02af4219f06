// Package budget checks requests against department, project and category
// budget envelopes.
package budget

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// Decision is the verdict of a budget evaluation
type Decision string

const (
	DecisionAllow Decision = "ALLOW"
	DecisionWarn  Decision = "WARN"
	DecisionBlock Decision = "BLOCK"
)

var hundred = decimal.NewFromInt(100)

// Evaluation is the verdict for one scope
type Evaluation struct {
	ScopeKey       string          `json:"scope_key"`
	Decision       Decision        `json:"decision"`
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
	Escalate       bool            `json:"escalate"`
	Enforcement    string          `json:"enforcement,omitempty"`
	// Budgeted is false when the scope has no envelope
	Budgeted bool `json:"budgeted"`
	// Unallocated is set when the envelope has a zero allocation
	Unallocated bool  `json:"unallocated,omitempty"`
	Version     int64 `json:"-"`
}

func (e Evaluation) severity() int {
	switch {
	case e.Decision == DecisionBlock:
		return 3
	case e.Decision == DecisionWarn && e.Escalate:
		return 2
	case e.Decision == DecisionWarn:
		return 1
	}
	return 0
}

func (e Evaluation) describe() string {
	if e.Unallocated {
		return fmt.Sprintf("%s unallocated", e.ScopeKey)
	}
	return fmt.Sprintf("%s %s%%", e.ScopeKey, e.UtilizationPct.StringFixed(2))
}

// Outcome combines the evaluations of every scope a request draws on
type Outcome struct {
	Decision    Decision     `json:"decision"`
	Escalate    bool         `json:"escalate"`
	Evaluations []Evaluation `json:"evaluations"`
	worst       int
}

// Worst returns the evaluation that determined the outcome, if any scope was budgeted.
func (o *Outcome) Worst() (Evaluation, bool) {
	if o.worst < 0 {
		return Evaluation{}, false
	}
	return o.Evaluations[o.worst], true
}

// Summary renders the outcome for the history row, empty for a plain ALLOW.
func (o *Outcome) Summary() string {
	if o.Decision == DecisionAllow {
		return ""
	}
	parts := make([]string, 0, len(o.Evaluations))
	for _, e := range o.Evaluations {
		if e.Decision != DecisionAllow {
			parts = append(parts, e.describe())
		}
	}
	s := string(o.Decision) + " " + strings.Join(parts, ", ")
	if o.Escalate {
		s += " (escalated)"
	}
	return s
}

// Evaluate applies the envelope's enforcement mode to a prospective spend.
// A nil envelope means the scope is not budgeted and always allows.
func Evaluate(scopeKey string, b *entity.BudgetUtilization, amount decimal.Decimal) Evaluation {
	e := Evaluation{ScopeKey: scopeKey, Decision: DecisionAllow}
	if b == nil {
		return e
	}
	e.Budgeted = true
	e.Enforcement = b.Enforcement
	e.Version = b.Version

	projected := b.Used().Add(amount)
	var over, warn bool
	if !b.Allocated.IsPositive() {
		if !projected.IsPositive() {
			return e
		}
		e.Unallocated = true
		over, warn = true, true
	} else {
		e.UtilizationPct = projected.Mul(hundred).Div(b.Allocated).Round(2)
		over = projected.GreaterThan(b.Allocated)
		warn = projected.Mul(hundred).GreaterThanOrEqual(b.WarningThresholdPct.Mul(b.Allocated))
	}

	switch b.Enforcement {
	case entity.EnforcementSoftWarning:
		if over || warn {
			e.Decision = DecisionWarn
		}
	case entity.EnforcementAutoEscalate:
		if over {
			e.Decision, e.Escalate = DecisionWarn, true
		} else if warn {
			e.Decision = DecisionWarn
		}
	default:
		// HARD_BLOCK, and any unknown mode
		if over {
			e.Decision = DecisionBlock
		} else if warn {
			e.Decision = DecisionWarn
		}
	}
	return e
}

// Guard evaluates and commits spending against the budget ledger
type Guard struct {
	ledger port.BudgetLedger
	logger port.Logger
}

// NewGuard creates a budget guard
func NewGuard(ledger port.BudgetLedger, logger port.Logger) *Guard {
	return &Guard{ledger: ledger, logger: logger}
}

// Evaluate checks a single scope.
func (g *Guard) Evaluate(ctx context.Context, scopeKey string, amount decimal.Decimal) (Evaluation, error) {
	b, err := g.ledger.GetUtilization(ctx, scopeKey)
	if err != nil {
		return Evaluation{}, apperr.Collaborator("budget ledger", err)
	}
	e := Evaluate(scopeKey, b, amount)
	if b != nil && b.Enforcement != entity.EnforcementHardBlock &&
		b.Enforcement != entity.EnforcementSoftWarning && b.Enforcement != entity.EnforcementAutoEscalate {
		g.logger.Warn("Unknown budget enforcement mode, treating as HARD_BLOCK", "scope", scopeKey, "enforcement", b.Enforcement)
	}
	return e, nil
}

// EvaluateAll checks every scope and returns the most severe outcome:
// BLOCK, then WARN with escalation, then WARN, then ALLOW.
func (g *Guard) EvaluateAll(ctx context.Context, scopes []string, amount decimal.Decimal) (*Outcome, error) {
	o := &Outcome{Decision: DecisionAllow, worst: -1}
	best := -1
	for _, scope := range scopes {
		e, err := g.Evaluate(ctx, scope, amount)
		if err != nil {
			return nil, err
		}
		o.Evaluations = append(o.Evaluations, e)
		if e.Budgeted && e.severity() > best {
			best = e.severity()
			o.worst = len(o.Evaluations) - 1
		}
		if e.Escalate {
			o.Escalate = true
		}
	}
	if o.worst >= 0 {
		o.Decision = o.Evaluations[o.worst].Decision
	}

	if o.Decision == DecisionWarn {
		g.logger.Warn("Budget warning", "amount", amount.String(), "budget", o.Summary())
	}
	return o, nil
}

// Commit moves amount into committed on every budgeted scope of the outcome.
// Each write is checked against the version seen at evaluation time, so a
// concurrent commit surfaces as STALE_STATE instead of a lost update.
func (g *Guard) Commit(ctx context.Context, o *Outcome, amount decimal.Decimal) error {
	for _, e := range o.Evaluations {
		if !e.Budgeted {
			continue
		}
		if err := g.ledger.Commit(ctx, e.ScopeKey, amount, e.Version); err != nil {
			return wrapLedgerErr(err)
		}
	}
	return nil
}

// Settle moves amount from committed to spent on every budgeted scope.
func (g *Guard) Settle(ctx context.Context, scopes []string, amount decimal.Decimal) error {
	for _, scope := range scopes {
		b, err := g.ledger.GetUtilization(ctx, scope)
		if err != nil {
			return apperr.Collaborator("budget ledger", err)
		}
		if b == nil {
			continue
		}
		if err := g.ledger.Settle(ctx, scope, amount, b.Version); err != nil {
			return wrapLedgerErr(err)
		}
	}
	return nil
}

func wrapLedgerErr(err error) error {
	if apperr.KindOf(err) != "" {
		return err
	}
	return apperr.Collaborator("budget ledger", err)
}

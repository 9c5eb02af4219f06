// Package escalation runs the periodic sweep over stalled approvals.
package escalation

import (
	"context"
	"fmt"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/preapproval"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

// DefaultBatchSize bounds the requests examined per sweep
const DefaultBatchSize = 500

// Report summarizes one sweep
type Report struct {
	Scanned             int `json:"scanned"`
	Escalated           int `json:"escalated"`
	Flagged             int `json:"flagged"`
	Skipped             int `json:"skipped"`
	Conflicts           int `json:"conflicts"`
	Failed              int `json:"failed"`
	PreApprovalsExpired int `json:"pre_approvals_expired"`
}

// Sweeper escalates overdue requests and expires stale pre-approvals
type Sweeper struct {
	engine       workflow.ApprovalEngine
	requests     port.RequestRepository
	preApprovals *preapproval.Ledger
	batchSize    int
	logger       port.Logger
}

// NewSweeper creates a sweeper. preApprovals may be nil.
func NewSweeper(engine workflow.ApprovalEngine, requests port.RequestRepository, preApprovals *preapproval.Ledger, batchSize int, logger port.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		engine:       engine,
		requests:     requests,
		preApprovals: preApprovals,
		batchSize:    batchSize,
		logger:       logger,
	}
}

// Sweep examines every pending request once, paging through them by id so
// requests that stay pending never hide the ones after them. Each request is
// escalated through the engine, which re-reads it and applies the same version
// guard as a manual approval, so running Sweep twice in a row changes nothing
// the second time. A request that loses a race is counted as a conflict and left
// for the next sweep.
func (s *Sweeper) Sweep(ctx context.Context) (*Report, error) {
	report := &Report{}

	var afterID int64
	for {
		page, err := s.requests.ListByStatus(ctx, entity.StatusPendingApproval, afterID, s.batchSize)
		if err != nil {
			return report, fmt.Errorf("list pending requests: %w", err)
		}
		for _, req := range page {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			s.escalate(ctx, req, report)
		}
		if len(page) < s.batchSize {
			break
		}
		afterID = page[len(page)-1].ID
	}

	if s.preApprovals != nil {
		n, err := s.preApprovals.ExpireStale(ctx, s.batchSize)
		if err != nil {
			s.logger.Error("Failed to expire pre-approvals", "error", err)
		}
		report.PreApprovalsExpired = n
	}

	if report.Escalated+report.Flagged+report.Conflicts+report.Failed > 0 {
		s.logger.Info("Escalation sweep finished",
			"scanned", report.Scanned,
			"escalated", report.Escalated,
			"flagged", report.Flagged,
			"conflicts", report.Conflicts,
			"failed", report.Failed,
			"pre_approvals_expired", report.PreApprovalsExpired,
		)
	}
	return report, nil
}

func (s *Sweeper) escalate(ctx context.Context, req *entity.ApprovableRequest, report *Report) {
	report.Scanned++

	res, err := s.engine.Escalate(ctx, req.ID)
	switch {
	case apperr.KindOf(err) == apperr.KindStaleState:
		report.Conflicts++
		return
	case err != nil:
		report.Failed++
		s.logger.Error("Escalation failed", "request", req.RequestNumber, "error", err)
		return
	}

	switch res.Action {
	case workflow.EscalationAdvanced:
		report.Escalated++
	case workflow.EscalationFlagged:
		report.Flagged++
	case workflow.EscalationSkipped:
		report.Skipped++
	}
}

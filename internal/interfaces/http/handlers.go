package http

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/garyjia/expense-approval/internal/application/delegation"
	"github.com/garyjia/expense-approval/internal/application/preapproval"
	"github.com/garyjia/expense-approval/internal/application/tier"
	"github.com/garyjia/expense-approval/internal/application/workflow"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/export"
)

// TierService reads and replaces the approval tier schedule
type TierService interface {
	List(ctx context.Context) ([]*entity.ApprovalTier, error)
	Configure(ctx context.Context, actorID string, specs []tier.Spec) ([]*entity.ApprovalTier, error)
}

// PreApprovalService manages pre-approvals
type PreApprovalService interface {
	Request(ctx context.Context, in preapproval.RequestInput) (*entity.PreApproval, error)
	Decide(ctx context.Context, id, actorID, decision, reason string) (*entity.PreApproval, error)
	Get(ctx context.Context, id string) (*entity.PreApproval, error)
}

// DelegationService manages approval delegations
type DelegationService interface {
	Create(ctx context.Context, actorID string, in delegation.Input) (*entity.Delegation, error)
	Revoke(ctx context.Context, actorID, id string) (*entity.Delegation, error)
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine       workflow.ApprovalEngine
	tiers        TierService
	preApprovals PreApprovalService
	delegations  DelegationService
	exporter     *export.HistoryExporter
	health       HealthFunc
	logger       Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(services Services, logger Logger) *Handlers {
	return &Handlers{
		engine:       services.Engine,
		tiers:        services.Tiers,
		preApprovals: services.PreApprovals,
		delegations:  services.Delegations,
		exporter:     services.Exporter,
		health:       services.Health,
		logger:       logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Version    string      `json:"version"`
	Components interface{} `json:"components,omitempty"`
}

// ApproveRequest is the body of an approval
type ApproveRequest struct {
	Comment         string `json:"comment"`
	IsEmergency     bool   `json:"is_emergency"`
	EmergencyReason string `json:"emergency_reason"`
}

// ReasonRequest is the body of a rejection
type ReasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ClarifyRequest is the body of a clarification request
type ClarifyRequest struct {
	Question string `json:"question" binding:"required"`
}

// ResubmitRequest amends a request awaiting clarification
type ResubmitRequest struct {
	Amount      *decimal.Decimal `json:"amount"`
	Currency    *string          `json:"currency"`
	Description *string          `json:"description"`
	Receipts    []string         `json:"receipts"`
	Comment     string           `json:"comment"`
}

// ListPendingRequest represents query parameters for the approval queue
type ListPendingRequest struct {
	Role   string `form:"role" binding:"required"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// ConfigureTiersRequest replaces the tier schedule
type ConfigureTiersRequest struct {
	Tiers []tier.Spec `json:"tiers" binding:"required"`
}

// DecisionRequest decides a pre-approval
type DecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Reason   string `json:"reason"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   "1.0.0",
	}
	status := http.StatusOK

	if h.health != nil {
		healthy, components := h.health(c.Request.Context())
		response.Components = components
		if !healthy {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{
		Success: status == http.StatusOK,
		Data:    response,
	})
}

// CreateDraft handles POST /api/v1/requests
func (h *Handlers) CreateDraft(c *gin.Context) {
	var in workflow.DraftInput
	if !bindJSON(c, &in) {
		return
	}
	if in.Kind == "" {
		in.Kind = entity.KindExpense
	}
	in.Kind = entity.RequestKind(strings.ToUpper(string(in.Kind)))
	in.RequesterID = actorOf(c)

	req, err := h.engine.CreateDraft(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, "create draft", err)
		return
	}
	respondOK(c, http.StatusCreated, req)
}

// GetRequest handles GET /api/v1/requests/:id
func (h *Handlers) GetRequest(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	req, err := h.engine.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get request", err)
		return
	}
	respondOK(c, http.StatusOK, req)
}

// GetHistory handles GET /api/v1/requests/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	rows, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "get history", err)
		return
	}
	respondOK(c, http.StatusOK, rows)
}

// ExportHistory handles GET /api/v1/requests/:id/history/export
func (h *Handlers) ExportHistory(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	req, err := h.engine.Get(ctx, id)
	if err != nil {
		h.respondError(c, "export history", err)
		return
	}
	rows, err := h.engine.History(ctx, id)
	if err != nil {
		h.respondError(c, "export history", err)
		return
	}

	var buf bytes.Buffer
	if err := h.exporter.Write(&buf, req, rows); err != nil {
		h.respondError(c, "export history", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+export.FileName(req)+`"`)
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

// Submit handles POST /api/v1/requests/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	h.transition(c, "submit", func(ctx context.Context) (*entity.ApprovableRequest, error) {
		return h.engine.Submit(ctx, id, actorOf(c))
	})
}

// Approve handles POST /api/v1/requests/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var body ApproveRequest
	if !bindOptionalJSON(c, &body) {
		return
	}
	h.transition(c, "approve", func(ctx context.Context) (*entity.ApprovableRequest, error) {
		return h.engine.Approve(ctx, workflow.ApproveCommand{
			RequestID:       id,
			ActorID:         actorOf(c),
			Comment:         body.Comment,
			IsEmergency:     body.IsEmergency,
			EmergencyReason: body.EmergencyReason,
		})
	})
}

// Reject handles POST /api/v1/requests/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var body ReasonRequest
	if !bindJSON(c, &body) {
		return
	}
	h.transition(c, "reject", func(ctx context.Context) (*entity.ApprovableRequest, error) {
		return h.engine.Reject(ctx, id, actorOf(c), body.Reason)
	})
}

// RequestClarification handles POST /api/v1/requests/:id/clarify
func (h *Handlers) RequestClarification(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var body ClarifyRequest
	if !bindJSON(c, &body) {
		return
	}
	h.transition(c, "request clarification", func(ctx context.Context) (*entity.ApprovableRequest, error) {
		return h.engine.RequestClarification(ctx, id, actorOf(c), body.Question)
	})
}

// Resubmit handles POST /api/v1/requests/:id/resubmit
func (h *Handlers) Resubmit(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	var body ResubmitRequest
	if !bindOptionalJSON(c, &body) {
		return
	}
	h.transition(c, "resubmit", func(ctx context.Context) (*entity.ApprovableRequest, error) {
		return h.engine.Resubmit(ctx, workflow.ResubmitCommand{
			RequestID:   id,
			ActorID:     actorOf(c),
			Amount:      body.Amount,
			Currency:    body.Currency,
			Description: body.Description,
			Receipts:    body.Receipts,
			Comment:     body.Comment,
		})
	})
}

// Withdraw handles POST /api/v1/requests/:id/withdraw
func (h *Handlers) Withdraw(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	h.transition(c, "withdraw", func(ctx context.Context) (*entity.ApprovableRequest, error) {
		return h.engine.Withdraw(ctx, id, actorOf(c))
	})
}

// MarkPaid handles POST /api/v1/requests/:id/pay
func (h *Handlers) MarkPaid(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}
	h.transition(c, "mark paid", func(ctx context.Context) (*entity.ApprovableRequest, error) {
		return h.engine.MarkPaid(ctx, id, actorOf(c))
	})
}

func (h *Handlers) transition(c *gin.Context, op string, fn func(ctx context.Context) (*entity.ApprovableRequest, error)) {
	req, err := fn(c.Request.Context())
	if err != nil {
		h.respondError(c, op, err)
		return
	}
	respondOK(c, http.StatusOK, req)
}

// ListPending handles GET /api/v1/approvals/pending
func (h *Handlers) ListPending(c *gin.Context) {
	var q ListPendingRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c, "invalid query parameters: "+err.Error())
		return
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	reqs, err := h.engine.ListPending(c.Request.Context(), strings.ToUpper(q.Role), q.Limit, q.Offset)
	if err != nil {
		h.respondError(c, "list pending", err)
		return
	}
	if reqs == nil {
		reqs = []*entity.ApprovableRequest{}
	}
	respondOK(c, http.StatusOK, reqs)
}

// ListTiers handles GET /api/v1/tiers
func (h *Handlers) ListTiers(c *gin.Context) {
	tiers, err := h.tiers.List(c.Request.Context())
	if err != nil {
		h.respondError(c, "list tiers", err)
		return
	}
	respondOK(c, http.StatusOK, tiers)
}

// ConfigureTiers handles PUT /api/v1/tiers
func (h *Handlers) ConfigureTiers(c *gin.Context) {
	var body ConfigureTiersRequest
	if !bindJSON(c, &body) {
		return
	}
	tiers, err := h.tiers.Configure(c.Request.Context(), actorOf(c), body.Tiers)
	if err != nil {
		h.respondError(c, "configure tiers", err)
		return
	}
	respondOK(c, http.StatusOK, tiers)
}

// RequestPreApproval handles POST /api/v1/pre-approvals
func (h *Handlers) RequestPreApproval(c *gin.Context) {
	var in preapproval.RequestInput
	if !bindJSON(c, &in) {
		return
	}
	in.RequesterID = actorOf(c)

	pa, err := h.preApprovals.Request(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, "request pre-approval", err)
		return
	}
	respondOK(c, http.StatusCreated, pa)
}

// GetPreApproval handles GET /api/v1/pre-approvals/:id
func (h *Handlers) GetPreApproval(c *gin.Context) {
	pa, err := h.preApprovals.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, "get pre-approval", err)
		return
	}
	respondOK(c, http.StatusOK, pa)
}

// DecidePreApproval handles POST /api/v1/pre-approvals/:id/decision
func (h *Handlers) DecidePreApproval(c *gin.Context) {
	var body DecisionRequest
	if !bindJSON(c, &body) {
		return
	}
	pa, err := h.preApprovals.Decide(c.Request.Context(), c.Param("id"), actorOf(c),
		strings.ToUpper(strings.TrimSpace(body.Decision)), body.Reason)
	if err != nil {
		h.respondError(c, "decide pre-approval", err)
		return
	}
	respondOK(c, http.StatusOK, pa)
}

// CreateDelegation handles POST /api/v1/delegations
func (h *Handlers) CreateDelegation(c *gin.Context) {
	var in delegation.Input
	if !bindJSON(c, &in) {
		return
	}
	if in.FromUserID == "" {
		in.FromUserID = actorOf(c)
	}

	d, err := h.delegations.Create(c.Request.Context(), actorOf(c), in)
	if err != nil {
		h.respondError(c, "create delegation", err)
		return
	}
	respondOK(c, http.StatusCreated, d)
}

// RevokeDelegation handles DELETE /api/v1/delegations/:id
func (h *Handlers) RevokeDelegation(c *gin.Context) {
	d, err := h.delegations.Revoke(c.Request.Context(), actorOf(c), c.Param("id"))
	if err != nil {
		h.respondError(c, "revoke delegation", err)
		return
	}
	respondOK(c, http.StatusOK, d)
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/container"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
	"github.com/garyjia/expense-approval/internal/infrastructure/export"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Kind    string          `json:"kind"`
}

type testServer struct {
	t      *testing.T
	server *Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := container.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "approval.db")
	cfg.Worker.EscalationEnabled = false
	cfg.Worker.RedeliverInterval = 0

	c, err := container.NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, c.Start(ctx))
	t.Cleanup(func() { _ = c.Close() })

	users := c.Repositories().Users
	for _, u := range []*entity.User{
		{ID: "emp", Name: "Employee", Role: entity.RoleEmployee, DepartmentID: "eng", ManagerID: "mgr"},
		{ID: "mgr", Name: "Manager", Role: entity.RoleApprover, DepartmentID: "eng"},
		{ID: "fin", Name: "Finance", Role: entity.RoleFinance, DepartmentID: "fin"},
		{ID: "admin", Name: "Admin", Role: entity.RoleAdmin, DepartmentID: "ops"},
	} {
		require.NoError(t, users.Save(ctx, u))
	}

	svc := c.Services()
	server := NewServer(ServerConfig{Mode: gin.TestMode}, Services{
		Engine:       svc.Engine,
		Tiers:        svc.Tiers,
		PreApprovals: svc.PreApprovals,
		Delegations:  svc.Delegations,
		Exporter:     svc.Exporter,
		Health: func(ctx context.Context) (bool, interface{}) {
			h := c.Health(ctx)
			return h.Overall, h.Components
		},
	}, container.NewLoggerAdapter(zap.NewNop()))

	return &testServer{t: t, server: server}
}

func (s *testServer) do(method, path, actor string, body interface{}) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	s.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var health HealthResponse
	env := decode(t, w, &health)
	assert.True(t, env.Success)
	assert.Equal(t, "healthy", health.Status)
	assert.NotNil(t, health.Components)
}

func TestAPI_RequiresActor(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/tiers", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	env := decode(t, w, nil)
	assert.False(t, env.Success)
	assert.Contains(t, env.Error, ActorHeader)
}

func TestRequestID_GeneratedOrEchoed(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	s.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, "trace-123", rec.Header().Get(RequestIDHeader))
}

func TestServer_StopWithoutStart(t *testing.T) {
	srv := NewServer(ServerConfig{Host: "127.0.0.1", Port: 18080, Mode: gin.TestMode}, Services{}, container.NewLoggerAdapter(zap.NewNop()))
	assert.NoError(t, srv.Stop())
	assert.Equal(t, "127.0.0.1:18080", srv.Address())
}

func TestTiers_ListAndConfigure(t *testing.T) {
	s := newTestServer(t)

	var tiers []entity.ApprovalTier
	w := s.do(http.MethodGet, "/api/v1/tiers", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &tiers)
	assert.Len(t, tiers, 4)

	schedule := map[string]interface{}{
		"tiers": []map[string]interface{}{
			{"min_amount": "0", "max_amount": "1000", "approver_role": "APPROVER"},
			{"min_amount": "1000.01", "approver_role": "FINANCE", "escalation_days": 2},
		},
	}

	w = s.do(http.MethodPut, "/api/v1/tiers", "emp", schedule)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, string(apperr.KindUnauthorizedApprover), decode(t, w, nil).Kind)

	w = s.do(http.MethodPut, "/api/v1/tiers", "admin", map[string]interface{}{
		"tiers": []map[string]interface{}{
			{"min_amount": "10", "approver_role": "APPROVER"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(apperr.KindValidation), decode(t, w, nil).Kind)

	w = s.do(http.MethodPut, "/api/v1/tiers", "admin", schedule)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/tiers", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	tiers = nil
	decode(t, w, &tiers)
	require.Len(t, tiers, 2)
	assert.Equal(t, entity.RoleFinance, tiers[1].ApproverRole)
	assert.Nil(t, tiers[1].MaxAmount)
}

func TestRequestLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPut, "/api/v1/tiers", "admin", map[string]interface{}{
		"tiers": []map[string]interface{}{
			{"min_amount": "0", "approver_role": "APPROVER"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	var req entity.ApprovableRequest
	w = s.do(http.MethodPost, "/api/v1/requests", "emp", map[string]interface{}{
		"category_id": "office",
		"description": "Monitor",
		"amount":      "240.50",
		"currency":    "usd",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &req)
	assert.Equal(t, entity.KindExpense, req.Kind)
	assert.Equal(t, entity.StatusDraft, req.Status)
	assert.Equal(t, "USD", req.Currency)
	assert.Equal(t, "eng", req.DepartmentID)

	base := "/api/v1/requests/" + jsonID(req.ID)

	w = s.do(http.MethodPost, base+"/submit", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &req)
	assert.Equal(t, entity.StatusPendingApproval, req.Status)
	assert.Equal(t, 1, req.CurrentTier)

	var pending []entity.ApprovableRequest
	w = s.do(http.MethodGet, "/api/v1/approvals/pending?role=approver", "mgr", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &pending)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	w = s.do(http.MethodPost, base+"/approve", "emp", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, base+"/approve", "mgr", map[string]interface{}{"comment": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &req)
	assert.Equal(t, entity.StatusApproved, req.Status)

	w = s.do(http.MethodPost, base+"/pay", "mgr", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, base+"/pay", "fin", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &req)
	assert.Equal(t, entity.StatusPaid, req.Status)

	var history []entity.ApprovalHistory
	w = s.do(http.MethodGet, base+"/history", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &history)
	require.Len(t, history, 3)
	assert.Equal(t, entity.ActionSubmit, history[0].Action)
	assert.Equal(t, entity.ActionApprove, history[1].Action)
	assert.Equal(t, "ok", history[1].Comment)
	assert.Equal(t, entity.ActionPay, history[2].Action)

	w = s.do(http.MethodGet, base+"/history/export", "fin", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, export.ContentType, w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), req.RequestNumber)
	assert.NotZero(t, w.Body.Len())
}

func TestRequest_ClarifyAndResubmit(t *testing.T) {
	s := newTestServer(t)

	var req entity.ApprovableRequest
	w := s.do(http.MethodPost, "/api/v1/requests", "emp", map[string]interface{}{
		"category_id": "office",
		"amount":      "80",
		"currency":    "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &req)
	base := "/api/v1/requests/" + jsonID(req.ID)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, base+"/submit", "emp", nil).Code)

	w = s.do(http.MethodPost, base+"/clarify", "mgr", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, base+"/clarify", "mgr", map[string]interface{}{"question": "Which project?"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &req)
	assert.Equal(t, entity.StatusClarificationRequested, req.Status)

	w = s.do(http.MethodPost, base+"/resubmit", "emp", map[string]interface{}{
		"description": "Team offsite supplies",
		"comment":     "project apollo",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &req)
	assert.Equal(t, entity.StatusPendingApproval, req.Status)
	assert.Equal(t, "Team offsite supplies", req.Description)

	w = s.do(http.MethodPost, base+"/withdraw", "emp", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &req)
	assert.Equal(t, entity.StatusWithdrawn, req.Status)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1/requests/abc", "emp", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/requests/999", "emp", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.KindNotFound), decode(t, w, nil).Kind)

	w = s.do(http.MethodPost, "/api/v1/requests", "emp", map[string]interface{}{
		"category_id": "meals",
		"amount":      "-5",
		"currency":    "USD",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var req entity.ApprovableRequest
	w = s.do(http.MethodPost, "/api/v1/requests", "emp", map[string]interface{}{
		"category_id": "office",
		"amount":      "10",
		"currency":    "USD",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	decode(t, w, &req)
	base := "/api/v1/requests/" + jsonID(req.ID)

	w = s.do(http.MethodPost, base+"/withdraw", "emp", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(apperr.KindInvalidState), decode(t, w, nil).Kind)

	w = s.do(http.MethodPost, base+"/reject", "mgr", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, base+"/submit", "mgr", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/api/v1/approvals/pending", "mgr", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPreApprovalsAndDelegations(t *testing.T) {
	s := newTestServer(t)

	var pa entity.PreApproval
	w := s.do(http.MethodPost, "/api/v1/pre-approvals", "emp", map[string]interface{}{
		"category_id":      "training",
		"estimated_amount": "300",
		"purpose":          "Go course",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &pa)
	assert.Equal(t, "emp", pa.RequesterID)
	assert.Equal(t, entity.PreApprovalStatusPending, pa.Status)

	path := "/api/v1/pre-approvals/" + pa.ID
	w = s.do(http.MethodPost, path+"/decision", "mgr", map[string]interface{}{"decision": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, path+"/decision", "emp", map[string]interface{}{"decision": "approve"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, path+"/decision", "mgr", map[string]interface{}{"decision": "approve"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, path, "emp", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &pa)
	assert.Equal(t, entity.PreApprovalStatusApproved, pa.Status)
	assert.Equal(t, "mgr", pa.ApproverID)

	w = s.do(http.MethodGet, "/api/v1/pre-approvals/missing", "emp", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	start := time.Now().UTC()
	var d entity.Delegation
	w = s.do(http.MethodPost, "/api/v1/delegations", "mgr", map[string]interface{}{
		"to_user_id": "fin",
		"start_date": start.Format(time.RFC3339),
		"end_date":   start.Add(48 * time.Hour).Format(time.RFC3339),
		"reason":     "vacation",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &d)
	assert.Equal(t, "mgr", d.FromUserID)
	assert.True(t, d.IsActive)

	w = s.do(http.MethodDelete, "/api/v1/delegations/"+d.ID, "emp", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodDelete, "/api/v1/delegations/"+d.ID, "mgr", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &d)
	assert.False(t, d.IsActive)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind apperr.Kind
		want int
	}{
		{apperr.KindValidation, http.StatusBadRequest},
		{apperr.KindUnauthorizedApprover, http.StatusForbidden},
		{apperr.KindNotFound, http.StatusNotFound},
		{apperr.KindInvalidState, http.StatusConflict},
		{apperr.KindStaleState, http.StatusConflict},
		{apperr.KindAlreadyUsed, http.StatusConflict},
		{apperr.KindBudgetExceeded, http.StatusUnprocessableEntity},
		{apperr.KindPreApprovalRequired, http.StatusUnprocessableEntity},
		{apperr.KindCategoryLimitExceeded, http.StatusUnprocessableEntity},
		{apperr.KindNoTierConfigured, http.StatusInternalServerError},
		{apperr.KindCollaboratorFailure, http.StatusServiceUnavailable},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.kind))
		})
	}
}

func jsonID(id int64) string {
	raw, _ := json.Marshal(id)
	return string(raw)
}

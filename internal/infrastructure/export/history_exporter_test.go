package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

func TestHistoryExporter_Write(t *testing.T) {
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	req := &entity.ApprovableRequest{
		ID:                 7,
		Kind:               entity.KindExpense,
		RequestNumber:      "EXP-2026-000007",
		RequesterID:        "emp",
		DepartmentID:       "eng",
		CategoryID:         "travel",
		Amount:             decimal.RequireFromString("100"),
		Currency:           "EUR",
		BaseCurrencyAmount: decimal.RequireFromString("110"),
		Status:             entity.StatusApproved,
		CurrentTier:        1,
		SubmittedAt:        &t0,
	}
	history := []*entity.ApprovalHistory{
		{Action: entity.ActionSubmit, TierLevel: 1, ActorID: "emp", PreviousStatus: entity.StatusDraft,
			NewStatus: entity.StatusPendingApproval, BudgetDecision: "ALLOW", CreatedAt: t0},
		{Action: entity.ActionApprove, TierLevel: 1, ActorID: "ceo", PreviousStatus: entity.StatusPendingApproval,
			NewStatus: entity.StatusApproved, IsEmergency: true, Comment: "vendor deadline", CreatedAt: t0.Add(26*time.Hour + 30*time.Minute)},
	}

	var buf bytes.Buffer
	require.NoError(t, NewHistoryExporter(zap.NewNop()).Write(&buf, req, history))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{summarySheet, historySheet}, f.GetSheetList())

	summary, err := f.GetRows(summarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Request Number", "EXP-2026-000007"}, summary[0])
	assert.Equal(t, []string{"Amount", "100 EUR"}, summary[5])
	assert.Equal(t, []string{"Base Amount", "110.00"}, summary[6])

	rows, err := f.GetRows(historySheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Hours Since Previous", rows[0][10])
	assert.Equal(t, "SUBMIT", rows[1][2])
	assert.Equal(t, "2026-05-01 09:00:00", rows[1][1])
	assert.Equal(t, "APPROVE", rows[2][2])
	assert.Equal(t, "YES", rows[2][7])
	assert.Equal(t, "vendor deadline", rows[2][9])
	assert.Equal(t, "26.5", rows[2][10])
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "VCH-2026-000001-history.xlsx", FileName(&entity.ApprovableRequest{RequestNumber: "VCH-2026-000001"}))
}

package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/domain/entity"
)

const (
	summarySheet = "Summary"
	historySheet = "History"
	timeLayout   = "2006-01-02 15:04:05"
)

var historyHeader = []interface{}{
	"#", "Time (UTC)", "Action", "Tier", "Actor", "From", "To",
	"Emergency", "Budget", "Comment", "Hours Since Previous",
}

// HistoryExporter writes a request and its approval trail as an xlsx
// workbook. The time-in-state column feeds turnaround reporting.
type HistoryExporter struct {
	logger *zap.Logger
}

// NewHistoryExporter creates a new history exporter
func NewHistoryExporter(logger *zap.Logger) *HistoryExporter {
	return &HistoryExporter{logger: logger}
}

// ContentType is the MIME type of the produced workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FileName returns the download name for a request's export
func FileName(req *entity.ApprovableRequest) string {
	return req.RequestNumber + "-history.xlsx"
}

// Write renders the workbook to w
func (e *HistoryExporter) Write(w io.Writer, req *entity.ApprovableRequest, history []*entity.ApprovalHistory) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			e.logger.Warn("Failed to close workbook", zap.Error(err))
		}
	}()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(historySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	if err := e.writeSummary(f, bold, req); err != nil {
		return err
	}
	if err := e.writeHistory(f, bold, history); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Approval history exported",
		zap.String("request_number", req.RequestNumber),
		zap.Int("rows", len(history)))
	return nil
}

func (e *HistoryExporter) writeSummary(f *excelize.File, bold int, req *entity.ApprovableRequest) error {
	submitted := ""
	if req.SubmittedAt != nil {
		submitted = req.SubmittedAt.UTC().Format(timeLayout)
	}
	rows := [][]interface{}{
		{"Request Number", req.RequestNumber},
		{"Kind", string(req.Kind)},
		{"Requester", req.RequesterID},
		{"Department", req.DepartmentID},
		{"Category", req.CategoryID},
		{"Amount", req.Amount.String() + " " + req.Currency},
		{"Base Amount", entity.RoundBase(req.BaseCurrencyAmount).StringFixed(entity.BaseCurrencyScale)},
		{"Status", req.Status},
		{"Current Tier", strconv.Itoa(req.CurrentTier)},
		{"Submitted At", submitted},
	}
	for i, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row: %w", err)
		}
	}
	if err := f.SetCellStyle(summarySheet, "A1", fmt.Sprintf("A%d", len(rows)), bold); err != nil {
		return fmt.Errorf("failed to style summary: %w", err)
	}
	return f.SetColWidth(summarySheet, "A", "B", 22)
}

func (e *HistoryExporter) writeHistory(f *excelize.File, bold int, history []*entity.ApprovalHistory) error {
	header := historyHeader
	if err := f.SetSheetRow(historySheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := f.SetCellStyle(historySheet, "A1", "K1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	var previous time.Time
	for i, h := range history {
		var elapsed interface{} = ""
		if !previous.IsZero() {
			elapsed = hoursBetween(previous, h.CreatedAt)
		}
		previous = h.CreatedAt

		emergency := ""
		if h.IsEmergency {
			emergency = "YES"
		}
		row := []interface{}{
			i + 1,
			h.CreatedAt.UTC().Format(timeLayout),
			h.Action,
			h.TierLevel,
			h.ActorID,
			h.PreviousStatus,
			h.NewStatus,
			emergency,
			h.BudgetDecision,
			h.Comment,
			elapsed,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write history row %d: %w", i+1, err)
		}
	}
	return f.SetColWidth(historySheet, "B", "B", 20)
}

// hoursBetween rounds to two decimals
func hoursBetween(from, to time.Time) float64 {
	hours := to.Sub(from).Hours()
	return float64(int64(hours*100+0.5)) / 100
}

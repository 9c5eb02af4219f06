package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-approval/pkg/utils"
)

// CurrencyRepository implements port.CurrencyTable. Rates are stored as
// decimal strings meaning "one unit of currency in base currency".
type CurrencyRepository struct {
	db           *sqlite.DB
	baseCurrency string
	logger       *zap.Logger
}

// NewCurrencyRepository creates a new currency repository
func NewCurrencyRepository(db *sqlite.DB, baseCurrency string, logger *zap.Logger) *CurrencyRepository {
	return &CurrencyRepository{
		db:           db,
		baseCurrency: strings.ToUpper(baseCurrency),
		logger:       logger,
	}
}

// ToBase converts amount to the base currency. The result is not rounded.
func (r *CurrencyRepository) ToBase(ctx context.Context, amount decimal.Decimal, currency string) (decimal.Decimal, error) {
	currency = strings.ToUpper(currency)
	if currency == r.baseCurrency {
		return amount, nil
	}

	var raw string
	err := r.db.Executor(ctx).QueryRowContext(ctx,
		`SELECT rate FROM exchange_rates WHERE currency = ?`, currency,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return decimal.Zero, apperr.Validation("no exchange rate for %s", currency)
	}
	if err != nil {
		r.logger.Error("Failed to load exchange rate", zap.String("currency", currency), zap.Error(err))
		return decimal.Zero, fmt.Errorf("failed to load exchange rate: %w", err)
	}

	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid exchange rate for %s: %w", currency, err)
	}
	return amount.Mul(rate), nil
}

// SetRate stores the rate of currency against the base currency
func (r *CurrencyRepository) SetRate(ctx context.Context, currency string, rate decimal.Decimal) error {
	currency = strings.ToUpper(currency)
	if err := utils.ValidateCurrencyCode(currency); err != nil {
		return apperr.Validation("%v", err)
	}
	if !rate.IsPositive() {
		return apperr.Validation("exchange rate must be positive")
	}
	_, err := r.db.Executor(ctx).ExecContext(ctx, `
		INSERT INTO exchange_rates (currency, rate) VALUES (?, ?)
		ON CONFLICT(currency) DO UPDATE SET rate = excluded.rate
	`, currency, rate.String())
	if err != nil {
		return fmt.Errorf("failed to set exchange rate: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.CurrencyTable = (*CurrencyRepository)(nil)

package tier

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/garyjia/expense-approval/internal/application/port"
	"github.com/garyjia/expense-approval/internal/application/port/porttest"
	"github.com/garyjia/expense-approval/internal/domain/apperr"
	"github.com/garyjia/expense-approval/internal/domain/entity"
)

func newResolver(store *porttest.Store) *Resolver {
	return NewResolver(store.TierRepo(), store.Directory(), store.TxManager(), port.NopLogger{})
}

func TestResolveTier_Boundaries(t *testing.T) {
	r := newResolver(porttest.NewStore())
	ctx := context.Background()

	tests := []struct {
		amount string
		order  int
		role   string
	}{
		{"0", 1, entity.RoleApprover},
		{"18000", 1, entity.RoleApprover},
		{"25000", 1, entity.RoleApprover},
		{"25000.01", 2, entity.RoleApprover},
		{"100000", 2, entity.RoleApprover},
		{"100000.01", 3, entity.RoleFinance},
		{"500000", 3, entity.RoleFinance},
		{"500000.01", 4, entity.RoleCEO},
		{"9999999", 4, entity.RoleCEO},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			got, err := r.ResolveTier(ctx, decimal.RequireFromString(tt.amount))
			require.NoError(t, err)
			assert.Equal(t, tt.order, got.TierOrder)
			assert.Equal(t, tt.role, got.ApproverRole)
		})
	}
}

func TestResolveTier_NoTierConfigured(t *testing.T) {
	store := porttest.NewStore()
	store.SetTiers([]*entity.ApprovalTier{
		porttest.Tier(1, "0", "1000", entity.RoleApprover, 0),
	})
	r := newResolver(store)

	_, err := r.ResolveTier(context.Background(), decimal.NewFromInt(5000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrNoTierConfigured))

	store.SetTiers(nil)
	_, err = r.ResolveTier(context.Background(), decimal.Zero)
	assert.True(t, errors.Is(err, apperr.ErrNoTierConfigured))
}

func TestNext(t *testing.T) {
	tiers := porttest.DefaultTiers()

	assert.Equal(t, 2, Next(tiers, 1).TierOrder)
	assert.Equal(t, 4, Next(tiers, 3).TierOrder)
	assert.Nil(t, Next(tiers, 4))
}

func TestValidatePartition(t *testing.T) {
	tests := []struct {
		name    string
		tiers   []*entity.ApprovalTier
		wantErr bool
	}{
		{"default schedule", porttest.DefaultTiers(), false},
		{"empty", nil, true},
		{"does not start at zero", []*entity.ApprovalTier{
			porttest.Tier(1, "1", "", entity.RoleApprover, 0),
		}, true},
		{"gap", []*entity.ApprovalTier{
			porttest.Tier(1, "0", "100", entity.RoleApprover, 0),
			porttest.Tier(2, "100.02", "", entity.RoleCEO, 0),
		}, true},
		{"overlap", []*entity.ApprovalTier{
			porttest.Tier(1, "0", "100", entity.RoleApprover, 0),
			porttest.Tier(2, "100", "", entity.RoleCEO, 0),
		}, true},
		{"open-ended in the middle", []*entity.ApprovalTier{
			porttest.Tier(1, "0", "", entity.RoleApprover, 0),
			porttest.Tier(2, "100.01", "", entity.RoleCEO, 0),
		}, true},
		{"last tier closed", []*entity.ApprovalTier{
			porttest.Tier(1, "0", "1000", entity.RoleApprover, 0),
		}, true},
		{"max below min", []*entity.ApprovalTier{
			porttest.Tier(1, "0", "100", entity.RoleApprover, 0),
			porttest.Tier(2, "100.01", "50", entity.RoleFinance, 0),
			porttest.Tier(3, "50.01", "", entity.RoleCEO, 0),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePartition(tt.tiers)
			if tt.wantErr {
				assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// Every non-negative amount maps to exactly one tier of a valid partition,
// and that tier is the one Resolve returns.
func TestResolve_PartitionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "tiers")
		tiers := make([]*entity.ApprovalTier, 0, n)
		lower := decimal.Zero
		for i := 1; i <= n; i++ {
			tier := &entity.ApprovalTier{TierOrder: i, MinAmount: lower, ApproverRole: "R", IsActive: true}
			if i < n {
				width := rapid.Int64Range(0, 10_000_000).Draw(t, "width")
				max := lower.Add(decimal.New(width, -2))
				tier.MaxAmount = &max
				lower = max.Add(entity.SmallestUnit)
			}
			tiers = append(tiers, tier)
		}
		if err := ValidatePartition(tiers); err != nil {
			t.Fatalf("generated schedule is invalid: %v", err)
		}

		amount := decimal.New(rapid.Int64Range(0, 100_000_000).Draw(t, "cents"), -2)
		matches := 0
		for _, tier := range tiers {
			if tier.Contains(amount) {
				matches++
			}
		}
		if matches != 1 {
			t.Fatalf("amount %s matched %d tiers", amount, matches)
		}

		got, err := Resolve(tiers, amount)
		if err != nil {
			t.Fatalf("Resolve(%s): %v", amount, err)
		}
		if !got.Contains(amount) {
			t.Fatalf("Resolve(%s) returned tier %d which does not contain it", amount, got.TierOrder)
		}
	})
}

func TestConfigure(t *testing.T) {
	store := porttest.NewStore()
	store.AddUser(&entity.User{ID: "root", Role: entity.RoleAdmin})
	store.AddUser(&entity.User{ID: "eve", Role: entity.RoleEmployee})
	r := newResolver(store)
	ctx := context.Background()

	max := decimal.NewFromInt(1000)
	specs := []Spec{
		{MinAmount: decimal.Zero, MaxAmount: &max, ApproverRole: entity.RoleApprover},
		{MinAmount: decimal.RequireFromString("1000.01"), ApproverRole: entity.RoleCEO},
	}

	_, err := r.Configure(ctx, "eve", specs)
	assert.True(t, errors.Is(err, apperr.ErrUnauthorizedApprover))

	tiers, err := r.Configure(ctx, "root", specs)
	require.NoError(t, err)
	require.Len(t, tiers, 2)

	got, err := r.ResolveTier(ctx, decimal.NewFromInt(5000))
	require.NoError(t, err)
	assert.Equal(t, entity.RoleCEO, got.ApproverRole)

	active, err := r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	bad := []Spec{{MinAmount: decimal.NewFromInt(5), ApproverRole: entity.RoleCEO}}
	_, err = r.Configure(ctx, "root", bad)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	closed := []Spec{{MinAmount: decimal.Zero, MaxAmount: &max, ApproverRole: entity.RoleApprover}}
	_, err = r.Configure(ctx, "root", closed)
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	active, err = r.List(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

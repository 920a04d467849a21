//go:build integration

package firestore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/platform/config"
	pfirestore "github.com/hanko-field/till/internal/platform/firestore"
	"github.com/hanko-field/till/internal/repositories"
)

func newEmulatorRegistry(t *testing.T) (*Registry, *pfirestore.Provider) {
	t.Helper()
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(config.FirestoreConfig{ProjectID: "till-test", EmulatorHost: host})
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg, provider
}

func seedRegister(t *testing.T, ctx context.Context, provider *pfirestore.Provider, id string) {
	t.Helper()
	registers := pfirestore.NewCollection[cashRegisterDocument](provider, cashRegistersCollection)
	if err := registers.Set(ctx, id, cashRegisterDocument{Code: id, Name: "Front", Active: true}); err != nil {
		t.Fatalf("seed register: %v", err)
	}
}

func TestCashShiftRepositoryLifecycle(t *testing.T) {
	reg, provider := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registerID := "reg-" + ulid.Make().String()
	seedRegister(t, ctx, provider, registerID)
	now := time.Now().UTC().Truncate(time.Millisecond)

	shift := domain.CashShift{ID: ulid.Make().String(), RegisterID: registerID, OpenedBy: "cashier-1", Status: domain.ShiftStatusOpen, OpeningCash: 10000, OpenedAt: now}
	shift, opening := shift.Post(domain.CashMovement{ID: ulid.Make().String(), Type: domain.MovementIn, Reason: domain.MovementReasonOpening, Amount: 10000, CreatedAt: now})

	repo := reg.CashShifts()
	if _, err := repo.OpenShift(ctx, shift, opening); err != nil {
		t.Fatalf("OpenShift: %v", err)
	}

	second := shift
	second.ID = ulid.Make().String()
	_, err := repo.OpenShift(ctx, second, opening)
	var ledgerErr *repositories.CashLedgerError
	if !errors.As(err, &ledgerErr) || ledgerErr.Code != repositories.CashLedgerRegisterOccupied {
		t.Fatalf("expected register occupied, got %v", err)
	}

	_, posted, err := repo.AppendMovements(ctx, shift.ID, func(current domain.CashShift) (domain.CashShift, []domain.CashMovement, error) {
		next, sale := current.Post(domain.CashMovement{ID: ulid.Make().String(), Type: domain.MovementIn, Reason: domain.MovementReasonSale, Amount: 2500, CreatedAt: now})
		return next, []domain.CashMovement{sale}, nil
	})
	if err != nil || len(posted) != 1 || posted[0].RunningBalance != 12500 {
		t.Fatalf("AppendMovements: %+v (%v)", posted, err)
	}

	closed, closing, err := repo.CloseShift(ctx, shift.ID, func(current domain.CashShift, ledger []domain.CashMovement) (domain.CashShift, domain.CashMovement, error) {
		if len(ledger) != 2 {
			t.Fatalf("expected 2 ledger entries, got %d", len(ledger))
		}
		counted := int64(12500)
		diff := counted - domain.LedgerBalance(ledger)
		next, m := current.Post(domain.CashMovement{ID: ulid.Make().String(), Type: domain.MovementOut, Reason: domain.MovementReasonClosing, Amount: counted, CreatedAt: now})
		next.Status = domain.ShiftStatusClosed
		next.CountedCash = &counted
		next.CashDifference = &diff
		next.ClosedAt = &now
		return next, m, nil
	})
	if err != nil || closed.Status != domain.ShiftStatusClosed || closing.Sequence != 3 {
		t.Fatalf("CloseShift: %+v %+v (%v)", closed, closing, err)
	}

	if _, err := repo.FindOpenShift(ctx, registerID); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected register released, got %v", err)
	}
	movements, err := repo.ListMovements(ctx, shift.ID)
	if err != nil || len(movements) != 3 || movements[2].Reason != domain.MovementReasonClosing {
		t.Fatalf("ListMovements: %+v (%v)", movements, err)
	}

	_, _, err = repo.AppendMovements(ctx, shift.ID, func(current domain.CashShift) (domain.CashShift, []domain.CashMovement, error) {
		return current, nil, nil
	})
	if !errors.As(err, &ledgerErr) || ledgerErr.Code != repositories.CashLedgerShiftNotOpen {
		t.Fatalf("expected shift not open, got %v", err)
	}
}

func TestPromotionRuleRepositoryRoundTrip(t *testing.T) {
	reg, _ := newEmulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	start, _ := domain.ParseDate("2024-01-01")
	end, _ := domain.ParseDate("2099-12-31")
	rule := domain.PromotionRule{
		ID:         "promo_" + ulid.Make().String(),
		Name:       "10% coffee",
		Variant:    domain.PercentageVariant{Percent: decimal.RequireFromString("10")},
		ProductIDs: []string{"coffee"},
		StartDate:  start,
		EndDate:    end,
		Weekdays:   domain.EveryDay,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	repo := reg.Promotions()
	saved, err := repo.Insert(ctx, rule)
	if err != nil || saved.Sequence == 0 {
		t.Fatalf("Insert: %+v (%v)", saved, err)
	}
	got, err := repo.FindByID(ctx, rule.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	variant, ok := got.Variant.(domain.PercentageVariant)
	if !ok || !variant.Percent.Equal(decimal.NewFromInt(10)) || got.StartDate != start {
		t.Fatalf("unexpected round trip: %+v", got)
	}

	if err := repo.SoftDelete(ctx, rule.ID, now); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if err := repo.SoftDelete(ctx, rule.ID, now); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	active, err := repo.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	for _, r := range active {
		if r.ID == rule.ID {
			t.Fatalf("deleted rule still listed as active")
		}
	}
}

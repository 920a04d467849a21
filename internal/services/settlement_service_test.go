package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/repositories/memory"
)

func settlementFixture(t *testing.T) (*memory.Store, CashShiftService, SettlementService) {
	t.Helper()
	store := seededStore()
	store.PutPaymentMethod(domain.PaymentMethod{Code: "CASH", Name: "Cash", AffectsCash: true, Active: true})
	store.PutPaymentMethod(domain.PaymentMethod{Code: "CARD", Name: "Card", AffectsCash: false, Active: true})
	store.PutPaymentMethod(domain.PaymentMethod{Code: "QR", Name: "QR", AffectsCash: false, Active: false})

	shifts := newTestCashService(t, store, CashPolicy{}, nil)
	settlement, err := NewSettlementService(SettlementServiceDeps{
		Cash:           shifts,
		PaymentMethods: store.PaymentMethods(),
	})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}
	return store, shifts, settlement
}

func TestSettlementService_SplitPayment(t *testing.T) {
	ctx := context.Background()
	_, shifts, settlement := settlementFixture(t)
	shift, err := shifts.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 1000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	result, err := settlement.Settle(ctx, SettleSaleCommand{
		RegisterID: "reg-1",
		SaleID:     "sale-1",
		Total:      1530,
		Payments: []PaymentComponent{
			{MethodCode: "CASH", Amount: 1000},
			{MethodCode: "CARD", Amount: 530},
		},
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if result.ShiftID != shift.ID {
		t.Fatalf("expected shift %s, got %s", shift.ID, result.ShiftID)
	}
	if len(result.Movements) != 1 {
		t.Fatalf("expected one cash movement, got %+v", result.Movements)
	}
	movement := result.Movements[0]
	if movement.Reason != domain.MovementReasonSale || movement.Amount != 1000 || movement.SaleID != "sale-1" || movement.PaymentMethod != "CASH" {
		t.Fatalf("unexpected movement %+v", movement)
	}
	if movement.RunningBalance != 2000 {
		t.Fatalf("expected running balance 2000, got %d", movement.RunningBalance)
	}
	if len(result.Receivables) != 1 || result.Receivables[0].MethodCode != "CARD" || result.Receivables[0].Amount != 530 {
		t.Fatalf("unexpected receivables %+v", result.Receivables)
	}
}

func TestSettlementService_MultipleCashComponentsAreAtomic(t *testing.T) {
	ctx := context.Background()
	_, shifts, settlement := settlementFixture(t)
	shift, err := shifts.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	result, err := settlement.Settle(ctx, SettleSaleCommand{
		RegisterID: "reg-1",
		SaleID:     "sale-2",
		Total:      300,
		Payments: []PaymentComponent{
			{MethodCode: "CASH", Amount: 100},
			{MethodCode: "CASH", Amount: 200},
		},
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(result.Movements) != 2 || result.Movements[0].Sequence != 2 || result.Movements[1].Sequence != 3 {
		t.Fatalf("unexpected movements %+v", result.Movements)
	}

	got, err := shifts.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("GetShift: %v", err)
	}
	if got.RunningBalance != 300 || got.MovementCount != 3 {
		t.Fatalf("unexpected shift %+v", got)
	}
}

func TestSettlementService_CardOnlyCreatesNoMovement(t *testing.T) {
	ctx := context.Background()
	_, shifts, settlement := settlementFixture(t)
	shift, err := shifts.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	result, err := settlement.Settle(ctx, SettleSaleCommand{
		RegisterID: "reg-1",
		SaleID:     "sale-3",
		Total:      800,
		Payments:   []PaymentComponent{{MethodCode: "CARD", Amount: 800}},
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(result.Movements) != 0 {
		t.Fatalf("expected no movements, got %+v", result.Movements)
	}
	movements, err := shifts.ListMovements(ctx, shift.ID)
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected only the opening movement, got %d", len(movements))
	}
}

func TestSettlementService_NoActiveShift(t *testing.T) {
	_, _, settlement := settlementFixture(t)
	_, err := settlement.Settle(context.Background(), SettleSaleCommand{
		RegisterID: "reg-2",
		Total:      100,
		Payments:   []PaymentComponent{{MethodCode: "CASH", Amount: 100}},
	})
	if !errors.Is(err, ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
}

func TestSettlementService_Validation(t *testing.T) {
	ctx := context.Background()
	_, shifts, settlement := settlementFixture(t)
	if _, err := shifts.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 0}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	cases := []SettleSaleCommand{
		{RegisterID: "reg-1", Total: 100},
		{RegisterID: "reg-1", Total: 100, Payments: []PaymentComponent{{MethodCode: "CASH", Amount: 90}}},
		{RegisterID: "reg-1", Total: 100, Payments: []PaymentComponent{{MethodCode: "CASH", Amount: 0}, {MethodCode: "CASH", Amount: 100}}},
		{RegisterID: "reg-1", Total: 100, Payments: []PaymentComponent{{MethodCode: "GIFT", Amount: 100}}},
		{RegisterID: "reg-1", Total: 100, Payments: []PaymentComponent{{MethodCode: "QR", Amount: 100}}},
		{RegisterID: "", Total: 100, Payments: []PaymentComponent{{MethodCode: "CASH", Amount: 100}}},
	}
	for _, cmd := range cases {
		if _, err := settlement.Settle(ctx, cmd); !errors.Is(err, ErrValidation) {
			t.Fatalf("command %+v: expected ErrValidation, got %v", cmd, err)
		}
	}
}

func TestSettlementService_RepositoryFailure(t *testing.T) {
	store := memory.NewStore()
	store.PutPaymentMethod(domain.PaymentMethod{Code: "CASH", AffectsCash: true, Active: true})
	repo := &stubShiftRepo{
		findFn: func(context.Context, string) (domain.CashShift, error) {
			return domain.CashShift{}, stubRepoError{unavailable: true}
		},
	}
	cash, err := NewCashShiftService(CashShiftServiceDeps{Shifts: repo})
	if err != nil {
		t.Fatalf("NewCashShiftService: %v", err)
	}
	settlement, err := NewSettlementService(SettlementServiceDeps{Cash: cash, PaymentMethods: store.PaymentMethods()})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}
	_, err = settlement.Settle(context.Background(), SettleSaleCommand{
		RegisterID: "reg-1",
		Total:      100,
		Payments:   []PaymentComponent{{MethodCode: "CASH", Amount: 100}},
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSettlementService_RecordsSalesThroughShiftService(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	store.PutPaymentMethod(domain.PaymentMethod{Code: "CASH", AffectsCash: true, Active: true})
	store.PutPaymentMethod(domain.PaymentMethod{Code: "CARD", Active: true})

	var sales []map[string]any
	cash, err := NewCashShiftService(CashShiftServiceDeps{
		Shifts:      store.CashShifts(),
		Registers:   store.CashRegisters(),
		Clock:       func() time.Time { return time.Date(2024, time.May, 15, 12, 0, 0, 0, time.UTC) },
		IDGenerator: sequentialIDs("mv-"),
		Logger: func(_ context.Context, event string, fields map[string]any) {
			if event == "cash.sale_recorded" {
				sales = append(sales, fields)
			}
		},
	})
	if err != nil {
		t.Fatalf("NewCashShiftService: %v", err)
	}
	settlement, err := NewSettlementService(SettlementServiceDeps{Cash: cash, PaymentMethods: store.PaymentMethods()})
	if err != nil {
		t.Fatalf("NewSettlementService: %v", err)
	}
	if _, err := cash.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 500}); err != nil {
		t.Fatalf("Open: %v", err)
	}

	result, err := settlement.Settle(ctx, SettleSaleCommand{
		RegisterID: "reg-1",
		SaleID:     "sale-9",
		Total:      700,
		Payments: []PaymentComponent{
			{MethodCode: "CASH", Amount: 300},
			{MethodCode: "CARD", Amount: 100},
			{MethodCode: "CASH", Amount: 300},
		},
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if len(result.Movements) != 2 {
		t.Fatalf("expected two cash movements, got %+v", result.Movements)
	}
	if len(sales) != 2 {
		t.Fatalf("expected each cash component logged as a recorded sale, got %v", sales)
	}
	if sales[0]["saleId"] != "sale-9" || sales[1]["runningBalance"] != int64(1100) {
		t.Fatalf("unexpected sale log fields %v", sales)
	}
}


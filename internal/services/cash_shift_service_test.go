package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/repositories"
	"github.com/hanko-field/till/internal/repositories/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ShiftEvent
	err    error
}

func (p *recordingPublisher) PublishShiftEvent(_ context.Context, event ShiftEvent) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if p.err != nil {
		return "", p.err
	}
	return fmt.Sprintf("msg-%d", len(p.events)), nil
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%03d", prefix, n)
	}
}

func newTestCashService(t *testing.T, store *memory.Store, policy CashPolicy, events ShiftEventPublisher) CashShiftService {
	t.Helper()
	now := time.Date(2024, time.May, 15, 9, 0, 0, 0, time.UTC)
	svc, err := NewCashShiftService(CashShiftServiceDeps{
		Shifts:      store.CashShifts(),
		Registers:   store.CashRegisters(),
		Events:      events,
		Policy:      policy,
		Clock:       func() time.Time { return now },
		IDGenerator: sequentialIDs("id-"),
	})
	if err != nil {
		t.Fatalf("NewCashShiftService: %v", err)
	}
	return svc
}

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.PutRegister(domain.CashRegister{ID: "reg-1", Code: "R1", Name: "Front", Active: true})
	store.PutRegister(domain.CashRegister{ID: "reg-2", Code: "R2", Name: "Back", Active: true})
	store.PutRegister(domain.CashRegister{ID: "reg-off", Code: "R9", Name: "Retired", Active: false})
	return store
}

func TestCashShiftService_LedgerArithmetic(t *testing.T) {
	ctx := context.Background()
	store := seededStore()
	svc := newTestCashService(t, store, CashPolicy{}, nil)

	shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 1000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if shift.Status != domain.ShiftStatusOpen || shift.RunningBalance != 1000 || shift.OpeningCash != 1000 {
		t.Fatalf("unexpected opened shift %+v", shift)
	}

	in, err := svc.AddMovement(ctx, AddMovementCommand{ShiftID: shift.ID, Type: domain.MovementIn, Reason: domain.MovementReasonManualIn, Amount: 500})
	if err != nil {
		t.Fatalf("AddMovement IN: %v", err)
	}
	if in.RunningBalance != 1500 || in.Sequence != 2 {
		t.Fatalf("unexpected IN movement %+v", in)
	}
	out, err := svc.AddMovement(ctx, AddMovementCommand{ShiftID: shift.ID, Type: domain.MovementOut, Reason: domain.MovementReasonManualOut, Amount: 200, Description: "<i>bank</i> drop"})
	if err != nil {
		t.Fatalf("AddMovement OUT: %v", err)
	}
	if out.RunningBalance != 1300 || out.Description != "bank drop" {
		t.Fatalf("unexpected OUT movement %+v", out)
	}

	result, err := svc.Close(ctx, CloseShiftCommand{ShiftID: shift.ID, CountedCash: 1300, ClosedBy: "u-1"})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.ExpectedCash != 1300 || result.CashDifference != 0 || result.Status != domain.ShiftStatusClosed {
		t.Fatalf("unexpected close result %+v", result)
	}
	if result.Closing.Type != domain.MovementOut || result.Closing.Reason != domain.MovementReasonClosing || result.Closing.Amount != 1300 {
		t.Fatalf("unexpected closing movement %+v", result.Closing)
	}

	movements, err := svc.ListMovements(ctx, shift.ID)
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 4 {
		t.Fatalf("expected 4 movements, got %d", len(movements))
	}
	if movements[0].Reason != domain.MovementReasonOpening || movements[0].Amount != 1000 || movements[0].RunningBalance != 1000 {
		t.Fatalf("unexpected opening movement %+v", movements[0])
	}
	for i := 1; i < len(movements); i++ {
		if movements[i].RunningBalance != movements[i-1].RunningBalance+movements[i].Signed() {
			t.Fatalf("running balance broken at %d: %+v", i, movements)
		}
	}

	active, err := svc.GetActive(ctx, "reg-1")
	if err != nil || active != nil {
		t.Fatalf("expected register to be free, got %+v err=%v", active, err)
	}
}

func TestCashShiftService_Exclusivity(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)

	first, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-2", OpeningCash: 500})
	if !errors.Is(err, ErrRegisterOccupied) {
		t.Fatalf("expected ErrRegisterOccupied, got %v", err)
	}

	// The same user may hold another register.
	if _, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-2", UserID: "u-1", OpeningCash: 0}); err != nil {
		t.Fatalf("Open second register: %v", err)
	}

	active, err := svc.GetActive(ctx, "reg-1")
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Fatalf("expected active shift %s, got %+v", first.ID, active)
	}
}

func TestCashShiftService_ConcurrentOpenAdmitsOne(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)

	const attempts = 16
	var (
		mu       sync.Mutex
		opened   int
		occupied int
	)
	var group sync.WaitGroup
	for i := 0; i < attempts; i++ {
		group.Add(1)
		go func(i int) {
			defer group.Done()
			_, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: fmt.Sprintf("u-%d", i), OpeningCash: 100})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				opened++
			case errors.Is(err, ErrRegisterOccupied):
				occupied++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	group.Wait()
	if opened != 1 || occupied != attempts-1 {
		t.Fatalf("expected exactly one open, got opened=%d occupied=%d", opened, occupied)
	}
}

func TestCashShiftService_ImmutableAfterClose(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)

	shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := svc.Close(ctx, CloseShiftCommand{ShiftID: shift.ID, CountedCash: 100}); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err = svc.AddMovement(ctx, AddMovementCommand{ShiftID: shift.ID, Type: domain.MovementIn, Reason: domain.MovementReasonManualIn, Amount: 10})
	if !errors.Is(err, ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed for movement, got %v", err)
	}
	_, err = svc.Close(ctx, CloseShiftCommand{ShiftID: shift.ID, CountedCash: 100})
	if !errors.Is(err, ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed for second close, got %v", err)
	}
	_, err = svc.RecordSaleMovement(ctx, SaleMovementCommand{ShiftID: shift.ID, Amount: 10, AffectsCash: true})
	if !errors.Is(err, ErrShiftClosed) {
		t.Fatalf("expected ErrShiftClosed for sale, got %v", err)
	}

	// The register is free again after close.
	if _, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-2", OpeningCash: 0}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestCashShiftService_ReviewThreshold(t *testing.T) {
	threshold := int64(50)
	cases := []struct {
		name    string
		policy  CashPolicy
		counted int64
		want    domain.ShiftStatus
		diff    int64
	}{
		{name: "no threshold closes despite shortage", policy: CashPolicy{}, counted: 700, want: domain.ShiftStatusClosed, diff: -300},
		{name: "within tolerance", policy: CashPolicy{ReviewThreshold: &threshold}, counted: 1050, want: domain.ShiftStatusClosed, diff: 50},
		{name: "over tolerance", policy: CashPolicy{ReviewThreshold: &threshold}, counted: 940, want: domain.ShiftStatusPendingReview, diff: -60},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			events := &recordingPublisher{}
			svc := newTestCashService(t, seededStore(), tc.policy, events)
			shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 1000})
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			result, err := svc.Close(ctx, CloseShiftCommand{ShiftID: shift.ID, CountedCash: tc.counted, Notes: "counted twice"})
			if err != nil {
				t.Fatalf("Close: %v", err)
			}
			if result.Status != tc.want || result.CashDifference != tc.diff {
				t.Fatalf("expected %s/%d, got %s/%d", tc.want, tc.diff, result.Status, result.CashDifference)
			}
			if result.Shift.CountedCash == nil || *result.Shift.CountedCash != tc.counted || result.Shift.Notes != "counted twice" {
				t.Fatalf("unexpected closed shift %+v", result.Shift)
			}
			if len(events.events) != 2 {
				t.Fatalf("expected open and close events, got %+v", events.events)
			}
			wantEvent := ShiftEventClosed
			if tc.want == domain.ShiftStatusPendingReview {
				wantEvent = ShiftEventPendingReview
			}
			if events.events[1].Type != wantEvent {
				t.Fatalf("expected %s event, got %s", wantEvent, events.events[1].Type)
			}
		})
	}
}

func TestCashShiftService_CloseWithZeroCount(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)
	shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	result, err := svc.Close(ctx, CloseShiftCommand{ShiftID: shift.ID, CountedCash: 0})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.Closing.Amount != 0 || result.ExpectedCash != 0 || result.Status != domain.ShiftStatusClosed {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCashShiftService_Validation(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)

	if _, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: -1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative opening cash, got %v", err)
	}
	if _, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-off", UserID: "u-1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for inactive register, got %v", err)
	}
	if _, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-404", UserID: "u-1"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown register, got %v", err)
	}

	shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	invalid := []AddMovementCommand{
		{ShiftID: shift.ID, Type: domain.MovementIn, Reason: domain.MovementReasonManualIn, Amount: 0},
		{ShiftID: shift.ID, Type: domain.MovementIn, Reason: domain.MovementReasonManualIn, Amount: -5},
		{ShiftID: shift.ID, Type: domain.MovementOut, Reason: domain.MovementReasonManualIn, Amount: 5},
		{ShiftID: shift.ID, Type: domain.MovementIn, Reason: domain.MovementReasonSale, Amount: 5},
		{ShiftID: shift.ID, Type: domain.MovementOut, Reason: domain.MovementReasonClosing, Amount: 5},
		{ShiftID: shift.ID, Type: domain.MovementOut, Reason: domain.MovementReasonManualOut, Amount: 101},
	}
	for _, cmd := range invalid {
		if _, err := svc.AddMovement(ctx, cmd); !errors.Is(err, ErrValidation) {
			t.Fatalf("command %+v: expected ErrValidation, got %v", cmd, err)
		}
	}
	if _, err := svc.Close(ctx, CloseShiftCommand{ShiftID: shift.ID, CountedCash: -1}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for negative counted cash, got %v", err)
	}

	// Failed validations leave the ledger untouched.
	movements, err := svc.ListMovements(ctx, shift.ID)
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected only the opening movement, got %d", len(movements))
	}
}

func TestCashShiftService_RecordSaleMovement(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)
	shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	skipped, err := svc.RecordSaleMovement(ctx, SaleMovementCommand{ShiftID: shift.ID, SaleID: "s-1", Amount: 900, AffectsCash: false})
	if err != nil || skipped != nil {
		t.Fatalf("expected no-op for non-cash sale, got %+v err=%v", skipped, err)
	}
	recorded, err := svc.RecordSaleMovement(ctx, SaleMovementCommand{ShiftID: shift.ID, SaleID: "s-2", Amount: 450, AffectsCash: true, PaymentMethod: "CASH"})
	if err != nil {
		t.Fatalf("RecordSaleMovement: %v", err)
	}
	if recorded.Reason != domain.MovementReasonSale || recorded.Type != domain.MovementIn || recorded.SaleID != "s-2" || recorded.RunningBalance != 550 {
		t.Fatalf("unexpected sale movement %+v", recorded)
	}
}

func TestCashShiftService_RejectsSystemReasons(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)
	shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 100})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, reason := range []domain.MovementReason{domain.MovementReasonOpening, domain.MovementReasonSale, domain.MovementReasonClosing} {
		if !reason.SystemReserved() {
			t.Fatalf("expected %s to be system reserved", reason)
		}
		_, err := svc.AddMovement(ctx, AddMovementCommand{ShiftID: shift.ID, Type: domain.MovementIn, Reason: reason, Amount: 5})
		if !errors.Is(err, ErrValidation) || !strings.Contains(err.Error(), "recorded by the system") {
			t.Fatalf("reason %s: expected system reason rejection, got %v", reason, err)
		}
	}
	if domain.MovementReasonManualIn.SystemReserved() || domain.MovementReasonManualOut.SystemReserved() {
		t.Fatalf("manual reasons must stay open to operators")
	}
}

func TestCashShiftService_RecordSaleMovementsBatch(t *testing.T) {
	ctx := context.Background()
	svc := newTestCashService(t, seededStore(), CashPolicy{}, nil)
	shift, err := svc.Open(ctx, OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1", OpeningCash: 0})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := svc.RecordSaleMovements(ctx, shift.ID, []SaleMovementCommand{{Amount: 0, AffectsCash: true}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for zero amount, got %v", err)
	}
	if _, err := svc.RecordSaleMovements(ctx, " ", []SaleMovementCommand{{Amount: 10, AffectsCash: true}}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for blank shift, got %v", err)
	}
	skipped, err := svc.RecordSaleMovements(ctx, shift.ID, []SaleMovementCommand{{SaleID: "s-1", Amount: 50}})
	if err != nil || len(skipped) != 0 {
		t.Fatalf("expected non-cash batch to post nothing, got %+v err=%v", skipped, err)
	}

	posted, err := svc.RecordSaleMovements(ctx, shift.ID, []SaleMovementCommand{
		{SaleID: "s-2", Amount: 100, AffectsCash: true, PaymentMethod: "CASH"},
		{SaleID: "s-2", Amount: 70, AffectsCash: false, PaymentMethod: "CARD"},
		{SaleID: "s-2", Amount: 25, AffectsCash: true, PaymentMethod: "CASH"},
	})
	if err != nil {
		t.Fatalf("RecordSaleMovements: %v", err)
	}
	if len(posted) != 2 || posted[0].Sequence != 2 || posted[1].Sequence != 3 || posted[1].RunningBalance != 125 {
		t.Fatalf("unexpected posted movements %+v", posted)
	}
}

func TestCashShiftService_PublishFailureDoesNotFailOpen(t *testing.T) {
	var logged []string
	store := seededStore()
	svc, err := NewCashShiftService(CashShiftServiceDeps{
		Shifts: store.CashShifts(),
		Events: &recordingPublisher{err: errors.New("pubsub down")},
		Logger: func(_ context.Context, event string, _ map[string]any) { logged = append(logged, event) },
	})
	if err != nil {
		t.Fatalf("NewCashShiftService: %v", err)
	}
	if _, err := svc.Open(context.Background(), OpenShiftCommand{RegisterID: "reg-1", UserID: "u-1"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	found := false
	for _, event := range logged {
		if event == "cash.event_publish_failed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected publish failure to be logged, got %v", logged)
	}
}

type stubShiftRepo struct {
	repositories.CashShiftRepository
	closeFn func(ctx context.Context, shiftID string, build repositories.CloseBuilder) (domain.CashShift, domain.CashMovement, error)
	findFn  func(ctx context.Context, registerID string) (domain.CashShift, error)
}

func (s *stubShiftRepo) CloseShift(ctx context.Context, shiftID string, build repositories.CloseBuilder) (domain.CashShift, domain.CashMovement, error) {
	return s.closeFn(ctx, shiftID, build)
}

func (s *stubShiftRepo) FindOpenShift(ctx context.Context, registerID string) (domain.CashShift, error) {
	return s.findFn(ctx, registerID)
}

type stubRepoError struct {
	notFound, unavailable bool
}

func (e stubRepoError) Error() string       { return "stub repository error" }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return false }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func TestCashShiftService_CloseFailureSurfacesUnavailable(t *testing.T) {
	repo := &stubShiftRepo{
		closeFn: func(context.Context, string, repositories.CloseBuilder) (domain.CashShift, domain.CashMovement, error) {
			return domain.CashShift{}, domain.CashMovement{}, stubRepoError{unavailable: true}
		},
	}
	svc, err := NewCashShiftService(CashShiftServiceDeps{Shifts: repo})
	if err != nil {
		t.Fatalf("NewCashShiftService: %v", err)
	}
	_, err = svc.Close(context.Background(), CloseShiftCommand{ShiftID: "shift-1", CountedCash: 10})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestCashShiftService_CloseUsesLedgerSum(t *testing.T) {
	open := domain.CashShift{ID: "shift-1", RegisterID: "reg-1", Status: domain.ShiftStatusOpen, RunningBalance: 1300, MovementCount: 3}
	ledger := []domain.CashMovement{
		{Type: domain.MovementIn, Reason: domain.MovementReasonOpening, Amount: 1000},
		{Type: domain.MovementIn, Reason: domain.MovementReasonSale, Amount: 500},
		{Type: domain.MovementOut, Reason: domain.MovementReasonManualOut, Amount: 200},
	}
	repo := &stubShiftRepo{
		closeFn: func(_ context.Context, _ string, build repositories.CloseBuilder) (domain.CashShift, domain.CashMovement, error) {
			return build(open, ledger)
		},
	}
	svc, err := NewCashShiftService(CashShiftServiceDeps{Shifts: repo})
	if err != nil {
		t.Fatalf("NewCashShiftService: %v", err)
	}
	result, err := svc.Close(context.Background(), CloseShiftCommand{ShiftID: "shift-1", CountedCash: 1250})
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if result.ExpectedCash != 1300 || result.CashDifference != -50 {
		t.Fatalf("unexpected reconciliation %+v", result)
	}
	if result.Closing.Sequence != 4 || result.Closing.RunningBalance != 50 {
		t.Fatalf("unexpected closing movement %+v", result.Closing)
	}
}

func TestCashShiftService_GetActivePropagatesFailures(t *testing.T) {
	repo := &stubShiftRepo{
		findFn: func(context.Context, string) (domain.CashShift, error) {
			return domain.CashShift{}, stubRepoError{unavailable: true}
		},
	}
	svc, err := NewCashShiftService(CashShiftServiceDeps{Shifts: repo})
	if err != nil {
		t.Fatalf("NewCashShiftService: %v", err)
	}
	if _, err := svc.GetActive(context.Background(), "reg-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewCashShiftServiceRequiresRepository(t *testing.T) {
	if _, err := NewCashShiftService(CashShiftServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
	negative := int64(-1)
	store := memory.NewStore()
	if _, err := NewCashShiftService(CashShiftServiceDeps{Shifts: store.CashShifts(), Policy: CashPolicy{ReviewThreshold: &negative}}); err == nil {
		t.Fatalf("expected error for negative threshold")
	}
}

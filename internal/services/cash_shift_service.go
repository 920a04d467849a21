package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/platform/textutil"
	"github.com/hanko-field/till/internal/repositories"
)

const (
	defaultDescriptionLimit = 280
	maxCloseNotesLength     = 1000

	// ShiftEventOpened is published after a shift opens.
	ShiftEventOpened = "shift.opened"
	// ShiftEventClosed is published after a shift closes within tolerance.
	ShiftEventClosed = "shift.closed"
	// ShiftEventPendingReview is published after a shift closes outside tolerance.
	ShiftEventPendingReview = "shift.pending_review"
)

var errCashShiftRepositoryRequired = errors.New("cash shift service: shift repository is required")

// CashPolicy holds reconciliation parameters supplied by configuration.
type CashPolicy struct {
	// ReviewThreshold is the largest absolute difference that still closes as CLOSED.
	// Nil means every close is CLOSED regardless of the difference.
	ReviewThreshold  *int64
	DescriptionLimit int
}

func (p CashPolicy) statusFor(difference int64) domain.ShiftStatus {
	if p.ReviewThreshold == nil {
		return domain.ShiftStatusClosed
	}
	if difference < 0 {
		difference = -difference
	}
	if difference > *p.ReviewThreshold {
		return domain.ShiftStatusPendingReview
	}
	return domain.ShiftStatusClosed
}

// CashShiftServiceDeps wires the ledger store and optional collaborators.
type CashShiftServiceDeps struct {
	Shifts      repositories.CashShiftRepository
	Registers   repositories.CashRegisterRepository
	Events      ShiftEventPublisher
	Policy      CashPolicy
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type cashShiftService struct {
	shifts    repositories.CashShiftRepository
	registers repositories.CashRegisterRepository
	events    ShiftEventPublisher
	policy    CashPolicy
	metrics   *cashMetrics
	now       func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ CashShiftService = (*cashShiftService)(nil)

// NewCashShiftService constructs the shift lifecycle service.
func NewCashShiftService(deps CashShiftServiceDeps) (CashShiftService, error) {
	if deps.Shifts == nil {
		return nil, errCashShiftRepositoryRequired
	}
	if deps.Policy.ReviewThreshold != nil && *deps.Policy.ReviewThreshold < 0 {
		return nil, errors.New("cash shift service: review threshold must not be negative")
	}
	if deps.Policy.DescriptionLimit <= 0 {
		deps.Policy.DescriptionLimit = defaultDescriptionLimit
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cashShiftService{
		shifts:    deps.Shifts,
		registers: deps.Registers,
		events:    deps.Events,
		policy:    deps.Policy,
		metrics:   newCashMetrics(deps.Meter, logger),
		now:       func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *cashShiftService) Open(ctx context.Context, cmd OpenShiftCommand) (CashShift, error) {
	registerID := strings.TrimSpace(cmd.RegisterID)
	userID := strings.TrimSpace(cmd.UserID)
	if registerID == "" {
		return CashShift{}, validationError("register id is required")
	}
	if userID == "" {
		return CashShift{}, validationError("user id is required")
	}
	if cmd.OpeningCash < 0 {
		return CashShift{}, validationError("opening cash must not be negative")
	}

	if s.registers != nil {
		register, err := s.registers.FindByID(ctx, registerID)
		if err != nil {
			return CashShift{}, translateRepoError("cash shift service: find register", err)
		}
		if !register.Active {
			return CashShift{}, validationError("register %s is not active", registerID)
		}
	}

	now := s.now()
	shift := CashShift{
		ID:         s.newID(),
		RegisterID: registerID,
		OpenedBy:   userID,
		Status:     domain.ShiftStatusOpen,
		OpenedAt:   now,
		UpdatedAt:  now,
	}
	shift, opening := shift.Post(CashMovement{
		ID:         s.newID(),
		Type:       domain.MovementIn,
		Reason:     domain.MovementReasonOpening,
		Amount:     cmd.OpeningCash,
		RecordedBy: userID,
		CreatedAt:  now,
	})
	shift.OpeningCash = cmd.OpeningCash

	saved, err := s.shifts.OpenShift(ctx, shift, opening)
	if err != nil {
		return CashShift{}, translateRepoError("cash shift service: open", err)
	}

	s.metrics.shiftOpened(ctx, registerID)
	s.metrics.movementsRecorded(ctx, []CashMovement{opening})
	s.logger(ctx, "cash.shift_opened", map[string]any{
		"shiftId":     saved.ID,
		"registerId":  registerID,
		"userId":      userID,
		"openingCash": cmd.OpeningCash,
	})
	s.publish(ctx, ShiftEventOpened, saved)
	return saved, nil
}

func (s *cashShiftService) AddMovement(ctx context.Context, cmd AddMovementCommand) (CashMovement, error) {
	shiftID := strings.TrimSpace(cmd.ShiftID)
	if shiftID == "" {
		return CashMovement{}, validationError("shift id is required")
	}
	if cmd.Amount <= 0 {
		return CashMovement{}, validationError("amount must be positive")
	}
	if cmd.Reason.SystemReserved() {
		return CashMovement{}, validationError("reason %s is recorded by the system", cmd.Reason)
	}
	switch cmd.Reason {
	case domain.MovementReasonManualIn:
		if cmd.Type != domain.MovementIn {
			return CashMovement{}, validationError("reason %s requires type %s", cmd.Reason, domain.MovementIn)
		}
	case domain.MovementReasonManualOut:
		if cmd.Type != domain.MovementOut {
			return CashMovement{}, validationError("reason %s requires type %s", cmd.Reason, domain.MovementOut)
		}
	default:
		return CashMovement{}, validationError("unknown movement reason %q", cmd.Reason)
	}
	description := textutil.PlainText(cmd.Description, s.policy.DescriptionLimit)
	recordedBy := strings.TrimSpace(cmd.RecordedBy)

	_, movements, err := s.shifts.AppendMovements(ctx, shiftID, func(shift CashShift) (CashShift, []CashMovement, error) {
		if cmd.Type == domain.MovementOut && cmd.Amount > shift.RunningBalance {
			return CashShift{}, nil, validationError("amount %d exceeds drawer balance %d", cmd.Amount, shift.RunningBalance)
		}
		now := s.now()
		next, movement := shift.Post(CashMovement{
			ID:          s.newID(),
			Type:        cmd.Type,
			Reason:      cmd.Reason,
			Amount:      cmd.Amount,
			Description: description,
			RecordedBy:  recordedBy,
			CreatedAt:   now,
		})
		return next, []CashMovement{movement}, nil
	})
	if err != nil {
		return CashMovement{}, translateRepoError("cash shift service: add movement", err)
	}
	if len(movements) != 1 {
		return CashMovement{}, fmt.Errorf("cash shift service: expected one movement, got %d", len(movements))
	}

	s.metrics.movementsRecorded(ctx, movements)
	s.logger(ctx, "cash.movement_recorded", map[string]any{
		"shiftId":        shiftID,
		"movementId":     movements[0].ID,
		"reason":         string(movements[0].Reason),
		"amount":         movements[0].Amount,
		"runningBalance": movements[0].RunningBalance,
	})
	return movements[0], nil
}

func (s *cashShiftService) RecordSaleMovement(ctx context.Context, cmd SaleMovementCommand) (*CashMovement, error) {
	movements, err := s.RecordSaleMovements(ctx, cmd.ShiftID, []SaleMovementCommand{cmd})
	if err != nil || len(movements) == 0 {
		return nil, err
	}
	return &movements[0], nil
}

// RecordSaleMovements posts the cash-affecting sales as SALE movements in one ledger transaction.
// Non-cash components are skipped, so the result may be empty.
func (s *cashShiftService) RecordSaleMovements(ctx context.Context, shiftID string, sales []SaleMovementCommand) ([]CashMovement, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return nil, validationError("shift id is required")
	}
	cash := make([]SaleMovementCommand, 0, len(sales))
	for i, sale := range sales {
		if !sale.AffectsCash {
			continue
		}
		if sale.Amount <= 0 {
			return nil, validationError("sale %d: amount must be positive", i)
		}
		cash = append(cash, sale)
	}
	if len(cash) == 0 {
		return nil, nil
	}

	_, movements, err := s.shifts.AppendMovements(ctx, shiftID, func(shift CashShift) (CashShift, []CashMovement, error) {
		next, posted := postSales(shift, s.now(), s.newID, cash)
		return next, posted, nil
	})
	if err != nil {
		return nil, translateRepoError("cash shift service: record sales", err)
	}

	s.metrics.movementsRecorded(ctx, movements)
	for _, movement := range movements {
		s.logger(ctx, "cash.sale_recorded", map[string]any{
			"shiftId":        shiftID,
			"movementId":     movement.ID,
			"saleId":         movement.SaleID,
			"paymentMethod":  movement.PaymentMethod,
			"amount":         movement.Amount,
			"runningBalance": movement.RunningBalance,
		})
	}
	return movements, nil
}

func (s *cashShiftService) Close(ctx context.Context, cmd CloseShiftCommand) (CloseShiftResult, error) {
	shiftID := strings.TrimSpace(cmd.ShiftID)
	if shiftID == "" {
		return CloseShiftResult{}, validationError("shift id is required")
	}
	if cmd.CountedCash < 0 {
		return CloseShiftResult{}, validationError("counted cash must not be negative")
	}
	notes := textutil.PlainText(cmd.Notes, maxCloseNotesLength)
	closedBy := strings.TrimSpace(cmd.ClosedBy)

	var expected, difference int64
	shift, closing, err := s.shifts.CloseShift(ctx, shiftID, func(shift CashShift, ledger []CashMovement) (CashShift, CashMovement, error) {
		expected = domain.LedgerBalance(ledger)
		if expected != shift.RunningBalance {
			s.logger(ctx, "cash.ledger_mismatch", map[string]any{
				"shiftId":        shift.ID,
				"ledgerBalance":  expected,
				"runningBalance": shift.RunningBalance,
			})
		}
		difference = cmd.CountedCash - expected
		now := s.now()

		closed, movement := shift.Post(CashMovement{
			ID:         s.newID(),
			Type:       domain.MovementOut,
			Reason:     domain.MovementReasonClosing,
			Amount:     cmd.CountedCash,
			RecordedBy: closedBy,
			CreatedAt:  now,
		})
		counted := cmd.CountedCash
		diff := difference
		closed.Status = s.policy.statusFor(difference)
		closed.ExpectedCash = expected
		closed.CountedCash = &counted
		closed.CashDifference = &diff
		closed.Notes = notes
		closed.ClosedAt = &now
		closed.ClosedBy = closedBy
		return closed, movement, nil
	})
	if err != nil {
		return CloseShiftResult{}, translateRepoError("cash shift service: close", err)
	}

	s.metrics.movementsRecorded(ctx, []CashMovement{closing})
	s.metrics.shiftClosed(ctx, shift.RegisterID, string(shift.Status), difference)
	s.logger(ctx, "cash.shift_closed", map[string]any{
		"shiftId":        shift.ID,
		"registerId":     shift.RegisterID,
		"status":         string(shift.Status),
		"expectedCash":   expected,
		"countedCash":    cmd.CountedCash,
		"cashDifference": difference,
	})
	eventType := ShiftEventClosed
	if shift.Status == domain.ShiftStatusPendingReview {
		eventType = ShiftEventPendingReview
	}
	s.publish(ctx, eventType, shift)

	return CloseShiftResult{
		Shift:          shift,
		Closing:        closing,
		ExpectedCash:   expected,
		CashDifference: difference,
		Status:         shift.Status,
	}, nil
}

func (s *cashShiftService) GetActive(ctx context.Context, registerID string) (*CashShift, error) {
	registerID = strings.TrimSpace(registerID)
	if registerID == "" {
		return nil, validationError("register id is required")
	}
	shift, err := s.shifts.FindOpenShift(ctx, registerID)
	if err != nil {
		if isRepoNotFound(err) {
			return nil, nil
		}
		return nil, translateRepoError("cash shift service: find open shift", err)
	}
	return &shift, nil
}

func (s *cashShiftService) GetShift(ctx context.Context, shiftID string) (CashShift, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return CashShift{}, validationError("shift id is required")
	}
	shift, err := s.shifts.GetShift(ctx, shiftID)
	if err != nil {
		return CashShift{}, translateRepoError("cash shift service: get shift", err)
	}
	return shift, nil
}

func (s *cashShiftService) ListMovements(ctx context.Context, shiftID string) ([]CashMovement, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return nil, validationError("shift id is required")
	}
	movements, err := s.shifts.ListMovements(ctx, shiftID)
	if err != nil {
		return nil, translateRepoError("cash shift service: list movements", err)
	}
	return movements, nil
}

func (s *cashShiftService) ListRegisters(ctx context.Context) ([]CashRegister, error) {
	if s.registers == nil {
		return nil, fmt.Errorf("%w: register repository not configured", ErrUnavailable)
	}
	registers, err := s.registers.List(ctx)
	if err != nil {
		return nil, translateRepoError("cash shift service: list registers", err)
	}
	return registers, nil
}

// publish notifies subscribers. Failures are logged; the committed mutation stands.
func (s *cashShiftService) publish(ctx context.Context, eventType string, shift CashShift) {
	if s.events == nil {
		return
	}
	event := ShiftEvent{
		Type:           eventType,
		ShiftID:        shift.ID,
		RegisterID:     shift.RegisterID,
		Status:         shift.Status,
		OpeningCash:    shift.OpeningCash,
		ExpectedCash:   shift.ExpectedCash,
		CountedCash:    shift.CountedCash,
		CashDifference: shift.CashDifference,
		OccurredAt:     s.now(),
	}
	if _, err := s.events.PublishShiftEvent(ctx, event); err != nil {
		s.logger(ctx, "cash.event_publish_failed", map[string]any{
			"shiftId": shift.ID,
			"event":   eventType,
			"error":   err.Error(),
		})
	}
}

// postSales appends one IN/SALE movement per sale to the shift.
func postSales(shift CashShift, now time.Time, newID func() string, sales []SaleMovementCommand) (CashShift, []CashMovement) {
	movements := make([]CashMovement, 0, len(sales))
	for _, sale := range sales {
		var movement CashMovement
		shift, movement = shift.Post(CashMovement{
			ID:            newID(),
			Type:          domain.MovementIn,
			Reason:        domain.MovementReasonSale,
			Amount:        sale.Amount,
			SaleID:        strings.TrimSpace(sale.SaleID),
			PaymentMethod: strings.TrimSpace(sale.PaymentMethod),
			CreatedAt:     now,
		})
		movements = append(movements, movement)
	}
	return shift, movements
}

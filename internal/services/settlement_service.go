package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanko-field/till/internal/repositories"
)

var (
	errSettlementCashRequired    = errors.New("settlement service: cash shift service is required")
	errSettlementMethodsRequired = errors.New("settlement service: payment method repository is required")
)

// SettlementServiceDeps wires the shift service and payment method registry.
type SettlementServiceDeps struct {
	Cash           CashShiftService
	PaymentMethods repositories.PaymentMethodRepository
	Logger         func(context.Context, string, map[string]any)
}

type settlementService struct {
	cash    CashShiftService
	methods repositories.PaymentMethodRepository
	logger  func(context.Context, string, map[string]any)
}

var _ SettlementService = (*settlementService)(nil)

// NewSettlementService constructs the coordinator that records sales against the OPEN shift.
func NewSettlementService(deps SettlementServiceDeps) (SettlementService, error) {
	if deps.Cash == nil {
		return nil, errSettlementCashRequired
	}
	if deps.PaymentMethods == nil {
		return nil, errSettlementMethodsRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &settlementService{
		cash:    deps.Cash,
		methods: deps.PaymentMethods,
		logger:  logger,
	}, nil
}

// Settle records every cash-affecting payment component as a SALE movement in one transaction.
// Components paid by non-cash methods are returned as receivables.
func (s *settlementService) Settle(ctx context.Context, cmd SettleSaleCommand) (SettlementResult, error) {
	registerID := strings.TrimSpace(cmd.RegisterID)
	if registerID == "" {
		return SettlementResult{}, validationError("register id is required")
	}
	if cmd.Total < 0 {
		return SettlementResult{}, validationError("total must not be negative")
	}
	if len(cmd.Payments) == 0 {
		return SettlementResult{}, validationError("at least one payment component is required")
	}

	var (
		sum         int64
		sales       []SaleMovementCommand
		receivables []PaymentComponent
	)
	for i, payment := range cmd.Payments {
		code := strings.TrimSpace(payment.MethodCode)
		if code == "" {
			return SettlementResult{}, validationError("payment %d: method code is required", i)
		}
		if payment.Amount <= 0 {
			return SettlementResult{}, validationError("payment %d: amount must be positive", i)
		}
		method, err := s.methods.FindByCode(ctx, code)
		if err != nil {
			if isRepoNotFound(err) {
				return SettlementResult{}, validationError("payment %d: unknown payment method %s", i, code)
			}
			return SettlementResult{}, translateRepoError("settlement service: find payment method", err)
		}
		if !method.Active {
			return SettlementResult{}, validationError("payment %d: payment method %s is not active", i, code)
		}
		sum += payment.Amount
		if method.AffectsCash {
			sales = append(sales, SaleMovementCommand{
				SaleID:        cmd.SaleID,
				Amount:        payment.Amount,
				AffectsCash:   true,
				PaymentMethod: method.Code,
			})
			continue
		}
		receivables = append(receivables, PaymentComponent{MethodCode: method.Code, Amount: payment.Amount})
	}
	if sum != cmd.Total {
		return SettlementResult{}, validationError("payments sum to %d but total is %d", sum, cmd.Total)
	}

	shift, err := s.cash.GetActive(ctx, registerID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("settlement service: find open shift: %w", err)
	}
	if shift == nil {
		return SettlementResult{}, fmt.Errorf("%w: register %s", ErrNoActiveShift, registerID)
	}

	result := SettlementResult{ShiftID: shift.ID, Receivables: receivables}
	if len(sales) > 0 {
		movements, err := s.cash.RecordSaleMovements(ctx, shift.ID, sales)
		if err != nil {
			if errors.Is(err, ErrShiftClosed) {
				// The shift closed between lookup and append.
				return SettlementResult{}, fmt.Errorf("%w: register %s", ErrNoActiveShift, registerID)
			}
			return SettlementResult{}, fmt.Errorf("settlement service: record sales: %w", err)
		}
		result.Movements = movements
	}

	s.logger(ctx, "settlement.recorded", map[string]any{
		"registerId":  registerID,
		"shiftId":     shift.ID,
		"saleId":      cmd.SaleID,
		"total":       cmd.Total,
		"movements":   len(result.Movements),
		"receivables": len(receivables),
	})
	return result, nil
}

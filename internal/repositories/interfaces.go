package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/till/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Promotions() PromotionRuleRepository
	CashShifts() CashShiftRepository
	CashRegisters() CashRegisterRepository
	PaymentMethods() PaymentMethodRepository
	Catalog() CatalogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// PromotionRuleRepository persists promotion rules. Deletion is soft.
type PromotionRuleRepository interface {
	// Insert stores a new rule, assigning the next Sequence when the rule carries none.
	Insert(ctx context.Context, rule domain.PromotionRule) (domain.PromotionRule, error)
	Update(ctx context.Context, rule domain.PromotionRule) (domain.PromotionRule, error)
	SoftDelete(ctx context.Context, ruleID string, deletedAt time.Time) error
	FindByID(ctx context.Context, ruleID string) (domain.PromotionRule, error)
	// ListActive returns live rules ordered by Sequence.
	ListActive(ctx context.Context) ([]domain.PromotionRule, error)
	// List returns all non-deleted rules ordered by Sequence.
	List(ctx context.Context) ([]domain.PromotionRule, error)
}

// MovementBuilder computes the advanced shift and the movements to append from the current OPEN shift
// inside the repository transaction. Returning an error aborts the transaction.
type MovementBuilder func(shift domain.CashShift) (domain.CashShift, []domain.CashMovement, error)

// CloseBuilder computes the closed shift and its CLOSING movement from the current shift and
// its full ledger inside the repository transaction.
type CloseBuilder func(shift domain.CashShift, ledger []domain.CashMovement) (domain.CashShift, domain.CashMovement, error)

// CashShiftRepository owns the shift ledger and the one-open-shift-per-register lock.
// Each mutating call is a single atomic transaction.
type CashShiftRepository interface {
	// OpenShift atomically claims the register and stores the shift with its OPENING movement.
	// Returns a CashLedgerError with CashLedgerRegisterOccupied when the register already has an OPEN shift.
	OpenShift(ctx context.Context, shift domain.CashShift, opening domain.CashMovement) (domain.CashShift, error)
	// AppendMovements writes the builder's shift and movements. Returns a CashLedgerError with
	// CashLedgerShiftNotOpen when the shift is terminal.
	AppendMovements(ctx context.Context, shiftID string, build MovementBuilder) (domain.CashShift, []domain.CashMovement, error)
	// CloseShift writes the closed shift, appends its CLOSING movement and releases the register.
	CloseShift(ctx context.Context, shiftID string, build CloseBuilder) (domain.CashShift, domain.CashMovement, error)
	GetShift(ctx context.Context, shiftID string) (domain.CashShift, error)
	// FindOpenShift returns the OPEN shift holding the register or a not-found error.
	FindOpenShift(ctx context.Context, registerID string) (domain.CashShift, error)
	ListMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)
}

// CashRegisterRepository reads register metadata.
type CashRegisterRepository interface {
	FindByID(ctx context.Context, registerID string) (domain.CashRegister, error)
	List(ctx context.Context) ([]domain.CashRegister, error)
}

// PaymentMethodRepository is the payment method registry.
type PaymentMethodRepository interface {
	FindByCode(ctx context.Context, code string) (domain.PaymentMethod, error)
	List(ctx context.Context) ([]domain.PaymentMethod, error)
}

// CatalogRepository resolves products for pricing.
type CatalogRepository interface {
	FindProduct(ctx context.Context, productID string) (domain.Product, error)
}

// HealthRepository evaluates dependency health.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}

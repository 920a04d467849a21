package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/till/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Product          = domain.Product
	CartLine         = domain.CartLine
	CartTotals       = domain.CartTotals
	AppliedPromotion = domain.AppliedPromotion
	PromotionRule    = domain.PromotionRule
	CashRegister     = domain.CashRegister
	CashShift        = domain.CashShift
	CashMovement     = domain.CashMovement
	PaymentMethod    = domain.PaymentMethod
	PaymentComponent = domain.PaymentComponent
	HealthReport     = domain.HealthReport
)

// CartService builds cart aggregates against the live rule snapshot and prices carts statelessly.
type CartService interface {
	NewCart(ctx context.Context, cmd NewCartCommand) (*CartAggregate, error)
	PriceCart(ctx context.Context, cmd PriceCartCommand) (CartTotals, error)
}

// CashShiftService manages the shift lifecycle and its ledger.
type CashShiftService interface {
	Open(ctx context.Context, cmd OpenShiftCommand) (CashShift, error)
	AddMovement(ctx context.Context, cmd AddMovementCommand) (CashMovement, error)
	RecordSaleMovement(ctx context.Context, cmd SaleMovementCommand) (*CashMovement, error)
	// RecordSaleMovements appends every cash-affecting sale in one ledger transaction.
	RecordSaleMovements(ctx context.Context, shiftID string, sales []SaleMovementCommand) ([]CashMovement, error)
	Close(ctx context.Context, cmd CloseShiftCommand) (CloseShiftResult, error)
	// GetActive returns the OPEN shift for the register, or nil when the register is free.
	GetActive(ctx context.Context, registerID string) (*CashShift, error)
	GetShift(ctx context.Context, shiftID string) (CashShift, error)
	ListMovements(ctx context.Context, shiftID string) ([]CashMovement, error)
	ListRegisters(ctx context.Context) ([]CashRegister, error)
}

// SettlementService turns confirmed sales into ledger movements.
type SettlementService interface {
	Settle(ctx context.Context, cmd SettleSaleCommand) (SettlementResult, error)
}

// PromotionService administers promotion rules.
type PromotionService interface {
	Create(ctx context.Context, cmd UpsertPromotionCommand) (PromotionRule, error)
	Update(ctx context.Context, ruleID string, cmd UpsertPromotionCommand) (PromotionRule, error)
	Delete(ctx context.Context, ruleID string) error
	Get(ctx context.Context, ruleID string) (PromotionRule, error)
	List(ctx context.Context, includeInactive bool) ([]PromotionRule, error)
}

// SystemService reports dependency health and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}

// ShiftEventPublisher delivers shift lifecycle notifications.
type ShiftEventPublisher interface {
	PublishShiftEvent(ctx context.Context, event ShiftEvent) (string, error)
}

// NewCartCommand starts a cart session.
type NewCartCommand struct {
	CustomerID string
}

// PriceCartLineInput identifies a product and quantity to price.
type PriceCartLineInput struct {
	ProductID             string
	Quantity              int
	ManualDiscountPercent decimal.Decimal
}

// PriceCartCommand prices a cart without retaining it.
type PriceCartCommand struct {
	Lines               []PriceCartLineInput
	CartDiscountPercent decimal.Decimal
	PaymentMethod       string
}

// OpenShiftCommand opens a shift on a register.
type OpenShiftCommand struct {
	RegisterID  string
	UserID      string
	OpeningCash int64
}

// AddMovementCommand records a manual cash movement.
type AddMovementCommand struct {
	ShiftID     string
	Type        domain.MovementType
	Reason      domain.MovementReason
	Amount      int64
	Description string
	RecordedBy  string
}

// SaleMovementCommand records the cash part of a sale.
type SaleMovementCommand struct {
	ShiftID       string
	SaleID        string
	Amount        int64
	AffectsCash   bool
	PaymentMethod string
}

// CloseShiftCommand seals a shift.
type CloseShiftCommand struct {
	ShiftID     string
	CountedCash int64
	Notes       string
	ClosedBy    string
}

// CloseShiftResult reports the reconciliation of a closed shift.
type CloseShiftResult struct {
	Shift          CashShift
	Closing        CashMovement
	ExpectedCash   int64
	CashDifference int64
	Status         domain.ShiftStatus
}

// SettleSaleCommand carries a confirmed sale and its payment split.
type SettleSaleCommand struct {
	RegisterID string
	SaleID     string
	Total      int64
	Payments   []PaymentComponent
}

// SettlementResult lists the ledger entries created and the components left to receivables.
type SettlementResult struct {
	ShiftID     string
	Movements   []CashMovement
	Receivables []PaymentComponent
}

// UpsertPromotionCommand carries administrator input for a rule.
type UpsertPromotionCommand struct {
	Name          string
	Variant       domain.PromotionVariant
	ProductIDs    []string
	StartDate     domain.Date
	EndDate       domain.Date
	Weekdays      domain.Weekdays
	PaymentMethod string
	Active        bool
}

// ShiftEvent is the payload published on shift lifecycle changes.
type ShiftEvent struct {
	Type           string
	ShiftID        string
	RegisterID     string
	Status         domain.ShiftStatus
	OpeningCash    int64
	ExpectedCash   int64
	CountedCash    *int64
	CashDifference *int64
	OccurredAt     time.Time
}

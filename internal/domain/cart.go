package domain

import (
	"github.com/shopspring/decimal"
)

// Product is the catalog view needed to price a cart line.
type Product struct {
	ID        string
	Name      string
	UnitPrice int64
	TaxRate   decimal.Decimal
	Active    bool
}

// CartLine is one product entry in a cart. Amounts are minor currency units.
type CartLine struct {
	ProductID             string
	Name                  string
	UnitPrice             int64
	Quantity              int
	ManualDiscountPercent decimal.Decimal
	ManualDiscountAmount  int64
	PromoDiscount         int64
	PromoLabel            string
	Subtotal              int64
}

// Gross returns quantity x unit price.
func (l CartLine) Gross() int64 {
	return int64(l.Quantity) * l.UnitPrice
}

// AppliedPromotion records what one rule contributed to a computation.
type AppliedPromotion struct {
	RuleID     string
	Name       string
	Kind       PromotionVariantKind
	Amount     int64
	FreeUnits  int
	ProductIDs []string
}

// CartTotals is the result of pricing a cart.
type CartTotals struct {
	Lines                 []CartLine
	GrossTotal            int64
	ManualDiscountTotal   int64
	PromoDiscountTotal    int64
	Subtotal              int64
	GlobalDiscountPercent decimal.Decimal
	GlobalDiscountAmount  int64
	Total                 int64
	AppliedPromotions     []AppliedPromotion
	// PaymentMethod is the method whose adjustment was applied, empty when none was.
	PaymentMethod string
	// PaymentAdjustment is the surcharge (positive) or discount (negative) of the payment method on Total.
	PaymentAdjustment int64
	// AmountDue is Total plus PaymentAdjustment, never negative.
	AmountDue int64
}

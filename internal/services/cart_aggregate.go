package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CartConfig is the explicit configuration a cart is priced with.
type CartConfig struct {
	Location             *time.Location
	DefaultPaymentMethod string
	Affinity             AffinityPolicy
	Now                  func() time.Time
}

type cartState struct {
	lines           []CartLine
	customerID      string
	discountPercent decimal.Decimal
	paymentMethod   string
	rules           []PromotionRule
}

func (s cartState) clone() cartState {
	s.lines = append([]CartLine(nil), s.lines...)
	s.rules = append([]PromotionRule(nil), s.rules...)
	return s
}

func (s cartState) indexOf(productID string) int {
	for i, line := range s.lines {
		if line.ProductID == productID {
			return i
		}
	}
	return -1
}

// CartAggregate owns the lines of one in-progress sale and keeps its totals current.
// Every mutation recomputes the totals before returning; a failed mutation leaves the cart untouched.
// A CartAggregate belongs to a single terminal session and is not safe for concurrent use.
type CartAggregate struct {
	engine *PricingEngine
	config CartConfig
	state  cartState
	totals CartTotals
}

// NewCartAggregate creates an empty cart priced against the supplied rule snapshot.
func NewCartAggregate(ctx context.Context, engine *PricingEngine, cfg CartConfig, rules []PromotionRule) (*CartAggregate, error) {
	if engine == nil {
		return nil, errors.New("cart aggregate: pricing engine is required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Affinity == "" {
		cfg.Affinity = AffinityAssumeDefault
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cart := &CartAggregate{
		engine: engine,
		config: cfg,
		state:  cartState{rules: append([]PromotionRule(nil), rules...)},
	}
	if _, err := cart.apply(ctx, func(*cartState) error { return nil }); err != nil {
		return nil, err
	}
	return cart, nil
}

// AddLine adds qty units of product, incrementing the existing line when the product is already in the cart.
func (c *CartAggregate) AddLine(ctx context.Context, product Product, qty int) (CartTotals, error) {
	productID := strings.TrimSpace(product.ID)
	if productID == "" {
		return CartTotals{}, validationError("product id is required")
	}
	if qty < 1 {
		return CartTotals{}, validationError("quantity must be at least 1")
	}
	return c.apply(ctx, func(s *cartState) error {
		if idx := s.indexOf(productID); idx >= 0 {
			s.lines[idx].Quantity += qty
			return nil
		}
		s.lines = append(s.lines, CartLine{
			ProductID: productID,
			Name:      product.Name,
			UnitPrice: product.UnitPrice,
			Quantity:  qty,
		})
		return nil
	})
}

// RemoveLine drops the product's line.
func (c *CartAggregate) RemoveLine(ctx context.Context, productID string) (CartTotals, error) {
	return c.apply(ctx, func(s *cartState) error {
		idx := s.indexOf(strings.TrimSpace(productID))
		if idx < 0 {
			return fmt.Errorf("%w: product %s not in cart", ErrNotFound, productID)
		}
		s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
		return nil
	})
}

// SetQuantity replaces the quantity of the product's line.
func (c *CartAggregate) SetQuantity(ctx context.Context, productID string, qty int) (CartTotals, error) {
	if qty < 1 {
		return CartTotals{}, validationError("quantity must be at least 1")
	}
	return c.apply(ctx, func(s *cartState) error {
		idx := s.indexOf(strings.TrimSpace(productID))
		if idx < 0 {
			return fmt.Errorf("%w: product %s not in cart", ErrNotFound, productID)
		}
		s.lines[idx].Quantity = qty
		return nil
	})
}

// SetLineManualDiscount sets the cashier-entered discount percent on a line.
func (c *CartAggregate) SetLineManualDiscount(ctx context.Context, productID string, percent decimal.Decimal) (CartTotals, error) {
	return c.apply(ctx, func(s *cartState) error {
		idx := s.indexOf(strings.TrimSpace(productID))
		if idx < 0 {
			return fmt.Errorf("%w: product %s not in cart", ErrNotFound, productID)
		}
		s.lines[idx].ManualDiscountPercent = percent
		return nil
	})
}

// SetCartDiscount sets the global discount percent applied after line discounts.
func (c *CartAggregate) SetCartDiscount(ctx context.Context, percent decimal.Decimal) (CartTotals, error) {
	return c.apply(ctx, func(s *cartState) error {
		s.discountPercent = percent
		return nil
	})
}

// SetCustomer attaches an optional customer reference.
func (c *CartAggregate) SetCustomer(ctx context.Context, customerID string) (CartTotals, error) {
	return c.apply(ctx, func(s *cartState) error {
		s.customerID = strings.TrimSpace(customerID)
		return nil
	})
}

// SetPaymentMethod records the chosen payment method; affinity rules are re-evaluated against it.
func (c *CartAggregate) SetPaymentMethod(ctx context.Context, code string) (CartTotals, error) {
	return c.apply(ctx, func(s *cartState) error {
		s.paymentMethod = strings.TrimSpace(code)
		return nil
	})
}

// ReloadRules replaces the cart's rule snapshot.
func (c *CartAggregate) ReloadRules(ctx context.Context, rules []PromotionRule) (CartTotals, error) {
	return c.apply(ctx, func(s *cartState) error {
		s.rules = append([]PromotionRule(nil), rules...)
		return nil
	})
}

// Clear empties the cart and resets customer, discount and payment method. The rule snapshot is kept.
func (c *CartAggregate) Clear(ctx context.Context) (CartTotals, error) {
	return c.apply(ctx, func(s *cartState) error {
		s.lines = nil
		s.customerID = ""
		s.discountPercent = decimal.Zero
		s.paymentMethod = ""
		return nil
	})
}

// Totals returns the current priced view.
func (c *CartAggregate) Totals() CartTotals {
	out := c.totals
	out.Lines = append([]CartLine(nil), c.totals.Lines...)
	out.AppliedPromotions = append([]AppliedPromotion(nil), c.totals.AppliedPromotions...)
	return out
}

// Lines returns the priced lines in cart order.
func (c *CartAggregate) Lines() []CartLine {
	return append([]CartLine(nil), c.totals.Lines...)
}

// CustomerID returns the attached customer, if any.
func (c *CartAggregate) CustomerID() string { return c.state.customerID }

// PaymentMethod returns the chosen payment method, if any.
func (c *CartAggregate) PaymentMethod() string { return c.state.paymentMethod }

// apply runs mutate on a copy of the state and commits only if pricing succeeds.
func (c *CartAggregate) apply(ctx context.Context, mutate func(*cartState) error) (CartTotals, error) {
	draft := c.state.clone()
	if err := mutate(&draft); err != nil {
		return CartTotals{}, err
	}

	totals, err := c.engine.RecomputeCart(ctx, draft.lines, draft.rules, draft.discountPercent, PricingContext{
		At:                   c.config.Now(),
		Location:             c.config.Location,
		PaymentMethod:        draft.paymentMethod,
		DefaultPaymentMethod: c.config.DefaultPaymentMethod,
		Affinity:             c.config.Affinity,
	})
	if err != nil {
		return CartTotals{}, err
	}

	draft.lines = totals.Lines
	c.state = draft
	c.totals = totals
	return c.Totals(), nil
}

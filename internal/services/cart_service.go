package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/till/internal/repositories"
)

var (
	errCartRulesRequired   = errors.New("cart service: promotion repository is required")
	errCartCatalogRequired = errors.New("cart service: catalog repository is required")
	errCartEngineRequired  = errors.New("cart service: pricing engine is required")
)

// CartServiceDeps wires the repositories and pricing configuration for cart sessions.
type CartServiceDeps struct {
	Promotions repositories.PromotionRuleRepository
	Catalog    repositories.CatalogRepository
	Engine     *PricingEngine
	// PaymentMethods is optional. When set, PriceCart applies the chosen method's surcharge or discount.
	PaymentMethods repositories.PaymentMethodRepository
	Config         CartConfig
	Logger         func(context.Context, string, map[string]any)
}

type cartService struct {
	promotions repositories.PromotionRuleRepository
	catalog    repositories.CatalogRepository
	engine     *PricingEngine
	payments   repositories.PaymentMethodRepository
	config     CartConfig
	logger     func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Promotions == nil {
		return nil, errCartRulesRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	if deps.Engine == nil {
		return nil, errCartEngineRequired
	}

	cfg := deps.Config
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		promotions: deps.Promotions,
		catalog:    deps.Catalog,
		engine:     deps.Engine,
		payments:   deps.PaymentMethods,
		config:     cfg,
		logger:     logger,
	}, nil
}

// NewCart opens a cart session against the current active rule snapshot.
func (s *cartService) NewCart(ctx context.Context, cmd NewCartCommand) (*CartAggregate, error) {
	rules, err := s.promotions.ListActive(ctx)
	if err != nil {
		return nil, translateRepoError("cart service: list rules", err)
	}

	cart, err := NewCartAggregate(ctx, s.engine, s.config, rules)
	if err != nil {
		return nil, err
	}
	if customer := strings.TrimSpace(cmd.CustomerID); customer != "" {
		if _, err := cart.SetCustomer(ctx, customer); err != nil {
			return nil, err
		}
	}
	return cart, nil
}

// PriceCart resolves products from the catalog and prices the lines without retaining a cart.
func (s *cartService) PriceCart(ctx context.Context, cmd PriceCartCommand) (CartTotals, error) {
	if len(cmd.Lines) == 0 {
		return CartTotals{}, validationError("at least one line is required")
	}

	cart, err := s.NewCart(ctx, NewCartCommand{})
	if err != nil {
		return CartTotals{}, err
	}

	for _, input := range cmd.Lines {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return CartTotals{}, validationError("product id is required")
		}
		product, err := s.catalog.FindProduct(ctx, productID)
		if err != nil {
			if isRepoNotFound(err) {
				return CartTotals{}, fmt.Errorf("%w: product %s", ErrNotFound, productID)
			}
			return CartTotals{}, translateRepoError("cart service: find product", err)
		}
		if !product.Active {
			return CartTotals{}, validationError("product %s is not active", productID)
		}
		if _, err := cart.AddLine(ctx, product, input.Quantity); err != nil {
			return CartTotals{}, err
		}
		if !input.ManualDiscountPercent.IsZero() {
			if _, err := cart.SetLineManualDiscount(ctx, productID, input.ManualDiscountPercent); err != nil {
				return CartTotals{}, err
			}
		}
	}

	if method := strings.TrimSpace(cmd.PaymentMethod); method != "" {
		if _, err := cart.SetPaymentMethod(ctx, method); err != nil {
			return CartTotals{}, err
		}
	}
	totals, err := cart.SetCartDiscount(ctx, cmd.CartDiscountPercent)
	if err != nil {
		return CartTotals{}, err
	}
	if totals, err = s.applyPaymentMethod(ctx, totals, cart.PaymentMethod()); err != nil {
		return CartTotals{}, err
	}

	s.logger(ctx, "cart.priced", map[string]any{
		"lines":         len(totals.Lines),
		"total":         totals.Total,
		"promoDiscount": totals.PromoDiscountTotal,
		"amountDue":     totals.AmountDue,
	})
	return totals, nil
}

// applyPaymentMethod adjusts the amount due for an explicitly chosen method. The configured default
// only drives affinity rules and never adds a surcharge on its own.
func (s *cartService) applyPaymentMethod(ctx context.Context, totals CartTotals, code string) (CartTotals, error) {
	if s.payments == nil || code == "" {
		return totals, nil
	}
	method, err := s.payments.FindByCode(ctx, code)
	if err != nil {
		if isRepoNotFound(err) {
			return CartTotals{}, validationError("unknown payment method %s", code)
		}
		return CartTotals{}, translateRepoError("cart service: find payment method", err)
	}
	if !method.Active {
		return CartTotals{}, validationError("payment method %s is not active", code)
	}
	return ApplyPaymentAdjustment(totals, method)
}

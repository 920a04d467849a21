package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/till/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// AffinityPolicy decides how rules bound to a payment method are priced before the method is chosen.
type AffinityPolicy string

const (
	// AffinityAssumeDefault evaluates affinity rules against the configured default method.
	AffinityAssumeDefault AffinityPolicy = "assume_default"
	// AffinityExcludeUntilKnown skips affinity rules until a payment method is chosen.
	AffinityExcludeUntilKnown AffinityPolicy = "exclude_until_known"
)

// ParseAffinityPolicy normalises a configured policy name.
func ParseAffinityPolicy(value string) (AffinityPolicy, error) {
	switch AffinityPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", AffinityAssumeDefault:
		return AffinityAssumeDefault, nil
	case AffinityExcludeUntilKnown:
		return AffinityExcludeUntilKnown, nil
	}
	return "", fmt.Errorf("unknown affinity policy %q", value)
}

// PricingContext carries every ambient input of a computation explicitly.
type PricingContext struct {
	At                   time.Time
	Location             *time.Location
	PaymentMethod        string
	DefaultPaymentMethod string
	Affinity             AffinityPolicy
}

func (pc PricingContext) effectivePaymentMethod() string {
	if method := strings.TrimSpace(pc.PaymentMethod); method != "" {
		return method
	}
	if pc.Affinity == AffinityExcludeUntilKnown {
		return ""
	}
	return strings.TrimSpace(pc.DefaultPaymentMethod)
}

func (pc PricingContext) calendarDay() (domain.Date, time.Weekday) {
	loc := pc.Location
	if loc == nil {
		loc = time.UTC
	}
	local := pc.At.In(loc)
	return domain.DateOf(local), local.Weekday()
}

// PricingEngine prices carts against promotion rules. RecomputeCart is pure: identical inputs give identical output.
type PricingEngine struct {
	logger func(context.Context, string, map[string]any)
}

// PricingEngineDeps bundles optional collaborators for the engine.
type PricingEngineDeps struct {
	Logger func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs a pricing engine.
func NewPricingEngine(deps PricingEngineDeps) *PricingEngine {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{logger: logger}
}

// RecomputeCart derives line discounts, subtotals and totals from scratch. Incoming promo discounts and labels
// are ignored, so feeding a previous result back in yields the same totals.
func (e *PricingEngine) RecomputeCart(ctx context.Context, lines []CartLine, rules []PromotionRule, cartDiscountPercent decimal.Decimal, pc PricingContext) (CartTotals, error) {
	if err := validatePercent("cart discount", cartDiscountPercent); err != nil {
		return CartTotals{}, err
	}

	priced := make([]CartLine, len(lines))
	labels := make([][]string, len(lines))
	var units, gross int64
	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return CartTotals{}, validationError("line %d: product id is required", i)
		}
		if line.Quantity < 1 {
			return CartTotals{}, validationError("line %s: quantity must be at least 1", line.ProductID)
		}
		if line.UnitPrice < 0 {
			return CartTotals{}, validationError("line %s: unit price must not be negative", line.ProductID)
		}
		if err := validatePercent("line "+line.ProductID+" manual discount", line.ManualDiscountPercent); err != nil {
			return CartTotals{}, err
		}
		if line.UnitPrice > 0 && int64(line.Quantity) > math.MaxInt64/line.UnitPrice {
			return CartTotals{}, validationError("line %s: quantity %d at unit price %d overflows", line.ProductID, line.Quantity, line.UnitPrice)
		}
		if int64(line.Quantity) > math.MaxInt64-units || line.Gross() > math.MaxInt64-gross {
			return CartTotals{}, validationError("cart totals overflow at line %s", line.ProductID)
		}
		units += int64(line.Quantity)
		gross += line.Gross()
		line.PromoDiscount = 0
		line.PromoLabel = ""
		line.ManualDiscountAmount = percentOf(line.Gross(), line.ManualDiscountPercent)
		priced[i] = line
	}

	day, weekday := pc.calendarDay()
	method := pc.effectivePaymentMethod()

	var applied []AppliedPromotion
	for _, rule := range orderRules(rules) {
		if !rule.Live() || !rule.ValidOn(day, weekday) {
			continue
		}
		if affinity := strings.TrimSpace(rule.PaymentMethod); affinity != "" && !strings.EqualFold(affinity, method) {
			continue
		}

		eligible := make([]int, 0, len(priced))
		for i, line := range priced {
			if rule.AppliesToProduct(line.ProductID) {
				eligible = append(eligible, i)
			}
		}
		if len(eligible) == 0 {
			continue
		}

		credits, freeUnits, err := evaluateRule(rule, priced, eligible)
		if err != nil {
			e.logger(ctx, "pricing.rule_rejected", map[string]any{
				"ruleId": rule.ID,
				"error":  err.Error(),
			})
			return CartTotals{}, err
		}

		var total int64
		var products []string
		for _, idx := range eligible {
			amount := credits[idx]
			if amount <= 0 {
				continue
			}
			priced[idx].PromoDiscount += amount
			labels[idx] = append(labels[idx], rule.Name)
			products = append(products, priced[idx].ProductID)
			total += amount
		}
		if total > 0 {
			applied = append(applied, AppliedPromotion{
				RuleID:     rule.ID,
				Name:       rule.Name,
				Kind:       rule.Variant.Kind(),
				Amount:     total,
				FreeUnits:  freeUnits,
				ProductIDs: products,
			})
		}
	}

	totals := CartTotals{
		Lines:                 priced,
		GlobalDiscountPercent: cartDiscountPercent,
		AppliedPromotions:     applied,
	}
	for i := range priced {
		line := &priced[i]
		line.PromoLabel = strings.Join(labels[i], ", ")
		line.Subtotal = clampZero(line.Gross() - line.ManualDiscountAmount - line.PromoDiscount)
		totals.GrossTotal += line.Gross()
		totals.ManualDiscountTotal += line.ManualDiscountAmount
		totals.PromoDiscountTotal += line.PromoDiscount
		totals.Subtotal += line.Subtotal
	}
	totals.GlobalDiscountAmount = percentOf(totals.Subtotal, cartDiscountPercent)
	totals.Total = clampZero(totals.Subtotal - totals.GlobalDiscountAmount)
	totals.AmountDue = totals.Total
	return totals, nil
}

// ApplyPaymentAdjustment prices the chosen payment method on top of Total. Total itself is left unchanged,
// so promotion and cart discounts never compound with the method's surcharge or discount.
func ApplyPaymentAdjustment(totals CartTotals, method PaymentMethod) (CartTotals, error) {
	if err := validatePercent("payment method "+method.Code+" surcharge", method.SurchargePercent); err != nil {
		return CartTotals{}, err
	}
	if err := validatePercent("payment method "+method.Code+" discount", method.DiscountPercent); err != nil {
		return CartTotals{}, err
	}
	totals.PaymentMethod = method.Code
	totals.PaymentAdjustment = percentOf(totals.Total, method.SurchargePercent) - percentOf(totals.Total, method.DiscountPercent)
	totals.AmountDue = clampZero(totals.Total + totals.PaymentAdjustment)
	return totals, nil
}

// evaluateRule returns the discount credited to each eligible line index.
func evaluateRule(rule PromotionRule, lines []CartLine, eligible []int) (map[int]int64, int, error) {
	credits := make(map[int]int64, len(eligible))
	switch v := rule.Variant.(type) {
	case domain.PercentageVariant:
		if !v.Percent.IsPositive() || v.Percent.GreaterThan(hundred) {
			return nil, 0, fmt.Errorf("%w: rule %s: percent %s outside (0, 100]", ErrRuleEvaluation, rule.ID, v.Percent)
		}
		for _, idx := range eligible {
			credits[idx] = percentOf(lines[idx].Gross(), v.Percent)
		}
		return credits, 0, nil
	case domain.NxMVariant:
		if v.Pay <= 0 || v.Buy <= v.Pay {
			return nil, 0, fmt.Errorf("%w: rule %s: nxm requires buy > pay > 0, got %d/%d", ErrRuleEvaluation, rule.ID, v.Buy, v.Pay)
		}
		// Each eligible line is one run of identically priced units.
		type run struct {
			price int64
			line  int
			count int
		}
		runs := make([]run, 0, len(eligible))
		units := 0
		for _, idx := range eligible {
			runs = append(runs, run{price: lines[idx].UnitPrice, line: idx, count: lines[idx].Quantity})
			units += lines[idx].Quantity
		}
		if units < v.Buy {
			return credits, 0, nil
		}
		free := (units / v.Buy) * (v.Buy - v.Pay)
		// Stable sort keeps cart order among equally priced runs.
		sort.SliceStable(runs, func(i, j int) bool { return runs[i].price < runs[j].price })
		remaining := free
		for _, r := range runs {
			if remaining == 0 {
				break
			}
			take := min(r.count, remaining)
			credits[r.line] += int64(take) * r.price
			remaining -= take
		}
		return credits, free, nil
	case domain.FixedPriceVariant:
		if v.Price < 0 {
			return nil, 0, fmt.Errorf("%w: rule %s: fixed price must not be negative", ErrRuleEvaluation, rule.ID)
		}
		return credits, 0, nil
	case nil:
		return nil, 0, fmt.Errorf("%w: rule %s has no variant", ErrRuleEvaluation, rule.ID)
	default:
		return nil, 0, fmt.Errorf("%w: rule %s: unsupported variant %T", ErrRuleEvaluation, rule.ID, v)
	}
}

// orderRules sorts a copy of rules by creation order, then id.
func orderRules(rules []PromotionRule) []PromotionRule {
	ordered := append([]PromotionRule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return ordered
}

func percentOf(amount int64, percent decimal.Decimal) int64 {
	if amount <= 0 || percent.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}

func validatePercent(field string, percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return validationError("%s must be between 0 and 100", field)
	}
	return nil
}

func clampZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

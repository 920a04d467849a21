package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/platform/textutil"
	"github.com/hanko-field/till/internal/repositories"
)

const maxPromotionNameLength = 120

// ErrPromotionRepositoryMissing indicates the promotion repository dependency is absent.
var ErrPromotionRepositoryMissing = errors.New("promotion service: repository is not configured")

// PromotionServiceDeps wires the rule repository.
type PromotionServiceDeps struct {
	Rules       repositories.PromotionRuleRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type promotionService struct {
	rules  repositories.PromotionRuleRepository
	now    func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

var _ PromotionService = (*promotionService)(nil)

// NewPromotionService constructs the rule administration service.
func NewPromotionService(deps PromotionServiceDeps) (PromotionService, error) {
	if deps.Rules == nil {
		return nil, ErrPromotionRepositoryMissing
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
	return &promotionService{
		rules:  deps.Rules,
		now:    func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *promotionService) Create(ctx context.Context, cmd UpsertPromotionCommand) (PromotionRule, error) {
	rule, err := normalizePromotion(cmd)
	if err != nil {
		return PromotionRule{}, err
	}
	now := s.now()
	rule.ID = "promo_" + strings.ToLower(s.newID())
	rule.CreatedAt = now
	rule.UpdatedAt = now

	saved, err := s.rules.Insert(ctx, rule)
	if err != nil {
		return PromotionRule{}, translateRepoError("promotion service: insert", err)
	}
	s.logger(ctx, "promotion.created", map[string]any{
		"ruleId":   saved.ID,
		"kind":     string(saved.Variant.Kind()),
		"sequence": saved.Sequence,
	})
	return saved, nil
}

func (s *promotionService) Update(ctx context.Context, ruleID string, cmd UpsertPromotionCommand) (PromotionRule, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return PromotionRule{}, validationError("rule id is required")
	}
	existing, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		return PromotionRule{}, translateRepoError("promotion service: find", err)
	}
	if existing.DeletedAt != nil {
		return PromotionRule{}, fmt.Errorf("%w: rule %s was deleted", ErrNotFound, ruleID)
	}

	rule, err := normalizePromotion(cmd)
	if err != nil {
		return PromotionRule{}, err
	}
	rule.ID = existing.ID
	rule.Sequence = existing.Sequence
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = s.now()

	saved, err := s.rules.Update(ctx, rule)
	if err != nil {
		return PromotionRule{}, translateRepoError("promotion service: update", err)
	}
	s.logger(ctx, "promotion.updated", map[string]any{"ruleId": saved.ID})
	return saved, nil
}

func (s *promotionService) Delete(ctx context.Context, ruleID string) error {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return validationError("rule id is required")
	}
	if err := s.rules.SoftDelete(ctx, ruleID, s.now()); err != nil {
		return translateRepoError("promotion service: delete", err)
	}
	s.logger(ctx, "promotion.deleted", map[string]any{"ruleId": ruleID})
	return nil
}

func (s *promotionService) Get(ctx context.Context, ruleID string) (PromotionRule, error) {
	ruleID = strings.TrimSpace(ruleID)
	if ruleID == "" {
		return PromotionRule{}, validationError("rule id is required")
	}
	rule, err := s.rules.FindByID(ctx, ruleID)
	if err != nil {
		return PromotionRule{}, translateRepoError("promotion service: find", err)
	}
	return rule, nil
}

func (s *promotionService) List(ctx context.Context, includeInactive bool) ([]PromotionRule, error) {
	var (
		rules []PromotionRule
		err   error
	)
	if includeInactive {
		rules, err = s.rules.List(ctx)
	} else {
		rules, err = s.rules.ListActive(ctx)
	}
	if err != nil {
		return nil, translateRepoError("promotion service: list", err)
	}
	return rules, nil
}

// normalizePromotion validates administrator input. Malformed variant parameters are validation errors here;
// the pricing engine reports the same conditions as rule evaluation errors for rules that bypassed this check.
func normalizePromotion(cmd UpsertPromotionCommand) (PromotionRule, error) {
	name := textutil.PlainText(cmd.Name, maxPromotionNameLength)
	if name == "" {
		return PromotionRule{}, validationError("name is required")
	}

	switch v := cmd.Variant.(type) {
	case domain.NxMVariant:
		if v.Pay <= 0 || v.Buy <= v.Pay {
			return PromotionRule{}, validationError("nxm requires buy > pay > 0")
		}
	case domain.PercentageVariant:
		if !v.Percent.IsPositive() || v.Percent.GreaterThan(hundred) {
			return PromotionRule{}, validationError("percentage must be within (0, 100]")
		}
	case domain.FixedPriceVariant:
		if v.Price < 0 {
			return PromotionRule{}, validationError("fixed price must not be negative")
		}
	case nil:
		return PromotionRule{}, validationError("variant is required")
	default:
		return PromotionRule{}, validationError("unsupported variant %T", v)
	}

	products := make([]string, 0, len(cmd.ProductIDs))
	seen := make(map[string]struct{}, len(cmd.ProductIDs))
	for _, id := range cmd.ProductIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		products = append(products, id)
	}
	if len(products) == 0 {
		return PromotionRule{}, validationError("at least one product is required")
	}
	sort.Strings(products)

	if cmd.StartDate.IsZero() || cmd.EndDate.IsZero() {
		return PromotionRule{}, validationError("start and end dates are required")
	}
	if cmd.EndDate.Before(cmd.StartDate) {
		return PromotionRule{}, validationError("start date must not be after end date")
	}
	weekdays := cmd.Weekdays
	if weekdays == 0 {
		weekdays = domain.EveryDay
	}
	if weekdays&^domain.EveryDay != 0 {
		return PromotionRule{}, validationError("weekday mask has unknown bits")
	}

	return PromotionRule{
		Name:          name,
		Variant:       cmd.Variant,
		ProductIDs:    products,
		StartDate:     cmd.StartDate,
		EndDate:       cmd.EndDate,
		Weekdays:      weekdays,
		PaymentMethod: strings.ToUpper(strings.TrimSpace(cmd.PaymentMethod)),
		Active:        cmd.Active,
	}, nil
}

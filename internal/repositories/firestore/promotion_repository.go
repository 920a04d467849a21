package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/till/internal/domain"
	pfirestore "github.com/hanko-field/till/internal/platform/firestore"
	"github.com/hanko-field/till/internal/repositories"
)

const (
	promotionRulesCollection = "promotionRules"
	countersCollection       = "counters"
	promotionSequenceCounter = "promotionRuleSequence"
)

type promotionRuleDocument struct {
	Name          string     `firestore:"name"`
	Kind          string     `firestore:"kind"`
	Buy           int        `firestore:"buy,omitempty"`
	Pay           int        `firestore:"pay,omitempty"`
	Percent       string     `firestore:"percent,omitempty"`
	FixedPrice    int64      `firestore:"fixedPrice,omitempty"`
	ProductIDs    []string   `firestore:"productIds"`
	StartDate     string     `firestore:"startDate"`
	EndDate       string     `firestore:"endDate"`
	Weekdays      int        `firestore:"weekdays"`
	PaymentMethod string     `firestore:"paymentMethod,omitempty"`
	Active        bool       `firestore:"active"`
	Deleted       bool       `firestore:"deleted"`
	Sequence      int64      `firestore:"sequence"`
	CreatedAt     time.Time  `firestore:"createdAt"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
	DeletedAt     *time.Time `firestore:"deletedAt,omitempty"`
}

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// PromotionRuleRepository persists promotion rules with a transactional sequence counter.
type PromotionRuleRepository struct {
	provider *pfirestore.Provider
	rules    *pfirestore.Collection[promotionRuleDocument]
	counters *pfirestore.Collection[counterDocument]
}

var _ repositories.PromotionRuleRepository = (*PromotionRuleRepository)(nil)

// NewPromotionRuleRepository constructs a Firestore-backed promotion rule repository.
func NewPromotionRuleRepository(provider *pfirestore.Provider) (*PromotionRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("promotion rule repository requires firestore provider")
	}
	return &PromotionRuleRepository{
		provider: provider,
		rules:    pfirestore.NewCollection[promotionRuleDocument](provider, promotionRulesCollection),
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection),
	}, nil
}

// Insert stores a new rule. A zero Sequence is replaced with the next counter value.
func (r *PromotionRuleRepository) Insert(ctx context.Context, rule domain.PromotionRule) (domain.PromotionRule, error) {
	doc, err := encodePromotionRule(rule)
	if err != nil {
		return domain.PromotionRule{}, err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		counterRef, err := r.counters.DocumentRef(ctx, promotionSequenceCounter)
		if err != nil {
			return err
		}
		ruleRef, err := r.rules.DocumentRef(ctx, rule.ID)
		if err != nil {
			return err
		}

		counter, _, err := r.counters.InTx(tx, counterRef)
		if err != nil {
			return err
		}
		if _, exists, err := r.rules.InTx(tx, ruleRef); err != nil {
			return err
		} else if exists {
			return status.Errorf(codes.AlreadyExists, "rule %s already exists", rule.ID)
		}

		next := counter.Data
		if doc.Sequence == 0 {
			next.CurrentValue++
			doc.Sequence = next.CurrentValue
		} else if doc.Sequence > next.CurrentValue {
			next.CurrentValue = doc.Sequence
		}
		next.UpdatedAt = doc.UpdatedAt

		if err := tx.Set(counterRef, next); err != nil {
			return err
		}
		return tx.Create(ruleRef, doc)
	}, pfirestore.WithTxOp("promotions.insert"))
	if err != nil {
		return domain.PromotionRule{}, err
	}
	rule.Sequence = doc.Sequence
	return rule, nil
}

// Update replaces a live rule, keeping its Sequence and CreatedAt.
func (r *PromotionRuleRepository) Update(ctx context.Context, rule domain.PromotionRule) (domain.PromotionRule, error) {
	doc, err := encodePromotionRule(rule)
	if err != nil {
		return domain.PromotionRule{}, err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.rules.DocumentRef(ctx, rule.ID)
		if err != nil {
			return err
		}
		existing, found, err := r.rules.InTx(tx, ref)
		if err != nil {
			return err
		}
		if !found || existing.Data.Deleted {
			return status.Errorf(codes.NotFound, "rule %s", rule.ID)
		}
		doc.Sequence = existing.Data.Sequence
		doc.CreatedAt = existing.Data.CreatedAt
		return tx.Set(ref, doc)
	}, pfirestore.WithTxOp("promotions.update"))
	if err != nil {
		return domain.PromotionRule{}, err
	}
	return decodePromotionRule(rule.ID, doc)
}

// SoftDelete marks a live rule deleted and inactive.
func (r *PromotionRuleRepository) SoftDelete(ctx context.Context, ruleID string, deletedAt time.Time) error {
	deletedAt = deletedAt.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.rules.DocumentRef(ctx, ruleID)
		if err != nil {
			return err
		}
		existing, found, err := r.rules.InTx(tx, ref)
		if err != nil {
			return err
		}
		if !found || existing.Data.Deleted {
			return status.Errorf(codes.NotFound, "rule %s", ruleID)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "deleted", Value: true},
			{Path: "active", Value: false},
			{Path: "deletedAt", Value: deletedAt},
			{Path: "updatedAt", Value: deletedAt},
		})
	}, pfirestore.WithTxOp("promotions.delete"))
	return err
}

// FindByID returns the rule, including soft-deleted ones.
func (r *PromotionRuleRepository) FindByID(ctx context.Context, ruleID string) (domain.PromotionRule, error) {
	doc, err := r.rules.Get(ctx, ruleID)
	if err != nil {
		return domain.PromotionRule{}, err
	}
	return decodePromotionRule(doc.ID, doc.Data)
}

// ListActive returns live rules ordered by Sequence.
func (r *PromotionRuleRepository) ListActive(ctx context.Context) ([]domain.PromotionRule, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("active", "==", true).Where("deleted", "==", false)
	})
}

// List returns all non-deleted rules ordered by Sequence.
func (r *PromotionRuleRepository) List(ctx context.Context) ([]domain.PromotionRule, error) {
	return r.list(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("deleted", "==", false)
	})
}

func (r *PromotionRuleRepository) list(ctx context.Context, build pfirestore.QueryBuilder) ([]domain.PromotionRule, error) {
	docs, err := r.rules.Query(ctx, build)
	if err != nil {
		return nil, err
	}
	rules := make([]domain.PromotionRule, 0, len(docs))
	for _, doc := range docs {
		rule, err := decodePromotionRule(doc.ID, doc.Data)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	// Sorted here rather than with OrderBy to avoid a composite index on (deleted, sequence).
	sort.Slice(rules, func(i, j int) bool { return rules[i].Sequence < rules[j].Sequence })
	return rules, nil
}

func encodePromotionRule(rule domain.PromotionRule) (promotionRuleDocument, error) {
	if rule.Variant == nil {
		return promotionRuleDocument{}, fmt.Errorf("promotion rule %s: variant is required", rule.ID)
	}
	doc := promotionRuleDocument{
		Name:          rule.Name,
		Kind:          string(rule.Variant.Kind()),
		ProductIDs:    append([]string{}, rule.ProductIDs...),
		StartDate:     rule.StartDate.String(),
		EndDate:       rule.EndDate.String(),
		Weekdays:      int(rule.Weekdays),
		PaymentMethod: rule.PaymentMethod,
		Active:        rule.Active,
		Deleted:       rule.DeletedAt != nil,
		Sequence:      rule.Sequence,
		CreatedAt:     rule.CreatedAt.UTC(),
		UpdatedAt:     rule.UpdatedAt.UTC(),
	}
	if rule.DeletedAt != nil {
		deleted := rule.DeletedAt.UTC()
		doc.DeletedAt = &deleted
	}
	switch v := rule.Variant.(type) {
	case domain.NxMVariant:
		doc.Buy, doc.Pay = v.Buy, v.Pay
	case domain.PercentageVariant:
		doc.Percent = v.Percent.String()
	case domain.FixedPriceVariant:
		doc.FixedPrice = v.Price
	default:
		return promotionRuleDocument{}, fmt.Errorf("promotion rule %s: unsupported variant %T", rule.ID, rule.Variant)
	}
	return doc, nil
}

func decodePromotionRule(id string, doc promotionRuleDocument) (domain.PromotionRule, error) {
	rule := domain.PromotionRule{
		ID:            id,
		Name:          doc.Name,
		ProductIDs:    append([]string(nil), doc.ProductIDs...),
		Weekdays:      domain.Weekdays(doc.Weekdays),
		PaymentMethod: doc.PaymentMethod,
		Active:        doc.Active,
		Sequence:      doc.Sequence,
		CreatedAt:     doc.CreatedAt.UTC(),
		UpdatedAt:     doc.UpdatedAt.UTC(),
	}
	if doc.DeletedAt != nil {
		deleted := doc.DeletedAt.UTC()
		rule.DeletedAt = &deleted
	}

	var err error
	if rule.StartDate, err = domain.ParseDate(doc.StartDate); err != nil {
		return domain.PromotionRule{}, fmt.Errorf("promotion rule %s: start date: %w", id, err)
	}
	if rule.EndDate, err = domain.ParseDate(doc.EndDate); err != nil {
		return domain.PromotionRule{}, fmt.Errorf("promotion rule %s: end date: %w", id, err)
	}

	switch domain.PromotionVariantKind(doc.Kind) {
	case domain.PromotionKindNxM:
		rule.Variant = domain.NxMVariant{Buy: doc.Buy, Pay: doc.Pay}
	case domain.PromotionKindPercentage:
		percent, err := decimal.NewFromString(doc.Percent)
		if err != nil {
			return domain.PromotionRule{}, fmt.Errorf("promotion rule %s: percent: %w", id, err)
		}
		rule.Variant = domain.PercentageVariant{Percent: percent}
	case domain.PromotionKindFixedPrice:
		rule.Variant = domain.FixedPriceVariant{Price: doc.FixedPrice}
	default:
		return domain.PromotionRule{}, fmt.Errorf("promotion rule %s: unknown kind %q", id, doc.Kind)
	}
	return rule, nil
}

// Package firestore implements the repository contracts on Cloud Firestore.
package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/hanko-field/till/internal/platform/firestore"
	"github.com/hanko-field/till/internal/repositories"
)

// Registry exposes Firestore-backed repositories sharing one provider.
type Registry struct {
	provider   *pfirestore.Provider
	promotions *PromotionRuleRepository
	shifts     *CashShiftRepository
	registers  *CashRegisterRepository
	methods    *PaymentMethodRepository
	catalog    *CatalogRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository against the provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	promotions, err := NewPromotionRuleRepository(provider)
	if err != nil {
		return nil, err
	}
	shifts, err := NewCashShiftRepository(provider)
	if err != nil {
		return nil, err
	}
	registers, err := NewCashRegisterRepository(provider)
	if err != nil {
		return nil, err
	}
	methods, err := NewPaymentMethodRepository(provider)
	if err != nil {
		return nil, err
	}
	catalog, err := NewCatalogRepository(provider)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: provider.Ping},
	})
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:   provider,
		promotions: promotions,
		shifts:     shifts,
		registers:  registers,
		methods:    methods,
		catalog:    catalog,
		health:     health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Promotions() repositories.PromotionRuleRepository     { return r.promotions }
func (r *Registry) CashShifts() repositories.CashShiftRepository         { return r.shifts }
func (r *Registry) CashRegisters() repositories.CashRegisterRepository   { return r.registers }
func (r *Registry) PaymentMethods() repositories.PaymentMethodRepository { return r.methods }
func (r *Registry) Catalog() repositories.CatalogRepository              { return r.catalog }
func (r *Registry) Health() repositories.HealthRepository                { return r.health }

// Package memory provides mutex-guarded repositories for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/repositories"
)

// Error implements repositories.RepositoryError.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.op, e.msg)
}

// IsNotFound implements repositories.RepositoryError.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict implements repositories.RepositoryError.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable implements repositories.RepositoryError.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}

// Store holds every collection behind a single mutex, so each call is atomic.
type Store struct {
	mu        sync.Mutex
	rules     map[string]domain.PromotionRule
	ruleSeq   int64
	shifts    map[string]domain.CashShift
	movements map[string][]domain.CashMovement
	registers map[string]domain.CashRegister
	occupied  map[string]string
	methods   map[string]domain.PaymentMethod
	products  map[string]domain.Product
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		rules:     make(map[string]domain.PromotionRule),
		shifts:    make(map[string]domain.CashShift),
		movements: make(map[string][]domain.CashMovement),
		registers: make(map[string]domain.CashRegister),
		occupied:  make(map[string]string),
		methods:   make(map[string]domain.PaymentMethod),
		products:  make(map[string]domain.Product),
	}
}

// PutRegister seeds or replaces a register.
func (s *Store) PutRegister(register domain.CashRegister) {
	s.mu.Lock()
	defer s.mu.Unlock()
	register.OpenShiftID = ""
	s.registers[register.ID] = register
}

// PutPaymentMethod seeds or replaces a payment method.
func (s *Store) PutPaymentMethod(method domain.PaymentMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method.Code] = method
}

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
}

func (s *Store) Close(context.Context) error { return nil }

func (s *Store) Promotions() repositories.PromotionRuleRepository { return promotionRepo{s} }
func (s *Store) CashShifts() repositories.CashShiftRepository     { return shiftRepo{s} }
func (s *Store) CashRegisters() repositories.CashRegisterRepository {
	return registerRepo{s}
}
func (s *Store) PaymentMethods() repositories.PaymentMethodRepository { return methodRepo{s} }
func (s *Store) Catalog() repositories.CatalogRepository              { return catalogRepo{s} }

// Health reports the in-memory store as always reachable.
func (s *Store) Health() repositories.HealthRepository {
	repo, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{{
		Name:  "memory",
		Check: func(context.Context) error { return nil },
	}})
	return repo
}

type promotionRepo struct{ s *Store }

func (r promotionRepo) Insert(_ context.Context, rule domain.PromotionRule) (domain.PromotionRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.rules[rule.ID]; ok {
		return domain.PromotionRule{}, conflict("promotions.insert", "rule %s already exists", rule.ID)
	}
	if rule.Sequence == 0 {
		r.s.ruleSeq++
		rule.Sequence = r.s.ruleSeq
	} else if rule.Sequence > r.s.ruleSeq {
		r.s.ruleSeq = rule.Sequence
	}
	r.s.rules[rule.ID] = rule
	return rule, nil
}

func (r promotionRepo) Update(_ context.Context, rule domain.PromotionRule) (domain.PromotionRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.rules[rule.ID]
	if !ok || existing.DeletedAt != nil {
		return domain.PromotionRule{}, notFound("promotions.update", "rule %s", rule.ID)
	}
	rule.Sequence = existing.Sequence
	rule.CreatedAt = existing.CreatedAt
	r.s.rules[rule.ID] = rule
	return rule, nil
}

func (r promotionRepo) SoftDelete(_ context.Context, ruleID string, deletedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[ruleID]
	if !ok || rule.DeletedAt != nil {
		return notFound("promotions.delete", "rule %s", ruleID)
	}
	rule.DeletedAt = &deletedAt
	rule.Active = false
	rule.UpdatedAt = deletedAt
	r.s.rules[ruleID] = rule
	return nil
}

func (r promotionRepo) FindByID(_ context.Context, ruleID string) (domain.PromotionRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rule, ok := r.s.rules[ruleID]
	if !ok {
		return domain.PromotionRule{}, notFound("promotions.get", "rule %s", ruleID)
	}
	return rule, nil
}

func (r promotionRepo) ListActive(ctx context.Context) ([]domain.PromotionRule, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, rule := range all {
		if rule.Live() {
			active = append(active, rule)
		}
	}
	return active, nil
}

func (r promotionRepo) List(context.Context) ([]domain.PromotionRule, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.PromotionRule, 0, len(r.s.rules))
	for _, rule := range r.s.rules {
		if rule.DeletedAt == nil {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

type shiftRepo struct{ s *Store }

func (r shiftRepo) OpenShift(_ context.Context, shift domain.CashShift, opening domain.CashMovement) (domain.CashShift, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if holder := r.s.occupied[shift.RegisterID]; holder != "" {
		return domain.CashShift{}, repositories.NewCashLedgerError(repositories.CashLedgerRegisterOccupied,
			fmt.Sprintf("register %s has open shift %s", shift.RegisterID, holder), nil)
	}
	if _, ok := r.s.shifts[shift.ID]; ok {
		return domain.CashShift{}, conflict("cashShifts.open", "shift %s already exists", shift.ID)
	}

	r.s.occupied[shift.RegisterID] = shift.ID
	r.s.shifts[shift.ID] = shift
	r.s.movements[shift.ID] = []domain.CashMovement{opening}
	return shift, nil
}

func (r shiftRepo) AppendMovements(_ context.Context, shiftID string, build repositories.MovementBuilder) (domain.CashShift, []domain.CashMovement, error) {
	if build == nil {
		return domain.CashShift{}, nil, errors.New("cashShifts.append: builder is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, err := r.openShift(shiftID)
	if err != nil {
		return domain.CashShift{}, nil, err
	}
	next, movements, err := build(current)
	if err != nil {
		return domain.CashShift{}, nil, err
	}
	r.s.shifts[shiftID] = next
	r.s.movements[shiftID] = append(r.s.movements[shiftID], movements...)
	return next, append([]domain.CashMovement(nil), movements...), nil
}

func (r shiftRepo) CloseShift(_ context.Context, shiftID string, build repositories.CloseBuilder) (domain.CashShift, domain.CashMovement, error) {
	if build == nil {
		return domain.CashShift{}, domain.CashMovement{}, errors.New("cashShifts.close: builder is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, err := r.openShift(shiftID)
	if err != nil {
		return domain.CashShift{}, domain.CashMovement{}, err
	}
	ledger := append([]domain.CashMovement(nil), r.s.movements[shiftID]...)
	closed, closing, err := build(current, ledger)
	if err != nil {
		return domain.CashShift{}, domain.CashMovement{}, err
	}
	if !closed.Status.Terminal() {
		return domain.CashShift{}, domain.CashMovement{}, fmt.Errorf("cashShifts.close: builder returned status %s", closed.Status)
	}

	r.s.shifts[shiftID] = closed
	r.s.movements[shiftID] = append(r.s.movements[shiftID], closing)
	if r.s.occupied[closed.RegisterID] == shiftID {
		delete(r.s.occupied, closed.RegisterID)
	}
	return closed, closing, nil
}

func (r shiftRepo) GetShift(_ context.Context, shiftID string) (domain.CashShift, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	shift, ok := r.s.shifts[shiftID]
	if !ok {
		return domain.CashShift{}, repositories.NewCashLedgerError(repositories.CashLedgerShiftNotFound, "shift "+shiftID+" not found", nil)
	}
	return shift, nil
}

func (r shiftRepo) FindOpenShift(_ context.Context, registerID string) (domain.CashShift, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	shiftID, ok := r.s.occupied[registerID]
	if !ok {
		return domain.CashShift{}, notFound("cashShifts.findOpen", "no open shift for register %s", registerID)
	}
	return r.s.shifts[shiftID], nil
}

func (r shiftRepo) ListMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.shifts[shiftID]; !ok {
		return nil, repositories.NewCashLedgerError(repositories.CashLedgerShiftNotFound, "shift "+shiftID+" not found", nil)
	}
	return append([]domain.CashMovement(nil), r.s.movements[shiftID]...), nil
}

// openShift must be called with the lock held.
func (r shiftRepo) openShift(shiftID string) (domain.CashShift, error) {
	shift, ok := r.s.shifts[shiftID]
	if !ok {
		return domain.CashShift{}, repositories.NewCashLedgerError(repositories.CashLedgerShiftNotFound, "shift "+shiftID+" not found", nil)
	}
	if shift.Status != domain.ShiftStatusOpen {
		return domain.CashShift{}, repositories.NewCashLedgerError(repositories.CashLedgerShiftNotOpen,
			fmt.Sprintf("shift %s is %s", shiftID, shift.Status), nil)
	}
	return shift, nil
}

type registerRepo struct{ s *Store }

func (r registerRepo) FindByID(_ context.Context, registerID string) (domain.CashRegister, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	register, ok := r.s.registers[registerID]
	if !ok {
		return domain.CashRegister{}, repositories.NewCashLedgerError(repositories.CashLedgerRegisterNotFound, "register "+registerID+" not found", nil)
	}
	register.OpenShiftID = r.s.occupied[registerID]
	return register, nil
}

func (r registerRepo) List(context.Context) ([]domain.CashRegister, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.CashRegister, 0, len(r.s.registers))
	for id, register := range r.s.registers {
		register.OpenShiftID = r.s.occupied[id]
		out = append(out, register)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type methodRepo struct{ s *Store }

func (r methodRepo) FindByCode(_ context.Context, code string) (domain.PaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	method, ok := r.s.methods[code]
	if !ok {
		return domain.PaymentMethod{}, notFound("paymentMethods.get", "payment method %s", code)
	}
	return method, nil
}

func (r methodRepo) List(context.Context) ([]domain.PaymentMethod, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.PaymentMethod, 0, len(r.s.methods))
	for _, method := range r.s.methods {
		out = append(out, method)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type catalogRepo struct{ s *Store }

func (r catalogRepo) FindProduct(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, notFound("catalog.get", "product %s", productID)
	}
	return product, nil
}

package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/till/internal/domain"
	pfirestore "github.com/hanko-field/till/internal/platform/firestore"
	"github.com/hanko-field/till/internal/repositories"
)

const (
	paymentMethodsCollection = "paymentMethods"
	productsCollection       = "products"
)

// CashRegisterRepository reads register metadata from cashRegisters/{id}.
type CashRegisterRepository struct {
	registers *pfirestore.Collection[cashRegisterDocument]
}

var _ repositories.CashRegisterRepository = (*CashRegisterRepository)(nil)

// NewCashRegisterRepository constructs a Firestore-backed register repository.
func NewCashRegisterRepository(provider *pfirestore.Provider) (*CashRegisterRepository, error) {
	if provider == nil {
		return nil, errors.New("cash register repository requires firestore provider")
	}
	return &CashRegisterRepository{
		registers: pfirestore.NewCollection[cashRegisterDocument](provider, cashRegistersCollection),
	}, nil
}

func (r *CashRegisterRepository) FindByID(ctx context.Context, registerID string) (domain.CashRegister, error) {
	doc, err := r.registers.Get(ctx, registerID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.CashRegister{}, registerNotFound(registerID)
		}
		return domain.CashRegister{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CashRegisterRepository) List(ctx context.Context) ([]domain.CashRegister, error) {
	docs, err := r.registers.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CashRegister, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}

type paymentMethodDocument struct {
	Name             string `firestore:"name"`
	AffectsCash      bool   `firestore:"affectsCash"`
	SurchargePercent string `firestore:"surchargePercent,omitempty"`
	DiscountPercent  string `firestore:"discountPercent,omitempty"`
	Active           bool   `firestore:"active"`
}

func (d paymentMethodDocument) toDomain(code string) (domain.PaymentMethod, error) {
	surcharge, err := parsePercent(d.SurchargePercent)
	if err != nil {
		return domain.PaymentMethod{}, fmt.Errorf("payment method %s: surcharge: %w", code, err)
	}
	discount, err := parsePercent(d.DiscountPercent)
	if err != nil {
		return domain.PaymentMethod{}, fmt.Errorf("payment method %s: discount: %w", code, err)
	}
	return domain.PaymentMethod{
		Code:             code,
		Name:             d.Name,
		AffectsCash:      d.AffectsCash,
		SurchargePercent: surcharge,
		DiscountPercent:  discount,
		Active:           d.Active,
	}, nil
}

// PaymentMethodRepository is the payment method registry stored under paymentMethods/{code}.
type PaymentMethodRepository struct {
	methods *pfirestore.Collection[paymentMethodDocument]
}

var _ repositories.PaymentMethodRepository = (*PaymentMethodRepository)(nil)

// NewPaymentMethodRepository constructs a Firestore-backed payment method registry.
func NewPaymentMethodRepository(provider *pfirestore.Provider) (*PaymentMethodRepository, error) {
	if provider == nil {
		return nil, errors.New("payment method repository requires firestore provider")
	}
	return &PaymentMethodRepository{
		methods: pfirestore.NewCollection[paymentMethodDocument](provider, paymentMethodsCollection),
	}, nil
}

func (r *PaymentMethodRepository) FindByCode(ctx context.Context, code string) (domain.PaymentMethod, error) {
	doc, err := r.methods.Get(ctx, code)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *PaymentMethodRepository) List(ctx context.Context) ([]domain.PaymentMethod, error) {
	docs, err := r.methods.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy(firestore.DocumentID, firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.PaymentMethod, 0, len(docs))
	for _, doc := range docs {
		method, err := doc.Data.toDomain(doc.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, method)
	}
	return out, nil
}

type productDocument struct {
	Name      string `firestore:"name"`
	UnitPrice int64  `firestore:"unitPrice"`
	TaxRate   string `firestore:"taxRate,omitempty"`
	Active    bool   `firestore:"active"`
}

// CatalogRepository resolves products from products/{id}.
type CatalogRepository struct {
	products *pfirestore.Collection[productDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	taxRate, err := parsePercent(doc.Data.TaxRate)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: tax rate: %w", productID, err)
	}
	return domain.Product{
		ID:        doc.ID,
		Name:      doc.Data.Name,
		UnitPrice: doc.Data.UnitPrice,
		TaxRate:   taxRate,
		Active:    doc.Data.Active,
	}, nil
}

func parsePercent(value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(value)
}

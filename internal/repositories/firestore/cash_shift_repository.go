package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/hanko-field/till/internal/domain"
	pfirestore "github.com/hanko-field/till/internal/platform/firestore"
	"github.com/hanko-field/till/internal/repositories"
)

const (
	cashRegistersCollection = "cashRegisters"
	cashShiftsCollection    = "cashShifts"
	movementsSubcollection  = "movements"
)

type cashRegisterDocument struct {
	Code        string    `firestore:"code"`
	Name        string    `firestore:"name"`
	Active      bool      `firestore:"active"`
	OpenShiftID string    `firestore:"openShiftId"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (d cashRegisterDocument) toDomain(id string) domain.CashRegister {
	return domain.CashRegister{
		ID:          id,
		Code:        d.Code,
		Name:        d.Name,
		Active:      d.Active,
		OpenShiftID: d.OpenShiftID,
	}
}

type cashShiftDocument struct {
	RegisterID     string     `firestore:"registerId"`
	OpenedBy       string     `firestore:"openedBy"`
	Status         string     `firestore:"status"`
	OpeningCash    int64      `firestore:"openingCash"`
	ExpectedCash   int64      `firestore:"expectedCash"`
	CountedCash    *int64     `firestore:"countedCash,omitempty"`
	CashDifference *int64     `firestore:"cashDifference,omitempty"`
	RunningBalance int64      `firestore:"runningBalance"`
	MovementCount  int        `firestore:"movementCount"`
	Notes          string     `firestore:"notes,omitempty"`
	OpenedAt       time.Time  `firestore:"openedAt"`
	ClosedAt       *time.Time `firestore:"closedAt,omitempty"`
	ClosedBy       string     `firestore:"closedBy,omitempty"`
	UpdatedAt      time.Time  `firestore:"updatedAt"`
}

func newCashShiftDocument(shift domain.CashShift) cashShiftDocument {
	doc := cashShiftDocument{
		RegisterID:     shift.RegisterID,
		OpenedBy:       shift.OpenedBy,
		Status:         string(shift.Status),
		OpeningCash:    shift.OpeningCash,
		ExpectedCash:   shift.ExpectedCash,
		CountedCash:    shift.CountedCash,
		CashDifference: shift.CashDifference,
		RunningBalance: shift.RunningBalance,
		MovementCount:  shift.MovementCount,
		Notes:          shift.Notes,
		OpenedAt:       shift.OpenedAt.UTC(),
		ClosedBy:       shift.ClosedBy,
		UpdatedAt:      shift.UpdatedAt.UTC(),
	}
	if shift.ClosedAt != nil {
		closed := shift.ClosedAt.UTC()
		doc.ClosedAt = &closed
	}
	return doc
}

func (d cashShiftDocument) toDomain(id string) domain.CashShift {
	shift := domain.CashShift{
		ID:             id,
		RegisterID:     d.RegisterID,
		OpenedBy:       d.OpenedBy,
		Status:         domain.ShiftStatus(d.Status),
		OpeningCash:    d.OpeningCash,
		ExpectedCash:   d.ExpectedCash,
		CountedCash:    d.CountedCash,
		CashDifference: d.CashDifference,
		RunningBalance: d.RunningBalance,
		MovementCount:  d.MovementCount,
		Notes:          d.Notes,
		OpenedAt:       d.OpenedAt.UTC(),
		ClosedBy:       d.ClosedBy,
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if d.ClosedAt != nil {
		closed := d.ClosedAt.UTC()
		shift.ClosedAt = &closed
	}
	return shift
}

type cashMovementDocument struct {
	ID             string    `firestore:"id"`
	Sequence       int       `firestore:"sequence"`
	Type           string    `firestore:"type"`
	Reason         string    `firestore:"reason"`
	Amount         int64     `firestore:"amount"`
	RunningBalance int64     `firestore:"runningBalance"`
	SaleID         string    `firestore:"saleId,omitempty"`
	PaymentMethod  string    `firestore:"paymentMethod,omitempty"`
	Description    string    `firestore:"description,omitempty"`
	RecordedBy     string    `firestore:"recordedBy,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

func newCashMovementDocument(m domain.CashMovement) cashMovementDocument {
	return cashMovementDocument{
		ID:             m.ID,
		Sequence:       m.Sequence,
		Type:           string(m.Type),
		Reason:         string(m.Reason),
		Amount:         m.Amount,
		RunningBalance: m.RunningBalance,
		SaleID:         m.SaleID,
		PaymentMethod:  m.PaymentMethod,
		Description:    m.Description,
		RecordedBy:     m.RecordedBy,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func (d cashMovementDocument) toDomain(shiftID string) domain.CashMovement {
	return domain.CashMovement{
		ID:             d.ID,
		ShiftID:        shiftID,
		Sequence:       d.Sequence,
		Type:           domain.MovementType(d.Type),
		Reason:         domain.MovementReason(d.Reason),
		Amount:         d.Amount,
		RunningBalance: d.RunningBalance,
		SaleID:         d.SaleID,
		PaymentMethod:  d.PaymentMethod,
		Description:    d.Description,
		RecordedBy:     d.RecordedBy,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

// movementDocID zero-pads the ledger sequence so document IDs sort in posting order and a
// duplicate sequence fails the Create.
func movementDocID(sequence int) string {
	return fmt.Sprintf("%08d", sequence)
}

// CashShiftRepository stores shifts in cashShifts/{id} with their ledger in a movements
// subcollection. The register document's openShiftId field is the one-open-shift lock.
type CashShiftRepository struct {
	provider  *pfirestore.Provider
	registers *pfirestore.Collection[cashRegisterDocument]
	shifts    *pfirestore.Collection[cashShiftDocument]
}

var _ repositories.CashShiftRepository = (*CashShiftRepository)(nil)

// NewCashShiftRepository constructs a Firestore-backed shift ledger repository.
func NewCashShiftRepository(provider *pfirestore.Provider) (*CashShiftRepository, error) {
	if provider == nil {
		return nil, errors.New("cash shift repository requires firestore provider")
	}
	return &CashShiftRepository{
		provider:  provider,
		registers: pfirestore.NewCollection[cashRegisterDocument](provider, cashRegistersCollection),
		shifts:    pfirestore.NewCollection[cashShiftDocument](provider, cashShiftsCollection),
	}, nil
}

// OpenShift claims the register and stores the shift with its OPENING movement in one transaction.
func (r *CashShiftRepository) OpenShift(ctx context.Context, shift domain.CashShift, opening domain.CashMovement) (domain.CashShift, error) {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		registerRef, err := r.registers.DocumentRef(ctx, shift.RegisterID)
		if err != nil {
			return err
		}
		shiftRef, err := r.shifts.DocumentRef(ctx, shift.ID)
		if err != nil {
			return err
		}

		register, found, err := r.registers.InTx(tx, registerRef)
		if err != nil {
			return err
		}
		if !found {
			return registerNotFound(shift.RegisterID)
		}
		if holder := register.Data.OpenShiftID; holder != "" {
			return repositories.NewCashLedgerError(repositories.CashLedgerRegisterOccupied,
				fmt.Sprintf("register %s has open shift %s", shift.RegisterID, holder), nil)
		}
		if _, exists, err := r.shifts.InTx(tx, shiftRef); err != nil {
			return err
		} else if exists {
			return status.Errorf(codes.AlreadyExists, "shift %s already exists", shift.ID)
		}

		if err := tx.Update(registerRef, []firestore.Update{
			{Path: "openShiftId", Value: shift.ID},
			{Path: "updatedAt", Value: shift.OpenedAt.UTC()},
		}); err != nil {
			return err
		}
		if err := tx.Create(shiftRef, newCashShiftDocument(shift)); err != nil {
			return err
		}
		return tx.Create(shiftRef.Collection(movementsSubcollection).Doc(movementDocID(opening.Sequence)), newCashMovementDocument(opening))
	}, pfirestore.WithTxOp("cashShifts.open"))
	if err != nil {
		return domain.CashShift{}, err
	}
	return shift, nil
}

// AppendMovements runs build against the current OPEN shift and writes its result atomically.
func (r *CashShiftRepository) AppendMovements(ctx context.Context, shiftID string, build repositories.MovementBuilder) (domain.CashShift, []domain.CashMovement, error) {
	if build == nil {
		return domain.CashShift{}, nil, errors.New("cashShifts.append: builder is required")
	}

	var (
		next      domain.CashShift
		movements []domain.CashMovement
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		shiftRef, current, err := r.openShiftInTx(ctx, tx, shiftID)
		if err != nil {
			return err
		}
		next, movements, err = build(current)
		if err != nil {
			return err
		}
		if err := tx.Set(shiftRef, newCashShiftDocument(next)); err != nil {
			return err
		}
		ledger := shiftRef.Collection(movementsSubcollection)
		for _, m := range movements {
			if err := tx.Create(ledger.Doc(movementDocID(m.Sequence)), newCashMovementDocument(m)); err != nil {
				return err
			}
		}
		return nil
	}, pfirestore.WithTxOp("cashShifts.append"))
	if err != nil {
		return domain.CashShift{}, nil, err
	}
	return next, movements, nil
}

// CloseShift reads the full ledger, writes the closed shift with its CLOSING movement and
// releases the register lock.
func (r *CashShiftRepository) CloseShift(ctx context.Context, shiftID string, build repositories.CloseBuilder) (domain.CashShift, domain.CashMovement, error) {
	if build == nil {
		return domain.CashShift{}, domain.CashMovement{}, errors.New("cashShifts.close: builder is required")
	}

	var (
		closed  domain.CashShift
		closing domain.CashMovement
	)
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		shiftRef, current, err := r.openShiftInTx(ctx, tx, shiftID)
		if err != nil {
			return err
		}
		ledger, err := r.movementsInTx(tx, shiftRef, shiftID)
		if err != nil {
			return err
		}
		registerRef, err := r.registers.DocumentRef(ctx, current.RegisterID)
		if err != nil {
			return err
		}
		register, registerFound, err := r.registers.InTx(tx, registerRef)
		if err != nil {
			return err
		}

		closed, closing, err = build(current, ledger)
		if err != nil {
			return err
		}
		if !closed.Status.Terminal() {
			return fmt.Errorf("cashShifts.close: builder returned status %s", closed.Status)
		}

		if err := tx.Set(shiftRef, newCashShiftDocument(closed)); err != nil {
			return err
		}
		if err := tx.Create(shiftRef.Collection(movementsSubcollection).Doc(movementDocID(closing.Sequence)), newCashMovementDocument(closing)); err != nil {
			return err
		}
		if registerFound && register.Data.OpenShiftID == shiftID {
			return tx.Update(registerRef, []firestore.Update{
				{Path: "openShiftId", Value: ""},
				{Path: "updatedAt", Value: closed.UpdatedAt.UTC()},
			})
		}
		return nil
	}, pfirestore.WithTxOp("cashShifts.close"))
	if err != nil {
		return domain.CashShift{}, domain.CashMovement{}, err
	}
	return closed, closing, nil
}

// GetShift loads a shift in any status.
func (r *CashShiftRepository) GetShift(ctx context.Context, shiftID string) (domain.CashShift, error) {
	doc, err := r.shifts.Get(ctx, shiftID)
	if err != nil {
		if pfirestore.IsNotFound(err) {
			return domain.CashShift{}, shiftNotFound(shiftID)
		}
		return domain.CashShift{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindOpenShift follows the register lock to the OPEN shift inside one read-only snapshot.
func (r *CashShiftRepository) FindOpenShift(ctx context.Context, registerID string) (domain.CashShift, error) {
	var shift domain.CashShift
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		registerRef, err := r.registers.DocumentRef(ctx, registerID)
		if err != nil {
			return err
		}
		register, found, err := r.registers.InTx(tx, registerRef)
		if err != nil {
			return err
		}
		if !found {
			return status.Errorf(codes.NotFound, "register %s", registerID)
		}
		shiftID := strings.TrimSpace(register.Data.OpenShiftID)
		if shiftID == "" {
			return status.Errorf(codes.NotFound, "no open shift for register %s", registerID)
		}
		shiftRef, err := r.shifts.DocumentRef(ctx, shiftID)
		if err != nil {
			return err
		}
		doc, found, err := r.shifts.InTx(tx, shiftRef)
		if err != nil {
			return err
		}
		if !found {
			return shiftNotFound(shiftID)
		}
		shift = doc.Data.toDomain(doc.ID)
		return nil
	}, pfirestore.WithTxOp("cashShifts.findOpen"), pfirestore.ReadOnlyTx())
	if err != nil {
		return domain.CashShift{}, err
	}
	return shift, nil
}

// ListMovements returns the shift ledger in posting order.
func (r *CashShiftRepository) ListMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	shiftRef, err := r.shifts.DocumentRef(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	if _, err := shiftRef.Get(ctx); err != nil {
		if pfirestore.IsNotFound(err) {
			return nil, shiftNotFound(shiftID)
		}
		return nil, pfirestore.WrapError("cashShifts.movements", err)
	}

	docs, err := r.ledger(shiftID).Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("sequence", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CashMovement, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(shiftID))
	}
	return out, nil
}

func (r *CashShiftRepository) openShiftInTx(ctx context.Context, tx *firestore.Transaction, shiftID string) (*firestore.DocumentRef, domain.CashShift, error) {
	ref, err := r.shifts.DocumentRef(ctx, shiftID)
	if err != nil {
		return nil, domain.CashShift{}, err
	}
	doc, found, err := r.shifts.InTx(tx, ref)
	if err != nil {
		return nil, domain.CashShift{}, err
	}
	if !found {
		return nil, domain.CashShift{}, shiftNotFound(shiftID)
	}
	shift := doc.Data.toDomain(shiftID)
	if shift.Status != domain.ShiftStatusOpen {
		return nil, domain.CashShift{}, repositories.NewCashLedgerError(repositories.CashLedgerShiftNotOpen,
			fmt.Sprintf("shift %s is %s", shiftID, shift.Status), nil)
	}
	return ref, shift, nil
}

func (r *CashShiftRepository) movementsInTx(tx *firestore.Transaction, shiftRef *firestore.DocumentRef, shiftID string) ([]domain.CashMovement, error) {
	query := shiftRef.Collection(movementsSubcollection).OrderBy("sequence", firestore.Asc)
	docs, err := r.ledger(shiftID).QueryTx(tx, query)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CashMovement, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(shiftID))
	}
	return out, nil
}

func (r *CashShiftRepository) ledger(shiftID string) *pfirestore.Collection[cashMovementDocument] {
	return pfirestore.NewCollection[cashMovementDocument](r.provider, cashShiftsCollection+"/"+shiftID+"/"+movementsSubcollection)
}

func shiftNotFound(shiftID string) error {
	return repositories.NewCashLedgerError(repositories.CashLedgerShiftNotFound, "shift "+shiftID+" not found", nil)
}

func registerNotFound(registerID string) error {
	return repositories.NewCashLedgerError(repositories.CashLedgerRegisterNotFound, "register "+registerID+" not found", nil)
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CashRegister is a physical till. Occupied is derived from an OPEN shift referencing it.
type CashRegister struct {
	ID          string
	Code        string
	Name        string
	Active      bool
	OpenShiftID string
}

// Occupied reports whether an OPEN shift holds the register.
func (r CashRegister) Occupied() bool {
	return r.OpenShiftID != ""
}

// ShiftStatus enumerates cash shift lifecycle states.
type ShiftStatus string

const (
	// ShiftStatusOpen accepts movements.
	ShiftStatusOpen ShiftStatus = "OPEN"
	// ShiftStatusClosed is terminal and reconciled.
	ShiftStatusClosed ShiftStatus = "CLOSED"
	// ShiftStatusPendingReview is terminal and flagged for supervisor review.
	ShiftStatusPendingReview ShiftStatus = "PENDING_REVIEW"
)

// Terminal reports whether no further movements may be recorded.
func (s ShiftStatus) Terminal() bool {
	return s == ShiftStatusClosed || s == ShiftStatusPendingReview
}

// CashShift tracks the cash position of a register across a work shift.
type CashShift struct {
	ID             string
	RegisterID     string
	OpenedBy       string
	Status         ShiftStatus
	OpeningCash    int64
	ExpectedCash   int64
	CountedCash    *int64
	CashDifference *int64
	RunningBalance int64
	MovementCount  int
	Notes          string
	OpenedAt       time.Time
	ClosedAt       *time.Time
	ClosedBy       string
	UpdatedAt      time.Time
}

// Post assigns the movement its sequence and running balance and returns the advanced shift.
func (s CashShift) Post(m CashMovement) (CashShift, CashMovement) {
	m.ShiftID = s.ID
	m.Sequence = s.MovementCount + 1
	m.RunningBalance = s.RunningBalance + m.Signed()
	s.MovementCount = m.Sequence
	s.RunningBalance = m.RunningBalance
	if m.Reason != MovementReasonClosing {
		s.ExpectedCash = m.RunningBalance
	}
	if !m.CreatedAt.IsZero() {
		s.UpdatedAt = m.CreatedAt
	}
	return s, m
}

// LedgerBalance sums the signed amounts of movements.
func LedgerBalance(movements []CashMovement) int64 {
	var total int64
	for _, m := range movements {
		total += m.Signed()
	}
	return total
}

// MovementType is the direction of a cash movement.
type MovementType string

const (
	// MovementIn adds cash to the drawer.
	MovementIn MovementType = "IN"
	// MovementOut removes cash from the drawer.
	MovementOut MovementType = "OUT"
)

// MovementReason classifies why cash moved.
type MovementReason string

const (
	MovementReasonOpening   MovementReason = "OPENING"
	MovementReasonClosing   MovementReason = "CLOSING"
	MovementReasonSale      MovementReason = "SALE"
	MovementReasonManualIn  MovementReason = "MANUAL_IN"
	MovementReasonManualOut MovementReason = "MANUAL_OUT"
)

// SystemReserved reports whether only the system may record the reason.
func (r MovementReason) SystemReserved() bool {
	switch r {
	case MovementReasonOpening, MovementReasonClosing, MovementReasonSale:
		return true
	}
	return false
}

// CashMovement is an append-only ledger entry.
type CashMovement struct {
	ID             string
	ShiftID        string
	Sequence       int
	Type           MovementType
	Reason         MovementReason
	Amount         int64
	RunningBalance int64
	SaleID         string
	PaymentMethod  string
	Description    string
	RecordedBy     string
	CreatedAt      time.Time
}

// Signed returns the amount with the sign of its direction.
func (m CashMovement) Signed() int64 {
	if m.Type == MovementOut {
		return -m.Amount
	}
	return m.Amount
}

// PaymentMethod describes a tender type accepted at the register.
type PaymentMethod struct {
	Code             string
	Name             string
	AffectsCash      bool
	SurchargePercent decimal.Decimal
	DiscountPercent  decimal.Decimal
	Active           bool
}

// PaymentComponent is one part of a split payment.
type PaymentComponent struct {
	MethodCode string
	Amount     int64
}

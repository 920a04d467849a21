package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/platform/httpx"
	"github.com/hanko-field/till/internal/platform/requestctx"
	"github.com/hanko-field/till/internal/services"
)

const maxCashBodySize = 16 * 1024

// CashHandlers exposes register, shift and settlement endpoints.
type CashHandlers struct {
	shifts      services.CashShiftService
	settlements services.SettlementService
	idempotent  func(http.Handler) http.Handler
}

// CashHandlersOption customises CashHandlers.
type CashHandlersOption func(*CashHandlers)

// WithIdempotency wraps the money-moving endpoints (movements and settlements) with mw.
func WithIdempotency(mw func(http.Handler) http.Handler) CashHandlersOption {
	return func(h *CashHandlers) {
		h.idempotent = mw
	}
}

// NewCashHandlers constructs the cash handlers.
func NewCashHandlers(shifts services.CashShiftService, settlements services.SettlementService, opts ...CashHandlersOption) *CashHandlers {
	h := &CashHandlers{shifts: shifts, settlements: settlements}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// RegisterRoutes wires /registers.
func (h *CashHandlers) RegisterRoutes(r chi.Router) {
	r.Get("/", h.listRegisters)
	r.Post("/{registerID}/shifts", h.openShift)
	r.Get("/{registerID}/shifts/active", h.getActiveShift)
	r.With(h.guard()).Post("/{registerID}/settlements", h.settle)
}

// ShiftRoutes wires /shifts.
func (h *CashHandlers) ShiftRoutes(r chi.Router) {
	r.Get("/{shiftID}", h.getShift)
	r.Get("/{shiftID}/movements", h.listMovements)
	r.With(h.guard()).Post("/{shiftID}/movements", h.addMovement)
	r.Post("/{shiftID}/close", h.closeShift)
}

func (h *CashHandlers) guard() func(http.Handler) http.Handler {
	if h.idempotent == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.idempotent
}

type registerPayload struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	Occupied    bool   `json:"occupied"`
	OpenShiftID string `json:"openShiftId,omitempty"`
}

type shiftPayload struct {
	ID             string     `json:"id"`
	RegisterID     string     `json:"registerId"`
	OpenedBy       string     `json:"openedBy"`
	Status         string     `json:"status"`
	OpeningCash    int64      `json:"openingCash"`
	ExpectedCash   int64      `json:"expectedCash"`
	CountedCash    *int64     `json:"countedCash,omitempty"`
	CashDifference *int64     `json:"cashDifference,omitempty"`
	MovementCount  int        `json:"movementCount"`
	Notes          string     `json:"notes,omitempty"`
	OpenedAt       time.Time  `json:"openedAt"`
	ClosedAt       *time.Time `json:"closedAt,omitempty"`
	ClosedBy       string     `json:"closedBy,omitempty"`
}

type movementPayload struct {
	ID             string    `json:"id"`
	ShiftID        string    `json:"shiftId"`
	Sequence       int       `json:"sequence"`
	Type           string    `json:"type"`
	Reason         string    `json:"reason"`
	Amount         int64     `json:"amount"`
	RunningBalance int64     `json:"runningBalance"`
	SaleID         string    `json:"saleId,omitempty"`
	PaymentMethod  string    `json:"paymentMethod,omitempty"`
	Description    string    `json:"description,omitempty"`
	RecordedBy     string    `json:"recordedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type paymentPayload struct {
	Method string `json:"method"`
	Amount int64  `json:"amount"`
}

func buildRegisterPayload(register domain.CashRegister) registerPayload {
	return registerPayload{
		ID:          register.ID,
		Code:        register.Code,
		Name:        register.Name,
		Active:      register.Active,
		Occupied:    register.Occupied(),
		OpenShiftID: register.OpenShiftID,
	}
}

func buildShiftPayload(shift domain.CashShift) shiftPayload {
	return shiftPayload{
		ID:             shift.ID,
		RegisterID:     shift.RegisterID,
		OpenedBy:       shift.OpenedBy,
		Status:         string(shift.Status),
		OpeningCash:    shift.OpeningCash,
		ExpectedCash:   shift.ExpectedCash,
		CountedCash:    shift.CountedCash,
		CashDifference: shift.CashDifference,
		MovementCount:  shift.MovementCount,
		Notes:          shift.Notes,
		OpenedAt:       shift.OpenedAt,
		ClosedAt:       shift.ClosedAt,
		ClosedBy:       shift.ClosedBy,
	}
}

func buildMovementPayload(m domain.CashMovement) movementPayload {
	return movementPayload{
		ID:             m.ID,
		ShiftID:        m.ShiftID,
		Sequence:       m.Sequence,
		Type:           string(m.Type),
		Reason:         string(m.Reason),
		Amount:         m.Amount,
		RunningBalance: m.RunningBalance,
		SaleID:         m.SaleID,
		PaymentMethod:  m.PaymentMethod,
		Description:    m.Description,
		RecordedBy:     m.RecordedBy,
		CreatedAt:      m.CreatedAt,
	}
}

func buildMovementPayloads(movements []domain.CashMovement) []movementPayload {
	out := make([]movementPayload, 0, len(movements))
	for _, m := range movements {
		out = append(out, buildMovementPayload(m))
	}
	return out
}

func (h *CashHandlers) listRegisters(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shifts == nil {
		unavailable(ctx, w, "cash")
		return
	}
	registers, err := h.shifts.ListRegisters(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]registerPayload, 0, len(registers))
	for _, register := range registers {
		items = append(items, buildRegisterPayload(register))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"registers": items})
}

type openShiftRequest struct {
	OpeningCash int64 `json:"openingCash"`
}

func (h *CashHandlers) openShift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shifts == nil {
		unavailable(ctx, w, "cash")
		return
	}
	var req openShiftRequest
	if err := httpx.DecodeJSON(r, maxCashBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	shift, err := h.shifts.Open(ctx, services.OpenShiftCommand{
		RegisterID:  chi.URLParam(r, "registerID"),
		UserID:      requestctx.Operator(ctx),
		OpeningCash: req.OpeningCash,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/v1/shifts/"+shift.ID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"shift": buildShiftPayload(shift)})
}

func (h *CashHandlers) getActiveShift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shifts == nil {
		unavailable(ctx, w, "cash")
		return
	}
	shift, err := h.shifts.GetActive(ctx, chi.URLParam(r, "registerID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if shift == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"shift": nil})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shift": buildShiftPayload(*shift)})
}

func (h *CashHandlers) getShift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shifts == nil {
		unavailable(ctx, w, "cash")
		return
	}
	shift, err := h.shifts.GetShift(ctx, chi.URLParam(r, "shiftID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"shift": buildShiftPayload(shift)})
}

func (h *CashHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shifts == nil {
		unavailable(ctx, w, "cash")
		return
	}
	movements, err := h.shifts.ListMovements(ctx, chi.URLParam(r, "shiftID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"movements": buildMovementPayloads(movements),
		"balance":   domain.LedgerBalance(movements),
	})
}

type addMovementRequest struct {
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

func (h *CashHandlers) addMovement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shifts == nil {
		unavailable(ctx, w, "cash")
		return
	}
	var req addMovementRequest
	if err := httpx.DecodeJSON(r, maxCashBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	movement, err := h.shifts.AddMovement(ctx, services.AddMovementCommand{
		ShiftID:     chi.URLParam(r, "shiftID"),
		Type:        domain.MovementType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Reason:      domain.MovementReason(strings.ToUpper(strings.TrimSpace(req.Reason))),
		Amount:      req.Amount,
		Description: req.Description,
		RecordedBy:  requestctx.Operator(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"movement": buildMovementPayload(movement)})
}

type closeShiftRequest struct {
	CountedCash *int64 `json:"countedCash"`
	Notes       string `json:"notes"`
}

func (h *CashHandlers) closeShift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.shifts == nil {
		unavailable(ctx, w, "cash")
		return
	}
	var req closeShiftRequest
	if err := httpx.DecodeJSON(r, maxCashBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	if req.CountedCash == nil {
		httpx.WriteError(ctx, w, httpx.NewError("validation_error", "countedCash is required", http.StatusBadRequest))
		return
	}
	result, err := h.shifts.Close(ctx, services.CloseShiftCommand{
		ShiftID:     chi.URLParam(r, "shiftID"),
		CountedCash: *req.CountedCash,
		Notes:       req.Notes,
		ClosedBy:    requestctx.Operator(ctx),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"shift":          buildShiftPayload(result.Shift),
		"expectedCash":   result.ExpectedCash,
		"cashDifference": result.CashDifference,
		"status":         string(result.Status),
	})
}

type settleRequest struct {
	SaleID   string           `json:"saleId"`
	Total    int64            `json:"total"`
	Payments []paymentPayload `json:"payments"`
}

func (h *CashHandlers) settle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.settlements == nil {
		unavailable(ctx, w, "settlement")
		return
	}
	var req settleRequest
	if err := httpx.DecodeJSON(r, maxCashBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	payments := make([]domain.PaymentComponent, 0, len(req.Payments))
	for _, p := range req.Payments {
		payments = append(payments, domain.PaymentComponent{
			MethodCode: strings.ToUpper(strings.TrimSpace(p.Method)),
			Amount:     p.Amount,
		})
	}
	result, err := h.settlements.Settle(ctx, services.SettleSaleCommand{
		RegisterID: chi.URLParam(r, "registerID"),
		SaleID:     req.SaleID,
		Total:      req.Total,
		Payments:   payments,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	receivables := make([]paymentPayload, 0, len(result.Receivables))
	for _, p := range result.Receivables {
		receivables = append(receivables, paymentPayload{Method: p.MethodCode, Amount: p.Amount})
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"shiftId":     result.ShiftID,
		"movements":   buildMovementPayloads(result.Movements),
		"receivables": receivables,
	})
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/platform/httpx"
	"github.com/hanko-field/till/internal/services"
)

const maxPromotionBodySize = 16 * 1024

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// PromotionHandlers exposes promotion rule administration.
type PromotionHandlers struct {
	promotions services.PromotionService
}

// NewPromotionHandlers constructs promotion handlers.
func NewPromotionHandlers(promotions services.PromotionService) *PromotionHandlers {
	return &PromotionHandlers{promotions: promotions}
}

// Routes wires /promotions.
func (h *PromotionHandlers) Routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{promotionID}", h.get)
	r.Put("/{promotionID}", h.update)
	r.Delete("/{promotionID}", h.delete)
}

type promotionRequest struct {
	Name          string           `json:"name"`
	Kind          string           `json:"kind"`
	Buy           int              `json:"buy,omitempty"`
	Pay           int              `json:"pay,omitempty"`
	Percent       *decimal.Decimal `json:"percent,omitempty"`
	Price         *int64           `json:"price,omitempty"`
	ProductIDs    []string         `json:"productIds"`
	StartDate     string           `json:"startDate"`
	EndDate       string           `json:"endDate"`
	Weekdays      []string         `json:"weekdays,omitempty"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

type promotionPayload struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Kind          string           `json:"kind"`
	Buy           int              `json:"buy,omitempty"`
	Pay           int              `json:"pay,omitempty"`
	Percent       *decimal.Decimal `json:"percent,omitempty"`
	Price         *int64           `json:"price,omitempty"`
	ProductIDs    []string         `json:"productIds"`
	StartDate     string           `json:"startDate"`
	EndDate       string           `json:"endDate"`
	Weekdays      []string         `json:"weekdays"`
	PaymentMethod string           `json:"paymentMethod,omitempty"`
	Active        bool             `json:"active"`
	Sequence      int64            `json:"sequence"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
	DeletedAt     *time.Time       `json:"deletedAt,omitempty"`
}

func buildPromotionPayload(rule domain.PromotionRule) promotionPayload {
	payload := promotionPayload{
		ID:            rule.ID,
		Name:          rule.Name,
		ProductIDs:    rule.ProductIDs,
		StartDate:     rule.StartDate.String(),
		EndDate:       rule.EndDate.String(),
		Weekdays:      make([]string, 0, 7),
		PaymentMethod: rule.PaymentMethod,
		Active:        rule.Active,
		Sequence:      rule.Sequence,
		CreatedAt:     rule.CreatedAt,
		UpdatedAt:     rule.UpdatedAt,
		DeletedAt:     rule.DeletedAt,
	}
	for _, day := range rule.Weekdays.Days() {
		payload.Weekdays = append(payload.Weekdays, strings.ToLower(day.String()[:3]))
	}
	switch v := rule.Variant.(type) {
	case domain.NxMVariant:
		payload.Kind = string(domain.PromotionKindNxM)
		payload.Buy, payload.Pay = v.Buy, v.Pay
	case domain.PercentageVariant:
		payload.Kind = string(domain.PromotionKindPercentage)
		percent := v.Percent
		payload.Percent = &percent
	case domain.FixedPriceVariant:
		payload.Kind = string(domain.PromotionKindFixedPrice)
		price := v.Price
		payload.Price = &price
	}
	return payload
}

func (req promotionRequest) toCommand() (services.UpsertPromotionCommand, error) {
	cmd := services.UpsertPromotionCommand{
		Name:          req.Name,
		ProductIDs:    req.ProductIDs,
		PaymentMethod: req.PaymentMethod,
		Active:        true,
	}
	if req.Active != nil {
		cmd.Active = *req.Active
	}

	switch domain.PromotionVariantKind(strings.ToLower(strings.TrimSpace(req.Kind))) {
	case domain.PromotionKindNxM:
		cmd.Variant = domain.NxMVariant{Buy: req.Buy, Pay: req.Pay}
	case domain.PromotionKindPercentage:
		if req.Percent == nil {
			return cmd, errors.New("percent is required for percentage rules")
		}
		cmd.Variant = domain.PercentageVariant{Percent: *req.Percent}
	case domain.PromotionKindFixedPrice:
		if req.Price == nil {
			return cmd, errors.New("price is required for fixed_price rules")
		}
		cmd.Variant = domain.FixedPriceVariant{Price: *req.Price}
	default:
		return cmd, fmt.Errorf("kind must be one of nxm, percentage, fixed_price")
	}

	var err error
	if cmd.StartDate, err = domain.ParseDate(strings.TrimSpace(req.StartDate)); err != nil {
		return cmd, errors.New("startDate must be YYYY-MM-DD")
	}
	if cmd.EndDate, err = domain.ParseDate(strings.TrimSpace(req.EndDate)); err != nil {
		return cmd, errors.New("endDate must be YYYY-MM-DD")
	}

	days := make([]time.Weekday, 0, len(req.Weekdays))
	for _, name := range req.Weekdays {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return cmd, fmt.Errorf("unknown weekday %q", name)
		}
		days = append(days, day)
	}
	cmd.Weekdays = domain.WeekdaysOf(days...)
	return cmd, nil
}

func (h *PromotionHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		unavailable(ctx, w, "promotion")
		return
	}
	includeInactive := false
	if raw := strings.TrimSpace(r.URL.Query().Get("includeInactive")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("validation_error", "includeInactive must be a boolean", http.StatusBadRequest))
			return
		}
		includeInactive = parsed
	}
	rules, err := h.promotions.List(ctx, includeInactive)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]promotionPayload, 0, len(rules))
	for _, rule := range rules {
		items = append(items, buildPromotionPayload(rule))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"promotions": items})
}

func (h *PromotionHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		unavailable(ctx, w, "promotion")
		return
	}
	rule, err := h.promotions.Get(ctx, chi.URLParam(r, "promotionID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"promotion": buildPromotionPayload(rule)})
}

func (h *PromotionHandlers) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		unavailable(ctx, w, "promotion")
		return
	}
	cmd, ok := decodePromotionCommand(w, r)
	if !ok {
		return
	}
	rule, err := h.promotions.Create(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/v1/promotions/"+rule.ID)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"promotion": buildPromotionPayload(rule)})
}

func (h *PromotionHandlers) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		unavailable(ctx, w, "promotion")
		return
	}
	cmd, ok := decodePromotionCommand(w, r)
	if !ok {
		return
	}
	rule, err := h.promotions.Update(ctx, chi.URLParam(r, "promotionID"), cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"promotion": buildPromotionPayload(rule)})
}

func (h *PromotionHandlers) delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.promotions == nil {
		unavailable(ctx, w, "promotion")
		return
	}
	if err := h.promotions.Delete(ctx, chi.URLParam(r, "promotionID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodePromotionCommand(w http.ResponseWriter, r *http.Request) (services.UpsertPromotionCommand, bool) {
	var req promotionRequest
	if err := httpx.DecodeJSON(r, maxPromotionBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return services.UpsertPromotionCommand{}, false
	}
	cmd, err := req.toCommand()
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("validation_error", err.Error(), http.StatusBadRequest))
		return services.UpsertPromotionCommand{}, false
	}
	return cmd, true
}

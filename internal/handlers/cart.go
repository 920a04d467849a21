package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/platform/httpx"
	"github.com/hanko-field/till/internal/services"
)

const maxCartBodySize = 32 * 1024

// CartHandlers exposes the stateless pricing preview.
type CartHandlers struct {
	carts services.CartService
}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers(carts services.CartService) *CartHandlers {
	return &CartHandlers{carts: carts}
}

// Routes wires POST /carts:price.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Post("/carts:price", h.priceCart)
}

type priceCartLineRequest struct {
	ProductID             string          `json:"productId"`
	Quantity              int             `json:"quantity"`
	ManualDiscountPercent decimal.Decimal `json:"manualDiscountPercent"`
}

type priceCartRequest struct {
	Lines               []priceCartLineRequest `json:"lines"`
	CartDiscountPercent decimal.Decimal        `json:"cartDiscountPercent"`
	PaymentMethod       string                 `json:"paymentMethod"`
}

type cartLinePayload struct {
	ProductID             string          `json:"productId"`
	Name                  string          `json:"name"`
	UnitPrice             int64           `json:"unitPrice"`
	Quantity              int             `json:"quantity"`
	Gross                 int64           `json:"gross"`
	ManualDiscountPercent decimal.Decimal `json:"manualDiscountPercent"`
	ManualDiscountAmount  int64           `json:"manualDiscountAmount"`
	PromoDiscount         int64           `json:"promoDiscount"`
	PromoLabel            string          `json:"promoLabel,omitempty"`
	Subtotal              int64           `json:"subtotal"`
}

type appliedPromotionPayload struct {
	RuleID     string   `json:"ruleId"`
	Name       string   `json:"name"`
	Kind       string   `json:"kind"`
	Amount     int64    `json:"amount"`
	FreeUnits  int      `json:"freeUnits,omitempty"`
	ProductIDs []string `json:"productIds"`
}

type cartTotalsPayload struct {
	Lines                 []cartLinePayload         `json:"lines"`
	GrossTotal            int64                     `json:"grossTotal"`
	ManualDiscountTotal   int64                     `json:"manualDiscountTotal"`
	PromoDiscountTotal    int64                     `json:"promoDiscountTotal"`
	Subtotal              int64                     `json:"subtotal"`
	GlobalDiscountPercent decimal.Decimal           `json:"globalDiscountPercent"`
	GlobalDiscountAmount  int64                     `json:"globalDiscountAmount"`
	Total                 int64                     `json:"total"`
	AppliedPromotions     []appliedPromotionPayload `json:"appliedPromotions"`
	PaymentMethod         string                    `json:"paymentMethod,omitempty"`
	PaymentAdjustment     int64                     `json:"paymentAdjustment"`
	AmountDue             int64                     `json:"amountDue"`
}

func buildCartTotalsPayload(totals domain.CartTotals) cartTotalsPayload {
	payload := cartTotalsPayload{
		Lines:                 make([]cartLinePayload, 0, len(totals.Lines)),
		GrossTotal:            totals.GrossTotal,
		ManualDiscountTotal:   totals.ManualDiscountTotal,
		PromoDiscountTotal:    totals.PromoDiscountTotal,
		Subtotal:              totals.Subtotal,
		GlobalDiscountPercent: totals.GlobalDiscountPercent,
		GlobalDiscountAmount:  totals.GlobalDiscountAmount,
		Total:                 totals.Total,
		AppliedPromotions:     make([]appliedPromotionPayload, 0, len(totals.AppliedPromotions)),
		PaymentMethod:         totals.PaymentMethod,
		PaymentAdjustment:     totals.PaymentAdjustment,
		AmountDue:             totals.AmountDue,
	}
	for _, line := range totals.Lines {
		payload.Lines = append(payload.Lines, cartLinePayload{
			ProductID:             line.ProductID,
			Name:                  line.Name,
			UnitPrice:             line.UnitPrice,
			Quantity:              line.Quantity,
			Gross:                 line.Gross(),
			ManualDiscountPercent: line.ManualDiscountPercent,
			ManualDiscountAmount:  line.ManualDiscountAmount,
			PromoDiscount:         line.PromoDiscount,
			PromoLabel:            line.PromoLabel,
			Subtotal:              line.Subtotal,
		})
	}
	for _, applied := range totals.AppliedPromotions {
		payload.AppliedPromotions = append(payload.AppliedPromotions, appliedPromotionPayload{
			RuleID:     applied.RuleID,
			Name:       applied.Name,
			Kind:       string(applied.Kind),
			Amount:     applied.Amount,
			FreeUnits:  applied.FreeUnits,
			ProductIDs: applied.ProductIDs,
		})
	}
	return payload
}

func (h *CartHandlers) priceCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		unavailable(ctx, w, "cart")
		return
	}
	var req priceCartRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}
	cmd := services.PriceCartCommand{
		Lines:               make([]services.PriceCartLineInput, 0, len(req.Lines)),
		CartDiscountPercent: req.CartDiscountPercent,
		PaymentMethod:       req.PaymentMethod,
	}
	for _, line := range req.Lines {
		cmd.Lines = append(cmd.Lines, services.PriceCartLineInput{
			ProductID:             line.ProductID,
			Quantity:              line.Quantity,
			ManualDiscountPercent: line.ManualDiscountPercent,
		})
	}
	totals, err := h.carts.PriceCart(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"totals": buildCartTotalsPayload(totals)})
}

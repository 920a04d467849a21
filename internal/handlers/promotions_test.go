package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/services"
)

type stubPromotionService struct {
	createCmd       services.UpsertPromotionCommand
	updateID        string
	updateCmd       services.UpsertPromotionCommand
	deletedID       string
	includeInactive bool
	rule            services.PromotionRule
	rules           []services.PromotionRule
	err             error
}

func (s *stubPromotionService) Create(_ context.Context, cmd services.UpsertPromotionCommand) (services.PromotionRule, error) {
	s.createCmd = cmd
	return s.rule, s.err
}

func (s *stubPromotionService) Update(_ context.Context, id string, cmd services.UpsertPromotionCommand) (services.PromotionRule, error) {
	s.updateID = id
	s.updateCmd = cmd
	return s.rule, s.err
}

func (s *stubPromotionService) Delete(_ context.Context, id string) error {
	s.deletedID = id
	return s.err
}

func (s *stubPromotionService) Get(context.Context, string) (services.PromotionRule, error) {
	return s.rule, s.err
}

func (s *stubPromotionService) List(_ context.Context, includeInactive bool) ([]services.PromotionRule, error) {
	s.includeInactive = includeInactive
	return s.rules, s.err
}

func newPromotionTestRouter(h *PromotionHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/promotions", h.Routes)
	return r
}

func sampleRule() services.PromotionRule {
	created := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	return services.PromotionRule{
		ID:         "promo-1",
		Name:       "3x2 coffee",
		Variant:    domain.NxMVariant{Buy: 3, Pay: 2},
		ProductIDs: []string{"coffee"},
		StartDate:  domain.Date{Year: 2024, Month: time.April, Day: 1},
		EndDate:    domain.Date{Year: 2024, Month: time.April, Day: 30},
		Weekdays:   domain.WeekdaysOf(time.Monday, time.Friday),
		Active:     true,
		Sequence:   7,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestPromotionHandlersCreate(t *testing.T) {
	svc := &stubPromotionService{rule: sampleRule()}
	router := newPromotionTestRouter(NewPromotionHandlers(svc))

	rr := doJSON(t, router, http.MethodPost, "/promotions", `{
		"name":"3x2 coffee","kind":"nxm","buy":3,"pay":2,
		"productIds":["coffee"],"startDate":"2024-04-01","endDate":"2024-04-30",
		"weekdays":["mon","Fri"]
	}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "/v1/promotions/promo-1", rr.Header().Get("Location"))
	assert.Equal(t, domain.NxMVariant{Buy: 3, Pay: 2}, svc.createCmd.Variant)
	assert.Equal(t, domain.WeekdaysOf(time.Monday, time.Friday), svc.createCmd.Weekdays)
	assert.Equal(t, domain.Date{Year: 2024, Month: time.April, Day: 30}, svc.createCmd.EndDate)
	assert.True(t, svc.createCmd.Active)

	body := decodeBody(t, rr)
	promo := body["promotion"].(map[string]any)
	assert.Equal(t, "nxm", promo["kind"])
	assert.Equal(t, []any{"mon", "fri"}, promo["weekdays"])
	assert.Equal(t, "2024-04-01", promo["startDate"])
	assert.Equal(t, float64(7), promo["sequence"])
}

func TestPromotionHandlersCreatePercentage(t *testing.T) {
	rule := sampleRule()
	rule.Variant = domain.PercentageVariant{Percent: decimal.RequireFromString("12.5")}
	svc := &stubPromotionService{rule: rule}
	router := newPromotionTestRouter(NewPromotionHandlers(svc))

	rr := doJSON(t, router, http.MethodPost, "/promotions", `{
		"name":"spring","kind":"percentage","percent":12.5,
		"productIds":["tea"],"startDate":"2024-04-01","endDate":"2024-04-30","active":false
	}`)

	require.Equal(t, http.StatusCreated, rr.Code)
	variant, ok := svc.createCmd.Variant.(domain.PercentageVariant)
	require.True(t, ok)
	assert.True(t, variant.Percent.Equal(decimal.RequireFromString("12.5")))
	assert.False(t, svc.createCmd.Active)
	assert.Equal(t, domain.Weekdays(0), svc.createCmd.Weekdays)

	promo := decodeBody(t, rr)["promotion"].(map[string]any)
	assert.Equal(t, "percentage", promo["kind"])
	assert.Equal(t, "12.5", promo["percent"])
}

func TestPromotionHandlersCreateRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"unknown kind":    `{"kind":"bogo","productIds":["a"],"startDate":"2024-01-01","endDate":"2024-01-02"}`,
		"missing percent": `{"kind":"percentage","productIds":["a"],"startDate":"2024-01-01","endDate":"2024-01-02"}`,
		"bad date":        `{"kind":"nxm","buy":2,"pay":1,"productIds":["a"],"startDate":"01/01/2024","endDate":"2024-01-02"}`,
		"bad weekday":     `{"kind":"nxm","buy":2,"pay":1,"productIds":["a"],"startDate":"2024-01-01","endDate":"2024-01-02","weekdays":["funday"]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubPromotionService{}
			router := newPromotionTestRouter(NewPromotionHandlers(svc))

			rr := doJSON(t, router, http.MethodPost, "/promotions", body)

			require.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, "validation_error", decodeBody(t, rr)["error"])
			assert.Nil(t, svc.createCmd.Variant)
		})
	}
}

func TestPromotionHandlersRuleEvaluationError(t *testing.T) {
	svc := &stubPromotionService{err: fmt.Errorf("%w: pay must be less than buy", services.ErrRuleEvaluation)}
	router := newPromotionTestRouter(NewPromotionHandlers(svc))

	rr := doJSON(t, router, http.MethodPut, "/promotions/promo-1", `{
		"name":"bad","kind":"nxm","buy":2,"pay":2,
		"productIds":["coffee"],"startDate":"2024-04-01","endDate":"2024-04-30"
	}`)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "promo-1", svc.updateID)
	body := decodeBody(t, rr)
	assert.Equal(t, "rule_evaluation_error", body["error"])
	assert.Equal(t, "pay must be less than buy", body["message"])
}

func TestPromotionHandlersList(t *testing.T) {
	svc := &stubPromotionService{rules: []services.PromotionRule{sampleRule()}}
	router := newPromotionTestRouter(NewPromotionHandlers(svc))

	rr := doJSON(t, router, http.MethodGet, "/promotions?includeInactive=true", "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, svc.includeInactive)
	assert.Len(t, decodeBody(t, rr)["promotions"], 1)

	rr = doJSON(t, router, http.MethodGet, "/promotions?includeInactive=maybe", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPromotionHandlersDelete(t *testing.T) {
	svc := &stubPromotionService{}
	router := newPromotionTestRouter(NewPromotionHandlers(svc))

	rr := doJSON(t, router, http.MethodDelete, "/promotions/promo-1", "")

	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "promo-1", svc.deletedID)
}

func TestPromotionHandlersGetNotFound(t *testing.T) {
	svc := &stubPromotionService{err: fmt.Errorf("%w: promotion promo-x", services.ErrNotFound)}
	router := newPromotionTestRouter(NewPromotionHandlers(svc))

	rr := doJSON(t, router, http.MethodGet, "/promotions/promo-x", "")

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decodeBody(t, rr)["error"])
}

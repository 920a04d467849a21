package handlers

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/services"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	healthHandlers := NewHealthHandlers(
		WithHealthSystemService(&stubSystemService{
			report: services.HealthReport{
				Status:      domain.HealthStatusOK,
				Uptime:      5 * time.Second,
				GeneratedAt: now,
				Checks: map[string]domain.HealthCheck{
					"firestore": {Status: domain.HealthStatusOK},
				},
			},
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	router := NewRouter(WithHealthHandlers(healthHandlers))

	t.Run("healthz", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodGet, "/healthz", "")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	})

	t.Run("readyz", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodGet, "/readyz", "")
		require.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("default not implemented group", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodGet, "/v1/registers", "")
		require.Equal(t, http.StatusNotImplemented, rr.Code)
		assert.Equal(t, "not_implemented", decodeBody(t, rr)["error"])
	})

	t.Run("default cart route", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodPost, "/v1/carts:price", `{}`)
		require.Equal(t, http.StatusNotImplemented, rr.Code)
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := doJSON(t, router, http.MethodGet, "/nope", "")
		require.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, errorNotFoundCode, decodeBody(t, rr)["error"])
	})
}

func TestNewRouter_MountsRegistrars(t *testing.T) {
	shifts := &stubCashShiftService{
		registers: []services.CashRegister{{ID: "reg-1", Code: "R1", Name: "Front", Active: true}},
		shift:     services.CashShift{ID: "shift-1", Status: domain.ShiftStatusOpen},
	}
	cash := NewCashHandlers(shifts, &stubSettlementService{})
	carts := NewCartHandlers(&stubCartService{})
	promos := NewPromotionHandlers(&stubPromotionService{})

	var seen []string
	tracker := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(
		WithMiddlewares(tracker),
		WithRegisterRoutes(cash.RegisterRoutes),
		WithShiftRoutes(cash.ShiftRoutes),
		WithCartRoutes(carts.Routes),
		WithPromotionRoutes(promos.Routes),
	)

	rr := doJSON(t, router, http.MethodGet, "/v1/registers", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var registers struct {
		Registers []registerPayload `json:"registers"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &registers))
	require.Len(t, registers.Registers, 1)

	rr = doJSON(t, router, http.MethodGet, "/v1/shifts/shift-1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/v1/carts:price", `{"lines":[]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodGet, "/v1/promotions", "")
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, []string{"/v1/registers", "/v1/shifts/shift-1", "/v1/carts:price", "/v1/promotions"}, seen)
}

func TestNewRouter_MethodNotAllowed(t *testing.T) {
	router := NewRouter(WithCartRoutes(func(r chi.Router) {
		r.Post("/carts:price", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	}))

	rr := doJSON(t, router, http.MethodGet, "/v1/carts:price", "")

	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "method_not_allowed", decodeBody(t, rr)["error"])
}

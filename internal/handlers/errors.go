package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/hanko-field/till/internal/platform/httpx"
	"github.com/hanko-field/till/internal/platform/requestctx"
	"github.com/hanko-field/till/internal/services"
)

type serviceErrorMapping struct {
	target error
	code   string
	status int
}

var serviceErrorMappings = []serviceErrorMapping{
	{services.ErrValidation, "validation_error", http.StatusBadRequest},
	{services.ErrShiftClosed, "shift_closed", http.StatusConflict},
	{services.ErrRegisterOccupied, "register_occupied", http.StatusConflict},
	{services.ErrNoActiveShift, "no_active_shift", http.StatusConflict},
	{services.ErrRuleEvaluation, "rule_evaluation_error", http.StatusUnprocessableEntity},
	{services.ErrNotFound, "not_found", http.StatusNotFound},
	{services.ErrConflict, "conflict", http.StatusConflict},
	{services.ErrUnavailable, "unavailable", http.StatusServiceUnavailable},
}

// writeServiceError maps the service error taxonomy onto the HTTP envelope. Unclassified errors are
// logged and reported as 500 without leaking internals.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	for _, mapping := range serviceErrorMappings {
		if errors.Is(err, mapping.target) {
			httpx.WriteError(ctx, w, httpx.NewError(mapping.code, errorMessage(err, mapping.target), mapping.status))
			return
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "request timed out", http.StatusServiceUnavailable))
		return
	case errors.Is(err, context.Canceled):
		httpx.WriteError(ctx, w, httpx.NewError("request_cancelled", "request was cancelled", 499))
		return
	}
	requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
}

// errorMessage strips the sentinel prefix so clients see only the specific detail.
func errorMessage(err, sentinel error) string {
	msg := err.Error()
	prefix := sentinel.Error() + ": "
	if idx := strings.Index(msg, prefix); idx >= 0 {
		msg = msg[idx+len(prefix):]
	}
	if strings.TrimSpace(msg) == "" {
		return sentinel.Error()
	}
	return msg
}

func unavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

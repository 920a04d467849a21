package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/till/internal/platform/requestctx"
)

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}

	for _, header := range []string{"", "abc/1", "105445aa7843bc8bf206b12000100000", "105445aa7843bc8bf206b12000100000/0", "105445aa7843bc8bf206b12000100000/xyz"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestFormatCloudTraceHeaderRoundTrips(t *testing.T) {
	info := requestctx.TraceInfo{TraceID: "105445aa7843bc8bf206b12000100000", SpanID: "00000000000000ff", Sampled: true}
	header := formatCloudTraceHeader(info)
	if header != "105445aa7843bc8bf206b12000100000/255;o=1" {
		t.Fatalf("unexpected header %q", header)
	}
}

func TestEventLoggerUsesRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	requestCore, requestLogs := observer.New(zapcore.InfoLevel)

	log := EventLogger(zap.New(baseCore).Named("cash"))
	log(context.Background(), "cash.shift_opened", map[string]any{"shiftId": "s-1"})
	if baseLogs.Len() != 1 {
		t.Fatalf("expected base logger to receive event, got %d", baseLogs.Len())
	}

	ctx := requestctx.WithLogger(context.Background(), zap.New(requestCore))
	log(ctx, "cash.event_publish_failed", map[string]any{"error": errors.New("boom")})
	entries := requestLogs.All()
	if len(entries) != 1 {
		t.Fatalf("expected request logger to receive event, got %d", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected failure events at warn, got %s", entries[0].Level)
	}
	if entries[0].ContextMap()["component"] != "cash" {
		t.Fatalf("expected component field, got %v", entries[0].ContextMap())
	}
}

func TestOperatorMiddleware(t *testing.T) {
	var got string
	handler := OperatorMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = requestctx.Operator(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(OperatorHeader, " cashier-7\n")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "cashier-7" {
		t.Fatalf("expected operator cashier-7, got %q", got)
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

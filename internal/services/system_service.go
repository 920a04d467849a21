package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/repositories"
)

const paymentMethodsCheck = "payment_methods"

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	// PaymentMethods is optional. When set, readiness also reports whether tills can take payments.
	PaymentMethods repositories.PaymentMethodRepository
	Clock          func() time.Time
	Build          BuildInfo
}

type systemService struct {
	health   repositories.HealthRepository
	payments repositories.PaymentMethodRepository
	clock    func() time.Time
	build    BuildInfo
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service backing the readiness endpoint.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	build := deps.Build
	if build.StartedAt.IsZero() {
		build.StartedAt = clock().UTC()
	}
	return &systemService{
		health:   deps.HealthRepository,
		payments: deps.PaymentMethods,
		clock:    clock,
		build:    build,
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (HealthReport, error) {
	report, err := s.health.Collect(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("system service: collect health: %w", err)
	}

	now := s.clock().UTC()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}

	checks := make(map[string]domain.HealthCheck, len(report.Checks)+1)
	for name, check := range report.Checks {
		checks[name] = check
	}
	if s.payments != nil {
		checks[paymentMethodsCheck] = s.checkPaymentMethods(ctx)
	}
	report.Checks = checks
	report.Status = worstStatus(report.Status, checks)

	return report, nil
}

// checkPaymentMethods degrades readiness when no active method moves cash, since settlements
// could then never reach a drawer.
func (s *systemService) checkPaymentMethods(ctx context.Context) domain.HealthCheck {
	start := s.clock()
	methods, err := s.payments.List(ctx)
	end := s.clock()

	check := domain.HealthCheck{Status: domain.HealthStatusOK, Latency: end.Sub(start), CheckedAt: end.UTC()}
	if err != nil {
		check.Status = domain.HealthStatusDegraded
		check.Detail = err.Error()
		return check
	}

	active, cash := 0, 0
	for _, method := range methods {
		if !method.Active {
			continue
		}
		active++
		if method.AffectsCash {
			cash++
		}
	}
	switch {
	case active == 0:
		check.Status = domain.HealthStatusDegraded
		check.Detail = "no active payment methods"
	case cash == 0:
		check.Status = domain.HealthStatusDegraded
		check.Detail = fmt.Sprintf("%d active payment methods, none affect cash", active)
	default:
		check.Detail = fmt.Sprintf("%d active, %d cash", active, cash)
	}
	return check
}

func worstStatus(reported string, checks map[string]domain.HealthCheck) string {
	rank := func(status string) int {
		switch status {
		case domain.HealthStatusOK, "":
			return 0
		case domain.HealthStatusError:
			return 2
		default:
			return 1
		}
	}
	worst := reported
	if worst == "" {
		worst = domain.HealthStatusOK
	}
	for _, check := range checks {
		if rank(check.Status) > rank(worst) {
			worst = check.Status
			if worst != domain.HealthStatusError {
				worst = domain.HealthStatusDegraded
			}
		}
	}
	return worst
}

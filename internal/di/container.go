package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/till/internal/platform/config"
	"github.com/hanko-field/till/internal/platform/observability"
	"github.com/hanko-field/till/internal/repositories"
	"github.com/hanko-field/till/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Cart       services.CartService
	Cash       services.CashShiftService
	Settlement services.SettlementService
	Promotions services.PromotionService
	System     services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Build        services.BuildInfo
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger *zap.Logger
	meter  metric.Meter
	events services.ShiftEventPublisher
	clock  func() time.Time
}

// WithLogger sets the base logger; services receive named children.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMeter sets the meter used for cash metrics. The global meter provider is used otherwise.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) {
		o.meter = meter
	}
}

// WithShiftEvents wires a publisher for shift lifecycle events.
func WithShiftEvents(publisher services.ShiftEventPublisher) Option {
	return func(o *options) {
		o.events = publisher
	}
}

// WithClock overrides the wall clock, mostly for tests.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependencies. Production wiring passes the Firestore registry,
// while local runs and tests supply the in-memory one.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, opts ...Option) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	o := options{logger: zap.NewNop(), clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	build := services.BuildInfo{
		Version:     cfg.Server.Version,
		Environment: cfg.Server.Environment,
		StartedAt:   o.clock().UTC(),
	}

	svc, err := buildServices(ctx, reg, cfg, o, build)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
		Build:        build,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, o options, build services.BuildInfo) (Services, error) {
	var svc Services

	affinity, err := services.ParseAffinityPolicy(cfg.Pricing.Affinity)
	if err != nil {
		return Services{}, fmt.Errorf("parse affinity policy: %w", err)
	}

	engine := services.NewPricingEngine(services.PricingEngineDeps{
		Logger: observability.EventLogger(o.logger.Named("pricing")),
	})

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Promotions:     reg.Promotions(),
		Catalog:        reg.Catalog(),
		Engine:         engine,
		PaymentMethods: reg.PaymentMethods(),
		Config: services.CartConfig{
			Location:             cfg.Pricing.Location,
			DefaultPaymentMethod: cfg.Pricing.DefaultPaymentMethod,
			Affinity:             affinity,
			Now:                  o.clock,
		},
		Logger: observability.EventLogger(o.logger.Named("cart")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	cashSvc, err := services.NewCashShiftService(services.CashShiftServiceDeps{
		Shifts:    reg.CashShifts(),
		Registers: reg.CashRegisters(),
		Events:    o.events,
		Policy: services.CashPolicy{
			ReviewThreshold:  cfg.Cash.ReviewThreshold,
			DescriptionLimit: cfg.Cash.DescriptionLimit,
		},
		Meter:  o.meter,
		Clock:  o.clock,
		Logger: observability.EventLogger(o.logger.Named("cash")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cash shift service: %w", err)
	}
	svc.Cash = cashSvc

	settlementSvc, err := services.NewSettlementService(services.SettlementServiceDeps{
		Cash:           cashSvc,
		PaymentMethods: reg.PaymentMethods(),
		Logger:         observability.EventLogger(o.logger.Named("settlement")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build settlement service: %w", err)
	}
	svc.Settlement = settlementSvc

	promotionSvc, err := services.NewPromotionService(services.PromotionServiceDeps{
		Rules:  reg.Promotions(),
		Clock:  o.clock,
		Logger: observability.EventLogger(o.logger.Named("promotions")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}
	svc.Promotions = promotionSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			PaymentMethods:   reg.PaymentMethods(),
			Clock:            o.clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}

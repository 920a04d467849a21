package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/hanko-field/till/internal/di"
	domain "github.com/hanko-field/till/internal/domain"
	"github.com/hanko-field/till/internal/handlers"
	"github.com/hanko-field/till/internal/platform/config"
	pfirestore "github.com/hanko-field/till/internal/platform/firestore"
	"github.com/hanko-field/till/internal/platform/idempotency"
	"github.com/hanko-field/till/internal/platform/jobs"
	"github.com/hanko-field/till/internal/platform/observability"
	"github.com/hanko-field/till/internal/repositories"
	firestoreRepo "github.com/hanko-field/till/internal/repositories/firestore"
	"github.com/hanko-field/till/internal/repositories/memory"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("till")

	cfg, err := config.Load(ctx)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var (
		registry         repositories.Registry
		idempotencyStore idempotency.Store
	)
	switch cfg.Store.Backend {
	case config.StoreBackendMemory:
		store := memory.NewStore()
		seedDemoData(store)
		registry = store
		idempotencyStore = idempotency.NewMemoryStore()
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		provider := pfirestore.NewProvider(cfg.Firestore)
		if _, err := provider.Client(ctx); err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		reg, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			logger.Fatal("failed to initialise repositories", zap.Error(err))
		}
		registry = reg
		idempotencyStore = idempotency.NewFirestoreStore(provider)
	}

	var containerOpts []di.Option
	containerOpts = append(containerOpts, di.WithLogger(logger))

	if cfg.Features.EnableShiftEvents {
		publisher, closePublisher, err := newShiftEventPublisher(ctx, cfg.PubSub)
		if err != nil {
			logger.Fatal("failed to initialise shift event publisher", zap.Error(err))
		}
		defer closePublisher()
		containerOpts = append(containerOpts, di.WithShiftEvents(publisher))
	}

	container, err := di.NewContainer(ctx, cfg, registry, containerOpts...)
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()

	svc := container.Services
	cashHandlers := handlers.NewCashHandlers(svc.Cash, svc.Settlement, handlers.WithIdempotency(idempotencyMiddleware))
	cartHandlers := handlers.NewCartHandlers(svc.Cart)
	promotionHandlers := handlers.NewPromotionHandlers(svc.Promotions)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(container.Build),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := cfg.Firestore.ProjectID
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.OperatorMiddleware,
		observability.RequestLoggerMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRegisterRoutes(cashHandlers.RegisterRoutes),
		handlers.WithShiftRoutes(cashHandlers.ShiftRoutes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithPromotionRoutes(promotionHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Store.Backend))
	go func() {
		serverLogger.Info("till api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newShiftEventPublisher(ctx context.Context, cfg config.PubSubConfig) (*jobs.PubSubShiftEventPublisher, func(), error) {
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		opts = append(opts,
			option.WithoutAuthentication(),
			option.WithEndpoint(host),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.ShiftEventsTopic)
	topic.EnableMessageOrdering = true

	publisher, err := jobs.NewPubSubShiftEventPublisher(topic)
	if err != nil {
		topic.Stop()
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		topic.Stop()
		_ = client.Close()
	}, nil
}

// seedDemoData gives the in-memory backend one register, the usual payment methods and a few products.
func seedDemoData(store *memory.Store) {
	store.PutRegister(domain.CashRegister{ID: "register-1", Code: "R1", Name: "Front counter", Active: true})
	store.PutPaymentMethod(domain.PaymentMethod{Code: "CASH", Name: "Cash", AffectsCash: true, Active: true})
	store.PutPaymentMethod(domain.PaymentMethod{Code: "CARD", Name: "Card", Active: true, SurchargePercent: decimal.Zero})
	store.PutPaymentMethod(domain.PaymentMethod{Code: "QR", Name: "QR payment", Active: true, DiscountPercent: decimal.NewFromInt(2)})
	for _, product := range []domain.Product{
		{ID: "coffee", Name: "Coffee", UnitPrice: 850, Active: true},
		{ID: "tea", Name: "Tea", UnitPrice: 600, Active: true},
		{ID: "cake", Name: "Cake", UnitPrice: 1200, Active: true},
	} {
		store.PutProduct(product)
	}
}

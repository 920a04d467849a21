package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"golang.org/x/text/currency"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultEnvironment          = "local"
	defaultStoreBackend         = StoreBackendFirestore
	defaultShiftEventsTopic     = "cash-shift-events"
	defaultDescriptionLimit     = 240
	defaultCurrency             = "JPY"
	defaultTimezone             = "Asia/Tokyo"
	defaultPaymentMethod        = "CASH"
	defaultAffinity             = "assume_default"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Store backends.
const (
	StoreBackendFirestore = "firestore"
	StoreBackendMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Cash        CashConfig
	Pricing     PricingConfig
	Idempotency IdempotencyConfig
	Features    FeatureFlags
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string
	Version      string
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures shift event delivery.
type PubSubConfig struct {
	ProjectID        string
	ShiftEventsTopic string
	EmulatorHost     string
}

// CashConfig controls shift closing policy.
type CashConfig struct {
	// ReviewThreshold is nil when every close should settle as CLOSED.
	ReviewThreshold  *int64
	DescriptionLimit int
}

// PricingConfig controls the pricing engine's calendar and payment defaults.
type PricingConfig struct {
	Currency             currency.Unit
	Timezone             string
	Location             *time.Location
	DefaultPaymentMethod string
	Affinity             string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// FeatureFlags toggle optional behaviour without redeploying.
type FeatureFlags struct {
	EnableShiftEvents bool
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides and
// environment variables.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	var invalid []string

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "TILL_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "TILL_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "TILL_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "TILL_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			Environment:  strings.ToLower(stringWithDefault(lookup, "TILL_ENVIRONMENT", defaultEnvironment)),
			Version:      stringWithDefault(lookup, "TILL_VERSION", "dev"),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "TILL_STORE_BACKEND", defaultStoreBackend)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "TILL_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "TILL_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "TILL_PUBSUB_PROJECT_ID", ""),
			ShiftEventsTopic: stringWithDefault(lookup, "TILL_PUBSUB_SHIFT_EVENTS_TOPIC", defaultShiftEventsTopic),
			EmulatorHost:     stringWithDefault(lookup, "TILL_PUBSUB_EMULATOR_HOST", ""),
		},
		Cash: CashConfig{
			DescriptionLimit: intWithDefault(lookup, "TILL_CASH_DESCRIPTION_LIMIT", defaultDescriptionLimit),
		},
		Pricing: PricingConfig{
			Timezone:             stringWithDefault(lookup, "TILL_PRICING_TIMEZONE", defaultTimezone),
			DefaultPaymentMethod: strings.ToUpper(stringWithDefault(lookup, "TILL_PRICING_DEFAULT_PAYMENT_METHOD", defaultPaymentMethod)),
			Affinity:             strings.ToLower(stringWithDefault(lookup, "TILL_PRICING_AFFINITY", defaultAffinity)),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "TILL_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "TILL_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "TILL_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "TILL_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Features: FeatureFlags{
			EnableShiftEvents: boolWithDefault(lookup, "TILL_FEATURE_SHIFT_EVENTS", false),
		},
	}

	// Pub/Sub project defaults to the Firestore project when unspecified.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if raw, ok := lookup("TILL_CASH_REVIEW_THRESHOLD"); ok && strings.TrimSpace(raw) != "" {
		threshold, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil || threshold < 0 {
			invalid = append(invalid, "Cash.ReviewThreshold")
		} else {
			cfg.Cash.ReviewThreshold = &threshold
		}
	}

	unit, err := currency.ParseISO(strings.ToUpper(stringWithDefault(lookup, "TILL_PRICING_CURRENCY", defaultCurrency)))
	if err != nil {
		invalid = append(invalid, "Pricing.Currency")
	} else {
		cfg.Pricing.Currency = unit
	}

	loc, err := time.LoadLocation(cfg.Pricing.Timezone)
	if err != nil {
		invalid = append(invalid, "Pricing.Timezone")
	} else {
		cfg.Pricing.Location = loc
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	switch cfg.Store.Backend {
	case StoreBackendFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreBackendMemory:
	default:
		missing = append(missing, "Store.Backend")
	}
	if cfg.Features.EnableShiftEvents {
		if cfg.PubSub.ProjectID == "" {
			missing = append(missing, "PubSub.ProjectID")
		}
		if strings.TrimSpace(cfg.PubSub.ShiftEventsTopic) == "" {
			missing = append(missing, "PubSub.ShiftEventsTopic")
		}
	}
	if cfg.Cash.DescriptionLimit <= 0 {
		missing = append(missing, "Cash.DescriptionLimit")
	}
	if strings.TrimSpace(cfg.Pricing.DefaultPaymentMethod) == "" {
		missing = append(missing, "Pricing.DefaultPaymentMethod")
	}
	switch cfg.Pricing.Affinity {
	case "assume_default", "exclude_until_known":
	default:
		missing = append(missing, "Pricing.Affinity")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

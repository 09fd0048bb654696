package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/text/currency"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultEnvironment         = "local"
	defaultStoreCurrency       = "NOK"
	defaultStoreTimezone       = "Europe/Oslo"
	defaultDatabaseDriver      = "firestore"
	defaultWalletCurrency      = "EUR"
	defaultCryptoPayCurrency   = "btc"
	defaultPollInterval        = 10 * time.Second
	defaultPaymentWindow       = 2 * time.Hour
	defaultSweepLimit          = 50
	defaultAdminSessionTTL     = 12 * time.Hour
	defaultCartTTL             = 720 * time.Hour
	defaultNotifyDriver        = "log"
	defaultImageURLTTL         = 15 * time.Minute
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultIdempotencyLease    = 2 * time.Minute
	defaultWebhookBurst        = 60
	defaultLogLevel            = "info"
	minAdminSessionSecretBytes = 32
	minCartHashKeyBytes        = 32
	maxWalletRateFractionDigit = 6
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Redis       RedisConfig
	Storage     StorageConfig
	PSP         PSPConfig
	Reconcile   ReconcileConfig
	Admin       AdminConfig
	Cart        CartConfig
	Notify      NotifyConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	RateLimits  RateLimitConfig
	Log         LogConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port          string
	Environment   string
	PublicBaseURL string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

// StoreConfig holds storefront-wide settings.
type StoreConfig struct {
	Currency string
	Timezone string
	Location *time.Location
}

// DatabaseConfig selects the order store backend.
type DatabaseConfig struct {
	Driver string
	URL    string
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// RedisConfig points at the shared Redis used for carts, sessions and idempotency.
type RedisConfig struct {
	URL string
}

// StorageConfig configures signed product image URLs.
type StorageConfig struct {
	ImagesBucket          string
	SignerCredentialsFile string
	ImageURLTTL           time.Duration
}

// PSPConfig collects payment provider credentials. A provider without credentials is disabled.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	PayPalClientID      string
	PayPalSecret        string
	PayPalBaseURL       string
	WalletCurrency      string
	WalletRate          string
	CryptoAPIKey        string
	CryptoBaseURL       string
	CryptoIPNSecret     string
	CryptoPayCurrency   string
}

// ReconcileConfig tunes crypto reconciliation.
type ReconcileConfig struct {
	PollInterval  time.Duration
	PaymentWindow time.Duration
	// SweepInterval enables the in-process sweep. Zero leaves sweeping to the scheduler.
	SweepInterval time.Duration
	SweepLimit    int
}

// AdminConfig configures the operator console.
type AdminConfig struct {
	SessionSecret     string
	SessionTTL        time.Duration
	StrictTransitions bool
}

// CartConfig configures the cart cookie and persistence.
type CartConfig struct {
	CookieHashKey  string
	CookieBlockKey string
	TTL            time.Duration
}

// NotifyConfig selects how order confirmations leave the service.
type NotifyConfig struct {
	Driver       string
	PubSubTopic  string
	KafkaBrokers []string
	KafkaTopic   string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	OIDC OIDCConfig
}

// OIDCConfig controls Google-signed token verification on internal endpoints.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
	// ServiceAccounts, when set, limits internal callers to these service account emails.
	ServiceAccounts []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
	// Lease bounds how long an unfinished order submission blocks retries of its key.
	Lease time.Duration
}

// RateLimitConfig controls request throttling on public webhook endpoints.
type RateLimitConfig struct {
	WebhookBurst int
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
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

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets failed to resolve.
type MissingSecretsError struct {
	secrets []missingSecret
}

type missingSecret struct {
	name     string
	redacted string
}

func (e *MissingSecretsError) Error() string {
	if e == nil || len(e.secrets) == 0 {
		return "missing required secrets"
	}
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// RedactedNames returns hashed secret identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.redacted)
	}
	sort.Strings(out)
	return out
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil || len(e.secrets) == 0 {
		return nil
	}
	out := make([]string, 0, len(e.secrets))
	for _, secret := range e.secrets {
		out = append(out, secret.name)
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile               string
	configFile            string
	envMap                map[string]string
	useSystemEnv          bool
	secret                SecretResolver
	requiredSecrets       []string
	panicOnMissingSecrets bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithConfigFile reads a YAML, TOML or JSON file whose nested keys map onto API_ variables,
// e.g. psp.stripe_api_key becomes API_PSP_STRIPE_API_KEY.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) {
		o.configFile = path
	}
}

// WithEnvMap injects an explicit key/value map that takes precedence over everything else.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks the provided secret identifiers as mandatory.
// Identifiers match the config field names recorded by the loader (e.g. "Admin.SessionSecret").
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// WithPanicOnMissingSecrets causes Load to panic when required secrets are missing.
func WithPanicOnMissingSecrets() Option {
	return func(o *loaderOptions) {
		o.panicOnMissingSecrets = true
	}
}

// EnvironmentValues returns the merged key/value map using the same precedence as Load
// (config file < .env < process env < explicit map). Callers use it to build the secret
// fetcher before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	layers, err := readLayers(options)
	if err != nil {
		return nil, err
	}
	values := make(map[string]string)
	for _, layer := range layers {
		for key, value := range layer {
			values[key] = value
		}
	}
	return values, nil
}

func defaultOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
}

// readLayers returns the sources from lowest to highest precedence.
func readLayers(options loaderOptions) ([]map[string]string, error) {
	fileValues, err := readConfigFile(options.configFile)
	if err != nil {
		return nil, err
	}
	dotEnvValues, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	layers := []map[string]string{fileValues, dotEnvValues}
	if options.useSystemEnv {
		system := make(map[string]string)
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			system[strings.TrimSpace(key)] = value
		}
		layers = append(layers, system)
	}
	layers = append(layers, options.envMap)
	return layers, nil
}

// Load assembles the application configuration from defaults, the optional config file, .env
// overrides, environment variables and Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	layers, err := readLayers(options)
	if err != nil {
		return Config{}, err
	}
	lookup := func(key string) (string, bool) {
		for i := len(layers) - 1; i >= 0; i-- {
			if value, ok := layers[i][key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:          stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			Environment:   strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
			PublicBaseURL: strings.TrimRight(stringWithDefault(lookup, "API_PUBLIC_BASE_URL", ""), "/"),
			ReadTimeout:   durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:  durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:   durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Store: StoreConfig{
			Currency: strings.ToUpper(stringWithDefault(lookup, "API_STORE_CURRENCY", defaultStoreCurrency)),
			Timezone: stringWithDefault(lookup, "API_STORE_TIMEZONE", defaultStoreTimezone),
		},
		Database: DatabaseConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_DATABASE_DRIVER", defaultDatabaseDriver)),
			URL:    stringWithDefault(lookup, "API_DATABASE_URL", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Redis: RedisConfig{
			URL: stringWithDefault(lookup, "API_REDIS_URL", ""),
		},
		Storage: StorageConfig{
			ImagesBucket:          stringWithDefault(lookup, "API_STORAGE_IMAGES_BUCKET", ""),
			SignerCredentialsFile: stringWithDefault(lookup, "API_STORAGE_SIGNER_CREDENTIALS_FILE", ""),
			ImageURLTTL:           durationWithDefault(lookup, "API_STORAGE_IMAGE_URL_TTL", defaultImageURLTTL),
		},
		PSP: PSPConfig{
			StripeAPIKey:        stringWithDefault(lookup, "API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: stringWithDefault(lookup, "API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			PayPalClientID:      stringWithDefault(lookup, "API_PSP_PAYPAL_CLIENT_ID", ""),
			PayPalSecret:        stringWithDefault(lookup, "API_PSP_PAYPAL_SECRET", ""),
			PayPalBaseURL:       stringWithDefault(lookup, "API_PSP_PAYPAL_BASE_URL", ""),
			WalletCurrency:      strings.ToUpper(stringWithDefault(lookup, "API_PSP_WALLET_CURRENCY", defaultWalletCurrency)),
			WalletRate:          stringWithDefault(lookup, "API_PSP_WALLET_RATE", ""),
			CryptoAPIKey:        stringWithDefault(lookup, "API_PSP_CRYPTO_API_KEY", ""),
			CryptoBaseURL:       stringWithDefault(lookup, "API_PSP_CRYPTO_BASE_URL", ""),
			CryptoIPNSecret:     stringWithDefault(lookup, "API_PSP_CRYPTO_IPN_SECRET", ""),
			CryptoPayCurrency:   strings.ToLower(stringWithDefault(lookup, "API_PSP_CRYPTO_PAY_CURRENCY", defaultCryptoPayCurrency)),
		},
		Reconcile: ReconcileConfig{
			PollInterval:  durationWithDefault(lookup, "API_RECONCILE_POLL_INTERVAL", defaultPollInterval),
			PaymentWindow: durationWithDefault(lookup, "API_RECONCILE_PAYMENT_WINDOW", defaultPaymentWindow),
			SweepInterval: durationWithDefault(lookup, "API_RECONCILE_SWEEP_INTERVAL", 0),
			SweepLimit:    intWithDefault(lookup, "API_RECONCILE_SWEEP_LIMIT", defaultSweepLimit),
		},
		Admin: AdminConfig{
			SessionSecret:     stringWithDefault(lookup, "API_ADMIN_SESSION_SECRET", ""),
			SessionTTL:        durationWithDefault(lookup, "API_ADMIN_SESSION_TTL", defaultAdminSessionTTL),
			StrictTransitions: boolWithDefault(lookup, "API_ADMIN_STRICT_TRANSITIONS", false),
		},
		Cart: CartConfig{
			CookieHashKey:  stringWithDefault(lookup, "API_CART_COOKIE_HASH_KEY", ""),
			CookieBlockKey: stringWithDefault(lookup, "API_CART_COOKIE_BLOCK_KEY", ""),
			TTL:            durationWithDefault(lookup, "API_CART_TTL", defaultCartTTL),
		},
		Notify: NotifyConfig{
			Driver:       strings.ToLower(stringWithDefault(lookup, "API_NOTIFY_DRIVER", defaultNotifyDriver)),
			PubSubTopic:  stringWithDefault(lookup, "API_NOTIFY_PUBSUB_TOPIC", ""),
			KafkaBrokers: csvWithDefault(lookup, "API_NOTIFY_KAFKA_BROKERS"),
			KafkaTopic:   stringWithDefault(lookup, "API_NOTIFY_KAFKA_TOPIC", ""),
		},
		Security: SecurityConfig{
			OIDC: OIDCConfig{
				JWKSURL:         stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:        stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:         csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS"),
				ServiceAccounts: csvWithDefault(lookup, "API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			Lease:  durationWithDefault(lookup, "API_IDEMPOTENCY_LEASE", defaultIdempotencyLease),
		},
		RateLimits: RateLimitConfig{
			WebhookBurst: intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_BURST", defaultWebhookBurst),
		},
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", stringWithDefault(lookup, "API_LOG_LEVEL", defaultLogLevel))),
		},
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}

	resolvedSecrets := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Database.URL", &cfg.Database.URL},
		{"Redis.URL", &cfg.Redis.URL},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"PSP.PayPalSecret", &cfg.PSP.PayPalSecret},
		{"PSP.CryptoAPIKey", &cfg.PSP.CryptoAPIKey},
		{"PSP.CryptoIPNSecret", &cfg.PSP.CryptoIPNSecret},
		{"Admin.SessionSecret", &cfg.Admin.SessionSecret},
		{"Cart.CookieHashKey", &cfg.Cart.CookieHashKey},
		{"Cart.CookieBlockKey", &cfg.Cart.CookieBlockKey},
	}
	for _, target := range secretFields {
		resolved, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = resolved
		resolvedSecrets[target.name] = strings.TrimSpace(resolved)
	}

	if err := validateConfig(&cfg); err != nil {
		return Config{}, err
	}

	if missing := findMissingSecrets(options.requiredSecrets, resolvedSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			fmt.Fprintf(os.Stderr, "config: %s\n", missing.Error())
			panic(missing)
		}
		return Config{}, missing
	}

	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

// validateConfig checks cross-field rules and fills derived values such as the store location.
func validateConfig(cfg *Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if _, err := currency.ParseISO(cfg.Store.Currency); err != nil {
		invalid = append(invalid, "Store.Currency")
	}
	location, err := time.LoadLocation(cfg.Store.Timezone)
	if err != nil {
		invalid = append(invalid, "Store.Timezone")
	} else {
		cfg.Store.Location = location
	}

	switch cfg.Database.Driver {
	case "firestore":
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case "postgres":
		if cfg.Database.URL == "" {
			invalid = append(invalid, "Database.URL")
		}
	case "sqlite":
		if cfg.Database.URL == "" {
			cfg.Database.URL = "file:orders.db?_pragma=busy_timeout(5000)"
		}
	default:
		invalid = append(invalid, "Database.Driver")
	}

	if cfg.PSP.PayPalClientID != "" || cfg.PSP.PayPalSecret != "" {
		if _, err := currency.ParseISO(cfg.PSP.WalletCurrency); err != nil {
			invalid = append(invalid, "PSP.WalletCurrency")
		}
		if cfg.PSP.WalletCurrency != cfg.Store.Currency && !validRate(cfg.PSP.WalletRate) {
			invalid = append(invalid, "PSP.WalletRate")
		}
		if cfg.Server.PublicBaseURL == "" {
			invalid = append(invalid, "Server.PublicBaseURL")
		}
	}
	if cfg.PSP.StripeAPIKey != "" && cfg.PSP.StripeWebhookSecret == "" {
		invalid = append(invalid, "PSP.StripeWebhookSecret")
	}
	if cfg.PSP.CryptoAPIKey != "" && cfg.PSP.CryptoIPNSecret == "" {
		invalid = append(invalid, "PSP.CryptoIPNSecret")
	}

	if cfg.Reconcile.PollInterval <= 0 {
		invalid = append(invalid, "Reconcile.PollInterval")
	}
	if cfg.Reconcile.PaymentWindow <= 0 {
		invalid = append(invalid, "Reconcile.PaymentWindow")
	}
	if cfg.Reconcile.SweepInterval < 0 {
		invalid = append(invalid, "Reconcile.SweepInterval")
	}
	if cfg.Reconcile.SweepLimit <= 0 {
		invalid = append(invalid, "Reconcile.SweepLimit")
	}

	if len(cfg.Admin.SessionSecret) < minAdminSessionSecretBytes {
		invalid = append(invalid, "Admin.SessionSecret")
	}
	if cfg.Admin.SessionTTL <= 0 {
		invalid = append(invalid, "Admin.SessionTTL")
	}

	if len(cfg.Cart.CookieHashKey) < minCartHashKeyBytes {
		invalid = append(invalid, "Cart.CookieHashKey")
	}
	switch len(cfg.Cart.CookieBlockKey) {
	case 0, 16, 24, 32:
	default:
		invalid = append(invalid, "Cart.CookieBlockKey")
	}
	if cfg.Cart.TTL <= 0 {
		invalid = append(invalid, "Cart.TTL")
	}

	switch cfg.Notify.Driver {
	case "log":
	case "pubsub":
		if cfg.Notify.PubSubTopic == "" {
			invalid = append(invalid, "Notify.PubSubTopic")
		}
		if cfg.Firebase.ProjectID == "" && cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firebase.ProjectID")
		}
	case "kafka":
		if len(cfg.Notify.KafkaBrokers) == 0 {
			invalid = append(invalid, "Notify.KafkaBrokers")
		}
		if cfg.Notify.KafkaTopic == "" {
			invalid = append(invalid, "Notify.KafkaTopic")
		}
	default:
		invalid = append(invalid, "Notify.Driver")
	}

	if cfg.Storage.ImageURLTTL <= 0 || cfg.Storage.ImageURLTTL > 7*24*time.Hour {
		invalid = append(invalid, "Storage.ImageURLTTL")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.Lease <= 0 || cfg.Idempotency.Lease > cfg.Idempotency.TTL {
		invalid = append(invalid, "Idempotency.Lease")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		invalid = append(invalid, "Log.Level")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

// validRate accepts a positive decimal with at most six fractional digits.
func validRate(value string) bool {
	value = strings.TrimSpace(value)
	whole, frac, _ := strings.Cut(value, ".")
	if whole == "" || len(frac) > maxWalletRateFractionDigit {
		return false
	}
	for _, r := range whole + frac {
		if r < '0' || r > '9' {
			return false
		}
	}
	parsed, err := strconv.ParseFloat(value, 64)
	return err == nil && parsed > 0
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	if len(required) == 0 {
		return nil
	}
	missing := make([]missingSecret, 0, len(required))
	seen := make(map[string]struct{})
	for _, name := range required {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		if strings.TrimSpace(resolved[trimmed]) != "" {
			continue
		}
		missing = append(missing, missingSecret{name: trimmed, redacted: redactSecretName(trimmed)})
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{secrets: missing}
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func redactSecretName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func readConfigFile(path string) (map[string]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	replacer := strings.NewReplacer(".", "_", "-", "_")
	values := make(map[string]string)
	for _, key := range v.AllKeys() {
		envKey := strings.ToUpper(replacer.Replace(key))
		if !strings.HasPrefix(envKey, "API_") && envKey != "LOG_LEVEL" {
			envKey = "API_" + envKey
		}
		if list, ok := v.Get(key).([]any); ok {
			parts := make([]string, 0, len(list))
			for _, item := range list {
				parts = append(parts, fmt.Sprint(item))
			}
			values[envKey] = strings.Join(parts, ",")
			continue
		}
		values[envKey] = v.GetString(key)
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
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package config

import (
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Fees         FeesConfig
	Fulfillment  FulfillmentConfig
	RateLimit    RateLimitConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Outbox       OutboxConfig
	Tracing      TracingConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Fees.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"WISHPOT_APP_ENV" required:"true"`
	Port         string `envconfig:"WISHPOT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"WISHPOT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"WISHPOT_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"WISHPOT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"WISHPOT_DB_DSN"`
	Driver string `envconfig:"WISHPOT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"WISHPOT_DB_HOST"`
	LegacyPort     int    `envconfig:"WISHPOT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"WISHPOT_DB_USER"`
	LegacyPassword string `envconfig:"WISHPOT_DB_PASSWORD"`
	LegacyName     string `envconfig:"WISHPOT_DB_NAME"`
	LegacySSLMode  string `envconfig:"WISHPOT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"WISHPOT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"WISHPOT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"WISHPOT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"WISHPOT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"WISHPOT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"WISHPOT_REDIS_ADDR"`
	Password     string        `envconfig:"WISHPOT_REDIS_PASSWORD"`
	DB           int           `envconfig:"WISHPOT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"WISHPOT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"WISHPOT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"WISHPOT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"WISHPOT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"WISHPOT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"WISHPOT_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"WISHPOT_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"WISHPOT_JWT_EXPIRATION_MINUTES" default:"60"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"WISHPOT_AUTO_MIGRATE" default:"false"`
}

// FeesConfig holds the platform fee applied to every redemption.
type FeesConfig struct {
	RatePercent float64 `envconfig:"WISHPOT_FEE_RATE_PERCENT" default:"5.0"`
}

func (f FeesConfig) validate() error {
	if math.IsNaN(f.RatePercent) || f.RatePercent < 0 || f.RatePercent >= 100 {
		return fmt.Errorf("%s must be within [0, 100), got %v", EnvFeeRatePercent, f.RatePercent)
	}
	return nil
}

type FulfillmentConfig struct {
	EstimatedArrivalDays int           `envconfig:"WISHPOT_FULFILLMENT_ESTIMATED_ARRIVAL_DAYS" default:"3"`
	ReconcileInterval    time.Duration `envconfig:"WISHPOT_FULFILLMENT_RECONCILE_INTERVAL" default:"15m"`
	ReconcileLookback    time.Duration `envconfig:"WISHPOT_FULFILLMENT_RECONCILE_LOOKBACK" default:"30m"`
	ReconcileLimit       int           `envconfig:"WISHPOT_FULFILLMENT_RECONCILE_LIMIT" default:"100"`
	StalePendingAfter    time.Duration `envconfig:"WISHPOT_FULFILLMENT_STALE_PENDING_AFTER" default:"24h"`
	OutboxRetention      time.Duration `envconfig:"WISHPOT_OUTBOX_RETENTION" default:"720h"`
}

// EstimatedArrival returns the fixed payout arrival offset.
func (f FulfillmentConfig) EstimatedArrival() time.Duration {
	if f.EstimatedArrivalDays <= 0 {
		return 0
	}
	return time.Duration(f.EstimatedArrivalDays) * 24 * time.Hour
}

type RateLimitConfig struct {
	RedemptionPerSecond float64 `envconfig:"WISHPOT_RATE_LIMIT_REDEMPTION_RPS" default:"5"`
	RedemptionBurst     int     `envconfig:"WISHPOT_RATE_LIMIT_REDEMPTION_BURST" default:"10"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"WISHPOT_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"WISHPOT_GCP_CREDENTIALS_JSON"`
}

type PubSubConfig struct {
	FulfillmentTopic  string `envconfig:"WISHPOT_PUBSUB_FULFILLMENT_TOPIC" default:"wishpot-fulfillment-events"`
	ContributionTopic string `envconfig:"WISHPOT_PUBSUB_CONTRIBUTION_TOPIC" default:"wishpot-contribution-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"WISHPOT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"WISHPOT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"WISHPOT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey               string        `envconfig:"WISHPOT_STRIPE_API_KEY"`
	Secret               string        `envconfig:"WISHPOT_STRIPE_SECRET"`
	Env                  string        `envconfig:"WISHPOT_STRIPE_ENV" default:"test"`
	Currency             string        `envconfig:"WISHPOT_STRIPE_CURRENCY" default:"usd"`
	ConnectCountry       string        `envconfig:"WISHPOT_STRIPE_CONNECT_COUNTRY" default:"US"`
	OnboardingReturnURL  string        `envconfig:"WISHPOT_STRIPE_ONBOARDING_RETURN_URL"`
	OnboardingRefreshURL string        `envconfig:"WISHPOT_STRIPE_ONBOARDING_REFRESH_URL"`
	BreakerFailureRatio  float64       `envconfig:"WISHPOT_STRIPE_BREAKER_FAILURE_RATIO" default:"0.6"`
	BreakerOpenTimeout   time.Duration `envconfig:"WISHPOT_STRIPE_BREAKER_OPEN_TIMEOUT" default:"30s"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type TracingConfig struct {
	Enabled      bool    `envconfig:"WISHPOT_TRACING_ENABLED" default:"false"`
	OTLPEndpoint string  `envconfig:"WISHPOT_TRACING_OTLP_ENDPOINT" default:"localhost:4318"`
	Insecure     bool    `envconfig:"WISHPOT_TRACING_INSECURE" default:"true"`
	SampleRatio  float64 `envconfig:"WISHPOT_TRACING_SAMPLE_RATIO" default:"1.0"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}

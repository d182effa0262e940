package config

const EnvPrefix = "WISHPOT"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv         = "WISHPOT_APP_ENV"
	EnvPort           = "WISHPOT_APP_PORT"
	EnvDBDSN          = "WISHPOT_DB_DSN"
	EnvDBHost         = "WISHPOT_DB_HOST"
	EnvDBUser         = "WISHPOT_DB_USER"
	EnvDBName         = "WISHPOT_DB_NAME"
	EnvRedisURL       = "WISHPOT_REDIS_URL"
	EnvJWTSecret      = "WISHPOT_JWT_SECRET"
	EnvJWTIssuer      = "WISHPOT_JWT_ISSUER"
	EnvFeeRatePercent = "WISHPOT_FEE_RATE_PERCENT"
	EnvArrivalDays    = "WISHPOT_FULFILLMENT_ESTIMATED_ARRIVAL_DAYS"
	EnvStripeEnv      = "WISHPOT_STRIPE_ENV"
	EnvGCPProjectID   = "WISHPOT_GCP_PROJECT_ID"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

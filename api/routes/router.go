package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wishpot/wishpot-backend/api/controllers"
	webhookcontrollers "github.com/wishpot/wishpot-backend/api/controllers/webhooks"
	"github.com/wishpot/wishpot-backend/api/middleware"
	"github.com/wishpot/wishpot-backend/pkg/config"
	"github.com/wishpot/wishpot-backend/pkg/db"
	"github.com/wishpot/wishpot-backend/pkg/logger"
	"github.com/wishpot/wishpot-backend/pkg/redis"
	"github.com/wishpot/wishpot-backend/pkg/stripe"
)

// Services bundles the domain services the HTTP layer dispatches to. A nil
// field makes its routes answer InternalError.
type Services struct {
	Fulfillments controllers.FulfillmentService
	Preview      controllers.RedemptionPreviewer
	Payouts      controllers.PayoutAccountService
	Webhooks     webhookcontrollers.StripeWebhookService
	WebhookGuard webhookcontrollers.StripeEventGuard
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	gatherer prometheus.Gatherer,
	stripeClient *stripe.Client,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	deps := map[string]controllers.Pinger{"db": dbP}
	var idempotencyStore redis.IdempotencyStore
	if redisClient != nil {
		deps["redis"] = redisClient
		idempotencyStore = redisClient
	}
	redemptionLimiter := middleware.NewRateLimiter(cfg.RateLimit)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, deps, logg))
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		var signer webhookcontrollers.StripeSigner
		if stripeClient != nil {
			signer = stripeClient
		}
		r.Post("/stripe", webhookcontrollers.StripeWebhook(svc.Webhooks, signer, svc.WebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, logg))

		r.Route("/fulfillments", func(r chi.Router) {
			r.With(middleware.RateLimit(redemptionLimiter, logg)).
				Post("/", controllers.FulfillmentCreate(svc.Fulfillments, logg))
			r.Get("/{fulfillmentId}", controllers.FulfillmentGet(svc.Fulfillments, logg))
		})

		r.Get("/events/{eventId}/items/{itemId}/redemption-preview", controllers.RedemptionPreview(svc.Preview, logg))

		r.Route("/payouts", func(r chi.Router) {
			r.Get("/account", controllers.PayoutAccountStatus(svc.Payouts, logg))
			r.Post("/onboarding", controllers.PayoutOnboardingStart(svc.Payouts, logg))
		})
	})

	return r
}

package payouts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stripe/stripe-go/v84"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wishpot/wishpot-backend/pkg/config"
	pkgerrors "github.com/wishpot/wishpot-backend/pkg/errors"
	"github.com/wishpot/wishpot-backend/pkg/logger"
	pkgstripe "github.com/wishpot/wishpot-backend/pkg/stripe"
)

const (
	breakerName        = "stripe-payouts"
	breakerMinRequests = 5
	onboardingLinkType = "account_onboarding"
)

var errBreakerOpen = errors.New("payment processor circuit open")

// StripeConnector implements Connector and AccountProvisioner on Stripe Connect.
type StripeConnector struct {
	api        stripeAPI
	breaker    *gobreaker.CircuitBreaker
	tracer     trace.Tracer
	currency   string
	country    string
	returnURL  string
	refreshURL string
	logg       *logger.Logger
}

// NewStripeConnector builds the connector on an initialized Stripe client.
func NewStripeConnector(client *pkgstripe.Client, cfg config.StripeConfig, logg *logger.Logger) (*StripeConnector, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return newStripeConnector(sdkAPI{}, cfg, client.Currency(), client.ConnectCountry(), logg), nil
}

func newStripeConnector(api stripeAPI, cfg config.StripeConfig, currency, country string, logg *logger.Logger) *StripeConnector {
	c := &StripeConnector{
		api:        api,
		tracer:     otel.Tracer("wishpot/payouts"),
		currency:   strings.ToLower(currency),
		country:    country,
		returnURL:  cfg.OnboardingReturnURL,
		refreshURL: cfg.OnboardingRefreshURL,
		logg:       logg,
	}
	c.breaker = gobreaker.NewCircuitBreaker(breakerSettings(cfg, logg))
	return c
}

func breakerSettings(cfg config.StripeConfig, logg *logger.Logger) gobreaker.Settings {
	ratio := cfg.BreakerFailureRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 0.6
	}
	timeout := cfg.BreakerOpenTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		// Processor rejections are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil || isClientError(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "payout circuit breaker state changed")
		},
	}
}

func (c *StripeConnector) execute(fn func() (any, error)) (any, error) {
	res, err := c.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errBreakerOpen
	}
	return res, err
}

func (c *StripeConnector) CheckReadiness(ctx context.Context, externalAccountID string) (Readiness, error) {
	ctx, span := c.tracer.Start(ctx, "payouts.check_readiness",
		trace.WithAttributes(attribute.String("payout.account_id", externalAccountID)),
	)
	defer span.End()

	if strings.TrimSpace(externalAccountID) == "" {
		return Readiness{}, pkgerrors.New(pkgerrors.CodePayoutAccountInvalid, "payout account reference missing")
	}

	res, err := c.execute(func() (any, error) {
		return c.api.GetAccount(ctx, externalAccountID)
	})
	if err != nil {
		recordSpanError(span, err)
		if isMissingResource(err) {
			return Readiness{}, pkgerrors.Wrap(pkgerrors.CodePayoutAccountInvalid, err, "payout account no longer resolves")
		}
		return Readiness{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check payout account")
	}

	readiness := ReadinessFromAccount(res.(*stripe.Account))
	span.SetAttributes(attribute.Bool("payout.ready", readiness.Ready()))
	return readiness, nil
}

// ReadinessFromAccount reads payout capability flags off a Connect account.
func ReadinessFromAccount(acct *stripe.Account) Readiness {
	if acct == nil {
		return Readiness{}
	}
	r := Readiness{
		OnboardingCompleted: acct.DetailsSubmitted,
		ChargesEnabled:      acct.ChargesEnabled,
		PayoutsEnabled:      acct.PayoutsEnabled,
	}
	if acct.Capabilities != nil {
		r.TransfersEnabled = acct.Capabilities.Transfers == stripe.AccountCapabilityStatusActive
	}
	if acct.Requirements != nil {
		r.DisabledReason = string(acct.Requirements.DisabledReason)
	}
	return r
}

// InitiateTransfer sends the net amount to the connected account. The
// idempotency key is forwarded so a repeated call never creates a second transfer.
func (c *StripeConnector) InitiateTransfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	ctx, span := c.tracer.Start(ctx, "payouts.initiate_transfer",
		trace.WithAttributes(
			attribute.String("payout.account_id", req.ExternalAccountID),
			attribute.Int64("payout.amount_cents", req.AmountCents),
			attribute.String("fulfillment.id", req.FulfillmentID.String()),
		),
	)
	defer span.End()

	if req.AmountCents <= 0 {
		return TransferResult{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "transfer amount must be positive")
	}
	if req.ExternalAccountID == "" || req.IdempotencyKey == "" {
		return TransferResult{}, pkgerrors.New(pkgerrors.CodeValidation, "destination and idempotency key are required")
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(c.currency),
		Destination:   stripe.String(req.ExternalAccountID),
		TransferGroup: stripe.String(req.FulfillmentID.String()),
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("fulfillment_id", req.FulfillmentID.String())
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	res, err := c.execute(func() (any, error) {
		return c.api.NewTransfer(ctx, params)
	})
	if err != nil {
		recordSpanError(span, err)
		return TransferResult{}, classifyTransferError(err)
	}

	tr := res.(*stripe.Transfer)
	span.SetAttributes(attribute.String("payout.transfer_id", tr.ID))
	return TransferResult{Reference: tr.ID, CreatedAt: unixOrNow(tr.Created)}, nil
}

// classifyTransferError separates definitive refusals from outcomes the
// processor may still have acted on; the latter stay retryable.
func classifyTransferError(err error) error {
	if errors.Is(err, errBreakerOpen) {
		return NewTransferRejected(CodeProcessorUnavailable, "payment processor unavailable")
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && isClientError(err) {
		code := string(stripeErr.Code)
		if code == "" {
			code = string(stripeErr.Type)
		}
		return NewTransferRejected(code, stripeErr.Msg)
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfer outcome unknown")
}

func (c *StripeConnector) LookupTransfer(ctx context.Context, lookup TransferLookup) (*TransferStatus, error) {
	ctx, span := c.tracer.Start(ctx, "payouts.lookup_transfer",
		trace.WithAttributes(
			attribute.String("payout.transfer_id", lookup.Reference),
			attribute.String("fulfillment.id", lookup.FulfillmentID.String()),
		),
	)
	defer span.End()

	var (
		tr  *stripe.Transfer
		err error
	)
	switch {
	case lookup.Reference != "":
		var res any
		res, err = c.execute(func() (any, error) {
			return c.api.GetTransfer(ctx, lookup.Reference)
		})
		if err == nil {
			tr = res.(*stripe.Transfer)
		} else if isMissingResource(err) {
			err = nil
		}
	default:
		var res any
		res, err = c.execute(func() (any, error) {
			return c.api.ListTransfersByGroup(ctx, lookup.FulfillmentID.String())
		})
		if err == nil {
			if list := res.([]*stripe.Transfer); len(list) > 0 {
				tr = list[0]
			}
		}
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup transfer")
	}
	if tr == nil {
		span.SetAttributes(attribute.Bool("payout.transfer_found", false))
		return nil, nil
	}

	span.SetAttributes(
		attribute.Bool("payout.transfer_found", true),
		attribute.Bool("payout.transfer_reversed", tr.Reversed),
	)
	return &TransferStatus{
		Reference:           tr.ID,
		AmountCents:         tr.Amount,
		ReversedAmountCents: tr.AmountReversed,
		Reversed:            tr.Reversed,
		CreatedAt:           unixOrNow(tr.Created),
	}, nil
}

func (c *StripeConnector) CreateAccount(ctx context.Context, input CreateAccountInput) (string, error) {
	ctx, span := c.tracer.Start(ctx, "payouts.create_account",
		trace.WithAttributes(attribute.String("user.id", input.UserID.String())),
	)
	defer span.End()

	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(c.country),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if input.Email != "" {
		params.Email = stripe.String(input.Email)
	}
	params.AddMetadata("user_id", input.UserID.String())
	params.SetIdempotencyKey("payout-account-" + input.UserID.String())

	res, err := c.execute(func() (any, error) {
		return c.api.NewAccount(ctx, params)
	})
	if err != nil {
		recordSpanError(span, err)
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout account")
	}
	return res.(*stripe.Account).ID, nil
}

func (c *StripeConnector) CreateOnboardingLink(ctx context.Context, externalAccountID string) (*OnboardingLink, error) {
	ctx, span := c.tracer.Start(ctx, "payouts.create_onboarding_link",
		trace.WithAttributes(attribute.String("payout.account_id", externalAccountID)),
	)
	defer span.End()

	params := &stripe.AccountLinkParams{
		Account:    stripe.String(externalAccountID),
		RefreshURL: stripe.String(c.refreshURL),
		ReturnURL:  stripe.String(c.returnURL),
		Type:       stripe.String(onboardingLinkType),
	}
	res, err := c.execute(func() (any, error) {
		return c.api.NewAccountLink(ctx, params)
	})
	if err != nil {
		recordSpanError(span, err)
		if isMissingResource(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodePayoutAccountInvalid, err, "payout account no longer resolves")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create onboarding link")
	}
	link := res.(*stripe.AccountLink)
	return &OnboardingLink{URL: link.URL, ExpiresAt: unixOrNow(link.ExpiresAt)}, nil
}

func isClientError(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	status := stripeErr.HTTPStatusCode
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func isMissingResource(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusNotFound:
		return true
	case stripeErr.Code == stripe.ErrorCodeResourceMissing, stripeErr.Code == stripe.ErrorCodeAccountInvalid:
		return true
	case stripeErr.HTTPStatusCode == http.StatusForbidden:
		// Revoked platform access to the connected account.
		return true
	}
	return false
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}

func unixOrNow(sec int64) time.Time {
	if sec <= 0 {
		return time.Now().UTC()
	}
	return time.Unix(sec, 0).UTC()
}

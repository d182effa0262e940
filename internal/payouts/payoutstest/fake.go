// Package payoutstest provides an in-memory payout connector for tests.
package payoutstest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wishpot/wishpot-backend/internal/payouts"
)

// Connector records calls and returns scripted results. Transfers are keyed
// by idempotency key the way the processor dedupes them.
type Connector struct {
	mu sync.Mutex

	Readiness      payouts.Readiness
	ReadinessErr   error
	TransferErr    error
	LookupErr      error
	AccountID      string
	LinkURL        string
	ReadinessCalls int
	TransferCalls  int

	transfers  map[string]*payouts.TransferStatus
	byGroup    map[uuid.UUID]string
	Requests   []payouts.TransferRequest
	nextNumber int
}

// NewReady returns a connector whose accounts are fully onboarded.
func NewReady() *Connector {
	return &Connector{
		Readiness: payouts.Readiness{
			OnboardingCompleted: true,
			ChargesEnabled:      true,
			PayoutsEnabled:      true,
			TransfersEnabled:    true,
		},
		AccountID: "acct_test",
		LinkURL:   "https://connect.example/onboarding",
	}
}

func (c *Connector) CheckReadiness(ctx context.Context, externalAccountID string) (payouts.Readiness, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ReadinessCalls++
	return c.Readiness, c.ReadinessErr
}

func (c *Connector) InitiateTransfer(ctx context.Context, req payouts.TransferRequest) (payouts.TransferResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.TransferCalls++
	c.Requests = append(c.Requests, req)
	if c.TransferErr != nil {
		return payouts.TransferResult{}, c.TransferErr
	}
	c.init()
	if existing, ok := c.transfers[req.IdempotencyKey]; ok {
		return payouts.TransferResult{Reference: existing.Reference, CreatedAt: existing.CreatedAt}, nil
	}
	c.nextNumber++
	status := &payouts.TransferStatus{
		Reference:   fmt.Sprintf("tr_test_%d", c.nextNumber),
		AmountCents: req.AmountCents,
		CreatedAt:   time.Now().UTC(),
	}
	c.transfers[req.IdempotencyKey] = status
	c.byGroup[req.FulfillmentID] = req.IdempotencyKey
	return payouts.TransferResult{Reference: status.Reference, CreatedAt: status.CreatedAt}, nil
}

func (c *Connector) LookupTransfer(ctx context.Context, lookup payouts.TransferLookup) (*payouts.TransferStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LookupErr != nil {
		return nil, c.LookupErr
	}
	c.init()
	if lookup.Reference != "" {
		for _, status := range c.transfers {
			if status.Reference == lookup.Reference {
				copied := *status
				return &copied, nil
			}
		}
		return nil, nil
	}
	if key, ok := c.byGroup[lookup.FulfillmentID]; ok {
		copied := *c.transfers[key]
		return &copied, nil
	}
	return nil, nil
}

// Reverse marks a previously created transfer as reversed.
func (c *Connector) Reverse(reference string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, status := range c.transfers {
		if status.Reference == reference {
			status.Reversed = true
			status.ReversedAmountCents = status.AmountCents
		}
	}
}

// Seed registers a transfer the processor knows about without a request.
func (c *Connector) Seed(fulfillmentID uuid.UUID, status payouts.TransferStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
	key := "seed-" + fulfillmentID.String()
	c.transfers[key] = &status
	c.byGroup[fulfillmentID] = key
}

func (c *Connector) CreateAccount(ctx context.Context, input payouts.CreateAccountInput) (string, error) {
	return c.AccountID, nil
}

func (c *Connector) CreateOnboardingLink(ctx context.Context, externalAccountID string) (*payouts.OnboardingLink, error) {
	return &payouts.OnboardingLink{URL: c.LinkURL, ExpiresAt: time.Now().UTC().Add(10 * time.Minute)}, nil
}

func (c *Connector) init() {
	if c.transfers == nil {
		c.transfers = map[string]*payouts.TransferStatus{}
		c.byGroup = map[uuid.UUID]string{}
	}
}

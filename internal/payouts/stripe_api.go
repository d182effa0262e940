package payouts

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/accountlink"
	"github.com/stripe/stripe-go/v84/transfer"
)

// stripeAPI is the slice of the Stripe SDK the connector calls.
type stripeAPI interface {
	GetAccount(ctx context.Context, id string) (*stripe.Account, error)
	NewAccount(ctx context.Context, params *stripe.AccountParams) (*stripe.Account, error)
	NewAccountLink(ctx context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error)
	NewTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error)
	GetTransfer(ctx context.Context, id string) (*stripe.Transfer, error)
	ListTransfersByGroup(ctx context.Context, group string) ([]*stripe.Transfer, error)
}

// sdkAPI uses the package-level SDK functions keyed by stripe.Key.
type sdkAPI struct{}

func (sdkAPI) GetAccount(ctx context.Context, id string) (*stripe.Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	return account.GetByID(id, params)
}

func (sdkAPI) NewAccount(ctx context.Context, params *stripe.AccountParams) (*stripe.Account, error) {
	params.Context = ctx
	return account.New(params)
}

func (sdkAPI) NewAccountLink(ctx context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error) {
	params.Context = ctx
	return accountlink.New(params)
}

func (sdkAPI) NewTransfer(ctx context.Context, params *stripe.TransferParams) (*stripe.Transfer, error) {
	params.Context = ctx
	return transfer.New(params)
}

func (sdkAPI) GetTransfer(ctx context.Context, id string) (*stripe.Transfer, error) {
	params := &stripe.TransferParams{}
	params.Context = ctx
	return transfer.Get(id, params)
}

func (sdkAPI) ListTransfersByGroup(ctx context.Context, group string) ([]*stripe.Transfer, error) {
	params := &stripe.TransferListParams{TransferGroup: stripe.String(group)}
	params.Context = ctx
	params.Limit = stripe.Int64(10)

	var out []*stripe.Transfer
	it := transfer.List(params)
	for it.Next() {
		out = append(out, it.Transfer())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

package payments

import (
	"context"
	"errors"
)

var (
	// ErrSignatureInvalid is returned when a webhook signature is missing, malformed,
	// expired or does not match the shared secret.
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	// ErrPayloadInvalid is returned when a correctly signed webhook body cannot be parsed
	// into a known event shape.
	ErrPayloadInvalid = errors.New("webhook payload invalid")
)

// CheckoutParams describes a hosted checkout for a single pledge.
type CheckoutParams struct {
	Amount      int64  // cents
	Currency    string
	Reference   string // client-correlatable reference, the pledge id
	Description string
	Metadata    map[string]string
	SuccessURL  string
	CancelURL   string
}

// Checkout is the gateway's answer to CreateCheckout.
type Checkout struct {
	URL           string
	CorrelationID string // checkout session id
}

// PayoutParams describes a transfer to a connected account.
type PayoutParams struct {
	Destination    string
	Amount         int64 // cents
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// Payout is the gateway's answer to CreatePayout.
type Payout struct {
	TransferID string
}

// Gateway is the payment processor as seen by the funding state machine.
// Every call is bounded by the implementation's timeout; a timeout is a failure.
type Gateway interface {
	CreateCheckout(ctx context.Context, params CheckoutParams) (*Checkout, error)
	Refund(ctx context.Context, chargeRef string) error
	// ExpireCheckout closes an unpaid checkout session so it can no longer be paid.
	ExpireCheckout(ctx context.Context, sessionID string) error
	CreatePayout(ctx context.Context, params PayoutParams) (*Payout, error)
	ParseWebhook(rawBody []byte, signature string) (Event, error)
	// DecodeStoredEvent decodes a body that was verified when it was received.
	DecodeStoredEvent(rawBody []byte) (Event, error)
}

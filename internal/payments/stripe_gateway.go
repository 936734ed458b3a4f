package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe event types consumed by the marketplace.
const (
	stripeCheckoutCompleted    = "checkout.session.completed"
	stripeCheckoutAsyncSuccess = "checkout.session.async_payment_succeeded"
	stripeChargeRefunded       = "charge.refunded"
	stripeAccountUpdated       = "account.updated"
)

// StripeGateway implements Gateway with Stripe Checkout, Refunds and Connect transfers.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
	tolerance     time.Duration
	timeout       time.Duration
}

// NewStripeGateway creates a gateway whose outbound calls are bounded by timeout.
func NewStripeGateway(secretKey, webhookSecret string, timeout, webhookTolerance time.Duration) *StripeGateway {
	httpClient := &http.Client{Timeout: timeout}
	return &StripeGateway{
		api:           client.New(secretKey, stripe.NewBackends(httpClient)),
		webhookSecret: webhookSecret,
		tolerance:     webhookTolerance,
		timeout:       timeout,
	}
}

func (g *StripeGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// CreateCheckout opens a hosted Checkout Session in payment mode for one pledge.
func (g *StripeGateway) CreateCheckout(ctx context.Context, p CheckoutParams) (*Checkout, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(p.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(p.Description),
				},
				UnitAmount: stripe.Int64(p.Amount),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.Reference),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: p.Metadata,
		},
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Checkout{URL: sess.URL, CorrelationID: sess.ID}, nil
}

// Refund refunds the full amount of a payment intent. The idempotency key makes a
// retried refund of the same charge a no-op on Stripe's side.
func (g *StripeGateway) Refund(ctx context.Context, chargeRef string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.RefundParams{PaymentIntent: stripe.String(chargeRef)}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + chargeRef)
	if _, err := g.api.Refunds.New(params); err != nil {
		return fmt.Errorf("refund %s: %w", chargeRef, err)
	}
	return nil
}

// ExpireCheckout expires an open checkout session. A session that is already
// complete or expired is reported by Stripe as an error.
func (g *StripeGateway) ExpireCheckout(ctx context.Context, sessionID string) error {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	if _, err := g.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return fmt.Errorf("expire checkout session %s: %w", sessionID, err)
	}
	return nil
}

// CreatePayout transfers funds to a connected account.
func (g *StripeGateway) CreatePayout(ctx context.Context, p PayoutParams) (*Payout, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(p.Amount),
		Currency:    stripe.String(p.Currency),
		Destination: stripe.String(p.Destination),
	}
	params.Context = ctx
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return nil, fmt.Errorf("create transfer to %s: %w", p.Destination, err)
	}
	return &Payout{TransferID: tr.ID}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the event.
func (g *StripeGateway) ParseWebhook(rawBody []byte, signature string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(rawBody, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                g.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	return decodeStripeEvent(ev)
}

// DecodeStoredEvent decodes a previously verified body without checking its signature,
// which may have expired since. Used to replay stored events.
func (g *StripeGateway) DecodeStoredEvent(rawBody []byte) (Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	return decodeStripeEvent(ev)
}

// decodeStripeEvent turns a verified Stripe event into one of the typed Event variants.
func decodeStripeEvent(ev stripe.Event) (Event, error) {
	meta := EventMeta{ID: ev.ID, Type: string(ev.Type)}
	if meta.ID == "" || ev.Data == nil {
		return nil, fmt.Errorf("%w: event without id or data", ErrPayloadInvalid)
	}

	switch meta.Type {
	case stripeCheckoutCompleted, stripeCheckoutAsyncSuccess:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrPayloadInvalid, err)
		}
		if sess.ID == "" {
			return nil, fmt.Errorf("%w: checkout session without id", ErrPayloadInvalid)
		}
		// Delayed payment methods complete the session before the money arrives;
		// async_payment_succeeded follows once it does.
		if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			log.Printf("Stripe event %s: session %s payment_status=%s, not captured yet", meta.ID, sess.ID, sess.PaymentStatus)
			return Ignored{EventMeta: meta}, nil
		}
		out := CheckoutCompleted{
			EventMeta:   meta,
			SessionID:   sess.ID,
			Reference:   sess.ClientReferenceID,
			AmountTotal: sess.AmountTotal,
		}
		if out.Reference == "" && sess.Metadata != nil {
			out.Reference = sess.Metadata["pledge_id"]
		}
		if sess.PaymentIntent != nil {
			out.PaymentIntentID = sess.PaymentIntent.ID
		}
		return out, nil

	case stripeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, fmt.Errorf("%w: charge: %v", ErrPayloadInvalid, err)
		}
		if ch.ID == "" {
			return nil, fmt.Errorf("%w: charge without id", ErrPayloadInvalid)
		}
		if !ch.Refunded {
			log.Printf("Stripe event %s: partial refund on charge %s ignored", meta.ID, ch.ID)
			return Ignored{EventMeta: meta}, nil
		}
		out := RefundCompleted{EventMeta: meta, ChargeID: ch.ID, AmountRefunded: ch.AmountRefunded}
		if ch.PaymentIntent != nil {
			out.PaymentIntentID = ch.PaymentIntent.ID
		}
		return out, nil

	case stripeAccountUpdated:
		var acct stripe.Account
		if err := json.Unmarshal(ev.Data.Raw, &acct); err != nil {
			return nil, fmt.Errorf("%w: account: %v", ErrPayloadInvalid, err)
		}
		if acct.ID == "" {
			return nil, fmt.Errorf("%w: account without id", ErrPayloadInvalid)
		}
		return AccountUpdated{
			EventMeta:      meta,
			AccountID:      acct.ID,
			ChargesEnabled: acct.ChargesEnabled,
			PayoutsEnabled: acct.PayoutsEnabled,
		}, nil

	default:
		return Ignored{EventMeta: meta}, nil
	}
}

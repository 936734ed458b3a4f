package payments

// Event is a parsed, verified webhook event. The concrete type is one of
// CheckoutCompleted, RefundCompleted, AccountUpdated or Ignored.
type Event interface {
	ProviderEventID() string
	EventType() string
	isEvent()
}

// EventMeta carries the provider-level identity shared by every event.
type EventMeta struct {
	ID   string
	Type string
}

func (m EventMeta) ProviderEventID() string { return m.ID }
func (m EventMeta) EventType() string       { return m.Type }
func (EventMeta) isEvent()                  {}

// CheckoutCompleted reports that a pledge's checkout has been paid.
type CheckoutCompleted struct {
	EventMeta
	SessionID       string
	Reference       string // the pledge id given to CreateCheckout
	PaymentIntentID string
	AmountTotal     int64
}

// RefundCompleted reports that a charge has been refunded.
type RefundCompleted struct {
	EventMeta
	ChargeID        string
	PaymentIntentID string
	AmountRefunded  int64
}

// AccountUpdated reports a connected account's capability flags.
type AccountUpdated struct {
	EventMeta
	AccountID      string
	ChargesEnabled bool
	PayoutsEnabled bool
}

// Ignored is a verified event of a type the marketplace does not consume.
type Ignored struct {
	EventMeta
}

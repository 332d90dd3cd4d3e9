package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Event types this service reacts to. Anything else is parsed into the
// raw fallback and acknowledged without a handler, so new provider event
// types never break the endpoint.
const (
	TypeCheckoutSessionCompleted = "checkout.session.completed"
	TypePaymentIntentSucceeded   = "payment_intent.succeeded"
	TypePaymentIntentFailed      = "payment_intent.payment_failed"
	TypePaymentIntentCanceled    = "payment_intent.canceled"
	TypeChargeRefunded           = "charge.refunded"
	TypeRefundUpdated            = "refund.updated"
	TypeRefundSucceeded          = "refund.succeeded"
	TypeDisputeCreated           = "charge.dispute.created"
	TypeDisputeUpdated           = "charge.dispute.updated"
)

var ErrInvalidPayload = errors.New("invalid payload")

// Event is the parsed webhook envelope. Exactly one of the typed payload
// pointers is set, matching Type; Raw always carries data.object for
// forward compatibility with event types added by the provider later.
type Event struct {
	ID      string
	Type    string
	Created int64

	CheckoutSession *CheckoutSession
	PaymentIntent   *PaymentIntent
	Charge          *Charge
	Refund          *RefundObject
	Dispute         *Dispute

	Raw json.RawMessage
}

// Address is the subset of provider address data merged into order
// metadata.
type Address struct {
	Name       string `json:"name,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

type shippingDetails struct {
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

type billingDetails struct {
	Name    string  `json:"name"`
	Address Address `json:"address"`
}

// CheckoutSession carries checkout.session.completed fields.
type CheckoutSession struct {
	ID            string            `json:"id"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
	Shipping      *shippingDetails  `json:"shipping_details"`
}

// PaymentIntent carries payment_intent.* fields.
type PaymentIntent struct {
	ID                 string            `json:"id"`
	AmountReceived     int64             `json:"amount_received"`
	Currency           string            `json:"currency"`
	Metadata           map[string]string `json:"metadata"`
	CancellationReason string            `json:"cancellation_reason"`
	LastPaymentError   *PaymentError     `json:"last_payment_error"`
	Charges            struct {
		Data []Charge `json:"data"`
	} `json:"charges"`
}

// PaymentError is the decline detail on a failed payment intent.
type PaymentError struct {
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

// Charge carries charge.* fields including the embedded refund list.
type Charge struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Metadata       map[string]string `json:"metadata"`
	BillingDetails *billingDetails   `json:"billing_details"`
	Refunds        struct {
		Data []RefundObject `json:"data"`
	} `json:"refunds"`
}

// RefundObject is a single provider refund, either standalone
// (refund.updated, refund.succeeded) or embedded in a charge.
type RefundObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	Charge        string            `json:"charge"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	Metadata      map[string]string `json:"metadata"`
}

// Dispute carries charge.dispute.* fields.
type Dispute struct {
	ID            string `json:"id"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Reason        string `json:"reason"`
	Status        string `json:"status"`
}

type envelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Parse decodes the raw webhook body into a typed Event. The envelope is
// decoded first, then data.object a second time into the shape the event
// type dictates.
func Parse(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", ErrInvalidPayload)
	}

	ev := &Event{
		ID:      env.ID,
		Type:    env.Type,
		Created: env.Created,
		Raw:     env.Data.Object,
	}

	var err error
	switch env.Type {
	case TypeCheckoutSessionCompleted:
		ev.CheckoutSession = &CheckoutSession{}
		err = json.Unmarshal(env.Data.Object, ev.CheckoutSession)
	case TypePaymentIntentSucceeded, TypePaymentIntentFailed, TypePaymentIntentCanceled:
		ev.PaymentIntent = &PaymentIntent{}
		err = json.Unmarshal(env.Data.Object, ev.PaymentIntent)
	case TypeChargeRefunded:
		ev.Charge = &Charge{}
		err = json.Unmarshal(env.Data.Object, ev.Charge)
	case TypeRefundUpdated, TypeRefundSucceeded:
		ev.Refund = &RefundObject{}
		err = json.Unmarshal(env.Data.Object, ev.Refund)
	case TypeDisputeCreated, TypeDisputeUpdated:
		ev.Dispute = &Dispute{}
		err = json.Unmarshal(env.Data.Object, ev.Dispute)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s object: %v", ErrInvalidPayload, env.Type, err)
	}

	return ev, nil
}

// OrderIDFromMetadata extracts the internal order ID from event metadata.
// Both orderId and order_id keys are supported; first non-empty wins.
// Missing or non-numeric values report ok=false, never an error: a webhook
// without a usable order reference is ignored, not failed.
func OrderIDFromMetadata(metadata map[string]string) (int64, bool) {
	for _, key := range []string{"orderId", "order_id"} {
		raw, exists := metadata[key]
		raw = strings.TrimSpace(raw)
		if !exists || raw == "" {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, false
		}
		return id, true
	}
	return 0, false
}

// ShippingAddress returns the best-effort shipping address for a checkout
// session: the explicit shipping block when present, else the billing
// details on the first charge of the given intent.
func (cs *CheckoutSession) ShippingAddress() (*Address, string) {
	if cs.Shipping != nil {
		addr := cs.Shipping.Address
		return &addr, cs.Shipping.Name
	}
	return nil, ""
}

// BillingAddress exposes the first charge's billing details, used as the
// shipping fallback on payment_intent.succeeded.
func (pi *PaymentIntent) BillingAddress() (*Address, string) {
	if len(pi.Charges.Data) == 0 {
		return nil, ""
	}
	bd := pi.Charges.Data[0].BillingDetails
	if bd == nil {
		return nil, ""
	}
	addr := bd.Address
	return &addr, bd.Name
}

package payments

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Purchase types carried in payment notes at order creation.
const (
	PurchaseTypeBalanceTopup  = "balance_topup"
	PurchaseTypeTokenPurchase = "token_purchase"
)

// Note keys set by the checkout flow when the Razorpay order is created.
const (
	noteKeyPurchaseType    = "purchase_type"
	noteKeyReferenceAmount = "reference_amount"
	noteKeyTokens          = "tokens"
	noteKeyValidityDays    = "validity_days"
)

// Event is the dispatcher's input contract: signature verification and JSON
// framing happen at the HTTP layer before this core sees the event. EventID
// may be empty when the provider omits the x-razorpay-event-id header; the
// store then dedupes on a payload hash instead.
type Event struct {
	EventID   string `validate:"max=191"`
	EventType string `validate:"required,max=100"`
	Payload   []byte `validate:"required"`
}

// Notes is Razorpay's free-form key/value bag. The API serializes an empty
// bag as [] instead of {}, so unmarshalling tolerates both.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" || strings.HasPrefix(trimmed, "[") {
		*n = nil
		return nil
	}
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = raw
	return nil
}

// PaymentEntity is the payment object inside Razorpay webhook payloads.
// Amount is in minor units (paise).
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	CustomerID       string `json:"customer_id"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	ErrorSource      string `json:"error_source"`
	ErrorStep        string `json:"error_step"`
	ErrorReason      string `json:"error_reason"`
	Notes            Notes  `json:"notes"`
}

// AmountDecimal converts the minor-unit amount to a charge-currency decimal.
func (p *PaymentEntity) AmountDecimal() decimal.Decimal {
	return decimal.NewFromInt(p.Amount).Div(decimal.NewFromInt(100))
}

// OrderEntity is the order object inside order.paid payloads.
type OrderEntity struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
	Receipt    string `json:"receipt"`
	Notes      Notes  `json:"notes"`
}

// SubscriptionEntity is the subscription object inside subscription.*
// payloads.
type SubscriptionEntity struct {
	ID         string `json:"id"`
	PlanID     string `json:"plan_id"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Notes      Notes  `json:"notes"`
}

type envelope struct {
	Entity  string `json:"entity"`
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity OrderEntity `json:"entity"`
		} `json:"order"`
		Subscription struct {
			Entity SubscriptionEntity `json:"entity"`
		} `json:"subscription"`
	} `json:"payload"`
}

// ParseEventType extracts the event name from a raw webhook body without
// decoding the full payload, for the ingress controller.
func ParseEventType(payload []byte) (string, error) {
	var raw struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(raw.Event) == "" {
		return "", fmt.Errorf("%w: missing event field", ErrInvalidPayload)
	}
	return raw.Event, nil
}

// ParsePaymentEntity decodes the payment object from a webhook body.
func ParsePaymentEntity(payload []byte) (*PaymentEntity, error) {
	var raw envelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p := raw.Payload.Payment.Entity
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("%w: missing payment entity", ErrInvalidPayload)
	}
	return &p, nil
}

// ParseOrderEntity decodes the order object from a webhook body.
func ParseOrderEntity(payload []byte) (*OrderEntity, error) {
	var raw envelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	o := raw.Payload.Order.Entity
	if strings.TrimSpace(o.ID) == "" {
		return nil, fmt.Errorf("%w: missing order entity", ErrInvalidPayload)
	}
	return &o, nil
}

// ParseSubscriptionEntity decodes the subscription object from a webhook body.
func ParseSubscriptionEntity(payload []byte) (*SubscriptionEntity, error) {
	var raw envelope
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	s := raw.Payload.Subscription.Entity
	if strings.TrimSpace(s.ID) == "" {
		return nil, fmt.Errorf("%w: missing subscription entity", ErrInvalidPayload)
	}
	return &s, nil
}

package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventType(t *testing.T) {
	eventType, err := ParseEventType([]byte(`{"entity":"event","event":"payment.captured","payload":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "payment.captured", eventType)

	_, err = ParseEventType([]byte(`{"entity":"event"}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseEventType([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestParsePaymentEntity(t *testing.T) {
	payload := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_29QQoUBi66xm2f",
			"order_id": "order_9A33XWu170gUtm",
			"amount": 211250,
			"currency": "INR",
			"status": "captured",
			"method": "upi",
			"email": "gaurav.kumar@example.com",
			"contact": "+919900000000",
			"customer_id": "cust_BpHDx8DkVTcl9e",
			"notes": {"purchase_type": "balance_topup", "reference_amount": "25.00"}
		}}}
	}`)

	payment, err := ParsePaymentEntity(payload)
	require.NoError(t, err)
	assert.Equal(t, "pay_29QQoUBi66xm2f", payment.ID)
	assert.Equal(t, "2112.50", payment.AmountDecimal().StringFixed(2))
	assert.Equal(t, "balance_topup", payment.Notes["purchase_type"])
}

func TestParsePaymentEntityMissing(t *testing.T) {
	_, err := ParsePaymentEntity([]byte(`{"event":"payment.captured","payload":{}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

// Razorpay serializes an empty notes bag as [] instead of {}.
func TestNotesTolerateEmptyArray(t *testing.T) {
	payload := []byte(`{
		"event": "payment.captured",
		"payload": {"payment": {"entity": {
			"id": "pay_1", "amount": 100, "currency": "INR", "notes": []
		}}}
	}`)

	payment, err := ParsePaymentEntity(payload)
	require.NoError(t, err)
	assert.Empty(t, payment.Notes)
}

func TestParseOrderEntity(t *testing.T) {
	payload := []byte(`{
		"event": "order.paid",
		"payload": {"order": {"entity": {
			"id": "order_9A33XWu170gUtm", "amount": 211250, "amount_paid": 211250,
			"currency": "INR", "status": "paid", "receipt": "rcpt_11"
		}}}
	}`)

	order, err := ParseOrderEntity(payload)
	require.NoError(t, err)
	assert.Equal(t, "order_9A33XWu170gUtm", order.ID)
	assert.Equal(t, int64(211250), order.AmountPaid)
}

func TestParseSubscriptionEntity(t *testing.T) {
	payload := []byte(`{
		"event": "subscription.charged",
		"payload": {"subscription": {"entity": {
			"id": "sub_00000000000001", "plan_id": "plan_00000000000001",
			"customer_id": "cust_BpHDx8DkVTcl9e", "status": "active"
		}}}
	}`)

	sub, err := ParseSubscriptionEntity(payload)
	require.NoError(t, err)
	assert.Equal(t, "sub_00000000000001", sub.ID)
	assert.Equal(t, "active", sub.Status)
}

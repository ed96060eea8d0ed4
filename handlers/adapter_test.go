package handlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdaptCustomerEventSnakeCase(t *testing.T) {
	raw := rawEvent{
		EventType: EventCustomerCreated,
		Data: json.RawMessage(`{
			"customer_id": "cust-1",
			"given_name": "Umi",
			"family_name": "Tanaka",
			"email_address": "umi@example.com",
			"phone_number": "+15550001111"
		}`),
	}
	ev := adaptCustomerEvent(raw, "corr-1")
	assert.Equal(t, "cust-1", ev.CustomerID)
	assert.Equal(t, "Umi Tanaka", ev.Name)
	assert.Equal(t, "umi@example.com", ev.Email)
	assert.Equal(t, "+15550001111", ev.Phone)
	assert.Equal(t, "corr-1", ev.CorrelationID)
}

func TestAdaptCustomerEventCamelCaseObjectWrapper(t *testing.T) {
	raw := rawEvent{
		Type: EventCustomerCreated,
		Object: json.RawMessage(`{
			"customerId": "cust-2",
			"name": "Ken Sato",
			"email": "ken@example.com"
		}`),
	}
	ev := adaptCustomerEvent(raw, "corr-2")
	assert.Equal(t, "cust-2", ev.CustomerID)
	assert.Equal(t, "Ken Sato", ev.Name)
	assert.Equal(t, "ken@example.com", ev.Email)
}

func TestAdaptBookingEventMapsFormFieldsAndSegments(t *testing.T) {
	raw := rawEvent{
		EventType: EventBookingCreated,
		Data: json.RawMessage(`{
			"customerId": "cust-1",
			"bookingId": "bk-1",
			"orderId": "order-1",
			"lineItemUid": "li-1",
			"coupon": "UMI1234",
			"fields": [{"label": "How did you hear about us?", "answer": "a friend"}],
			"segments": [{"customFields": {"promo": "XYZ"}}, {"custom_fields": {"ref": "ABC"}}]
		}`),
	}
	ev := adaptBookingEvent(raw, "corr-3")
	assert.Equal(t, "cust-1", ev.CustomerID)
	assert.Equal(t, "bk-1", ev.BookingID)
	assert.Equal(t, "order-1", ev.OrderID)
	assert.Equal(t, "li-1", ev.LineItemUID)
	assert.Equal(t, "UMI1234", ev.ReferralCode)
	assert.Len(t, ev.FormFields, 1)
	assert.Equal(t, "How did you hear about us?", ev.FormFields[0].Name)
	assert.Equal(t, "a friend", ev.FormFields[0].Value)
	assert.Equal(t, "XYZ", ev.SegmentFields["promo"])
	assert.Equal(t, "ABC", ev.SegmentFields["ref"])
}

func TestAdaptBookingEventStructuredCodeOutranksCoupon(t *testing.T) {
	raw := rawEvent{
		EventType: EventBookingCreated,
		Data:      json.RawMessage(`{"customer_id": "c", "referral_code": "REAL123", "coupon": "OTHER"}`),
	}
	ev := adaptBookingEvent(raw, "corr-4")
	assert.Equal(t, "REAL123", ev.ReferralCode)
}

func TestAdaptPaymentEventStatusMapping(t *testing.T) {
	for status, completed := range map[string]bool{
		"COMPLETED": true,
		"paid":      true,
		"APPROVED":  true,
		"PENDING":   false,
		"FAILED":    false,
		"":          false,
	} {
		raw := rawEvent{
			EventType: EventPaymentCompleted,
			Data:      json.RawMessage(`{"payment_id": "pay-1", "customer_id": "cust-1", "status": "` + status + `"}`),
		}
		ev := adaptPaymentEvent(raw, "corr-5")
		assert.Equal(t, completed, ev.Completed, "status %q", status)
		assert.Equal(t, "pay-1", ev.PaymentID)
	}
}

func TestAdaptPaymentEventStateAlias(t *testing.T) {
	raw := rawEvent{
		EventType: EventPaymentCompleted,
		Data:      json.RawMessage(`{"paymentId": "pay-2", "customerId": "cust-1", "state": "Completed"}`),
	}
	ev := adaptPaymentEvent(raw, "corr-6")
	assert.True(t, ev.Completed)
	assert.Equal(t, "pay-2", ev.PaymentID)
}

func TestFirstOfSkipsBlankValues(t *testing.T) {
	assert.Equal(t, "b", firstOf("", "  ", "b", "c"))
	assert.Equal(t, "", firstOf("", " "))
}

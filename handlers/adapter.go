// handlers/adapter.go
package handlers

import (
	"encoding/json"
	"strings"

	"salon-referral-system/services"
)

// The provider sends loosely keyed payloads, with field names varying between
// snake_case and camelCase and between top-level "data" and "object" wrappers.
// Everything is mapped into typed internal events here, once, at the boundary.

type rawEvent struct {
	EventType string          `json:"event_type"`
	Type      string          `json:"type"`
	EventID   string          `json:"event_id"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	Object    json.RawMessage `json:"object"`
}

func (r rawEvent) payload() json.RawMessage {
	if len(r.Data) > 0 {
		return r.Data
	}
	return r.Object
}

type rawCustomerPayload struct {
	CustomerID     string `json:"customer_id"`
	CustomerIDAlt  string `json:"customerId"`
	ID             string `json:"id"`
	GivenName      string `json:"given_name"`
	FirstName      string `json:"first_name"`
	FamilyName     string `json:"family_name"`
	LastName       string `json:"last_name"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	EmailAddress   string `json:"email_address"`
	Phone          string `json:"phone"`
	PhoneNumber    string `json:"phone_number"`
}

type rawFormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Value    string `json:"value"`
	ValueAlt string `json:"answer"`
}

type rawSegment struct {
	CustomFields map[string]string `json:"custom_fields"`
	Fields       map[string]string `json:"customFields"`
}

type rawBookingPayload struct {
	CustomerID      string         `json:"customer_id"`
	CustomerIDAlt   string         `json:"customerId"`
	BookingID       string         `json:"booking_id"`
	BookingIDAlt    string         `json:"bookingId"`
	ID              string         `json:"id"`
	OrderID         string         `json:"order_id"`
	OrderIDAlt      string         `json:"orderId"`
	LineItemUID     string         `json:"line_item_uid"`
	LineItemUIDAlt  string         `json:"lineItemUid"`
	ReferralCode    string         `json:"referral_code"`
	ReferralCodeAlt string         `json:"referralCode"`
	Coupon          string         `json:"coupon"`
	FormFields      []rawFormField `json:"form_fields"`
	Fields          []rawFormField `json:"fields"`
	Segments        []rawSegment   `json:"segments"`
}

type rawPaymentPayload struct {
	CustomerID    string `json:"customer_id"`
	CustomerIDAlt string `json:"customerId"`
	PaymentID     string `json:"payment_id"`
	PaymentIDAlt  string `json:"paymentId"`
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	OrderIDAlt    string `json:"orderId"`
	Status        string `json:"status"`
	State         string `json:"state"`
}

func adaptCustomerEvent(raw rawEvent, correlationID string) services.CustomerEvent {
	var p rawCustomerPayload
	_ = json.Unmarshal(raw.payload(), &p)

	name := p.Name
	if name == "" {
		name = strings.TrimSpace(firstOf(p.GivenName, p.FirstName) + " " + firstOf(p.FamilyName, p.LastName))
	}
	return services.CustomerEvent{
		CorrelationID: correlationID,
		CustomerID:    firstOf(p.CustomerID, p.CustomerIDAlt, p.ID),
		Name:          name,
		Email:         firstOf(p.Email, p.EmailAddress),
		Phone:         firstOf(p.Phone, p.PhoneNumber),
	}
}

func adaptBookingEvent(raw rawEvent, correlationID string) services.BookingEvent {
	var p rawBookingPayload
	_ = json.Unmarshal(raw.payload(), &p)

	fields := p.FormFields
	if len(fields) == 0 {
		fields = p.Fields
	}
	formFields := make([]services.FormField, 0, len(fields))
	for _, f := range fields {
		formFields = append(formFields, services.FormField{
			Name:  firstOf(f.Name, f.Label),
			Value: firstOf(f.Value, f.ValueAlt),
		})
	}

	segmentFields := map[string]string{}
	for _, seg := range p.Segments {
		for k, v := range seg.CustomFields {
			segmentFields[k] = v
		}
		for k, v := range seg.Fields {
			segmentFields[k] = v
		}
	}

	return services.BookingEvent{
		CorrelationID: correlationID,
		CustomerID:    firstOf(p.CustomerID, p.CustomerIDAlt),
		BookingID:     firstOf(p.BookingID, p.BookingIDAlt, p.ID),
		OrderID:       firstOf(p.OrderID, p.OrderIDAlt),
		LineItemUID:   firstOf(p.LineItemUID, p.LineItemUIDAlt),
		ReferralCode:  firstOf(p.ReferralCode, p.ReferralCodeAlt, p.Coupon),
		FormFields:    formFields,
		SegmentFields: segmentFields,
	}
}

func adaptPaymentEvent(raw rawEvent, correlationID string) services.PaymentEvent {
	var p rawPaymentPayload
	_ = json.Unmarshal(raw.payload(), &p)

	status := strings.ToUpper(firstOf(p.Status, p.State))
	return services.PaymentEvent{
		CorrelationID: correlationID,
		CustomerID:    firstOf(p.CustomerID, p.CustomerIDAlt),
		PaymentID:     firstOf(p.PaymentID, p.PaymentIDAlt, p.ID),
		OrderID:       firstOf(p.OrderID, p.OrderIDAlt),
		Completed:     status == "COMPLETED" || status == "PAID" || status == "APPROVED",
	}
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

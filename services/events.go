package services

// Typed internal events produced by the webhook adapter. Provider payloads are
// loosely keyed; everything past the handler boundary works with these structs
// only.

// CustomerEvent corresponds to customer.created.
type CustomerEvent struct {
	CorrelationID string
	CustomerID    string
	Name          string
	Email         string
	Phone         string
}

// FormField is one intake-form answer attached to a booking.
type FormField struct {
	Name  string
	Value string
}

// BookingEvent corresponds to booking.created.
type BookingEvent struct {
	CorrelationID string
	CustomerID    string
	BookingID     string

	// Open sales-order reference, when the booking was taken against one.
	OrderID     string
	LineItemUID string

	// Structured referral code field, when the provider sent one.
	ReferralCode string

	// Loose locations the heuristic code scan walks, in priority order.
	FormFields    []FormField
	SegmentFields map[string]string
}

// PaymentEvent corresponds to payment.completed.
type PaymentEvent struct {
	CorrelationID string
	CustomerID    string
	PaymentID     string
	OrderID       string
	Completed     bool
}

package models

import "time"

// CustomerReferral is the per-customer referral state, keyed by the booking
// provider's customer id. It is the single source of truth for reward
// idempotence: every reward flag moves false→true exactly once, via
// conditional updates.
type CustomerReferral struct {
	ID    string `gorm:"primaryKey;type:varchar(64)" json:"id"` // provider customer id
	Name  string `json:"name,omitempty"`
	Email string `gorm:"index" json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`

	// Referrer identity. Codes are stored uppercase, so the unique index is
	// case-insensitive in effect.
	PersonalCode *string `gorm:"type:varchar(32);uniqueIndex" json:"personal_code,omitempty"`
	ReferralURL  string  `json:"referral_url,omitempty"`

	// The code this customer redeemed. Set once, never overwritten.
	UsedReferralCode string `gorm:"type:varchar(32)" json:"used_referral_code,omitempty"`

	GotSignupBonus        bool `gorm:"default:false" json:"got_signup_bonus"`
	ActivatedAsReferrer   bool `gorm:"default:false" json:"activated_as_referrer"`
	FirstPaymentCompleted bool `gorm:"default:false" json:"first_payment_completed"`
	ReferralEmailSent     bool `gorm:"default:false" json:"referral_email_sent"`
	ReferralSmsSent       bool `gorm:"default:false" json:"referral_sms_sent"`

	// Set when this customer's first payment triggered a referrer reward, so a
	// redelivered payment event cannot attribute a second reward to the same
	// friend.
	ReferrerRewardedAt *time.Time `json:"referrer_rewarded_at,omitempty"`

	// Gift card artifacts from the last issued/loaded reward.
	GiftCardID              string `json:"gift_card_id,omitempty"`
	GiftCardGAN             string `gorm:"column:gift_card_gan" json:"gift_card_gan,omitempty"`
	GiftCardOrderID         string `json:"gift_card_order_id,omitempty"`
	GiftCardLineItemUID     string `gorm:"column:gift_card_line_item_uid" json:"gift_card_line_item_uid,omitempty"`
	GiftCardDeliveryChannel string `json:"gift_card_delivery_channel,omitempty"`
	GiftCardActivationURL   string `json:"gift_card_activation_url,omitempty"`
	GiftCardPassKitURL      string `json:"gift_card_pass_kit_url,omitempty"`
	GiftCardDigitalEmail    string `json:"gift_card_digital_email,omitempty"`

	// Open sales-order reference captured from booking events; lets the issuer
	// fund the signup bonus through the real order when possible.
	PendingOrderID     string `json:"pending_order_id,omitempty"`
	PendingLineItemUID string `gorm:"column:pending_line_item_uid" json:"pending_line_item_uid,omitempty"`

	// Referrer-side cumulative totals.
	TotalReferrals    int   `gorm:"default:0" json:"total_referrals"`
	TotalRewardsCents int64 `gorm:"default:0" json:"total_rewards_cents"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (CustomerReferral) TableName() string {
	return "customer_referrals"
}

// services/reward_engine.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salon-referral-system/models"
)

// ErrInvalidEvent marks a malformed inbound event. The webhook handler drops
// these without redelivery; they are not a system fault.
var ErrInvalidEvent = errors.New("invalid event payload")

// RewardEngine decides, per event, whether a reward is owed and to whom. The
// customer record's flags are the single source of truth for idempotence:
// every flag flip is a conditional single-statement update, so redelivered or
// concurrent events converge instead of double-issuing.
type RewardEngine struct {
	DB       *gorm.DB
	Provider *GiftCardClient
	Issuer   *GiftCardIssuer
	Resolver *ReferralResolver
	Codes    *CodeGenerator
	Notifier *Notifier
	Recorder *PipelineRecorder

	SignupBonusCents    int64
	ReferrerRewardCents int64
	ReferralBaseURL     string
}

func NewRewardEngine(db *gorm.DB, provider *GiftCardClient, issuer *GiftCardIssuer, resolver *ReferralResolver,
	codes *CodeGenerator, notifier *Notifier, recorder *PipelineRecorder,
	signupBonusCents, referrerRewardCents int64, referralBaseURL string) *RewardEngine {
	return &RewardEngine{
		DB:                  db,
		Provider:            provider,
		Issuer:              issuer,
		Resolver:            resolver,
		Codes:               codes,
		Notifier:            notifier,
		Recorder:            recorder,
		SignupBonusCents:    signupBonusCents,
		ReferrerRewardCents: referrerRewardCents,
		ReferralBaseURL:     referralBaseURL,
	}
}

// HandleCustomerCreated guarantees the referral record exists before later
// events reference it. No reward decision happens here. On conflict, existing
// fields are preserved, never overwritten.
func (e *RewardEngine) HandleCustomerCreated(ctx context.Context, ev CustomerEvent) error {
	if ev.CustomerID == "" {
		return ErrInvalidEvent
	}
	rec := models.CustomerReferral{
		ID:    ev.CustomerID,
		Name:  ev.Name,
		Email: ev.Email,
		Phone: ev.Phone,
	}
	if err := e.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("upsert customer %s: %w", ev.CustomerID, err)
	}
	return nil
}

// HandleBookingCreated grants the friend-side signup bonus on a first booking
// that redeemed a referral code. Safe to call again with the same event: the
// got_signup_bonus flag makes redelivery a no-op.
func (e *RewardEngine) HandleBookingCreated(ctx context.Context, ev BookingEvent) error {
	if ev.CustomerID == "" {
		return ErrInvalidEvent
	}
	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
		Stage:             StageIngest,
		Status:            models.RunStatusRunning,
		Context:           "booking " + ev.BookingID,
		IncrementAttempts: true,
	})

	rec, err := e.ensureRecord(ctx, ev.CustomerID)
	if err != nil {
		e.Recorder.MarkError(ev.CorrelationID, err, StageIngest)
		return err
	}

	// Remember the open sales order so the bonus can be funded through it.
	if ev.OrderID != "" && rec.PendingOrderID == "" {
		if err := e.DB.Model(&models.CustomerReferral{}).
			Where("id = ? AND pending_order_id = ?", rec.ID, "").
			Updates(map[string]interface{}{
				"pending_order_id":      ev.OrderID,
				"pending_line_item_uid": ev.LineItemUID,
			}).Error; err != nil {
			log.Printf("[ENGINE] failed to capture pending order for %s: %v", rec.ID, err)
		} else {
			rec.PendingOrderID = ev.OrderID
			rec.PendingLineItemUID = ev.LineItemUID
		}
	}

	if rec.GotSignupBonus {
		e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
			Stage:   StageDone,
			Status:  models.RunStatusCompleted,
			Context: "signup bonus already granted",
		})
		return nil
	}

	// The provider profile is only needed for the attribute leg of the scan.
	var profile *ProviderCustomer
	if ev.ReferralCode == "" {
		if p, perr := e.Provider.RetrieveCustomer(ctx, ev.CustomerID); perr != nil {
			log.Printf("[ENGINE] provider profile fetch for %s failed, scanning without attributes: %v", ev.CustomerID, perr)
		} else {
			profile = p
		}
	}

	referrer, code, err := e.Resolver.Discover(ev, profile)
	if errors.Is(err, ErrReferrerNotFound) {
		e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
			Stage:   StageDone,
			Status:  models.RunStatusCompleted,
			Context: "no referral code",
		})
		return nil
	}
	if err != nil {
		e.Recorder.MarkError(ev.CorrelationID, err, StageIngest)
		return err
	}
	if referrer.ID == rec.ID {
		log.Printf("[ENGINE] customer %s presented their own code %s, ignoring", rec.ID, code)
		e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
			Stage:   StageDone,
			Status:  models.RunStatusCompleted,
			Context: "self-referral ignored",
		})
		return nil
	}

	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
		Stage:  StageFriendReward,
		Status: models.RunStatusRunning,
	})

	res, err := e.Issuer.Issue(ctx, IssueParams{
		CustomerID:         rec.ID,
		CustomerName:       rec.Name,
		AmountCents:        e.SignupBonusCents,
		PendingOrderID:     rec.PendingOrderID,
		PendingLineItemUID: rec.PendingLineItemUID,
		IdempotencySeed:    ev.CorrelationID + ":friend",
	})
	if err != nil {
		// Flag stays false: the next delivery of this booking event is a
		// clean retry.
		e.Recorder.MarkError(ev.CorrelationID, err, StageFriendReward)
		return fmt.Errorf("friend signup bonus for %s: %w", rec.ID, err)
	}

	updates := artifactUpdates(res)
	updates["got_signup_bonus"] = true
	if rec.UsedReferralCode == "" {
		updates["used_referral_code"] = code
	}
	tx := e.DB.Model(&models.CustomerReferral{}).
		Where("id = ? AND got_signup_bonus = ?", rec.ID, false).
		Updates(updates)
	if tx.Error != nil {
		e.Recorder.MarkError(ev.CorrelationID, tx.Error, StageFriendReward)
		return fmt.Errorf("persist signup bonus for %s: %w", rec.ID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		log.Printf("[ENGINE] signup bonus for %s already recorded by a concurrent delivery", rec.ID)
		e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{Stage: StageDone, Status: models.RunStatusCompleted})
		return nil
	}
	rec.GotSignupBonus = true
	rec.UsedReferralCode = code

	e.sendRewardNotification(ctx, NotifyFriendBonus, rec, res)

	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{Stage: StageDone, Status: models.RunStatusCompleted})
	return nil
}

// HandlePaymentCompleted runs the referrer-side reward and promotes the paying
// customer to referrer status. The first_payment_completed flag is the last
// write, so any earlier failure leaves the event retryable.
func (e *RewardEngine) HandlePaymentCompleted(ctx context.Context, ev PaymentEvent) error {
	if ev.CustomerID == "" {
		return ErrInvalidEvent
	}
	if !ev.Completed {
		log.Printf("[ENGINE] payment %s for %s not completed, dropping", ev.PaymentID, ev.CustomerID)
		return nil
	}
	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
		Stage:             StageIngest,
		Status:            models.RunStatusRunning,
		Context:           "payment " + ev.PaymentID,
		IncrementAttempts: true,
	})

	rec, err := e.ensureRecord(ctx, ev.CustomerID)
	if err != nil {
		e.Recorder.MarkError(ev.CorrelationID, err, StageIngest)
		return err
	}
	if rec.FirstPaymentCompleted {
		e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
			Stage:   StageDone,
			Status:  models.RunStatusCompleted,
			Context: "first payment already recorded",
		})
		return nil
	}

	var rewardErr error
	if rec.UsedReferralCode != "" {
		rewardErr = e.rewardReferrer(ctx, ev, rec)
	}

	// Promotion runs regardless of the reward outcome; the two are independent
	// side effects and only the failed piece should be retried.
	if promoErr := e.promoteToReferrer(ctx, ev, rec); promoErr != nil && rewardErr == nil {
		rewardErr = promoErr
	}

	if rewardErr != nil {
		return rewardErr
	}

	tx := e.DB.Model(&models.CustomerReferral{}).
		Where("id = ? AND first_payment_completed = ?", rec.ID, false).
		Update("first_payment_completed", true)
	if tx.Error != nil {
		e.Recorder.MarkError(ev.CorrelationID, tx.Error, StageDone)
		return fmt.Errorf("persist first payment for %s: %w", rec.ID, tx.Error)
	}

	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{Stage: StageDone, Status: models.RunStatusCompleted})
	return nil
}

// rewardReferrer issues or tops up the referring customer's gift card. The
// friend's referrer_rewarded_at marker guarantees at most one reward is ever
// attributed to this friend, across any number of redeliveries.
func (e *RewardEngine) rewardReferrer(ctx context.Context, ev PaymentEvent, friend *models.CustomerReferral) error {
	if friend.ReferrerRewardedAt != nil {
		log.Printf("[ENGINE] referrer reward for friend %s already attributed at %s", friend.ID, friend.ReferrerRewardedAt.Format(time.RFC3339))
		return nil
	}

	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
		Stage:  StageReferrerReward,
		Status: models.RunStatusRunning,
	})

	referrer, err := e.Resolver.Resolve(friend.UsedReferralCode)
	if errors.Is(err, ErrReferrerNotFound) {
		log.Printf("[ENGINE] code %s on friend %s resolves to no referrer, skipping reward", friend.UsedReferralCode, friend.ID)
		e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
			Stage:   StageReferrerReward,
			Status:  models.RunStatusCompleted,
			Context: "referrer not found",
		})
		return nil
	}
	if err != nil {
		e.Recorder.MarkError(ev.CorrelationID, err, StageReferrerReward)
		return err
	}

	seed := ev.CorrelationID + ":referrer"
	var res *IssueResult
	if referrer.GiftCardID == "" {
		res, err = e.Issuer.Issue(ctx, IssueParams{
			CustomerID:      referrer.ID,
			CustomerName:    referrer.Name,
			AmountCents:     e.ReferrerRewardCents,
			ReferrerReward:  true,
			IdempotencySeed: seed,
		})
	} else {
		res, err = e.Issuer.Load(ctx, referrer.GiftCardID, e.ReferrerRewardCents, referrer.ID, "referrer reward", seed)
	}
	if err != nil {
		e.Recorder.MarkError(ev.CorrelationID, err, StageReferrerReward)
		return fmt.Errorf("referrer reward for %s: %w", referrer.ID, err)
	}

	// Attribution and counters move together; the conditional write on the
	// friend row closes the race between concurrent deliveries.
	now := time.Now()
	err = e.DB.Transaction(func(tx *gorm.DB) error {
		mark := tx.Model(&models.CustomerReferral{}).
			Where("id = ? AND referrer_rewarded_at IS NULL", friend.ID).
			Update("referrer_rewarded_at", now)
		if mark.Error != nil {
			return mark.Error
		}
		if mark.RowsAffected == 0 {
			return nil
		}
		updates := artifactUpdates(res)
		updates["total_referrals"] = gorm.Expr("total_referrals + 1")
		updates["total_rewards_cents"] = gorm.Expr("total_rewards_cents + ?", e.ReferrerRewardCents)
		return tx.Model(&models.CustomerReferral{}).
			Where("id = ?", referrer.ID).
			Updates(updates).Error
	})
	if err != nil {
		e.Recorder.MarkError(ev.CorrelationID, err, StageReferrerReward)
		return fmt.Errorf("persist referrer reward for %s: %w", referrer.ID, err)
	}
	friend.ReferrerRewardedAt = &now

	e.sendRewardNotification(ctx, NotifyReferrerReward, referrer, res)

	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
		Stage:  StageReferrerReward,
		Status: models.RunStatusCompleted,
	})
	return nil
}

// promoteToReferrer gives the paying customer their own personal code and
// sends the welcome notification, each channel guarded by its own sent flag.
func (e *RewardEngine) promoteToReferrer(ctx context.Context, ev PaymentEvent, rec *models.CustomerReferral) error {
	if rec.Email == "" {
		e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
			Stage:   StageReferrerPromotion,
			Status:  models.RunStatusCompleted,
			Context: "no email, promotion skipped",
		})
		return nil
	}

	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
		Stage:  StageReferrerPromotion,
		Status: models.RunStatusRunning,
	})

	if rec.PersonalCode == nil {
		code, err := e.Codes.Generate(rec.Name, rec.ID)
		if err != nil {
			e.Recorder.MarkError(ev.CorrelationID, err, StageReferrerPromotion)
			return fmt.Errorf("generate personal code for %s: %w", rec.ID, err)
		}
		url := fmt.Sprintf("%s/r/%s", strings.TrimRight(e.ReferralBaseURL, "/"), code)

		tx := e.DB.Model(&models.CustomerReferral{}).
			Where("id = ? AND personal_code IS NULL", rec.ID).
			Updates(map[string]interface{}{
				"personal_code":         code,
				"referral_url":          url,
				"activated_as_referrer": true,
			})
		if tx.Error != nil {
			e.Recorder.MarkError(ev.CorrelationID, tx.Error, StageReferrerPromotion)
			return fmt.Errorf("persist personal code for %s: %w", rec.ID, tx.Error)
		}
		if tx.RowsAffected == 0 {
			// A concurrent delivery assigned the code first; use theirs.
			if err := e.DB.First(rec, "id = ?", rec.ID).Error; err != nil {
				e.Recorder.MarkError(ev.CorrelationID, err, StageReferrerPromotion)
				return err
			}
		} else {
			rec.PersonalCode = &code
			rec.ReferralURL = url
			rec.ActivatedAsReferrer = true
		}
	} else if !rec.ActivatedAsReferrer {
		if err := e.DB.Model(&models.CustomerReferral{}).
			Where("id = ? AND activated_as_referrer = ?", rec.ID, false).
			Update("activated_as_referrer", true).Error; err != nil {
			e.Recorder.MarkError(ev.CorrelationID, err, StageReferrerPromotion)
			return err
		}
		rec.ActivatedAsReferrer = true
	}

	if !rec.ReferralEmailSent {
		if r := e.Notifier.SendEmail(ctx, NotifyReferrerWelcome, rec, nil); r.Success {
			e.markNotified(rec.ID, "referral_email_sent")
			rec.ReferralEmailSent = true
		} else if !r.Skipped {
			log.Printf("[ENGINE] welcome email for %s failed: %s", rec.ID, r.Reason)
		}
	}
	if !rec.ReferralSmsSent {
		if r := e.Notifier.SendSMS(ctx, NotifyReferrerWelcome, rec, nil); r.Success {
			e.markNotified(rec.ID, "referral_sms_sent")
			rec.ReferralSmsSent = true
		} else if !r.Skipped {
			log.Printf("[ENGINE] welcome sms for %s failed: %s", rec.ID, r.Reason)
		}
	}

	e.Recorder.UpdateStage(ev.CorrelationID, StageUpdate{
		Stage:  StageReferrerPromotion,
		Status: models.RunStatusCompleted,
	})
	return nil
}

// markNotified flips a per-channel sent flag. Conditional so a concurrent
// delivery cannot re-arm the channel.
func (e *RewardEngine) markNotified(customerID, column string) {
	if err := e.DB.Model(&models.CustomerReferral{}).
		Where("id = ? AND "+column+" = ?", customerID, false).
		Update(column, true).Error; err != nil {
		log.Printf("[ENGINE] failed to mark %s for %s: %v", column, customerID, err)
	}
}

// ensureRecord loads the referral record, creating it lazily from the
// provider's customer profile when an event references an unseen customer.
func (e *RewardEngine) ensureRecord(ctx context.Context, customerID string) (*models.CustomerReferral, error) {
	var rec models.CustomerReferral
	err := e.DB.First(&rec, "id = ?", customerID).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load customer %s: %w", customerID, err)
	}

	seeded := models.CustomerReferral{ID: customerID}
	if profile, perr := e.Provider.RetrieveCustomer(ctx, customerID); perr != nil {
		log.Printf("[ENGINE] provider profile fetch failed for %s, creating bare record: %v", customerID, perr)
	} else {
		seeded.Name = strings.TrimSpace(profile.GivenName + " " + profile.FamilyName)
		seeded.Email = profile.Email
		seeded.Phone = profile.Phone
	}
	if err := e.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&seeded).Error; err != nil {
		return nil, fmt.Errorf("create customer %s: %w", customerID, err)
	}
	if err := e.DB.First(&rec, "id = ?", customerID).Error; err != nil {
		return nil, fmt.Errorf("reload customer %s: %w", customerID, err)
	}
	return &rec, nil
}

// sendRewardNotification delivers a reward notification over email and SMS.
// Failures are logged and never fail the event.
func (e *RewardEngine) sendRewardNotification(ctx context.Context, kind NotificationKind, rec *models.CustomerReferral, res *IssueResult) {
	if r := e.Notifier.SendEmail(ctx, kind, rec, res); !r.Success && !r.Skipped {
		log.Printf("[ENGINE] %s email for %s failed: %s", kind, rec.ID, r.Reason)
	}
	if r := e.Notifier.SendSMS(ctx, kind, rec, res); !r.Success && !r.Skipped {
		log.Printf("[ENGINE] %s sms for %s failed: %s", kind, rec.ID, r.Reason)
	}
}

func artifactUpdates(res *IssueResult) map[string]interface{} {
	updates := map[string]interface{}{
		"gift_card_id":               res.CardID,
		"gift_card_gan":              res.GAN,
		"gift_card_delivery_channel": res.Channel,
		"gift_card_activation_url":   res.ActivationURL,
		"gift_card_pass_kit_url":     res.PassKitURL,
		"gift_card_digital_email":    res.DigitalEmail,
	}
	if res.OrderID != "" {
		updates["gift_card_order_id"] = res.OrderID
		updates["gift_card_line_item_uid"] = res.LineItemUID
	}
	return updates
}

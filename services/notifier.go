// services/notifier.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"salon-referral-system/models"
	"salon-referral-system/utils"
)

type NotificationKind string

const (
	NotifyFriendBonus     NotificationKind = "friend_signup_bonus"
	NotifyReferrerReward  NotificationKind = "referrer_reward"
	NotifyReferrerWelcome NotificationKind = "referrer_welcome"
)

// NotifyResult is a structured send outcome. Skipped means a required artifact
// was missing, which is not an error. A failed send is reported to the caller
// and never retried here.
type NotifyResult struct {
	Success bool
	Skipped bool
	Reason  string
}

// Notifier sends reward/referral notifications through external email and SMS
// services. Sends are fire-and-report: the reward pipeline never rolls back on
// a notification failure.
type Notifier struct {
	EmailURL string
	SMSURL   string
	Token    string
	Client   *http.Client

	printer *message.Printer
}

func NewNotifier(emailURL, smsURL, token string) *Notifier {
	return &Notifier{
		EmailURL: strings.TrimRight(emailURL, "/"),
		SMSURL:   strings.TrimRight(smsURL, "/"),
		Token:    token,
		Client:   utils.HTTPClient,
		printer:  message.NewPrinter(language.AmericanEnglish),
	}
}

// SendEmail dispatches a templated email for the given kind. Reward kinds
// require card artifacts; the welcome kind requires the personal code.
func (n *Notifier) SendEmail(ctx context.Context, kind NotificationKind, rec *models.CustomerReferral, reward *IssueResult) NotifyResult {
	if n.EmailURL == "" {
		return NotifyResult{Skipped: true, Reason: "email sender not configured"}
	}
	if rec.Email == "" {
		return NotifyResult{Skipped: true, Reason: "customer has no email address"}
	}

	variables := map[string]string{"name": rec.Name}
	switch kind {
	case NotifyFriendBonus, NotifyReferrerReward:
		if reward == nil || reward.GAN == "" {
			return NotifyResult{Skipped: true, Reason: "no card number to reference"}
		}
		variables["gift_card_gan"] = reward.GAN
		variables["amount"] = n.FormatCents(reward.BalanceCents)
		if reward.ActivationURL != "" {
			variables["activation_url"] = reward.ActivationURL
		}
		if reward.PassKitURL != "" {
			variables["pass_kit_url"] = reward.PassKitURL
		}
	case NotifyReferrerWelcome:
		if rec.PersonalCode == nil {
			return NotifyResult{Skipped: true, Reason: "no personal code to reference"}
		}
		variables["referral_code"] = *rec.PersonalCode
		variables["referral_url"] = rec.ReferralURL
	}

	payload := map[string]interface{}{
		"template":  string(kind),
		"to":        rec.Email,
		"variables": variables,
	}
	if err := n.post(ctx, n.EmailURL+"/send", payload); err != nil {
		log.Printf("[NOTIFIER] email %s to customer %s failed: %v", kind, rec.ID, err)
		return NotifyResult{Reason: err.Error()}
	}
	return NotifyResult{Success: true}
}

// SendSMS dispatches a templated text message for the given kind.
func (n *Notifier) SendSMS(ctx context.Context, kind NotificationKind, rec *models.CustomerReferral, reward *IssueResult) NotifyResult {
	if n.SMSURL == "" {
		return NotifyResult{Skipped: true, Reason: "sms sender not configured"}
	}
	if rec.Phone == "" {
		return NotifyResult{Skipped: true, Reason: "customer has no phone number"}
	}

	var body string
	switch kind {
	case NotifyFriendBonus, NotifyReferrerReward:
		if reward == nil || reward.GAN == "" {
			return NotifyResult{Skipped: true, Reason: "no card number to reference"}
		}
		body = fmt.Sprintf("Your %s gift card is ready! Card %s, balance %s.",
			kindLabel(kind), reward.GAN, n.FormatCents(reward.BalanceCents))
	case NotifyReferrerWelcome:
		if rec.PersonalCode == nil {
			return NotifyResult{Skipped: true, Reason: "no personal code to reference"}
		}
		body = fmt.Sprintf("You're now a referrer! Share code %s or %s with friends.",
			*rec.PersonalCode, rec.ReferralURL)
	}

	payload := map[string]interface{}{
		"to":   rec.Phone,
		"body": body,
	}
	if err := n.post(ctx, n.SMSURL+"/send", payload); err != nil {
		log.Printf("[NOTIFIER] sms %s to customer %s failed: %v", kind, rec.ID, err)
		return NotifyResult{Reason: err.Error()}
	}
	return NotifyResult{Success: true}
}

// FormatCents renders a cent amount as a dollar string for message bodies.
func (n *Notifier) FormatCents(cents int64) string {
	return n.printer.Sprintf("$%.2f", float64(cents)/100)
}

func kindLabel(kind NotificationKind) string {
	if kind == NotifyReferrerReward {
		return "referral reward"
	}
	return "welcome"
}

func (n *Notifier) post(ctx context.Context, url string, payload interface{}) error {
	jsonData, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.Token)

	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("sender returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

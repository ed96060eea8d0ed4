// services/giftcard_issuer.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"salon-referral-system/utils"
)

// Funding channels, recorded on the customer record for reconciliation.
const (
	ChannelOrderActivation  = "order_activation"
	ChannelOwnerActivation  = "owner_activation"
	ChannelBalanceIncrement = "balance_increment"
)

// GiftCardIssuer creates and funds reward gift cards. Every monetary provider
// call gets a key derived from the caller's idempotency seed plus a fixed
// per-step suffix, so re-invoking with the same seed after a crash replays the
// original operations instead of issuing a second reward.
type GiftCardIssuer struct {
	Provider *GiftCardClient
}

func NewGiftCardIssuer(provider *GiftCardClient) *GiftCardIssuer {
	return &GiftCardIssuer{Provider: provider}
}

type IssueParams struct {
	CustomerID         string
	CustomerName       string
	AmountCents        int64
	ReferrerReward     bool
	PendingOrderID     string
	PendingLineItemUID string

	// Must be stable across retries of the same logical reward.
	IdempotencySeed string
}

type IssueResult struct {
	CardID        string
	GAN           string
	Channel       string
	BalanceCents  int64
	ActivationURL string
	PassKitURL    string
	DigitalEmail  string

	// Set when the card was funded through a real sales order.
	OrderID     string
	LineItemUID string
}

// Issue creates a new gift card and funds it. The card is only considered
// issued once balance verification confirms a non-zero amount; a card that was
// created but never funded is left provider-side and is safe to retry.
func (s *GiftCardIssuer) Issue(ctx context.Context, p IssueParams) (*IssueResult, error) {
	card, err := s.Provider.CreateGiftCard(ctx, utils.IdempotencyKey(p.IdempotencySeed, "create-card"))
	if err != nil {
		return nil, fmt.Errorf("create gift card: %w", err)
	}
	kind := "signup bonus"
	if p.ReferrerReward {
		kind = "referrer reward"
	}
	log.Printf("[ISSUER] created card %s (%s, %d cents) for customer %s", card.ID, kind, p.AmountCents, p.CustomerID)

	return s.fund(ctx, card, p.AmountCents, p.CustomerID, p.IdempotencySeed, p.PendingOrderID, p.PendingLineItemUID)
}

// Load adds funds to an existing card (referrer top-up path).
func (s *GiftCardIssuer) Load(ctx context.Context, cardID string, amountCents int64, customerID, contextLabel, idempotencySeed string) (*IssueResult, error) {
	card, err := s.Provider.RetrieveGiftCard(ctx, cardID)
	if err != nil {
		return nil, fmt.Errorf("retrieve gift card %s: %w", cardID, err)
	}
	log.Printf("[ISSUER] %s: loading %d cents onto card %s (state %s) for customer %s",
		contextLabel, amountCents, cardID, card.State, customerID)

	return s.fund(ctx, card, amountCents, customerID, idempotencySeed, "", "")
}

type fundingAttempt struct {
	channel string
	run     func(context.Context) (*GiftCardActivity, error)
}

// fund walks the funding strategies in order, first success wins. Each attempt
// has its own idempotency key, so a strategy that half-ran on a previous
// delivery is replayed rather than doubled.
func (s *GiftCardIssuer) fund(ctx context.Context, card *GiftCard, amountCents int64, customerID, seed, orderID, lineItemUID string) (*IssueResult, error) {
	amount := Money{Amount: amountCents, Currency: DefaultCurrency}

	var attempts []fundingAttempt
	if orderID != "" && lineItemUID != "" {
		attempts = append(attempts, fundingAttempt{ChannelOrderActivation, func(ctx context.Context) (*GiftCardActivity, error) {
			return s.Provider.CreateActivity(ctx, utils.IdempotencyKey(seed, "activate-order"), ActivityRequest{
				Type:        ActivityActivate,
				GiftCardID:  card.ID,
				OrderID:     orderID,
				LineItemUID: lineItemUID,
			})
		}})
	}
	if card.State == GiftCardStatePending {
		// A card in its initial state can only be activated, never incremented.
		attempts = append(attempts, fundingAttempt{ChannelOwnerActivation, func(ctx context.Context) (*GiftCardActivity, error) {
			return s.Provider.CreateActivity(ctx, utils.IdempotencyKey(seed, "activate-owner"), ActivityRequest{
				Type:       ActivityActivate,
				GiftCardID: card.ID,
				Amount:     &amount,
				Reason:     "referral reward",
			})
		}})
	} else {
		attempts = append(attempts, fundingAttempt{ChannelBalanceIncrement, func(ctx context.Context) (*GiftCardActivity, error) {
			return s.Provider.CreateActivity(ctx, utils.IdempotencyKey(seed, "adjust-increment"), ActivityRequest{
				Type:       ActivityAdjustIncrement,
				GiftCardID: card.ID,
				Amount:     &amount,
				Reason:     "referral reward",
			})
		}})
	}

	var activity *GiftCardActivity
	var channel string
	for _, att := range attempts {
		act, err := att.run(ctx)
		if err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				log.Printf("[ISSUER] %s funding failed for card %s: %v", att.channel, card.ID, apiErr)
			} else {
				log.Printf("[ISSUER] %s funding call failed for card %s: %v", att.channel, card.ID, err)
			}
			continue
		}
		activity = act
		channel = att.channel
		break
	}
	if activity == nil {
		return nil, fmt.Errorf("all funding attempts failed for card %s", card.ID)
	}

	// Linking is non-fatal: the money already moved, the association can be
	// repaired later.
	if err := s.Provider.LinkCustomer(ctx, card.ID, customerID); err != nil {
		log.Printf("[ISSUER] linking card %s to customer %s failed: %v", card.ID, customerID, err)
	}

	res := &IssueResult{
		CardID:       card.ID,
		GAN:          activity.GiftCardGAN,
		Channel:      channel,
		BalanceCents: activity.GiftCardBalance.Amount,
	}
	if channel == ChannelOrderActivation {
		res.OrderID = orderID
		res.LineItemUID = lineItemUID
	}
	if res.GAN == "" {
		res.GAN = card.GAN
	}
	if card.Digital != nil {
		res.ActivationURL = card.Digital.ActivationURL
		res.PassKitURL = card.Digital.PassKitURL
		res.DigitalEmail = card.Digital.Email
	}

	// One refresh to capture the provider-computed final balance and wallet
	// URLs. On failure the activity values stand.
	if fresh, err := s.Provider.RetrieveGiftCard(ctx, card.ID); err != nil {
		log.Printf("[ISSUER] balance refresh failed for card %s, keeping activity values: %v", card.ID, err)
	} else {
		res.BalanceCents = fresh.BalanceMoney.Amount
		if fresh.GAN != "" {
			res.GAN = fresh.GAN
		}
		if fresh.Digital != nil {
			res.ActivationURL = fresh.Digital.ActivationURL
			res.PassKitURL = fresh.Digital.PassKitURL
			res.DigitalEmail = fresh.Digital.Email
		}
	}

	if res.BalanceCents == 0 {
		return nil, fmt.Errorf("card %s funded via %s but balance verification returned zero", card.ID, channel)
	}

	log.Printf("[ISSUER] card %s funded via %s, balance %d cents", card.ID, channel, res.BalanceCents)
	return res, nil
}

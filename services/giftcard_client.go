// services/giftcard_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"salon-referral-system/utils"
)

// DefaultCurrency for all reward money amounts.
const DefaultCurrency = "USD"

// Gift card states reported by the payment provider.
const (
	GiftCardStatePending = "PENDING"
	GiftCardStateActive  = "ACTIVE"
)

// Gift card activity types.
const (
	ActivityActivate        = "ACTIVATE"
	ActivityAdjustIncrement = "ADJUST_INCREMENT"
)

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type GiftCardDigitalDetails struct {
	ActivationURL string `json:"activation_url,omitempty"`
	PassKitURL    string `json:"pass_kit_url,omitempty"`
	Email         string `json:"email,omitempty"`
}

type GiftCard struct {
	ID           string                  `json:"id"`
	GAN          string                  `json:"gan"`
	State        string                  `json:"state"`
	BalanceMoney Money                   `json:"balance_money"`
	Digital      *GiftCardDigitalDetails `json:"digital_details,omitempty"`
}

type GiftCardActivity struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	GiftCardID      string `json:"gift_card_id"`
	GiftCardGAN     string `json:"gift_card_gan"`
	GiftCardBalance Money  `json:"gift_card_balance_money"`
}

// ActivityRequest describes one funding mutation. ACTIVATE takes either an
// order reference or an owner-funded amount; ADJUST_INCREMENT always takes an
// amount.
type ActivityRequest struct {
	Type        string `json:"type"`
	GiftCardID  string `json:"gift_card_id"`
	Amount      *Money `json:"amount_money,omitempty"`
	OrderID     string `json:"order_id,omitempty"`
	LineItemUID string `json:"line_item_uid,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// ProviderCustomer is the provider-side customer profile, used for lazy
// record creation and the attribute leg of the referral-code scan.
type ProviderCustomer struct {
	ID         string            `json:"id"`
	GivenName  string            `json:"given_name"`
	FamilyName string            `json:"family_name"`
	Email      string            `json:"email_address"`
	Phone      string            `json:"phone_number"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type ProviderOrder struct {
	ID          string `json:"id"`
	LineItemUID string `json:"line_item_uid"`
	TotalMoney  Money  `json:"total_money"`
}

type ProviderPayment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type ProviderError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

// APIError carries the provider's structured error payload so funding
// failures can be logged with the real cause.
type APIError struct {
	StatusCode int
	Errors     []ProviderError
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("provider API error: status %d", e.StatusCode)
	}
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = fmt.Sprintf("%s/%s: %s", pe.Category, pe.Code, pe.Detail)
	}
	return fmt.Sprintf("provider API error: status %d (%s)", e.StatusCode, strings.Join(parts, "; "))
}

// GiftCardClient talks to the payment provider's gift card, order and payment
// APIs. Every state-changing call carries an Idempotency-Key so a replayed
// call re-uses the original provider-side operation.
type GiftCardClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewGiftCardClient(baseURL, token string) *GiftCardClient {
	return &GiftCardClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

func (c *GiftCardClient) do(ctx context.Context, method, path, idempotencyKey string, reqBody, out interface{}) error {
	var body io.Reader
	if reqBody != nil {
		jsonData, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("call provider %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Errors []ProviderError `json:"errors"`
		}
		if err := json.Unmarshal(respBody, &payload); err == nil {
			apiErr.Errors = payload.Errors
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}

// CreateGiftCard creates a digital gift card in its initial (PENDING) state.
func (c *GiftCardClient) CreateGiftCard(ctx context.Context, idempotencyKey string) (*GiftCard, error) {
	reqBody := map[string]interface{}{
		"idempotency_key": idempotencyKey,
		"gift_card":       map[string]string{"type": "DIGITAL"},
	}
	var out struct {
		GiftCard GiftCard `json:"gift_card"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/gift-cards", idempotencyKey, reqBody, &out); err != nil {
		return nil, err
	}
	return &out.GiftCard, nil
}

// CreateActivity performs one funding mutation against a card.
func (c *GiftCardClient) CreateActivity(ctx context.Context, idempotencyKey string, req ActivityRequest) (*GiftCardActivity, error) {
	reqBody := map[string]interface{}{
		"idempotency_key":    idempotencyKey,
		"gift_card_activity": req,
	}
	var out struct {
		Activity GiftCardActivity `json:"gift_card_activity"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/gift-cards/activities", idempotencyKey, reqBody, &out); err != nil {
		return nil, err
	}
	return &out.Activity, nil
}

func (c *GiftCardClient) RetrieveGiftCard(ctx context.Context, id string) (*GiftCard, error) {
	var out struct {
		GiftCard GiftCard `json:"gift_card"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/gift-cards/"+id, "", nil, &out); err != nil {
		return nil, err
	}
	return &out.GiftCard, nil
}

// LinkCustomer associates a card with a provider customer so it shows up in
// their profile.
func (c *GiftCardClient) LinkCustomer(ctx context.Context, cardID, customerID string) error {
	reqBody := map[string]string{"customer_id": customerID}
	return c.do(ctx, http.MethodPost, "/v2/gift-cards/"+cardID+"/link-customer", "", reqBody, nil)
}

func (c *GiftCardClient) RetrieveCustomer(ctx context.Context, customerID string) (*ProviderCustomer, error) {
	var out struct {
		Customer ProviderCustomer `json:"customer"`
	}
	if err := c.do(ctx, http.MethodGet, "/v2/customers/"+customerID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out.Customer, nil
}

// CreateGiftCardOrder opens a sales order with a single gift-card line item,
// for rewards funded through a real order.
func (c *GiftCardClient) CreateGiftCardOrder(ctx context.Context, idempotencyKey, customerID string, amount Money) (*ProviderOrder, error) {
	reqBody := map[string]interface{}{
		"idempotency_key": idempotencyKey,
		"order": map[string]interface{}{
			"customer_id": customerID,
			"line_items": []map[string]interface{}{
				{
					"item_type":        "GIFT_CARD",
					"quantity":         "1",
					"base_price_money": amount,
				},
			},
		},
	}
	var out struct {
		Order ProviderOrder `json:"order"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/orders", idempotencyKey, reqBody, &out); err != nil {
		return nil, err
	}
	return &out.Order, nil
}

// PayOrder settles a gift-card order from the business account.
func (c *GiftCardClient) PayOrder(ctx context.Context, idempotencyKey, orderID string, amount Money) (*ProviderPayment, error) {
	reqBody := map[string]interface{}{
		"idempotency_key": idempotencyKey,
		"order_id":        orderID,
		"amount_money":    amount,
		"source_id":       "EXTERNAL",
	}
	var out struct {
		Payment ProviderPayment `json:"payment"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/payments", idempotencyKey, reqBody, &out); err != nil {
		return nil, err
	}
	return &out.Payment, nil
}

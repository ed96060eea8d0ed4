package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"salon-referral-system/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CustomerReferral{}, &models.PipelineRun{}))
	return db
}

func seedReferrer(t *testing.T, db *gorm.DB, id, code string) *models.CustomerReferral {
	t.Helper()
	rec := &models.CustomerReferral{
		ID:           id,
		Name:         "Referrer " + id,
		Email:        id + "@example.com",
		PersonalCode: &code,
	}
	require.NoError(t, db.Create(rec).Error)
	return rec
}

// fakeProvider is an in-memory stand-in for the gift card provider API. POSTs
// with an idempotency key the provider has already seen replay the stored
// response without changing state, matching real provider semantics.
type fakeProvider struct {
	mu sync.Mutex

	cards     map[string]*GiftCard
	customers map[string]*ProviderCustomer
	replays   map[string][]byte
	links     map[string]string

	cardSeq       int
	orderAmount   int64
	createCalls   int
	fundAttempts  []string // "order", "owner", "increment" in call order
	retrieveCalls int

	failOrderActivate bool
	failOwnerActivate bool
	failIncrement     bool
	failRetrieve      bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		cards:       map[string]*GiftCard{},
		customers:   map[string]*ProviderCustomer{},
		replays:     map[string][]byte{},
		links:       map[string]string{},
		orderAmount: 1000,
	}
}

func (f *fakeProvider) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v2/gift-cards", f.handleCreateCard)
	mux.HandleFunc("POST /v2/gift-cards/activities", f.handleActivity)
	mux.HandleFunc("GET /v2/gift-cards/{id}", f.handleRetrieveCard)
	mux.HandleFunc("POST /v2/gift-cards/{id}/link-customer", f.handleLink)
	mux.HandleFunc("GET /v2/customers/{id}", f.handleRetrieveCustomer)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeProvider) client(t *testing.T) *GiftCardClient {
	t.Helper()
	return NewGiftCardClient(f.server(t).URL, "test-token")
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) []byte {
	body, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	return body
}

func writeProviderError(w http.ResponseWriter, code, detail string) {
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"errors": []ProviderError{{Category: "INVALID_REQUEST_ERROR", Code: code, Detail: detail}},
	})
}

func (f *fakeProvider) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if body, seen := f.replays[req.IdempotencyKey]; seen {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	f.cardSeq++
	f.createCalls++
	card := &GiftCard{
		ID:    fmt.Sprintf("card-%d", f.cardSeq),
		GAN:   fmt.Sprintf("7777000000%06d", f.cardSeq),
		State: GiftCardStatePending,
		BalanceMoney: Money{Currency: DefaultCurrency},
	}
	f.cards[card.ID] = card

	body := writeJSON(w, http.StatusOK, map[string]interface{}{"gift_card": card})
	f.replays[req.IdempotencyKey] = body
}

func (f *fakeProvider) handleActivity(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req struct {
		IdempotencyKey string          `json:"idempotency_key"`
		Activity       ActivityRequest `json:"gift_card_activity"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if body, seen := f.replays[req.IdempotencyKey]; seen {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	card, ok := f.cards[req.Activity.GiftCardID]
	if !ok {
		writeProviderError(w, "NOT_FOUND", "gift card not found")
		return
	}

	switch {
	case req.Activity.Type == ActivityActivate && req.Activity.OrderID != "":
		f.fundAttempts = append(f.fundAttempts, "order")
		if f.failOrderActivate {
			writeProviderError(w, "ORDER_MISMATCH", "forced order activation failure")
			return
		}
		card.State = GiftCardStateActive
		card.BalanceMoney.Amount += f.orderAmount
	case req.Activity.Type == ActivityActivate:
		f.fundAttempts = append(f.fundAttempts, "owner")
		if f.failOwnerActivate {
			writeProviderError(w, "INSUFFICIENT_FUNDS", "forced owner activation failure")
			return
		}
		card.State = GiftCardStateActive
		card.BalanceMoney.Amount += req.Activity.Amount.Amount
	case req.Activity.Type == ActivityAdjustIncrement:
		f.fundAttempts = append(f.fundAttempts, "increment")
		if card.State == GiftCardStatePending {
			writeProviderError(w, "INVALID_STATE", "cannot increment a pending card")
			return
		}
		if f.failIncrement {
			writeProviderError(w, "INSUFFICIENT_FUNDS", "forced increment failure")
			return
		}
		card.BalanceMoney.Amount += req.Activity.Amount.Amount
	default:
		writeProviderError(w, "BAD_REQUEST", "unknown activity type")
		return
	}

	card.Digital = &GiftCardDigitalDetails{
		ActivationURL: "https://cards.example/activate/" + card.ID,
		PassKitURL:    "https://cards.example/passkit/" + card.ID,
	}

	body := writeJSON(w, http.StatusOK, map[string]interface{}{
		"gift_card_activity": GiftCardActivity{
			ID:              "activity-" + req.IdempotencyKey,
			Type:            req.Activity.Type,
			GiftCardID:      card.ID,
			GiftCardGAN:     card.GAN,
			GiftCardBalance: card.BalanceMoney,
		},
	})
	f.replays[req.IdempotencyKey] = body
}

func (f *fakeProvider) handleRetrieveCard(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.retrieveCalls++
	if f.failRetrieve {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"errors": []ProviderError{{Category: "API_ERROR", Code: "INTERNAL", Detail: "forced retrieve failure"}},
		})
		return
	}
	card, ok := f.cards[r.PathValue("id")]
	if !ok {
		writeProviderError(w, "NOT_FOUND", "gift card not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"gift_card": card})
}

func (f *fakeProvider) handleLink(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var req struct {
		CustomerID string `json:"customer_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.links[r.PathValue("id")] = req.CustomerID
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (f *fakeProvider) handleRetrieveCustomer(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	customer, ok := f.customers[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"errors": []ProviderError{{Category: "INVALID_REQUEST_ERROR", Code: "NOT_FOUND", Detail: "customer not found"}},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"customer": customer})
}

func (f *fakeProvider) attempts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.fundAttempts))
	copy(out, f.fundAttempts)
	return out
}

func (f *fakeProvider) cardCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

// fakeNotifySender counts deliveries accepted by a notification service.
type fakeNotifySender struct {
	mu    sync.Mutex
	sends []map[string]interface{}
	fail  bool
}

func (s *fakeNotifySender) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var payload map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		s.sends = append(s.sends, payload)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *fakeNotifySender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sends)
}

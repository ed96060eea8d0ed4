// services/referral_resolver.go
package services

import (
	"errors"
	"log"
	"sort"
	"strings"

	"gorm.io/gorm"

	"salon-referral-system/models"
)

// ErrReferrerNotFound is the normal outcome when a code matches no referrer.
// It is not a system fault.
var ErrReferrerNotFound = errors.New("referrer not found")

// Candidate tokens from the heuristic scan must look like a code.
const (
	maxCodeLength = 20
	maxCodeWords  = 3
)

// ReferralResolver finds the referring customer for a free-text code.
// Read-only.
type ReferralResolver struct {
	DB *gorm.DB
}

func NewReferralResolver(db *gorm.DB) *ReferralResolver {
	return &ReferralResolver{DB: db}
}

// Resolve normalizes the code (trim + uppercase) and looks it up
// case-insensitively, then falls back to an exact byte-for-byte match on the
// raw input. The fallback recovers codes historically stored with unexpected
// casing or baked-in whitespace. Malformed input resolves to not-found, never
// an error.
func (r *ReferralResolver) Resolve(code string) (*models.CustomerReferral, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, ErrReferrerNotFound
	}

	var rec models.CustomerReferral
	err := r.DB.Where("UPPER(personal_code) = ?", normalized).First(&rec).Error
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	err = r.DB.Where("personal_code = ?", code).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReferrerNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

type codeSource struct {
	name       string
	candidates func() []string
}

// Discover finds the redeemed referral code for a booking. It prefers the
// structured field, then scans loose payload locations in priority order for a
// short token that resolves to a stored code. First match wins. This is a
// best-effort heuristic: a coincidental short string that equals someone's
// code will match, which is why every match is logged with its source.
// The returned code is the referrer's stored personal_code, so persisting and
// later re-resolving it always lands on the same referrer.
func (r *ReferralResolver) Discover(ev BookingEvent, profile *ProviderCustomer) (*models.CustomerReferral, string, error) {
	// The structured field is trusted as-is; the length/word-count filter only
	// guards the loose-field scan.
	if strings.TrimSpace(ev.ReferralCode) != "" {
		rec, err := r.Resolve(ev.ReferralCode)
		if err == nil {
			log.Printf("[RESOLVER] referral code %q matched via structured_field", strings.TrimSpace(ev.ReferralCode))
			return rec, storedCode(rec, ev.ReferralCode), nil
		}
		if !errors.Is(err, ErrReferrerNotFound) {
			return nil, "", err
		}
	}

	sources := []codeSource{
		{"booking_form_fields", func() []string {
			vals := make([]string, 0, len(ev.FormFields))
			for _, f := range ev.FormFields {
				vals = append(vals, f.Value)
			}
			return vals
		}},
		{"segment_custom_fields", func() []string {
			keys := make([]string, 0, len(ev.SegmentFields))
			for k := range ev.SegmentFields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			vals := make([]string, 0, len(keys))
			for _, k := range keys {
				vals = append(vals, ev.SegmentFields[k])
			}
			return vals
		}},
		{"customer_attributes", func() []string {
			if profile == nil {
				return nil
			}
			keys := make([]string, 0, len(profile.Attributes))
			for k := range profile.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			vals := make([]string, 0, len(keys))
			for _, k := range keys {
				vals = append(vals, profile.Attributes[k])
			}
			return vals
		}},
	}

	for _, src := range sources {
		for _, cand := range src.candidates() {
			if !plausibleCode(cand) {
				continue
			}
			rec, err := r.Resolve(cand)
			if errors.Is(err, ErrReferrerNotFound) {
				continue
			}
			if err != nil {
				return nil, "", err
			}
			log.Printf("[RESOLVER] referral code %q matched via %s", strings.TrimSpace(cand), src.name)
			return rec, storedCode(rec, cand), nil
		}
	}
	return nil, "", ErrReferrerNotFound
}

// storedCode prefers the referrer's own personal_code over the inbound
// candidate. Legacy codes carry baked-in whitespace or casing that only the
// exact-match branch recovers; persisting the stored form keeps them
// resolvable on the payment leg.
func storedCode(rec *models.CustomerReferral, candidate string) string {
	if rec.PersonalCode != nil && *rec.PersonalCode != "" {
		return *rec.PersonalCode
	}
	return strings.ToUpper(strings.TrimSpace(candidate))
}

func plausibleCode(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxCodeLength {
		return false
	}
	return len(strings.Fields(s)) <= maxCodeWords
}

// Package cookies filters, validates, and serializes the session cookies
// captured from the embedded browser for the target site.
package cookies

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// Domains that count as the target site.
	TargetDomains = []string{"x.com", "twitter.com"}

	// EssentialNames must all be present for a session to be usable.
	EssentialNames = []string{"auth_token", "ct0"}

	// OptionalNames are captured when present but are not required.
	OptionalNames = []string{"auth_multi", "twid", "kdt", "remember_checked_on"}
)

var ErrNoCookiesFound = errors.New("no authentication cookies found")

type MissingEssentialError struct {
	Names []string
}

func (e *MissingEssentialError) Error() string {
	return fmt.Sprintf("missing essential cookies: %s", strings.Join(e.Names, ", "))
}

type ExpiredCookiesError struct {
	Names []string
}

func (e *ExpiredCookiesError) Error() string {
	return fmt.Sprintf("expired cookies: %s", strings.Join(e.Names, ", "))
}

// Record is one captured cookie. The JSON shape matches the backend relay
// payload: expires is epoch seconds, zero for session cookies.
type Record struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HttpOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// IsSession reports whether the cookie has no expiry. Session cookies never
// count as expired.
func (r Record) IsSession() bool {
	return r.Expires == 0
}

func (r Record) IsExpiredAt(now time.Time) bool {
	if r.IsSession() {
		return false
	}
	return !now.Before(time.Unix(int64(r.Expires), 0))
}

// IsTargetDomain reports whether domain belongs to the target site, covering
// host-prefixed and dot-prefixed variants of the known aliases.
func IsTargetDomain(domain string) bool {
	d := strings.ToLower(domain)
	for _, t := range TargetDomains {
		if strings.Contains(d, t) {
			return true
		}
	}
	return false
}

func allowedNames() []string {
	return append(append([]string{}, EssentialNames...), OptionalNames...)
}

// Extract filters jar down to session-relevant cookies for the target site.
// Returns ErrNoCookiesFound if nothing survives the filter.
func Extract(jar []Record) ([]Record, error) {
	allowed := map[string]bool{}
	for _, n := range allowedNames() {
		allowed[n] = true
	}

	var out []Record
	for _, r := range jar {
		if IsTargetDomain(r.Domain) && allowed[r.Name] {
			out = append(out, r)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoCookiesFound
	}

	return out, nil
}

// ValidationResult is the advisory breakdown of a cookie set. The binary
// gating decision used elsewhere is HasValidSession.
type ValidationResult struct {
	IsValid          bool     `json:"is_valid"`
	Essential        []string `json:"essential"`
	MissingEssential []string `json:"missing_essential"`
	Optional         []string `json:"optional"`
	Expired          []string `json:"expired"`
	TotalCount       int      `json:"total_count"`
}

func Validate(records []Record) ValidationResult {
	names := map[string]bool{}
	for _, r := range records {
		names[r.Name] = true
	}

	res := ValidationResult{
		Essential:        []string{},
		MissingEssential: []string{},
		Optional:         []string{},
		Expired:          []string{},
		TotalCount:       len(records),
	}

	for _, n := range EssentialNames {
		if names[n] {
			res.Essential = append(res.Essential, n)
		} else {
			res.MissingEssential = append(res.MissingEssential, n)
		}
	}

	for _, n := range OptionalNames {
		if names[n] {
			res.Optional = append(res.Optional, n)
		}
	}

	validDomain := false
	now := time.Now()
	for _, r := range records {
		if IsTargetDomain(r.Domain) {
			validDomain = true
		}
		if r.IsExpiredAt(now) {
			res.Expired = append(res.Expired, r.Name)
		}
	}

	res.IsValid = len(res.MissingEssential) == 0 && validDomain && len(res.Expired) == 0

	return res
}

// HasValidSession is the gating check: every essential cookie present and no
// stored cookie past its expiry.
func HasValidSession(records []Record) bool {
	names := map[string]bool{}
	for _, r := range records {
		names[r.Name] = true
	}

	for _, n := range EssentialNames {
		if !names[n] {
			return false
		}
	}

	now := time.Now()
	for _, r := range records {
		if r.IsExpiredAt(now) {
			return false
		}
	}

	return true
}

// Check translates a validation result into the error taxonomy used by the
// diagnostics surface.
func Check(records []Record) error {
	if len(records) == 0 {
		return ErrNoCookiesFound
	}

	res := Validate(records)
	if len(res.MissingEssential) > 0 {
		return &MissingEssentialError{Names: res.MissingEssential}
	}
	if len(res.Expired) > 0 {
		return &ExpiredCookiesError{Names: res.Expired}
	}

	return nil
}

func Marshal(records []Record) ([]byte, error) {
	return json.Marshal(records)
}

func Unmarshal(b []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, fmt.Errorf("could not deserialize stored cookies: %w", err)
	}
	return records, nil
}

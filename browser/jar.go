package browser

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thealgorithm/companiond/cookies"
)

// RecordingJar wraps the standard cookie jar and records the full Set-Cookie
// attributes as they arrive. cookiejar.Jar only hands back name=value pairs,
// but the extractor needs domain, path, expiry, and the security flags.
type RecordingJar struct {
	base http.CookieJar

	mu      sync.Mutex
	records map[string]cookies.Record
}

func NewRecordingJar() (*RecordingJar, error) {
	base, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	return &RecordingJar{
		base:    base,
		records: make(map[string]cookies.Record),
	}, nil
}

func recordKey(domain, path, name string) string {
	return strings.ToLower(domain) + "|" + path + "|" + name
}

func (j *RecordingJar) SetCookies(u *url.URL, cks []*http.Cookie) {
	j.base.SetCookies(u, cks)

	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	for _, c := range cks {
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}

		key := recordKey(domain, path, c.Name)

		// MaxAge<0 and past expiry are deletions
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(now)) {
			delete(j.records, key)
			continue
		}

		var expires float64
		if c.MaxAge > 0 {
			expires = float64(now.Add(time.Duration(c.MaxAge) * time.Second).Unix())
		} else if !c.Expires.IsZero() {
			expires = float64(c.Expires.Unix())
		}

		j.records[key] = cookies.Record{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   domain,
			Path:     path,
			Expires:  expires,
			HttpOnly: c.HttpOnly,
			Secure:   c.Secure,
			SameSite: sameSiteString(c.SameSite),
		}
	}
}

func (j *RecordingJar) Cookies(u *url.URL) []*http.Cookie {
	return j.base.Cookies(u)
}

// Records returns every live cookie the jar has seen.
func (j *RecordingJar) Records() []cookies.Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]cookies.Record, 0, len(j.records))
	now := time.Now()
	for _, r := range j.records {
		if r.IsExpiredAt(now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Has reports whether a live cookie with the given name exists for a domain
// accepted by domainMatch.
func (j *RecordingJar) Has(name string, domainMatch func(string) bool) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	for _, r := range j.records {
		if r.Name == name && domainMatch(r.Domain) && !r.IsExpiredAt(now) {
			return true
		}
	}
	return false
}

func sameSiteString(s http.SameSite) string {
	switch s {
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}

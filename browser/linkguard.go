package browser

import (
	"sync"
	"time"
)

const (
	conversionWindow      = 1 * time.Second
	maxConversions        = 2
	maxRelayConversions   = 4
	relaySuppressDuration = 3 * time.Second
)

type guardDecision int

const (
	guardConvert guardDecision = iota
	guardBlocked
	guardSuppressed
)

type conversion struct {
	url string
	at  time.Time
}

// linkGuard bounds the rate of universal-link-to-HTTPS rewrites so a site
// that keeps emitting the same link cannot spin the browser in a loop. The
// relay domain gets a higher threshold but, once broken, repeats of the same
// URL are suppressed for a longer cooldown.
type linkGuard struct {
	mu           sync.Mutex
	now          func() time.Time
	conversions  []conversion
	relayHistory map[string]time.Time
}

func newLinkGuard() *linkGuard {
	return &linkGuard{
		now:          time.Now,
		relayHistory: make(map[string]time.Time),
	}
}

// reset drops all tracking state. Called at the start of each authentication
// session.
func (g *linkGuard) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conversions = nil
	g.relayHistory = make(map[string]time.Time)
}

// decide returns whether httpsURL may be rewritten again. guardConvert
// records the conversion; the other outcomes leave state untouched so the
// caller reloads the login page instead.
func (g *linkGuard) decide(httpsURL string, relay bool) guardDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	kept := g.conversions[:0]
	for _, c := range g.conversions {
		if now.Sub(c.at) < conversionWindow {
			kept = append(kept, c)
		}
	}
	g.conversions = kept

	if relay {
		for u, at := range g.relayHistory {
			if now.Sub(at) >= relaySuppressDuration {
				delete(g.relayHistory, u)
			}
		}
		if _, ok := g.relayHistory[httpsURL]; ok {
			return guardSuppressed
		}
	}

	limit := maxConversions
	if relay {
		limit = maxRelayConversions
	}

	recent := 0
	for _, c := range g.conversions {
		if c.url == httpsURL {
			recent++
		}
	}
	if recent >= limit {
		return guardBlocked
	}

	g.conversions = append(g.conversions, conversion{url: httpsURL, at: now})
	if relay {
		g.relayHistory[httpsURL] = now
	}

	return guardConvert
}

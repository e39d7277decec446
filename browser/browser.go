// Package browser is the controlled navigation engine that stands in for the
// embedded login web view: it loads the target site's login page with a fixed
// user agent, intercepts navigation decisions before they happen, converts
// universal links back to HTTPS under a loop guard, and detects login
// completion from the cookie jar and path heuristics.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/thealgorithm/companiond/cookies"
)

const (
	DefaultLoginURL = "https://x.com/login"

	// The target site serves different markup per user-agent class; desktop
	// Safari is used consistently.
	UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"

	universalLinkScheme = "x-safari-https"
	relayDomain         = "redirect.x.com"
	authCookieName      = "auth_token"

	maxRedirectHops = 10
	requestTimeout  = 30 * time.Second
)

type Action string

const (
	ActionAllowed    Action = "allowed"
	ActionCallback   Action = "oauth_callback"
	ActionConverted  Action = "converted"
	ActionBlocked    Action = "blocked"
	ActionSuppressed Action = "suppressed"
)

type NavigationResult struct {
	Action        Action `json:"action"`
	URL           string `json:"url"`
	LoginComplete bool   `json:"login_complete"`
}

type Args struct {
	Logger         *slog.Logger
	Transport      http.RoundTripper
	LoginURL       string
	CallbackScheme string

	// OnCallback receives intercepted redirect URLs carrying the app's own
	// scheme instead of letting the browser navigate there.
	OnCallback func(*url.URL)
}

type Browser struct {
	logger         *slog.Logger
	http           *http.Client
	jar            *RecordingJar
	guard          *linkGuard
	loginURL       string
	callbackScheme string
	onCallback     func(*url.URL)

	mu     sync.Mutex
	active bool
}

func New(args *Args) (*Browser, error) {
	if args.CallbackScheme == "" {
		return nil, fmt.Errorf("callback scheme must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	loginURL := args.LoginURL
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}

	jar, err := NewRecordingJar()
	if err != nil {
		return nil, fmt.Errorf("could not create cookie jar: %w", err)
	}

	cli := &http.Client{
		Jar:       jar,
		Timeout:   requestTimeout,
		Transport: args.Transport,
		// redirects go back through the navigation policy one hop at a time
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	return &Browser{
		logger:         args.Logger,
		http:           cli,
		jar:            jar,
		guard:          newLinkGuard(),
		loginURL:       loginURL,
		callbackScheme: args.CallbackScheme,
		onCallback:     args.OnCallback,
	}, nil
}

// Start begins a fresh session: resets the rewrite loop guard and loads the
// login page. Cookies from a prior session are kept so an already-logged-in
// user is detected on the first page load.
func (b *Browser) Start(ctx context.Context) (*NavigationResult, error) {
	b.mu.Lock()
	b.active = true
	b.mu.Unlock()

	b.guard.reset()

	b.logger.Info("starting session browser", "url", b.loginURL)

	return b.load(ctx, b.loginURL, 0)
}

// Cancel dismisses the session. Navigations after Cancel are rejected.
func (b *Browser) Cancel() {
	b.mu.Lock()
	b.active = false
	b.mu.Unlock()
	b.logger.Info("session browser cancelled")
}

func (b *Browser) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Cookies returns the full attribute set of every live cookie in the jar.
func (b *Browser) Cookies() []cookies.Record {
	return b.jar.Records()
}

// Navigate applies the navigation policy to a requested URL, exactly like a
// web view's decide-policy hook: the app's own callback scheme is cancelled
// and forwarded to the OAuth flow, universal links are rewritten to HTTPS
// under the loop guard, and everything else is fetched.
func (b *Browser) Navigate(ctx context.Context, raw string) (*NavigationResult, error) {
	if !b.Active() {
		return nil, fmt.Errorf("session browser is not active")
	}

	return b.navigate(ctx, raw, 0)
}

func (b *Browser) navigate(ctx context.Context, raw string, depth int) (*NavigationResult, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse navigation url: %w", err)
	}

	switch u.Scheme {
	case b.callbackScheme:
		b.logger.Info("intercepted oauth callback navigation", "url", raw)
		if b.onCallback != nil {
			b.onCallback(u)
		}
		return &NavigationResult{Action: ActionCallback, URL: raw}, nil

	case universalLinkScheme:
		return b.convertUniversalLink(ctx, u, depth)

	case "http", "https":
		return b.load(ctx, raw, depth)

	default:
		// unknown schemes are left to the OS open handler
		b.logger.Info("ignoring navigation with unhandled scheme", "scheme", u.Scheme)
		return &NavigationResult{Action: ActionAllowed, URL: raw}, nil
	}
}

func (b *Browser) convertUniversalLink(ctx context.Context, u *url.URL, depth int) (*NavigationResult, error) {
	httpsURL := strings.Replace(u.String(), universalLinkScheme+"://", "https://", 1)
	relay := strings.Contains(u.Host, relayDomain)

	switch b.guard.decide(httpsURL, relay) {
	case guardSuppressed:
		b.logger.Warn("ignoring repeated relay universal link", "url", u.String())
		res, err := b.load(ctx, b.loginURL, depth)
		if err != nil {
			return nil, err
		}
		res.Action = ActionSuppressed
		return res, nil

	case guardBlocked:
		b.logger.Warn("universal link rewrite loop detected", "url", u.String())
		res, err := b.load(ctx, b.loginURL, depth)
		if err != nil {
			return nil, err
		}
		res.Action = ActionBlocked
		return res, nil
	}

	b.logger.Info("converting universal link", "from", u.String(), "to", httpsURL, "relay", relay)

	res, err := b.load(ctx, httpsURL, depth)
	if err != nil {
		return nil, err
	}
	res.Action = ActionConverted
	return res, nil
}

// load fetches a page with the fixed user agent, walking server redirects one
// hop at a time so each hop passes back through the navigation policy. After
// the final response it runs the page-load-finished check.
func (b *Browser) load(ctx context.Context, raw string, depth int) (*NavigationResult, error) {
	current := raw

	for hop := 0; ; hop++ {
		if depth+hop > maxRedirectHops {
			return nil, fmt.Errorf("too many redirects loading %s", raw)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("could not create page request: %w", err)
		}
		req.Header.Set("User-Agent", UserAgent)

		resp, err := b.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("page load failed: %w", err)
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if loc == "" {
				break
			}

			next, err := resp.Request.URL.Parse(loc)
			if err != nil {
				return nil, fmt.Errorf("could not resolve redirect target: %w", err)
			}

			b.logger.Info("server redirect", "to", next.String())

			// non-web redirect targets go back through the full policy
			if next.Scheme != "http" && next.Scheme != "https" {
				return b.navigate(ctx, next.String(), depth+hop+1)
			}

			current = next.String()
			continue
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		current = resp.Request.URL.String()
		break
	}

	return &NavigationResult{
		Action:        ActionAllowed,
		URL:           current,
		LoginComplete: b.checkLoginComplete(current),
	}, nil
}

// checkLoginComplete mirrors the page-load-finished inspection: the primary
// auth cookie wins (covers the already-logged-in case), then the post-login
// path heuristics.
func (b *Browser) checkLoginComplete(currentURL string) bool {
	if b.jar.Has(authCookieName, cookies.IsTargetDomain) {
		b.logger.Info("found auth cookie in jar")
		return true
	}

	u, err := url.Parse(currentURL)
	if err != nil {
		return false
	}

	if strings.Contains(u.Path, "home") || strings.Contains(u.Path, "timeline") || strings.Contains(currentURL, "x.com/home") {
		b.logger.Info("post-login route detected", "url", currentURL)
		return true
	}

	return false
}

// Package auth is the coordinating layer over the OAuth flow, the session
// browser, and the credential store. It owns single instances of each and is
// what the HTTP surface talks to.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/thealgorithm/companiond/browser"
	"github.com/thealgorithm/companiond/cookies"
	"github.com/thealgorithm/companiond/internal/credstore"
	"github.com/thealgorithm/companiond/oauth"
	"github.com/thealgorithm/companiond/relay"
)

// ErrOAuthRequired is returned when the session step is attempted before a
// bearer token exists. The flow controller itself does not enforce this
// ordering; the orchestrator does.
var ErrOAuthRequired = errors.New("oauth authentication must complete before session authentication")

type Args struct {
	Store   *credstore.Store
	Flow    *oauth.Flow
	Browser *browser.Browser
	Relay   *relay.Client
	Logger  *slog.Logger
}

type Manager struct {
	store   *credstore.Store
	flow    *oauth.Flow
	browser *browser.Browser
	relay   *relay.Client
	logger  *slog.Logger
}

func New(args *Args) (*Manager, error) {
	if args.Store == nil {
		return nil, fmt.Errorf("credential store must be set")
	}
	if args.Flow == nil {
		return nil, fmt.Errorf("oauth flow must be set")
	}
	if args.Browser == nil {
		return nil, fmt.Errorf("session browser must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	return &Manager{
		store:   args.Store,
		flow:    args.Flow,
		browser: args.Browser,
		relay:   args.Relay,
		logger:  args.Logger,
	}, nil
}

type Status struct {
	HasToken          bool        `json:"has_token"`
	HasSessionCookies bool        `json:"has_session_cookies"`
	Authenticated     bool        `json:"authenticated"`
	OAuthState        oauth.State `json:"oauth_state"`
}

// Status recomputes both signals from the store on every call; nothing is
// cached between reads.
func (m *Manager) Status(ctx context.Context) Status {
	hasToken := m.HasToken(ctx)
	hasCookies := m.HasSessionCookies(ctx)

	return Status{
		HasToken:          hasToken,
		HasSessionCookies: hasCookies,
		Authenticated:     hasToken && hasCookies,
		OAuthState:        m.flow.State(),
	}
}

func (m *Manager) HasToken(ctx context.Context) bool {
	token, ok, err := m.store.Read(ctx, credstore.AccountOAuthToken)
	if err != nil {
		m.logger.Error("could not read bearer token", "error", err)
		return false
	}
	return ok && token != ""
}

func (m *Manager) HasSessionCookies(ctx context.Context) bool {
	records, err := m.storedCookies(ctx)
	if err != nil || records == nil {
		return false
	}
	return cookies.HasValidSession(records)
}

func (m *Manager) storedCookies(ctx context.Context) ([]cookies.Record, error) {
	raw, ok, err := m.store.Read(ctx, credstore.AccountSessionCookies)
	if err != nil {
		m.logger.Error("could not read stored cookies", "error", err)
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return cookies.Unmarshal([]byte(raw))
}

// BeginOAuth starts a fresh authorization attempt and returns the
// authorization URL for the launcher.
func (m *Manager) BeginOAuth(ctx context.Context) (string, error) {
	authURL, done, err := m.flow.Start(ctx)
	if err != nil {
		return "", err
	}

	go func() {
		res := <-done
		if res.Err != nil {
			m.logger.Warn("oauth attempt finished with error", "error", res.Err)
			return
		}
		m.logger.Info("oauth attempt complete")
	}()

	return authURL, nil
}

func (m *Manager) HandleOAuthCallback(ctx context.Context, raw string) error {
	return m.flow.HandleCallback(ctx, raw)
}

func (m *Manager) CancelOAuth() {
	m.flow.Cancel()
}

// BeginSession presents the session browser. The OAuth step must have
// completed first.
func (m *Manager) BeginSession(ctx context.Context) (*browser.NavigationResult, error) {
	if !m.HasToken(ctx) {
		return nil, ErrOAuthRequired
	}
	return m.browser.Start(ctx)
}

func (m *Manager) NavigateSession(ctx context.Context, raw string) (*browser.NavigationResult, error) {
	return m.browser.Navigate(ctx, raw)
}

// CancelSession dismisses the browser surface.
func (m *Manager) CancelSession() {
	m.browser.Cancel()
}

// CompleteSession extracts the session cookies from the browser jar, persists
// them, and relays them to the backend. The relay is best-effort: a failure
// is logged but never surfaced, since local state is already valid.
func (m *Manager) CompleteSession(ctx context.Context) (cookies.ValidationResult, error) {
	extracted, err := cookies.Extract(m.browser.Cookies())
	if err != nil {
		return cookies.ValidationResult{}, err
	}

	raw, err := cookies.Marshal(extracted)
	if err != nil {
		return cookies.ValidationResult{}, err
	}

	if err := m.store.Save(ctx, credstore.AccountSessionCookies, string(raw)); err != nil {
		return cookies.ValidationResult{}, fmt.Errorf("could not persist session cookies: %w", err)
	}

	m.browser.Cancel()

	if m.relay != nil {
		token, ok, err := m.store.Read(ctx, credstore.AccountOAuthToken)
		if err == nil && ok {
			if err := m.relay.StoreCookies(ctx, token, extracted); err != nil {
				m.logger.Warn("could not relay cookies to backend", "error", err)
			}
		}
	}

	return cookies.Validate(extracted), nil
}

// SessionCookieReport validates whatever cookie set is currently stored.
func (m *Manager) SessionCookieReport(ctx context.Context) (cookies.ValidationResult, error) {
	records, err := m.storedCookies(ctx)
	if err != nil {
		return cookies.ValidationResult{}, err
	}
	if records == nil {
		return cookies.ValidationResult{}, cookies.ErrNoCookiesFound
	}
	return cookies.Validate(records), nil
}

// ClearAll deletes the bearer token, the cookie set, and any in-flight
// authorization scratch state.
func (m *Manager) ClearAll(ctx context.Context) error {
	m.flow.Cancel()
	m.browser.Cancel()

	for _, account := range []string{
		credstore.AccountOAuthToken,
		credstore.AccountSessionCookies,
		credstore.AccountPKCEVerifier,
		credstore.AccountOAuthState,
	} {
		if err := m.store.Delete(ctx, account); err != nil {
			return fmt.Errorf("could not clear %s: %w", account, err)
		}
	}

	m.logger.Info("cleared authentication data")

	return nil
}

// LogoutAndReauthenticate clears everything; it does not relaunch the OAuth
// flow itself, the caller prompts the user to start again.
func (m *Manager) LogoutAndReauthenticate(ctx context.Context) error {
	return m.ClearAll(ctx)
}

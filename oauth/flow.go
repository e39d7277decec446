// Package oauth drives the authorization-code + PKCE exchange against the
// backend's OAuth endpoints. The flow is a small state machine; one attempt is
// in flight at a time and its completion is delivered exactly once.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thealgorithm/companiond/internal/credstore"
	"github.com/thealgorithm/companiond/oauth/constants"
	"github.com/thealgorithm/companiond/pkce"
)

type State string

const (
	StateIdle                   State = "idle"
	StateAuthorizationRequested State = "authorization_requested"
	StateAwaitingCallback       State = "awaiting_callback"
	StateExchangingCode         State = "exchanging_code"
	StateComplete               State = "complete"
	StateFailed                 State = "failed"
)

type Result struct {
	Token string
	Err   error
}

type Config struct {
	AuthorizeURL string
	TokenURL     string
	RedirectURI  string
	ClientID     string
	Scope        string

	AttemptTimeout time.Duration
}

type Args struct {
	Store  *credstore.Store
	Logger *slog.Logger
	Client *http.Client
	Config Config
}

type Flow struct {
	store  *credstore.Store
	logger *slog.Logger
	http   *http.Client
	cfg    Config

	mu      sync.Mutex
	state   State
	attempt *attempt
}

// attempt is the per-authorization registration object. It is created before
// the authorization URL is handed out and torn down on completion,
// cancellation, or timeout, so a stale callback can never fire into a newer
// attempt.
type attempt struct {
	verifier string
	csrf     string
	done     chan Result
	timer    *time.Timer
	once     sync.Once
}

func (a *attempt) deliver(res Result) {
	a.once.Do(func() {
		if a.timer != nil {
			a.timer.Stop()
		}
		a.done <- res
	})
}

func New(args *Args) (*Flow, error) {
	if args.Store == nil {
		return nil, fmt.Errorf("credential store must be set")
	}

	if args.Config.ClientID == "" {
		return nil, fmt.Errorf("client id must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	cfg := args.Config
	if cfg.AuthorizeURL == "" {
		cfg.AuthorizeURL = constants.DefaultAuthorizeURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = constants.DefaultTokenURL
	}
	if cfg.RedirectURI == "" {
		cfg.RedirectURI = constants.DefaultRedirectURI
	}
	if cfg.Scope == "" {
		cfg.Scope = constants.DefaultScope
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = constants.AttemptTimeout
	}

	h := args.Client
	if h == nil {
		h = &http.Client{Timeout: constants.ExchangeTimeout}
	}

	return &Flow{
		store:  args.Store,
		logger: args.Logger,
		http:   h,
		cfg:    cfg,
		state:  StateIdle,
	}, nil
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Start begins a fresh authorization attempt: clears any stale verifier,
// generates and persists a new PKCE pair and CSRF state, and returns the
// authorization URL for the launcher. The returned channel receives the
// attempt's single completion. The callback registration is in place before
// the URL is returned, so a fast redirect cannot race it.
func (f *Flow) Start(ctx context.Context) (string, <-chan Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// a new attempt supersedes any pending one
	if f.attempt != nil {
		f.attempt.deliver(Result{Err: ErrUserCancelled})
		f.attempt = nil
	}

	f.state = StateAuthorizationRequested

	if err := f.store.Delete(ctx, credstore.AccountPKCEVerifier); err != nil {
		f.logger.Warn("could not clear stale pkce verifier", "error", err)
	}

	verifier, err := pkce.GenerateVerifier()
	if err != nil {
		f.state = StateFailed
		return "", nil, fmt.Errorf("%w: %v", ErrSecureRandomUnavailable, err)
	}
	challenge := pkce.DeriveChallenge(verifier)

	csrf := uuid.New().String()

	// the verifier must be durable before the URL is dispatched so the
	// exchange survives a process restart between dispatch and callback
	if err := f.store.Save(ctx, credstore.AccountPKCEVerifier, verifier); err != nil {
		f.state = StateFailed
		return "", nil, fmt.Errorf("could not persist pkce verifier: %w", err)
	}
	if err := f.store.Save(ctx, credstore.AccountOAuthState, csrf); err != nil {
		f.state = StateFailed
		return "", nil, fmt.Errorf("could not persist oauth state: %w", err)
	}

	u, err := url.Parse(f.cfg.AuthorizeURL)
	if err != nil {
		f.state = StateFailed
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidAuthorizationURL, err)
	}

	q := u.Query()
	q.Set("client_id", f.cfg.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", f.cfg.Scope)
	q.Set("state", csrf)
	q.Set("code_challenge", challenge)
	q.Set("code_challenge_method", constants.CodeChallengeMethod)
	u.RawQuery = q.Encode()

	a := &attempt{
		verifier: verifier,
		csrf:     csrf,
		done:     make(chan Result, 1),
	}
	a.timer = time.AfterFunc(f.cfg.AttemptTimeout, func() {
		f.failAttempt(a, ErrTimeout)
	})
	f.attempt = a
	f.state = StateAwaitingCallback

	f.logger.Info("authorization attempt started", "state", csrf)

	return u.String(), a.done, nil
}

// failAttempt terminates a if it is still the current attempt. Late failures
// against a superseded attempt are ignored.
func (f *Flow) failAttempt(a *attempt, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.attempt != a {
		return
	}

	f.state = StateFailed
	f.attempt = nil
	f.clearAttemptState(context.Background())
	a.deliver(Result{Err: err})
}

// Cancel aborts the pending attempt, if any.
func (f *Flow) Cancel() {
	f.mu.Lock()
	a := f.attempt
	f.mu.Unlock()

	if a == nil {
		return
	}

	f.logger.Info("authorization attempt cancelled")
	f.failAttempt(a, ErrUserCancelled)
}

// clearAttemptState removes the durable verifier and csrf state. Called
// whenever an attempt terminates, success or failure: a retry always starts a
// fresh attempt.
func (f *Flow) clearAttemptState(ctx context.Context) {
	if err := f.store.Delete(ctx, credstore.AccountPKCEVerifier); err != nil {
		f.logger.Warn("could not clear pkce verifier", "error", err)
	}
	if err := f.store.Delete(ctx, credstore.AccountOAuthState); err != nil {
		f.logger.Warn("could not clear oauth state", "error", err)
	}
}

// HandleCallback consumes the redirect from the authorization server and, on a
// code, performs the token exchange. The verifier is taken from the in-memory
// attempt when one exists, falling back to durable storage for the
// resumed-after-restart case.
func (f *Flow) HandleCallback(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return f.finishFailed(ctx, fmt.Errorf("could not parse callback url: %w", err))
	}

	q := u.Query()

	if provErr := q.Get("error"); provErr != "" {
		return f.finishFailed(ctx, &ProviderError{Code: provErr})
	}

	code := q.Get("code")
	if code == "" {
		return f.finishFailed(ctx, ErrNoAuthorizationCode)
	}

	f.mu.Lock()
	a := f.attempt
	f.state = StateExchangingCode
	f.mu.Unlock()

	verifier := ""
	csrf := ""
	if a != nil {
		verifier = a.verifier
		csrf = a.csrf
	}

	if verifier == "" {
		stored, ok, err := f.store.Read(ctx, credstore.AccountPKCEVerifier)
		if err != nil {
			return f.finishFailed(ctx, fmt.Errorf("could not read stored verifier: %w", err))
		}
		if !ok {
			return f.finishFailed(ctx, ErrMissingVerifier)
		}
		f.logger.Info("recovered pkce verifier from durable storage")
		verifier = stored
	}

	if csrf == "" {
		if stored, ok, err := f.store.Read(ctx, credstore.AccountOAuthState); err == nil && ok {
			csrf = stored
		}
	}

	if csrf != "" && q.Get("state") != csrf {
		return f.finishFailed(ctx, ErrStateMismatch)
	}

	token, err := f.exchangeCode(ctx, code, verifier)
	if err != nil {
		return f.finishFailed(ctx, err)
	}

	if err := f.store.Save(ctx, credstore.AccountOAuthToken, token); err != nil {
		return f.finishFailed(ctx, fmt.Errorf("could not persist bearer token: %w", err))
	}

	f.mu.Lock()
	f.state = StateComplete
	if f.attempt == a {
		f.attempt = nil
	}
	f.mu.Unlock()

	f.clearAttemptState(ctx)

	if a != nil {
		a.deliver(Result{Token: token})
	}

	f.logger.Info("token exchange complete")

	return nil
}

func (f *Flow) finishFailed(ctx context.Context, cause error) error {
	f.mu.Lock()
	a := f.attempt
	f.state = StateFailed
	f.attempt = nil
	f.mu.Unlock()

	f.clearAttemptState(ctx)

	if a != nil {
		a.deliver(Result{Err: cause})
	}

	f.logger.Error("authorization attempt failed", "error", cause)

	return cause
}

func (f *Flow) exchangeCode(ctx context.Context, code, verifier string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", f.cfg.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", f.cfg.RedirectURI)
	form.Set("code_verifier", verifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("could not create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange transport failure: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("could not read token response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.logger.Error("token endpoint returned non-success", "status", resp.StatusCode, "body", string(body))
		return "", &StatusError{Code: resp.StatusCode}
	}

	var tr struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return "", ErrMalformedTokenResponse
	}

	return tr.AccessToken, nil
}

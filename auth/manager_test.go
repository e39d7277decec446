package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thealgorithm/companiond/browser"
	"github.com/thealgorithm/companiond/cookies"
	"github.com/thealgorithm/companiond/internal/credstore"
	"github.com/thealgorithm/companiond/internal/db"
	"github.com/thealgorithm/companiond/models"
	"github.com/thealgorithm/companiond/oauth"
	"github.com/thealgorithm/companiond/relay"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type loginTransport struct{}

func (loginTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	h := http.Header{}
	if req.URL.Path == "/login" {
		h.Add("Set-Cookie", "auth_token=tok-cookie; Domain=.x.com; Path=/; Secure; HttpOnly")
		h.Add("Set-Cookie", "ct0=csrf-cookie; Domain=.x.com; Path=/; Secure")
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    req,
	}, nil
}

type fixture struct {
	manager *Manager
	store   *credstore.Store
	flow    *oauth.Flow
}

func newFixture(t *testing.T, tokenURL, relayURL string) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	dbw := db.NewDB(gdb)
	require.NoError(t, dbw.AutoMigrate(&models.Credential{}))

	key := make([]byte, 32)
	copy(key, []byte("0123456789abcdef0123456789abcdef"))

	store, err := credstore.New(dbw, key)
	require.NoError(t, err)

	flow, err := oauth.New(&oauth.Args{
		Store: store,
		Config: oauth.Config{
			ClientID: "companion_test_client",
			TokenURL: tokenURL,
		},
	})
	require.NoError(t, err)

	b, err := browser.New(&browser.Args{
		Transport:      loginTransport{},
		LoginURL:       "https://x.com/login",
		CallbackScheme: "thealgorithm",
	})
	require.NoError(t, err)

	var rc *relay.Client
	if relayURL != "" {
		rc = relay.New(&relay.Args{BaseURL: relayURL})
	}

	m, err := New(&Args{
		Store:   store,
		Flow:    flow,
		Browser: b,
		Relay:   rc,
	})
	require.NoError(t, err)

	return &fixture{manager: m, store: store, flow: flow}
}

func tokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"access_token":"tok-test-token"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fixture) completeOAuth(t *testing.T, ctx context.Context) {
	t.Helper()

	_, err := f.manager.BeginOAuth(ctx)
	require.NoError(t, err)

	csrf, ok, err := f.store.Read(ctx, credstore.AccountOAuthState)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.manager.HandleOAuthCallback(ctx, "thealgorithm://oauth/callback?code=ABC123&state="+csrf))
}

func TestFullAuthenticationScenario(t *testing.T) {
	srv := tokenServer(t)

	var relayCalls int
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayCalls++
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer relaySrv.Close()

	f := newFixture(t, srv.URL, relaySrv.URL)
	ctx := context.Background()

	// fresh install
	st := f.manager.Status(ctx)
	assert.False(t, st.HasToken)
	assert.False(t, st.HasSessionCookies)
	assert.False(t, st.Authenticated)

	// oauth step
	f.completeOAuth(t, ctx)

	st = f.manager.Status(ctx)
	assert.True(t, st.HasToken)
	assert.False(t, st.HasSessionCookies)
	assert.False(t, st.Authenticated)

	// session step
	res, err := f.manager.BeginSession(ctx)
	require.NoError(t, err)
	assert.True(t, res.LoginComplete)

	report, err := f.manager.CompleteSession(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)

	st = f.manager.Status(ctx)
	assert.True(t, st.HasToken)
	assert.True(t, st.HasSessionCookies)
	assert.True(t, st.Authenticated)

	assert.Equal(t, 1, relayCalls)
}

func TestSessionRequiresToken(t *testing.T) {
	f := newFixture(t, "https://thealgorithm.live/oauth/token", "")

	_, err := f.manager.BeginSession(context.Background())
	assert.ErrorIs(t, err, ErrOAuthRequired)
}

func TestRelayFailureIsNotSurfaced(t *testing.T) {
	srv := tokenServer(t)
	relaySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer relaySrv.Close()

	f := newFixture(t, srv.URL, relaySrv.URL)
	ctx := context.Background()

	f.completeOAuth(t, ctx)

	_, err := f.manager.BeginSession(ctx)
	require.NoError(t, err)

	// local storage succeeded, so the relay failure is swallowed
	report, err := f.manager.CompleteSession(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.True(t, f.manager.HasSessionCookies(ctx))
}

func TestClearAll(t *testing.T) {
	srv := tokenServer(t)
	f := newFixture(t, srv.URL, "")
	ctx := context.Background()

	f.completeOAuth(t, ctx)

	_, err := f.manager.BeginSession(ctx)
	require.NoError(t, err)
	_, err = f.manager.CompleteSession(ctx)
	require.NoError(t, err)

	require.True(t, f.manager.Status(ctx).Authenticated)

	require.NoError(t, f.manager.ClearAll(ctx))

	st := f.manager.Status(ctx)
	assert.False(t, st.HasToken)
	assert.False(t, st.HasSessionCookies)
	assert.False(t, st.Authenticated)
}

func TestClearingEitherCredentialFlipsCombinedState(t *testing.T) {
	srv := tokenServer(t)
	f := newFixture(t, srv.URL, "")
	ctx := context.Background()

	f.completeOAuth(t, ctx)
	_, err := f.manager.BeginSession(ctx)
	require.NoError(t, err)
	_, err = f.manager.CompleteSession(ctx)
	require.NoError(t, err)
	require.True(t, f.manager.Status(ctx).Authenticated)

	t.Run("dropping cookies", func(t *testing.T) {
		require.NoError(t, f.store.Delete(ctx, credstore.AccountSessionCookies))
		assert.False(t, f.manager.Status(ctx).Authenticated)
		assert.True(t, f.manager.Status(ctx).HasToken)
	})

	t.Run("dropping token", func(t *testing.T) {
		require.NoError(t, f.store.Delete(ctx, credstore.AccountOAuthToken))
		st := f.manager.Status(ctx)
		assert.False(t, st.HasToken)
		assert.False(t, st.Authenticated)
	})
}

func TestSessionCookieReport(t *testing.T) {
	srv := tokenServer(t)
	f := newFixture(t, srv.URL, "")
	ctx := context.Background()

	_, err := f.manager.SessionCookieReport(ctx)
	assert.ErrorIs(t, err, cookies.ErrNoCookiesFound)

	f.completeOAuth(t, ctx)
	_, err = f.manager.BeginSession(ctx)
	require.NoError(t, err)
	_, err = f.manager.CompleteSession(ctx)
	require.NoError(t, err)

	report, err := f.manager.SessionCookieReport(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.ElementsMatch(t, []string{"auth_token", "ct0"}, report.Essential)
}

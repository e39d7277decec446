package browser

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	mu       sync.Mutex
	requests []*http.Request
	handler  func(req *http.Request) *http.Response
}

func (t *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	t.mu.Unlock()

	if t.handler != nil {
		if resp := t.handler(req); resp != nil {
			resp.Request = req
			return resp, nil
		}
	}

	resp := response(http.StatusOK, nil)
	resp.Request = req
	return resp, nil
}

func (t *fakeTransport) urls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.requests))
	for _, r := range t.requests {
		out = append(out, r.URL.String())
	}
	return out
}

func response(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func newTestBrowser(t *testing.T, tr *fakeTransport, onCallback func(*url.URL)) *Browser {
	t.Helper()

	b, err := New(&Args{
		Transport:      tr,
		LoginURL:       "https://x.com/login",
		CallbackScheme: "thealgorithm",
		OnCallback:     onCallback,
	})
	require.NoError(t, err)

	return b
}

func TestStartLoadsLoginPage(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBrowser(t, tr, nil)

	res, err := b.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ActionAllowed, res.Action)
	assert.False(t, res.LoginComplete)

	require.Len(t, tr.requests, 1)
	assert.Equal(t, "https://x.com/login", tr.requests[0].URL.String())
	assert.Equal(t, UserAgent, tr.requests[0].Header.Get("User-Agent"))
}

func TestLoginDetectedFromAuthCookie(t *testing.T) {
	tr := &fakeTransport{
		handler: func(req *http.Request) *http.Response {
			h := http.Header{}
			h.Add("Set-Cookie", "auth_token=abc123; Domain=.x.com; Path=/; Secure; HttpOnly")
			h.Add("Set-Cookie", "ct0=csrf456; Domain=.x.com; Path=/; Secure")
			return response(http.StatusOK, h)
		},
	}
	b := newTestBrowser(t, tr, nil)

	res, err := b.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, res.LoginComplete)

	records := b.Cookies()
	names := map[string]bool{}
	for _, r := range records {
		names[r.Name] = true
	}
	assert.True(t, names["auth_token"])
	assert.True(t, names["ct0"])

	for _, r := range records {
		if r.Name == "auth_token" {
			assert.Equal(t, ".x.com", r.Domain)
			assert.True(t, r.HttpOnly)
			assert.True(t, r.Secure)
		}
	}
}

func TestLoginDetectedFromPostLoginRoute(t *testing.T) {
	tr := &fakeTransport{
		handler: func(req *http.Request) *http.Response {
			if req.URL.Path == "/login" {
				h := http.Header{}
				h.Set("Location", "https://x.com/home")
				return response(http.StatusFound, h)
			}
			return response(http.StatusOK, nil)
		},
	}
	b := newTestBrowser(t, tr, nil)

	res, err := b.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "https://x.com/home", res.URL)
	assert.True(t, res.LoginComplete)
}

func TestCallbackSchemeIsInterceptedNotFetched(t *testing.T) {
	tr := &fakeTransport{}

	var got *url.URL
	b := newTestBrowser(t, tr, func(u *url.URL) { got = u })

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	res, err := b.Navigate(context.Background(), "thealgorithm://oauth/callback?code=ABC123")
	require.NoError(t, err)

	assert.Equal(t, ActionCallback, res.Action)
	require.NotNil(t, got)
	assert.Equal(t, "ABC123", got.Query().Get("code"))

	// only the login page load hit the network
	assert.Equal(t, []string{"https://x.com/login"}, tr.urls())
}

func TestUniversalLinkConversion(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBrowser(t, tr, nil)

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	res, err := b.Navigate(context.Background(), "x-safari-https://x.com/i/flow/login")
	require.NoError(t, err)

	assert.Equal(t, ActionConverted, res.Action)
	assert.Contains(t, tr.urls(), "https://x.com/i/flow/login")
}

func TestUniversalLinkLoopReloadsLoginPage(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBrowser(t, tr, nil)
	ctx := context.Background()

	_, err := b.Start(ctx)
	require.NoError(t, err)

	link := "x-safari-https://x.com/i/flow/login"

	res, err := b.Navigate(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, ActionConverted, res.Action)

	res, err = b.Navigate(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, ActionConverted, res.Action)

	// third rewrite inside the window breaks the loop and reloads the login page
	res, err = b.Navigate(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, ActionBlocked, res.Action)

	urls := tr.urls()
	assert.Equal(t, "https://x.com/login", urls[len(urls)-1])
}

func TestRelayUniversalLinkSuppression(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBrowser(t, tr, nil)
	ctx := context.Background()

	_, err := b.Start(ctx)
	require.NoError(t, err)

	link := "x-safari-https://redirect.x.com/r?target=home"

	res, err := b.Navigate(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, ActionConverted, res.Action)

	// a repeat inside the cooldown is not converted again
	res, err = b.Navigate(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, ActionSuppressed, res.Action)

	urls := tr.urls()
	assert.Equal(t, "https://x.com/login", urls[len(urls)-1])
	// the converted URL was fetched exactly once
	count := 0
	for _, u := range urls {
		if u == "https://redirect.x.com/r?target=home" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestStartResetsLoopGuard(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBrowser(t, tr, nil)
	ctx := context.Background()

	_, err := b.Start(ctx)
	require.NoError(t, err)

	link := "x-safari-https://redirect.x.com/r"

	_, err = b.Navigate(ctx, link)
	require.NoError(t, err)
	res, err := b.Navigate(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, ActionSuppressed, res.Action)

	// a fresh session forgets the suppression history
	_, err = b.Start(ctx)
	require.NoError(t, err)
	res, err = b.Navigate(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, ActionConverted, res.Action)
}

func TestNavigateAfterCancel(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBrowser(t, tr, nil)

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	b.Cancel()

	_, err = b.Navigate(context.Background(), "https://x.com/home")
	assert.Error(t, err)
}

func TestUnknownSchemeIsIgnored(t *testing.T) {
	tr := &fakeTransport{}
	b := newTestBrowser(t, tr, nil)

	_, err := b.Start(context.Background())
	require.NoError(t, err)

	res, err := b.Navigate(context.Background(), "mailto:support@x.com")
	require.NoError(t, err)
	assert.Equal(t, ActionAllowed, res.Action)
	assert.Len(t, tr.urls(), 1)
}

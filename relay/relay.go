// Package relay is the client for the backend API that consumes the captured
// session cookies. Relay failures are best-effort by design: local credential
// state is already valid when these calls run.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/thealgorithm/companiond/cookies"
)

const DefaultBaseURL = "https://thealgorithm.live/api"

type Args struct {
	Logger  *slog.Logger
	Client  *http.Client
	BaseURL string
}

type Client struct {
	logger  *slog.Logger
	http    *http.Client
	baseURL string
}

func New(args *Args) *Client {
	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	h := args.Client
	if h == nil {
		h = &http.Client{Timeout: 30 * time.Second}
	}

	baseURL := args.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		logger:  args.Logger,
		http:    h,
		baseURL: baseURL,
	}
}

type storeCookiesRequest struct {
	Cookies   []cookies.Record `json:"cookies"`
	Timestamp float64          `json:"timestamp"`
}

// StoreCookies relays the captured cookie set to the backend under the bearer
// token.
func (c *Client) StoreCookies(ctx context.Context, token string, records []cookies.Record) error {
	body, err := json.Marshal(storeCookiesRequest{
		Cookies:   records,
		Timestamp: float64(time.Now().Unix()),
	})
	if err != nil {
		return fmt.Errorf("could not serialize cookie payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/store-cookies", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("could not create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay transport failure: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	c.logger.Info("relayed cookies to backend", "count", len(records))

	return nil
}

// Health probes the backend health endpoint and returns its payload.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("could not create health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health check transport failure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("could not parse health response: %w", err)
	}

	return payload, nil
}

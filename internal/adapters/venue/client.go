package venue

// client.go — HTTP transport for the exchange API.
//
// Failure policy (deliberately minimal): transient failures (network, 5xx,
// 429) get exactly one immediate retry, then the error surfaces and the
// engine reattempts on its next poll. A session error triggers one re-login
// plus one retry. No exponential backoff loops here — the engine's own
// polling cadence is the backoff.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// Rate limits well under the venue's documented transaction caps.
	dataRatePerSec = 20 // book/order queries
	txRatePerSec   = 5  // placements and cancellations
)

// Config for the venue client.
type Config struct {
	BaseURL  string
	LoginURL string
	AppKey   string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is the authenticated HTTP client for the exchange.
type Client struct {
	http        *http.Client
	baseURL     string
	loginURL    string
	appKey      string
	username    string
	password    string
	dataLimiter *rate.Limiter
	txLimiter   *rate.Limiter

	mu      sync.Mutex
	session string
}

// NewClient builds a Client; call Login before first use.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		http:        &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		loginURL:    cfg.LoginURL,
		appKey:      cfg.AppKey,
		username:    cfg.Username,
		password:    cfg.Password,
		dataLimiter: rate.NewLimiter(dataRatePerSec, 10),
		txLimiter:   rate.NewLimiter(txRatePerSec, 2),
	}
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("venue.Login: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Application", c.appKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("venue.Login: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("venue.Login: status %d: %s", resp.StatusCode, body)
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return fmt.Errorf("venue.Login: parse response: %w", err)
	}
	if lr.Status != "SUCCESS" || lr.Token == "" {
		return fmt.Errorf("venue.Login: rejected: %s %s", lr.Status, lr.Error)
	}

	c.mu.Lock()
	c.session = lr.Token
	c.mu.Unlock()

	slog.Info("venue: session established")
	return nil
}

func (c *Client) sessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// post calls one API endpoint with the retry policy described above.
func (c *Client) post(ctx context.Context, limiter *rate.Limiter, endpoint string, reqBody, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("venue.post %s: marshal: %w", endpoint, err)
	}

	relogged := false
	retried := false
	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("venue.post %s: rate limiter: %w", endpoint, err)
		}

		status, body, err := c.doOnce(ctx, endpoint, payload)
		if err != nil || status >= 500 || status == http.StatusTooManyRequests {
			if !retried {
				retried = true
				slog.Warn("venue: transient failure, retrying once", "endpoint", endpoint, "status", status, "err", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("venue.post %s: %w", endpoint, err)
			}
			return fmt.Errorf("venue.post %s: server error %d", endpoint, status)
		}

		if status >= 400 {
			var ae apiError
			_ = json.Unmarshal(body, &ae)
			if (ae.ErrorCode == errInvalidSession || ae.ErrorCode == errNoSession) && !relogged {
				relogged = true
				slog.Warn("venue: session expired, re-authenticating", "endpoint", endpoint)
				if err := c.Login(ctx); err != nil {
					return fmt.Errorf("venue.post %s: re-login: %w", endpoint, err)
				}
				continue
			}
			return fmt.Errorf("venue.post %s: client error %d: %s", endpoint, status, body)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("venue.post %s: decode: %w", endpoint, err)
		}
		return nil
	}
}

func (c *Client) doOnce(ctx context.Context, endpoint string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint+"/", bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Application", c.appKey)
	req.Header.Set("X-Authentication", c.sessionToken())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

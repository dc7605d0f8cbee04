// Package spotify is a thin client for the handful of Web API endpoints the
// sync pipeline needs: the refresh-token exchange, the recently-played feed,
// and the batch metadata lookups. Every remote call is wrapped by the retry
// executor with typed rate-limit classification.
package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"github.com/justestif/go-spotify-listen-logger/internal/retry"
)

const (
	apiBaseURL = "https://api.spotify.com/v1"
	tokenURL   = "https://accounts.spotify.com/api/token"

	requestTimeout = 30 * time.Second

	// Upstream batch ceilings per endpoint.
	trackBatchSize  = 50
	artistBatchSize = 50
	albumBatchSize  = 20
)

// APIError is a non-2xx response from Spotify. Status 429 and 5xx are
// transient; every other 4xx is fatal for the call.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("spotify: status %d: %s", e.Status, e.Message)
}

// Temporary reports whether retrying can help. Status 0 means a transport
// failure (connection reset, DNS, timeout), which is also transient.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500 || e.Status == 0
}

// Throttled reports a quota rate limit.
func (e *APIError) Throttled() bool {
	return e.Status == http.StatusTooManyRequests
}

// RetryAfterHint surfaces the server-provided wait, when present.
func (e *APIError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}

// Client calls the Spotify Web API.
type Client struct {
	http     *resty.Client
	tokenCfg *oauth2.Config
	policy   retry.Policy
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.http.SetBaseURL(u) }
}

// WithTokenURL points the token exchange at a different endpoint (tests).
func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenCfg.Endpoint.TokenURL = u }
}

// WithRetryPolicy overrides the feed retry profile.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// New creates a Client with the app credentials used for token exchange.
func New(clientID, clientSecret string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(apiBaseURL).
			SetTimeout(requestTimeout),
		tokenCfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		policy: retry.FeedPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange trades a stored refresh token for a short-lived access token.
// The token endpoint takes a form-encoded POST with HTTP Basic client auth,
// which the oauth2 transport handles.
func (c *Client) Exchange(ctx context.Context, refreshToken string) (string, error) {
	var accessToken string
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		src := c.tokenCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return classifyTokenErr(err)
		}
		accessToken = tok.AccessToken
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("exchanging refresh token: %w", err)
	}
	return accessToken, nil
}

// classifyTokenErr maps oauth2 retrieval failures onto APIError so the
// retry executor can tell a flaky token endpoint from revoked credentials.
func classifyTokenErr(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		return &APIError{
			Status:     rerr.Response.StatusCode,
			Message:    rerr.ErrorCode,
			RetryAfter: parseRetryAfter(rerr.Response.Header.Get("Retry-After")),
		}
	}
	return &APIError{Status: 0, Message: err.Error()}
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// get performs one retried GET and decodes the 200 body into out.
func (c *Client) get(ctx context.Context, token, url string, params map[string]string, out any) error {
	return c.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(params).
			SetResult(out).
			Get(url)
		if err != nil {
			return &APIError{Status: 0, Message: err.Error()}
		}
		if resp.IsError() {
			return &APIError{
				Status:     resp.StatusCode(),
				Message:    resp.String(),
				RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
			}
		}
		return nil
	})
}

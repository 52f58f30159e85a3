// Audiomark - Audiobook Playback Position Sync
// Copyright 2026 Audiomark contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/audiomark/audiomark

// Package audible implements the remote position client.
//
// The client speaks to three endpoints:
//   - GET  /1.0/lastPositions/{asin}   read the remote position
//   - POST /1.0/annotations/authorize  obtain a short-lived write token
//   - PUT  /1.0/lastPositions/{asin}   upload a position
//
// Every outbound call waits on a shared rate limiter first: the remote
// service throttles aggressively and all operations count against the
// same budget. The client performs no internal retries; failures are
// classified as retryable or not and left to the next sync run.
package audible

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/audiomark/audiomark/internal/config"
	"github.com/audiomark/audiomark/internal/metrics"
)

// TokenSource supplies the device credential attached to every request.
// *vault.Vault satisfies this.
type TokenSource interface {
	RetrieveSecret() (string, error)
}

// Client is the HTTP client for the remote position API.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a remote position client. The rate limiter is shared
// across all operations of this client.
func NewClient(cfg config.AudibleConfig, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// requestConfig holds configuration for building HTTP requests
type requestConfig struct {
	op     string // operation name for errors and metrics
	method string
	path   string
	query  url.Values
	body   interface{} // JSON-encoded when non-nil
}

// lastPositionResponse is the wire shape of the lastPositions endpoint.
type lastPositionResponse struct {
	ASIN       string    `json:"asin"`
	PositionMS int64     `json:"position_ms"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// authorizeRequest is the body of the write-authorization endpoint.
type authorizeRequest struct {
	ASIN string `json:"asin"`
}

// authorizeResponse carries the short-lived write token.
type authorizeResponse struct {
	Token string `json:"token"`
}

// pushRequest is the body of the position upload endpoint.
type pushRequest struct {
	PositionMS int64  `json:"position_ms"`
	Token      string `json:"token"`
}

// FetchPosition reads the remote position for an ASIN.
// Returns ErrRemoteNotFound when the remote service has no position yet.
func (c *Client) FetchPosition(ctx context.Context, asin string) (int64, error) {
	var result lastPositionResponse
	err := c.doRequest(ctx, requestConfig{
		op:     "fetch_position",
		method: http.MethodGet,
		path:   "/1.0/lastPositions/" + url.PathEscape(asin),
	}, &result)
	if err != nil {
		return 0, err
	}
	return result.PositionMS, nil
}

// ObtainWriteAuthorization requests a short-lived token permitting one
// position upload for the ASIN. Tokens are never cached; a fresh one is
// obtained before every push.
func (c *Client) ObtainWriteAuthorization(ctx context.Context, asin string) (string, error) {
	var result authorizeResponse
	err := c.doRequest(ctx, requestConfig{
		op:     "authorize",
		method: http.MethodPost,
		path:   "/1.0/annotations/authorize",
		body:   authorizeRequest{ASIN: asin},
	}, &result)
	if err != nil {
		return "", err
	}
	if result.Token == "" {
		return "", &RemoteError{Op: "authorize", Retryable: false,
			Err: fmt.Errorf("authorization response carried no token")}
	}
	return result.Token, nil
}

// PushPosition uploads a position using a write token from
// ObtainWriteAuthorization.
func (c *Client) PushPosition(ctx context.Context, asin string, positionMS int64, token string) error {
	return c.doRequest(ctx, requestConfig{
		op:     "push_position",
		method: http.MethodPut,
		path:   "/1.0/lastPositions/" + url.PathEscape(asin),
		body:   pushRequest{PositionMS: positionMS, Token: token},
	}, nil)
}

// doRequest executes one API request: rate limit, auth header, status
// classification, JSON decode.
func (c *Client) doRequest(ctx context.Context, cfg requestConfig, result interface{}) error {
	waitStart := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return &RemoteError{Op: cfg.op, Retryable: true,
			Err: fmt.Errorf("rate limiter wait: %w", err)}
	}
	metrics.RemoteRateLimitWait.Observe(time.Since(waitStart).Seconds())

	secret, err := c.tokens.RetrieveSecret()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrAuthFailed, err.Error())
	}

	reqURL := c.baseURL + cfg.path

	var bodyReader io.Reader = http.NoBody
	if cfg.body != nil {
		encoded, err := json.Marshal(cfg.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if cfg.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, cfg, secret, result)
}

func (c *Client) send(req *http.Request, cfg requestConfig, secret string, result interface{}) error {
	req.Header.Set("Authorization", "Bearer "+secret)
	req.Header.Set("Accept", "application/json")
	if len(cfg.query) > 0 {
		req.URL.RawQuery = cfg.query.Encode()
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteRequest(cfg.op, "transport_error", time.Since(start))
		return &RemoteError{Op: cfg.op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	metrics.RecordRemoteRequest(cfg.op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if err := classifyStatus(cfg.op, resp.StatusCode); err != nil {
		return err
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &RemoteError{Op: cfg.op, Status: resp.StatusCode, Retryable: false,
				Err: fmt.Errorf("decode response: %w", err)}
		}
	}

	return nil
}

// classifyStatus maps an HTTP status to the error taxonomy.
//
//	2xx          success
//	404          ErrRemoteNotFound (valid absence)
//	401/403      auth failure, not retryable
//	429, 5xx     retryable
//	other 4xx    not retryable
func classifyStatus(op string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, ErrRemoteNotFound)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &RemoteError{Op: op, Status: status, Retryable: false, Err: ErrAuthFailed}
	case status == http.StatusTooManyRequests || status >= 500:
		return &RemoteError{Op: op, Status: status, Retryable: true,
			Err: fmt.Errorf("remote service unavailable")}
	default:
		return &RemoteError{Op: op, Status: status, Retryable: false,
			Err: fmt.Errorf("request rejected")}
	}
}

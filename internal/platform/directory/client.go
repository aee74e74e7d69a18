// Package directory is the HTTP client for the host system's patient
// directory and visibility rules. Every call presents a delegated token.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carlosapgomes/eqmd-sub012/internal/platform/auth"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/metrics"
	"github.com/carlosapgomes/eqmd-sub012/internal/platform/retry"
)

var (
	ErrNotFound    = errors.New("directory: not found")
	ErrUnavailable = errors.New("directory: unavailable")
	ErrRejected    = errors.New("directory: credential rejected")
)

// TokenChecker validates a delegated token right before it is sent.
type TokenChecker interface {
	Check(tok *auth.Token) error
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Retry      retry.Policy
	HTTPClient *http.Client
}

// Client calls the host directory API.
type Client struct {
	baseURL string
	http    *http.Client
	retry   retry.Policy
	tokens  TokenChecker
	logger  zerolog.Logger
}

func NewClient(cfg Config, tokens TokenChecker, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid directory base url: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("token checker is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    hc,
		retry:   cfg.Retry,
		tokens:  tokens,
		logger:  logger.With().Str("component", "directory").Logger(),
	}, nil
}

// SearchAdmissions returns admissions matching q. The directory may match
// loosely; callers apply their own filters to the result.
func (c *Client) SearchAdmissions(ctx context.Context, tok *auth.Token, q Query) ([]Admission, error) {
	params := url.Values{}
	for _, s := range q.Statuses {
		params.Add("status", string(s))
	}
	for _, n := range q.Names {
		params.Add("name", n)
	}
	if q.RecordNumber != "" {
		params.Set("record_number", q.RecordNumber)
	}
	if q.Bed != "" {
		params.Set("bed", q.Bed)
	}
	if q.Ward != "" {
		params.Set("ward", q.Ward)
	}

	var out struct {
		Results []Admission `json:"results"`
	}
	if err := c.call(ctx, "search", tok, http.MethodGet, "/api/bot/admissions/?"+params.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

type visibilityRequest struct {
	Identity  uuid.UUID `json:"identity"`
	PatientID uuid.UUID `json:"patient_id"`
}

type visibilityResponse struct {
	Allowed bool `json:"allowed"`
}

// CanView asks whether identity may view the patient. ErrNotFound means the
// patient is unknown to the directory.
func (c *Client) CanView(ctx context.Context, tok *auth.Token, identity, patientID uuid.UUID) (bool, error) {
	var out visibilityResponse
	req := visibilityRequest{Identity: identity, PatientID: patientID}
	if err := c.call(ctx, "visibility", tok, http.MethodPost, "/api/bot/visibility/", req, &out); err != nil {
		return false, err
	}
	return out.Allowed, nil
}

// Demographics fetches the detail view for one patient.
func (c *Client) Demographics(ctx context.Context, tok *auth.Token, patientID uuid.UUID) (*Demographics, error) {
	var out Demographics
	path := "/api/bot/patients/" + url.PathEscape(patientID.String()) + "/demographics/"
	if err := c.call(ctx, "demographics", tok, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// call performs one request with the configured retry policy. The token is
// re-checked before every attempt so a retry never presents an expired or
// revoked credential.
func (c *Client) call(ctx context.Context, op string, tok *auth.Token, method, path string, in, out any) error {
	start := time.Now()
	defer func() {
		metrics.DirectoryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("directory %s: encode request: %w", op, err)
		}
		payload = b
	}

	err := retry.Do(ctx, c.retry, func(ctx context.Context) retry.Result {
		if err := c.tokens.Check(tok); err != nil {
			return retry.Fail(err)
		}
		return c.attempt(ctx, op, tok, method, path, payload, out)
	})

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	default:
		outcome = "error"
	}
	metrics.DirectoryCalls.WithLabelValues(op, outcome).Inc()

	if err != nil {
		return fmt.Errorf("directory %s: %w", op, err)
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, op string, tok *auth.Token, method, path string, payload []byte, out any) retry.Result {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return retry.Fail(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+tok.Bearer())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Str("token_id", tok.ID).Msg("directory request failed")
		return retry.Retry(fmt.Errorf("%w: %v", ErrUnavailable, err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return retry.Retry(fmt.Errorf("%w: read body: %v", ErrUnavailable, err))
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return retry.Fail(ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return retry.Fail(fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Warn().Int("status", resp.StatusCode).Str("op", op).Str("token_id", tok.ID).Msg("directory unavailable")
		return retry.Retry(fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return retry.Fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return retry.Fail(fmt.Errorf("decode response: %w", err))
	}
	return retry.OK()
}

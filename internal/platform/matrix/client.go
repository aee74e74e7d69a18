// Package matrix is a minimal Matrix client-server API client covering what
// the bot needs: a sync event stream, text sends and direct room creation.
package matrix

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

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	HomeserverURL string
	AccessToken   string
	// UserID is the bot's own Matrix id, used to ignore its echoes.
	UserID      string
	SyncTimeout time.Duration
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Client talks to one homeserver as the bot account.
type Client struct {
	baseURL     string
	accessToken string
	userID      string
	syncTimeout time.Duration
	httpClient  *http.Client
	logger      zerolog.Logger
}

// NewClient validates config and returns a client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: homeserver url is required")
	}
	if _, err := url.Parse(config.HomeserverURL); err != nil {
		return nil, fmt.Errorf("matrix: invalid homeserver url: %w", err)
	}
	if config.AccessToken == "" {
		return nil, fmt.Errorf("matrix: access token is required")
	}
	timeout := config.SyncTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		// Long-poll sync needs headroom beyond the server-side timeout.
		httpClient = &http.Client{Timeout: timeout + 30*time.Second}
	}
	return &Client{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		userID:      config.UserID,
		syncTimeout: timeout,
		httpClient:  httpClient,
		logger:      config.Logger.With().Str("component", "matrix").Logger(),
	}, nil
}

// UserID returns the bot's Matrix user id.
func (c *Client) UserID() string { return c.userID }

// MatrixError is the homeserver's structured error body.
type MatrixError struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
)

// IsMatrixError reports whether err carries the given Matrix error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("matrix: encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("matrix: create request: %w", err)
	}
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.accessToken)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("matrix: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("matrix: read response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(responseBody, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("matrix: unexpected %d response from %s %s: %s",
			response.StatusCode, method, path, string(responseBody))
	}
	matrixErr.StatusCode = response.StatusCode
	return nil, &matrixErr
}

// newTransactionID returns a unique, sortable id for idempotent sends.
func newTransactionID() string {
	return "eqmd-" + ulid.Make().String()
}

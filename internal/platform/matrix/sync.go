package matrix

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// timelineFilter limits sync payloads to room messages.
const timelineFilter = `{"presence":{"types":[]},"account_data":{"types":[]},"room":{"state":{"types":[]},"ephemeral":{"types":[]},"timeline":{"types":["m.room.message"]}}}`

// Sync performs one /sync call. A zero timeout returns immediately.
func (c *Client) Sync(ctx context.Context, since string, timeout time.Duration) (*SyncResponse, error) {
	query := url.Values{}
	if since != "" {
		query.Set("since", since)
	}
	query.Set("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	query.Set("filter", timelineFilter)

	body, err := c.doRequest(ctx, http.MethodGet, "/_matrix/client/v3/sync", nil, query)
	if err != nil {
		return nil, fmt.Errorf("matrix: sync failed: %w", err)
	}
	var response SyncResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("matrix: parse sync response: %w", err)
	}
	return &response, nil
}

// Listen streams text messages to handle until ctx is cancelled. The backlog
// present before Listen starts is skipped. Transient sync failures are
// logged and retried with capped exponential backoff.
func (c *Client) Listen(ctx context.Context, handle func(Message)) error {
	since, err := c.initialBatch(ctx)
	if err != nil {
		return err
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		resp, err := c.Sync(ctx, since, c.syncTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if IsMatrixError(err, ErrCodeUnknownToken) {
				return err
			}
			c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("sync failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = time.Second
		since = resp.NextBatch

		for _, msg := range resp.messages(c.userID) {
			handle(msg)
		}
	}
}

func (c *Client) initialBatch(ctx context.Context) (string, error) {
	resp, err := c.Sync(ctx, "", 0)
	if err != nil {
		return "", fmt.Errorf("matrix: initial sync: %w", err)
	}
	c.logger.Info().Str("since", resp.NextBatch).Msg("initial sync complete, backlog skipped")
	return resp.NextBatch, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

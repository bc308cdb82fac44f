package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"taskrelay/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Client talks to the task service's operation endpoint over HTTP.
// Replay calls are paced by a rate limiter so a large queue drain does
// not hammer a freshly recovered server.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, rps float64, burst int, logger *zerolog.Logger) *Client {
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logger,
	}
}

// operationRequest is the wire form of a replayed operation.
type operationRequest struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	// Force asks the server to apply the operation even over a newer
	// version (client-wins resolution).
	Force bool `json:"force,omitempty"`
}

// conflictResponse is the 409 body.
type conflictResponse struct {
	ServerState     json.RawMessage `json:"server_state"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) Execute(ctx context.Context, item *models.QueueItem, force bool) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &models.TransientError{Err: fmt.Errorf("rate limiter: %w", err)}
	}

	reqBody := operationRequest{
		ID:        item.ID,
		Operation: item.Operation,
		Type:      item.Type,
		Data:      item.Data,
		Timestamp: item.Timestamp,
		Force:     force,
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &models.PermanentError{Err: fmt.Errorf("encode operation: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/operations", bytes.NewReader(raw))
	if err != nil {
		return nil, &models.PermanentError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &models.TransientError{Err: fmt.Errorf("execute %s: %w", item.Operation, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &models.TransientError{Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{}, nil

	case resp.StatusCode == http.StatusConflict:
		var conflict conflictResponse
		if err := json.Unmarshal(body, &conflict); err != nil {
			return nil, &models.TransientError{Err: fmt.Errorf("decode conflict body: %w", err)}
		}
		c.logger.Debug().Str("item_id", item.ID).Time("server_ts", conflict.ServerTimestamp).Msg("version conflict reported")
		return &Result{
			Conflict:        true,
			ServerState:     conflict.ServerState,
			ServerTimestamp: conflict.ServerTimestamp,
		}, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &models.TransientError{Err: fmt.Errorf("server %d: %s", resp.StatusCode, errMessage(body))}

	default:
		// Remaining 4xx: the server rejected the operation outright.
		return nil, &models.PermanentError{Err: fmt.Errorf("rejected %d: %s", resp.StatusCode, errMessage(body))}
	}
}

func errMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		return er.Error
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "no error detail"
	}
	return msg
}

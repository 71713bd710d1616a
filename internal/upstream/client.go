package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"sheetbridge/internal/metrics"
)

const (
	tokenHeader = "X-API-Token"

	maxAttempts    = 4
	baseBackoff    = 500 * time.Millisecond
	requestTimeout = 30 * time.Second
)

// Params is the JSON-serialized parameter map for one connector method.
type Params map[string]any

// Client issues connector-protocol calls for one tenant token. The token's
// rate budget is shared with every other client holding the same token.
type Client struct {
	baseURL string
	token   string
	budget  *Budget
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a client scoped to one tenant token.
func NewClient(baseURL, token string, budget *Budget) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		budget:  budget,
		http:    &http.Client{Timeout: requestTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "upstream",
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			Timeout: 30 * time.Second,
		}),
	}
}

// envelope is the connector response wrapper. SUCCESS payload fields sit next
// to the status field, so the raw body is returned to the caller on success.
type envelope struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Call performs one upstream method call, blocking for rate-budget admission
// and retrying transient failures with exponential backoff and jitter.
func (c *Client) Call(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	start := time.Now()
	body, err := c.callWithRetry(ctx, method, params)
	metrics.UpstreamDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues(method, "error").Inc()
		return nil, err
	}
	metrics.UpstreamCalls.WithLabelValues(method, "ok").Inc()
	return body, nil
}

func (c *Client) callWithRetry(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff << (attempt - 1)
			// Full jitter keeps concurrent retries from stampeding.
			sleep := time.Duration(rand.Int63n(int64(backoff))) + backoff/2
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleep):
			}
		}

		if err := c.budget.Acquire(ctx, c.token); err != nil {
			return nil, err
		}

		body, err := c.doOnce(ctx, method, params)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if _, fatal := AsClientError(err); fatal {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debug().Str("method", method).Int("attempt", attempt+1).Err(err).
			Msg("upstream call failed, retrying")
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params for %s: %w", method, err)
	}
	if params == nil {
		paramsJSON = []byte("{}")
	}

	form := url.Values{}
	form.Set("method", method)
	form.Set("parameters", string(paramsJSON))

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		req.Header.Set(tokenHeader, c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: status %d", ErrServer, resp.StatusCode)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return nil, fmt.Errorf("%w: status 429", ErrRateLimited)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			return nil, &ClientError{Code: fmt.Sprintf("HTTP_%d", resp.StatusCode), Message: resp.Status}
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
		}
		return json.RawMessage(body), nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("%w: circuit open", ErrTransport)
		}
		return nil, err
	}

	body := result.(json.RawMessage)

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed response", ErrTransport)
	}
	if env.Status == "ERROR" {
		if env.ErrorCode == "ERROR_RATE_LIMIT" {
			return nil, fmt.Errorf("%w: %s", ErrRateLimited, env.ErrorMessage)
		}
		return nil, &ClientError{Code: env.ErrorCode, Message: env.ErrorMessage}
	}
	return body, nil
}

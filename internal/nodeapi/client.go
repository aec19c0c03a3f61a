package nodeapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"time"
)

// Retry policy. The node is a local sidecar, not a rate-limited cloud API:
// a failure past a couple of retries almost always means the node is down,
// which the Supervisor (not this client) is responsible for restarting, so
// the attempt ceiling is low.
const (
	maxRetries     = 3
	baseBackoff    = 500 * time.Millisecond
	maxBackoff     = 10 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Per-call timeouts. Uploads use the dynamic formula in progress.go's
// uploadTimeout instead of a fixed constant.
const (
	healthCheckTimeout  = 5 * time.Second
	connectPeerTimeout  = 30 * time.Second
	networkFetchTimeout = 600 * time.Second
)

// Client is an HTTP client for the node's `/api/archivist/v1/` REST surface.
// All requests target 127.0.0.1:<apiPort> — there is no remote node client;
// peer-to-peer transport is the node's own job.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	sleepFunc  func(ctx context.Context, d time.Duration) error
}

// New creates a Client bound to the node's API port on localhost.
// httpClient may be nil, in which case a client with no default timeout is
// used — individual calls apply their own context deadlines (dynamic upload
// timeouts, fixed health and fetch deadlines).
func New(apiPort int, httpClient *http.Client, logger *slog.Logger) *Client {
	return NewWithBaseURL(fmt.Sprintf("http://127.0.0.1:%d/api/archivist/v1", apiPort), httpClient, logger)
}

// NewWithBaseURL creates a Client against an arbitrary base URL, bypassing
// the localhost/apiPort assumption New makes. Used by tests that point the
// client at an httptest.Server.
func NewWithBaseURL(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// do executes a request against the node with retry on transport failures
// and 5xx responses. 4xx responses are returned immediately. The caller is
// responsible for closing the response body on success. Only bodyless
// requests go through here; Upload manages its own request because a
// partially-consumed streaming body cannot be replayed.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int

	for {
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return nil, fmt.Errorf("nodeapi: creating request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("nodeapi: request canceled: %w", ctx.Err())
			}

			if attempt >= maxRetries {
				return nil, fmt.Errorf("nodeapi: %s %s failed after %d retries: %w: %w",
					method, path, maxRetries, ErrTransport, err)
			}

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying node request after transport error",
				slog.String("method", method), slog.String("path", path),
				slog.Int("attempt", attempt+1), slog.Duration("backoff", backoff),
				slog.String("error", err.Error()))

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("nodeapi: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		sentinel := classifyStatus(resp.StatusCode)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(errBody), Err: sentinel}

		if isRetryable(sentinel) && attempt < maxRetries {
			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying node request after HTTP error",
				slog.String("method", method), slog.String("path", path),
				slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt+1))

			if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
				return nil, fmt.Errorf("nodeapi: request canceled: %w", sleepErr)
			}

			attempt++

			continue
		}

		c.logger.Warn("node request failed",
			slog.String("method", method), slog.String("path", path),
			slog.Int("status", resp.StatusCode))

		return nil, apiErr
	}
}

// calcBackoff computes exponential backoff with ±25% jitter, capped at
// maxBackoff.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1)

	return time.Duration(backoff + jitter)
}

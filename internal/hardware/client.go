package hardware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumenfab/probeflow/internal/types"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const healthCheckTimeout = 5 * time.Second

// Client is the shared HTTP layer for instrument services. It owns the
// connection pool and maps every transport failure to an Err value tagged
// with the HTTP status and body. A circuit breaker fails calls fast while an
// instrument service is unreachable, so a dead endpoint does not burn the
// whole timeout budget on every poll.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(name, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 10 * time.Second,
		}),
		logger: logger,
	}
}

// Name identifies the instrument in logs and error messages.
func (c *Client) Name() string { return c.name }

// Connect verifies the instrument service is reachable via its health
// endpoint. Called once at the start of the calibration phase.
func (c *Client) Connect(ctx context.Context) types.Result[types.Unit] {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var body struct {
		Status string `json:"status"`
	}
	res := c.getJSON(ctx, "/health", &body)
	if res.IsErr() {
		return res.Wrap("connect " + c.name)
	}

	c.logger.Info("Instrument connected",
		zap.String("instrument", c.name),
		zap.String("base_url", c.baseURL))
	return types.Ok(types.Unit{})
}

func (c *Client) getJSON(ctx context.Context, path string, out any) types.Result[types.Unit] {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) types.Result[types.Unit] {
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) types.Result[types.Unit] {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, payload, out)
	})
	if err != nil {
		return types.Err[types.Unit](err.Error())
	}
	return types.Ok(types.Unit{})
}

// httpError carries the failure description through the breaker.
type httpError struct{ msg string }

func (e *httpError) Error() string { return e.msg }

func (c *Client) roundTrip(ctx context.Context, method, path string, payload, out any) error {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &httpError{msg: "encode request: " + err.Error()}
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return &httpError{msg: "build request: " + err.Error()}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &httpError{msg: "request failed: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &httpError{msg: "read response: " + err.Error()}
	}

	if resp.StatusCode >= 400 {
		c.logger.Warn("Instrument request rejected",
			zap.String("instrument", c.name),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &httpError{msg: "HTTP " + resp.Status + ": " + strings.TrimSpace(string(respBody))}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &httpError{msg: "decode response: " + err.Error()}
		}
	}
	return nil
}

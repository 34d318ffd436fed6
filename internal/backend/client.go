package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/agrimarket-storefront/internal/common"
)

// maxBodyBytes bounds how much of a backend answer is read.
const maxBodyBytes = 4 << 20

// defaultSharedTimeout bounds a voucher fetch shared by concurrent callers.
const defaultSharedTimeout = 10 * time.Second

// Doer executes a request against the backend. resilience.HTTPClient
// satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the marketplace REST backend on behalf of the caller. The
// caller's bearer token is forwarded from the request context.
type Client struct {
	BaseURL string
	HTTP    Doer
	Logger  zerolog.Logger
	// SharedTimeout bounds a deduplicated voucher fetch. Zero means 10s.
	SharedTimeout time.Duration

	owned singleflight.Group
}

// New constructs a backend client.
func New(baseURL string, doer Doer, logger zerolog.Logger) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    doer,
		Logger:  logger.With().Str("component", "backend").Logger(),
	}
}

// NewHTTPClient returns an instrumented http.Client for backend calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
	out     any
}

func (c *Client) do(ctx context.Context, in call) error {
	if c.HTTP == nil {
		return errors.New("backend: http client not configured")
	}
	var reader io.Reader
	if in.body != nil {
		payload, err := json.Marshal(in.body)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", in.path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, in.method, c.BaseURL+in.path, reader)
	if err != nil {
		return fmt.Errorf("backend: build %s: %w", in.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := common.AccessToken(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range in.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("backend: %s %s: %w: %w", in.method, in.path, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("backend: read %s: %w: %w", in.path, ErrUnavailable, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeAPIError(resp.StatusCode, body)
		c.Logger.Debug().
			Str("method", in.method).
			Str("path", in.path).
			Int("status", resp.StatusCode).
			Str("code", apiErr.Code).
			Msg("backend error response")
		return apiErr
	}
	if in.out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := decodeData(body, in.out); err != nil {
		return fmt.Errorf("backend: decode %s: %w", in.path, err)
	}
	return nil
}

// decodeData unwraps the {"data": ...} envelope when present and otherwise
// decodes the body as is.
func decodeData(body []byte, out any) error {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
			return json.Unmarshal(env.Data, out)
		}
	}
	return json.Unmarshal(trimmed, out)
}

// Ping checks that the backend answers. Any non-5xx status counts as up.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, call{method: http.MethodGet, path: "/health"})
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status < http.StatusInternalServerError {
		return nil
	}
	return err
}

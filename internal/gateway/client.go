package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sjawhar/intake/internal/config"
)

const (
	apiKeyHeader            = "x-api-key"
	defaultMaxDownloadBytes = 512 << 20
	errorBodyLimit          = 1 << 10
)

// Options configures a Client. Zero durations fall back to conservative
// defaults so every remote call stays bounded.
type Options struct {
	BaseURL           string
	Branch            string
	Endpoints         config.Endpoints
	APIKey            string
	Timeout           time.Duration
	TranscribeTimeout time.Duration
	InferenceTimeout  time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxDownloadBytes  int64
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// OptionsFromConfig maps application config onto client options.
func OptionsFromConfig(cfg config.Config, logger *slog.Logger) Options {
	return Options{
		BaseURL:           cfg.Gateway.BaseURL,
		Branch:            cfg.Gateway.Branch,
		Endpoints:         cfg.Gateway.Endpoints,
		APIKey:            cfg.GatewayAPIKey,
		Timeout:           cfg.RequestTimeout(),
		TranscribeTimeout: cfg.TranscribeTimeout(),
		InferenceTimeout:  cfg.InferenceTimeout(),
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		Logger:            logger,
	}
}

// Client talks to the remote file gateway over its REST/JSON contract.
type Client struct {
	opts    Options
	http    *http.Client
	limiter *RateLimiter
	logger  *slog.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.TranscribeTimeout <= 0 {
		opts.TranscribeTimeout = 15 * time.Minute
	}
	if opts.InferenceTimeout <= 0 {
		opts.InferenceTimeout = 3 * time.Minute
	}
	if opts.MaxDownloadBytes <= 0 {
		opts.MaxDownloadBytes = defaultMaxDownloadBytes
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		opts:    opts,
		http:    httpClient,
		limiter: NewRateLimiter(opts.RequestsPerSecond, opts.Burst),
		logger:  logger.With("component", "gateway"),
	}
}

func (c *Client) endpointURL(endpoint string, query url.Values) string {
	parts := []string{strings.TrimRight(c.opts.BaseURL, "/")}
	if branch := strings.Trim(c.opts.Branch, "/"); branch != "" {
		parts = append(parts, branch)
	}
	parts = append(parts, strings.Trim(endpoint, "/"))
	u := strings.Join(parts, "/")

	clean := url.Values{}
	for key, values := range query {
		for _, v := range values {
			if v != "" {
				clean.Add(key, v)
			}
		}
	}
	if encoded := clean.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

type call struct {
	method   string
	endpoint string
	query    url.Values
	body     any
	timeout  time.Duration
}

// do sends an authenticated request and returns the body of a 2xx response.
// Every failure is mapped onto the package's sentinel errors.
func (c *Client) do(ctx context.Context, req call) ([]byte, error) {
	timeout := req.timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.method, req.endpoint, err)
	}

	var body io.Reader
	if req.body != nil {
		payload, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("encode %s request: %w", req.endpoint, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.endpointURL(req.endpoint, req.query), body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.endpoint, err)
	}
	httpReq.Header.Set(apiKeyHeader, c.opts.APIKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrNetwork, req.method, req.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("gateway call",
		"method", req.method,
		"endpoint", req.endpoint,
		"status", resp.StatusCode,
		"elapsed", time.Since(started))

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.RecordRateLimit(resp.Header.Get("Retry-After"))
	}
	if err := statusError(resp, req.method+" "+req.endpoint); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s response: %v", ErrNetwork, req.endpoint, err)
	}
	return data, nil
}

func statusError(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	detail := strings.TrimSpace(string(snippet))

	var sentinel error
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		sentinel = ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		sentinel = ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		sentinel = ErrAlreadyExists
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode >= 500:
		sentinel = ErrNetwork
	default:
		sentinel = ErrRejected
	}

	if detail == "" {
		return fmt.Errorf("%w: %s: status %d", sentinel, op, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s: status %d: %s", sentinel, op, resp.StatusCode, detail)
}

func decode[T any](data []byte, endpoint string) (T, error) {
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: decode %s response: %v", ErrMalformedResponse, endpoint, err)
	}
	return out, nil
}

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

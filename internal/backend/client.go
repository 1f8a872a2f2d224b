// Package backend contains typed HTTP clients for the farm services:
// detection, treatment, user (auth, farmers, crops), notification and
// subscription. All of them share one Client core that handles bearer auth,
// request IDs, client-side rate limiting, JSON decoding and error mapping.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/observability/metrics"
)

// Default client settings.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10.0
	DefaultBurst     = 5
	DefaultUserAgent = "farmdash/1.0"
)

// RequestIDHeader carries a per-request UUID for correlation with service logs.
const RequestIDHeader = "X-Request-ID"

// Config holds the settings shared by every service client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 uses DefaultRateLimit
	Burst     int
	UserAgent string
}

// TokenFunc returns the bearer token to send, or "" for anonymous calls.
type TokenFunc func() string

// Client is the shared HTTP core of the service clients.
type Client struct {
	service    string
	baseURL    string
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	token      TokenFunc
	metrics    *metrics.BackendMetrics
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken sets the bearer token source.
func WithToken(fn TokenFunc) ClientOption {
	return func(c *Client) { c.token = fn }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.BackendMetrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates the HTTP core for one service.
func NewClient(service string, cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Newf("%s service base URL is required", service).
			Component("backend").
			Category(errors.CategoryConfiguration).
			Context("service", service).
			Build()
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.New(err).
			Component("backend").
			Category(errors.CategoryConfiguration).
			Context("service", service).
			Build()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Burst == 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	c := &Client{
		service:    service,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		userAgent:  cfg.UserAgent,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.ForService("backend").With("target", service)
	}
	return c, nil
}

// Service returns the service name used in logs and metrics.
func (c *Client) Service() string {
	return c.service
}

// getJSON issues a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, query, nil, out)
}

// doJSON sends body (if any) as JSON and decodes the response into out (if any).
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.New(err).
				Component("backend").
				Category(errors.CategoryValidation).
				Context("service", c.service).
				Context("operation", "encode_request").
				Build()
		}
		reader = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// doMultipart uploads a single file field and decodes the JSON response into out.
func (c *Client) doMultipart(ctx context.Context, path string, query url.Values, field, fileName string, file io.Reader, out any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, fileName)
	if err != nil {
		return c.uploadError(err, fileName)
	}
	if _, err := io.Copy(part, file); err != nil {
		return c.uploadError(err, fileName)
	}
	if err := mw.Close(); err != nil {
		return c.uploadError(err, fileName)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, query, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, out)
}

func (c *Client) uploadError(err error, fileName string) error {
	return errors.New(err).
		Component("backend").
		Category(errors.CategoryFileIO).
		Context("service", c.service).
		Context("file_name", fileName).
		Build()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, errors.Newf("failed to create HTTP request: %w", err).
			Component("backend").
			Category(errors.CategoryNetwork).
			Context("service", c.service).
			Context("method", method).
			Build()
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(RequestIDHeader, uuid.NewString())
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	ctx := req.Context()
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryCancellation).
			Context("service", c.service).
			Context("operation", "rate_limit_wait").
			Build()
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.record(req.Method, "error", duration)
		category := errors.CategoryNetwork
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			category = errors.CategoryCancellation
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			category = errors.CategoryTimeout
		}
		c.logger.Debug("request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", req.Header.Get(RequestIDHeader),
			"error", err)
		return errors.New(err).
			Component("backend").
			Category(category).
			NetworkContext(req.URL.String(), c.timeout).
			Timing("http_request", duration).
			Context("service", c.service).
			Context("method", req.Method).
			Build()
	}
	defer resp.Body.Close()

	c.record(req.Method, strconv.Itoa(resp.StatusCode), duration)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryNetwork).
			Context("service", c.service).
			Context("operation", "read_response").
			Build()
	}

	c.logger.Debug("request completed",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration_ms", duration.Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data, resp.StatusCode),
		}
		return errors.New(httpErr).
			Component("backend").
			Category(statusCategory(resp.StatusCode)).
			Priority(statusPriority(resp.StatusCode)).
			Context("service", c.service).
			Context("method", req.Method).
			Context("path", req.URL.Path).
			Context("status_code", resp.StatusCode).
			Build()
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.New(err).
			Component("backend").
			Category(errors.CategoryFileParsing).
			Context("service", c.service).
			Context("path", req.URL.Path).
			Context("operation", "decode_response").
			Build()
	}
	return nil
}

func (c *Client) record(method, status string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordRequest(c.service, method, status, d.Seconds())
	}
}

// HTTPError is a non-2xx response. Message is the human-readable text
// extracted from the body.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsUnauthorized reports whether err is a 401 or 403 response.
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

func statusCategory(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryAuthentication
	case http.StatusNotFound:
		return errors.CategoryNotFound
	case http.StatusConflict:
		return errors.CategoryConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return errors.CategoryValidation
	case http.StatusTooManyRequests, http.StatusPaymentRequired:
		return errors.CategoryLimit
	default:
		return errors.CategoryHTTP
	}
}

// statusPriority raises server-side failures above client mistakes.
func statusPriority(statusCode int) string {
	if statusCode >= http.StatusInternalServerError {
		return errors.PriorityHigh
	}
	return errors.PriorityLow
}

// errorMessage extracts a message from an error body: "detail" as a string,
// "detail" as a list of {"msg": ...} objects, or "message". It falls back to
// "HTTP <status>".
func errorMessage(body []byte, statusCode int) string {
	fallback := fmt.Sprintf("HTTP %d", statusCode)

	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fallback
	}

	if len(payload.Detail) > 0 {
		var detail string
		if err := json.Unmarshal(payload.Detail, &detail); err == nil && detail != "" {
			return detail
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, item := range items {
				if item.Msg != "" {
					msgs = append(msgs, item.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if payload.Message != "" {
		return payload.Message
	}
	return fallback
}

func escape(segment string) string {
	return url.PathEscape(segment)
}

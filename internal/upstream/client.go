package upstream

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"coursecart/backend/internal/metrics"
	"coursecart/backend/internal/tracing"
)

var (
	ErrConnection   = errors.New("upstream connection failure")
	ErrTimeout      = errors.New("upstream timeout")
	ErrNotFound     = errors.New("upstream resource not found")
	ErrModeMismatch = errors.New("enrollment mode mismatch")
)

// StatusError is a non-2xx response other than 404.
type StatusError struct {
	Service string
	Code    int
	Body    string
	Err     error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.Code, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Client is a JSON-over-HTTP client that classifies failures into the typed errors
// above. Every call gets its own timeout window.
type Client struct {
	name       string
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
	tracer     trace.Tracer
	metrics    *metrics.Metrics
}

func NewClient(name string, baseURL string, timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		tracer:  tracing.Tracer(),
		metrics: m,
	}
}

// WithToken sets a bearer token sent on every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method string, path string, query url.Values, body any, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	ctx, span := c.tracer.Start(ctx, "upstream."+c.name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.url", target),
		attribute.String("http.method", method),
	)

	startedAt := time.Now()
	defer func() {
		c.metrics.UpstreamObserved(c.name, outcome(err), time.Since(startedAt))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(c.name, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return classifyTransportError(c.name, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, c.name, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Service: c.name, Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

func classifyTransportError(service string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, service, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, service, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrConnection, service, err)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnection):
		return "connection"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return "error"
}

// IsUnavailable reports failures a caller should treat as "could not decide":
// connectivity, timeouts and missing resources.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrNotFound)
}

func cacheKey(site string, resource string, params ...string) string {
	h := sha1.New()
	h.Write([]byte(site))
	h.Write([]byte{0})
	h.Write([]byte(resource))
	for _, p := range params {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return resource + ":" + hex.EncodeToString(h.Sum(nil))
}

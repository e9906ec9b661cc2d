package tracing

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/reqtrace/internal/telemetry"
)

// Transport records each outbound request as a child span of the span
// active in the request context and propagates that span's context in the
// request headers.
type Transport struct {
	base       http.RoundTripper
	dispatcher *telemetry.Dispatcher
	propagator *Propagator
}

// NewTransport wraps base, or http.DefaultTransport when base is nil.
func NewTransport(base http.RoundTripper, d *telemetry.Dispatcher, p *Propagator) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if p == nil {
		p = DefaultPropagator()
	}
	return &Transport{base: base, dispatcher: d, propagator: p}
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, span := t.dispatcher.StartSpan(req.Context(), "HTTP client request",
		telemetry.WithTarget("http.client"),
		telemetry.WithFields(
			telemetry.String(FieldMethod, req.Method),
			telemetry.String("http.url", req.URL.Redacted()),
			telemetry.String(FieldOtelKind, "client"),
			telemetry.Declare(FieldStatusCode),
			telemetry.Declare(FieldOtelStatus),
			telemetry.Declare(FieldExcMessage),
		),
	)
	defer span.Release()

	out := req.Clone(ctx)
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	t.propagator.Inject(ctx, out.Header)

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		_ = span.Record(FieldOtelStatus, OtelStatusError)
		_ = span.Record(FieldExcMessage, err.Error())
		return nil, err
	}
	_ = span.Record(FieldStatusCode, resp.StatusCode)
	if resp.StatusCode >= http.StatusInternalServerError {
		_ = span.Record(FieldOtelStatus, OtelStatusError)
	} else {
		_ = span.Record(FieldOtelStatus, OtelStatusOK)
	}
	return resp, nil
}

// ClientConfig configures NewClient.
type ClientConfig struct {
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is requests per second, 0 for unlimited.
	RateLimit float64
	Burst     int
	UserAgent string
}

// DefaultClientConfig returns conservative client settings.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:      30 * time.Second,
		RetryMax:     3,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
		UserAgent:    "reqtrace/1.0",
	}
}

// Client is an outbound HTTP client that retries, rate limits and carries
// trace context to the services it calls.
type Client struct {
	resty   *resty.Client
	limiter *rate.Limiter
}

// NewClient builds a resty client on top of a retrying transport. Every
// attempt is its own child span; retry diagnostics become telemetry events.
func NewClient(d *telemetry.Dispatcher, p *Propagator, cfg ClientConfig) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.HTTPClient.Transport = NewTransport(retryClient.HTTPClient.Transport, d, p)
	retryClient.Logger = NewRetryLogger(d)

	restyClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetTransport(retryClient.StandardClient().Transport)
	if cfg.UserAgent != "" {
		restyClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		resty:   restyClient,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Do waits for the rate limiter and executes the request in ctx, so the
// call nests under the span active in ctx.
func (c *Client) Do(ctx context.Context, method, url string, body interface{}) (*resty.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req := c.resty.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}

// Get is Do with GET and no body.
func (c *Client) Get(ctx context.Context, url string) (*resty.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil)
}

// Resty exposes the underlying client for per-service tuning.
func (c *Client) Resty() *resty.Client { return c.resty }

// RetryLogger adapts retryablehttp's leveled logger to the telemetry
// dispatcher through the zap bridge.
type RetryLogger struct {
	s *zap.SugaredLogger
}

var _ retryablehttp.LeveledLogger = RetryLogger{}

// NewRetryLogger creates a leveled logger whose entries become events with
// target "http.client.retry".
func NewRetryLogger(d *telemetry.Dispatcher) RetryLogger {
	return RetryLogger{s: zap.New(telemetry.NewZapCore(d, "http.client.retry")).Sugar()}
}

func (l RetryLogger) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }

func (l RetryLogger) Warn(msg string, keysAndValues ...interface{}) { l.s.Warnw(msg, keysAndValues...) }

func (l RetryLogger) Info(msg string, keysAndValues ...interface{}) { l.s.Infow(msg, keysAndValues...) }

func (l RetryLogger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }

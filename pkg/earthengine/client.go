// Package earthengine is a small REST client for the Google Earth Engine
// compute API: it evaluates expression graphs and publishes map tiles.
package earthengine

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

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/mapbiomas-cli/internal/landcover"
	"github.com/sells-group/mapbiomas-cli/internal/resilience"
)

// DefaultBaseURL is the public Earth Engine REST endpoint.
const DefaultBaseURL = "https://earthengine.googleapis.com"

// Option configures the client.
type Option func(*Client)

// WithBaseURL points the client at another endpoint (tests, proxies).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken sets a static OAuth bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) {
		c.retry = cfg
	}
}

// WithBreaker sets the circuit breaker guarding the service.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

// Client calls the Earth Engine REST API for one cloud project.
type Client struct {
	project    string
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      resilience.RetryConfig
	breaker    *resilience.Breaker
}

// NewClient creates a client for project.
func NewClient(project string, opts ...Option) *Client {
	c := &Client{
		project:    project,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(10, 10),
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewBreaker(resilience.BreakerConfig{Name: "earthengine"})
	}
	return c
}

// Project returns the cloud project.
func (c *Client) Project() string {
	return c.project
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.Breaker {
	return c.breaker
}

// ComputeValue evaluates expr and returns the raw JSON result.
func (c *Client) ComputeValue(ctx context.Context, expr *Node) (json.RawMessage, error) {
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	body := map[string]any{"expression": NewExpression(expr)}
	if err := c.call(ctx, "value:compute", body, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

// VisParams styles a single-band image as an RGB map.
type VisParams struct {
	Min     float64
	Max     float64
	Palette []string
}

// MapID is a published map whose tiles can be fetched by URL.
type MapID struct {
	Name    string `json:"name"`
	TileURL string `json:"tile_url"`
}

// CreateMap publishes expr as a tiled map.
func (c *Client) CreateMap(ctx context.Context, expr *Node, vis VisParams) (*MapID, error) {
	palette := make([]string, len(vis.Palette))
	for i, p := range vis.Palette {
		palette[i] = strings.TrimPrefix(p, "#")
	}
	body := map[string]any{
		"expression": NewExpression(expr),
		"fileFormat": "AUTO_JPEG_PNG",
		"bandIds":    []string{},
		"visualizationOptions": map[string]any{
			"ranges":        []map[string]float64{{"min": vis.Min, "max": vis.Max}},
			"paletteColors": palette,
		},
	}
	var out MapID
	if err := c.call(ctx, "maps", body, &out); err != nil {
		return nil, err
	}
	if out.Name == "" {
		return nil, &landcover.UpstreamError{Op: "maps", Err: eris.New("response missing map name")}
	}
	out.TileURL = fmt.Sprintf("%s/v1/%s/tiles/{z}/{x}/{y}", c.baseURL, out.Name)
	return &out, nil
}

// call posts to a project method through the rate limiter, retry policy,
// and circuit breaker. Failures surface as *landcover.UpstreamError unless
// the context ended.
func (c *Client) call(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "earthengine: encode request")
	}

	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("earthengine " + method)
	}
	_, err = resilience.Retry(ctx, retry, func(ctx context.Context) (struct{}, error) {
		return resilience.Call(ctx, c.breaker, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.do(ctx, method, payload, out)
		})
	})
	return classify(ctx, method, err)
}

func (c *Client) do(ctx context.Context, method string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "earthengine: rate limit")
	}

	url := fmt.Sprintf("%s/v1/projects/%s/%s", c.baseURL, c.project, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "earthengine: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "earthengine: %s request", method)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "earthengine: %s read body", method)
	}

	if resp.StatusCode != http.StatusOK {
		msg := errorMessage(data)
		err := eris.Errorf("earthengine: %s returned status %d: %s", method, resp.StatusCode, msg)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			te := resilience.NewTransientError(err, resp.StatusCode)
			te.RetryAfter = resilience.ParseRetryAfter(resp.Header.Get("Retry-After"))
			return te
		}
		return &landcover.UpstreamError{Op: method, StatusCode: resp.StatusCode, Err: eris.New(msg)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &landcover.UpstreamError{Op: method, Err: eris.Wrap(err, "parse response")}
	}
	return nil
}

// errorMessage extracts the service's error message, falling back to the
// raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty response"
	}
	return s
}

func classify(ctx context.Context, method string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if landcover.IsUpstream(err) {
		return err
	}
	var te *resilience.TransientError
	if errors.As(err, &te) {
		return &landcover.UpstreamError{Op: method, StatusCode: te.StatusCode, Err: err}
	}
	return &landcover.UpstreamError{Op: method, Err: err}
}

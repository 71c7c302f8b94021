// Package sensors queries the external outdoor-sensor network and assigns
// each monitoring station its nearest qualifying live PM2.5 reading.
//
// All outbound calls go through BaseClient, which enforces circuit breaking,
// bounded retries with jittered backoff, and error mapping. A failed or empty
// city query degrades that city to zero readings for the cycle; it never
// aborts the evaluation of other cities.
package sensors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"clear25/internal/geo"
	"clear25/internal/types"
)

// RetryPolicy configures retry behavior for sensor-network calls.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns the defaults used in production.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 2,
		MinWait:    250 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// BaseClient wraps an *http.Client with a circuit breaker and retry loop.
// Retries apply to 429 and 5xx responses only; other statuses return as-is.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	sleepFn     func(time.Duration)
}

// BaseClientOption configures a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc overrides the inter-retry sleep, for tests.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = fn
	}
}

// NewBaseClient creates a BaseClient. The breaker opens after five
// consecutive failures and recovers after 30 seconds.
func NewBaseClient(httpClient *http.Client, breakerName string, policy RetryPolicy, opts ...BaseClientOption) *BaseClient {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	bc := &BaseClient{
		client:      httpClient,
		breaker:     cb,
		retryPolicy: policy,
		sleepFn:     time.Sleep,
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do executes the request with request-ID propagation, circuit breaking, and
// retries. The caller closes the response body on success.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if id := types.GetRequestID(req.Context()); id != "" {
		req.Header.Set("X-Request-Id", id)
	}

	var lastResp *http.Response
	var lastErr error

	maxAttempts := 1 + c.retryPolicy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, doErr := c.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})

		if err == nil {
			return resp, nil
		}

		lastErr = err
		if resp != nil {
			if attempt < maxAttempts-1 {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		// An open breaker will not close between attempts; stop retrying.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}

		if attempt < maxAttempts-1 {
			c.sleepFn(c.backoff(attempt, resp))
		}
	}

	if lastResp != nil {
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

// backoff computes the next retry wait: the Retry-After header when present,
// otherwise exponential backoff with full jitter in [MinWait, MinWait*2^n].
func (c *BaseClient) backoff(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				wait := time.Duration(seconds) * time.Second
				if wait > c.retryPolicy.MaxWait {
					wait = c.retryPolicy.MaxWait
				}
				return wait
			}
		}
	}

	base := float64(c.retryPolicy.MinWait) * math.Pow(2, float64(attempt))
	if maxWait := float64(c.retryPolicy.MaxWait); base > maxWait {
		base = maxWait
	}
	minWait := float64(c.retryPolicy.MinWait)
	if base <= minWait {
		return c.retryPolicy.MinWait
	}
	return time.Duration(minWait + rand.Float64()*(base-minWait))
}

// mapError translates transport-level failures into AppErrors.
func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"sensor network circuit breaker is open", err)
	}
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return types.NewAppError(types.ErrCodeUpstreamRateLimited,
			"sensor network rate limit exceeded", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamSensorNet,
		"sensor network request failed", err)
}

// Sensor is one outdoor sensor observation returned by the network. Either
// PM25 (µg/m³) or AQI (an index requiring breakpoint conversion) is set.
type Sensor struct {
	Lat  float64  `json:"lat"`
	Lon  float64  `json:"lon"`
	PM25 *float64 `json:"pm25,omitempty"`
	AQI  *float64 `json:"aqi,omitempty"`
}

// Concentration resolves the sensor's value to PM2.5 µg/m³, converting from
// AQI when the network reported an index. Returns false for sensors with no
// usable value or a negative concentration.
func (s Sensor) Concentration() (float64, bool) {
	if s.PM25 != nil {
		if *s.PM25 < 0 {
			return 0, false
		}
		return *s.PM25, true
	}
	if s.AQI != nil {
		if *s.AQI < 0 {
			return 0, false
		}
		return AQIToPM25(*s.AQI), true
	}
	return 0, false
}

// NetworkConfig configures the sensor-network API client.
type NetworkConfig struct {
	BaseURL string
	APIKey  types.SecretString
	// MaxAgeSeconds is the freshness constraint: only sensors seen within
	// this window are returned.
	MaxAgeSeconds int
	Timeout       time.Duration
}

// Client is the sensor-network API client. One bounding-box query is issued
// per city per evaluation cycle.
type Client struct {
	base   *BaseClient
	cfg    NetworkConfig
	logger *slog.Logger
}

// NewClient creates a sensor-network Client. The HTTP client's timeout comes
// from cfg.Timeout (default 30s).
func NewClient(cfg NetworkConfig, logger *slog.Logger, opts ...BaseClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAgeSeconds <= 0 {
		cfg.MaxAgeSeconds = 3600
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		base:   NewBaseClient(httpClient, "sensor-network", DefaultRetryPolicy(), opts...),
		cfg:    cfg,
		logger: logger,
	}
}

// sensorsResponse is the wire shape of the sensor query response.
type sensorsResponse struct {
	Sensors []Sensor `json:"sensors"`
}

// SensorsInBox returns all outdoor sensors inside the bounding box that
// reported within the freshness window.
func (c *Client) SensorsInBox(ctx context.Context, box geo.BoundingBox) ([]Sensor, error) {
	q := url.Values{}
	q.Set("swlat", formatCoord(box.SWLat))
	q.Set("swlon", formatCoord(box.SWLon))
	q.Set("nelat", formatCoord(box.NELat))
	q.Set("nelon", formatCoord(box.NELon))
	q.Set("max_age", strconv.Itoa(c.cfg.MaxAgeSeconds))
	q.Set("location_type", "outdoor")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.BaseURL+"/v1/sensors?"+q.Encode(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected,
			"building sensor network request", err)
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey.Unmask())

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamSensorNet,
			fmt.Sprintf("sensor network returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamSensorNet,
			"reading sensor network response", err)
	}

	var parsed sensorsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamSensorNet,
			"malformed sensor network response", err)
	}

	return parsed.Sensors, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

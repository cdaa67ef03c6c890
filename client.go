package sender

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

const (
	Version         = "0.3.0"
	DefaultEndpoint = "https://api.apptuit.ai"
	DefaultTimeout  = 60 * time.Second

	defaultRetryInterval = 2 * time.Second
	maxRetryInterval     = 30 * time.Second
)

type SanitizeMode string

const (
	// SanitizePrometheusMode is used when Config.SanitizeMode is empty.
	SanitizePrometheusMode SanitizeMode = "prometheus"
	SanitizeApptuitMode    SanitizeMode = "apptuit"
	// SanitizeNone rejects invalid metric names and tag keys instead of rewriting them.
	SanitizeNone SanitizeMode = "none"
)

// Ingester accepts batches of data points. Implementations return a *SendError
// when only part of a batch could be delivered.
type Ingester interface {
	Send(ctx context.Context, points []DataPoint) error
}

type Config struct {
	Token string
	// Endpoint is the base URL of the API, including protocol and port. Defaults to DefaultEndpoint.
	Endpoint string
	// GlobalTags are merged under the tags of every point sent.
	GlobalTags   map[string]string
	SanitizeMode SanitizeMode
	// Timeout bounds each HTTP request. Defaults to DefaultTimeout.
	Timeout time.Duration
	// RetryCount is the number of additional attempts made when the server responds with a 5xx.
	RetryCount int
	// RetryInterval is the initial backoff between attempts. Defaults to 2s, growing up to 30s.
	RetryInterval time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client sends data points to and queries the Apptuit HTTP API.
type Client struct {
	config     Config
	sanitizer  func(string) string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ Ingester = (*Client)(nil)

func NewClient(config Config) (*Client, error) {
	if config.Token == "" {
		return nil, ErrMissingToken
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	for len(config.Endpoint) > 0 && config.Endpoint[len(config.Endpoint)-1] == '/' {
		config.Endpoint = config.Endpoint[:len(config.Endpoint)-1]
	}
	if config.Endpoint == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEndpoint, config.Endpoint)
	}

	var sanitizer func(string) string
	switch config.SanitizeMode {
	case "", SanitizePrometheusMode:
		sanitizer = SanitizePrometheus
	case SanitizeApptuitMode:
		sanitizer = SanitizeApptuit
	case SanitizeNone:
	default:
		return nil, fmt.Errorf("sanitize mode can only be %s, %s or %s, got %q",
			SanitizePrometheusMode, SanitizeApptuitMode, SanitizeNone, config.SanitizeMode)
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = defaultRetryInterval
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		config:     config,
		sanitizer:  sanitizer,
		httpClient: httpClient,
		logger:     logger.With("component", "apptuit.client"),
	}, nil
}

func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

func (c *Client) putURL() string {
	return c.config.Endpoint + "/api/put?details"
}

type putRow struct {
	Metric    string            `json:"metric"`
	Tags      map[string]string `json:"tags"`
	Timestamp int64             `json:"timestamp"`
	Value     float64           `json:"value"`
}

// Send posts the points to the put API. An empty batch is a no-op.
// Rejected points are reported with a *SendError.
func (c *Client) Send(ctx context.Context, points []DataPoint) error {
	if len(points) == 0 {
		return nil
	}
	rows := make([]putRow, 0, len(points))
	for _, point := range points {
		row, err := c.row(point.Metric, point.Tags, point.Timestamp, point.Value)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return c.withRetry(ctx, func() error {
		return c.put(ctx, rows)
	})
}

// SendTimeSeries sends every point of each series. A series whose timestamps and
// values differ in length is rejected before anything is sent.
func (c *Client) SendTimeSeries(ctx context.Context, series []*TimeSeries) error {
	var rows []putRow
	for _, s := range series {
		if len(s.Timestamps) != len(s.Values) {
			return fmt.Errorf("%w: %s has %d timestamps and %d values",
				ErrInvalidTimeSeries, s, len(s.Timestamps), len(s.Values))
		}
		for i, ts := range s.Timestamps {
			row, err := c.row(s.Metric, s.Tags, ts, s.Values[i])
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return c.withRetry(ctx, func() error {
		return c.put(ctx, rows)
	})
}

func (c *Client) row(metric string, tags map[string]string, timestamp int64, value float64) (putRow, error) {
	if c.sanitizer != nil {
		metric = c.sanitizer(metric)
	} else if !ValidChars(metric) {
		return putRow{}, fmt.Errorf("%w: %s contains an invalid character, allowed characters are "+
			"unicode letters, digits, -, _, . and /", ErrInvalidMetricName, metric)
	}

	tags = MergeTags(c.config.GlobalTags, tags)
	if len(tags) == 0 {
		return putRow{}, fmt.Errorf("%w for the metric %s, either set them on the point, "+
			"configure global tags or set %s", ErrMissingTags, metric, TagsEnv)
	}
	if len(tags) > MaxTags {
		return putRow{}, fmt.Errorf("%w for the metric %s: maximum allowed is %d, found %d",
			ErrTooManyTags, metric, MaxTags, len(tags))
	}
	if c.sanitizer != nil {
		sanitized := make(map[string]string, len(tags))
		for k, v := range tags {
			sanitized[c.sanitizer(k)] = v
		}
		tags = sanitized
	} else if err := ValidateTags(tags); err != nil {
		return putRow{}, err
	}

	return putRow{
		Metric:    metric,
		Tags:      tags,
		Timestamp: timestamp,
		Value:     value,
	}, nil
}

func (c *Client) put(ctx context.Context, rows []putRow) error {
	body, err := deflateJSON(rows)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.putURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	requestID := uuid.NewString()
	c.setHeaders(req)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "deflate")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %d points: %w", len(rows), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		c.logger.Debug("sent points", "count", len(rows), "request_id", requestID)
		return nil
	case http.StatusBadRequest:
		var details struct {
			Success int          `json:"success"`
			Failed  int          `json:"failed"`
			Errors  []PointError `json:"errors"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&details); err != nil {
			return &SendError{
				Msg:        fmt.Sprintf("failed to parse error response: %v", err),
				StatusCode: resp.StatusCode,
				Failed:     len(rows),
				RequestID:  requestID,
			}
		}
		return &SendError{
			Msg:        fmt.Sprintf("send failed due to %d error", resp.StatusCode),
			StatusCode: resp.StatusCode,
			Success:    details.Success,
			Failed:     details.Failed,
			Errors:     details.Errors,
			RequestID:  requestID,
		}
	case http.StatusRequestEntityTooLarge:
		return &SendError{
			Msg: fmt.Sprintf("payload too big, tried to send %.3f mb of data with %d points, "+
				"send again with fewer points", float64(len(body))/(1024*1024), len(rows)),
			StatusCode: resp.StatusCode,
			Failed:     len(rows),
			RequestID:  requestID,
		}
	case http.StatusUnauthorized:
		return &SendError{
			Msg:        "Apptuit API token is invalid",
			StatusCode: resp.StatusCode,
			Failed:     len(rows),
			RequestID:  requestID,
		}
	default:
		return &SendError{
			Msg:        "server error",
			StatusCode: resp.StatusCode,
			Failed:     len(rows),
			RequestID:  requestID,
		}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.config.Token)
	req.Header.Set("User-Agent", userAgent())
}

func (c *Client) withRetry(ctx context.Context, op func() error) error {
	if c.config.RetryCount <= 0 {
		return op()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.RetryInterval
	b.MaxInterval = maxRetryInterval
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.config.RetryCount+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn("retrying after server error", "error", err, "backoff", next)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func deflateJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress payload: %w", err)
	}
	return buf.Bytes(), nil
}

func userAgent() string {
	return "apptuit-go-" + Version + ", " + runtime.Version()
}

func drain(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(b)
}

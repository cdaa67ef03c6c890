// Package reporter periodically converts the metrics of a registry into data
// points and sends them to Apptuit.
//
// Every tick drains the registry, resolves tags for each metric and sends the
// points together with the reporter's own meta-metrics in a single batch. The
// meta-metrics count the points sent, accepted and rejected and time the send call:
//
//	apptuit.reporter.send.total
//	apptuit.reporter.send.successful
//	apptuit.reporter.send.failed
//	apptuit.reporter.send.time
//
// Tags are resolved with this priority, highest first: tags embedded in the
// registry key (see sender.EncodeMetric), tags configured on the reporter,
// environment tags.
package reporter

import (
	"context"
	"errors"
	"fmt"
	sender "github.com/itzg/apptuit-sender"
	"github.com/itzg/apptuit-sender/registry"
	"github.com/rcrowley/go-metrics"
	"github.com/robfig/cron/v3"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	MetricPointsTotal      = "apptuit.reporter.send.total"
	MetricPointsSuccessful = "apptuit.reporter.send.successful"
	MetricPointsFailed     = "apptuit.reporter.send.failed"
	MetricSendTime         = "apptuit.reporter.send.time"

	DefaultInterval = 10 * time.Second
)

var ErrAlreadyStarted = errors.New("reporter already started")

// ErrorHandler is called once for every tick whose send was rejected in part or
// in whole. err.Success has already been adjusted to exclude meta-metric points.
// args are the Config.ErrorHandlerArgs.
type ErrorHandler func(err *sender.SendError, args map[string]interface{})

// Decoder splits a registry key into a metric name and tags.
type Decoder func(key string) (string, map[string]string, error)

type Config struct {
	// Registry is drained on every tick. A new registry.Registry is used when nil.
	Registry registry.Dumper
	// Client receives the points. When nil, an HTTP client is created from Token and Endpoint.
	Client   sender.Ingester
	Interval time.Duration
	Token    string
	Endpoint string
	// Prefix is prepended to every metric name.
	Prefix string
	Tags   map[string]string
	// EnvironmentTags have the lowest priority, typically sender.TagsFromEnv(os.LookupEnv).
	EnvironmentTags  map[string]string
	ErrorHandler     ErrorHandler
	ErrorHandlerArgs map[string]interface{}
	// Decoder defaults to sender.DecodeMetric.
	Decoder Decoder
	Logger  *slog.Logger
	// Clock supplies the timestamp of points when none is given.
	Clock func() time.Time
}

type decodedKey struct {
	name string
	tags map[string]string
}

type Reporter struct {
	config   Config
	registry registry.Dumper
	client   sender.Ingester
	tags     map[string]string
	logger   *slog.Logger

	meta             *registry.Registry
	pointsTotal      metrics.Counter
	pointsSuccessful metrics.Counter
	pointsFailed     metrics.Counter
	sendTimer        metrics.Timer

	// decoded caches registry keys for the life of the reporter, it is never evicted
	// so it grows with the number of distinct keys.
	decodedLock sync.RWMutex
	decoded     map[string]decodedKey

	lock    sync.Mutex
	cron    *cron.Cron
	done    chan struct{}
	running bool
}

func New(config Config) (*Reporter, error) {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Interval < time.Second {
		return nil, fmt.Errorf("reporting interval must be at least 1s, got %s", config.Interval)
	}
	if err := sender.ValidateTags(config.Tags); err != nil {
		return nil, err
	}
	if err := sender.ValidateTags(config.EnvironmentTags); err != nil {
		return nil, fmt.Errorf("invalid environment tags: %w", err)
	}
	if config.Registry == nil {
		config.Registry = registry.New()
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = DefaultErrorHandler
	}
	if config.Decoder == nil {
		config.Decoder = sender.DecodeMetric
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "apptuit.reporter")

	client := config.Client
	if client == nil {
		httpClient, err := sender.NewClient(sender.Config{
			Token:    config.Token,
			Endpoint: config.Endpoint,
			Logger:   config.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create client: %w", err)
		}
		client = httpClient
	}

	meta := registry.New()
	return &Reporter{
		config:           config,
		registry:         config.Registry,
		client:           client,
		tags:             sender.MergeTags(config.EnvironmentTags, config.Tags),
		logger:           logger,
		meta:             meta,
		pointsTotal:      meta.Counter(MetricPointsTotal),
		pointsSuccessful: meta.Counter(MetricPointsSuccessful),
		pointsFailed:     meta.Counter(MetricPointsFailed),
		sendTimer:        meta.Timer(MetricSendTime),
		decoded:          map[string]decodedKey{},
	}, nil
}

func (r *Reporter) Registry() registry.Dumper {
	return r.registry
}

// Meta is the registry of the reporter's own meta-metrics.
func (r *Reporter) Meta() *registry.Registry {
	return r.meta
}

func (r *Reporter) Interval() time.Duration {
	return r.config.Interval
}

// Tags are the configured tags merged over the environment tags.
func (r *Reporter) Tags() map[string]string {
	return r.tags
}

// ReportNow runs a single tick, stamping points with timestamp truncated to
// seconds. A zero timestamp means the current time of Config.Clock.
//
// When the registry is empty nothing is sent and no meta-metric changes.
// A *sender.SendError from the client is recorded in the meta-metrics and
// passed to the error handler before being returned. Other errors are
// returned without bookkeeping.
func (r *Reporter) ReportNow(ctx context.Context, timestamp time.Time) error {
	if timestamp.IsZero() {
		timestamp = r.config.Clock().Round(time.Second)
	}
	ts := timestamp.Unix()

	points := r.collect(r.registry, ts)
	r.pointsTotal.Inc(int64(len(points)))
	metaPoints := r.collect(r.meta, ts)
	if len(points) == 0 {
		r.logger.Debug("no metrics to report")
		return nil
	}

	batch := make([]sender.DataPoint, 0, len(points)+len(metaPoints))
	batch = append(batch, points...)
	batch = append(batch, metaPoints...)

	var err error
	r.sendTimer.Time(func() {
		err = r.client.Send(ctx, batch)
	})
	if err == nil {
		// meta points are not counted, matching pointsTotal
		r.pointsSuccessful.Inc(int64(len(points)))
		r.logger.Debug("reported metrics", "points", len(points), "meta_points", len(metaPoints))
		return nil
	}

	var sendErr *sender.SendError
	if !errors.As(err, &sendErr) {
		return err
	}
	// meta points are assumed to always be accepted
	sendErr.Success -= len(metaPoints)
	r.pointsSuccessful.Inc(int64(sendErr.Success))
	r.pointsFailed.Inc(int64(sendErr.Failed))
	r.config.ErrorHandler(sendErr, r.config.ErrorHandlerArgs)
	return err
}

// collect converts a dump of reg into data points stamped with timestamp.
// Keys that cannot be decoded are logged and skipped.
func (r *Reporter) collect(reg registry.Dumper, timestamp int64) []sender.DataPoint {
	metrics := reg.DumpMetrics()
	keys := make([]string, 0, len(metrics))
	for key := range metrics {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var points []sender.DataPoint
	for _, key := range keys {
		name, keyTags, err := r.decode(key)
		if err != nil {
			r.logger.Warn("skipping metric", "key", key, "error", err)
			continue
		}
		tags := ResolveTags(keyTags, r.tags)

		values := metrics[key]
		suffixes := make([]string, 0, len(values))
		for suffix := range values {
			suffixes = append(suffixes, suffix)
		}
		sort.Strings(suffixes)
		for _, suffix := range suffixes {
			points = append(points, sender.DataPoint{
				Metric:    r.config.Prefix + name + "." + suffix,
				Tags:      tags,
				Timestamp: timestamp,
				Value:     values[suffix],
			})
		}
	}
	return points
}

func (r *Reporter) decode(key string) (string, map[string]string, error) {
	r.decodedLock.RLock()
	d, ok := r.decoded[key]
	r.decodedLock.RUnlock()
	if ok {
		return d.name, d.tags, nil
	}

	name, tags, err := r.config.Decoder(key)
	if err != nil {
		return "", nil, err
	}
	r.decodedLock.Lock()
	r.decoded[key] = decodedKey{name: name, tags: tags}
	r.decodedLock.Unlock()
	return name, tags, nil
}

// ResolveTags merges the tags decoded from a registry key over the reporter's tags.
// Key tags are more specific and win on overlapping keys. The result is nil when both are empty.
func ResolveTags(keyTags, reporterTags map[string]string) map[string]string {
	return sender.MergeTags(reporterTags, keyTags)
}

// DefaultErrorHandler writes the failure to stderr.
var DefaultErrorHandler = NewDefaultErrorHandler(os.Stderr)

// NewDefaultErrorHandler returns an ErrorHandler that logs every failure to w
// as a text slog record, followed by the handler args in key order.
func NewDefaultErrorHandler(w io.Writer) ErrorHandler {
	logger := slog.New(slog.NewTextHandler(w, nil))
	return func(err *sender.SendError, args map[string]interface{}) {
		attrs := []any{
			"success", err.Success,
			"failed", err.Failed,
			"status", err.StatusCode,
			"error", err.Error(),
		}
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, k, args[k])
		}
		logger.Error("failed to send points to Apptuit", attrs...)
	}
}

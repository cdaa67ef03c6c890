package sender

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMetricKey  = errors.New("invalid encoded metric key")
	ErrInvalidTimeSeries = errors.New("invalid time series")
)

// EncodeMetric combines a metric name and its tags into a single key that can be used
// as the name of a registry metric, for example
//
//	node.cpu{"type":"idle"}
//
// Tag keys are sorted so equal tag sets always produce the same key.
func EncodeMetric(name string, tags map[string]string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: metric name cannot be empty", ErrInvalidMetricName)
	}
	if tags == nil {
		tags = map[string]string{}
	}
	// encoding/json writes map keys in sorted order
	encoded, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tags of %s: %w", name, err)
	}
	return name + string(encoded), nil
}

// DecodeMetric splits a key produced by EncodeMetric back into the metric name and tags.
// A key without an embedded tag set decodes to the trimmed key and no tags.
func DecodeMetric(key string) (string, map[string]string, error) {
	if key == "" {
		return "", nil, fmt.Errorf("%w: key cannot be empty", ErrInvalidMetricKey)
	}
	braceIndex := strings.IndexByte(key, '{')
	if braceIndex < 0 {
		return strings.TrimSpace(key), map[string]string{}, nil
	}
	tags := map[string]string{}
	if err := json.Unmarshal([]byte(key[braceIndex:]), &tags); err != nil {
		return "", nil, fmt.Errorf("%w: failed to parse %q: %v", ErrInvalidMetricKey, key, err)
	}
	return strings.TrimSpace(key[:braceIndex]), tags, nil
}

// TimeSeries is a metric name and tag set together with its points.
type TimeSeries struct {
	Metric     string
	Tags       map[string]string
	Timestamps []int64
	Values     []float64
}

func NewTimeSeries(metric string, tags map[string]string) (*TimeSeries, error) {
	if metric == "" {
		return nil, fmt.Errorf("%w: metric name cannot be empty", ErrInvalidMetricName)
	}
	for k := range tags {
		if k == "" {
			return nil, fmt.Errorf("%w: tag key cannot be empty", ErrInvalidTags)
		}
	}
	return &TimeSeries{Metric: metric, Tags: tags}, nil
}

func (s *TimeSeries) AddPoint(timestamp int64, value float64) {
	s.Timestamps = append(s.Timestamps, timestamp)
	s.Values = append(s.Values, value)
}

func (s *TimeSeries) Len() int {
	return len(s.Timestamps)
}

func (s *TimeSeries) String() string {
	var b strings.Builder
	b.WriteString(s.Metric)
	b.WriteString("{")
	for i, k := range sortedKeys(s.Tags) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%s", k, s.Tags[k])
	}
	b.WriteString("}")
	return b.String()
}

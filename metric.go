package sender

import (
	"fmt"
	protocol "github.com/influxdata/line-protocol"
	"sort"
	"strings"
	"time"
)

// ValueField is the line protocol field that carries a DataPoint's value.
const ValueField = "value"

// DataPoint is the value of a metric at a specific timestamp.
// It implements protocol.Metric so it can be written with a line protocol encoder.
type DataPoint struct {
	Metric string
	Tags   map[string]string
	// Timestamp is in seconds since the Unix epoch.
	Timestamp int64
	Value     float64
}

// NewDataPoint validates the metric name and tag keys. Tags may be empty here,
// they are merged with a client's global tags when sent.
func NewDataPoint(metric string, tags map[string]string, timestamp int64, value float64) (DataPoint, error) {
	if metric == "" {
		return DataPoint{}, fmt.Errorf("%w: metric name cannot be empty", ErrInvalidMetricName)
	}
	for k := range tags {
		if k == "" {
			return DataPoint{}, fmt.Errorf("%w: tag key cannot be empty", ErrInvalidTags)
		}
	}
	return DataPoint{
		Metric:    metric,
		Tags:      tags,
		Timestamp: timestamp,
		Value:     value,
	}, nil
}

func (p DataPoint) Time() time.Time {
	return time.Unix(p.Timestamp, 0)
}

func (p DataPoint) Name() string {
	return p.Metric
}

func (p DataPoint) TagList() []*protocol.Tag {
	tags := make([]*protocol.Tag, 0, len(p.Tags))
	for _, k := range sortedKeys(p.Tags) {
		tags = append(tags, &protocol.Tag{
			Key:   k,
			Value: p.Tags[k],
		})
	}
	return tags
}

func (p DataPoint) FieldList() []*protocol.Field {
	return []*protocol.Field{{
		Key:   ValueField,
		Value: p.Value,
	}}
}

func (p DataPoint) String() string {
	var b strings.Builder
	b.WriteString(p.Metric)
	b.WriteString("{")
	for i, k := range sortedKeys(p.Tags) {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%s", k, p.Tags[k])
	}
	fmt.Fprintf(&b, ", timestamp: %d, value: %f}", p.Timestamp, p.Value)
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

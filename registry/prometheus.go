package registry

import (
	"fmt"
	sender "github.com/itzg/apptuit-sender"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// PrometheusSource exposes the metric families of a prometheus.Gatherer in
// DumpMetrics form. Labels are embedded in each key with sender.EncodeMetric,
// so a reporter turns them back into tags.
type PrometheusSource struct {
	gatherer      prometheus.Gatherer
	errorListener sender.ErrorListener
}

var _ Dumper = (*PrometheusSource)(nil)

// NewPrometheusSource wraps gatherer. Gather errors are passed to errorListener,
// which may be nil, and whatever families were gathered are still dumped.
func NewPrometheusSource(gatherer prometheus.Gatherer, errorListener sender.ErrorListener) *PrometheusSource {
	return &PrometheusSource{
		gatherer:      gatherer,
		errorListener: errorListener,
	}
}

func (s *PrometheusSource) DumpMetrics() map[string]map[string]float64 {
	families, err := s.gatherer.Gather()
	if err != nil {
		s.reportError(fmt.Errorf("failed to gather: %w", err))
	}

	dump := map[string]map[string]float64{}
	for _, family := range families {
		for _, m := range family.GetMetric() {
			labels := make(map[string]string, len(m.GetLabel()))
			for _, pair := range m.GetLabel() {
				labels[pair.GetName()] = pair.GetValue()
			}
			key, err := sender.EncodeMetric(family.GetName(), labels)
			if err != nil {
				s.reportError(err)
				continue
			}
			if values := familyValues(family.GetType(), m); len(values) > 0 {
				dump[key] = values
			}
		}
	}
	return dump
}

func familyValues(metricType dto.MetricType, m *dto.Metric) map[string]float64 {
	switch metricType {
	case dto.MetricType_COUNTER:
		return map[string]float64{"count": m.GetCounter().GetValue()}
	case dto.MetricType_GAUGE:
		return map[string]float64{"value": m.GetGauge().GetValue()}
	case dto.MetricType_UNTYPED:
		return map[string]float64{"value": m.GetUntyped().GetValue()}
	case dto.MetricType_SUMMARY:
		summary := m.GetSummary()
		values := map[string]float64{
			"count": float64(summary.GetSampleCount()),
			"sum":   summary.GetSampleSum(),
		}
		for _, q := range summary.GetQuantile() {
			values[PercentileKey(q.GetQuantile())] = q.GetValue()
		}
		return values
	case dto.MetricType_HISTOGRAM, dto.MetricType_GAUGE_HISTOGRAM:
		histogram := m.GetHistogram()
		return map[string]float64{
			"count": float64(histogram.GetSampleCount()),
			"sum":   histogram.GetSampleSum(),
		}
	default:
		return nil
	}
}

func (s *PrometheusSource) reportError(err error) {
	if s.errorListener != nil {
		s.errorListener(err)
	}
}

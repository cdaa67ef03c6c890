package registry

import (
	"github.com/rcrowley/go-metrics"
	"strconv"
	"strings"
)

const DefaultReservoirSize = 1028

// Percentiles reported by histograms and timers.
var Percentiles = []float64{0.5, 0.75, 0.95, 0.99, 0.999}

// dumpMetric flattens a snapshot of a go-metrics metric. It returns nil for
// kinds that have no dump form.
func dumpMetric(i interface{}) map[string]float64 {
	switch m := i.(type) {
	case metrics.Counter:
		return map[string]float64{"count": float64(m.Count())}
	case metrics.Gauge:
		return map[string]float64{"value": float64(m.Value())}
	case metrics.GaugeFloat64:
		return map[string]float64{"value": m.Value()}
	case metrics.Meter:
		s := m.Snapshot()
		values := rates(s)
		values["count"] = float64(s.Count())
		return values
	case metrics.Histogram:
		s := m.Snapshot()
		return sampled(s.Count(), float64(s.Sum()), float64(s.Min()), float64(s.Max()),
			s.Mean(), s.StdDev(), s.Percentiles(Percentiles), nil)
	case metrics.Timer:
		s := m.Snapshot()
		values := sampled(s.Count(), float64(s.Sum()), float64(s.Min()), float64(s.Max()),
			s.Mean(), s.StdDev(), s.Percentiles(Percentiles), seconds)
		for k, v := range rates(s) {
			values[k] = v
		}
		return values
	default:
		return nil
	}
}

type rater interface {
	Rate1() float64
	Rate5() float64
	Rate15() float64
	RateMean() float64
}

func rates(r rater) map[string]float64 {
	return map[string]float64{
		"mean_rate": r.RateMean(),
		"1m_rate":   r.Rate1(),
		"5m_rate":   r.Rate5(),
		"15m_rate":  r.Rate15(),
	}
}

// sampled names the statistics of a sample. scale, when not nil, converts every
// value except the count.
func sampled(count int64, sum, min, max, mean, stdDev float64, percentiles []float64,
	scale func(float64) float64) map[string]float64 {
	if scale == nil {
		scale = func(v float64) float64 { return v }
	}
	values := map[string]float64{
		"count":   float64(count),
		"sum":     scale(sum),
		"avg":     scale(mean),
		"min":     scale(min),
		"max":     scale(max),
		"std_dev": scale(stdDev),
	}
	for i, p := range Percentiles {
		values[PercentileKey(p)] = scale(percentiles[i])
	}
	return values
}

// PercentileKey names a percentile value, for example 0.999 becomes "999_percentile".
func PercentileKey(p float64) string {
	return strings.ReplaceAll(strconv.FormatFloat(p*100, 'f', -1, 64), ".", "") + "_percentile"
}

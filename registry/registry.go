// Package registry turns go-metrics registries, and other metric sources, into
// the dump form a reporter drains: a map of metric keys to value names to numbers.
package registry

import (
	"github.com/rcrowley/go-metrics"
	"time"
)

// Dumper is implemented by anything that can be drained by a reporter.
type Dumper interface {
	DumpMetrics() map[string]map[string]float64
}

// Registry is a go-metrics registry that can be dumped. It is safe for concurrent use.
// A name identifies a single metric; asking for an existing name as another kind panics,
// as it does in go-metrics.
type Registry struct {
	metrics.Registry
}

var _ Dumper = (*Registry)(nil)

func New() *Registry {
	return Wrap(metrics.NewRegistry())
}

// Wrap makes an existing go-metrics registry, such as metrics.DefaultRegistry, dumpable.
func Wrap(r metrics.Registry) *Registry {
	return &Registry{Registry: r}
}

func (r *Registry) Counter(name string) metrics.Counter {
	return metrics.GetOrRegisterCounter(name, r.Registry)
}

func (r *Registry) Gauge(name string) metrics.GaugeFloat64 {
	return metrics.GetOrRegisterGaugeFloat64(name, r.Registry)
}

func (r *Registry) Meter(name string) metrics.Meter {
	return metrics.GetOrRegisterMeter(name, r.Registry)
}

// Histogram samples with a uniform reservoir of DefaultReservoirSize.
func (r *Registry) Histogram(name string) metrics.Histogram {
	if h, ok := r.Get(name).(metrics.Histogram); ok {
		return h
	}
	return metrics.GetOrRegisterHistogram(name, r.Registry, metrics.NewUniformSample(DefaultReservoirSize))
}

// Timer records durations, which are dumped in seconds.
func (r *Registry) Timer(name string) metrics.Timer {
	return metrics.GetOrRegisterTimer(name, r.Registry)
}

// DumpMetrics returns the current values of every metric keyed by metric name.
// Kinds without a dump form, such as healthchecks, are left out.
func (r *Registry) DumpMetrics() map[string]map[string]float64 {
	dump := map[string]map[string]float64{}
	r.Each(func(name string, i interface{}) {
		if values := dumpMetric(i); values != nil {
			dump[name] = values
		}
	})
	return dump
}

// Clear unregisters every metric.
func (r *Registry) Clear() {
	r.UnregisterAll()
}

// Multi dumps several sources as one. Keys present in more than one source
// have their value names merged, later sources winning.
type Multi []Dumper

func (m Multi) DumpMetrics() map[string]map[string]float64 {
	dump := map[string]map[string]float64{}
	for _, d := range m {
		for key, values := range d.DumpMetrics() {
			existing, ok := dump[key]
			if !ok {
				existing = make(map[string]float64, len(values))
				dump[key] = existing
			}
			for k, v := range values {
				existing[k] = v
			}
		}
	}
	return dump
}

// seconds converts a timer value from nanoseconds.
func seconds(ns float64) float64 {
	return ns / float64(time.Second)
}

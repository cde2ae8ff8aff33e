// Package metrics records engine counters, gauges and timings through the
// go-metrics global, backed by an in-memory or Prometheus sink.
package metrics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	gometrics "github.com/armon/go-metrics"
	gmprom "github.com/armon/go-metrics/prometheus"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	SinkNone       = "none"
	SinkInmem      = "inmem"
	SinkPrometheus = "prometheus"
)

// Cfg selects the metrics sink. Loaded under the name "metrics".
type Cfg struct {
	Sink        string `mapstructure:"sink"`
	ServiceName string `mapstructure:"serviceName"`

	// InmemIntervalSec and InmemRetainSec size the in-memory sink.
	InmemIntervalSec int `mapstructure:"inmemIntervalSec"`
	InmemRetainSec   int `mapstructure:"inmemRetainSec"`

	// PrometheusExpirationSec drops series not updated for this long. 0 keeps them forever.
	PrometheusExpirationSec int `mapstructure:"prometheusExpirationSec"`
}

// GetName implements config.Config.
func (c *Cfg) GetName() string {
	return "metrics"
}

// Validate implements config.Config.
func (c *Cfg) Validate() error {
	switch strings.ToLower(c.Sink) {
	case "", SinkNone, SinkInmem, SinkPrometheus:
	default:
		return fmt.Errorf("metrics: unknown sink %q", c.Sink)
	}
	if c.InmemIntervalSec < 0 || c.InmemRetainSec < 0 || c.PrometheusExpirationSec < 0 {
		return fmt.Errorf("metrics: durations must not be negative")
	}
	return nil
}

func (c *Cfg) withDefaults() Cfg {
	out := *c
	if out.ServiceName == "" {
		out.ServiceName = "xbee"
	}
	if out.InmemIntervalSec == 0 {
		out.InmemIntervalSec = 10
	}
	if out.InmemRetainSec == 0 {
		out.InmemRetainSec = 60
	}
	return out
}

// Setup installs the global metrics sink described by cfg. Prometheus series
// are registered with the default registerer.
func Setup(cfg *Cfg) (gometrics.MetricSink, error) {
	return SetupWithRegisterer(cfg, prometheus.DefaultRegisterer)
}

// SetupWithRegisterer is Setup with an explicit Prometheus registerer.
func SetupWithRegisterer(cfg *Cfg, reg prometheus.Registerer) (gometrics.MetricSink, error) {
	if cfg == nil {
		cfg = &Cfg{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := cfg.withDefaults()

	var sink gometrics.MetricSink
	switch strings.ToLower(c.Sink) {
	case SinkInmem:
		sink = gometrics.NewInmemSink(time.Duration(c.InmemIntervalSec)*time.Second, time.Duration(c.InmemRetainSec)*time.Second)
	case SinkPrometheus:
		ps, err := gmprom.NewPrometheusSinkFrom(gmprom.PrometheusOpts{
			Expiration: time.Duration(c.PrometheusExpirationSec) * time.Second,
			Registerer: reg,
		})
		if err != nil {
			return nil, fmt.Errorf("metrics: prometheus sink: %w", err)
		}
		sink = ps
	default:
		sink = &gometrics.BlackholeSink{}
	}

	mc := gometrics.DefaultConfig(c.ServiceName)
	mc.EnableHostname = false
	mc.EnableRuntimeMetrics = false
	if _, err := gometrics.NewGlobal(mc, sink); err != nil {
		return nil, fmt.Errorf("metrics: install sink: %w", err)
	}
	return sink, nil
}

func labels(dims Dimension) []gometrics.Label {
	if len(dims) == 0 {
		return nil
	}
	out := make([]gometrics.Label, 0, len(dims))
	for k, v := range dims {
		out = append(out, gometrics.Label{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func key(group, name string) []string {
	return append(strings.Split(group, "."), name)
}

// IncrCounterWithGroup adds v to the counter group.name.
func IncrCounterWithGroup(group, name string, v Value) {
	gometrics.IncrCounter(key(group, name), float32(v))
}

// IncrCounterWithDimGroup adds v to the counter group.name with dimensions.
func IncrCounterWithDimGroup(group, name string, v Value, dims Dimension) {
	gometrics.IncrCounterWithLabels(key(group, name), float32(v), labels(dims))
}

// UpdateGaugeWithGroup sets the gauge group.name.
func UpdateGaugeWithGroup(group, name string, v Value) {
	gometrics.SetGauge(key(group, name), float32(v))
}

// UpdateGaugeWithDimGroup sets the gauge group.name with dimensions.
func UpdateGaugeWithDimGroup(group, name string, v Value, dims Dimension) {
	gometrics.SetGaugeWithLabels(key(group, name), float32(v), labels(dims))
}

// AddSampleWithGroup records one observation of group.name.
func AddSampleWithGroup(group, name string, v Value) {
	gometrics.AddSample(key(group, name), float32(v))
}

// RecordStopwatchWithGroup records the milliseconds elapsed since start.
func RecordStopwatchWithGroup(group, name string, start time.Time) {
	gometrics.MeasureSince(key(group, name), start)
}

// RecordStopwatchWithDimGroup records the milliseconds elapsed since start with dimensions.
func RecordStopwatchWithDimGroup(group, name string, start time.Time, dims Dimension) {
	gometrics.MeasureSinceWithLabels(key(group, name), start, labels(dims))
}

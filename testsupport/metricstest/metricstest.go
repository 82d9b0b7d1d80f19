package metricstest

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Collector provides a meter whose data can be inspected by tests.
type Collector struct {
	reader *sdkmetric.ManualReader
	Meter  metric.Meter
}

func New() *Collector {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return &Collector{reader: reader, Meter: mp.Meter("test")}
}

// Sum returns the total of the int64 counter or gauge name. If attr is given
// only data points carrying this attribute are counted.
func (c *Collector) Sum(t *testing.T, name string, attr ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := c.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			var points []metricdata.DataPoint[int64]
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				points = data.DataPoints
			case metricdata.Gauge[int64]:
				points = data.DataPoints
			default:
				t.Fatalf("metric %s is not an int64 sum or gauge", name)
			}
			for _, dp := range points {
				if matches(dp.Attributes, attr) {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func matches(set attribute.Set, attrs []attribute.KeyValue) bool {
	for _, a := range attrs {
		v, ok := set.Value(a.Key)
		if !ok || v.Emit() != a.Value.Emit() {
			return false
		}
	}
	return true
}

package metrics

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/mpapenbr/forza-session-recorder/log"
)

const meterName = "fsr.ingest"

// Ingest holds the counters of the ingestion pipeline.
type Ingest struct {
	received      metric.Int64Counter
	receiveErrors metric.Int64Counter
	rejected      metric.Int64Counter
	malformed     metric.Int64Counter
	samples       metric.Int64Counter
	sessions      metric.Int64Counter
}

// NewIngest registers the counters with the global meter provider.
// If registration fails, a noop implementation is used.
func NewIngest() *Ingest {
	ret, err := NewIngestWithMeter(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		log.Error("failed to register metrics", log.ErrorField(err))
		ret, _ = NewIngestWithMeter(noop.NewMeterProvider().Meter(meterName))
	}
	return ret
}

//nolint:funlen // readability
func NewIngestWithMeter(meter metric.Meter) (*Ingest, error) {
	ret := &Ingest{}
	type data struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}
	var errs []error
	for _, d := range []*data{
		{&ret.received, "fsr.datagrams.received", "Number of received datagrams"},
		{&ret.receiveErrors, "fsr.datagrams.errors", "Number of failed receive calls"},
		{&ret.rejected, "fsr.datagrams.rejected", "Number of datagrams with wrong length"},
		{&ret.malformed, "fsr.datagrams.malformed", "Number of undecodable datagrams"},
		{&ret.samples, "fsr.samples.recorded", "Number of samples added to sessions"},
		{&ret.sessions, "fsr.sessions", "Number of session lifecycle events"},
	} {
		c, err := meter.Int64Counter(d.name,
			metric.WithDescription(d.desc),
			metric.WithUnit("{count}"))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		*d.target = c
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return ret, nil
}

func (m *Ingest) Received(ctx context.Context) {
	m.received.Add(ctx, 1)
}

func (m *Ingest) ReceiveError(ctx context.Context) {
	m.receiveErrors.Add(ctx, 1)
}

func (m *Ingest) Rejected(ctx context.Context) {
	m.rejected.Add(ctx, 1)
}

func (m *Ingest) Malformed(ctx context.Context) {
	m.malformed.Add(ctx, 1)
}

func (m *Ingest) SampleRecorded(ctx context.Context) {
	m.samples.Add(ctx, 1)
}

func (m *Ingest) SessionStarted(ctx context.Context) {
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", "started")))
}

func (m *Ingest) SessionCommitted(ctx context.Context) {
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", "committed")))
}

func (m *Ingest) SessionFailed(ctx context.Context) {
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", "failed")))
}

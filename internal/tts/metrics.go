package tts

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "github.com/loqalabs/loqa-speak/tts"

type metrics struct {
	sessions   metric.Int64Counter
	cacheHits  metric.Int64Counter
	audioBytes metric.Int64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter(instrumentation)
	sessions, err := meter.Int64Counter("loqa.tts.sessions", metric.WithDescription("Synthesis sessions by outcome"))
	if err != nil {
		return nil, err
	}
	hits, err := meter.Int64Counter("loqa.tts.cache_hits", metric.WithDescription("Requests served from the result cache"))
	if err != nil {
		return nil, err
	}
	bytes, err := meter.Int64Histogram("loqa.tts.audio_bytes", metric.WithDescription("Size of synthesized audio"), metric.WithUnit("By"))
	if err != nil {
		return nil, err
	}
	return &metrics{sessions: sessions, cacheHits: hits, audioBytes: bytes}, nil
}

func (m *metrics) cacheHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.cacheHits.Add(ctx, 1)
}

func (m *metrics) session(ctx context.Context, artifact *Artifact, err error) {
	if m == nil {
		return
	}
	outcome := "completed"
	if err != nil {
		outcome = ErrorKind(err)
	}
	m.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if artifact != nil {
		m.audioBytes.Record(ctx, int64(artifact.Size()))
	}
}

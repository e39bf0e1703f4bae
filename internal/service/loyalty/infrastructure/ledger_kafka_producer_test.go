package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"stampcard/internal/pkg/mq"
	"stampcard/internal/service/loyalty/domain"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestLedgerProducer_PublishStampsCredited(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "scan")
	defer span.End()

	w := &recordingWriter{}
	p := &LedgerKafkaProducer{writer: w}

	event := &domain.StampsCredited{
		EventID:          "evt-1",
		BusinessID:       "cafe",
		MemberID:         "m-1",
		Count:            2,
		NewActiveBalance: 5,
		CreditedAt:       time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.PublishStampsCredited(ctx, event))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "m-1", string(msg.Key))

	var decoded domain.StampsCredited
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, *event, decoded)

	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	assert.Equal(t, eventStampsCredited, carrier.Get(eventTypeHeader))
	assert.NotEmpty(t, carrier.Get("traceparent"))
}

func TestLedgerProducer_PublishStampsExpiredError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	p := &LedgerKafkaProducer{writer: w}

	err := p.PublishStampsExpired(context.Background(), &domain.StampsExpired{SweepID: "s", ExpiredCount: 3})
	assert.ErrorContains(t, err, "leader not available")
}

package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/mq"
	"stampcard/internal/service/loyalty/domain"
)

const (
	LedgerTopic = "stamp-ledger"

	eventTypeHeader     = "event-type"
	eventStampsCredited = "StampsCredited"
	eventStampsExpired  = "StampsExpired"
)

// messageWriter 是 *kafka.Writer 的最小子集，便于测试替换
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// LedgerKafkaProducer 实现了 domain.LedgerPublisher 接口
type LedgerKafkaProducer struct {
	writer messageWriter
}

func NewLedgerKafkaProducer(writer *kafka.Writer) *LedgerKafkaProducer {
	return &LedgerKafkaProducer{writer: writer}
}

// PublishStampsCredited 以会员 ID 为 key，保证同一会员的事件有序
func (p *LedgerKafkaProducer) PublishStampsCredited(ctx context.Context, event *domain.StampsCredited) error {
	return p.publish(ctx, eventStampsCredited, event.MemberID, event)
}

func (p *LedgerKafkaProducer) PublishStampsExpired(ctx context.Context, event *domain.StampsExpired) error {
	return p.publish(ctx, eventStampsExpired, event.SweepID, event)
}

func (p *LedgerKafkaProducer) publish(ctx context.Context, eventType, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "marshal %s event", eventType)
	}

	msg := kafka.Message{
		Key:     []byte(key),
		Value:   eventBytes,
		Headers: []kafka.Header{{Key: eventTypeHeader, Value: []byte(eventType)}},
	}
	mq.InjectTraceContext(ctx, &msg.Headers)

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_type", eventType).Msg("Failed to produce ledger event to Kafka")
		return errors.Wrapf(err, "produce %s event", eventType)
	}
	return nil
}

// Close 关闭底层的 Kafka writer
func (p *LedgerKafkaProducer) Close() error {
	return p.writer.Close()
}

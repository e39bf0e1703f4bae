// internal/service/loyalty/interfaces/kafka_consumer.go
package interfaces

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"stampcard/internal/pkg/logger"
	"stampcard/internal/pkg/mq"
	"stampcard/internal/service/loyalty/domain"
)

const ScanTopic = "stamp-scans"

// ScanEventHandler 是消费者驱动的应用服务入口
type ScanEventHandler interface {
	HandleScanEvent(ctx context.Context, event *domain.ScanRequested) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ScanConsumerAdapter 是一个驱动适配器，它监听 stamp-scans 主题并驱动扫码流程。
type ScanConsumerAdapter struct {
	reader  messageReader
	handler ScanEventHandler
	topic   string
	dlt     deadLetterWriter // 为空时失败消息只记日志

	maxAttempts int
	backoff     time.Duration

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewScanConsumerAdapter 创建一个新的Kafka消费者适配器。
// dlt 不为空时，无法解析或重试耗尽的消息先转发到死信主题再提交位移。
func NewScanConsumerAdapter(reader *kafka.Reader, handler ScanEventHandler, dlt *kafka.Writer) *ScanConsumerAdapter {
	a := &ScanConsumerAdapter{
		reader:      reader,
		handler:     handler,
		topic:       reader.Config().Topic,
		maxAttempts: 3,
		backoff:     500 * time.Millisecond,
	}
	if dlt != nil {
		a.dlt = dlt
	}
	return a
}

// Start 开始监听Kafka主题，消息在后台协程中逐条处理。
func (a *ScanConsumerAdapter) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.topic).Msg("✅ Kafka Consumer Adapter started.")
		for {
			// 使用 FetchMessage 而不是 ReadMessage，处理完成后再手动提交
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 Kafka Consumer Adapter shutting down.")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second): // 避免快速失败循环
				}
				continue
			}

			if err := a.processMessage(ctx, msg); err != nil {
				// 关停中断的消息和写不进死信的消息都不提交，重启后重新投递
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("🛑 Kafka Consumer Adapter shutting down.")
					return
				}
				if err := a.deadLetter(ctx, msg, err); err != nil {
					logger.Ctx(ctx).Info().Msg("🛑 Kafka Consumer Adapter shutting down.")
					return
				}
			}

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit message")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *ScanConsumerAdapter) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if err := a.reader.Close(); err != nil {
		logger.Ctx(context.Background()).Error().Err(err).Msg("failed to close kafka reader")
	}
	if a.dlt != nil {
		if err := a.dlt.Close(); err != nil {
			logger.Ctx(context.Background()).Error().Err(err).Msg("failed to close dead letter writer")
		}
	}
	logger.Ctx(context.Background()).Info().Msg("✅ Kafka Consumer Adapter stopped.")
}

// processMessage 反序列化消息并调用应用服务。
// 处理失败会有限次重试；EventID 作为幂等键，重复投递不会重复发放。
// 返回错误表示消息无法处理，应转入死信。
func (a *ScanConsumerAdapter) processMessage(parentCtx context.Context, msg kafka.Message) error {
	var event domain.ScanRequested
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		logger.Ctx(parentCtx).Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to unmarshal scan event")
		return err
	}

	ctx := mq.ExtractTraceContext(parentCtx, msg.Headers)

	for attempt := 1; ; attempt++ {
		err := a.handler.HandleScanEvent(ctx, &event)
		if err == nil {
			return nil
		}
		if attempt >= a.maxAttempts || ctx.Err() != nil {
			logger.Ctx(ctx).Error().Err(err).
				Str("event_id", event.EventID).
				Int("attempts", attempt).
				Msg("giving up on scan event")
			return err
		}
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", event.EventID).Int("attempt", attempt).Msg("scan event failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.backoff * time.Duration(attempt)):
		}
	}
}

// deadLetter 把无法处理的消息转发到死信主题，写入失败时按退避一直重试。
// 只有 ctx 结束时才返回错误，此时调用方不能提交位移。
func (a *ScanConsumerAdapter) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	if a.dlt == nil {
		logger.Ctx(ctx).Error().Err(cause).Int64("offset", msg.Offset).Msg("🚨 scan event dropped, no dead letter topic configured")
		return nil
	}
	dead := mq.NewDeadLetterMessage(msg, cause)
	for attempt := 1; ; attempt++ {
		err := a.dlt.WriteMessages(ctx, dead)
		if err == nil {
			logger.Ctx(ctx).Warn().Err(cause).Int64("offset", msg.Offset).Msg("scan event moved to dead letter topic")
			return nil
		}
		logger.Ctx(ctx).Error().Err(err).Int64("offset", msg.Offset).Int("attempt", attempt).Msg("failed to write dead letter")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.backoff * time.Duration(attempt)):
		}
	}
}

package outcome

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"github.com/quantpulse/trading-engine/internal/observ"
)

// KafkaPublisher decorates a Store: every saved outcome is also published to a
// Kafka topic for downstream consumers (analytics, alerting). Publish failures
// are logged and swallowed so a broker outage never blocks the trading loop;
// the inner store remains the source of truth.
type KafkaPublisher struct {
	inner  Store
	writer *kafka.Writer
}

func NewKafkaPublisher(inner Store, brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		inner: inner,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *KafkaPublisher) Save(ctx context.Context, o TradeOutcome) error {
	if err := p.inner.Save(ctx, o); err != nil {
		return err
	}

	payload, err := json.Marshal(o)
	if err != nil {
		observ.Warn("outcome_publish_marshal_failed", map[string]any{
			"symbol": o.Symbol, "error": err.Error(),
		})
		return nil
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(o.Symbol),
		Value: payload,
	}); err != nil {
		observ.Warn("outcome_publish_failed", map[string]any{
			"symbol": o.Symbol, "error": err.Error(),
		})
	}
	return nil
}

func (p *KafkaPublisher) QueryRecent(ctx context.Context, symbol string, limit int) ([]TradeOutcome, error) {
	return p.inner.QueryRecent(ctx, symbol, limit)
}

func (p *KafkaPublisher) Close() error {
	werr := p.writer.Close()
	if err := p.inner.Close(); err != nil {
		return err
	}
	return werr
}

var _ Store = (*KafkaPublisher)(nil)

package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/efreitasn/predictbook/internal/events"
)

// maxBatch bounds how many queued events are written in one call.
const maxBatch = 100

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every event to a Kafka topic as a JSON envelope
// keyed by market ID, so one market's events stay ordered within a
// partition.
type KafkaSink struct {
	writer       MessageWriter
	writeTimeout time.Duration
	logger       *zap.Logger
}

// NewKafkaWriter creates a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// NewKafkaSink creates a sink writing through w.
func NewKafkaSink(w MessageWriter, logger *zap.Logger) *KafkaSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KafkaSink{
		writer:       w,
		writeTimeout: 5 * time.Second,
		logger:       logger.Named("kafka"),
	}
}

// Run writes events until ctx is done or the channel is closed, then
// closes the writer. Write failures are logged and the batch is dropped.
func (s *KafkaSink) Run(ctx context.Context, evs <-chan events.Event) {
	defer func() {
		if err := s.writer.Close(); err != nil {
			s.logger.Warn("close writer", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			batch := []events.Event{ev}
		drain:
			for len(batch) < maxBatch {
				select {
				case next, ok := <-evs:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			s.write(ctx, batch)
		}
	}
}

func (s *KafkaSink) write(ctx context.Context, batch []events.Event) {
	msgs, err := Messages(batch)
	if err != nil {
		s.logger.Error("encode events", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.logger.Error("write events",
			zap.Int("count", len(msgs)),
			zap.Error(err),
		)
	}
}

// Messages encodes events as Kafka messages.
func Messages(evs []events.Event) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		value, err := json.Marshal(events.Wrap(ev))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.Market()),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(ev.EventType())},
			},
		})
	}
	return msgs, nil
}

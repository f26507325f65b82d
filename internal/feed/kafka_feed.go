package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/segmentio/kafka-go"
)

// UpdatesTopic is the default Kafka topic carrying decoded updates.
const UpdatesTopic = "book-updates"

// KafkaConfig locates the topic a KafkaFeed consumes.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string // empty reads the partition without committing offsets
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// KafkaFeed consumes domain.BookUpdate JSON messages from a Kafka topic and
// forwards them to a BookSink. Like BusFeed it leaves the venue connection
// to a gateway process, but keeps updates durable while the daemon restarts.
type KafkaFeed struct {
	reader messageReader
	topic  string
	sink   BookSink
	logger *slog.Logger
}

// NewKafkaFeed creates a consumer for cfg.
func NewKafkaFeed(cfg KafkaConfig, sink BookSink, logger *slog.Logger) *KafkaFeed {
	if cfg.Topic == "" {
		cfg.Topic = UpdatesTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return newKafkaFeed(reader, cfg.Topic, sink, logger)
}

func newKafkaFeed(reader messageReader, topic string, sink BookSink, logger *slog.Logger) *KafkaFeed {
	return &KafkaFeed{
		reader: reader,
		topic:  topic,
		sink:   sink,
		logger: logger.With(slog.String("component", "kafka_feed")),
	}
}

// Run reads the topic until ctx is cancelled or the reader fails.
func (f *KafkaFeed) Run(ctx context.Context) error {
	defer f.reader.Close()
	f.logger.Info("kafka feed started", slog.String("topic", f.topic))
	defer f.logger.Info("kafka feed stopped")

	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("feed: kafka read %s: %w", f.topic, err)
		}
		if err := dispatchUpdate(ctx, f.sink, msg.Value); err != nil {
			f.logger.Debug("kafka feed handle message failed",
				slog.String("error", err.Error()),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
			)
		}
	}
}

package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/observability"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier writes order confirmations to a Kafka topic keyed by order id.
type KafkaNotifier struct {
	writer messageWriter
	clock  func() time.Time
}

// NewKafkaWriter builds the production writer for the topic.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka notifier: brokers are required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka notifier: topic is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		BatchTimeout:           50 * time.Millisecond,
		Logger:                 observability.NewPrintfAdapter(logger.Named("kafka")),
		ErrorLogger:            observability.NewWarnPrintfAdapter(logger.Named("kafka")),
	}, nil
}

// NewKafkaNotifier wraps a writer. Close releases it.
func NewKafkaNotifier(writer messageWriter, clock func() time.Time) (*KafkaNotifier, error) {
	if writer == nil {
		return nil, errors.New("kafka notifier: writer is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &KafkaNotifier{writer: writer, clock: clock}, nil
}

// SendOrderConfirmation writes one message and returns once the brokers acknowledge it.
func (k *KafkaNotifier) SendOrderConfirmation(ctx context.Context, order domain.Order) error {
	now := k.clock()
	data, err := encode(NewOrderConfirmation(order, now))
	if err != nil {
		return err
	}
	attrs := attributes(order)
	keys := make([]string, 0, len(attrs))
	for key := range attrs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	headers := make([]kafka.Header, 0, len(keys))
	for _, key := range keys {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(attrs[key])})
	}

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(order.ID),
		Value:   data,
		Headers: headers,
		Time:    now.UTC(),
	})
	if err != nil {
		return fmt.Errorf("write order confirmation: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

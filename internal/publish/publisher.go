// Package publish sends settled order results to Kafka.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/ctpbridge/internal/order"
)

// schemaVersion is carried in the "schema" header of every message.
const schemaVersion = 1

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per settled order. It implements
// order.Publisher.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

var _ order.Publisher = (*Publisher)(nil)

// NewPublisher creates a synchronous publisher that waits for all in-sync
// replicas to acknowledge each message.
func NewPublisher(brokers []string, topic string, logger *slog.Logger) *Publisher {
	return newPublisher(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchTimeout: 10 * time.Millisecond,
	}, topic, logger)
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		writer: w,
		topic:  topic,
		logger: logger.With("component", "fill_publisher", "topic", topic),
	}
}

// Publish writes res keyed by its order ref, so every result for one order
// lands on the same partition.
func (p *Publisher) Publish(ctx context.Context, res order.FillResult) error {
	msg, err := buildMessage(res, time.Now())
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", res.OrderRef, err)
	}
	p.logger.Debug("published fill result", "order_ref", res.OrderRef, "status", res.Status)
	return nil
}

// Close flushes pending writes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func buildMessage(res order.FillResult, now time.Time) (kafka.Message, error) {
	value, err := json.Marshal(res)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal fill result %s: %w", res.OrderRef, err)
	}
	return kafka.Message{
		Key:   []byte(res.OrderRef),
		Value: value,
		Time:  now,
		Headers: []kafka.Header{
			{Key: "schema", Value: []byte(strconv.Itoa(schemaVersion))},
			{Key: "contract", Value: []byte(res.Contract)},
			{Key: "status", Value: []byte(res.Status)},
		},
	}, nil
}

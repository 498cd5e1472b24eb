package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/StrathCole/cfd-oracle/pkg/attestation"
)

// MessageWriter is the part of *kafka.Writer used by KafkaPublisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends consensus prices to a topic keyed by instrument, so
// all rounds of one instrument land in one partition in round order.
type KafkaPublisher struct {
	writer MessageWriter
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaWriter creates a hash-balanced writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// NewKafkaPublisher creates a Kafka publisher.
func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// Name implements Publisher.
func (p *KafkaPublisher) Name() string {
	return "kafka"
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, price attestation.ConsensusPrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("marshal consensus price: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(price.InstrumentID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "round_id", Value: []byte(strconv.FormatUint(price.RoundID, 10))},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close shuts down the Kafka writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

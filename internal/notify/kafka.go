package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
)

var newSyncProducer = sarama.NewSyncProducer

// KafkaPublisher writes events to a topic for downstream consumers.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher returns nil, nil when Kafka is not configured.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || strings.TrimSpace(topic) == "" {
		return nil, nil
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 0

	p, err := newSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(p, topic), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

// Notify publishes ev keyed by request id, so events of one request stay ordered.
func (k *KafkaPublisher) Notify(_ context.Context, ev Event) error {
	if k == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return Permanent(fmt.Errorf("marshal event: %w", err))
	}
	key := ev.RequestID
	if key == "" {
		key = ev.Recipient
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close closes the producer.
func (k *KafkaPublisher) Close() error {
	if k == nil {
		return nil
	}
	return k.producer.Close()
}

var _ Notifier = (*KafkaPublisher)(nil)

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes bonus lifecycle events keyed by player, so every
// event of one player lands on the same partition in order.
type KafkaPublisher struct {
	writer       *kafka.Writer
	defaultTopic string
	topicByEvent map[string]string
}

func NewKafkaPublisher(brokers []string, defaultTopic string, topicByEvent map[string]string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka publisher requires at least one broker")
	}
	if defaultTopic == "" {
		return nil, fmt.Errorf("kafka publisher requires a default topic")
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		defaultTopic: defaultTopic,
		topicByEvent: topicByEvent,
	}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error {
	return p.writer.WriteMessages(ctx, p.message(eventType, payload, partitionKey))
}

func (p *KafkaPublisher) message(eventType string, payload []byte, partitionKey string) kafka.Message {
	topic := p.defaultTopic
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		topic = mapped
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(partitionKey),
		Value:   payload,
		Headers: []kafka.Header{{Key: "event_type", Value: []byte(eventType)}},
		Time:    time.Now().UTC(),
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

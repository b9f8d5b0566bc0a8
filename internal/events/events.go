// Package events publishes chat domain events for consumers outside the
// realtime path, such as push notification or analytics services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Type string

const (
	MessageSent    Type = "message.sent"
	MessageDeleted Type = "message.deleted"
)

type Event struct {
	Type           Type      `json:"type"`
	ConversationId string    `json:"conversationId"`
	MessageId      string    `json:"messageId"`
	SenderId       string    `json:"senderId,omitempty"`
	ReceiverId     string    `json:"receiverId"`
	Kind           string    `json:"kind,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a single topic keyed by conversation
// id, so events of one conversation land on one partition in order.
type KafkaPublisher struct {
	log    *zap.SugaredLogger
	writer messageWriter
}

func NewKafkaPublisher(logger *zap.SugaredLogger, brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers cannot be empty")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic cannot be empty")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		// sends must not wait on the broker
		Async: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warnw("failed to deliver events", "count", len(msgs), "error", err)
			}
		},
	}

	return &KafkaPublisher{log: logger, writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	msg, err := toMessage(e)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}

	p.log.Debugw("published event", "type", e.Type, "conversation_id", e.ConversationId)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func toMessage(e Event) (kafka.Message, error) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(e.ConversationId),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}, nil
}

// Noop discards events. It is used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error { return nil }

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaRepo appends audit events to a Kafka topic, keyed by customer id so one
// customer's transitions stay ordered within a partition.
type KafkaRepo struct {
	w *kafka.Writer
}

func NewKafkaRepo(brokers []string, topic string) (*KafkaRepo, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("audit: kafka brokers and topic required")
	}
	return &KafkaRepo{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}, nil
}

func (r *KafkaRepo) Append(ctx context.Context, e Event) error {
	msg, err := encodeMessage(e)
	if err != nil {
		return err
	}
	return r.w.WriteMessages(ctx, msg)
}

func (r *KafkaRepo) Close() error {
	return r.w.Close()
}

func encodeMessage(e Event) (kafka.Message, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	key := e.CustomerID
	if key == "" {
		key = e.ActorUserID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: b,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}, nil
}

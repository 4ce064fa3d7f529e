package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/mkorchagin/offline-shop/internal/models"
)

// EventProducer publishes order lifecycle events. A nil producer is valid and
// publishes nothing, so the broker stays optional in dev and tests.
type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	if len(brokers) == 0 {
		return nil
	}
	return &EventProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

type orderCreatedEvent struct {
	OrderID        string          `json:"orderId"`
	ClientActionID string          `json:"clientActionId"`
	UserID         string          `json:"userId"`
	TotalPrice     decimal.Decimal `json:"totalPrice"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (p *EventProducer) PublishOrderCreated(ctx context.Context, order *models.Order) error {
	if p == nil {
		return nil
	}

	data, err := json.Marshal(orderCreatedEvent{
		OrderID:        order.ID.String(),
		ClientActionID: order.ClientActionID,
		UserID:         order.UserID,
		TotalPrice:     order.TotalPrice,
		Status:         order.Status,
		CreatedAt:      order.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(order.ID.String()),
		Value: data,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write message: %w", err)
	}
	return nil
}

func (p *EventProducer) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

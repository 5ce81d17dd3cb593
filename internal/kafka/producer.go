package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"posterly/internal/models"
)

type Producer struct {
	Writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{Writer: writer}
}

// Publish writes a single message to the given topic.
func (p *Producer) Publish(topic string, key string, value []byte) error {
	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

type orderEvent struct {
	OrderID        string    `json:"order_id"`
	ConfirmationID string    `json:"confirmation_id"`
	BuyerEmail     string    `json:"buyer_email"`
	Amount         float64   `json:"amount"`
	Timestamp      time.Time `json:"timestamp"`
}

// PublishOrderConfirmed streams the order confirmation event.
func (p *Producer) PublishOrderConfirmed(order models.Order) error {
	msgBytes, err := json.Marshal(orderEvent{
		OrderID:        order.OrderID,
		ConfirmationID: order.ConfirmationID,
		BuyerEmail:     order.BuyerEmail,
		Amount:         order.Amount,
		Timestamp:      time.Now(),
	})
	if err != nil {
		return err
	}
	return p.Publish(TopicOrderConfirmed, order.OrderID, msgBytes)
}

// PublishCheckoutAbandoned streams a session-expiry or explicit-cancel event.
func (p *Producer) PublishCheckoutAbandoned(session models.CheckoutSession) error {
	msgBytes, err := json.Marshal(map[string]interface{}{
		"confirmation_id": session.ConfirmationID,
		"buyer_email":     session.BuyerEmail,
		"amount":          session.Amount,
		"timestamp":       time.Now(),
	})
	if err != nil {
		return err
	}
	return p.Publish(TopicCheckoutAbandoned, session.ConfirmationID, msgBytes)
}

// PublishEditionSold streams one committed edition allocation.
func (p *Producer) PublishEditionSold(alloc models.EditionAllocation) error {
	msgBytes, err := json.Marshal(alloc)
	if err != nil {
		return err
	}
	return p.Publish(TopicEditionSold, alloc.ArtifactID, msgBytes)
}

// PublishCreditConsumed streams a metered generation.
func (p *Producer) PublishCreditConsumed(email string, unlimited bool) error {
	msgBytes, err := json.Marshal(map[string]interface{}{
		"email":     email,
		"unlimited": unlimited,
		"timestamp": time.Now(),
	})
	if err != nil {
		return err
	}
	return p.Publish(TopicCreditConsumed, email, msgBytes)
}

// PublishSubscriptionUpdated streams subscription lifecycle changes.
func (p *Producer) PublishSubscriptionUpdated(email string, status string, cancelAtPeriodEnd bool) error {
	msgBytes, err := json.Marshal(map[string]interface{}{
		"email":                email,
		"status":               status,
		"cancel_at_period_end": cancelAtPeriodEnd,
		"timestamp":            time.Now(),
	})
	if err != nil {
		return err
	}
	return p.Publish(TopicSubscriptionUpdated, email, msgBytes)
}

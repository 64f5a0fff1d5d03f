// Package notify publishes appointment lifecycle events for downstream
// consumers (reminder sender, dashboard refresh). Publishing is best-effort:
// a failed publish is logged and counted, it never rolls back the domain
// change that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	EventAppointmentBooked    = "appointment.booked"
	EventAppointmentConfirmed = "appointment.confirmed"
	EventAppointmentCancelled = "appointment.cancelled"

	queueName = "appointment_events"
)

type Publisher interface {
	Publish(ctx context.Context, event string, payload any) error
}

type amqpPublisher struct {
	ch  *amqp.Channel
	log *zap.Logger
}

// NewAMQPPublisher declares the durable event queue and returns a publisher
// bound to it.
func NewAMQPPublisher(conn *amqp.Connection, log *zap.Logger) (Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	return &amqpPublisher{ch: ch, log: log}, nil
}

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

func (p *amqpPublisher) Publish(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}

	err = p.ch.PublishWithContext(ctx,
		"",        // default exchange
		queueName, // routing key
		false,     // mandatory
		false,     // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event, err)
	}

	p.log.Debug("published lifecycle event", zap.String("event", event))
	return nil
}

// NopPublisher is used when AMQP is not configured (tests, local dev).
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) error { return nil }

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/models"
)

const routingKeyTransactionCompleted = "transaction.completed"

// Publisher announces completed ledger transactions on a topic exchange.
type Publisher struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	logger     *logrus.Entry
}

// TransactionEvent is the wire shape of a completed-transaction announcement.
// Amounts travel as decimal strings.
type TransactionEvent struct {
	TransactionID       string    `json:"transaction_id"`
	UserID              string    `json:"user_id"`
	Type                string    `json:"type"`
	BaseCurrency        string    `json:"base_currency"`
	BaseAmount          string    `json:"base_amount"`
	DestinationCurrency string    `json:"destination_currency"`
	DestinationAmount   string    `json:"destination_amount"`
	Rate                string    `json:"rate"`
	CreatedAt           time.Time `json:"created_at"`
	Timestamp           time.Time `json:"timestamp"`
}

// connectWithRetry dials RabbitMQ with exponential backoff.
func connectWithRetry(url string, maxRetries int, retryDelay time.Duration, logger *logrus.Entry) (*amqp.Connection, error) {
	for i := 0; i < maxRetries; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("Connected to RabbitMQ")
			return conn, nil
		}

		if i < maxRetries-1 {
			wait := retryDelay * time.Duration(1<<uint(i))
			logger.WithError(err).Warnf("Failed to connect to RabbitMQ (attempt %d/%d), retrying in %v", i+1, maxRetries, wait)
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d retries", maxRetries)
}

// NewPublisher connects to RabbitMQ and declares the events exchange.
func NewPublisher(url, exchange string, maxRetries int, retryDelay time.Duration) (*Publisher, error) {
	logger := logrus.WithField("component", "event_publisher")

	conn, err := connectWithRetry(url, maxRetries, retryDelay, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		connection: conn,
		channel:    ch,
		exchange:   exchange,
		logger:     logger,
	}, nil
}

// PublishTransactionCompleted publishes a completed-transaction event.
func (p *Publisher) PublishTransactionCompleted(ctx context.Context, txn *models.Transaction) error {
	event := &TransactionEvent{
		TransactionID:       txn.TransactionID,
		UserID:              txn.UserID,
		Type:                txn.Type,
		BaseCurrency:        txn.BaseCurrency,
		BaseAmount:          txn.BaseAmount.String(),
		DestinationCurrency: txn.DestinationCurrency,
		DestinationAmount:   txn.DestinationAmount.String(),
		Rate:                txn.Rate.String(),
		CreatedAt:           txn.CreatedAt,
		Timestamp:           time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKeyTransactionCompleted,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish transaction event: %w", err)
	}

	p.logger.WithField("transaction_id", txn.TransactionID).Debug("Published transaction.completed event")
	return nil
}

// Close closes the channel and connection.
func (p *Publisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.connection != nil {
		return p.connection.Close()
	}
	return nil
}

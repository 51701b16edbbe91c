package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// JSONContentType is the content type of job envelopes
const JSONContentType = "application/json"

const defaultPublishRetries = 3

// PublishJob publishes a persistent job envelope.
// messageID becomes the AMQP message-id so consumers can correlate redeliveries.
func (c *Client) PublishJob(ctx context.Context, messageID string, body []byte) error {
	return c.PublishWithRetry(ctx, amqp.Publishing{
		MessageId:    messageID,
		ContentType:  JSONContentType,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	})
}

// PublishWithRetry publishes msg with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, msg amqp.Publishing) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = defaultPublishRetries
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.channel.PublishWithContext(
			ctx,
			c.config.ExchangeName, // exchange
			c.config.RoutingKey,   // routing key
			false,                 // mandatory
			false,                 // immediate
			msg,
		)
		if err == nil {
			c.logger.Debug("Job published to RabbitMQ",
				slog.String("message_id", msg.MessageId),
				slog.Int("attempt", attempt+1),
				slog.Int("body_size", len(msg.Body)),
			)
			return nil
		}

		lastErr = err
		if attempt == maxRetries {
			break
		}

		delay := backoffDelay(c.config.PublishRetryDelay, c.config.PublishBackoffMult, attempt)
		c.logger.Warn("Failed to publish job, retrying",
			slog.String("message_id", msg.MessageId),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", maxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		}
	}

	c.logger.Error("Failed to publish job after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.String("message_id", msg.MessageId),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// backoffDelay returns base * mult^attempt, with defaults of 100ms and 2
func backoffDelay(base time.Duration, mult float64, attempt int) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if mult <= 0 {
		mult = 2.0
	}

	delay := float64(base)
	for i := 0; i < attempt; i++ {
		delay *= mult
	}
	return time.Duration(delay)
}

// Package queue consumes job submissions from an AMQP queue.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/snarg/clip-engine/internal/batch"
)

// Submitter queues a request.
type Submitter interface {
	SubmitRequest(ctx context.Context, req batch.Request) (batch.Result, error)
}

// Consumer reads submissions from a durable queue, one unacked message at
// a time. A message is acked once queued, nacked with requeue when the job
// queue is full, and rejected when it cannot be parsed. When the queue fills
// part way through a message, its unqueued sources are republished as a new
// message for the same run.
type Consumer struct {
	url   string
	queue string
	sub   Submitter
	log   zerolog.Logger
}

func NewConsumer(amqpURL, queueName string, sub Submitter, log zerolog.Logger) *Consumer {
	return &Consumer{url: amqpURL, queue: queueName, sub: sub, log: log}
}

// Run consumes until ctx is done, reconnecting with backoff when the broker
// connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			b.Reset()
			return errors.New("delivery channel closed")
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("amqp consumer disconnected")
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connect to amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queue, "clip-engine", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.log.Info().Str("queue", c.queue).Msg("amqp consumer started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handle(ctx, d, c.publisher(ch))
		}
	}
}

// Acknowledger is the subset of amqp.Delivery the handler needs.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
	Reject(requeue bool) error
}

// publishFunc puts a request back on the queue.
type publishFunc func(ctx context.Context, req batch.Request) error

func (c *Consumer) publisher(ch *amqp.Channel) publishFunc {
	return func(ctx context.Context, req batch.Request) error {
		body, err := json.Marshal(req)
		if err != nil {
			return err
		}
		return ch.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	}
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, pub publishFunc) {
	c.process(ctx, d.Body, &d, d.MessageId, pub)
}

func (c *Consumer) process(ctx context.Context, body []byte, ack Acknowledger, msgID string, pub publishFunc) {
	log := c.log.With().Str("message_id", msgID).Logger()
	req, err := batch.ParseRequest(body)
	if err != nil {
		log.Warn().Err(err).Msg("rejecting unparseable submission")
		ack.Reject(false)
		return
	}

	res, err := c.sub.SubmitRequest(ctx, req)
	switch {
	case errors.Is(err, batch.ErrQueueFull) && len(res.JobIDs) == 0:
		// nothing was queued; let the broker redeliver later
		log.Warn().Msg("job queue full, requeueing submission")
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		ack.Nack(false, true)
	case errors.Is(err, batch.ErrQueueFull) && len(res.Pending) > 0:
		rest := batch.Request{RunID: res.RunID, Sources: res.Pending}
		if perr := pub(ctx, rest); perr != nil {
			// redelivery repeats the sources already queued
			log.Error().Err(perr).Msg("republish failed, requeueing whole submission")
			ack.Nack(false, true)
			return
		}
		log.Warn().
			Str("run_id", res.RunID).
			Int("queued", len(res.JobIDs)).
			Int("republished", len(res.Pending)).
			Msg("job queue full, republished unqueued sources")
		ack.Ack(false)
	case err != nil:
		log.Warn().Err(err).Int("queued", len(res.JobIDs)).Msg("submission failed")
		ack.Reject(false)
	default:
		log.Info().
			Str("run_id", res.RunID).
			Int("jobs", len(res.JobIDs)).
			Int("rejected", len(res.Errors)).
			Msg("amqp submission queued")
		ack.Ack(false)
	}
}

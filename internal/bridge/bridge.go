// Package bridge delivers named events to UI subscribers over an in-process
// watermill pub/sub. Every channel is a topic; payloads are JSON.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	metadataChannel = "channel"

	// DefaultQueueSize is the number of events buffered per subscriber.
	DefaultQueueSize = 256
)

// Event is a payload received on a channel.
type Event struct {
	ID      string          `json:"id"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type Bus struct {
	pubsub    *gochannel.GoChannel
	queueSize int
	logger    *slog.Logger
}

// NewBus creates a bus with DefaultQueueSize.
func NewBus(logger *slog.Logger) *Bus {
	return NewBusWithQueue(logger, DefaultQueueSize)
}

// NewBusWithQueue creates a bus buffering up to queueSize events per
// subscriber. Each subscriber sees the events of a channel in publish order.
// Events published while nobody subscribes are dropped. A subscriber whose
// queue is full is unsubscribed and its channel closed, publishers never
// wait on a slow reader.
func NewBusWithQueue(logger *slog.Logger, queueSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NewSlogLogger(logger)),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Emit publishes payload, encoded as JSON, on channel. Nothing is published
// once ctx is done.
func (b *Bus) Emit(ctx context.Context, channel string, payload any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publishing on %s: %w", channel, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", channel, err)
	}
	msg := message.NewMessage(watermill.NewUUID(), data)
	msg.Metadata.Set(metadataChannel, channel)
	if err := b.pubsub.Publish(channel, msg); err != nil {
		return fmt.Errorf("publishing on %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns the events of channel until ctx is done or the
// subscriber falls more than the queue size behind. The returned channel is
// closed afterwards.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan Event, error) {
	sctx, cancel := context.WithCancel(ctx)
	msgs, err := b.pubsub.Subscribe(sctx, channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribing to %s: %w", channel, err)
	}

	queue := make(chan Event, b.queueSize)
	// messages are acked as soon as they are queued
	go func() {
		defer close(queue)
		overflow := false
		for msg := range msgs {
			msg.Ack()
			if overflow {
				continue
			}
			ev := Event{
				ID:      msg.UUID,
				Channel: msg.Metadata.Get(metadataChannel),
				Payload: json.RawMessage(msg.Payload),
			}
			select {
			case queue <- ev:
			default:
				overflow = true
				b.logger.WarnContext(ctx, "subscriber too slow, dropping it", "channel", channel, "queue", b.queueSize)
				cancel()
			}
		}
	}()

	out := make(chan Event)
	go func() {
		defer close(out)
		defer cancel()
		for ev := range queue {
			select {
			case out <- ev:
			case <-sctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops the bus; later Emit calls fail.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const relayChannel = "peercall:relay"

// relayEvent is one relay frame addressed to a participant held by some
// other signaling instance.
type relayEvent struct {
	InstanceID string               `json:"instance_id"`
	Target     domain.ParticipantID `json:"target"`
	Frame      json.RawMessage      `json:"frame"`
}

// EventBus fans relay frames out over Redis pub/sub. Frames published by
// this instance are not delivered back to it.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
}

func NewEventBus(client *redis.Client, instanceID string, logger *zap.SugaredLogger) ports.RelayBus {
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    relayChannel,
		logger:     logger,
	}
}

func (eb *EventBus) Publish(ctx context.Context, target domain.ParticipantID, frame []byte) error {
	data, err := encodeEvent(eb.instanceID, target, frame)
	if err != nil {
		return err
	}
	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish relay frame: %w", err)
	}

	eb.logger.Debugw("published relay frame", "target", target)
	return nil
}

func (eb *EventBus) Subscribe(ctx context.Context, deliver func(target domain.ParticipantID, frame []byte)) error {
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	defer pubsub.Close()

	// the subscription is live once Receive returns the confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", eb.channel, err)
	}
	eb.logger.Infow("subscribed to relay channel", "channel", eb.channel, "instance_id", eb.instanceID)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, deliver)
		}
	}
}

func (eb *EventBus) dispatch(payload string, deliver func(domain.ParticipantID, []byte)) {
	event, err := decodeEvent(payload)
	if err != nil {
		eb.logger.Warnw("failed to unmarshal relay frame", "error", err)
		return
	}
	if event.InstanceID == eb.instanceID {
		return
	}
	deliver(event.Target, event.Frame)
}

func encodeEvent(instanceID string, target domain.ParticipantID, frame []byte) ([]byte, error) {
	if !json.Valid(frame) {
		return nil, fmt.Errorf("%w: relay frame is not JSON", domain.ErrInvalidMessage)
	}
	data, err := json.Marshal(relayEvent{InstanceID: instanceID, Target: target, Frame: frame})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal relay frame: %w", err)
	}
	return data, nil
}

func decodeEvent(payload string) (relayEvent, error) {
	var event relayEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return relayEvent{}, err
	}
	if event.Target == "" {
		return relayEvent{}, fmt.Errorf("%w: relay frame without target", domain.ErrInvalidMessage)
	}
	return event, nil
}

package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/squestapp/squest/server/config"
)

// ErrDeadToken is returned when the push service no longer accepts the
// device token; the device should be forgotten.
var ErrDeadToken = errors.New("device token no longer valid")

// Message is one alert.
type Message struct {
	Title string
	Body  string
	// Kind lands in the payload so the app can route the tap.
	Kind string
}

// Pusher delivers a message to one device.
type Pusher interface {
	Push(ctx context.Context, deviceToken string, msg Message) error
}

// NopPusher drops every message. Used when push is not configured.
type NopPusher struct{}

func (NopPusher) Push(context.Context, string, Message) error { return nil }

// APNsPusher delivers through Apple Push Notification service with a
// token-based (.p8) provider key.
type APNsPusher struct {
	client *apns2.Client
	topic  string
}

// NewPusher returns an APNsPusher for cfg, or NopPusher when no key is set.
func NewPusher(cfg config.PushConfig) (Pusher, error) {
	if cfg.KeyPath == "" {
		return NopPusher{}, nil
	}
	key, err := token.AuthKeyFromFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load APNs key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{AuthKey: key, KeyID: cfg.KeyID, TeamID: cfg.TeamID})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}
	return &APNsPusher{client: client, topic: cfg.Topic}, nil
}

func (p *APNsPusher) Push(ctx context.Context, deviceToken string, msg Message) error {
	n := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Payload: payload.NewPayload().
			AlertTitle(msg.Title).
			AlertBody(msg.Body).
			Sound("default").
			Custom("kind", msg.Kind),
	}
	res, err := p.client.PushWithContext(ctx, n)
	if err != nil {
		return fmt.Errorf("apns push: %w", err)
	}
	if res.Sent() {
		return nil
	}
	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return ErrDeadToken
	}
	return fmt.Errorf("apns rejected push: %d %s", res.StatusCode, res.Reason)
}

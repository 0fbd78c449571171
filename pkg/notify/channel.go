package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Message is one rendered notification addressed to one recipient.
type Message struct {
	RecipientID   string
	Subject       string
	Body          string
	EventType     string
	ApplicationID string
}

// Channel delivers rendered messages. Deliver returns an error only for
// delivery failures; the dispatcher records the outcome per channel.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, message Message) error
}

// LogChannel writes deliveries to the structured log. It is the default
// channel and the one used in development.
type LogChannel struct {
	logger *slog.Logger
}

func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string {
	return "log"
}

func (c *LogChannel) Deliver(ctx context.Context, message Message) error {
	c.logger.InfoContext(ctx, "Notification delivered",
		"recipient_id", message.RecipientID,
		"event_type", message.EventType,
		"application_id", message.ApplicationID,
		"subject", message.Subject)

	return nil
}

// Channels is a named set of delivery channels.
type Channels map[string]Channel

func NewChannels(channels ...Channel) Channels {
	set := make(Channels, len(channels))
	for _, channel := range channels {
		set[channel.Name()] = channel
	}

	return set
}

func (c Channels) Get(name string) (Channel, error) {
	channel, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("unknown delivery channel: %s", name)
	}

	return channel, nil
}

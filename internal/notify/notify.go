// Package notify routes booking notifications to delivery channels.
// Channels form a closed set; there is no dynamic provider lookup, an
// unknown channel is an error at the dispatch site.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

type Content struct {
	Subject string
	Body    string
}

// Notifier is a single delivery capability. Formatting and actual
// transport live behind it.
type Notifier interface {
	Send(ctx context.Context, recipient string, content Content) error
}

type Dispatcher struct {
	notifiers map[Channel]Notifier
}

func NewDispatcher(notifiers map[Channel]Notifier) *Dispatcher {
	m := make(map[Channel]Notifier, len(notifiers))
	for ch, n := range notifiers {
		m[ch] = n
	}
	return &Dispatcher{notifiers: m}
}

func (d *Dispatcher) Send(ctx context.Context, ch Channel, recipient string, content Content) error {
	n, ok := d.notifiers[ch]
	if !ok {
		return fmt.Errorf("notify: no notifier for channel %q", ch)
	}
	return n.Send(ctx, recipient, content)
}

// LogNotifier writes deliveries to the log. It is the default wiring in
// environments without a real provider.
type LogNotifier struct {
	log     *slog.Logger
	channel Channel
}

func NewLogNotifier(log *slog.Logger, channel Channel) *LogNotifier {
	return &LogNotifier{log: log, channel: channel}
}

func (n *LogNotifier) Send(_ context.Context, recipient string, content Content) error {
	n.log.Info("notification",
		"channel", string(n.channel),
		"recipient", recipient,
		"subject", content.Subject,
	)
	return nil
}

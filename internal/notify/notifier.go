// Package notify forwards selected settlement events to operator chat
// channels. Notifications are queued by Emit and delivered by Run so a slow
// webhook never holds up a fill.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"strings"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// DefaultQueueSize bounds the number of pending notifications.
const DefaultQueueSize = 256

// Field is one labelled line of a notification.
type Field struct {
	Name  string
	Value string
}

// Message is a rendered notification.
type Message struct {
	Title  string
	Fields []Field
}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one rendered message.
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier is a domain.EventSink that renders settlement events and hands
// them to every Sender. Only events whose name is in the allowed set are
// queued; an empty set allows all.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan domain.EventEnvelope
	logger  *slog.Logger
}

var _ domain.EventSink = (*Notifier)(nil)

// NewNotifier creates a Notifier that will deliver to the given senders.
// queueSize <= 0 uses DefaultQueueSize.
func NewNotifier(senders []Sender, events []string, queueSize int, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan domain.EventEnvelope, queueSize),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Emit queues env for delivery. A full queue drops the notification with a
// warning; it never fails the settlement operation.
func (n *Notifier) Emit(ctx context.Context, env domain.EventEnvelope) error {
	if len(n.senders) == 0 || (len(n.events) > 0 && !n.events[env.Event]) {
		return nil
	}
	select {
	case n.queue <- env:
	default:
		n.logger.WarnContext(ctx, "notification queue full, dropping",
			slog.String("event", env.Event),
			slog.String("id", env.ID),
		)
	}
	return nil
}

// Run delivers queued notifications until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-n.queue:
			msg, err := Render(env)
			if err != nil {
				n.logger.WarnContext(ctx, "render notification failed",
					slog.String("event", env.Event),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := n.dispatch(ctx, msg); err != nil {
				n.logger.WarnContext(ctx, "notification delivery incomplete",
					slog.String("event", env.Event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// dispatch sends msg to every sender. A single sender failure does not
// prevent delivery to the remaining senders.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	return errors.Join(errs...)
}

// Render turns an event envelope into a Message. Top-level fields of the
// event payload become message fields in key order.
func Render(env domain.EventEnvelope) (Message, error) {
	var data map[string]any
	dec := json.NewDecoder(bytes.NewReader(env.Data))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		return Message{}, fmt.Errorf("notify: decode %s: %w", env.Event, err)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	msg := Message{Title: env.Event}
	for _, k := range keys {
		msg.Fields = append(msg.Fields, Field{Name: k, Value: formatValue(data[k])})
	}
	return msg, nil
}

func formatValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		if i, ok := new(big.Int).SetString(t.String(), 10); ok {
			return i.String()
		}
		return t.String()
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = formatValue(e)
		}
		return strings.Join(parts, ", ")
	case nil:
		return "-"
	default:
		return fmt.Sprint(t)
	}
}

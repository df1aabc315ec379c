package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

// EventChannelPrefix prefixes the bus channel of every settlement event.
const EventChannelPrefix = "settlement:"

type subscriber struct {
	pattern string
	ch      chan []byte
}

// EventBus keeps an ordered event log and delivers payloads to in-process
// subscribers. It implements domain.EventLog and domain.SignalBus so the
// websocket hub and archiver run without redis or postgres.
type EventBus struct {
	mu     sync.Mutex
	events []domain.EventEnvelope
	subs   map[*subscriber]struct{}
}

// NewEventBus creates an empty EventBus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[*subscriber]struct{})}
}

// Emit records env and publishes it on "settlement:<event>".
func (b *EventBus) Emit(ctx context.Context, env domain.EventEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("memory: encode event %s: %w", env.ID, err)
	}
	b.mu.Lock()
	b.events = append(b.events, env)
	b.mu.Unlock()
	return b.Publish(ctx, EventChannelPrefix+env.Event, payload)
}

// Publish delivers payload to every subscriber whose pattern matches channel.
// Slow subscribers drop messages instead of blocking the publisher.
func (b *EventBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns payloads published on channels matching the glob
// pattern. The channel closes when ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, pattern string) (<-chan []byte, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("memory: subscribe %s: %w", pattern, err)
	}
	s := &subscriber{pattern: pattern, ch: make(chan []byte, 128)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// List returns events in emission order filtered by opts.
func (b *EventBus) List(_ context.Context, opts domain.ListOpts) ([]domain.EventEnvelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.EventEnvelope
	for _, env := range b.events {
		if opts.Since != nil && env.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !env.Timestamp.Before(*opts.Until) {
			continue
		}
		out = append(out, env)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// DeleteBefore drops events older than before.
func (b *EventBus) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.events[:0]
	var n int64
	for _, env := range b.events {
		if env.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, env)
	}
	b.events = kept
	return n, nil
}

// Compile-time interface checks.
var (
	_ domain.EventLog  = (*EventBus)(nil)
	_ domain.SignalBus = (*EventBus)(nil)
)

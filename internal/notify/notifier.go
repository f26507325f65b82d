// Package notify delivers operator alerts about book health (sequence gaps,
// crossed books, feed disconnects) to chat channels such as Telegram and
// Discord. Alerts can be filtered by event kind and are rate limited per
// event kind and symbol.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/l2book/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to one or more Senders.
type Notifier struct {
	senders  []Sender
	events   map[string]bool // allowed event kinds, empty means all
	cooldown time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time // event kind + symbol -> last delivery
}

// NewNotifier creates a Notifier for senders. Only kinds listed in events
// are forwarded by Notify; an empty list allows every kind. A positive
// cooldown suppresses repeats of the same kind for the same symbol.
func NewNotifier(senders []Sender, events []string, cooldown time.Duration, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders:  senders,
		events:   allowed,
		cooldown: cooldown,
		logger:   logger.With(slog.String("component", "notifier")),
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends ev to all senders if its kind is allowed and it is outside
// the cooldown window.
func (n *Notifier) Notify(ctx context.Context, ev domain.BookEvent) error {
	if !n.Enabled() {
		return nil
	}
	if len(n.events) > 0 && !n.events[ev.Kind] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", ev.Kind))
		return nil
	}
	if !n.allow(ev.Kind + "/" + ev.Symbol) {
		n.logger.DebugContext(ctx, "event rate limited",
			slog.String("event", ev.Kind),
			slog.String("symbol", ev.Symbol),
		)
		return nil
	}
	title, message := Format(ev)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message to all senders, bypassing filters.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	if !n.Enabled() {
		return nil
	}
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) allow(key string) bool {
	if n.cooldown <= 0 {
		return true
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	if last, ok := n.last[key]; ok && now.Sub(last) < n.cooldown {
		return false
	}
	n.last[key] = now
	return true
}

// dispatch sends to every sender. A failing sender does not stop delivery
// to the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Format renders ev as a title and a body of sorted key=value lines.
func Format(ev domain.BookEvent) (title, message string) {
	title = strings.ReplaceAll(ev.Kind, "_", " ")
	if ev.Symbol != "" {
		title = ev.Symbol + ": " + title
	}

	keys := make([]string, 0, len(ev.Detail))
	for k := range ev.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%v", k, ev.Detail[k]))
	}
	return title, strings.Join(lines, "\n")
}

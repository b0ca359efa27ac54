package bus

import (
	"log/slog"
	"sync"

	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/permission"
)

// Frame is the fixed wire shape pushed to a subscribed view.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ViewSink is the minimal surface the Event Bus needs to deliver a frame to
// a remote view. The View Manager's concrete view type implements this.
type ViewSink interface {
	ViewID() uint32
	AppID() string
	Send(frame Frame) error
}

// InternalListener is an in-process callback used by managers that want to
// react to events without going through a view.
type InternalListener func(event string, payload any)

type viewSubscription struct {
	order []uint32
	sinks map[uint32]ViewSink
}

// EventBus is the event_name -> set<view> subscription table, plus the
// in-process internal-listener registrations.
type EventBus struct {
	mu        sync.RWMutex
	views     map[string]*viewSubscription
	listeners map[string][]InternalListener
	perms     *permission.Registry
	logger    *slog.Logger
}

// NewEventBus constructs an empty Event Bus backed by perms for per-event
// subscribe-time permission checks.
func NewEventBus(perms *permission.Registry, logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		views:     make(map[string]*viewSubscription),
		listeners: make(map[string][]InternalListener),
		perms:     perms,
		logger:    logger,
	}
}

// Subscribe registers view for event, rejecting the subscription when the
// event requires a permission view's app lacks.
func (b *EventBus) Subscribe(view ViewSink, event string) error {
	if b.perms != nil {
		if required := b.perms.RequiredEventPermission(event); required != "" {
			if !b.perms.Has(view.AppID(), required) {
				return edenerr.New(edenerr.PermissionDenied, "app %s lacks %q required to subscribe to %q", view.AppID(), required, event)
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.views[event]
	if !ok {
		sub = &viewSubscription{sinks: make(map[uint32]ViewSink)}
		b.views[event] = sub
	}
	if _, already := sub.sinks[view.ViewID()]; !already {
		sub.order = append(sub.order, view.ViewID())
	}
	sub.sinks[view.ViewID()] = view
	return nil
}

// Unsubscribe removes view's subscription to event, if any.
func (b *EventBus) Unsubscribe(view ViewSink, event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(view.ViewID(), event)
}

// RemoveAllForView drops every subscription held by viewID, called on view
// destruction.
func (b *EventBus) RemoveAllForView(viewID uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for event := range b.views {
		b.unsubscribeLocked(viewID, event)
	}
}

func (b *EventBus) unsubscribeLocked(viewID uint32, event string) {
	sub, ok := b.views[event]
	if !ok {
		return
	}
	if _, present := sub.sinks[viewID]; !present {
		return
	}
	delete(sub.sinks, viewID)
	for i, id := range sub.order {
		if id == viewID {
			sub.order = append(sub.order[:i], sub.order[i+1:]...)
			break
		}
	}
}

// AddListener registers an in-process callback for event.
func (b *EventBus) AddListener(event string, l InternalListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners[event] = append(b.listeners[event], l)
}

// Notify invokes every internal listener for event (panics/errors swallowed
// and logged, so one bad listener never starves the others), then delivers
// the frame to every subscribed view in stable registration order.
func (b *EventBus) Notify(event string, payload any) {
	b.mu.RLock()
	listeners := append([]InternalListener(nil), b.listeners[event]...)
	var sinks []ViewSink
	if sub, ok := b.views[event]; ok {
		sinks = make([]ViewSink, 0, len(sub.order))
		for _, id := range sub.order {
			sinks = append(sinks, sub.sinks[id])
		}
	}
	b.mu.RUnlock()

	for _, l := range listeners {
		b.invokeListener(event, payload, l)
	}

	frame := Frame{Type: event, Payload: payload}
	for _, sink := range sinks {
		if err := sink.Send(frame); err != nil {
			b.logger.Warn("event delivery failed", "event", event, "view_id", sink.ViewID(), "app_id", sink.AppID(), "error", err)
		}
	}
}

// NotifyView delivers event directly to view, a no-op if view is not
// subscribed to event.
func (b *EventBus) NotifyView(view ViewSink, event string, payload any) {
	b.mu.RLock()
	sub, ok := b.views[event]
	var subscribed bool
	if ok {
		_, subscribed = sub.sinks[view.ViewID()]
	}
	b.mu.RUnlock()
	if !subscribed {
		return
	}
	if err := view.Send(Frame{Type: event, Payload: payload}); err != nil {
		b.logger.Warn("targeted event delivery failed", "event", event, "view_id", view.ViewID(), "error", err)
	}
}

func (b *EventBus) invokeListener(event string, payload any, l InternalListener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", event, "recovered", r)
		}
	}()
	l(event, payload)
}

// Package host is the wiring root of the subsystem graph: it constructs
// the command and event buses first, builds the package store / view
// manager / backend supervisor on top of them, then the process manager
// and channel broker that sit over all three, registers every manager's
// command handlers, and drives autostart and shutdown.
package host

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/edenerr"
)

// bridgeMessage is the one wire shape a preload script's message channel
// sends over its websocket connection: a command invocation or a
// subscribe/unsubscribe request.
type bridgeMessage struct {
	Type      string         `json:"type"`
	RequestID string         `json:"request_id,omitempty"`
	Command   string         `json:"command,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Event     string         `json:"event,omitempty"`
}

// connSink adapts one open bridge connection to bus.ViewSink, so the Event
// Bus can push frames to it exactly as it would to any other view.
type connSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	viewID uint32
	appID  string
}

func (s *connSink) ViewID() uint32 { return s.viewID }
func (s *connSink) AppID() string  { return s.appID }

func (s *connSink) Send(frame bus.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// Bridge is the message channel transport between the host and each
// view's preload script: the preload's window.eden.invoke and .on() calls
// ride this websocket rather than a postMessage round trip, since nothing
// short of a real connection can call back into Go from inside the page.
// One goroutine per connection pumps frames off the wire; JSON control
// messages share the socket with the command results they control.
type Bridge struct {
	commands *bus.CommandBus
	events   *bus.EventBus
	logger   *slog.Logger
}

// NewBridge wires a Bridge over the Command Bus and Event Bus it delivers
// frames through.
func NewBridge(commands *bus.CommandBus, events *bus.EventBus, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{commands: commands, events: events, logger: logger}
}

// ServeHTTP accepts one bridge connection per view. The caller identifies
// itself with ?app_id=...&view_id=... query parameters, set by the
// runtime script injected after did-finish-load from the same
// {app_id, view_id} the View Manager already knows about this view.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app_id")
	viewID64, err := strconv.ParseUint(r.URL.Query().Get("view_id"), 10, 32)
	if appID == "" || err != nil {
		http.Error(w, "app_id and view_id query parameters are required", http.StatusBadRequest)
		return
	}
	viewID := uint32(viewID64)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		return
	}
	sink := &connSink{conn: conn, viewID: viewID, appID: appID}
	defer func() {
		b.events.RemoveAllForView(viewID)
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg bridgeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			b.logger.Warn("bridge received a malformed frame", "app_id", appID, "error", err)
			continue
		}

		switch msg.Type {
		case "command":
			go b.invoke(ctx, sink, msg)
		case "subscribe":
			if err := b.events.Subscribe(sink, msg.Event); err != nil {
				_ = sink.Send(bus.Frame{Type: "subscribe-error", Payload: map[string]any{"event": msg.Event, "error": edenerr.ToPayload(err)}})
			}
		case "unsubscribe":
			b.events.Unsubscribe(sink, msg.Event)
		default:
			b.logger.Warn("bridge received an unknown frame type", "type", msg.Type, "app_id", appID)
		}
	}
}

// invoke runs one command invocation off the read loop so a slow handler
// never blocks delivery of the next frame on the same connection.
func (b *Bridge) invoke(ctx context.Context, sink *connSink, msg bridgeMessage) {
	result, err := b.commands.Execute(ctx, msg.Command, bus.Args(msg.Args), sink.appID, strconv.FormatUint(uint64(sink.viewID), 10))

	payload := map[string]any{"request_id": msg.RequestID}
	if err != nil {
		payload["error"] = edenerr.ToPayload(err)
	} else {
		payload["result"] = result
	}
	if err := sink.Send(bus.Frame{Type: "command-result", Payload: payload}); err != nil {
		b.logger.Warn("bridge failed to deliver a command result", "command", msg.Command, "error", err)
	}
}

package host

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/permission"
)

func dialBridge(t *testing.T, srv *httptest.Server, appID, viewID string) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):] + "/bridge?app_id=" + appID + "&view_id=" + viewID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestBridgeExecutesCommandAndRepliesWithResult(t *testing.T) {
	perms := permission.New()
	commands := bus.NewCommandBus(perms, nil)
	events := bus.NewEventBus(perms, nil)
	commands.Register(bus.HandlerSpec{
		Namespace: "echo", Action: "ping",
		Invoke: func(ctx context.Context, args bus.Args) (any, error) {
			return map[string]any{"pong": args["value"]}, nil
		},
	})

	srv := httptest.NewServer(NewBridge(commands, events, nil))
	defer srv.Close()
	conn := dialBridge(t, srv, "app.one", "7")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := json.Marshal(bridgeMessage{Type: "command", RequestID: "1", Command: "echo/ping", Args: map[string]any{"value": "hi"}})
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var frame bus.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != "command-result" {
		t.Fatalf("frame type = %q, want command-result", frame.Type)
	}
	payload, ok := frame.Payload.(map[string]any)
	if !ok {
		t.Fatalf("payload is %T, want map", frame.Payload)
	}
	if payload["request_id"] != "1" {
		t.Errorf("request_id = %v, want 1", payload["request_id"])
	}
	result, ok := payload["result"].(map[string]any)
	if !ok || result["pong"] != "hi" {
		t.Errorf("result = %v, want pong=hi", payload["result"])
	}
}

func TestBridgeUnknownCommandReportsError(t *testing.T) {
	perms := permission.New()
	commands := bus.NewCommandBus(perms, nil)
	events := bus.NewEventBus(perms, nil)

	srv := httptest.NewServer(NewBridge(commands, events, nil))
	defer srv.Close()
	conn := dialBridge(t, srv, "app.one", "7")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := json.Marshal(bridgeMessage{Type: "command", RequestID: "9", Command: "no/such-command"})
	if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
		t.Fatalf("Write: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var frame bus.Frame
	_ = json.Unmarshal(data, &frame)
	payload := frame.Payload.(map[string]any)
	if payload["error"] == nil {
		t.Error("expected an error field for an unregistered command")
	}
}

func TestBridgeSubscribeDeliversEventFrame(t *testing.T) {
	perms := permission.New()
	commands := bus.NewCommandBus(perms, nil)
	events := bus.NewEventBus(perms, nil)

	srv := httptest.NewServer(NewBridge(commands, events, nil))
	defer srv.Close()
	conn := dialBridge(t, srv, "app.two", "3")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, _ := json.Marshal(bridgeMessage{Type: "subscribe", Event: "package/installed"})
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The subscribe frame and the Notify below race on the server's read
	// loop; a brief pause lets the subscription land first, matching this
	// codebase's other brief-wait-then-assert patterns for async delivery.
	time.Sleep(50 * time.Millisecond)
	events.Notify("package/installed", map[string]any{"app_id": "app.three"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var frame bus.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != "package/installed" {
		t.Fatalf("frame type = %q, want package/installed", frame.Type)
	}
}

func TestBridgeMissingQueryParamsRejected(t *testing.T) {
	perms := permission.New()
	commands := bus.NewCommandBus(perms, nil)
	events := bus.NewEventBus(perms, nil)

	srv := httptest.NewServer(NewBridge(commands, events, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+srv.URL[len("http"):]+"/bridge", nil)
	if err == nil {
		t.Fatal("expected Dial to fail without app_id/view_id")
	}
	if resp != nil && resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

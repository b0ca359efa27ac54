package bus

import (
	"testing"

	"github.com/edenite/eden-host/internal/permission"
)

type fakeView struct {
	id       uint32
	appID    string
	received []Frame
	failSend bool
}

func (v *fakeView) ViewID() uint32 { return v.id }
func (v *fakeView) AppID() string  { return v.appID }
func (v *fakeView) Send(f Frame) error {
	if v.failSend {
		return errSendFailed
	}
	v.received = append(v.received, f)
	return nil
}

var errSendFailed = &sendError{}

type sendError struct{}

func (e *sendError) Error() string { return "send failed" }

func TestEventBusNotifyDeliversToSubscribedView(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	view := &fakeView{id: 1, appID: "com.example.app"}

	if err := b.Subscribe(view, "package/installed"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	b.Notify("package/installed", map[string]any{"id": "com.example.other"})

	if len(view.received) != 1 {
		t.Fatalf("received = %d frames, want 1", len(view.received))
	}
	if view.received[0].Type != "package/installed" {
		t.Errorf("frame type = %q", view.received[0].Type)
	}
}

func TestEventBusNotifyOrdersInternalListenersBeforeViews(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	view := &fakeView{id: 1, appID: "com.example.app"}
	_ = b.Subscribe(view, "process/launched")

	var order []string
	viewFramesSeenByListener := -1
	b.AddListener("process/launched", func(event string, payload any) {
		order = append(order, "listener")
		viewFramesSeenByListener = len(view.received)
	})
	b.Notify("process/launched", nil)

	if len(order) != 1 || order[0] != "listener" {
		t.Errorf("internal listener did not run: %v", order)
	}
	if viewFramesSeenByListener != 0 {
		t.Errorf("view had %d frames when the internal listener ran, want 0 (listeners first)", viewFramesSeenByListener)
	}
	if len(view.received) != 1 {
		t.Errorf("view should still receive the event: %d", len(view.received))
	}
}

func TestEventBusListenerPanicDoesNotStarveOthers(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	var secondRan bool
	b.AddListener("process/error", func(event string, payload any) {
		panic("boom")
	})
	b.AddListener("process/error", func(event string, payload any) {
		secondRan = true
	})

	b.Notify("process/error", nil)

	if !secondRan {
		t.Error("second listener should still run after the first panics")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	view := &fakeView{id: 1, appID: "com.example.app"}
	_ = b.Subscribe(view, "view/loaded")
	b.Unsubscribe(view, "view/loaded")

	b.Notify("view/loaded", nil)
	if len(view.received) != 0 {
		t.Errorf("unsubscribed view should not receive events, got %d", len(view.received))
	}
}

func TestEventBusRemoveAllForView(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	view := &fakeView{id: 1, appID: "com.example.app"}
	_ = b.Subscribe(view, "view/loaded")
	_ = b.Subscribe(view, "view/load-failed")

	b.RemoveAllForView(view.ViewID())

	b.Notify("view/loaded", nil)
	b.Notify("view/load-failed", nil)
	if len(view.received) != 0 {
		t.Errorf("view should receive nothing after RemoveAllForView, got %d", len(view.received))
	}
}

func TestEventBusNotifyViewIsNoOpWhenNotSubscribed(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	view := &fakeView{id: 1, appID: "com.example.app"}

	b.NotifyView(view, "view/loaded", nil)
	if len(view.received) != 0 {
		t.Errorf("NotifyView should be a no-op for an unsubscribed view, got %d", len(view.received))
	}
}

func TestEventBusNotifyViewDeliversWhenSubscribed(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	view := &fakeView{id: 1, appID: "com.example.app"}
	_ = b.Subscribe(view, "view/loaded")

	b.NotifyView(view, "view/loaded", "payload")
	if len(view.received) != 1 {
		t.Fatalf("NotifyView should deliver to a subscribed view, got %d", len(view.received))
	}
}

func TestEventBusSubscribeRejectsMissingPermission(t *testing.T) {
	perms := permission.New()
	perms.RegisterEventPermission("package/installed", "package/observe")
	b := NewEventBus(perms, nil)
	view := &fakeView{id: 1, appID: "com.example.app"}

	if err := b.Subscribe(view, "package/installed"); err == nil {
		t.Fatal("expected subscribe to fail without the required permission")
	}

	perms.Register("com.example.app", []string{"package/observe"})
	if err := b.Subscribe(view, "package/installed"); err != nil {
		t.Fatalf("Subscribe with grant: %v", err)
	}
}

func TestEventBusNotifyContinuesAfterFailedSend(t *testing.T) {
	b := NewEventBus(permission.New(), nil)
	failing := &fakeView{id: 1, appID: "com.example.app", failSend: true}
	ok := &fakeView{id: 2, appID: "com.example.other"}
	_ = b.Subscribe(failing, "process/exited")
	_ = b.Subscribe(ok, "process/exited")

	b.Notify("process/exited", nil)

	if len(ok.received) != 1 {
		t.Errorf("second view should still receive the event despite the first failing, got %d", len(ok.received))
	}
}

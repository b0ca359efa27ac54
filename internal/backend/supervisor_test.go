package backend

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edenite/eden-host/internal/manifest"
)

func testOpts(appID, script string) SpawnOptions {
	return SpawnOptions{
		AppID:        appID,
		BackendEntry: "/bin/sh",
		LaunchArgs:   []string{"-c", script},
		InstallPath:  "/tmp",
		Manifest:     &manifest.Manifest{ID: appID, Name: appID, Version: "1.0.0"},
	}
}

const readyThenEchoScript = `
echo '{"type":"backend-ready"}'
while IFS= read -r line; do
  case "$line" in
    *shutdown*) exit 0 ;;
    *) echo "$line" ;;
  esac
done
`

func TestStartSucceedsOnReadyHandshake(t *testing.T) {
	s := New(nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Start(ctx, testOpts("app.one", readyThenEchoScript)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !s.Running("app.one") {
		t.Error("expected backend to be registered as running")
	}
	_ = s.Terminate("app.one")
}

func TestStartFailsWhenBackendExitsBeforeReady(t *testing.T) {
	s := New(nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Start(ctx, testOpts("app.two", "exit 1"))
	if err == nil {
		t.Fatal("expected an error when the backend exits before signaling ready")
	}
	if s.Running("app.two") {
		t.Error("backend should not be registered as running after a failed start")
	}
}

func TestStartFailsOnBackendError(t *testing.T) {
	s := New(nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	script := `echo '{"type":"backend-error","error":"missing config"}'; sleep 5`
	err := s.Start(ctx, testOpts("app.three", script))
	if err == nil {
		t.Fatal("expected an error from a backend-error handshake message")
	}
}

func TestSendDeliversMessageAndReceivesEcho(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]any
	s := New(func(appID string, payload map[string]any) {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
	}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Start(ctx, testOpts("app.four", readyThenEchoScript)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Terminate("app.four")

	if err := s.Send("app.four", map[string]any{"type": "ping", "value": "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for echoed message")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if received[0]["type"] != "ping" {
		t.Errorf("echoed message type = %v, want ping", received[0]["type"])
	}
}

func TestSendToUnknownAppReturnsNotFound(t *testing.T) {
	s := New(nil, nil, nil)
	if err := s.Send("no.such.app", map[string]any{"type": "ping"}); err == nil {
		t.Error("expected NotFound sending to an unregistered app")
	}
}

func TestTerminateKillsAnUnresponsiveBackend(t *testing.T) {
	s := New(nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	script := `echo '{"type":"backend-ready"}'; trap '' TERM; sleep 30`
	if err := s.Start(ctx, testOpts("app.five", script)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- s.Terminate("app.five") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Terminate: %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("Terminate did not return within the hard shutdown cap")
	}
	if s.Running("app.five") {
		t.Error("backend should be unregistered after Terminate")
	}
}

func TestTerminateUnknownAppIsANoOp(t *testing.T) {
	s := New(nil, nil, nil)
	if err := s.Terminate("no.such.app"); err != nil {
		t.Errorf("Terminate on an unknown app returned an error: %v", err)
	}
}

func TestUnsolicitedExitInvokesOnExit(t *testing.T) {
	exited := make(chan string, 1)
	s := New(nil, func(appID string) { exited <- appID }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	script := `echo '{"type":"backend-ready"}'; sleep 0.05; exit 1`
	if err := s.Start(ctx, testOpts("app.six", script)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case appID := <-exited:
		if appID != "app.six" {
			t.Errorf("onExit called with %q, want app.six", appID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onExit was not called after an unsolicited exit")
	}
	if s.Running("app.six") {
		t.Error("backend should be unregistered after an unsolicited exit")
	}
}

func TestTerminateDoesNotInvokeOnExit(t *testing.T) {
	exited := make(chan string, 1)
	s := New(nil, func(appID string) { exited <- appID }, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Start(ctx, testOpts("app.seven", readyThenEchoScript)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Terminate("app.seven"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case appID := <-exited:
		t.Fatalf("onExit unexpectedly called with %q after a voluntary Terminate", appID)
	case <-time.After(300 * time.Millisecond):
	}
}

package channel

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/edenite/eden-host/internal/backend"
	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/manifest"
	"github.com/edenite/eden-host/internal/view"
)

type fakeSurface struct {
	sent   []bus.Frame
	loaded func()
}

func (f *fakeSurface) Load(entry string, remote bool) error {
	if f.loaded != nil {
		f.loaded()
	}
	return nil
}
func (f *fakeSurface) SetBounds(b view.Bounds)           {}
func (f *fakeSurface) Show()                             {}
func (f *fakeSurface) Hide()                             {}
func (f *fakeSurface) Close() error                      { return nil }
func (f *fakeSurface) OpenDevTools()                     {}
func (f *fakeSurface) CloseDevTools()                    {}
func (f *fakeSurface) HasFocus() bool                    { return false }
func (f *fakeSurface) InjectCSS(css string) error        { return nil }
func (f *fakeSurface) InjectScript(js string) error      { return nil }
func (f *fakeSurface) PostMessage(frame bus.Frame) error { f.sent = append(f.sent, frame); return nil }
func (f *fakeSurface) OnDidFinishLoad(cb func())         { f.loaded = cb }

func newTestViews(t *testing.T) *view.Manager {
	t.Helper()
	return view.NewManager(view.Bounds{W: 1280, H: 800}, config.TilingConfig{}, "", nil, func(view.Type) view.Surface {
		return &fakeSurface{}
	})
}

func createFrontendView(t *testing.T, vm *view.Manager, appID string) uint32 {
	t.Helper()
	mf := &manifest.Manifest{ID: appID, Name: appID, Version: "1.0.0", Frontend: manifest.Frontend{Entry: "index.html"}}
	v, err := vm.CreateAppView(appID, mf, "/tmp", nil)
	if err != nil {
		t.Fatalf("CreateAppView: %v", err)
	}
	return v.ID
}

// readyThenEchoScript signals ready, then echoes every line it receives
// back out on stdout (unless it contains "shutdown"), so a Send() call can
// be observed round-tripping through the Supervisor's onMsg callback —
// the only way to see a message delivered *to* a child process from the
// outside, since there is no peer process here to relay it onward.
func readyThenEchoScript() string {
	return `echo '{"type":"backend-ready"}'
while IFS= read -r line; do
  case "$line" in
    *shutdown*) exit 0 ;;
    *) echo "$line" ;;
  esac
done`
}

func newTestBackends(t *testing.T) *backend.Supervisor {
	t.Helper()
	return backend.New(nil, nil, nil)
}

func startBackend(t *testing.T, s *backend.Supervisor, appID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	opts := backend.SpawnOptions{
		AppID:        appID,
		BackendEntry: "/bin/sh",
		LaunchArgs:   []string{"-c", readyThenEchoScript()},
		InstallPath:  "/tmp",
		Manifest:     &manifest.Manifest{ID: appID, Name: appID, Version: "1.0.0"},
	}
	if err := s.Start(ctx, opts); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func newTestBroker(t *testing.T) (*Broker, *view.Manager, *backend.Supervisor) {
	t.Helper()
	vm := newTestViews(t)
	sup := newTestBackends(t)
	dbPath := filepath.Join(t.TempDir(), "broker.db")
	b, err := New(vm, sup, dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b, vm, sup
}

func TestRegisterServiceRejectsDuplicate(t *testing.T) {
	b, _, _ := newTestBroker(t)
	provider := Endpoint{AppID: "provider", Kind: Backend}

	if err := b.RegisterService(provider, "echo", "", nil); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	if err := b.RegisterService(provider, "echo", "", nil); !edenerr.Is(err, edenerr.AlreadyExists) {
		t.Errorf("second RegisterService: got %v, want AlreadyExists", err)
	}
}

func TestConnectFailsWhenServiceMissing(t *testing.T) {
	b, _, sup := newTestBroker(t)
	startBackend(t, sup, "requester")
	defer sup.Terminate("requester")

	requester := Endpoint{AppID: "requester", Kind: Backend}
	target := Endpoint{AppID: "provider", Kind: Backend}
	if _, err := b.Connect(requester, target, "echo"); !edenerr.Is(err, edenerr.NotFound) {
		t.Errorf("Connect: got %v, want NotFound", err)
	}
}

func TestConnectEnforcesAllowedClients(t *testing.T) {
	b, _, sup := newTestBroker(t)
	startBackend(t, sup, "provider")
	startBackend(t, sup, "requester")
	defer sup.Terminate("provider")
	defer sup.Terminate("requester")

	provider := Endpoint{AppID: "provider", Kind: Backend}
	if err := b.RegisterService(provider, "echo", "", []string{"someone.else"}); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	requester := Endpoint{AppID: "requester", Kind: Backend}
	if _, err := b.Connect(requester, provider, "echo"); !edenerr.Is(err, edenerr.PermissionDenied) {
		t.Errorf("Connect: got %v, want PermissionDenied", err)
	}
}

func TestConnectFailsWhenProviderGone(t *testing.T) {
	b, _, sup := newTestBroker(t)
	startBackend(t, sup, "requester")
	defer sup.Terminate("requester")

	// provider is registered but never actually started.
	provider := Endpoint{AppID: "provider", Kind: Backend}
	if err := b.RegisterService(provider, "echo", "", nil); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	requester := Endpoint{AppID: "requester", Kind: Backend}
	if _, err := b.Connect(requester, provider, "echo"); !edenerr.Is(err, edenerr.ProviderGone) {
		t.Errorf("Connect: got %v, want ProviderGone", err)
	}
}

func TestConnectFailsWhenRequesterGone(t *testing.T) {
	b, _, sup := newTestBroker(t)
	startBackend(t, sup, "provider")
	defer sup.Terminate("provider")

	provider := Endpoint{AppID: "provider", Kind: Backend}
	if err := b.RegisterService(provider, "echo", "", nil); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	requester := Endpoint{AppID: "requester", Kind: Backend} // never started
	if _, err := b.Connect(requester, provider, "echo"); !edenerr.Is(err, edenerr.RequesterGone) {
		t.Errorf("Connect: got %v, want RequesterGone", err)
	}
}

func TestConnectBetweenBackendsTransfersPortsAndRecordsConnection(t *testing.T) {
	b, _, sup := newTestBroker(t)
	startBackend(t, sup, "provider")
	startBackend(t, sup, "requester")
	defer sup.Terminate("provider")
	defer sup.Terminate("requester")

	provider := Endpoint{AppID: "provider", Kind: Backend}
	if err := b.RegisterService(provider, "echo", "peer echo", nil); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	requester := Endpoint{AppID: "requester", Kind: Backend}
	connID, err := b.Connect(requester, provider, "echo")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if connID == "" {
		t.Fatal("expected a non-empty connection id")
	}

	conns := b.Connections()
	if len(conns) != 1 || conns[0].ID != connID {
		t.Errorf("expected exactly one recorded connection with id %q, got %+v", connID, conns)
	}
}

func TestConnectFrontendEndpointDeliversPortTransferToView(t *testing.T) {
	vm := newTestViews(t)
	sup := newTestBackends(t)
	b, err := New(vm, sup, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	viewID := createFrontendView(t, vm, "provider")
	startBackend(t, sup, "requester")
	defer sup.Terminate("requester")

	provider := Endpoint{AppID: "provider", Kind: Frontend, ViewID: viewID}
	if err := b.RegisterService(provider, "ui-bridge", "", nil); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}

	requester := Endpoint{AppID: "requester", Kind: Backend}
	if _, err := b.Connect(requester, provider, "ui-bridge"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func TestCloseConnectionsForAppNotifiesSurvivor(t *testing.T) {
	vm := newTestViews(t)

	received := make(chan map[string]any, 4)
	sup := backend.New(func(appID string, payload map[string]any) {
		if appID == "requester" {
			received <- payload
		}
	}, nil, nil)

	startBackend(t, sup, "provider")
	startBackend(t, sup, "requester")
	defer sup.Terminate("requester")

	dbPath := filepath.Join(t.TempDir(), "broker.db")
	b, err := New(vm, sup, dbPath)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()

	provider := Endpoint{AppID: "provider", Kind: Backend}
	if err := b.RegisterService(provider, "echo", "", nil); err != nil {
		t.Fatalf("RegisterService: %v", err)
	}
	requester := Endpoint{AppID: "requester", Kind: Backend}
	if _, err := b.Connect(requester, provider, "echo"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Drain the port-transfer message Connect already delivered to requester.
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe the port-transfer message")
	}

	sup.Terminate("provider")
	b.CloseConnectionsForApp("provider")

	select {
	case payload := <-received:
		if payload["type"] != "port-closed" {
			t.Errorf("notification type = %v, want port-closed", payload["type"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("requester was not notified of the closed connection")
	}

	if len(b.Connections()) != 0 {
		t.Errorf("expected no connections to remain after CloseConnectionsForApp, got %v", b.Connections())
	}
}

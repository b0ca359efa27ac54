// Package process ties an app's view and optional backend into a single
// running instance: it sequences launch/stop/reload/shutdown across the
// package store, backend supervisor, and view manager, and owns the
// running-app registry.
package process

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edenite/eden-host/internal/backend"
	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/manifest"
	"github.com/edenite/eden-host/internal/permission"
	"github.com/edenite/eden-host/internal/store"
	"github.com/edenite/eden-host/internal/view"
)

// State is an AppInstance's lifecycle state.
type State string

const (
	StateRunning State = "Running"
	StateError   State = "Error"
)

// AppInstance is one launched app: its view, optional backend, and status.
type AppInstance struct {
	InstanceID  string
	AppID       string
	InstallPath string
	HasBackend  bool
	ViewID      uint32
	State       State
	LaunchedAt  time.Time
}

// Manager is the Process Manager. It is the sole authority on which apps
// are currently running.
type Manager struct {
	mu        sync.Mutex
	instances map[string]*AppInstance

	store    *store.Store
	backends *backend.Supervisor
	views    *view.Manager
	events   *bus.EventBus
	logger   *slog.Logger

	perms    *permission.Registry // optional; set via SetPermissions
	channels ServiceCleaner       // optional; set via SetChannels
}

// ServiceCleaner is the slice of the Channel Broker the Process Manager
// needs at teardown: dropping a stopped app's registered services and
// closing every connection that touches it.
type ServiceCleaner interface {
	UnregisterAllServices(appID string)
}

// New wires a Process Manager over its three collaborators. events
// receives process/* lifecycle notifications. The returned Manager's
// OnBackendExit must be registered as the Supervisor's onExit callback so
// an unsolicited backend crash drives the same teardown path as Stop,
// emitting process/exited instead of process/stopped.
func New(st *store.Store, backends *backend.Supervisor, views *view.Manager, events *bus.EventBus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		instances: make(map[string]*AppInstance),
		store:     st,
		backends:  backends,
		views:     views,
		events:    events,
		logger:    logger,
	}
}

// SetPermissions wires perms so Launch/teardown grant and revoke an app's
// manifest permissions for the lifetime of its instance. Left unset, no
// permission bookkeeping happens here, which is what this package's own
// tests rely on.
func (m *Manager) SetPermissions(perms *permission.Registry) {
	m.perms = perms
}

// SetChannels wires the Channel Broker so teardown closes a stopped app's
// services and peer connections. The Broker is constructed after the
// Process Manager at host wiring time, hence a setter rather than a
// constructor argument.
func (m *Manager) SetChannels(c ServiceCleaner) {
	m.channels = c
}

// LaunchOptions customizes a Launch call.
type LaunchOptions struct {
	Bounds     *view.Bounds
	LaunchArgs []string
}

// Launch starts appID: optionally its backend, then its view, in that
// order, undoing whatever already succeeded if a later step fails.
func (m *Manager) Launch(ctx context.Context, appID string, opts LaunchOptions) (*AppInstance, error) {
	app, ok := m.store.Get(appID)
	if !ok {
		return nil, edenerr.New(edenerr.NotFound, "app %q is not installed", appID)
	}

	m.mu.Lock()
	if _, running := m.instances[appID]; running {
		m.mu.Unlock()
		return nil, edenerr.New(edenerr.AlreadyExists, "app %q is already running", appID)
	}
	m.mu.Unlock()

	mf := app.Manifest
	hasBackend := mf.Backend != nil && mf.Backend.Entry != ""

	if hasBackend {
		spawnOpts := backend.SpawnOptions{
			AppID:        appID,
			BackendEntry: mf.Backend.Entry,
			InstallPath:  app.InstallPath,
			Manifest:     mf,
			LaunchArgs:   opts.LaunchArgs,
		}
		if err := m.backends.Start(ctx, spawnOpts); err != nil {
			return nil, err
		}
	}

	v, err := m.createView(mf, app.InstallPath, opts.Bounds)
	if err != nil {
		if hasBackend {
			_ = m.backends.Terminate(appID)
		}
		return nil, err
	}

	inst := &AppInstance{
		InstanceID:  uuid.NewString(),
		AppID:       appID,
		InstallPath: app.InstallPath,
		HasBackend:  hasBackend,
		ViewID:      v.ID,
		State:       StateRunning,
		LaunchedAt:  time.Now(),
	}

	m.mu.Lock()
	m.instances[appID] = inst
	m.mu.Unlock()

	if m.perms != nil {
		m.perms.Register(appID, mf.Permissions)
	}

	if m.events != nil {
		m.events.Notify("process/launched", map[string]any{
			"instance_id": inst.InstanceID,
			"app_id":      appID,
			"view_id":     v.ID,
			"has_backend": hasBackend,
			"running":     m.RunningAppIDs(),
		})
	}
	return inst, nil
}

// createView asks the View Manager for an overlay view when the manifest
// declares one, otherwise an ordinary app view.
func (m *Manager) createView(mf *manifest.Manifest, installPath string, bounds *view.Bounds) (*view.View, error) {
	if mf.Overlay {
		b := view.Bounds{}
		if bounds != nil {
			b = *bounds
		}
		return m.views.CreateOverlayView(mf.ID, mf, installPath, b)
	}
	return m.views.CreateAppView(mf.ID, mf, installPath, bounds)
}

// Stop terminates appID's backend (if any), destroys its view, and drops
// its instance, emitting process/stopped. Steps run best-effort: a failure
// in one does not abort the rest, since stop must always be able to make
// forward progress on a potentially half-broken instance.
func (m *Manager) Stop(appID string) error {
	m.mu.Lock()
	inst, ok := m.instances[appID]
	if ok {
		delete(m.instances, appID)
	}
	m.mu.Unlock()
	if !ok {
		return edenerr.New(edenerr.NotFound, "app %q is not running", appID)
	}

	m.teardown(inst)

	if m.events != nil {
		m.events.Notify("process/stopped", map[string]any{
			"app_id":  appID,
			"running": m.RunningAppIDs(),
		})
	}
	return nil
}

// onBackendExit is registered with the Backend Supervisor as its onExit
// callback: it runs the same teardown as Stop but emits process/exited,
// since the backend went away on its own rather than by request.
func (m *Manager) onBackendExit(appID string) {
	m.mu.Lock()
	inst, ok := m.instances[appID]
	if ok {
		delete(m.instances, appID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.teardown(inst)
	m.logger.Warn("backend exited without being asked to", "app_id", appID)

	if m.events != nil {
		m.events.Notify("process/exited", map[string]any{
			"app_id":  appID,
			"running": m.RunningAppIDs(),
		})
	}
}

// OnBackendExit returns the callback to register as the Backend
// Supervisor's onExit handler.
func (m *Manager) OnBackendExit() func(appID string) {
	return m.onBackendExit
}

func (m *Manager) teardown(inst *AppInstance) {
	if m.channels != nil {
		m.channels.UnregisterAllServices(inst.AppID)
	}
	if inst.HasBackend {
		_ = m.backends.Terminate(inst.AppID)
	}
	if err := m.views.Destroy(inst.ViewID); err != nil {
		m.logger.Warn("destroying view during teardown", "app_id", inst.AppID, "view_id", inst.ViewID, "error", err)
	}
	if m.perms != nil {
		m.perms.Unregister(inst.AppID)
	}
}

// Reload captures appID's current bounds, stops it, waits briefly for the
// web engine to release file handles, then relaunches it at the same
// bounds.
func (m *Manager) Reload(ctx context.Context, appID string) (*AppInstance, error) {
	m.mu.Lock()
	inst, ok := m.instances[appID]
	m.mu.Unlock()
	if !ok {
		return nil, edenerr.New(edenerr.NotFound, "app %q is not running", appID)
	}

	var bounds *view.Bounds
	if v, err := m.views.BoundsOf(inst.ViewID); err == nil {
		b := v
		bounds = &b
	}

	if err := m.Stop(appID); err != nil {
		return nil, err
	}

	select {
	case <-time.After(config.ProcessReloadDelay * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return m.Launch(ctx, appID, LaunchOptions{Bounds: bounds})
}

// Shutdown stops every running app, sequentially, logging and continuing
// past individual failures so one stuck app cannot block host exit.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	running := make([]string, 0, len(m.instances))
	for appID := range m.instances {
		running = append(running, appID)
	}
	m.mu.Unlock()

	for _, appID := range running {
		if err := m.Stop(appID); err != nil {
			m.logger.Error("stopping app during shutdown", "app_id", appID, "error", err)
		}
	}
}

// Get returns the running instance for appID, if any.
func (m *Manager) Get(appID string) (*AppInstance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[appID]
	return inst, ok
}

// RunningAppIDs returns the set of currently running app ids.
func (m *Manager) RunningAppIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.instances))
	for appID := range m.instances {
		out = append(out, appID)
	}
	return out
}

// CommandHandlers implements bus.Manager, exposing launch/stop/reload/list
// as the "process/*" command namespace.
func (m *Manager) CommandHandlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{
		{Namespace: "process", Action: "launch", Invoke: m.handleLaunch},
		{Namespace: "process", Action: "stop", Invoke: m.handleStop},
		{Namespace: "process", Action: "reload", Invoke: m.handleReload},
		{Namespace: "process", Action: "list", Invoke: m.handleListRunning},
	}
}

func (m *Manager) handleLaunch(ctx context.Context, args bus.Args) (any, error) {
	appID, _ := args["app_id"].(string)
	inst, err := m.Launch(ctx, appID, LaunchOptions{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"instance_id": inst.InstanceID, "app_id": inst.AppID, "view_id": inst.ViewID, "has_backend": inst.HasBackend}, nil
}

func (m *Manager) handleStop(_ context.Context, args bus.Args) (any, error) {
	appID, _ := args["app_id"].(string)
	if err := m.Stop(appID); err != nil {
		return nil, err
	}
	return map[string]any{"app_id": appID}, nil
}

func (m *Manager) handleReload(ctx context.Context, args bus.Args) (any, error) {
	appID, _ := args["app_id"].(string)
	inst, err := m.Reload(ctx, appID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"app_id": inst.AppID, "view_id": inst.ViewID}, nil
}

func (m *Manager) handleListRunning(_ context.Context, _ bus.Args) (any, error) {
	return m.RunningAppIDs(), nil
}

package host

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/edenite/eden-host/internal/backend"
	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/channel"
	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/hotreload"
	"github.com/edenite/eden-host/internal/permission"
	"github.com/edenite/eden-host/internal/process"
	"github.com/edenite/eden-host/internal/store"
	"github.com/edenite/eden-host/internal/updater"
	"github.com/edenite/eden-host/internal/view"
)

// Host owns every subsystem and is the single object cmd/edenctl
// constructs and drives.
type Host struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger

	perms    *permission.Registry
	commands *bus.CommandBus
	events   *bus.EventBus

	store     *store.Store
	views     *view.Manager
	backends  *backend.Supervisor
	channels  *channel.Broker
	processes *process.Manager
	updater   *updater.Updater

	bridge    *Bridge
	bridgeSrv *http.Server

	hotreload     *hotreload.Watcher
	hotreloadStop context.CancelFunc
}

// Options bundles the paths and listener address New needs beyond the
// loaded Config, which carries only the app-facing settings.
type Options struct {
	DBDir      string // holds store.db and channel.db
	CSSDir     string // design-system CSS assets (full.css, tokens.css)
	ConfigPath string // where system/settings-import persists the record; "" skips persistence
	BridgeAddr string // "" disables the message channel transport entirely
	Surfaces   view.SurfaceFactory
	Version    string
}

// New builds the full subsystem graph: the command and event buses first
// (every manager below registers against them), then the package store,
// view manager and backend supervisor, then the process manager and
// channel broker layered over all three, and finally every manager's
// command handlers. Construction is two-phase where the graph demands it:
// the process manager needs an already-built supervisor, while the
// supervisor's onExit callback needs an already-built process manager.
func New(cfg config.Config, opts Options, logger *slog.Logger) (*Host, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.WithDefaults()

	perms := permission.New()
	events := bus.NewEventBus(perms, logger)
	commands := bus.NewCommandBus(perms, logger)

	st, err := store.Open(cfg.AppsDirectory, cfg.UserDirectory, filepath.Join(opts.DBDir, "store.db"), events)
	if err != nil {
		return nil, fmt.Errorf("opening package store: %w", err)
	}
	if err := st.Initialize(); err != nil {
		return nil, fmt.Errorf("scanning installed apps: %w", err)
	}

	views := view.NewManager(
		view.Bounds{W: float64(cfg.Window.Width), H: float64(cfg.Window.Height)},
		cfg.Tiling, opts.CSSDir, events, opts.Surfaces,
	)
	if opts.BridgeAddr != "" {
		views.SetBridgeURL("ws://" + opts.BridgeAddr + "/bridge")
	}

	var processes *process.Manager
	backends := backend.New(nil, func(appID string) { processes.OnBackendExit()(appID) }, logger)
	processes = process.New(st, backends, views, events, logger)
	processes.SetPermissions(perms)

	channels, err := channel.New(views, backends, filepath.Join(opts.DBDir, "channel.db"))
	if err != nil {
		return nil, fmt.Errorf("opening channel broker: %w", err)
	}
	processes.SetChannels(channels)

	commands.RegisterManager(st)
	commands.RegisterManager(processes)
	commands.RegisterManager(views)
	commands.RegisterManager(channels)

	up := updater.New(cfg.UpdateFeedURL)
	commands.Register(bus.HandlerSpec{
		Namespace: "system", Action: "check-update",
		Invoke: func(_ context.Context, args bus.Args) (any, error) {
			return up.CheckLatestRelease(opts.Version)
		},
	})

	h := &Host{
		cfg: cfg, configPath: opts.ConfigPath, logger: logger,
		perms: perms, commands: commands, events: events,
		store: st, views: views, backends: backends,
		channels: channels, processes: processes, updater: up,
	}
	for _, spec := range h.settingsHandlers() {
		commands.Register(spec)
	}

	h.bridge = NewBridge(commands, events, logger)
	if opts.BridgeAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/bridge", h.bridge)
		h.bridgeSrv = &http.Server{Addr: opts.BridgeAddr, Handler: mux}
	}

	if cfg.Development {
		w, err := hotreload.New(st, events, logger)
		if err != nil {
			return nil, fmt.Errorf("starting hot-reload watcher: %w", err)
		}
		h.hotreload = w
	}
	return h, nil
}

// Serve starts the message channel listener, if configured, then launches
// every autostart app. It returns once autostart has run; the bridge
// listener keeps running in the background until Shutdown.
func (h *Host) Serve(ctx context.Context) {
	if h.bridgeSrv != nil {
		go func() {
			if err := h.bridgeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				h.logger.Error("bridge listener exited", "error", err)
			}
		}()
	}
	if h.hotreload != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		h.hotreloadStop = cancel
		go func() {
			if err := h.hotreload.Run(watchCtx); err != nil {
				h.logger.Error("hot-reload watcher exited", "error", err)
			}
		}()
	}
	h.autostart(ctx)
}

// autostart launches every installed app with manifest.autostart=true,
// plus every id named in cfg.autostart that isn't already covered,
// logging and continuing past individual failures so one broken app
// never blocks the rest of startup.
func (h *Host) autostart(ctx context.Context) {
	launched := make(map[string]bool)
	for _, app := range h.store.List(true) {
		if !app.Manifest.Autostart {
			continue
		}
		launched[app.Manifest.ID] = true
		if _, err := h.processes.Launch(ctx, app.Manifest.ID, process.LaunchOptions{}); err != nil {
			h.logger.Error("autostart failed", "app_id", app.Manifest.ID, "error", err)
		}
	}
	for _, appID := range h.cfg.Autostart {
		if launched[appID] {
			continue
		}
		if _, err := h.processes.Launch(ctx, appID, process.LaunchOptions{}); err != nil {
			h.logger.Error("autostart failed", "app_id", appID, "error", err)
		}
	}
}

// Shutdown stops the hot-reload watcher and every running app, closes the
// channel broker's audit database, drains the bridge listener, and finally
// closes the package store's audit database — in that order, so no app is
// left holding an open backend connection to a broker that has already
// closed its database.
func (h *Host) Shutdown(ctx context.Context) {
	if h.hotreloadStop != nil {
		h.hotreloadStop()
	}
	h.processes.Shutdown()

	if err := h.channels.Close(); err != nil {
		h.logger.Warn("closing channel broker database", "error", err)
	}
	if h.bridgeSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := h.bridgeSrv.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("shutting down bridge listener", "error", err)
		}
	}
	if err := h.store.Close(); err != nil {
		h.logger.Warn("closing package store database", "error", err)
	}
}

func (h *Host) CommandBus() *bus.CommandBus      { return h.commands }
func (h *Host) EventBus() *bus.EventBus          { return h.events }
func (h *Host) Permissions() *permission.Registry { return h.perms }
func (h *Host) Store() *store.Store              { return h.store }
func (h *Host) Views() *view.Manager             { return h.views }
func (h *Host) Backends() *backend.Supervisor    { return h.backends }
func (h *Host) Processes() *process.Manager      { return h.processes }
func (h *Host) Channels() *channel.Broker        { return h.channels }

// Package bus implements the host's command and event buses: a namespaced
// handler registry invoked with an enforced deadline and permission check,
// and a subscription table delivering events to internal listeners and
// remote views.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/permission"
)

// Args is the argument bag passed to a command handler. The Command Bus
// injects "_caller_app_id" and "_caller_surface_id" before invocation.
type Args map[string]any

const (
	keyCallerAppID     = "_caller_app_id"
	keyCallerSurfaceID = "_caller_surface_id"
)

// HandlerFunc executes one command invocation.
type HandlerFunc func(ctx context.Context, args Args) (any, error)

// HandlerSpec describes one "namespace/action" registration.
type HandlerSpec struct {
	Namespace    string
	Action       string
	RequiredPerm string // empty means no permission required
	Invoke       HandlerFunc
}

// Manager is implemented by any subsystem that exposes command handlers to
// the bus.
type Manager interface {
	CommandHandlers() []HandlerSpec
}

type registeredHandler struct {
	requiredPerm string
	invoke       HandlerFunc
}

// CommandBus is the namespaced "ns/action" -> handler registry.
type CommandBus struct {
	mu       sync.RWMutex
	handlers map[string]registeredHandler
	perms    *permission.Registry
	logger   *slog.Logger
}

// NewCommandBus constructs an empty Command Bus backed by perms for
// per-handler permission checks.
func NewCommandBus(perms *permission.Registry, logger *slog.Logger) *CommandBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandBus{
		handlers: make(map[string]registeredHandler),
		perms:    perms,
		logger:   logger,
	}
}

// RegisterManager enumerates m's HandlerSpecs and registers each one.
// Re-registering an existing "namespace/action" overwrites it with a
// warning.
func (b *CommandBus) RegisterManager(m Manager) {
	for _, spec := range m.CommandHandlers() {
		b.register(spec)
	}
}

// Register registers a single handler, mainly for tests and one-off
// handlers that don't warrant a full Manager.
func (b *CommandBus) Register(spec HandlerSpec) {
	b.register(spec)
}

func (b *CommandBus) register(spec HandlerSpec) {
	name := commandName(spec.Namespace, spec.Action)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[name]; exists {
		b.logger.Warn("command handler overwritten", "command", name)
	}
	b.handlers[name] = registeredHandler{
		requiredPerm: spec.RequiredPerm,
		invoke:       spec.Invoke,
	}
}

// Execute looks up command, enforces its permission requirement against
// callerAppID (when present), and invokes it under a deadline. A missing
// handler surfaces NotFound; a permission failure surfaces PermissionDenied;
// exceeding the deadline surfaces Timeout.
func (b *CommandBus) Execute(ctx context.Context, command string, args Args, callerAppID, callerSurfaceID string) (any, error) {
	b.mu.RLock()
	h, ok := b.handlers[command]
	b.mu.RUnlock()
	if !ok {
		return nil, edenerr.New(edenerr.NotFound, "no handler registered for command %q", command)
	}

	if h.requiredPerm != "" && callerAppID != "" {
		if b.perms == nil || !b.perms.Has(callerAppID, h.requiredPerm) {
			return nil, edenerr.New(edenerr.PermissionDenied, "%s lacks %q required by %q", callerAppID, h.requiredPerm, command)
		}
	}

	if args == nil {
		args = Args{}
	}
	args[keyCallerAppID] = callerAppID
	args[keyCallerSurfaceID] = callerSurfaceID

	ctx, cancel := context.WithTimeout(ctx, config.CommandDeadline*time.Second)
	defer cancel()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := h.invoke(ctx, args)
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		return nil, edenerr.New(edenerr.Timeout, "command %q exceeded its deadline", command)
	}
}

func commandName(namespace, action string) string {
	return fmt.Sprintf("%s/%s", namespace, action)
}

// Package channel implements the channel broker: it hands out paired
// message-port identifiers between two running apps for a named service,
// tracks the resulting connections, and notifies the surviving endpoint
// when the other side closes.
package channel

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edenite/eden-host/internal/backend"
	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/view"
)

// EndpointKind distinguishes a web-view endpoint from a headless backend
// endpoint.
type EndpointKind string

const (
	Frontend EndpointKind = "Frontend"
	Backend  EndpointKind = "Backend"
)

// Endpoint identifies one side of a service or connection: an app id, its
// kind, and — for a Frontend endpoint — the view carrying it.
type Endpoint struct {
	AppID  string
	Kind   EndpointKind
	ViewID uint32 // only meaningful when Kind == Frontend
}

// Service is a registered, connectable capability offered by one app.
type Service struct {
	Provider       Endpoint
	Name           string
	Description    string
	AllowedClients map[string]bool // nil/empty means "any app may connect"
}

type serviceKey struct {
	appID string
	name  string
}

// Connection is a live, broker-recorded port pair. Once established, the
// two endpoints communicate peer-to-peer; the broker retains only enough
// to deliver a close notification.
type Connection struct {
	ID        string
	Requester Endpoint
	Target    Endpoint
	Service   string
}

// Broker is the Channel Broker. It owns every registered Service and every
// open Connection.
type Broker struct {
	mu          sync.Mutex
	services    map[serviceKey]*Service
	connections map[string]*Connection

	views    *view.Manager
	backends *backend.Supervisor
	db       *sql.DB // audit trail only; nil is valid and simply skips logging
}

// New wires a Broker over the View Manager and Backend Supervisor it needs
// to check endpoint liveness and deliver port-transfer/port-closed
// messages. dbPath, if non-empty, opens a SQLite audit trail of every
// connect/close; pass "" in tests that don't care about it.
func New(views *view.Manager, backends *backend.Supervisor, dbPath string) (*Broker, error) {
	b := &Broker{
		services:    make(map[serviceKey]*Service),
		connections: make(map[string]*Connection),
		views:       views,
		backends:    backends,
	}
	if dbPath == "" {
		return b, nil
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening channel broker audit database: %w", err)
	}
	db.SetMaxOpenConns(4)
	b.db = db
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating channel broker audit database: %w", err)
	}
	return b, nil
}

// Close closes the audit trail database, if one was opened.
func (b *Broker) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Broker) migrate() error {
	_, err := b.db.Exec(`
		CREATE TABLE IF NOT EXISTS connections (
			connection_id TEXT PRIMARY KEY,
			requester_app TEXT NOT NULL,
			target_app    TEXT NOT NULL,
			service_name  TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			closed_at     TEXT
		);
		CREATE TABLE IF NOT EXISTS connection_events (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			connection_id TEXT NOT NULL,
			action        TEXT NOT NULL,
			created_at    TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_connection_events_connection_id ON connection_events(connection_id);
	`)
	return err
}

func (b *Broker) recordConnect(c *Connection) {
	if b.db == nil {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := b.db.Exec(
		`INSERT INTO connections (connection_id, requester_app, target_app, service_name, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Requester.AppID, c.Target.AppID, c.Service, now,
	); err != nil {
		return // the audit trail is best-effort; the connection itself has already succeeded
	}
	_, _ = b.db.Exec(`INSERT INTO connection_events (connection_id, action, created_at) VALUES (?, 'connect', ?)`, c.ID, now)
}

func (b *Broker) recordClose(connectionID string) {
	if b.db == nil {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, _ = b.db.Exec(`UPDATE connections SET closed_at = ? WHERE connection_id = ?`, now, connectionID)
	_, _ = b.db.Exec(`INSERT INTO connection_events (connection_id, action, created_at) VALUES (?, 'close', ?)`, connectionID, now)
}

// RegisterService registers providerApp's service under name. Fails
// AlreadyExists if (providerApp, name) is already registered.
func (b *Broker) RegisterService(provider Endpoint, name, description string, allowedClients []string) error {
	key := serviceKey{provider.AppID, name}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.services[key]; exists {
		return edenerr.New(edenerr.AlreadyExists, "service %q is already registered for app %s", name, provider.AppID)
	}

	var allowed map[string]bool
	if len(allowedClients) > 0 {
		allowed = make(map[string]bool, len(allowedClients))
		for _, c := range allowedClients {
			allowed[c] = true
		}
	}
	b.services[key] = &Service{Provider: provider, Name: name, Description: description, AllowedClients: allowed}
	return nil
}

// UnregisterService removes one (providerApp, name) service. A no-op if it
// was never registered.
func (b *Broker) UnregisterService(providerApp, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.services, serviceKey{providerApp, name})
}

// UnregisterAllServices removes every service appID provides, and closes
// every connection touching appID — called when the Process Manager stops
// appID.
func (b *Broker) UnregisterAllServices(appID string) {
	b.mu.Lock()
	for key := range b.services {
		if key.appID == appID {
			delete(b.services, key)
		}
	}
	b.mu.Unlock()

	b.CloseConnectionsForApp(appID)
}

// Connect establishes a connection from requester to target's named
// service, returning the fresh connection id. Checks run in a fixed order:
// lookup, permission, then liveness of both ends —
// the port pair is created only once every precondition passes, so a
// failure never leaves one side holding a port the other never received.
func (b *Broker) Connect(requester Endpoint, target Endpoint, serviceName string) (string, error) {
	b.mu.Lock()
	svc, ok := b.services[serviceKey{target.AppID, serviceName}]
	b.mu.Unlock()
	if !ok {
		return "", edenerr.New(edenerr.NotFound, "service %q is not registered for app %s", serviceName, target.AppID)
	}

	if len(svc.AllowedClients) > 0 && !svc.AllowedClients[requester.AppID] {
		return "", edenerr.New(edenerr.PermissionDenied, "app %s is not allowed to connect to %s's %q service", requester.AppID, target.AppID, serviceName)
	}

	if !b.alive(requester) {
		return "", edenerr.New(edenerr.RequesterGone, "requester app %s is no longer running", requester.AppID)
	}
	if !b.alive(svc.Provider) {
		return "", edenerr.New(edenerr.ProviderGone, "provider app %s is no longer running", target.AppID)
	}

	connectionID := fmt.Sprintf("%s->%s:%s:%d", requester.AppID, target.AppID, serviceName, time.Now().UnixNano())

	if err := b.deliver(requester, connectionID, "client"); err != nil {
		return "", edenerr.Wrap(edenerr.Io, err, "transferring port to requester %s", requester.AppID)
	}
	if err := b.deliver(svc.Provider, connectionID, "service"); err != nil {
		return "", edenerr.Wrap(edenerr.Io, err, "transferring port to provider %s", target.AppID)
	}

	c := &Connection{
		ID:        connectionID,
		Requester: requester,
		Target:    svc.Provider,
		Service:   serviceName,
	}
	b.mu.Lock()
	b.connections[connectionID] = c
	b.mu.Unlock()
	b.recordConnect(c)

	return connectionID, nil
}

// CloseConnectionsForApp sends a port-closed notification to the surviving
// endpoint of every connection touching appID, then drops the records.
func (b *Broker) CloseConnectionsForApp(appID string) {
	b.mu.Lock()
	var toClose []*Connection
	for id, c := range b.connections {
		if c.Requester.AppID == appID || c.Target.AppID == appID {
			toClose = append(toClose, c)
			delete(b.connections, id)
		}
	}
	b.mu.Unlock()

	for _, c := range toClose {
		survivor := c.Target
		if c.Target.AppID == appID {
			survivor = c.Requester
		}
		_ = b.notifyClosed(survivor, c.ID)
		b.recordClose(c.ID)
	}
}

func (b *Broker) alive(e Endpoint) bool {
	switch e.Kind {
	case Frontend:
		return b.views.Alive(e.ViewID)
	case Backend:
		return b.backends.Running(e.AppID)
	default:
		return false
	}
}

func (b *Broker) deliver(e Endpoint, connectionID, role string) error {
	payload := map[string]any{"type": "port-transfer", "connection_id": connectionID, "role": role}
	switch e.Kind {
	case Frontend:
		return b.views.SendToView(e.ViewID, bus.Frame{Type: "port-transfer", Payload: payload})
	case Backend:
		return b.backends.Send(e.AppID, payload)
	default:
		return edenerr.New(edenerr.BadFormat, "endpoint %s has an unknown kind %q", e.AppID, e.Kind)
	}
}

func (b *Broker) notifyClosed(e Endpoint, connectionID string) error {
	payload := map[string]any{"type": "port-closed", "connection_id": connectionID}
	switch e.Kind {
	case Frontend:
		return b.views.SendToView(e.ViewID, bus.Frame{Type: "port-closed", Payload: payload})
	case Backend:
		return b.backends.Send(e.AppID, payload)
	default:
		return nil
	}
}

// CommandHandlers implements bus.Manager, exposing register-service/
// unregister-service/connect as the "channel/*" command namespace.
// The caller's endpoint is derived from the identity the
// Command Bus already injects: a Frontend caller carries a
// _caller_surface_id (its view id), a Backend caller does not.
func (b *Broker) CommandHandlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{
		{Namespace: "channel", Action: "register-service", Invoke: b.handleRegisterService},
		{Namespace: "channel", Action: "unregister-service", Invoke: b.handleUnregisterService},
		{Namespace: "channel", Action: "connect", Invoke: b.handleConnect},
	}
}

func callerEndpoint(args bus.Args) (Endpoint, error) {
	appID, _ := args["_caller_app_id"].(string)
	if appID == "" {
		return Endpoint{}, edenerr.New(edenerr.BadFormat, "this command requires a caller app id")
	}
	if surfaceID, _ := args["_caller_surface_id"].(string); surfaceID != "" {
		if n, err := strconv.ParseUint(surfaceID, 10, 32); err == nil {
			return Endpoint{AppID: appID, Kind: Frontend, ViewID: uint32(n)}, nil
		}
	}
	return Endpoint{AppID: appID, Kind: Backend}, nil
}

func (b *Broker) handleRegisterService(_ context.Context, args bus.Args) (any, error) {
	provider, err := callerEndpoint(args)
	if err != nil {
		return nil, err
	}
	name, _ := args["name"].(string)
	description, _ := args["description"].(string)
	var allowed []string
	if raw, ok := args["allowed_clients"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				allowed = append(allowed, s)
			}
		}
	}
	if err := b.RegisterService(provider, name, description, allowed); err != nil {
		return nil, err
	}
	return map[string]any{"name": name}, nil
}

func (b *Broker) handleUnregisterService(_ context.Context, args bus.Args) (any, error) {
	appID, _ := args["_caller_app_id"].(string)
	name, _ := args["name"].(string)
	b.UnregisterService(appID, name)
	return nil, nil
}

func (b *Broker) handleConnect(_ context.Context, args bus.Args) (any, error) {
	requester, err := callerEndpoint(args)
	if err != nil {
		return nil, err
	}
	targetAppID, _ := args["target_app_id"].(string)
	serviceName, _ := args["service"].(string)
	connID, err := b.Connect(requester, Endpoint{AppID: targetAppID}, serviceName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"connection_id": connID}, nil
}

// Connections returns a snapshot of every open connection, for diagnostics.
func (b *Broker) Connections() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Connection, 0, len(b.connections))
	for _, c := range b.connections {
		out = append(out, c)
	}
	return out
}

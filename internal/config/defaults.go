package config

const (
	// Filesystem paths
	DefaultConfigPath    = "/etc/eden/config.yml"
	DefaultDataDir       = "/var/lib/eden"
	DefaultLogDir        = "/var/log/eden"
	DefaultAppsDirectory = "/var/lib/eden/apps"
	DefaultUserDirectory = "/var/lib/eden/user"
	DefaultPrebuiltDir   = "/usr/share/eden/apps"

	// Window defaults
	DefaultWindowWidth      = 1280
	DefaultWindowHeight     = 800
	DefaultWindowTitle      = "Eden"
	DefaultWindowBackground = "#0b0b0f"

	// Tiling defaults
	ModeNone           = "none"
	ModeHorizontal     = "horizontal"
	ModeVertical       = "vertical"
	ModeGrid           = "grid"
	DefaultTileGap     = 10
	DefaultTilePadding = 20
	DefaultTileColumns = 2
	DefaultTileRows    = 2

	// Command bus / backend timeouts
	CommandDeadline          = 10 // seconds
	BackendStartupTimeout    = 10 // seconds
	BackendShutdownGrace     = 500 // milliseconds
	BackendShutdownHardCap   = 5   // seconds
	ProcessReloadDelay       = 100 // milliseconds, let the web engine release file handles across reload

	// View z-order ranges: app views and overlays live in disjoint bands
	// so app-level reordering can never push an overlay under an app.
	AppZMin     = 1
	AppZMax     = 999
	OverlayZMin = 1000
	OverlayZMax = 9999
)

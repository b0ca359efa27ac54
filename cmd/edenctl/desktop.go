//go:build desktop

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/host"
	"github.com/edenite/eden-host/internal/version"
	"github.com/edenite/eden-host/internal/view/wailssurface"
)

// RunDesktop boots the wails application, wires it into the view manager
// as internal/host's surface factory, and runs the host until a shutdown
// signal or the application quits. DisableQuitOnLastWindowClosed keeps the
// host alive while apps open and close their windows; SIGINT/SIGTERM
// drives a graceful shutdown.
func RunDesktop(cfg config.Config, configPath, bridgeAddr string, logger *slog.Logger) error {
	wailsApp := application.New(application.Options{
		Name: "Eden",
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: false,
		},
		Windows: application.WindowsOptions{
			DisableQuitOnLastWindowClosed: true,
		},
		Linux: application.LinuxOptions{
			DisableQuitOnLastWindowClosed: true,
			ProgramName:                   "eden",
		},
	})

	h, err := host.New(cfg, host.Options{
		DBDir:      filepath.Join(config.DefaultDataDir, "db"),
		CSSDir:     filepath.Join(config.DefaultDataDir, "assets", "css"),
		ConfigPath: configPath,
		BridgeAddr: bridgeAddr,
		Surfaces:   wailssurface.Factory(wailsApp),
		Version:    version.Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing host: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
		wailsApp.Quit()
	}()

	h.Serve(ctx)
	runErr := wailsApp.Run()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	h.Shutdown(shutdownCtx)
	return runErr
}

//go:build !desktop

package main

import (
	"fmt"
	"log/slog"

	"github.com/edenite/eden-host/internal/config"
)

// RunDesktop reports that this build has no embedded browser engine wired
// in. Build with -tags desktop to get a real window surface factory from
// internal/view/wailssurface.
func RunDesktop(cfg config.Config, configPath, bridgeAddr string, logger *slog.Logger) error {
	return fmt.Errorf("edenctl was built without -tags desktop; no window surface is available")
}

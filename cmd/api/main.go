// Package main provides the entry point for the Chorus moderation server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/chorusfm/moderation-server/internal/di"
	"github.com/chorusfm/moderation-server/internal/di/providers"
	"github.com/chorusfm/moderation-server/internal/logger"
)

func main() {
	injector := di.NewContainer()

	if err := di.Bootstrap(injector); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap server: %v\n", err)
		os.Exit(1)
	}

	log := do.MustInvoke[*logger.Logger](injector)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server gracefully...")

	// The container shuts services down in reverse provide order: the HTTP
	// server stops accepting, the orchestrator drains, then storage closes.
	if err := injector.Shutdown(); err != nil {
		log.Error("Shutdown error", "error", err)
	}

	// Stores use wrapper handles; close them explicitly in case the container
	// resolved but never invoked them.
	if storeHandle, err := do.Invoke[*providers.StoreHandle](injector); err == nil {
		if err := storeHandle.Shutdown(); err != nil {
			log.Error("Failed to close database", "error", err)
		}
	}
	if archiveHandle, err := do.Invoke[*providers.ArchiveHandle](injector); err == nil {
		if err := archiveHandle.Shutdown(); err != nil {
			log.Error("Failed to close archive", "error", err)
		}
	}

	log.Info("Moderation server stopped")
}

// Package di provides dependency injection configuration for the moderation server.
package di

import (
	"github.com/samber/do/v2"

	"github.com/chorusfm/moderation-server/internal/config"
	"github.com/chorusfm/moderation-server/internal/di/providers"
	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/logger"
	"github.com/chorusfm/moderation-server/internal/service"
	"github.com/chorusfm/moderation-server/internal/stream"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer() *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.Provide(injector, providers.ProvideConfig)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideSlogLogger)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideArchive)

	// Label authority
	do.Provide(injector, providers.ProvideBroadcaster)
	do.Provide(injector, providers.ProvideKeyProvider)
	do.Provide(injector, providers.ProvideAuthority)
	do.Provide(injector, providers.ProvideStreamHandler)

	// Scan pipeline
	do.Provide(injector, providers.ProvideGatewayClient)
	do.Provide(injector, providers.ProvidePolicy)
	do.Provide(injector, providers.ProvideOrchestrator)

	// Business services
	do.Provide(injector, providers.ProvideReviewService)

	// Server
	do.Provide(injector, providers.ProvideHTTPServer)

	return injector
}

// Bootstrap initializes all services and returns handles for lifecycle management.
// This triggers lazy initialization of all core services.
func Bootstrap(injector *do.RootScope) error {
	_ = do.MustInvoke[*config.Config](injector)
	_ = do.MustInvoke[*logger.Logger](injector)
	_ = do.MustInvoke[*providers.StoreHandle](injector)
	_ = do.MustInvoke[*providers.ArchiveHandle](injector)
	_ = do.MustInvoke[*providers.BroadcasterHandle](injector)
	_ = do.MustInvoke[*labels.Authority](injector)
	_ = do.MustInvoke[*stream.Handler](injector)
	_ = do.MustInvoke[*providers.OrchestratorHandle](injector)
	_ = do.MustInvoke[*service.Review](injector)
	_ = do.MustInvoke[*providers.HTTPServerHandle](injector)

	return nil
}

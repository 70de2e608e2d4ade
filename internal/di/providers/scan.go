package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/chorusfm/moderation-server/internal/config"
	"github.com/chorusfm/moderation-server/internal/gateway"
	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/logger"
	"github.com/chorusfm/moderation-server/internal/policy"
	"github.com/chorusfm/moderation-server/internal/scan"
)

// ProvideGatewayClient provides the recognition provider client.
func ProvideGatewayClient(i do.Injector) (*gateway.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Provider.APIToken == "" {
		log.Warn("No recognition provider token configured - scans will fail until one is set")
	}

	return gateway.New(gateway.Config{
		URL:               cfg.Provider.URL,
		APIToken:          cfg.Provider.APIToken,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
		Burst:             cfg.Provider.Burst,
	}, log.Logger), nil
}

// ProvidePolicy provides the configured flagging policy.
func ProvidePolicy(i do.Injector) (policy.Policy, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	pol, err := policy.FromConfig(cfg.Scan.Policy, cfg.Scan.Threshold)
	if err != nil {
		return nil, err
	}

	log.Info("Flagging policy configured", "policy", pol.Name())
	return pol, nil
}

// OrchestratorHandle wraps the orchestrator with its backfill lifecycle.
type OrchestratorHandle struct {
	*scan.Orchestrator
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable. It stops the backfill job and waits
// for in-flight scans to land.
func (h *OrchestratorHandle) Shutdown() error {
	h.cancel()
	h.Wait()
	return nil
}

// ProvideOrchestrator provides the scan orchestrator with its backfill job running.
func ProvideOrchestrator(i do.Injector) (*OrchestratorHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	archiveHandle := do.MustInvoke[*ArchiveHandle](i)
	authority := do.MustInvoke[*labels.Authority](i)
	client := do.MustInvoke[*gateway.Client](i)
	pol := do.MustInvoke[policy.Policy](i)

	orchestrator := scan.New(scan.Config{
		MaxDuration:      cfg.Scan.MaxDuration,
		ScanTimeout:      cfg.Provider.Timeout * 2,
		BackfillInterval: cfg.Scan.BackfillInterval,
	}, client, storeHandle.Store, archiveHandle.Archive, authority, pol, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	go orchestrator.RunBackfill(ctx)

	return &OrchestratorHandle{Orchestrator: orchestrator, cancel: cancel}, nil
}

package providers

import (
	"os"

	"github.com/samber/do/v2"

	"github.com/chorusfm/moderation-server/internal/config"
	"github.com/chorusfm/moderation-server/internal/logger"
	"github.com/chorusfm/moderation-server/internal/store"
	"github.com/chorusfm/moderation-server/internal/store/archive"
)

// StoreHandle wraps the store with shutdown capability.
type StoreHandle struct {
	*store.Store
}

// Shutdown implements do.Shutdownable.
func (h *StoreHandle) Shutdown() error {
	return h.Close()
}

// ProvideStore provides the sqlite store holding labels, scans, and cases.
func ProvideStore(i do.Injector) (*StoreHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if err := os.MkdirAll(cfg.Storage.DataPath, 0o750); err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.Storage.DatabasePath(), log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Database initialized", "path", cfg.Storage.DatabasePath())

	return &StoreHandle{Store: db}, nil
}

// ArchiveHandle wraps the raw-payload archive with shutdown capability.
type ArchiveHandle struct {
	*archive.Archive
}

// Shutdown implements do.Shutdownable.
func (h *ArchiveHandle) Shutdown() error {
	return h.Close()
}

// ProvideArchive provides the badger archive of raw provider payloads.
func ProvideArchive(i do.Injector) (*ArchiveHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	arc, err := archive.Open(cfg.Storage.ArchivePath(), cfg.Storage.ArchiveKeepPerSubject, log.Logger)
	if err != nil {
		return nil, err
	}

	log.Info("Payload archive initialized",
		"path", cfg.Storage.ArchivePath(),
		"keep_per_subject", cfg.Storage.ArchiveKeepPerSubject)

	return &ArchiveHandle{Archive: arc}, nil
}

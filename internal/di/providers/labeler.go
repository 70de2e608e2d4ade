package providers

import (
	"github.com/samber/do/v2"

	"github.com/chorusfm/moderation-server/internal/config"
	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/logger"
	"github.com/chorusfm/moderation-server/internal/signing"
	"github.com/chorusfm/moderation-server/internal/stream"
)

// BroadcasterHandle wraps the label broadcaster with Shutdownable.
type BroadcasterHandle struct {
	*stream.Broadcaster
}

// Shutdown implements do.Shutdownable.
func (h *BroadcasterHandle) Shutdown() error {
	h.Broadcaster.Shutdown()
	return nil
}

// ProvideBroadcaster provides the live label fan-out.
func ProvideBroadcaster(i do.Injector) (*BroadcasterHandle, error) {
	log := do.MustInvoke[*logger.Logger](i)
	return &BroadcasterHandle{Broadcaster: stream.NewBroadcaster(log.Logger)}, nil
}

// ProvideKeyProvider provides the label signing key, nil when unconfigured.
// A nil provider keeps the read surfaces up while Emit fails until a key
// is deployed.
func ProvideKeyProvider(i do.Injector) (signing.KeyProvider, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if !cfg.LabelerEnabled() {
		log.Warn("Label signing not configured - label emission disabled",
			"issuer_did_set", cfg.Labeler.IssuerDID != "",
			"signing_key_set", cfg.Labeler.SigningKeyHex != "")
		return nil, nil
	}

	keys, err := signing.NewLocalKeyProvider(cfg.Labeler.SigningKeyHex, cfg.Labeler.KeyVersion)
	if err != nil {
		return nil, err
	}

	log.Info("Label signing key loaded", "key_version", cfg.Labeler.KeyVersion)
	return keys, nil
}

// ProvideAuthority provides the label authority.
func ProvideAuthority(i do.Injector) (*labels.Authority, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	broadcaster := do.MustInvoke[*BroadcasterHandle](i)
	keys := do.MustInvoke[signing.KeyProvider](i)

	return labels.New(storeHandle.Store, keys, broadcaster.Broadcaster, cfg.Labeler.IssuerDID, log.Logger), nil
}

// ProvideStreamHandler provides the SSE subscription endpoint handler.
func ProvideStreamHandler(i do.Injector) (*stream.Handler, error) {
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	broadcaster := do.MustInvoke[*BroadcasterHandle](i)

	return stream.NewHandler(storeHandle.Store, broadcaster.Broadcaster, log.Logger), nil
}

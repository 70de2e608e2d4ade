// Package labels implements the label authority: the single writer that
// signs, orders, and publishes moderation labels.
package labels

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/errors"
	"github.com/chorusfm/moderation-server/internal/signing"
)

// Store is the persistence the authority needs.
type Store interface {
	AppendLabel(ctx context.Context, l *domain.Label) error
	EffectiveLabel(ctx context.Context, uri, val string) (*domain.Label, error)
}

// Publisher receives committed labels for live distribution.
type Publisher interface {
	Publish(label domain.Label)
}

// EmitRequest asks the authority for a new label.
type EmitRequest struct {
	SubjectURI         string
	SubjectFingerprint string
	Value              string
	Negated            bool
	ExpiresAt          *time.Time
}

// Authority signs and appends labels with strictly ordered seqs.
type Authority struct {
	store     Store
	keys      signing.KeyProvider
	publisher Publisher
	issuer    string
	logger    *slog.Logger

	// emitMu serializes the effective-state check with the append, so
	// concurrent emits for one subject cannot double-negate.
	emitMu sync.Mutex
}

// New creates a label authority. keys may be nil when no signing key is
// configured; Emit then fails with SIGNING_KEY_UNAVAILABLE until restart.
func New(store Store, keys signing.KeyProvider, publisher Publisher, issuer string, logger *slog.Logger) *Authority {
	return &Authority{
		store:     store,
		keys:      keys,
		publisher: publisher,
		issuer:    issuer,
		logger:    logger,
	}
}

// Emit signs and appends a label, then publishes it to subscribers.
//
// Emit is idempotent on effective state: when the (subject, value) pair is
// already in the requested polarity, the row that established it is returned
// and nothing is appended. Exactly one negation ever retracts an affirmation.
func (a *Authority) Emit(ctx context.Context, req EmitRequest) (*domain.Label, error) {
	if a.keys == nil {
		return nil, errors.SigningKeyUnavailable("label authority has no signing key")
	}
	if req.SubjectURI == "" || req.Value == "" {
		return nil, errors.Validation("subject uri and value are required")
	}

	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	current, err := a.store.EffectiveLabel(ctx, req.SubjectURI, req.Value)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if current != nil && current.Negated == req.Negated {
		a.logger.Debug("label emit is a no-op",
			slog.String("uri", req.SubjectURI),
			slog.Int64("seq", current.Seq),
			slog.Bool("negated", req.Negated))
		return current, nil
	}

	label := &domain.Label{
		Version:            1,
		Issuer:             a.issuer,
		SubjectURI:         req.SubjectURI,
		SubjectFingerprint: req.SubjectFingerprint,
		Value:              req.Value,
		Negated:            req.Negated,
		CreatedAt:          time.Now().UTC(),
		ExpiresAt:          req.ExpiresAt,
	}

	if err := signing.SignLabel(label, a.keys); err != nil {
		return nil, err
	}

	if err := a.store.AppendLabel(ctx, label); err != nil {
		return nil, err
	}

	a.logger.Info("label emitted",
		slog.Int64("seq", label.Seq),
		slog.String("uri", label.SubjectURI),
		slog.String("val", label.Value),
		slog.Bool("negated", label.Negated))

	// Publish only after the commit; subscribers never see uncommitted seqs.
	if a.publisher != nil {
		a.publisher.Publish(*label)
	}

	return label, nil
}

// PublicKeyPEM returns the PEM verification key for a key version.
func (a *Authority) PublicKeyPEM(version string) (string, error) {
	if a.keys == nil {
		return "", errors.SigningKeyUnavailable("label authority has no signing key")
	}
	return signing.PublicKeyPEM(a.keys, version)
}

// KeyVersion returns the active signing key version, empty when unsigned.
func (a *Authority) KeyVersion() string {
	if a.keys == nil {
		return ""
	}
	return a.keys.Version()
}

// Issuer returns the authority's DID.
func (a *Authority) Issuer() string {
	return a.issuer
}

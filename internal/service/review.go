// Package service holds the application services behind the HTTP API.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/errors"
	"github.com/chorusfm/moderation-server/internal/labels"
)

// ReviewStore is the persistence the review workflow needs.
type ReviewStore interface {
	GetReviewCase(ctx context.Context, id string) (*domain.ReviewCase, error)
	ResolveReviewCase(ctx context.Context, id string, resolution domain.Resolution, resolvedBy, notes string, at time.Time) error
	ListReviewQueue(ctx context.Context, limit int) ([]domain.ReviewCase, error)
	GetScanResult(ctx context.Context, subjectID string) (*domain.ScanResult, error)
}

// Emitter requests label emission from the label authority.
type Emitter interface {
	Emit(ctx context.Context, req labels.EmitRequest) (*domain.Label, error)
}

// Review resolves flagged cases and serves the review queue.
type Review struct {
	store   ReviewStore
	emitter Emitter
	logger  *slog.Logger
}

// NewReview creates the review service.
func NewReview(store ReviewStore, emitter Emitter, logger *slog.Logger) *Review {
	return &Review{
		store:   store,
		emitter: emitter,
		logger:  logger,
	}
}

// Resolve applies a human verdict to a case.
//
// A clearing verdict (false_positive, original_artist) emits exactly one
// negation before the resolution is recorded; if the emission fails the case
// stays unresolved and the call can be retried. Repeating a resolution is a
// no-op; changing a terminal resolution is rejected.
func (r *Review) Resolve(ctx context.Context, caseID string, resolution domain.Resolution, resolvedBy, notes string) (*domain.ReviewCase, error) {
	if !resolution.Valid() {
		return nil, errors.UnknownResolution("unknown resolution " + string(resolution))
	}
	if !resolution.Terminal() {
		return nil, errors.Validation("resolution must be a terminal verdict")
	}

	reviewCase, err := r.store.GetReviewCase(ctx, caseID)
	if err != nil {
		return nil, err
	}

	if !reviewCase.Pending() {
		if reviewCase.Resolution == resolution {
			// Retried verdict, nothing to do.
			return reviewCase, nil
		}
		return nil, errors.Conflictf("case %s already resolved as %s", caseID, reviewCase.Resolution)
	}

	if resolution.Negates() {
		// Negation first: the resolution is only recorded once the
		// retraction is durably in the label log.
		if _, err := r.emitter.Emit(ctx, labels.EmitRequest{
			SubjectURI: reviewCase.SubjectURI,
			Value:      domain.LabelCopyrightMatch,
			Negated:    true,
		}); err != nil {
			return nil, err
		}
	}

	if err := r.store.ResolveReviewCase(ctx, caseID, resolution, resolvedBy, notes, time.Now()); err != nil {
		return nil, err
	}

	r.logger.Info("case resolved",
		slog.String("case_id", caseID),
		slog.String("resolution", string(resolution)),
		slog.String("resolved_by", resolvedBy))

	return r.store.GetReviewCase(ctx, caseID)
}

// QueueEntry pairs a case with its scan context for reviewers.
type QueueEntry struct {
	Case domain.ReviewCase  `json:"case"`
	Scan *domain.ScanResult `json:"scan,omitempty"`
}

// Queue lists review cases, pending first, each with its scan verdict.
func (r *Review) Queue(ctx context.Context, limit int) ([]QueueEntry, error) {
	cases, err := r.store.ListReviewQueue(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]QueueEntry, 0, len(cases))
	for _, c := range cases {
		entry := QueueEntry{Case: c}
		scan, err := r.store.GetScanResult(ctx, c.SubjectID)
		if err == nil {
			entry.Scan = scan
		} else if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Package scan orchestrates the moderation pipeline: it accepts scan
// submissions, runs recognition asynchronously, applies the flagging policy,
// and opens review cases with affirmative labels for flagged subjects.
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/errors"
	"github.com/chorusfm/moderation-server/internal/gateway"
	"github.com/chorusfm/moderation-server/internal/id"
	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/policy"
	"github.com/chorusfm/moderation-server/internal/util"
)

// Recognizer is the recognition provider capability.
type Recognizer interface {
	Recognize(ctx context.Context, audioURL string) (*gateway.Recognition, error)
}

// Store is the persistence the orchestrator needs.
type Store interface {
	UpsertScanResult(ctx context.Context, r *domain.ScanResult) error
	GetScanResult(ctx context.Context, subjectID string) (*domain.ScanResult, error)
	ListScansByOutcome(ctx context.Context, outcome domain.ScanOutcome, limit int) ([]domain.ScanResult, error)
	CreateReviewCase(ctx context.Context, c *domain.ReviewCase) error
	GetPendingCaseBySubject(ctx context.Context, subjectID string) (*domain.ReviewCase, error)
	SetCaseLabelSeq(ctx context.Context, id string, seq int64) error
	ListUnlinkedCases(ctx context.Context, limit int) ([]domain.ReviewCase, error)
}

// Archiver retains raw provider payloads.
type Archiver interface {
	Put(subjectID string, payload []byte) error
}

// Emitter requests label emission from the label authority.
type Emitter interface {
	Emit(ctx context.Context, req labels.EmitRequest) (*domain.Label, error)
}

// SubmitRequest describes one piece of uploaded content to scan.
type SubmitRequest struct {
	SubjectID   string
	SubjectURI  string
	AudioURL    string
	Fingerprint string
	Duration    time.Duration
}

// Config tunes the orchestrator.
type Config struct {
	// MaxDuration is the content-length ceiling; longer content is not sent
	// to the provider (it bills per time unit) and completes unflagged.
	MaxDuration time.Duration
	// ScanTimeout bounds one asynchronous scan run.
	ScanTimeout time.Duration
	// BackfillInterval is how often the reconciliation job runs.
	BackfillInterval time.Duration
}

// Orchestrator runs the scan pipeline.
type Orchestrator struct {
	cfg        Config
	recognizer Recognizer
	store      Store
	archive    Archiver
	emitter    Emitter
	policy     policy.Policy
	logger     *slog.Logger

	// inFlight tracks subjects with a running scan; a second submit for
	// the same subject is rejected instead of queued.
	inFlight *util.SyncMap[string, time.Time]

	wg sync.WaitGroup
}

// New creates an orchestrator.
func New(cfg Config, recognizer Recognizer, store Store, archive Archiver, emitter Emitter, pol policy.Policy, logger *slog.Logger) *Orchestrator {
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 2 * time.Minute
	}
	if cfg.BackfillInterval <= 0 {
		cfg.BackfillInterval = 5 * time.Minute
	}

	return &Orchestrator{
		cfg:        cfg,
		recognizer: recognizer,
		store:      store,
		archive:    archive,
		emitter:    emitter,
		policy:     pol,
		logger:     logger,
		inFlight:   util.NewSyncMap[string, time.Time](),
	}
}

// Submit accepts a scan request and returns once it is queued.
// The scan itself runs asynchronously; its verdict lands in the store.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) error {
	if req.SubjectID == "" || req.SubjectURI == "" || req.AudioURL == "" {
		return errors.Validation("subject id, subject uri, and audio url are required")
	}

	if _, loaded := o.inFlight.LoadOrStore(req.SubjectID, time.Now()); loaded {
		return errors.ScanInFlight("scan already running for subject " + req.SubjectID)
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.inFlight.Delete(req.SubjectID)

		// The submitter's request context ends at the 202; the scan gets
		// its own deadline.
		scanCtx, cancel := context.WithTimeout(context.Background(), o.cfg.ScanTimeout)
		defer cancel()

		o.runScan(scanCtx, req)
	}()

	return nil
}

// Wait blocks until all in-flight scans finish. Used during shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// runScan performs one scan end to end and persists the verdict.
func (o *Orchestrator) runScan(ctx context.Context, req SubmitRequest) {
	now := time.Now()
	result := &domain.ScanResult{
		SubjectID:   req.SubjectID,
		SubjectURI:  req.SubjectURI,
		AudioURL:    req.AudioURL,
		Fingerprint: req.Fingerprint,
		DurationMS:  req.Duration.Milliseconds(),
		ScannedAt:   now,
		UpdatedAt:   now,
	}

	// Cost guard: content above the duration ceiling completes unscanned.
	if o.cfg.MaxDuration > 0 && req.Duration > o.cfg.MaxDuration {
		result.Outcome = domain.ScanCompleted
		result.Skipped = true
		if err := o.store.UpsertScanResult(ctx, result); err != nil {
			o.logger.Error("persist skipped scan failed",
				slog.String("subject_id", req.SubjectID),
				slog.String("error", err.Error()))
		}
		o.logger.Info("scan skipped by duration guard",
			slog.String("subject_id", req.SubjectID),
			slog.Duration("duration", req.Duration))
		return
	}

	rec, err := o.recognizer.Recognize(ctx, req.AudioURL)
	if err != nil {
		// Provider trouble is not a verdict; mark for rescan.
		result.Outcome = domain.ScanProviderError
		if upsertErr := o.store.UpsertScanResult(ctx, result); upsertErr != nil {
			o.logger.Error("persist failed scan failed",
				slog.String("subject_id", req.SubjectID),
				slog.String("error", upsertErr.Error()))
			return
		}
		o.logger.Warn("recognition failed",
			slog.String("subject_id", req.SubjectID),
			slog.String("error", err.Error()))
		return
	}

	if o.archive != nil {
		if err := o.archive.Put(req.SubjectID, rec.Raw); err != nil {
			// Archive trouble never blocks the verdict.
			o.logger.Warn("archive raw payload failed",
				slog.String("subject_id", req.SubjectID),
				slog.String("error", err.Error()))
		}
	}

	result.Outcome = domain.ScanCompleted
	result.Matches = rec.Matches
	result.Flagged = o.policy.Flagged(rec.Matches)

	if err := o.store.UpsertScanResult(ctx, result); err != nil {
		o.logger.Error("persist scan result failed",
			slog.String("subject_id", req.SubjectID),
			slog.String("error", err.Error()))
		return
	}

	o.logger.Info("scan completed",
		slog.String("subject_id", req.SubjectID),
		slog.Int("matches", len(rec.Matches)),
		slog.Bool("flagged", result.Flagged))

	if result.Flagged {
		o.handleFlagged(ctx, req)
	}
}

// handleFlagged opens a review case and requests the affirmative label.
// Label emission failure is absorbed: the scan verdict and case stay
// visible, and the reconciliation job re-emits later.
func (o *Orchestrator) handleFlagged(ctx context.Context, req SubmitRequest) {
	reviewCase, err := o.store.GetPendingCaseBySubject(ctx, req.SubjectID)
	if errors.Is(err, errors.ErrNotFound) {
		reviewCase = &domain.ReviewCase{
			ID:         id.MustGenerate("case"),
			SubjectID:  req.SubjectID,
			SubjectURI: req.SubjectURI,
			Resolution: domain.ResolutionUnreviewed,
			CreatedAt:  time.Now(),
		}
		if err := o.store.CreateReviewCase(ctx, reviewCase); err != nil {
			o.logger.Error("create review case failed",
				slog.String("subject_id", req.SubjectID),
				slog.String("error", err.Error()))
			return
		}
	} else if err != nil {
		o.logger.Error("lookup review case failed",
			slog.String("subject_id", req.SubjectID),
			slog.String("error", err.Error()))
		return
	}

	label, err := o.emitter.Emit(ctx, labels.EmitRequest{
		SubjectURI:         req.SubjectURI,
		SubjectFingerprint: req.Fingerprint,
		Value:              domain.LabelCopyrightMatch,
	})
	if err != nil {
		o.logger.Warn("label emission deferred",
			slog.String("subject_id", req.SubjectID),
			slog.String("case_id", reviewCase.ID),
			slog.String("error", err.Error()))
		return
	}

	if err := o.store.SetCaseLabelSeq(ctx, reviewCase.ID, label.Seq); err != nil {
		o.logger.Error("link case to label failed",
			slog.String("case_id", reviewCase.ID),
			slog.String("error", err.Error()))
	}
}

// RunBackfill periodically reconciles partial failures: it rescans subjects
// whose last scan ended in provider_error and re-emits affirmative labels
// for cases whose emission was deferred.
func (o *Orchestrator) RunBackfill(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.BackfillInterval)
	defer ticker.Stop()

	o.logger.Info("backfill job started", slog.Duration("interval", o.cfg.BackfillInterval))

	for {
		select {
		case <-ticker.C:
			o.backfillOnce(ctx)
		case <-ctx.Done():
			o.logger.Info("backfill job stopping")
			return
		}
	}
}

// backfillOnce runs one reconciliation pass.
func (o *Orchestrator) backfillOnce(ctx context.Context) {
	failed, err := o.store.ListScansByOutcome(ctx, domain.ScanProviderError, 50)
	if err != nil {
		o.logger.Error("list failed scans", slog.String("error", err.Error()))
	} else {
		for _, r := range failed {
			submitErr := o.Submit(ctx, SubmitRequest{
				SubjectID:   r.SubjectID,
				SubjectURI:  r.SubjectURI,
				AudioURL:    r.AudioURL,
				Fingerprint: r.Fingerprint,
				Duration:    time.Duration(r.DurationMS) * time.Millisecond,
			})
			if submitErr != nil && !errors.Is(submitErr, errors.ErrScanInFlight) {
				o.logger.Warn("rescan submit failed",
					slog.String("subject_id", r.SubjectID),
					slog.String("error", submitErr.Error()))
			}
		}
	}

	unlinked, err := o.store.ListUnlinkedCases(ctx, 50)
	if err != nil {
		o.logger.Error("list unlinked cases", slog.String("error", err.Error()))
		return
	}
	for _, c := range unlinked {
		// The deferred label still pins the content hash the scan saw.
		var fingerprint string
		if scan, err := o.store.GetScanResult(ctx, c.SubjectID); err == nil {
			fingerprint = scan.Fingerprint
		} else if !errors.Is(err, errors.ErrNotFound) {
			o.logger.Error("lookup scan for unlinked case",
				slog.String("case_id", c.ID),
				slog.String("error", err.Error()))
			continue
		}

		label, err := o.emitter.Emit(ctx, labels.EmitRequest{
			SubjectURI:         c.SubjectURI,
			SubjectFingerprint: fingerprint,
			Value:              domain.LabelCopyrightMatch,
		})
		if err != nil {
			o.logger.Warn("backfill emission failed",
				slog.String("case_id", c.ID),
				slog.String("error", err.Error()))
			continue
		}
		if err := o.store.SetCaseLabelSeq(ctx, c.ID, label.Seq); err != nil {
			o.logger.Error("link case to label failed",
				slog.String("case_id", c.ID),
				slog.String("error", err.Error()))
		}
	}
}

package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
	"github.com/chorusfm/moderation-server/internal/errors"
	"github.com/chorusfm/moderation-server/internal/labels"
	"github.com/chorusfm/moderation-server/internal/store"
)

type fakeEmitter struct {
	mu    sync.Mutex
	seq   int64
	err   error
	emits []labels.EmitRequest
}

func (f *fakeEmitter) Emit(_ context.Context, req labels.EmitRequest) (*domain.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.seq++
	f.emits = append(f.emits, req)
	return &domain.Label{Seq: f.seq, SubjectURI: req.SubjectURI, Value: req.Value, Negated: req.Negated}, nil
}

func newTestReview(t *testing.T) (*Review, *store.Store, *fakeEmitter) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	em := &fakeEmitter{}
	return NewReview(s, em, logger), s, em
}

func seedCase(t *testing.T, s *store.Store, id, subjectID string) {
	t.Helper()
	err := s.CreateReviewCase(context.Background(), &domain.ReviewCase{
		ID:         id,
		SubjectID:  subjectID,
		SubjectURI: "chorus://track/" + subjectID,
		LabelSeq:   1,
		Resolution: domain.ResolutionUnreviewed,
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("seed case: %v", err)
	}
}

func TestResolveViolationEmitsNothing(t *testing.T) {
	r, s, em := newTestReview(t)
	seedCase(t, s, "case-1", "sub-a")

	c, err := r.Resolve(context.Background(), "case-1", domain.ResolutionViolation, "mod-amy", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Resolution != domain.ResolutionViolation {
		t.Errorf("resolution = %q", c.Resolution)
	}
	if len(em.emits) != 0 {
		t.Error("violation must not emit a label")
	}
}

func TestResolveFalsePositiveEmitsNegation(t *testing.T) {
	r, s, em := newTestReview(t)
	seedCase(t, s, "case-1", "sub-a")

	c, err := r.Resolve(context.Background(), "case-1", domain.ResolutionFalsePositive, "mod-amy", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Resolution != domain.ResolutionFalsePositive {
		t.Errorf("resolution = %q", c.Resolution)
	}
	if len(em.emits) != 1 || !em.emits[0].Negated {
		t.Errorf("expected one negation, got %v", em.emits)
	}
	if em.emits[0].SubjectURI != "chorus://track/sub-a" {
		t.Errorf("negation uri = %q", em.emits[0].SubjectURI)
	}
}

func TestResolveRecordsNotes(t *testing.T) {
	r, s, _ := newTestReview(t)
	seedCase(t, s, "case-1", "sub-a")
	ctx := context.Background()

	c, err := r.Resolve(ctx, "case-1", domain.ResolutionOriginalArtist, "mod-amy", "verified artist upload via label contact")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.Notes != "verified artist upload via label contact" {
		t.Errorf("notes = %q", c.Notes)
	}

	// Notes survive a reload from the store.
	got, err := s.GetReviewCase(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetReviewCase: %v", err)
	}
	if got.Notes != "verified artist upload via label contact" {
		t.Errorf("persisted notes = %q", got.Notes)
	}
}

func TestResolveRepeatIsNoOp(t *testing.T) {
	r, s, em := newTestReview(t)
	seedCase(t, s, "case-1", "sub-a")
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "case-1", domain.ResolutionOriginalArtist, "mod", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c, err := r.Resolve(ctx, "case-1", domain.ResolutionOriginalArtist, "mod", "")
	if err != nil {
		t.Fatalf("repeat Resolve: %v", err)
	}
	if c.Resolution != domain.ResolutionOriginalArtist {
		t.Errorf("resolution = %q", c.Resolution)
	}
	if len(em.emits) != 1 {
		t.Errorf("emits = %d, want 1 (repeat must not re-emit)", len(em.emits))
	}
}

func TestResolveDifferentOutcomeConflicts(t *testing.T) {
	r, s, _ := newTestReview(t)
	seedCase(t, s, "case-1", "sub-a")
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "case-1", domain.ResolutionViolation, "mod", ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	_, err := r.Resolve(ctx, "case-1", domain.ResolutionFalsePositive, "mod", "")
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestResolveEmissionFailureLeavesCasePending(t *testing.T) {
	r, s, em := newTestReview(t)
	seedCase(t, s, "case-1", "sub-a")
	ctx := context.Background()

	em.err = errors.SigningKeyUnavailable("no key")
	_, err := r.Resolve(ctx, "case-1", domain.ResolutionFalsePositive, "mod", "")
	if !errors.Is(err, errors.ErrSigningKeyUnavailable) {
		t.Fatalf("expected signing failure, got %v", err)
	}

	c, err := s.GetReviewCase(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetReviewCase: %v", err)
	}
	if !c.Pending() {
		t.Error("case must stay pending when the negation cannot be emitted")
	}

	// Retry succeeds once the key is back.
	em.err = nil
	if _, err := r.Resolve(ctx, "case-1", domain.ResolutionFalsePositive, "mod", ""); err != nil {
		t.Fatalf("retry Resolve: %v", err)
	}
}

func TestResolveRejectsBadResolutions(t *testing.T) {
	r, s, _ := newTestReview(t)
	seedCase(t, s, "case-1", "sub-a")
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "case-1", "approved", "mod", ""); !errors.Is(err, errors.ErrUnknownResolution) {
		t.Errorf("expected unknown resolution, got %v", err)
	}
	if _, err := r.Resolve(ctx, "case-1", domain.ResolutionUnreviewed, "mod", ""); !errors.Is(err, errors.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := r.Resolve(ctx, "missing", domain.ResolutionViolation, "mod", ""); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestQueueIncludesScanContext(t *testing.T) {
	r, s, _ := newTestReview(t)
	ctx := context.Background()

	seedCase(t, s, "case-1", "sub-a")
	now := time.Now()
	err := s.UpsertScanResult(ctx, &domain.ScanResult{
		SubjectID:  "sub-a",
		SubjectURI: "chorus://track/sub-a",
		Outcome:    domain.ScanCompleted,
		Flagged:    true,
		Matches:    []domain.MatchCandidate{{SourceArtist: "A", Confidence: 91}},
		ScannedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("UpsertScanResult: %v", err)
	}

	// A case without scan context still lists.
	seedCase(t, s, "case-2", "sub-b")

	entries, err := r.Queue(ctx, 10)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	var withScan, withoutScan int
	for _, e := range entries {
		if e.Scan != nil {
			withScan++
			if len(e.Scan.Matches) != 1 {
				t.Errorf("scan matches = %d", len(e.Scan.Matches))
			}
		} else {
			withoutScan++
		}
	}
	if withScan != 1 || withoutScan != 1 {
		t.Errorf("withScan=%d withoutScan=%d", withScan, withoutScan)
	}
}

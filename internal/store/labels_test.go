package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
	domainerrors "github.com/chorusfm/moderation-server/internal/errors"
)

func makeTestLabel(uri string, negated bool) *domain.Label {
	return &domain.Label{
		Version:    1,
		Issuer:     "did:web:moderation.chorus.fm",
		SubjectURI: uri,
		Value:      domain.LabelCopyrightMatch,
		Negated:    negated,
		CreatedAt:  time.Now(),
		Signature:  []byte("test-sig"),
		KeyVersion: "1",
	}
}

func TestAppendLabelAssignsSequentialSeqs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		l := makeTestLabel("chorus://track/a", false)
		if err := s.AppendLabel(ctx, l); err != nil {
			t.Fatalf("AppendLabel: %v", err)
		}
		if l.Seq != int64(i) {
			t.Errorf("seq = %d, want %d", l.Seq, i)
		}
	}

	latest, err := s.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("LatestSeq: %v", err)
	}
	if latest != 3 {
		t.Errorf("LatestSeq = %d, want 3", latest)
	}
}

func TestAppendLabelConcurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l := makeTestLabel("chorus://track/concurrent", false)
			if err := s.AppendLabel(ctx, l); err != nil {
				t.Errorf("AppendLabel: %v", err)
			}
		}()
	}
	wg.Wait()

	// All seqs assigned, no gaps, no duplicates.
	labels, err := s.ListLabelsSince(ctx, 0, n+1)
	if err != nil {
		t.Fatalf("ListLabelsSince: %v", err)
	}
	if len(labels) != n {
		t.Fatalf("got %d labels, want %d", len(labels), n)
	}
	for i, l := range labels {
		if l.Seq != int64(i+1) {
			t.Errorf("labels[%d].Seq = %d, want %d", i, l.Seq, i+1)
		}
	}
}

func TestQueryLabels(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uris := []string{
		"chorus://track/a",
		"chorus://track/b",
		"chorus://album/c",
	}
	for _, uri := range uris {
		if err := s.AppendLabel(ctx, makeTestLabel(uri, false)); err != nil {
			t.Fatalf("AppendLabel: %v", err)
		}
	}

	t.Run("exact match", func(t *testing.T) {
		labels, next, err := s.QueryLabels(ctx, LabelQuery{URIPatterns: []string{"chorus://track/a"}})
		if err != nil {
			t.Fatalf("QueryLabels: %v", err)
		}
		if len(labels) != 1 || labels[0].SubjectURI != "chorus://track/a" {
			t.Errorf("got %v", labels)
		}
		if next != 0 {
			t.Errorf("next cursor = %d, want 0", next)
		}
	})

	t.Run("prefix wildcard", func(t *testing.T) {
		labels, _, err := s.QueryLabels(ctx, LabelQuery{URIPatterns: []string{"chorus://track/*"}})
		if err != nil {
			t.Fatalf("QueryLabels: %v", err)
		}
		if len(labels) != 2 {
			t.Errorf("got %d labels, want 2", len(labels))
		}
	})

	t.Run("multiple patterns", func(t *testing.T) {
		labels, _, err := s.QueryLabels(ctx, LabelQuery{
			URIPatterns: []string{"chorus://album/*", "chorus://track/a"},
		})
		if err != nil {
			t.Fatalf("QueryLabels: %v", err)
		}
		if len(labels) != 2 {
			t.Errorf("got %d labels, want 2", len(labels))
		}
	})

	t.Run("source filter", func(t *testing.T) {
		labels, _, err := s.QueryLabels(ctx, LabelQuery{
			URIPatterns: []string{"chorus://track/*"},
			Sources:     []string{"did:web:other.example"},
		})
		if err != nil {
			t.Fatalf("QueryLabels: %v", err)
		}
		if len(labels) != 0 {
			t.Errorf("got %d labels, want 0", len(labels))
		}
	})

	t.Run("no patterns rejected", func(t *testing.T) {
		_, _, err := s.QueryLabels(ctx, LabelQuery{})
		if !domainerrors.Is(err, domainerrors.ErrValidation) {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestQueryLabelsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := s.AppendLabel(ctx, makeTestLabel("chorus://track/p", false)); err != nil {
			t.Fatalf("AppendLabel: %v", err)
		}
	}

	page1, next, err := s.QueryLabels(ctx, LabelQuery{
		URIPatterns: []string{"chorus://track/p"},
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("QueryLabels: %v", err)
	}
	if len(page1) != 2 {
		t.Fatalf("page1 = %d labels, want 2", len(page1))
	}
	if next != page1[1].Seq {
		t.Errorf("next cursor = %d, want %d", next, page1[1].Seq)
	}

	page2, next2, err := s.QueryLabels(ctx, LabelQuery{
		URIPatterns: []string{"chorus://track/p"},
		Cursor:      next,
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("QueryLabels: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page2 = %d labels, want 2", len(page2))
	}
	if page2[0].Seq <= page1[1].Seq {
		t.Error("pages should not overlap")
	}

	page3, next3, err := s.QueryLabels(ctx, LabelQuery{
		URIPatterns: []string{"chorus://track/p"},
		Cursor:      next2,
		Limit:       2,
	})
	if err != nil {
		t.Fatalf("QueryLabels: %v", err)
	}
	if len(page3) != 1 {
		t.Fatalf("page3 = %d labels, want 1", len(page3))
	}
	if next3 != 0 {
		t.Errorf("final page cursor = %d, want 0", next3)
	}
}

func TestEffectiveLabel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.EffectiveLabel(ctx, "chorus://track/x", domain.LabelCopyrightMatch); !domainerrors.Is(err, domainerrors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if err := s.AppendLabel(ctx, makeTestLabel("chorus://track/x", false)); err != nil {
		t.Fatalf("AppendLabel: %v", err)
	}

	l, err := s.EffectiveLabel(ctx, "chorus://track/x", domain.LabelCopyrightMatch)
	if err != nil {
		t.Fatalf("EffectiveLabel: %v", err)
	}
	if l.Negated {
		t.Error("effective label should be affirmative")
	}

	if err := s.AppendLabel(ctx, makeTestLabel("chorus://track/x", true)); err != nil {
		t.Fatalf("AppendLabel: %v", err)
	}

	l, err = s.EffectiveLabel(ctx, "chorus://track/x", domain.LabelCopyrightMatch)
	if err != nil {
		t.Fatalf("EffectiveLabel: %v", err)
	}
	if !l.Negated {
		t.Error("negation should win as the latest row")
	}
}

func TestLabelRoundTripFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	exp := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	l := makeTestLabel("chorus://track/rt", false)
	l.SubjectFingerprint = "bafyfingerprint"
	l.ExpiresAt = &exp

	if err := s.AppendLabel(ctx, l); err != nil {
		t.Fatalf("AppendLabel: %v", err)
	}

	got, err := s.EffectiveLabel(ctx, "chorus://track/rt", domain.LabelCopyrightMatch)
	if err != nil {
		t.Fatalf("EffectiveLabel: %v", err)
	}
	if got.SubjectFingerprint != "bafyfingerprint" {
		t.Errorf("fingerprint = %q", got.SubjectFingerprint)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.Equal(exp) {
		t.Errorf("expires = %v, want %v", got.ExpiresAt, exp)
	}
	if string(got.Signature) != "test-sig" {
		t.Errorf("signature = %q", got.Signature)
	}
	if got.KeyVersion != "1" {
		t.Errorf("key version = %q", got.KeyVersion)
	}
}

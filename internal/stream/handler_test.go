package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
)

// fakeSource serves a seq-ascending label log that can grow during a session.
type fakeSource struct {
	mu     sync.Mutex
	labels []domain.Label
}

func (f *fakeSource) ListLabelsSince(_ context.Context, cursor int64, limit int) ([]domain.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Label
	for _, l := range f.labels {
		if l.Seq > cursor {
			out = append(out, l)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) append(labels ...domain.Label) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels = append(f.labels, labels...)
}

func runSubscribe(t *testing.T, h *Handler, target string, during func()) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	// Give replay a moment to finish before live actions.
	time.Sleep(50 * time.Millisecond)
	if during != nil {
		during()
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after context cancel")
	}

	return rec.Body.String()
}

func TestSubscribeReplaysFromCursor(t *testing.T) {
	source := &fakeSource{labels: []domain.Label{
		{Seq: 1, SubjectURI: "chorus://track/a", Value: domain.LabelCopyrightMatch},
		{Seq: 2, SubjectURI: "chorus://track/b", Value: domain.LabelCopyrightMatch},
		{Seq: 3, SubjectURI: "chorus://track/c", Value: domain.LabelCopyrightMatch},
	}}
	b := NewBroadcaster(testLogger())
	defer b.Shutdown()
	h := NewHandler(source, b, testLogger())

	body := runSubscribe(t, h, "/xrpc/com.atproto.label.subscribeLabels?cursor=1", nil)

	if strings.Contains(body, "chorus://track/a") {
		t.Error("label at the cursor should not be replayed")
	}
	if !strings.Contains(body, "chorus://track/b") || !strings.Contains(body, "chorus://track/c") {
		t.Errorf("missing replayed labels in body:\n%s", body)
	}
	if !strings.Contains(body, "id: 2\n") || !strings.Contains(body, "id: 3\n") {
		t.Errorf("seq should be carried in the SSE id field:\n%s", body)
	}
	if !strings.Contains(body, "event: info") || !strings.Contains(body, "subscriberId") {
		t.Errorf("session info event missing:\n%s", body)
	}
}

func TestSubscribeTailsLiveLabels(t *testing.T) {
	source := &fakeSource{}
	b := NewBroadcaster(testLogger())
	defer b.Shutdown()
	h := NewHandler(source, b, testLogger())

	body := runSubscribe(t, h, "/xrpc/com.atproto.label.subscribeLabels", func() {
		b.Publish(domain.Label{Seq: 1, SubjectURI: "chorus://track/live", Value: domain.LabelCopyrightMatch})
	})

	if !strings.Contains(body, "chorus://track/live") {
		t.Errorf("live label not delivered:\n%s", body)
	}
}

func TestSubscribeDedupsReplayOverlap(t *testing.T) {
	source := &fakeSource{labels: []domain.Label{
		{Seq: 1, SubjectURI: "chorus://track/a", Value: domain.LabelCopyrightMatch},
	}}
	b := NewBroadcaster(testLogger())
	defer b.Shutdown()
	h := NewHandler(source, b, testLogger())

	body := runSubscribe(t, h, "/xrpc/com.atproto.label.subscribeLabels", func() {
		// Same seq arrives over the live channel; the session must drop it.
		b.Publish(domain.Label{Seq: 1, SubjectURI: "chorus://track/a", Value: domain.LabelCopyrightMatch})
		b.Publish(domain.Label{Seq: 2, SubjectURI: "chorus://track/b", Value: domain.LabelCopyrightMatch})
	})

	if strings.Count(body, "id: 1\n") != 1 {
		t.Errorf("seq 1 should be delivered exactly once:\n%s", body)
	}
	if !strings.Contains(body, "id: 2\n") {
		t.Errorf("seq 2 should be delivered:\n%s", body)
	}
}

func TestSubscribeRefillsAfterDroppedEvents(t *testing.T) {
	source := &fakeSource{labels: []domain.Label{
		{Seq: 1, SubjectURI: "chorus://track/a", Value: domain.LabelCopyrightMatch},
	}}
	b := NewBroadcaster(testLogger())
	defer b.Shutdown()
	h := NewHandler(source, b, testLogger())

	body := runSubscribe(t, h, "/xrpc/com.atproto.label.subscribeLabels", func() {
		// Seqs 2-4 reach the store, but only 4 arrives over the live
		// channel, as happens when the broadcaster sheds events for a slow
		// subscriber. The jump past lastSeq+1 must trigger a store refill.
		source.append(
			domain.Label{Seq: 2, SubjectURI: "chorus://track/b", Value: domain.LabelCopyrightMatch},
			domain.Label{Seq: 3, SubjectURI: "chorus://track/c", Value: domain.LabelCopyrightMatch},
			domain.Label{Seq: 4, SubjectURI: "chorus://track/d", Value: domain.LabelCopyrightMatch},
		)
		b.Publish(domain.Label{Seq: 4, SubjectURI: "chorus://track/d", Value: domain.LabelCopyrightMatch})
	})

	for seq := 1; seq <= 4; seq++ {
		id := fmt.Sprintf("id: %d\n", seq)
		if n := strings.Count(body, id); n != 1 {
			t.Errorf("seq %d delivered %d times, want exactly once:\n%s", seq, n, body)
		}
	}
}

func TestSubscribeLastEventIDOverridesCursor(t *testing.T) {
	source := &fakeSource{labels: []domain.Label{
		{Seq: 1, SubjectURI: "chorus://track/a", Value: domain.LabelCopyrightMatch},
		{Seq: 2, SubjectURI: "chorus://track/b", Value: domain.LabelCopyrightMatch},
	}}
	b := NewBroadcaster(testLogger())
	defer b.Shutdown()
	h := NewHandler(source, b, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/xrpc/com.atproto.label.subscribeLabels?cursor=0", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if strings.Contains(body, "chorus://track/a") {
		t.Error("reconnect should resume after Last-Event-ID")
	}
	if !strings.Contains(body, "chorus://track/b") {
		t.Errorf("label after Last-Event-ID missing:\n%s", body)
	}
}

func TestSubscribeRejectsBadCursor(t *testing.T) {
	h := NewHandler(&fakeSource{}, NewBroadcaster(testLogger()), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/xrpc/com.atproto.label.subscribeLabels?cursor=nope", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

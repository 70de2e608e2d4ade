package archive

import (
	"fmt"
	"testing"
	"time"
)

func newTestArchive(t *testing.T, keep int) *Archive {
	t.Helper()
	a, err := Open(t.TempDir(), keep, nil)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestPutAndLatest(t *testing.T) {
	a := newTestArchive(t, 10)

	if err := a.Put("sub-a", []byte(`{"status":"success"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(time.Millisecond)
	if err := a.Put("sub-a", []byte(`{"status":"success","newer":true}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	latest, err := a.Latest("sub-a")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if string(latest) != `{"status":"success","newer":true}` {
		t.Errorf("latest = %s", latest)
	}
}

func TestLatestMissingSubject(t *testing.T) {
	a := newTestArchive(t, 10)

	latest, err := a.Latest("missing")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != nil {
		t.Errorf("expected nil payload, got %s", latest)
	}
}

func TestHistoryOrderAndIsolation(t *testing.T) {
	a := newTestArchive(t, 10)

	for i := 0; i < 3; i++ {
		if err := a.Put("sub-a", fmt.Appendf(nil, "payload-%d", i)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if err := a.Put("sub-b", []byte("other-subject")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	history, err := a.History("sub-a")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history = %d payloads, want 3", len(history))
	}
	for i, p := range history {
		want := fmt.Sprintf("payload-%d", i)
		if string(p) != want {
			t.Errorf("history[%d] = %s, want %s", i, p, want)
		}
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	a := newTestArchive(t, 2)

	for i := 0; i < 5; i++ {
		if err := a.Put("sub-a", fmt.Appendf(nil, "payload-%d", i)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	history, err := a.History("sub-a")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d payloads, want 2 after prune", len(history))
	}
	if string(history[0]) != "payload-3" || string(history[1]) != "payload-4" {
		t.Errorf("kept %s, %s; want the newest two", history[0], history[1])
	}
}

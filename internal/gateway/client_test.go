package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/chorusfm/moderation-server/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(Config{
		URL:               srv.URL,
		APIToken:          "test-token",
		RequestsPerSecond: 1000,
		Burst:             1000,
	}, testLogger())
}

func TestRecognizeSingleSong(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.PostForm.Get("api_token") != "test-token" {
			t.Errorf("api_token = %q", r.PostForm.Get("api_token"))
		}
		if r.PostForm.Get("url") != "https://cdn.chorus.fm/audio/abc" {
			t.Errorf("url = %q", r.PostForm.Get("url"))
		}
		if r.PostForm.Get("accurate_offsets") != "true" {
			t.Errorf("accurate_offsets = %q", r.PostForm.Get("accurate_offsets"))
		}

		w.Write([]byte(`{"status":"success","result":{"artist":"Original Artist","title":"Hit Song","album":"Hits","isrc":"USRC17607839","timecode":"01:24"}}`))
	})

	rec, err := c.Recognize(context.Background(), "https://cdn.chorus.fm/audio/abc")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(rec.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(rec.Matches))
	}

	m := rec.Matches[0]
	if m.SourceArtist != "Original Artist" || m.SourceTitle != "Hit Song" {
		t.Errorf("match = %+v", m)
	}
	if m.ExternalID != "USRC17607839" {
		t.Errorf("external id = %q", m.ExternalID)
	}
	if m.Confidence != 100 {
		t.Errorf("confidence = %v, want 100 for unscored match", m.Confidence)
	}
	if len(rec.Raw) == 0 {
		t.Error("raw payload should be retained")
	}
}

func TestRecognizeOffsetGroups(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"success","result":[
			{"offset":"00:30","songs":[{"artist":"A","title":"One","score":88.5}]},
			{"offset":"01:10","songs":[{"artist":"B","title":"Two","score":64},{"artist":"C","title":"Three"}]}
		]}`))
	})

	rec, err := c.Recognize(context.Background(), "https://cdn.chorus.fm/audio/mix")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(rec.Matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(rec.Matches))
	}
	if rec.Matches[0].OffsetMS != 30000 {
		t.Errorf("offset = %d, want 30000", rec.Matches[0].OffsetMS)
	}
	if rec.Matches[0].Confidence != 88.5 {
		t.Errorf("confidence = %v", rec.Matches[0].Confidence)
	}
	if rec.Matches[1].OffsetMS != 70000 {
		t.Errorf("offset = %d, want 70000", rec.Matches[1].OffsetMS)
	}
}

func TestRecognizeNoMatches(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"success","result":null}`))
	})

	rec, err := c.Recognize(context.Background(), "https://cdn.chorus.fm/audio/original")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if len(rec.Matches) != 0 {
		t.Errorf("matches = %d, want 0", len(rec.Matches))
	}
}

func TestRecognizeProviderErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"status":"error","error":{"error_code":901,"error_message":"api_token invalid"}}`))
	})

	_, err := c.Recognize(context.Background(), "https://cdn.chorus.fm/audio/abc")
	if !errors.Is(err, errors.ErrProviderUnavailable) {
		t.Errorf("expected provider unavailable, got %v", err)
	}
}

func TestRecognizeMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`not json at all`))
	})

	_, err := c.Recognize(context.Background(), "https://cdn.chorus.fm/audio/abc")
	if !errors.Is(err, errors.ErrProviderUnavailable) {
		t.Errorf("expected provider unavailable, got %v", err)
	}
}

func TestRecognizeHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Recognize(context.Background(), "https://cdn.chorus.fm/audio/abc")
	if !errors.Is(err, errors.ErrProviderUnavailable) {
		t.Errorf("expected provider unavailable, got %v", err)
	}
}

func TestRecognizeTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"status":"success","result":null}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Recognize(ctx, "https://cdn.chorus.fm/audio/abc")
	if !errors.Is(err, errors.ErrProviderTimeout) {
		t.Errorf("expected provider timeout, got %v", err)
	}
}

func TestParseTimecodeMS(t *testing.T) {
	tests := []struct {
		tc   string
		want int64
	}{
		{"", 0},
		{"00:30", 30000},
		{"01:24", 84000},
		{"1:02:03", 3723000},
		{"garbage", 0},
		{"1:2:3:4", 0},
	}

	for _, tt := range tests {
		if got := parseTimecodeMS(tt.tc); got != tt.want {
			t.Errorf("parseTimecodeMS(%q) = %d, want %d", tt.tc, got, tt.want)
		}
	}
}

package stream

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/chorusfm/moderation-server/internal/domain"
)

const replayPageSize = 250

// LabelSource provides stored labels for subscription replay.
type LabelSource interface {
	ListLabelsSince(ctx context.Context, cursor int64, limit int) ([]domain.Label, error)
}

// Handler serves GET /xrpc/com.atproto.label.subscribeLabels as an SSE stream.
//
// The session replays stored labels after the requested cursor, then tails
// the live broadcast. Events carry the label seq in the SSE id field, so
// EventSource reconnects resume via Last-Event-ID without a cursor param.
type Handler struct {
	source      LabelSource
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// NewHandler creates a new subscription handler.
func NewHandler(source LabelSource, broadcaster *Broadcaster, logger *slog.Logger) *Handler {
	return &Handler{
		source:      source,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// ServeHTTP handles the subscription connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.Context().Err() != nil {
		return
	}

	cursor, err := parseCursor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	// Subscribe before replay so nothing appended mid-replay is missed.
	// The seq dedup below drops the overlap.
	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub.ID)

	subLogger := h.logger.With(slog.String("subscriber_id", sub.ID))

	// Tell the client its session ID so it can ack delivered cursors.
	if err := h.sendEvent(w, rc, "info", 0, map[string]string{"subscriberId": sub.ID}); err != nil {
		subLogger.Warn("failed to send session info", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()

	// Replay stored labels after the cursor, page by page.
	lastSeq, err := h.replay(ctx, w, rc, cursor)
	if err != nil {
		subLogger.Info("replay ended", slog.String("error", err.Error()))
		return
	}

	heartbeatTicker := time.NewTicker(30 * time.Second)
	defer heartbeatTicker.Stop()

	for {
		select {
		case label, ok := <-sub.Labels:
			if !ok {
				return
			}
			// Seqs are gapless, so a jump means the broadcaster dropped
			// events for this slow subscriber. Refill from the store before
			// going on.
			if label.Seq > lastSeq+1 {
				lastSeq, err = h.replay(ctx, w, rc, lastSeq)
				if err != nil {
					subLogger.Info("gap refill ended", slog.String("error", err.Error()))
					return
				}
			}
			// Drop anything already delivered by replay.
			if label.Seq <= lastSeq {
				continue
			}
			if err := h.sendLabel(w, rc, &label); err != nil {
				subLogger.Info("subscriber disconnected during send")
				return
			}
			lastSeq = label.Seq

		case <-heartbeatTicker.C:
			if err := h.sendEvent(w, rc, "heartbeat", 0, map[string]string{"status": "ok"}); err != nil {
				subLogger.Info("subscriber disconnected during heartbeat")
				return
			}

		case <-sub.Done:
			subLogger.Info("subscriber closed by broadcaster")
			return

		case <-ctx.Done():
			subLogger.Info("subscriber context canceled")
			return
		}
	}
}

// replay sends all stored labels with seq > cursor, page by page, and
// returns the last seq delivered.
func (h *Handler) replay(ctx context.Context, w http.ResponseWriter, rc *http.ResponseController, cursor int64) (int64, error) {
	lastSeq := cursor
	for {
		labels, err := h.source.ListLabelsSince(ctx, lastSeq, replayPageSize)
		if err != nil {
			return lastSeq, fmt.Errorf("list labels: %w", err)
		}
		for i := range labels {
			if err := h.sendLabel(w, rc, &labels[i]); err != nil {
				return lastSeq, fmt.Errorf("send label: %w", err)
			}
			lastSeq = labels[i].Seq
		}
		if len(labels) < replayPageSize {
			return lastSeq, nil
		}
	}
}

// parseCursor reads the resume position from the cursor query parameter,
// with the Last-Event-ID header (EventSource reconnect) taking precedence.
func parseCursor(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("cursor")
	if lastEvent := r.Header.Get("Last-Event-ID"); lastEvent != "" {
		raw = lastEvent
	}
	if raw == "" {
		return 0, nil
	}

	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || cursor < 0 {
		return 0, fmt.Errorf("invalid cursor %q", raw)
	}
	return cursor, nil
}

// sendLabel writes one label event with its seq as the SSE event ID.
func (h *Handler) sendLabel(w http.ResponseWriter, rc *http.ResponseController, label *domain.Label) error {
	return h.sendEvent(w, rc, "label", label.Seq, label)
}

// sendEvent writes an SSE event. A non-zero id is written as the SSE id field.
func (h *Handler) sendEvent(w http.ResponseWriter, rc *http.ResponseController, eventType string, id int64, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}

	// Flush immediately so the subscriber receives the event.
	if err := rc.Flush(); err != nil {
		return err
	}

	// Reset the write deadline after each successful write.
	if err := rc.SetWriteDeadline(time.Now().Add(60 * time.Second)); err != nil {
		h.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}

	return nil
}

// Package sse implements the SSE Delivery pipeline (C7): per-connection
// replay-then-live streaming with Last-Event-ID resumption, subscribe-
// before-backlog-query ordering, and strictly increasing ids across
// reconnects.
package sse

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
)

// DefaultHeartbeatInterval matches spec.md §4.7's default.
const DefaultHeartbeatInterval = 15 * time.Second

// DefaultBacklogLimit is the replay/resync query limit used when
// Handler.BacklogLimit is unset. It is 0, which eventstore.Store reads as
// unlimited, so a connection replays its whole backlog in one query. With
// a positive BacklogLimit a replay or resync returns at most that many
// events, and the rest of that backlog is not queried again.
const DefaultBacklogLimit = 0

// ReplayFrom selects the default starting offset when a connection arrives
// with no Last-Event-ID header.
type ReplayFrom int

const (
	// ReplayFromBeginning replays the entire history (offset 0 exclusive).
	ReplayFromBeginning ReplayFrom = iota
	// ReplayFromTip skips all existing history and starts from whatever is
	// live at connect time.
	ReplayFromTip
)

// connState is the state machine of spec.md §4.7, tracked for
// observability; it never gates behavior directly (the code path already
// enforces the transitions), but is surfaced via slog debug logs so
// operators can see where a connection is stuck.
type connState string

const (
	stateConnected  connState = "CONNECTED"
	stateReplaying  connState = "REPLAYING"
	stateLive       connState = "LIVE"
	stateRecovering connState = "RECOVERING"
	stateClosed     connState = "CLOSED"
)

// Renderer projects a stored event onto the wire: the SSE "event" name and
// "data" payload. ok=false means the event is not relevant to this stream
// and should be skipped entirely (no id is consumed).
type Renderer func(ev eventstore.Event) (eventName string, data string, ok bool)

// Handler serves one logical SSE stream. Construct one per named stream
// (e.g. "todos") and register its ServeHTTP with the router.
type Handler struct {
	Store             eventstore.Store
	Bus               *bus.Bus
	Render            Renderer
	HeartbeatInterval time.Duration
	BacklogLimit      int
	DefaultReplayFrom ReplayFrom
	Logger            *slog.Logger

	// SubscriberCapacity bounds this stream's per-connection bus queue.
	SubscriberCapacity int
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) heartbeat() time.Duration {
	if h.HeartbeatInterval > 0 {
		return h.HeartbeatInterval
	}
	return DefaultHeartbeatInterval
}

func (h *Handler) capacity() int {
	if h.SubscriberCapacity > 0 {
		return h.SubscriberCapacity
	}
	return 256
}

// ServeHTTP streams events as text/event-stream per spec.md §4.7/§6.3.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log := h.logger().With("remote", r.RemoteAddr)
	state := stateConnected
	log.Debug("sse: connected", "state", state)

	fromOffset, err := h.startingOffset(ctx, r)
	if err != nil {
		http.Error(w, "failed to resolve starting offset", http.StatusInternalServerError)
		return
	}

	// Subscribe BEFORE any store query: events published while we read the
	// backlog must still reach this connection (spec.md §4.7 step 2-3).
	sub := h.Bus.Subscribe(h.capacity())
	defer sub.Unsubscribe()

	state = stateReplaying
	log.Debug("sse: replaying", "state", state, "from_offset", fromOffset)

	lastSent := fromOffset
	backlog, err := h.Store.LoadSinceOffset(ctx, fromOffset, h.backlogLimit())
	if err != nil {
		log.Error("sse: backlog query failed", "error", err)
		return
	}
	for _, ev := range backlog {
		if !h.write(w, flusher, ev) {
			return
		}
		lastSent = ev.Offset
	}
	flusher.Flush()

	state = stateLive
	log.Debug("sse: live", "state", state, "last_sent", lastSent)

	ticker := time.NewTicker(h.heartbeat())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			state = stateClosed
			log.Debug("sse: disconnected", "state", state)
			return

		case ev, ok := <-sub.Events:
			if !ok {
				state = stateClosed
				return
			}
			if ev.Offset <= lastSent {
				continue // dedupe the replay/live seam
			}
			if !h.write(w, flusher, ev) {
				state = stateClosed
				return
			}
			lastSent = ev.Offset

		case _, ok := <-sub.Lagged:
			if !ok {
				state = stateClosed
				return
			}
			sub.TakeLag()
			state = stateRecovering
			log.Debug("sse: recovering", "state", state, "last_sent", lastSent)

			missed, err := h.Store.LoadSinceOffset(ctx, lastSent, h.backlogLimit())
			if err != nil {
				log.Error("sse: resync query failed", "error", err)
				state = stateClosed
				return
			}
			for _, ev := range missed {
				if ev.Offset <= lastSent {
					continue
				}
				if !h.write(w, flusher, ev) {
					state = stateClosed
					return
				}
				lastSent = ev.Offset
			}
			state = stateLive

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ":heartbeat\n\n"); err != nil {
				state = stateClosed
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) backlogLimit() int {
	if h.BacklogLimit > 0 {
		return h.BacklogLimit
	}
	return DefaultBacklogLimit
}

// startingOffset resolves Last-Event-ID per spec.md §4.7 step 1: present
// and parseable ⇒ that offset; absent ⇒ h.DefaultReplayFrom.
func (h *Handler) startingOffset(ctx context.Context, r *http.Request) (int64, error) {
	if raw := r.Header.Get("Last-Event-ID"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n, nil
		}
	}
	if h.DefaultReplayFrom == ReplayFromBeginning {
		return 0, nil
	}

	all, err := h.Store.LoadAll(ctx)
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}
	return all[len(all)-1].Offset, nil
}

// write renders and emits one event, including its id line so the client
// can resend it as Last-Event-ID on reconnect. Returns false on write
// failure (connection gone).
func (h *Handler) write(w http.ResponseWriter, flusher http.Flusher, ev eventstore.Event) bool {
	name, data, ok := h.Render(ev)
	if !ok {
		return true
	}
	if _, err := fmt.Fprintf(w, "id: %d\n", ev.Offset); err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
		return false
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

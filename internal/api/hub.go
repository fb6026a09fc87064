package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/maco144/pickle/internal/domain"
)

// KeepAliveInterval is how often an idle event stream gets a comment line.
const KeepAliveInterval = 15 * time.Second

// SnapshotHub fans engine snapshots out to event-stream clients.
//
// Observe runs on the engine loop and never blocks: each client holds at most
// one pending snapshot and a newer one replaces it. Slow clients skip
// intermediate states but always converge on the latest.
type SnapshotHub struct {
	source func() (domain.Snapshot, error)
	log    logr.Logger

	mu      sync.Mutex
	clients map[chan domain.Snapshot]struct{}
	closed  bool
}

// NewSnapshotHub creates a hub. source supplies the initial snapshot sent to
// each new client.
func NewSnapshotHub(source func() (domain.Snapshot, error), log logr.Logger) *SnapshotHub {
	return &SnapshotHub{
		source:  source,
		log:     log.WithName("events"),
		clients: make(map[chan domain.Snapshot]struct{}),
	}
}

// Observe delivers snap to every client. Use it as the engine observer.
func (h *SnapshotHub) Observe(snap domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.clients {
		select {
		case ch <- snap:
		default:
			// Replace the stale pending snapshot.
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// Clients returns the number of connected clients.
func (h *SnapshotHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close ends every open stream and refuses new ones. Register it with
// http.Server.RegisterOnShutdown: Shutdown does not cancel the contexts of
// requests already in flight.
func (h *SnapshotHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.clients {
		close(ch)
		delete(h.clients, ch)
	}
}

func (h *SnapshotHub) subscribe() chan domain.Snapshot {
	ch := make(chan domain.Snapshot, 1)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[ch] = struct{}{}
	return ch
}

func (h *SnapshotHub) unsubscribe(ch chan domain.Snapshot) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
}

// HandleSSE streams snapshots as server-sent events until the client leaves.
func (h *SnapshotHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	ch := h.subscribe()
	defer h.unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if h.source != nil {
		snap, err := h.source()
		if err != nil {
			fmt.Fprintf(w, "event: error\ndata: %q\n\n", err.Error())
			rc.Flush()
			return
		}
		if err := writeEvent(w, snap); err != nil {
			return
		}
	}
	if err := rc.Flush(); err != nil {
		h.log.V(1).Info("event stream not flushable", "err", err)
		return
	}

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return // hub closed
			}
			if err := writeEvent(w, snap); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, snap domain.Snapshot) error {
	data, err := json.Marshal(newStateView(snap, DefaultQueueLimit))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Sequence, data)
	return err
}

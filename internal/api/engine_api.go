package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maco144/pickle/internal/domain"
)

// DefaultQueueLimit caps how many queued items a state response carries.
// Floods can queue hundreds of thousands of items.
const DefaultQueueLimit = 100

// ─── Request / Response Types ───────────────────────────────────────────────

type submitRequest struct {
	Category string `json:"category,omitempty"`
}

type batchRequest struct {
	N int `json:"n"`
}

type batchResponse struct {
	Count int               `json:"count"`
	Items []domain.WorkItem `json:"items"`
}

type toggleResponse struct {
	Changed bool        `json:"changed"`
	Mode    domain.Mode `json:"mode"`
	Running bool        `json:"running"`
}

// stateView is a snapshot trimmed for transport. Queue holds at most the
// first QueueLimit items; QueueDepthTotal is the full depth.
type stateView struct {
	domain.Snapshot
	QueueDepthTotal int `json:"queue_depth"`
}

func newStateView(snap domain.Snapshot, limit int) stateView {
	depth := len(snap.Queue)
	if limit >= 0 && depth > limit {
		snap.Queue = snap.Queue[:limit]
	}
	return stateView{Snapshot: snap, QueueDepthTotal: depth}
}

// ─── Handlers ───────────────────────────────────────────────────────────────

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "queue_limit", DefaultQueueLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newStateView(snap, limit))
}

func (s *Server) handleValidators(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Validators)
}

func (s *Server) handleValidator(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validator id must be an integer")
		return
	}
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v, err := snap.Validator(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Leaderboard())
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var category domain.Category
	if req.Category != "" {
		c, err := domain.ParseCategory(req.Category)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		category = c
	}

	item, err := s.engine.Submit(category)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.N < 0 {
		writeDomainError(w, fmt.Errorf("%w: %d", domain.ErrInvalidCount, req.N))
		return
	}

	items, err := s.engine.SubmitBatch(req.N)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []domain.WorkItem{}
	}
	writeJSON(w, http.StatusCreated, batchResponse{Count: len(items), Items: items})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reset(); err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("engine reset", "epoch", snap.Epoch)
	writeJSON(w, http.StatusOK, newStateView(snap, DefaultQueueLimit))
}

// handleToggle adapts an idempotent engine command. A no-op still answers 200
// with changed=false.
func (s *Server) handleToggle(cmd func(Engine) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		changed, err := cmd(s.engine)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		snap, err := s.engine.Snapshot()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if changed {
			s.log.V(1).Info("engine command", "path", r.URL.Path, "mode", snap.Mode, "running", snap.Running)
		}
		writeJSON(w, http.StatusOK, toggleResponse{
			Changed: changed,
			Mode:    snap.Mode,
			Running: snap.Running,
		})
	}
}

func (s *Server) handleLedgerTotals(w http.ResponseWriter, r *http.Request) {
	var epoch uint64
	if raw := r.URL.Query().Get("epoch"); raw != "" {
		e, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "epoch must be a non-negative integer")
			return
		}
		epoch = e
	} else {
		snap, err := s.engine.Snapshot()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		epoch = snap.Epoch
	}

	totals, err := s.ledger.Totals(s.engine.Session(), epoch)
	if err != nil {
		s.log.Error(err, "ledger totals")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, totals)
}

func (s *Server) handleLedgerPayouts(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	payouts, err := s.ledger.Recent(s.engine.Session(), limit)
	if err != nil {
		s.log.Error(err, "recent payouts")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	writeJSON(w, http.StatusOK, payouts)
}

// handleLedgerEntries lists entries for one account, e.g. "curve" or "validator:1".
func (s *Server) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account is required")
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	entries, err := s.ledger.Entries(s.engine.Session(), account, limit)
	if err != nil {
		s.log.Error(err, "ledger entries", "account", account)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// decodeBody decodes an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

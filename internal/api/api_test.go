package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/maco144/pickle/internal/app/engine"
	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/health"
	"github.com/maco144/pickle/internal/infra/timeline"
)

// constRand draws 0 forever: every validator is a candidate and every
// accuracy check passes.
type constRand struct{}

func (constRand) Float64() float64 { return 0 }
func (constRand) IntN(int) int     { return 0 }

func newTestServer(t *testing.T) (*Server, *engine.Engine, *timeline.Virtual) {
	t.Helper()
	tl := timeline.NewVirtual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	eng, err := engine.New(tl, engine.Options{Rand: constRand{}, Session: "test-session", Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("engine.New() error: %v", err)
	}
	return NewServer(eng, logr.Discard()), eng, tl
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

// ═══════════════════════════════════════════════════════════════════════════
// Health
// ═══════════════════════════════════════════════════════════════════════════

type fakeHealth struct {
	healthy  bool
	statuses []health.Status
}

func (f fakeHealth) Statuses() []health.Status { return f.statuses }
func (f fakeHealth) IsHealthy() bool           { return f.healthy }

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := do(t, srv.Handler(), "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", w.Code)
	}

	srv.SetHealth(fakeHealth{healthy: false, statuses: []health.Status{{Name: "ledger", Healthy: false, Error: "disk full"}}})
	w = do(t, srv.Handler(), "GET", "/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded GET /health = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Errorf("body = %s, want degraded status", w.Body.String())
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Work
// ═══════════════════════════════════════════════════════════════════════════

func TestSubmit(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/work", `{"category":"ML"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/work = %d, want 201: %s", w.Code, w.Body.String())
	}
	item := decode[domain.WorkItem](t, w)
	if item.ID != "w1" || item.Category != domain.CategoryML || item.Status != domain.WorkPending {
		t.Errorf("item = %+v, want w1/ml/pending", item)
	}

	// Empty body draws a category.
	w = do(t, h, "POST", "/api/work", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/work (empty) = %d, want 201", w.Code)
	}
	if item := decode[domain.WorkItem](t, w); item.ID != "w2" || item.Category != domain.CategoryCrypto {
		t.Errorf("item = %+v, want w2/crypto", item)
	}
}

func TestSubmit_BadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name, body string
	}{
		{"unknown category", `{"category":"gpu"}`},
		{"malformed json", `{"category":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, "POST", "/api/work", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestSubmitBatch(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	w := do(t, h, "POST", "/api/work/batch", `{"n":5}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/work/batch = %d, want 201", w.Code)
	}
	if got := decode[batchResponse](t, w); got.Count != 5 || len(got.Items) != 5 {
		t.Errorf("Count = %d, len(Items) = %d, want 5", got.Count, len(got.Items))
	}

	state := decode[stateView](t, do(t, h, "GET", "/api/state", ""))
	if state.InFlight != 5 || state.QueueDepthTotal != 0 {
		t.Errorf("InFlight = %d, queue = %d, want 5, 0", state.InFlight, state.QueueDepthTotal)
	}

	w = do(t, h, "POST", "/api/work/batch", `{"n":0}`)
	if got := decode[batchResponse](t, w); got.Count != 0 || got.Items == nil {
		t.Errorf("n=0: %+v, want empty non-nil items", got)
	}

	for _, body := range []string{`{"n":-1}`, `{"n":10001}`, `{"n":1125899906842624}`} {
		w = do(t, h, "POST", "/api/work/batch", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", body, w.Code)
		}
	}
	state = decode[stateView](t, do(t, h, "GET", "/api/state", ""))
	if state.TotalSubmitted != 5 {
		t.Errorf("TotalSubmitted = %d after rejected batches, want 5", state.TotalSubmitted)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// State
// ═══════════════════════════════════════════════════════════════════════════

func TestState_QueueLimit(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	for i := 0; i < 3; i++ {
		if _, err := eng.Submit(""); err != nil {
			t.Fatal(err)
		}
	}

	w := do(t, srv.Handler(), "GET", "/api/state?queue_limit=2", "")
	state := decode[stateView](t, w)
	if len(state.Queue) != 2 || state.QueueDepthTotal != 3 {
		t.Errorf("len(Queue) = %d, queue_depth = %d, want 2, 3", len(state.Queue), state.QueueDepthTotal)
	}
	if state.Session != "test-session" {
		t.Errorf("Session = %q", state.Session)
	}

	w = do(t, srv.Handler(), "GET", "/api/state?queue_limit=x", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad queue_limit = %d, want 400", w.Code)
	}
}

func TestValidators(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	if got := decode[[]domain.Validator](t, do(t, h, "GET", "/api/validators", "")); len(got) != 4 {
		t.Errorf("len(validators) = %d, want 4", len(got))
	}
	if got := decode[[]domain.Validator](t, do(t, h, "GET", "/api/leaderboard", "")); len(got) != 4 {
		t.Errorf("len(leaderboard) = %d, want 4", len(got))
	}

	tests := []struct {
		path string
		code int
	}{
		{"/api/validators/3", http.StatusOK},
		{"/api/validators/99", http.StatusNotFound},
		{"/api/validators/prime", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if w := do(t, h, "GET", tt.path, ""); w.Code != tt.code {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.code)
		}
	}
}

func TestLeaderboard_Ordering(t *testing.T) {
	srv, eng, tl := newTestServer(t)
	if _, err := eng.SubmitBatch(1); err != nil {
		t.Fatal(err)
	}
	tl.Advance(time.Minute)

	board := decode[[]domain.Validator](t, do(t, srv.Handler(), "GET", "/api/leaderboard", ""))
	if board[0].ID != 1 || board[0].Earned <= 0 {
		t.Errorf("leader = %+v, want validator 1 with earnings", board[0])
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Commands
// ═══════════════════════════════════════════════════════════════════════════

func TestCommands(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	steps := []struct {
		path    string
		changed bool
		mode    domain.Mode
		running bool
	}{
		{"/api/start", true, domain.ModeNormal, true},
		{"/api/start", false, domain.ModeNormal, true},
		{"/api/flood/start", true, domain.ModeFlooding, true},
		{"/api/flood/start", false, domain.ModeFlooding, true},
		{"/api/flood/stop", true, domain.ModeDraining, true},
		{"/api/flood/stop", false, domain.ModeDraining, true},
		{"/api/stop", true, domain.ModeDraining, false},
	}
	for _, s := range steps {
		w := do(t, h, "POST", s.path, "")
		if w.Code != http.StatusOK {
			t.Fatalf("POST %s = %d, want 200", s.path, w.Code)
		}
		got := decode[toggleResponse](t, w)
		if got.Changed != s.changed || got.Mode != s.mode || got.Running != s.running {
			t.Errorf("POST %s = %+v, want changed=%v mode=%v running=%v", s.path, got, s.changed, s.mode, s.running)
		}
	}
}

func TestReset(t *testing.T) {
	srv, eng, _ := newTestServer(t)
	if _, err := eng.Submit(""); err != nil {
		t.Fatal(err)
	}

	w := do(t, srv.Handler(), "POST", "/api/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("POST /api/reset = %d", w.Code)
	}
	state := decode[stateView](t, w)
	if state.Epoch != 1 || state.QueueDepthTotal != 0 || state.TotalSubmitted != 0 {
		t.Errorf("after reset: epoch=%d queue=%d submitted=%d", state.Epoch, state.QueueDepthTotal, state.TotalSubmitted)
	}
}

// closedEngine fails every call the way an engine whose loop has stopped does.
type closedEngine struct{ Engine }

func (closedEngine) Snapshot() (domain.Snapshot, error) { return domain.Snapshot{}, domain.ErrEngineClosed }
func (closedEngine) Start() (bool, error)               { return false, domain.ErrEngineClosed }

func TestEngineClosed(t *testing.T) {
	srv := NewServer(closedEngine{}, logr.Discard())
	h := srv.Handler()

	for _, req := range [][2]string{{"GET", "/api/state"}, {"POST", "/api/start"}} {
		if w := do(t, h, req[0], req[1], ""); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s = %d, want 503", req[0], req[1], w.Code)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Ledger
// ═══════════════════════════════════════════════════════════════════════════

type fakeLedger struct {
	gotSession string
	gotEpoch   uint64
	gotLimit   int
	gotAccount string
}

func (f *fakeLedger) Totals(session string, epoch uint64) (domain.LedgerTotals, error) {
	f.gotSession, f.gotEpoch = session, epoch
	return domain.LedgerTotals{Session: session, Epoch: epoch, Payouts: 2, PrizePool: 0.6}, nil
}

func (f *fakeLedger) Recent(session string, limit int) ([]domain.Payout, error) {
	f.gotSession, f.gotLimit = session, limit
	return nil, nil
}

func (f *fakeLedger) Entries(session, account string, limit int) ([]domain.LedgerEntry, error) {
	f.gotSession, f.gotAccount, f.gotLimit = session, account, limit
	return []domain.LedgerEntry{{PayoutID: "p1", Account: account, EntryType: domain.EntryCredit, Amount: 0.3}}, nil
}

func TestLedgerRoutes(t *testing.T) {
	srv, eng, _ := newTestServer(t)

	// Not mounted without a ledger.
	if w := do(t, srv.Handler(), "GET", "/api/ledger/totals", ""); w.Code != http.StatusNotFound {
		t.Errorf("without ledger = %d, want 404", w.Code)
	}

	led := &fakeLedger{}
	srv.SetLedger(led)
	h := srv.Handler()
	if err := eng.Reset(); err != nil {
		t.Fatal(err)
	}

	w := do(t, h, "GET", "/api/ledger/totals", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET totals = %d", w.Code)
	}
	if led.gotSession != "test-session" || led.gotEpoch != 1 {
		t.Errorf("Totals(%q, %d), want current session at epoch 1", led.gotSession, led.gotEpoch)
	}

	do(t, h, "GET", "/api/ledger/totals?epoch=0", "")
	if led.gotEpoch != 0 {
		t.Errorf("explicit epoch = %d, want 0", led.gotEpoch)
	}
	if w := do(t, h, "GET", "/api/ledger/totals?epoch=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative epoch = %d, want 400", w.Code)
	}

	w = do(t, h, "GET", "/api/ledger/payouts?limit=5", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" || led.gotLimit != 5 {
		t.Errorf("payouts = %d %s (limit %d)", w.Code, w.Body.String(), led.gotLimit)
	}
	if w := do(t, h, "GET", "/api/ledger/payouts?limit=0", ""); w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 = %d, want 400", w.Code)
	}

	w = do(t, h, "GET", "/api/ledger/entries?account=validator:1", "")
	if w.Code != http.StatusOK || led.gotAccount != "validator:1" || led.gotLimit != 50 {
		t.Errorf("entries = %d (account %q, limit %d)", w.Code, led.gotAccount, led.gotLimit)
	}
	if entries := decode[[]domain.LedgerEntry](t, w); len(entries) != 1 || entries[0].EntryType != domain.EntryCredit {
		t.Errorf("entries = %+v", entries)
	}
	if w := do(t, h, "GET", "/api/ledger/entries", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing account = %d, want 400", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Middleware & Metrics
// ═══════════════════════════════════════════════════════════════════════════

func TestCORS(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.SetCORSOrigins([]string{"http://dash.local"})
	h := srv.Handler()

	tests := []struct {
		origin, want string
	}{
		{"http://dash.local", "http://dash.local"},
		{"http://evil.local", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/api/state", nil)
		req.Header.Set("Origin", tt.origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
			t.Errorf("origin %s: Allow-Origin = %q, want %q", tt.origin, got, tt.want)
		}
	}

	if w := do(t, h, "OPTIONS", "/api/work", ""); w.Code != http.StatusOK {
		t.Errorf("OPTIONS = %d, want 200", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	if w := do(t, srv.Handler(), "GET", "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics disabled = %d, want 404", w.Code)
	}
	srv.EnableMetrics()
	w := do(t, srv.Handler(), "GET", "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pickle_") {
		t.Errorf("metrics enabled = %d, body missing pickle_ families", w.Code)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Snapshot Hub
// ═══════════════════════════════════════════════════════════════════════════

func TestSnapshotHub_LatestWins(t *testing.T) {
	hub := NewSnapshotHub(nil, logr.Discard())
	ch := hub.subscribe()

	hub.Observe(domain.Snapshot{Sequence: 1})
	hub.Observe(domain.Snapshot{Sequence: 2})

	if got := <-ch; got.Sequence != 2 {
		t.Errorf("pending Sequence = %d, want 2", got.Sequence)
	}
	select {
	case s := <-ch:
		t.Errorf("unexpected extra snapshot %d", s.Sequence)
	default:
	}

	hub.unsubscribe(ch)
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", hub.Clients())
	}
}

func TestSnapshotHub_SSE(t *testing.T) {
	hub := NewSnapshotHub(func() (domain.Snapshot, error) {
		return domain.Snapshot{Sequence: 7, Mode: domain.ModeNormal}, nil
	}, logr.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.HandleSSE(w, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// Published after the initial snapshot has been written; the buffered
	// channel holds it until the handler loop picks it up.
	hub.Observe(domain.Snapshot{Sequence: 8, Mode: domain.ModeFlooding})
	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{"id: 7\nevent: snapshot\n", "id: 8\nevent: snapshot\n", `"mode":"flooding"`} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q:\n%s", want, body)
		}
	}
}

func TestSnapshotHub_CloseEndsStreams(t *testing.T) {
	hub := NewSnapshotHub(nil, logr.Discard())

	req := httptest.NewRequest("GET", "/api/events", nil)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.HandleSSE(w, req)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	hub.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("HandleSSE still running after Close")
	}
	if hub.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", hub.Clients())
	}

	// Late subscribers return at once and Observe is a no-op.
	hub.Close()
	hub.Observe(domain.Snapshot{Sequence: 1})
	late := httptest.NewRecorder()
	hub.HandleSSE(late, httptest.NewRequest("GET", "/api/events", nil))
	if late.Code != http.StatusOK {
		t.Errorf("late stream status = %d, want 200", late.Code)
	}
}

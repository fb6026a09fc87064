// Package credit implements the double-entry payout ledger.
// Every completion the engine reports becomes a payout with matched
// DEBIT (curve) / CREDIT (validator:<id>) entries. SUM(debits) == SUM(credits)
// is an invariant.
//
// Recording never blocks the engine: completions are buffered and written
// in batches by Run. A full buffer drops the payout and counts it.
package credit

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/infra/metrics"
	"github.com/maco144/pickle/internal/infra/sqlite"
)

// Options tunes the write path.
type Options struct {
	Buffer        int           // pending completions before drops; default 8192
	BatchSize     int           // payouts per transaction; default 256
	FlushInterval time.Duration // max age of a partial batch; default 250ms
	Clock         clock.WithTicker
}

func (o Options) withDefaults() Options {
	if o.Buffer <= 0 {
		o.Buffer = 8192
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 256
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 250 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// Service manages the payout ledger.
type Service struct {
	db   *sqlite.DB
	opts Options
	log  logr.Logger
	in   chan domain.Completion

	dropped atomic.Uint64
	written atomic.Uint64
}

// NewService creates a ledger service over db.
func NewService(db *sqlite.DB, opts Options, log logr.Logger) *Service {
	opts = opts.withDefaults()
	return &Service{
		db:   db,
		opts: opts,
		log:  log.WithName("ledger"),
		in:   make(chan domain.Completion, opts.Buffer),
	}
}

// Record queues a completion for persistence. Never blocks.
func (s *Service) Record(c domain.Completion) {
	select {
	case s.in <- c:
	default:
		s.dropped.Add(1)
		metrics.PayoutsDropped.Inc()
	}
}

// Run writes queued completions until ctx is done, then flushes whatever is
// still buffered.
func (s *Service) Run(ctx context.Context) error {
	ticker := s.opts.Clock.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.Completion, 0, s.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.Write(batch); err != nil {
			s.log.Error(err, "ledger write failed", "payouts", len(batch))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case c := <-s.in:
					batch = append(batch, c)
					if len(batch) >= s.opts.BatchSize {
						flush()
					}
				default:
					flush()
					s.log.V(1).Info("ledger stopped", "written", s.written.Load(), "dropped", s.dropped.Load())
					return nil
				}
			}
		case c := <-s.in:
			batch = append(batch, c)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C():
			flush()
		}
	}
}

// Write books completions synchronously in one transaction.
func (s *Service) Write(completions []domain.Completion) error {
	payouts := make([]domain.Payout, len(completions))
	for i, c := range completions {
		payouts[i] = domain.Payout{ID: uuid.NewString(), Completion: c}
	}

	start := time.Now()
	if err := s.db.InsertPayouts(payouts); err != nil {
		return fmt.Errorf("book %d payouts: %w", len(payouts), err)
	}
	metrics.LedgerWriteLatency.Observe(time.Since(start).Seconds())
	metrics.PayoutsWritten.Add(float64(len(payouts)))
	s.written.Add(uint64(len(payouts)))
	return nil
}

// Totals returns the ledger aggregates of one session epoch.
func (s *Service) Totals(session string, epoch uint64) (domain.LedgerTotals, error) {
	return s.db.LedgerTotals(session, epoch)
}

// Recent returns the newest payouts of a session.
func (s *Service) Recent(session string, limit int) ([]domain.Payout, error) {
	return s.db.RecentPayouts(session, limit)
}

// Entries returns the newest entries posted to account within a session.
func (s *Service) Entries(session, account string, limit int) ([]domain.LedgerEntry, error) {
	return s.db.LedgerEntries(session, account, limit)
}

// Ping checks the backing store.
func (s *Service) Ping() error {
	return s.db.Ping()
}

// Stats reports payouts written and dropped since start.
func (s *Service) Stats() (written, dropped uint64) {
	return s.written.Load(), s.dropped.Load()
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

// Tolerance bounds float drift between ledger sums and engine aggregates.
const Tolerance = 1e-6

// Reconcile checks the ledger against a snapshot of the same session epoch.
// Only meaningful once every completion in the snapshot has been written.
func Reconcile(totals domain.LedgerTotals, snap domain.Snapshot) error {
	if math.Abs(totals.Debits-totals.Credits) > Tolerance {
		return fmt.Errorf("ledger unbalanced: debits %.6f, credits %.6f", totals.Debits, totals.Credits)
	}
	if uint64(totals.Payouts) != snap.TotalValidated {
		return fmt.Errorf("ledger has %d payouts, engine validated %d", totals.Payouts, snap.TotalValidated)
	}
	if math.Abs(totals.PrizePool-snap.PrizePool) > Tolerance {
		return fmt.Errorf("ledger prize pool %.6f, engine %.6f", totals.PrizePool, snap.PrizePool)
	}
	for _, v := range snap.Validators {
		if math.Abs(totals.ByValidator[v.ID]-v.Earned) > Tolerance {
			return fmt.Errorf("validator %d: ledger %.6f, engine %.6f", v.ID, totals.ByValidator[v.ID], v.Earned)
		}
	}
	return nil
}

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/maco144/pickle/internal/app/credit"
	"github.com/maco144/pickle/internal/app/engine"
	"github.com/maco144/pickle/internal/daemon"
	"github.com/maco144/pickle/internal/domain"
	"github.com/maco144/pickle/internal/infra/sqlite"
	"github.com/maco144/pickle/internal/infra/timeline"
)

func init() {
	f := simulateCmd.Flags()
	f.DurationVar(&simFlags.Duration, "duration", 2*time.Minute, "Simulated time to run")
	f.Uint64Var(&simFlags.Seed, "seed", 1, "Random seed (0 uses the config seed, then a random one)")
	f.DurationVar(&simFlags.FloodAt, "flood-at", 10*time.Second, "When to start a flood")
	f.DurationVar(&simFlags.FloodFor, "flood-for", 0, "How long the flood lasts (0 disables flooding)")
	f.IntVar(&simFlags.Batch, "batch", 0, "Submit and assign this many items at start")
	f.StringVar(&simFlags.LedgerDir, "ledger", "", "Record payouts into a ledger in this directory and reconcile")
	rootCmd.AddCommand(simulateCmd)
}

var simFlags simParams

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the engine headless on simulated time",
	Long: `Run the engine on a virtual clock and print a summary.
A run over minutes of simulated time finishes instantly and is reproducible
for a given seed.`,
	Example: `  pickle simulate --duration 5m --seed 42
  pickle simulate --flood-at 10s --flood-for 2s --ledger /tmp/pickle`,
	RunE: runSimulate,
}

// simParams drives one headless run.
type simParams struct {
	Duration  time.Duration
	Seed      uint64
	FloodAt   time.Duration
	FloodFor  time.Duration
	Batch     int
	LedgerDir string
}

// simResult is what a run reports.
type simResult struct {
	Final      domain.Snapshot
	PeakQueue  int
	Snapshots  uint64
	Ledger     *domain.LedgerTotals // nil without --ledger
	Reconciled error
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}

	res, err := simulate(cfg, simFlags, log)
	if err != nil {
		return err
	}
	if err := printSummary(cmd.OutOrStdout(), simFlags, res); err != nil {
		return err
	}
	return res.Reconciled
}

// simEpoch anchors simulated time so runs are reproducible.
var simEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func simulate(cfg daemon.Config, p simParams, log logr.Logger) (simResult, error) {
	var res simResult
	if p.Duration <= 0 {
		return res, fmt.Errorf("duration must be positive, got %s", p.Duration)
	}
	if p.Batch < 0 {
		return res, fmt.Errorf("%w: %d", domain.ErrInvalidCount, p.Batch)
	}

	roster, err := cfg.Roster()
	if err != nil {
		return res, err
	}
	opts := engine.Options{
		Config: cfg.SchedulerConfig(),
		Roster: roster,
		Logger: log,
	}
	seed := p.Seed
	if seed == 0 {
		seed = cfg.Engine.Seed
	}
	if seed != 0 {
		opts.Rand = daemon.SeededRand(seed)
	}

	var rec *syncRecorder
	if p.LedgerDir != "" {
		db, err := sqlite.Open(p.LedgerDir)
		if err != nil {
			return res, fmt.Errorf("open ledger: %w", err)
		}
		defer db.Close()
		rec = &syncRecorder{svc: credit.NewService(db, credit.Options{}, log)}
		opts.Recorder = rec
	}

	tl := timeline.NewVirtual(simEpoch)
	eng, err := engine.New(tl, opts)
	if err != nil {
		return res, err
	}

	if _, err := eng.Subscribe(func(s domain.Snapshot) {
		res.Snapshots++
		if q := s.QueueDepth(); q > res.PeakQueue {
			res.PeakQueue = q
		}
	}); err != nil {
		return res, err
	}

	if _, err := eng.Start(); err != nil {
		return res, err
	}
	if p.Batch > 0 {
		if _, err := eng.SubmitBatch(p.Batch); err != nil {
			return res, err
		}
	}
	if p.FloodFor > 0 {
		tl.AfterFunc(p.FloodAt, func() { _, _ = eng.StartFlood() })
		tl.AfterFunc(p.FloodAt+p.FloodFor, func() { _, _ = eng.StopFlood() })
	}

	tl.Advance(p.Duration)

	if res.Final, err = eng.Snapshot(); err != nil {
		return res, err
	}

	if rec != nil {
		if err := rec.flush(); err != nil {
			return res, fmt.Errorf("write ledger: %w", err)
		}
		totals, err := rec.svc.Totals(eng.Session(), res.Final.Epoch)
		if err != nil {
			return res, err
		}
		res.Ledger = &totals
		res.Reconciled = credit.Reconcile(totals, res.Final)
	}
	return res, nil
}

// syncRecorder books payouts synchronously in batches. Virtual time runs
// far faster than an asynchronous writer could drain.
type syncRecorder struct {
	svc     *credit.Service
	pending []domain.Completion
	err     error
}

const syncBatch = 1024

func (r *syncRecorder) Record(c domain.Completion) {
	r.pending = append(r.pending, c)
	if len(r.pending) >= syncBatch {
		_ = r.flush()
	}
}

func (r *syncRecorder) flush() error {
	if r.err == nil && len(r.pending) > 0 {
		r.err = r.svc.Write(r.pending)
		r.pending = r.pending[:0]
	}
	return r.err
}

func printSummary(out io.Writer, p simParams, res simResult) error {
	s := res.Final
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Simulated:\t%s\n", p.Duration)
	fmt.Fprintf(w, "Mode:\t%s\n", s.Mode)
	fmt.Fprintf(w, "Submitted:\t%d\n", s.TotalSubmitted)
	fmt.Fprintf(w, "Validated:\t%d\n", s.TotalValidated)
	fmt.Fprintf(w, "Queue:\t%d (peak %d)\n", s.QueueDepth(), res.PeakQueue)
	fmt.Fprintf(w, "In flight:\t%d\n", s.InFlight)
	fmt.Fprintf(w, "Price:\t%.4f\n", s.CurrentPrice)
	fmt.Fprintf(w, "Prize pool:\t%.4f\n", s.PrizePool)
	fmt.Fprintf(w, "Snapshots:\t%d\n", res.Snapshots)
	if res.Ledger != nil {
		status := "ok"
		if res.Reconciled != nil {
			status = res.Reconciled.Error()
		}
		fmt.Fprintf(w, "Ledger:\t%d payouts, %.4f credited (%s)\n", res.Ledger.Payouts, res.Ledger.Credits, status)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "RANK\tVALIDATOR\tSPECIALIZATION\tVALIDATED\tEARNED")
	for i, v := range s.Leaderboard() {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.4f\n", i+1, v.Name, v.Specialization, v.Validated, v.Earned)
	}
	return w.Flush()
}

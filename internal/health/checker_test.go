package health

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"

	"github.com/maco144/pickle/internal/infra/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func statusOf(t *testing.T, c *Checker, name string) Status {
	t.Helper()
	for _, s := range c.Statuses() {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("check %q not found in statuses", name)
	return Status{}
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestChecker_RunAllHealthy(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(0,
		LedgerCheck(db),
		EngineCheck(pingFunc(func(context.Context) error { return nil }), time.Second),
		DataDirCheck(t.TempDir()),
	)
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	c := NewChecker(0, LedgerCheck(newTestDB(t)))

	// No statuses before the first run, so IsHealthy is vacuously true.
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_LedgerClosed(t *testing.T) {
	db := newTestDB(t)
	c := NewChecker(0, LedgerCheck(db))
	db.Close()
	c.runAll(context.Background())

	if statusOf(t, c, "ledger").Healthy {
		t.Error("ledger check should fail on a closed database")
	}
}

func TestChecker_EngineTimeout(t *testing.T) {
	stuck := pingFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	c := NewChecker(0, EngineCheck(stuck, 10*time.Millisecond))
	c.runAll(context.Background())

	s := statusOf(t, c, "engine_loop")
	if s.Healthy || s.Error == "" {
		t.Errorf("engine_loop = %+v, want unhealthy with error", s)
	}
}

func TestChecker_DataDir(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nonexistent")
	file := filepath.Join(t.TempDir(), "data")
	os.WriteFile(file, []byte("not a dir"), 0644)

	tests := []struct {
		name string
		dir  string
		want bool
	}{
		{"exists", t.TempDir(), true},
		{"missing", missing, true},
		{"file", file, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(0, DataDirCheck(tt.dir))
			c.runAll(context.Background())
			if got := statusOf(t, c, "data_dir").Healthy; got != tt.want {
				t.Errorf("Healthy = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChecker_FailingCheckRecovers(t *testing.T) {
	var recovered atomic.Int32
	c := NewChecker(0, Check{
		Name: "always_fail",
		CheckFn: func(ctx context.Context) error {
			return os.ErrPermission
		},
		RecoverFn: func(ctx context.Context) error {
			recovered.Add(1)
			return nil
		},
	})

	c.runAll(context.Background())

	s := statusOf(t, c, "always_fail")
	if s.Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if s.Error != os.ErrPermission.Error() {
		t.Error("error message should be populated")
	}
	if recovered.Load() != 1 {
		t.Errorf("RecoverFn calls = %d, want 1", recovered.Load())
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	c := NewChecker(0, DataDirCheck(t.TempDir()))
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	s1[0].Healthy = false
	if !s2[0].Healthy {
		t.Error("Statuses() should return a copy, not a reference")
	}
}

func TestChecker_RunTicks(t *testing.T) {
	fc := testclock.NewFakeClock(time.Now())
	var runs atomic.Int32
	c := NewCheckerWithClock(fc, time.Minute, Check{
		Name: "count",
		CheckFn: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	require.Eventually(t, func() bool { return runs.Load() == 1 && fc.HasWaiters() }, time.Second, 5*time.Millisecond)
	fc.Step(time.Minute)
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/cognicore/cellar/pkg/cellar/completion"
	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/store"
	"github.com/cognicore/cellar/pkg/cellar/store/memstore"
)

func testEngine(st store.Store) *enrich.Engine {
	cfg := enrich.DefaultConfig()
	cfg.InterCallDelay = 0
	return enrich.NewEngine(st,
		enrich.WithKnowledgeBase(enrich.NewKnowledgeBase(enrich.DefaultArchetypes())),
		enrich.WithConfig(cfg))
}

func testConfig() Config {
	return Config{
		Interval:         10 * time.Millisecond,
		StaleAfter:       10 * time.Minute,
		RetryFailedAfter: time.Hour,
		MaxAttempts:      3,
		PageSize:         2,
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDaemonDrainsPendingWines(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	names := []string{"Barolo", "Chianti Classico", "Sancerre", "Rioja Reserva", "Malbec"}
	for _, n := range names {
		if _, err := st.Insert(ctx, store.Wine{Name: n}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	d := New(st, testEngine(st), testConfig(), nil)
	if !d.Start(ctx) {
		t.Fatal("first Start should report true")
	}
	if d.Start(ctx) {
		t.Error("second Start should be a no-op")
	}

	waitFor(t, "pending wines to drain", func() bool {
		n, _ := st.CountByStatus(ctx, store.StatusPending)
		p, _ := st.CountByStatus(ctx, store.StatusProcessing)
		return n == 0 && p == 0
	})

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	status, err := d.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Running {
		t.Error("daemon should report stopped")
	}
	if status.Processed != len(names) {
		t.Errorf("processed = %d, want %d", status.Processed, len(names))
	}
	if status.PendingCount != 0 {
		t.Errorf("pending = %d", status.PendingCount)
	}
	if status.Cycles < 3 {
		t.Errorf("page size 2 over 5 wines needs at least 3 cycles, got %d", status.Cycles)
	}
}

func TestDaemonRecoversStuckWine(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return base })

	w, err := st.Insert(ctx, store.Wine{Name: "Brunello di Montalcino", Vintage: "2016"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ok, _ := st.TryClaim(ctx, w.ID); !ok {
		t.Fatal("claim failed")
	}
	st.SetClock(func() time.Time { return base.Add(time.Hour) })

	d := New(st, testEngine(st), testConfig(), nil)
	d.Start(ctx)
	defer d.Stop(ctx)

	waitFor(t, "stuck wine to complete", func() bool {
		got, _ := st.GetWine(ctx, w.ID)
		return got.EnrichmentStatus == store.StatusCompleted
	})

	status, _ := d.Status(ctx)
	if status.Recovered != 1 {
		t.Errorf("recovered = %d, want 1", status.Recovered)
	}
	got, _ := st.GetWine(ctx, w.ID)
	if got.EnrichmentAttempts != 2 {
		t.Errorf("attempts = %d, want 2", got.EnrichmentAttempts)
	}
}

func TestDaemonStopWhenIdle(t *testing.T) {
	st := memstore.New()
	d := New(st, testEngine(st), testConfig(), nil)

	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop on a stopped daemon: %v", err)
	}

	d.Start(context.Background())
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	// restart after stop
	if !d.Start(context.Background()) {
		t.Error("Start after Stop should run again")
	}
	d.Stop(context.Background())
}

func TestDaemonRestartWaitsForDrainingLoop(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	if _, err := st.Insert(ctx, store.Wine{Name: "Mystery Red"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := completion.Func(func(ctx context.Context, req completion.Request) (string, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return "", context.DeadlineExceeded
	})
	cfg := enrich.DefaultConfig()
	cfg.InterCallDelay = 0
	cfg.ResearchAttempts = 1
	engine := enrich.NewEngine(st,
		enrich.WithKnowledgeBase(enrich.NewKnowledgeBase(nil)),
		enrich.WithCompleter(slow),
		enrich.WithConfig(cfg))

	d := New(st, engine, testConfig(), nil)
	d.Start(ctx)
	<-entered

	stopCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := d.Stop(stopCtx); err == nil {
		t.Fatal("Stop should time out while a wine is in progress")
	}
	if d.Start(ctx) {
		t.Fatal("Start should refuse while the previous loop is draining")
	}

	close(release)
	waitFor(t, "loop exit", func() bool { return d.Start(ctx) })
	d.Stop(ctx)
}

func TestDaemonFailedWineIsNotRetriedPastCap(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	// nothing in the knowledge base and no completer: enrichment fails
	w, _ := st.Insert(ctx, store.Wine{Name: "Obscure Field Blend"})
	cfg := testConfig()
	cfg.RetryFailedAfter = 0

	d := New(st, testEngine(st), cfg, nil)
	d.Start(ctx)

	waitFor(t, "wine to fail", func() bool {
		got, _ := st.GetWine(ctx, w.ID)
		return got.EnrichmentStatus == store.StatusFailed
	})
	time.Sleep(50 * time.Millisecond)
	d.Stop(ctx)

	got, _ := st.GetWine(ctx, w.ID)
	if got.EnrichmentAttempts != 1 {
		t.Errorf("failed wine retried without requeue: attempts=%d", got.EnrichmentAttempts)
	}
	status, _ := d.Status(ctx)
	if status.Failed != 1 || status.LastError == "" {
		t.Errorf("unexpected status: %+v", status)
	}
}

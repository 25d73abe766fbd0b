package cellar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/extract"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/store"
	"github.com/cognicore/cellar/pkg/cellar/store/memstore"
)

func newTestService(t *testing.T, st store.Store) *Service {
	t.Helper()
	cfg := enrich.DefaultConfig()
	cfg.InterCallDelay = 0
	engine := enrich.NewEngine(st,
		enrich.WithKnowledgeBase(enrich.NewKnowledgeBase(enrich.DefaultArchetypes())),
		enrich.WithConfig(cfg))
	svc := New(Options{
		Store:     st,
		Extractor: extract.New(extract.Options{}),
		Engine:    engine,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		svc.Close(ctx)
	})
	return svc
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

func TestIngestScenarioKicksOffEnrichment(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := newTestService(t, st)

	res, err := svc.Ingest(ctx, IngestRequest{
		Text:       "Château Margaux, Château Margaux, 2015, Bordeaux\nBarolo Riserva 2018",
		UploaderID: "admin",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.NewWinesCount != 2 || res.EnrichmentQueued != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	barolo := res.NewWineIDs[1]
	waitFor(t, "barolo enrichment", func() bool {
		w, _ := st.GetWine(ctx, barolo)
		return w.EnrichmentStatus == store.StatusCompleted
	})
	w, _ := svc.Wine(ctx, barolo)
	if w.Profile.TanninLevel != "High" || w.VerifiedSource != enrich.SourceKnowledgeBase {
		t.Errorf("barolo not enriched from knowledge base: %+v", w)
	}

	waitFor(t, "queue to drain", func() bool {
		s := svc.QueueStatus()
		return s.Queued == 0 && !s.Running && s.Completed == 2
	})
	stats, err := svc.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 2 || stats.Enriched != 2 || stats.CompletionPercentage != 100 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestIngestKickoffIsBounded(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := newTestService(t, st)
	svc.kickoff = 1

	res, err := svc.Ingest(ctx, IngestRequest{
		Text:       "Barolo 2016\nChianti Classico 2019\nSancerre 2022",
		UploaderID: "admin",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.NewWinesCount != 3 || res.EnrichmentQueued != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestIngestValidation(t *testing.T) {
	svc := newTestService(t, memstore.New())

	tests := []struct {
		name string
		req  IngestRequest
	}{
		{"missing uploader", IngestRequest{Text: "Barolo 2016"}},
		{"no source", IngestRequest{UploaderID: "u"}},
		{"blank text", IngestRequest{Text: "   \n\t\n  ", UploaderID: "u"}},
		{"both sources", IngestRequest{Text: "Barolo 2016", URL: "https://example.com/list", UploaderID: "u"}},
		{"bad url", IngestRequest{URL: "not a url", UploaderID: "u"}},
		{"negative size", IngestRequest{Text: "Barolo 2016", UploaderID: "u", FileSize: -1}},
	}
	for _, tt := range tests {
		_, err := svc.Ingest(context.Background(), tt.req)
		if !errors.Is(err, internalerr.ErrInvalidInput) {
			t.Errorf("%s: err = %v, want ErrInvalidInput", tt.name, err)
		}
	}
}

func TestIngestFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h2>Reds</h2><ul>
<li>Barolo Riserva 2018</li>
<li>Tignanello by Antinori (2019)</li>
</ul><script>var x = 1;</script></body></html>`))
	}))
	defer srv.Close()

	st := memstore.New()
	svc := newTestService(t, st)
	svc.kickoff = -1

	res, err := svc.Ingest(context.Background(), IngestRequest{URL: srv.URL, UploaderID: "scraper"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.NewWinesCount != 2 || res.EnrichmentQueued != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestIngestFromURLWithoutLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><script>var x = 1;</script></body></html>`))
	}))
	defer srv.Close()

	st := memstore.New()
	svc := newTestService(t, st)

	_, err := svc.Ingest(context.Background(), IngestRequest{URL: srv.URL, UploaderID: "scraper"})
	if !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if n, _ := st.CountWines(context.Background()); n != 0 {
		t.Errorf("catalog has %d wines", n)
	}
}

func TestLinkAndDeactivate(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := newTestService(t, st)

	w, err := st.Insert(ctx, store.Wine{Name: "Sassicaia", Producer: "Tenuta San Guido", Vintage: "2019"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	price := 420.0
	a, err := svc.LinkWine(ctx, w.ID, "r1", &store.Pricing{Price: &price})
	if err != nil {
		t.Fatalf("LinkWine: %v", err)
	}
	if !a.Active || a.Price != price {
		t.Errorf("unexpected association: %+v", a)
	}

	page, _ := svc.ListWines(ctx, store.ListOptions{RestaurantID: "r1"})
	if page.Total != 1 {
		t.Errorf("restaurant list total = %d, want 1", page.Total)
	}

	if err := svc.DeactivateWine(ctx, w.ID, "r1"); err != nil {
		t.Fatalf("DeactivateWine: %v", err)
	}
	page, _ = svc.ListWines(ctx, store.ListOptions{RestaurantID: "r1"})
	if page.Total != 0 {
		t.Errorf("deactivated wine still listed: %d", page.Total)
	}

	if _, err := svc.LinkWine(ctx, "missing", "r1", nil); !errors.Is(err, internalerr.ErrNotFound) {
		t.Errorf("link missing wine: err = %v", err)
	}
	if err := svc.DeactivateWine(ctx, w.ID, ""); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("deactivate without restaurant: err = %v", err)
	}
}

func TestEnrichPendingAndDaemon(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := newTestService(t, st)

	for _, n := range []string{"Barolo", "Rioja Reserva"} {
		st.Insert(ctx, store.Wine{Name: n})
	}
	if err := svc.EnrichPending(ctx, 0); err != nil {
		t.Fatalf("EnrichPending: %v", err)
	}
	waitFor(t, "pending batch", func() bool {
		n, _ := st.CountByStatus(ctx, store.StatusCompleted)
		return n == 2
	})
	if err := svc.EnrichPending(ctx, -1); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("negative limit: err = %v", err)
	}

	if !svc.StartDaemon(ctx) {
		t.Fatal("StartDaemon should start")
	}
	status, err := svc.DaemonStatus(ctx)
	if err != nil || !status.Running {
		t.Fatalf("DaemonStatus: %+v %v", status, err)
	}
	if err := svc.StopDaemon(ctx); err != nil {
		t.Fatalf("StopDaemon: %v", err)
	}
}

func TestFindDuplicateGroups(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	svc := newTestService(t, st)

	// insert bypasses the matcher, as a concurrent ingest race would
	st.Insert(ctx, store.Wine{Name: "Opus One", Producer: "Opus One Winery", Vintage: "2018", Region: "Napa"})
	st.Insert(ctx, store.Wine{Name: "Opus One", Producer: "Opus One Winery", Vintage: "2018"})
	st.Insert(ctx, store.Wine{Name: "Opus One", Producer: "Opus One Winery", Vintage: "2017"})

	groups, err := svc.FindDuplicateGroups(ctx)
	if err != nil {
		t.Fatalf("FindDuplicateGroups: %v", err)
	}
	if len(groups) != 1 || len(groups[0].WineIDs) != 2 {
		t.Errorf("unexpected groups: %+v", groups)
	}
}

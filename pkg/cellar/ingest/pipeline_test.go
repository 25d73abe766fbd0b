package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cognicore/cellar/pkg/cellar/extract"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
	"github.com/cognicore/cellar/pkg/cellar/match"
	"github.com/cognicore/cellar/pkg/cellar/store"
	"github.com/cognicore/cellar/pkg/cellar/store/memstore"
)

func newTestPipeline(st store.Store) *Pipeline {
	return NewPipeline(st, extract.New(extract.Options{}), match.New(0))
}

func TestRunScenario(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newTestPipeline(st)

	sum, err := p.Run(ctx, Batch{
		Text:       "Château Margaux, Château Margaux, 2015, Bordeaux\nBarolo Riserva 2018",
		UploaderID: "u1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.NewWinesCount != 2 || sum.DuplicatesFound != 0 || sum.ErrorCount != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.TotalInDatabase != 2 || len(sum.NewWineIDs) != 2 || len(sum.SampleRecords) != 2 {
		t.Errorf("unexpected totals: %+v", sum)
	}

	first, _ := st.GetWine(ctx, sum.NewWineIDs[0])
	if first.Producer != "Château Margaux" || first.Name != "Château Margaux" || first.Vintage != "2015" || first.Region != "Bordeaux" {
		t.Errorf("unexpected first wine: %+v", first)
	}
	second, _ := st.GetWine(ctx, sum.NewWineIDs[1])
	if second.Name != "Barolo Riserva" || second.Vintage != "2018" {
		t.Errorf("unexpected second wine: %+v", second)
	}
	for _, w := range []store.Wine{first, second} {
		if w.EnrichmentStatus != store.StatusPending {
			t.Errorf("%s: status %s, want pending", w.Name, w.EnrichmentStatus)
		}
	}

	upload, err := st.GetUpload(ctx, sum.UploadID)
	if err != nil {
		t.Fatalf("GetUpload: %v", err)
	}
	if upload.Status != store.UploadCompleted || upload.LineCount != 2 || upload.NewCount != 2 {
		t.Errorf("unexpected upload: %+v", upload)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newTestPipeline(st)

	text := "Château Margaux, Château Margaux, 2015, Bordeaux\nBarolo Riserva 2018\nTignanello by Antinori (2019)"
	first, err := p.Run(ctx, Batch{Text: text, UploaderID: "u1"})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := p.Run(ctx, Batch{Text: text, UploaderID: "u1"})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.NewWinesCount != 3 {
		t.Fatalf("first run new = %d, want 3", first.NewWinesCount)
	}
	if second.NewWinesCount != 0 || second.DuplicatesFound != 3 {
		t.Errorf("second run: %+v", second)
	}
	if second.TotalInDatabase != first.TotalInDatabase {
		t.Errorf("catalog grew: %d → %d", first.TotalInDatabase, second.TotalInDatabase)
	}
}

func TestRunIsolatesLineErrors(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newTestPipeline(st)

	lines := []string{
		"Chablis Premier Cru 2019",
		"Sancerre Les Monts Damnés 2020",
		"Barolo Cannubi 2016",
		"-------------",
		"Rioja Gran Reserva 2012",
		"Priorat Clos Mogador 2017",
		"Riesling Kabinett Mosel 2021",
		"Amarone della Valpolicella 2015",
		"Malbec Mendoza Reserva 2020",
		"Grüner Veltliner Smaragd 2022",
	}
	sum, err := p.Run(ctx, Batch{Text: strings.Join(lines, "\n"), UploaderID: "u1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ErrorCount != 1 {
		t.Errorf("error count = %d, want 1", sum.ErrorCount)
	}
	if sum.NewWinesCount+sum.DuplicatesFound != 9 || sum.ProcessedCount != 9 {
		t.Errorf("expected 9 outcomes, got %+v", sum)
	}
	if len(sum.LineErrors) != 1 || sum.LineErrors[0].Line != 4 {
		t.Errorf("unexpected line errors: %+v", sum.LineErrors)
	}
}

func TestRunLinksToRestaurant(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newTestPipeline(st)

	sum, err := p.Run(ctx, Batch{Text: "Barolo Riserva 2018 $120", UploaderID: "u1", RestaurantID: "r1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	page, _ := st.ListWines(ctx, store.ListOptions{RestaurantID: "r1"})
	if page.Total != 1 {
		t.Fatalf("restaurant scope total = %d", page.Total)
	}
	w, _ := st.GetWine(ctx, sum.NewWineIDs[0])
	if w.RestaurantID != "" {
		t.Errorf("linked wine should stay in the global catalog: %q", w.RestaurantID)
	}

	// A second restaurant reuses the global record
	sum, err = p.Run(ctx, Batch{Text: "Barolo Riserva 2018", UploaderID: "u2", RestaurantID: "r2"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.DuplicatesFound != 1 || sum.TotalInDatabase != 1 {
		t.Errorf("unexpected summary: %+v", sum)
	}
}

func TestRunIsolatedCollection(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	p := newTestPipeline(st)

	if _, err := p.Run(ctx, Batch{Text: "Barolo Riserva 2018", UploaderID: "u1"}); err != nil {
		t.Fatalf("global run: %v", err)
	}
	sum, err := p.Run(ctx, Batch{Text: "Barolo Riserva 2018", UploaderID: "u1", RestaurantID: "r1", Isolated: true})
	if err != nil {
		t.Fatalf("isolated run: %v", err)
	}
	if sum.NewWinesCount != 1 {
		t.Fatalf("isolated collection should not see global wines: %+v", sum)
	}
	w, _ := st.GetWine(ctx, sum.NewWineIDs[0])
	if w.RestaurantID != "r1" {
		t.Errorf("restaurant id = %q, want r1", w.RestaurantID)
	}

	if _, err := p.Run(ctx, Batch{Text: "x", UploaderID: "u1", Isolated: true}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

type failingInsertStore struct {
	store.Store
}

func (s failingInsertStore) Insert(ctx context.Context, w store.Wine) (store.Wine, error) {
	return store.Wine{}, errors.New("disk full")
}

func TestRunPersistenceFailureFinalizesFailed(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	p := newTestPipeline(failingInsertStore{Store: mem})

	sum, err := p.Run(ctx, Batch{Text: "Barolo Riserva 2018", UploaderID: "u1"})
	if !errors.Is(err, internalerr.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	upload, _ := mem.GetUpload(ctx, sum.UploadID)
	if upload.Status != store.UploadFailed || !strings.Contains(upload.ErrorMessage, "disk full") {
		t.Errorf("unexpected upload: %+v", upload)
	}
}

func TestRunRequiresUploader(t *testing.T) {
	p := newTestPipeline(memstore.New())
	if _, err := p.Run(context.Background(), Batch{Text: "Barolo 2018"}); !errors.Is(err, internalerr.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

type countingUploadStore struct {
	store.Store
	created int
}

func (s *countingUploadStore) CreateUpload(ctx context.Context, u store.Upload) (store.Upload, error) {
	s.created++
	return s.Store.CreateUpload(ctx, u)
}

func TestRunRejectsBlankText(t *testing.T) {
	st := &countingUploadStore{Store: memstore.New()}
	p := newTestPipeline(st)

	for _, text := range []string{"", "   \n\t\n  ", "\r\n\r\n"} {
		_, err := p.Run(context.Background(), Batch{Text: text, UploaderID: "u1"})
		if !errors.Is(err, internalerr.ErrInvalidInput) {
			t.Errorf("Run(%q): expected ErrInvalidInput, got %v", text, err)
		}
	}
	if st.created != 0 {
		t.Errorf("created %d uploads for blank input", st.created)
	}
}

func TestSplitLines(t *testing.T) {
	got := SplitLines("  a \r\n\r\nb\rc\n\n  ")
	want := []string{"a", "b", "c"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("SplitLines = %q, want %q", got, want)
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cognicore/cellar/internal/logger"
	"github.com/cognicore/cellar/pkg/cellar"
	"github.com/cognicore/cellar/pkg/cellar/config"
	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/ingest"
	"github.com/cognicore/cellar/pkg/cellar/store/sqlite"
)

func main() {
	var (
		configPath = flag.String("config", "", "Config YAML (optional)")
		dbPath     = flag.String("db", "", "Database path, overrides database.path")
		filePath   = flag.String("file", "", "Wine list file, or - for stdin")
		pageURL    = flag.String("url", "", "Wine list page to scrape instead of a file")
		uploader   = flag.String("uploader", "wine-import", "Uploader id recorded on the upload")
		restaurant = flag.String("restaurant", "", "Restaurant id to link wines to")
		isolated   = flag.Bool("isolated", false, "Store new wines in the restaurant's own collection")
		enrichN    = flag.Int("enrich", 0, "Enrich up to N pending wines after import")
		asJSON     = flag.Bool("json", false, "Print the summary as JSON")
		verbose    = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	if (*filePath == "") == (*pageURL == "") {
		log.Fatal("exactly one of --file or --url required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	zl := logger.Nop()
	if *verbose {
		if zl, err = logger.New("dev"); err != nil {
			log.Fatalf("init logger: %v", err)
		}
		defer zl.Sync()
	}

	ctx := context.Background()

	comp, err := (&config.Loader{Config: cfg}).Load()
	if err != nil {
		log.Fatalf("load components: %v", err)
	}

	st, err := sqlite.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	opts := []enrich.Option{
		enrich.WithKnowledgeBase(comp.Knowledge),
		enrich.WithConfig(comp.Enrich),
		enrich.WithLogger(zl),
	}
	if comp.Verifier != nil {
		opts = append(opts, enrich.WithVerifier(comp.Verifier))
	}
	if comp.Completer != nil {
		opts = append(opts, enrich.WithCompleter(comp.Completer))
	}
	engine := enrich.NewEngine(st, opts...)

	svc := cellar.New(cellar.Options{
		Store:     st,
		Extractor: comp.Extractor,
		Matcher:   comp.Matcher,
		Engine:    engine,
		Kickoff:   -1,
		Logger:    zl,
	})
	defer svc.Close(ctx)

	req := cellar.IngestRequest{
		UploaderID:   *uploader,
		RestaurantID: *restaurant,
		Isolated:     *isolated,
	}
	if *pageURL != "" {
		req.URL = *pageURL
		req.FileName = *pageURL
	} else {
		text, size, err := readList(*filePath)
		if err != nil {
			log.Fatalf("read %s: %v", *filePath, err)
		}
		req.Text = text
		req.FileName = filepath.Base(*filePath)
		req.FileSize = size
	}

	res, err := svc.Ingest(ctx, req)
	if err != nil {
		log.Fatalf("ingest: %v", err)
	}

	var batch *enrich.BatchResult
	if *enrichN > 0 {
		br, err := engine.EnrichPending(ctx, *enrichN, nil)
		if err != nil {
			log.Fatalf("enrich: %v", err)
		}
		batch = &br
	}

	if *asJSON {
		out := struct {
			Ingest cellar.IngestResult `json:"ingest"`
			Enrich *enrich.BatchResult `json:"enrich,omitempty"`
		}{res, batch}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			log.Fatal(err)
		}
		return
	}
	printSummary(res.Summary, batch)
}

// readList reads a file, or stdin for "-". HTML files are reduced to lines.
func readList(path string) (string, int64, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", 0, err
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		lines, err := ingest.HTMLToLines(strings.NewReader(string(data)))
		if err != nil {
			return "", 0, err
		}
		return strings.Join(lines, "\n"), int64(len(data)), nil
	}
	return string(data), int64(len(data)), nil
}

func printSummary(sum ingest.Summary, batch *enrich.BatchResult) {
	fmt.Printf("Upload %s (%s)\n", sum.UploadID, sum.Duration)
	fmt.Printf("  new:        %d\n", sum.NewWinesCount)
	fmt.Printf("  duplicates: %d\n", sum.DuplicatesFound)
	fmt.Printf("  errors:     %d\n", sum.ErrorCount)
	fmt.Printf("  catalog:    %d wines\n", sum.TotalInDatabase)

	for _, le := range sum.LineErrors {
		fmt.Printf("  line %d skipped: %s (%s)\n", le.Line, le.Text, le.Reason)
	}
	if len(sum.SampleRecords) > 0 {
		fmt.Println("Sample:")
		for _, w := range sum.SampleRecords {
			fmt.Printf("  %s | %s | %s | %s\n", w.Name, w.Producer, w.Vintage, w.Region)
		}
	}
	if batch != nil {
		fmt.Printf("Enrichment: %d completed, %d failed, %d skipped\n",
			batch.Completed, batch.Failed, batch.Skipped)
	}
}

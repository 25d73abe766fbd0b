package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/cellar/internal/httpapi"
	"github.com/cognicore/cellar/internal/logger"
	"github.com/cognicore/cellar/pkg/cellar"
	"github.com/cognicore/cellar/pkg/cellar/config"
	"github.com/cognicore/cellar/pkg/cellar/enrich"
	"github.com/cognicore/cellar/pkg/cellar/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML (defaults apply when empty)")
	addr := flag.String("addr", "", "Listen address, overrides server.addr")
	daemon := flag.Bool("daemon", false, "Start the enrichment daemon on boot")
	flag.Parse()

	if err := run(*configPath, *addr, *daemon); err != nil {
		fmt.Fprintln(os.Stderr, "cellar-server:", err)
		os.Exit(1)
	}
}

func run(configPath, addr string, autoStart bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	if cfg.Log.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := (&config.Loader{Config: cfg}).Load()
	if err != nil {
		return err
	}

	st, err := sqlite.OpenSQLite(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	opts := []enrich.Option{
		enrich.WithKnowledgeBase(comp.Knowledge),
		enrich.WithConfig(comp.Enrich),
		enrich.WithLogger(log),
	}
	if comp.Verifier != nil {
		opts = append(opts, enrich.WithVerifier(comp.Verifier))
	}
	if comp.Completer != nil {
		opts = append(opts, enrich.WithCompleter(comp.Completer))
	}

	svc := cellar.New(cellar.Options{
		Store:     st,
		Extractor: comp.Extractor,
		Matcher:   comp.Matcher,
		Engine:    enrich.NewEngine(st, opts...),
		Daemon:    comp.Daemon,
		QueueSize: cfg.Server.QueueSize,
		Logger:    log,
	})

	if autoStart || cfg.Daemon.AutoStart {
		svc.StartDaemon(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewRouter(svc, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("cellar server starting",
		"addr", cfg.Server.Addr,
		"db", cfg.Database.Path,
		"model_extraction", comp.Completer != nil,
		"verification", comp.Verifier != nil,
		"archetypes", comp.Knowledge.Len())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := svc.Close(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("cellar server stopped")
	return nil
}

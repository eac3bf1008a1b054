package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"offerscope/internal/config"
	"offerscope/internal/events"
	"offerscope/internal/extract"
	"offerscope/internal/forum"
	"offerscope/internal/history"
	"offerscope/internal/httpapi"
	"offerscope/internal/netutil"
	"offerscope/internal/pipeline"
	"offerscope/internal/scheduler"
	"offerscope/internal/secrets"
	"offerscope/internal/snapshot"
)

func main() {
	once := flag.Bool("once", false, "run one ingestion cycle and exit instead of serving HTTP")
	flag.Parse()

	if err := run(*once); err != nil {
		log.Fatal(err)
	}
}

func run(once bool) error {
	cfgPath := os.Getenv("OFFERSCOPE_CONFIG")
	if cfgPath == "" {
		cfgPath = filepath.Join("config", "config.yml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	apiKey, err := secrets.ResolveModelAPIKey(cfg.Model.APIKey)
	if err != nil {
		return err
	}
	cfg.Model.APIKey = apiKey

	dataDir := cfg.App.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// One pipeline per data dir; a second instance would race the
	// snapshot files and double-spend the model quota.
	lock := flock.New(filepath.Join(dataDir, "offerscope.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("run lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another offerscope instance holds %s", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	// One-shot: the first interrupt cancels ctx so the pipeline saves and
	// the server drains; repeated interrupts change nothing.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var mirror *snapshot.RedisMirror
	if cfg.Backup.RedisURL != "" {
		m, err := snapshot.NewRedisMirror(ctx, cfg.Backup.RedisURL, cfg.Backup.Namespace)
		if err != nil {
			// Backup is optional; a broken mirror shouldn't block ingestion.
			log.Printf("[main] remote backup unavailable, continuing local-only: %v", err)
		} else {
			mirror = m
		}
	}
	store := snapshot.New(dataDir, mirror)

	hist, err := history.Open(filepath.Join(dataDir, "offerscope.db"))
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer hist.Close()
	if err := hist.Migrate(); err != nil {
		return fmt.Errorf("migrate run history: %w", err)
	}

	limiter := netutil.NewHostLimiter(cfg.Forum.RequestsPerSec, cfg.Forum.Burst)

	forumClient := forum.New(forum.Config{
		BaseURL:        cfg.Forum.BaseURL,
		Category:       cfg.Forum.Category,
		PageSize:       cfg.Forum.PageSize,
		PagePauseEvery: cfg.Forum.PagePauseEvery,
		PagePause:      cfg.PagePause(),
	}, limiter)

	extractor := extract.New(extract.Config{
		APIKey:     cfg.Model.APIKey,
		BaseURL:    cfg.Model.BaseURL,
		Model:      cfg.Model.Name,
		MaxRetries: cfg.Model.MaxRetries,
	}, limiter)

	pipe := pipeline.New(pipeline.Config{
		DailyBudget:         cfg.Pipeline.DailyBudget,
		IncrementalMaxPosts: cfg.Pipeline.IncrementalMaxPosts,
		FullMaxPosts:        cfg.Pipeline.FullMaxPosts,
		LongPauseEvery:      cfg.Pipeline.LongPauseEvery,
		ShortPause:          cfg.ShortPause(),
		LongPause:           cfg.LongPause(),
	}, pipeline.NewForumSource(forumClient), extractor, store)

	// runPipeline executes one cycle and records it in the ledger. The
	// mutex keeps a cron tick and an HTTP trigger from running the
	// pipeline concurrently.
	var runMu sync.Mutex
	runPipeline := func(runCtx context.Context) (pipeline.Result, error) {
		runMu.Lock()
		defer runMu.Unlock()
		started := time.Now()
		res, err := pipe.Run(runCtx)
		rec := history.Run{
			StartedAt:   started,
			FinishedAt:  time.Now(),
			Mode:        res.Mode,
			Processed:   res.Processed,
			Successful:  res.Successful,
			TotalOffers: res.TotalOffers,
			NewOffers:   res.NewOffers,
			Interrupted: res.Interrupted,
		}
		if err != nil {
			rec.Error = err.Error()
		}
		if _, herr := hist.Record(context.WithoutCancel(runCtx), rec); herr != nil {
			log.Printf("[main] run ledger write failed: %v", herr)
		}
		return res, err
	}

	if once {
		res, err := runPipeline(ctx)
		if err != nil {
			return err
		}
		log.Printf("[main] processed=%d successful=%d total=%d new=%d output=%s",
			res.Processed, res.Successful, res.TotalOffers, res.NewOffers, res.OutputPath)
		return nil
	}

	hub := events.NewHub()
	status := &atomic.Value{}
	status.Store(httpapi.IngestStatus{})

	mux := httpapi.NewMux(httpapi.Deps{
		Hub:       hub,
		History:   hist,
		RunStatus: status,
		RunPipeline: func(context.Context) (pipeline.Result, error) {
			// Runs ride the process context, not the request context: a
			// disconnecting scheduler must not abort a paid-for run, and a
			// process interrupt must still reach the save.
			return runPipeline(ctx)
		},
		TriggerSecret: cfg.Trigger.Secret,
	})

	if cfg.CronSpec != "" {
		sched := scheduler.New(cfg.CronSpec, func(schedCtx context.Context) {
			if _, err := runPipeline(schedCtx); err != nil {
				log.Printf("[scheduler] ingestion failed: %v", err)
			}
		})
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("[main] listening on %s (data=%s)", addr, dataDir)

	srv := &http.Server{
		Handler:           httpapi.Chain(mux, httpapi.RequestID, httpapi.Recover, httpapi.AccessLog),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Generous deadline: an in-flight run needs time to save.
		shCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})
	return g.Wait()
}

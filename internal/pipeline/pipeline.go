// Package pipeline drives one ingestion run: load the cursor, walk the
// forum newest-first, extract offers post by post, and save the merged
// dataset exactly once, on completion or on interruption. Extraction is
// strictly serialized; the daily budget and pacing assume no fan-out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"offerscope/internal/domain"
	"offerscope/internal/extract"
	"offerscope/internal/netutil"
	"offerscope/internal/snapshot"
)

// PostIterator is the lazy post sequence the orchestrator consumes.
type PostIterator interface {
	Next(ctx context.Context) (domain.Post, bool, error)
}

// PostSource hands out a fresh iterator per run.
type PostSource interface {
	Posts(max int, sinceID string) PostIterator
}

// Extractor is the single-post extraction call. A nil, nil return means
// "no offers"; extract.ErrQuotaExhausted means stop the run.
type Extractor interface {
	Extract(ctx context.Context, p domain.Post) ([]domain.Offer, error)
}

type Config struct {
	DailyBudget         int // extraction calls per run
	IncrementalMaxPosts int
	FullMaxPosts        int

	// Pacing between extraction calls: a longer pause after every
	// LongPauseEvery-th call, a short one otherwise. Keeps the run under
	// the provider's per-minute limits.
	LongPauseEvery int
	ShortPause     time.Duration
	LongPause      time.Duration
}

// Result is what the trigger endpoint reports.
type Result struct {
	Processed   int    `json:"processed"`
	Successful  int    `json:"successful"`
	TotalOffers int    `json:"totalOffers"`
	NewOffers   int    `json:"newOffers"`
	OutputPath  string `json:"outputPath"`
	Mode        string `json:"mode"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

type Pipeline struct {
	cfg       Config
	source    PostSource
	extractor Extractor
	store     snapshot.Store

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, source PostSource, extractor Extractor, store snapshot.Store) *Pipeline {
	if cfg.LongPauseEvery <= 0 {
		cfg.LongPauseEvery = 10
	}
	return &Pipeline{
		cfg:       cfg,
		source:    source,
		extractor: extractor,
		store:     store,
		sleep:     netutil.Sleep,
	}
}

// Run executes one full cycle. Cancelling ctx mid-loop saves whatever has
// accumulated before returning; collected work is never lost to an
// interrupt. Only a failed Load (nothing to merge into) or a save where
// every sink failed produce an error.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	existing, cursor, err := p.store.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load snapshot: %w", err)
	}

	mode, maxPosts, sinceID := "full", p.cfg.FullMaxPosts, ""
	if cursor != nil {
		mode, maxPosts, sinceID = "incremental", p.cfg.IncrementalMaxPosts, cursor.LastPostID
	}
	log.Printf("[pipeline] starting mode=%s max_posts=%d since_id=%q budget=%d",
		mode, maxPosts, sinceID, p.cfg.DailyBudget)

	var (
		collected   []domain.Offer
		calls       int
		processed   int
		successful  int
		highestID   int64
		highest     string
		interrupted bool
	)

	it := p.source.Posts(maxPosts, sinceID)

	// The loop body is fenced so an unexpected panic still reaches the
	// save below with everything accumulated so far.
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[pipeline] unexpected failure mid-loop, stopping early: %v", rec)
			}
		}()

		for {
			if ctx.Err() != nil {
				log.Printf("[pipeline] interrupted, saving what we have")
				interrupted = true
				return
			}

			post, ok, err := it.Next(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					interrupted = true
					return
				}
				log.Printf("[pipeline] fetch failed, stopping early: %v", err)
				return
			}
			if !ok {
				return
			}

			processed++
			if n := domain.NumericID(post.ID); n > highestID {
				highestID, highest = n, post.ID
			}

			if post.Votes < 0 {
				log.Printf("[pipeline] post %s skipped (downvoted)", post.ID)
				continue
			}

			if calls >= p.cfg.DailyBudget {
				log.Printf("[pipeline] daily budget of %d calls reached, stopping", p.cfg.DailyBudget)
				return
			}

			if calls > 0 {
				pause := p.cfg.ShortPause
				if calls%p.cfg.LongPauseEvery == 0 {
					pause = p.cfg.LongPause
				}
				if err := p.sleep(ctx, pause); err != nil {
					interrupted = true
					return
				}
			}

			offers, err := p.extractor.Extract(ctx, post)
			calls++
			if err != nil {
				if errors.Is(err, extract.ErrQuotaExhausted) {
					log.Printf("[pipeline] provider quota exhausted after %d calls, stopping", calls)
					return
				}
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					interrupted = true
					return
				}
				log.Printf("[pipeline] post %s extraction failed, skipping: %v", post.ID, err)
				continue
			}
			if len(offers) == 0 {
				continue
			}

			successful++
			for i := range offers {
				offers[i].Stamp(post)
			}
			collected = append(collected, offers...)
		}
	}()

	merged, added := domain.Merge(existing, collected)

	newCursor := domain.Cursor{}
	if cursor != nil {
		newCursor.LastPostID = cursor.LastPostID
	}
	if highest != "" {
		newCursor.LastPostID = highest
	}

	// Save must survive the cancellation that triggered it.
	saveCtx := context.WithoutCancel(ctx)
	if err := p.store.Save(saveCtx, merged, newCursor); err != nil {
		return Result{}, fmt.Errorf("save snapshot: %w", err)
	}

	res := Result{
		Processed:   processed,
		Successful:  successful,
		TotalOffers: len(merged),
		NewOffers:   added,
		OutputPath:  p.store.DatasetPath(),
		Mode:        mode,
		Interrupted: interrupted,
	}
	log.Printf("[pipeline] done mode=%s processed=%d successful=%d total=%d new=%d interrupted=%v",
		res.Mode, res.Processed, res.Successful, res.TotalOffers, res.NewOffers, res.Interrupted)
	return res, nil
}

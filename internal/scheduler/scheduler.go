// Package scheduler wires the optional built-in cron trigger. Deployments
// that use an external scheduler hit the HTTP endpoint instead and leave
// CRON_SPEC unset.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

type Scheduler struct {
	cron *cron.Cron
	spec string
	run  func(ctx context.Context)
}

// New creates a Scheduler firing run on the given cron spec
// (e.g. "@every 24h" or "0 6 * * *").
func New(spec string, run func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLogger(cron.DefaultLogger)),
		spec: spec,
		run:  run,
	}
}

// Start registers the job and starts the cron loop. Unlike an external
// scheduler, the built-in one does not fire immediately at startup: a fresh
// deploy shouldn't spend model quota before anyone asked it to.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.run(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}
	s.cron.Start()
	log.Printf("[scheduler] cron started spec=%q", s.spec)
	return nil
}

// Stop shuts the scheduler down; running jobs finish on their own context.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("[scheduler] cron stopped")
}

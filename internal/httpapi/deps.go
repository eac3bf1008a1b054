package httpapi

import (
	"context"
	"sync/atomic"

	"offerscope/internal/events"
	"offerscope/internal/history"
	"offerscope/internal/pipeline"
)

type Deps struct {
	Hub     *events.Hub
	History *history.DB

	// RunStatus stores httpapi.IngestStatus.
	RunStatus *atomic.Value

	// RunPipeline executes one ingestion run (inject for testability).
	// The context it receives is cancelled on process interrupt, so an
	// in-flight run still saves before shutdown.
	RunPipeline func(ctx context.Context) (pipeline.Result, error)

	// TriggerSecret guards /ingest/run when non-empty.
	TriggerSecret string
}

// IngestStatus is the last-known state of the trigger surface.
type IngestStatus struct {
	LastRunAt string `json:"last_run_at"`
	LastOkAt  string `json:"last_ok_at"`
	LastError string `json:"last_error"`
	LastNew   int    `json:"last_new"`
	Running   bool   `json:"running"`
}

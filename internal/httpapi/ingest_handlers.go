package httpapi

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"offerscope/internal/events"
)

// runResponse is the success contract of the trigger endpoint.
type runResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Processed   int    `json:"processed"`
	Successful  int    `json:"successful"`
	TotalOffers int    `json:"totalOffers"`
	NewOffers   int    `json:"newOffers"`
	OutputPath  string `json:"outputPath"`
}

type IngestHandler struct {
	Deps
}

func (h IngestHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.RunStatus.Load().(IngestStatus)
	writeJSON(w, st)
}

// Run triggers one ingestion cycle and blocks until it finishes, so the
// calling scheduler gets the result counts in the response.
func (h IngestHandler) Run(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	if !h.markRunning() {
		WriteError(w, http.StatusConflict, "already running", "an ingestion run is in progress")
		return
	}

	started := time.Now()
	h.Hub.Publish(events.Make(events.TypeRunStarted, nil))

	res, err := h.RunPipeline(r.Context())

	now := time.Now().Format(time.RFC3339)
	st := h.RunStatus.Load().(IngestStatus)
	st.Running = false
	st.LastRunAt = now
	if err != nil {
		st.LastError = err.Error()
		h.RunStatus.Store(st)
		h.Hub.Publish(events.Make(events.TypeRunFailed, map[string]string{"error": err.Error()}))
		WriteError(w, http.StatusInternalServerError, "ingestion failed", err.Error())
		return
	}
	st.LastError = ""
	st.LastOkAt = now
	st.LastNew = res.NewOffers
	h.RunStatus.Store(st)
	h.Hub.Publish(events.Make(events.TypeRunFinished, res))

	writeJSON(w, runResponse{
		Success: true,
		Message: fmt.Sprintf("ingestion finished in %s (%s mode)",
			time.Since(started).Round(time.Second), res.Mode),
		Processed:   res.Processed,
		Successful:  res.Successful,
		TotalOffers: res.TotalOffers,
		NewOffers:   res.NewOffers,
		OutputPath:  res.OutputPath,
	})
}

// markRunning flips the running flag; false means another run owns it.
func (h IngestHandler) markRunning() bool {
	for {
		st := h.RunStatus.Load().(IngestStatus)
		if st.Running {
			return false
		}
		next := st
		next.Running = true
		if h.RunStatus.CompareAndSwap(st, next) {
			return true
		}
	}
}

func (h IngestHandler) authorized(r *http.Request) bool {
	if h.TriggerSecret == "" {
		return true // no secret configured; deployment trusts its network
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.TriggerSecret)) == 1
}

package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"offerscope/internal/events"
	"offerscope/internal/httpapi"
	"offerscope/internal/pipeline"
)

func newDeps(run func(ctx context.Context) (pipeline.Result, error), secret string) httpapi.Deps {
	status := &atomic.Value{}
	status.Store(httpapi.IngestStatus{})
	return httpapi.Deps{
		Hub:           events.NewHub(),
		RunStatus:     status,
		RunPipeline:   run,
		TriggerSecret: secret,
	}
}

func TestIngestRun_Success(t *testing.T) {
	d := newDeps(func(ctx context.Context) (pipeline.Result, error) {
		return pipeline.Result{
			Processed: 3, Successful: 1, TotalOffers: 10, NewOffers: 2,
			OutputPath: "/data/salaries.json", Mode: "incremental",
		}, nil
	}, "")
	mux := httpapi.NewMux(d)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/run", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Success     bool   `json:"success"`
		Processed   int    `json:"processed"`
		Successful  int    `json:"successful"`
		TotalOffers int    `json:"totalOffers"`
		NewOffers   int    `json:"newOffers"`
		OutputPath  string `json:"outputPath"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || body.Processed != 3 || body.Successful != 1 ||
		body.TotalOffers != 10 || body.NewOffers != 2 || body.OutputPath == "" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestIngestRun_FailureIsNon2xxWithDetails(t *testing.T) {
	d := newDeps(func(ctx context.Context) (pipeline.Result, error) {
		return pipeline.Result{}, errors.New("load snapshot: disk on fire")
	}, "")
	mux := httpapi.NewMux(d)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/run", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Error == "" || body.Details == "" {
		t.Errorf("failure body missing error/details: %+v", body)
	}
}

func TestIngestRun_BearerToken(t *testing.T) {
	d := newDeps(func(ctx context.Context) (pipeline.Result, error) {
		return pipeline.Result{}, nil
	}, "s3cret")
	mux := httpapi.NewMux(d)

	// no token
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/run", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}

	// wrong token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ingest/run", nil)
	req.Header.Set("Authorization", "Bearer nope")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	// right token
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ingest/run", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("good token: status = %d, want 200", rec.Code)
	}
}

func TestIngestRun_ConcurrentRunRejected(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	d := newDeps(func(ctx context.Context) (pipeline.Result, error) {
		close(started)
		<-release
		return pipeline.Result{}, nil
	}, "")
	mux := httpapi.NewMux(d)

	go func() {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/run", nil))
	}()
	<-started

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/run", nil))
	close(release)

	if rec.Code != http.StatusConflict {
		t.Errorf("second trigger: status = %d, want 409", rec.Code)
	}
}

func TestIngestStatus_ReflectsLastRun(t *testing.T) {
	d := newDeps(func(ctx context.Context) (pipeline.Result, error) {
		return pipeline.Result{NewOffers: 7}, nil
	}, "")
	mux := httpapi.NewMux(d)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/run", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("run status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ingest/status", nil))
	var st httpapi.IngestStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Running || st.LastNew != 7 || st.LastOkAt == "" {
		t.Errorf("status = %+v", st)
	}
}

func TestRun_PostRejected(t *testing.T) {
	d := newDeps(func(ctx context.Context) (pipeline.Result, error) {
		return pipeline.Result{}, nil
	}, "")
	mux := httpapi.NewMux(d)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ingest/run", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST: status = %d, want 405", rec.Code)
	}
}

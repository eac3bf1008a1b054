package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"offerscope/internal/domain"
)

func modelReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	})
	return string(b)
}

const quotaBody = `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED",
  "message":"Quota exceeded",
  "details":[
    {"@type":"type.googleapis.com/google.rpc.QuotaFailure",
     "violations":[{"quotaId":"GenerateRequestsPerDayPerProjectPerModel"}]},
    {"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"26s"}
  ]}}`

const rateLimitBody = `{"error":{"code":429,"status":"RESOURCE_EXHAUSTED",
  "message":"Rate limit",
  "details":[
    {"@type":"type.googleapis.com/google.rpc.QuotaFailure",
     "violations":[{"quotaId":"GenerateRequestsPerMinutePerProjectPerModel"}]},
    {"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"3s"}
  ]}}`

// newClient points a Client at a test server and disables real sleeping,
// recording requested delays instead.
func newClient(srvURL string, delays *[]time.Duration) *Client {
	c := New(Config{APIKey: "test", BaseURL: srvURL, Model: "test-model", MaxRetries: 3}, nil)
	c.sleep = func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return c
}

func testPost() domain.Post {
	return domain.Post{ID: "77", Title: "Offers", Body: "Got 180k TC at Initech.", CreatedAt: time.Now()}
}

func TestExtract_ParsesFencedOffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := "Here you go:\n```json\n[{\"company\":\"Initech\",\"role\":\"SWE\",\"total_offer\":180000}]\n```"
		_, _ = w.Write([]byte(modelReply(reply)))
	}))
	defer srv.Close()

	offers, err := newClient(srv.URL, nil).Extract(context.Background(), testPost())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(offers) != 1 {
		t.Fatalf("got %d offers, want 1", len(offers))
	}
	if *offers[0].Company != "Initech" || *offers[0].TotalOffer != 180000 {
		t.Errorf("offer = %+v", offers[0])
	}
}

func TestExtract_NoFencedBlockMeansNoOffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(modelReply("Sorry, I can't help with that.")))
	}))
	defer srv.Close()

	offers, err := newClient(srv.URL, nil).Extract(context.Background(), testPost())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if offers != nil {
		t.Errorf("got %v, want nil", offers)
	}
}

func TestExtract_InvalidJSONMeansNoOffers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(modelReply("```json\n[{\"company\": broken\n```")))
	}))
	defer srv.Close()

	offers, err := newClient(srv.URL, nil).Extract(context.Background(), testPost())
	if err != nil || offers != nil {
		t.Errorf("got offers=%v err=%v, want nil/nil", offers, err)
	}
}

func TestExtract_InvalidOffersFilteredOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply := "```json\n[{\"location\":\"Berlin\",\"visa_sponsorship\":\"yes\"}]\n```"
		_, _ = w.Write([]byte(modelReply(reply)))
	}))
	defer srv.Close()

	offers, err := newClient(srv.URL, nil).Extract(context.Background(), testPost())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if offers != nil {
		t.Errorf("offer without company or compensation must be dropped, got %v", offers)
	}
}

func TestExtract_QuotaOnFirstAttemptShortCircuits(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(quotaBody))
	}))
	defer srv.Close()

	var delays []time.Duration
	_, err := newClient(srv.URL, &delays).Extract(context.Background(), testPost())
	if err != ErrQuotaExhausted {
		t.Fatalf("err = %v, want ErrQuotaExhausted", err)
	}
	if calls != 1 {
		t.Errorf("made %d calls, want 1 (no retries on quota exhaustion)", calls)
	}
	if len(delays) != 0 {
		t.Errorf("slept %v, want no backoff at all", delays)
	}
}

func TestExtract_RateLimitRetriesThenSkips(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(rateLimitBody))
	}))
	defer srv.Close()

	var delays []time.Duration
	offers, err := newClient(srv.URL, &delays).Extract(context.Background(), testPost())
	if err != nil {
		t.Fatalf("rate-limit exhaustion must be a skip, got err %v", err)
	}
	if offers != nil {
		t.Errorf("offers = %v, want nil", offers)
	}
	if calls != 4 {
		t.Errorf("made %d calls, want 4 (1 + 3 retries)", calls)
	}
	// Server suggested 3s each time; the suggestion wins over 2*2^n.
	for _, d := range delays {
		if d != 3*time.Second {
			t.Errorf("delay %v, want server-suggested 3s", d)
		}
	}
}

func TestExtract_BackoffDoublesWithoutServerHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"status":"RESOURCE_EXHAUSTED","message":"Rate limit"}}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	_, _ = newClient(srv.URL, &delays).Extract(context.Background(), testPost())

	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("slept %d times, want %d", len(delays), len(want))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestExtract_QuotaOnRetryTreatedAsRateLimit(t *testing.T) {
	// The quota heuristic only applies to the first response. A quota
	// payload appearing on a retry keeps being retried like a rate limit.
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		if calls == 1 {
			_, _ = w.Write([]byte(rateLimitBody))
			return
		}
		_, _ = w.Write([]byte(quotaBody))
	}))
	defer srv.Close()

	offers, err := newClient(srv.URL, nil).Extract(context.Background(), testPost())
	if err != nil || offers != nil {
		t.Errorf("got offers=%v err=%v, want nil/nil", offers, err)
	}
	if calls != 4 {
		t.Errorf("made %d calls, want 4", calls)
	}
}

func TestExtract_ServerErrorIsSkip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream sad", http.StatusInternalServerError)
	}))
	defer srv.Close()

	offers, err := newClient(srv.URL, nil).Extract(context.Background(), testPost())
	if err != nil || offers != nil {
		t.Errorf("got offers=%v err=%v, want nil/nil", offers, err)
	}
}

func TestParseOffers_MultipleAndPartial(t *testing.T) {
	reply := "```json\n[" +
		"{\"company\":\"A\",\"total_offer\":100000}," +
		"{\"company\":null,\"base_offer\":90000}," +
		"{\"company\":null,\"role\":\"QA\"}" +
		"]\n```"
	offers := parseOffers(reply)
	if len(offers) != 2 {
		t.Fatalf("got %d offers, want 2 (third has neither company nor comp)", len(offers))
	}
}

func TestParseOffers_EmptyArray(t *testing.T) {
	if got := parseOffers("```json\n[]\n```"); got != nil {
		t.Errorf("empty array should yield nil, got %v", got)
	}
}

func TestParseOffers_WrongShape(t *testing.T) {
	// An object where an array is expected is structurally invalid.
	if got := parseOffers("```json\n{\"company\":\"A\"}\n```"); got != nil {
		t.Errorf("non-array payload should yield nil, got %v", got)
	}
	// Wrong field types likewise.
	if got := parseOffers("```json\n[{\"total_offer\":\"lots\"}]\n```"); got != nil {
		t.Errorf("mistyped field should yield nil, got %v", got)
	}
}

// Package extract turns one forum post into zero or more structured offers
// via a hosted language model. Per-post failures are soft: the client logs
// and reports "no offers" rather than failing the pipeline. The single hard
// signal is ErrQuotaExhausted, which tells the orchestrator the provider's
// daily quota is gone and the whole run should stop.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"offerscope/internal/domain"
	"offerscope/internal/netutil"
)

// ErrQuotaExhausted means the provider's daily request quota is spent.
// Not retryable; the run stops early instead of burning budget.
var ErrQuotaExhausted = errors.New("model daily quota exhausted")

type Config struct {
	APIKey     string
	BaseURL    string // e.g. https://generativelanguage.googleapis.com/v1beta
	Model      string // e.g. gemini-2.0-flash
	MaxRetries int    // rate-limit retries per post
}

type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *netutil.HostLimiter

	// sleep is swapped out in tests so backoff doesn't wall-clock.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, limiter *netutil.HostLimiter) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 60 * time.Second},
		limiter: limiter,
		sleep:   netutil.Sleep,
	}
}

// Extract asks the model for the offers in post. Returns nil (no error) when
// the post has no usable compensation data or the call failed in a way that
// only affects this post. Returns ErrQuotaExhausted when the provider says
// the daily quota is gone on the first attempt.
func (c *Client) Extract(ctx context.Context, post domain.Post) ([]domain.Offer, error) {
	prompt := buildPrompt(post)

	for attempt := 0; ; attempt++ {
		reply, err := c.generate(ctx, prompt)
		if err == nil {
			return parseOffers(reply), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var ae *apiError
		if !errors.As(err, &ae) || ae.Status != http.StatusTooManyRequests {
			log.Printf("[extract] post %s: %v, skipping", post.ID, err)
			return nil, nil
		}

		// Quota exhaustion is only trusted on the first response; a 429
		// surfacing mid-retry is treated as an ordinary rate limit.
		if attempt == 0 && ae.quotaExhausted() {
			return nil, ErrQuotaExhausted
		}
		if attempt >= c.cfg.MaxRetries {
			log.Printf("[extract] post %s: rate limited, retries exhausted, skipping", post.ID)
			return nil, nil
		}

		delay := time.Duration(2*(1<<attempt)) * time.Second // 2s, 4s, 8s, ...
		if suggested := ae.retryDelay(); suggested > 0 {
			delay = suggested
		}
		log.Printf("[extract] post %s: rate limited, retry %d/%d in %s",
			post.ID, attempt+1, c.cfg.MaxRetries, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// ── wire types ─────────────────────────────────────────────────────────────

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// apiError carries a non-2xx response for 429 inspection.
type apiError struct {
	Status int
	Body   []byte
}

func (e *apiError) Error() string {
	return fmt.Sprintf("model api status %d", e.Status)
}

// errorBody mirrors the provider's error envelope. Details is the mixed bag
// of QuotaFailure / RetryInfo entries.
type errorBody struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
			Violations []struct {
				QuotaID string `json:"quotaId"`
			} `json:"violations"`
		} `json:"details"`
	} `json:"error"`
}

// quotaExhausted distinguishes the daily request quota from a transient
// per-minute rate limit: RESOURCE_EXHAUSTED plus a per-day quota violation.
func (e *apiError) quotaExhausted() bool {
	var eb errorBody
	if err := json.Unmarshal(e.Body, &eb); err != nil {
		return false
	}
	if eb.Error.Status != "RESOURCE_EXHAUSTED" {
		return false
	}
	for _, d := range eb.Error.Details {
		for _, v := range d.Violations {
			if containsFold(v.QuotaID, "perday") {
				return true
			}
		}
	}
	return containsFold(eb.Error.Message, "per day") || containsFold(eb.Error.Message, "daily")
}

// retryDelay returns the server-suggested backoff, if any.
func (e *apiError) retryDelay() time.Duration {
	var eb errorBody
	if err := json.Unmarshal(e.Body, &eb); err != nil {
		return 0
	}
	for _, d := range eb.Error.Details {
		if d.RetryDelay == "" {
			continue
		}
		if dur, err := time.ParseDuration(d.RetryDelay); err == nil {
			return dur
		}
	}
	return 0
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	reqURL := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	if c.limiter != nil {
		if err := c.limiter.WaitURL(ctx, reqURL); err != nil {
			return "", err
		}
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("model post: %w", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("model read: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return "", &apiError{Status: res.StatusCode, Body: raw}
	}

	var gr generateResponse
	if err := json.Unmarshal(raw, &gr); err != nil {
		return "", fmt.Errorf("model decode: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("model returned no candidates")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

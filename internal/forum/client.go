// Package forum fetches compensation threads from the forum's query API:
// a paginated listing endpoint plus a per-post body endpoint. Listings come
// back newest-first; the very first item of the first page is the pinned
// category post and is never chronologically meaningful.
package forum

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"offerscope/internal/domain"
	"offerscope/internal/netutil"
)

type Config struct {
	BaseURL  string
	Category string
	PageSize int

	// The listing API tolerates short bursts but throttles sustained
	// paging, so pause for PagePause after every PagePauseEvery pages.
	PagePauseEvery int
	PagePause      time.Duration
}

type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *netutil.HostLimiter
}

func New(cfg Config, limiter *netutil.HostLimiter) *Client {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.PagePauseEvery <= 0 {
		cfg.PagePauseEvery = 4
	}
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{Timeout: 20 * time.Second},
		limiter: limiter,
	}
}

// listItem mirrors one entry of the listing response.
type listItem struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Votes        int    `json:"votes"`
	CommentCount int    `json:"comment_count"`
	ViewCount    int    `json:"view_count"`
	CreatedAt    int64  `json:"created_at"` // epoch millis
}

type listResponse struct {
	Posts []listItem `json:"posts"`
}

type postResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ContentHTML string `json:"content_html"`
}

// Options bounds one traversal of the listing.
type Options struct {
	Max     int    // stop after this many admitted posts (0 = unbounded)
	SinceID string // stop at posts with id <= SinceID (the cursor itself is excluded)
}

// Posts returns a fresh iterator over the category, newest-first. Each call
// starts from page 1; an iterator is not resumable once abandoned.
func (c *Client) Posts(opts Options) *PostIter {
	return &PostIter{
		c:       c,
		opts:    opts,
		sinceID: domain.NumericID(opts.SinceID),
		page:    0,
	}
}

// PostIter walks the listing page by page, hydrating each admitted post
// with its body. Exhaustion is (zero, false, nil), never an error.
type PostIter struct {
	c       *Client
	opts    Options
	sinceID int64

	page     int // last page fetched (1-based)
	buf      []listItem
	pos      int
	lastPage bool // previous page came back short
	admitted int  // admitted on the current page
	yielded  int
	done     bool
}

func (it *PostIter) Next(ctx context.Context) (domain.Post, bool, error) {
	for {
		if it.done {
			return domain.Post{}, false, nil
		}
		if it.opts.Max > 0 && it.yielded >= it.opts.Max {
			it.done = true
			return domain.Post{}, false, nil
		}

		if it.pos >= len(it.buf) {
			// End-of-data: short page, or a full page that admitted nothing.
			if it.page > 0 && (it.lastPage || it.admitted == 0) {
				it.done = true
				return domain.Post{}, false, nil
			}
			if err := it.fetchPage(ctx); err != nil {
				it.done = true
				return domain.Post{}, false, err
			}
			continue
		}

		item := it.buf[it.pos]
		it.pos++

		if it.sinceID > 0 {
			if n := domain.NumericID(item.ID); n > 0 && n <= it.sinceID {
				// Everything from here on was processed in a prior run.
				it.done = true
				return domain.Post{}, false, nil
			}
		}

		post, err := it.c.fetchPost(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				it.done = true
				return domain.Post{}, false, ctx.Err()
			}
			// Partial failure is isolated per item.
			log.Printf("[forum] post %s body fetch failed, skipping: %v", item.ID, err)
			continue
		}

		it.admitted++
		it.yielded++
		return post, true, nil
	}
}

func (it *PostIter) fetchPage(ctx context.Context) error {
	it.page++
	it.admitted = 0

	if it.page > 1 && (it.page-1)%it.c.cfg.PagePauseEvery == 0 {
		if err := netutil.Sleep(ctx, it.c.cfg.PagePause); err != nil {
			return err
		}
	}

	items, err := it.c.fetchListing(ctx, it.page)
	if err != nil {
		return fmt.Errorf("listing page %d: %w", it.page, err)
	}

	if it.page == 1 && len(items) > 0 {
		items = items[1:] // pinned post
	}

	it.buf = items
	it.pos = 0
	it.lastPage = len(items) < it.c.cfg.PageSize
	if it.page == 1 {
		// The dropped pinned post still counted against the page size.
		it.lastPage = len(items) < it.c.cfg.PageSize-1
	}
	if len(items) == 0 {
		it.done = true
	}
	return nil
}

func (c *Client) fetchListing(ctx context.Context, page int) ([]listItem, error) {
	q := url.Values{}
	q.Set("category", c.cfg.Category)
	q.Set("page", strconv.Itoa(page))
	q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	reqURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/api/posts?" + q.Encode()

	var out listResponse
	if err := c.getJSON(ctx, reqURL, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

func (c *Client) fetchPost(ctx context.Context, item listItem) (domain.Post, error) {
	reqURL := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/api/posts/" + url.PathEscape(item.ID)

	var out postResponse
	if err := c.getJSON(ctx, reqURL, &out); err != nil {
		return domain.Post{}, err
	}

	title := item.Title
	if title == "" {
		title = out.Title
	}

	return domain.Post{
		ID:        item.ID,
		Title:     title,
		Body:      htmlToText(out.ContentHTML),
		Votes:     item.Votes,
		Comments:  item.CommentCount,
		Views:     item.ViewCount,
		CreatedAt: time.UnixMilli(item.CreatedAt),
	}, nil
}

func (c *Client) getJSON(ctx context.Context, reqURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "offerscope/1.0 (+ingest)")
	req.Header.Set("Accept", "application/json")

	if c.limiter != nil {
		if err := c.limiter.WaitURL(ctx, reqURL); err != nil {
			return err
		}
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("forum get: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("forum status %d", res.StatusCode)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("forum decode: %w", err)
	}
	return nil
}

// htmlToText flattens the post's rendered HTML body into the plain text the
// extraction prompt wants. Falls back to the raw input when it isn't HTML.
func htmlToText(h string) string {
	if h == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(h))
	if err != nil {
		return strings.TrimSpace(h)
	}
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	var b strings.Builder
	doc.Find("p, li, pre, h1, h2, h3, h4, blockquote").Each(func(_ int, s *goquery.Selection) {
		t := strings.TrimSpace(s.Text())
		if t != "" {
			b.WriteString(t)
			b.WriteString("\n")
		}
	})
	if b.Len() == 0 {
		return cleanText(doc.Text())
	}
	return strings.TrimSpace(b.String())
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

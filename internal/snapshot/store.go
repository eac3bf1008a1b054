// Package snapshot persists the accumulated offer dataset and the fetch
// cursor. The local JSON files are the primary sink; an optional Redis
// mirror doubles as fallback read source and best-effort write mirror.
// The two sinks fail independently, never as a two-phase transaction.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"offerscope/internal/domain"
)

const (
	datasetFile = "salaries.json"
	cursorFile  = "fetch-info.json"
)

// Store is what the pipeline sees; local-only and local+remote stores both
// satisfy it.
type Store interface {
	Load(ctx context.Context) ([]domain.Offer, *domain.Cursor, error)
	Save(ctx context.Context, offers []domain.Offer, cur domain.Cursor) error
	DatasetPath() string
}

// FileStore keeps the dataset and cursor under dir, optionally mirrored.
type FileStore struct {
	dir    string
	mirror *RedisMirror // nil when no backup is configured
	now    func() time.Time
}

func New(dir string, mirror *RedisMirror) *FileStore {
	return &FileStore{dir: dir, mirror: mirror, now: time.Now}
}

func (s *FileStore) DatasetPath() string { return filepath.Join(s.dir, datasetFile) }
func (s *FileStore) cursorPath() string  { return filepath.Join(s.dir, cursorFile) }

// Load prefers the local snapshot; an absent or empty local dataset falls
// back to the mirror. The cursor may come from a different source than the
// dataset: a local cursor file is honored whenever the mirror didn't
// already supply one.
func (s *FileStore) Load(ctx context.Context) ([]domain.Offer, *domain.Cursor, error) {
	var (
		offers []domain.Offer
		cursor *domain.Cursor
	)

	local, err := readJSONFile[[]domain.Offer](s.DatasetPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load dataset: %w", err)
	}
	if local != nil {
		offers = *local
	}

	if len(offers) == 0 && s.mirror != nil {
		remote, rerr := s.mirror.LoadDataset(ctx)
		if rerr != nil {
			log.Printf("[snapshot] remote dataset load failed: %v", rerr)
		} else if len(remote) > 0 {
			offers = remote
			if rc, cerr := s.mirror.LoadCursor(ctx); cerr != nil {
				log.Printf("[snapshot] remote cursor load failed: %v", cerr)
			} else {
				cursor = rc
			}
			log.Printf("[snapshot] hydrated %d offers from remote backup", len(offers))
		}
	}

	if cursor == nil {
		c, cerr := readJSONFile[domain.Cursor](s.cursorPath())
		if cerr != nil {
			return nil, nil, fmt.Errorf("load cursor: %w", cerr)
		}
		cursor = c
	}

	return offers, cursor, nil
}

// Save writes the dataset locally, mirrors both documents remotely, and
// writes the cursor file after a successful local dataset write. Each sink
// is best-effort; Save only errors when every configured sink failed.
func (s *FileStore) Save(ctx context.Context, offers []domain.Offer, cur domain.Cursor) error {
	cur.LastFetchTime = s.now()
	cur.TotalOffers = len(offers)

	localErr := writeJSONFile(s.DatasetPath(), offers)
	if localErr != nil {
		log.Printf("[snapshot] local dataset write failed: %v", localErr)
	} else {
		if err := writeJSONFile(s.cursorPath(), cur); err != nil {
			log.Printf("[snapshot] local cursor write failed: %v", err)
		}
	}

	var remoteErr error
	if s.mirror != nil {
		remoteErr = s.mirror.Store(ctx, offers, cur)
		if remoteErr != nil {
			log.Printf("[snapshot] remote mirror failed: %v", remoteErr)
		}
	}

	if localErr != nil && (s.mirror == nil || remoteErr != nil) {
		return fmt.Errorf("all snapshot sinks failed: local: %w", localErr)
	}
	return nil
}

// readJSONFile returns nil (no error) when the file is missing or empty.
func readJSONFile[T any](path string) (*T, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &v, nil
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

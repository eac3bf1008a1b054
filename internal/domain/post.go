package domain

import (
	"strconv"
	"time"
)

// Post is a forum thread from the compensation category. Fetched, consumed
// once by the pipeline, never persisted.
type Post struct {
	ID        string // opaque ordinal string; numerically higher = newer
	Title     string
	Body      string // plain text, HTML already stripped
	Votes     int
	Comments  int
	Views     int
	CreatedAt time.Time
}

// NumericID parses the ordinal id for cursor comparisons. Returns 0 for
// ids that don't parse; callers treat those as unbounded-by-cursor.
func NumericID(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

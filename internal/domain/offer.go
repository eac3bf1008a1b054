package domain

import (
	"fmt"
	"strings"
	"time"
)

// Visa sponsorship is a tri-state: "yes", "no", or "" when the post
// doesn't say.
const (
	VisaYes = "yes"
	VisaNo  = "no"
)

// Offer is one structured compensation record extracted from a Post.
// Every extracted field is optional; pointers distinguish "absent" from
// zero. Provenance fields are stamped by the pipeline before the offer
// enters the dataset.
type Offer struct {
	Company           *string  `json:"company"`
	Role              *string  `json:"role"`
	YearsOfExperience *float64 `json:"yoe"`
	BaseOffer         *float64 `json:"base_offer"`
	TotalOffer        *float64 `json:"total_offer"`
	Location          *string  `json:"location"`
	VisaSponsorship   string   `json:"visa_sponsorship,omitempty"`

	SourcePostID  string `json:"post_id"`
	PostTitle     string `json:"post_title"`
	PostDate      string `json:"post_date"`      // YYYY-MM-DD
	PostTimestamp int64  `json:"post_timestamp"` // epoch millis
}

// Normalize trims string fields, drops empty strings to nil, clears
// out-of-range numbers (negative experience, non-positive compensation)
// and coerces visa sponsorship to its tri-state values.
func (o *Offer) Normalize() {
	trim := func(p **string) {
		if *p == nil {
			return
		}
		s := strings.TrimSpace(**p)
		if s == "" {
			*p = nil
			return
		}
		**p = s
	}
	trim(&o.Company)
	trim(&o.Role)
	trim(&o.Location)

	if o.YearsOfExperience != nil && *o.YearsOfExperience < 0 {
		o.YearsOfExperience = nil
	}
	if o.BaseOffer != nil && *o.BaseOffer <= 0 {
		o.BaseOffer = nil
	}
	if o.TotalOffer != nil && *o.TotalOffer <= 0 {
		o.TotalOffer = nil
	}

	switch strings.ToLower(strings.TrimSpace(o.VisaSponsorship)) {
	case VisaYes:
		o.VisaSponsorship = VisaYes
	case VisaNo:
		o.VisaSponsorship = VisaNo
	default:
		o.VisaSponsorship = ""
	}
}

// Valid reports whether the offer carries enough substance to keep:
// a company name, or at least one compensation figure.
func (o Offer) Valid() bool {
	return o.Company != nil || o.BaseOffer != nil || o.TotalOffer != nil
}

// Key is the dedup identity: (company, role, total offer, source post).
func (o Offer) Key() string {
	var c, r, t string
	if o.Company != nil {
		c = *o.Company
	}
	if o.Role != nil {
		r = *o.Role
	}
	if o.TotalOffer != nil {
		t = fmt.Sprintf("%g", *o.TotalOffer)
	}
	return c + "\x00" + r + "\x00" + t + "\x00" + o.SourcePostID
}

// Stamp fills the provenance fields from the post the offer came from.
func (o *Offer) Stamp(p Post) {
	o.SourcePostID = p.ID
	o.PostTitle = p.Title
	o.PostDate = p.CreatedAt.UTC().Format("2006-01-02")
	o.PostTimestamp = p.CreatedAt.UnixMilli()
}

// Merge appends the unique offers from incoming onto existing, preserving
// existing order. An incoming offer whose Key already appears (in existing
// or earlier in incoming) is dropped. Returns the merged dataset and the
// number of offers actually added; merging the same batch twice adds
// nothing the second time.
func Merge(existing, incoming []Offer) ([]Offer, int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]Offer, 0, len(existing)+len(incoming))
	for _, o := range existing {
		seen[o.Key()] = struct{}{}
		merged = append(merged, o)
	}
	added := 0
	for _, o := range incoming {
		k := o.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, o)
		added++
	}
	return merged, added
}

// Cursor bookmarks the last successful (or interrupted) run so the next
// run can fetch incrementally. An absent cursor means full-fetch mode.
type Cursor struct {
	LastPostID    string    `json:"lastPostId"`
	LastFetchTime time.Time `json:"lastFetchTime"`
	TotalOffers   int       `json:"totalOffers"`
}

package extract

import (
	"encoding/json"
	"regexp"

	"offerscope/internal/domain"
)

// fencedJSON matches the first fenced code block in the model's reply.
// The language tag is optional; models sometimes omit it.
var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// rawOffer is the shape the prompt asks the model for. Unknown fields are
// ignored; wrong field types make the whole payload structurally invalid.
type rawOffer struct {
	Company         *string  `json:"company"`
	Role            *string  `json:"role"`
	YOE             *float64 `json:"yoe"`
	BaseOffer       *float64 `json:"base_offer"`
	TotalOffer      *float64 `json:"total_offer"`
	Location        *string  `json:"location"`
	VisaSponsorship *string  `json:"visa_sponsorship"`
}

// parseOffers turns the model's raw text reply into validated offers.
// A missing block, unparsable JSON, a structurally wrong payload, or zero
// offers surviving the validity filter all mean "no offers": nil, no error.
func parseOffers(reply string) []domain.Offer {
	m := fencedJSON.FindStringSubmatch(reply)
	if m == nil {
		return nil
	}

	var raws []rawOffer
	if err := json.Unmarshal([]byte(m[1]), &raws); err != nil {
		return nil
	}

	var out []domain.Offer
	for _, r := range raws {
		o := domain.Offer{
			Company:           r.Company,
			Role:              r.Role,
			YearsOfExperience: r.YOE,
			BaseOffer:         r.BaseOffer,
			TotalOffer:        r.TotalOffer,
			Location:          r.Location,
		}
		if r.VisaSponsorship != nil {
			o.VisaSponsorship = *r.VisaSponsorship
		}
		o.Normalize()
		if !o.Valid() {
			continue
		}
		out = append(out, o)
	}
	return out
}

package extract

import (
	"fmt"

	"offerscope/internal/domain"
)

const promptTemplate = `You are given a forum post from a job compensation discussion board.
Extract every concrete compensation offer mentioned in the post.

Reply with a JSON array inside a fenced code block. Each element describes
one offer with these fields (use null for anything the post does not state):

- "company": string or null
- "role": string or null
- "yoe": number of years of experience, or null
- "base_offer": yearly base compensation in the post's currency, or null
- "total_offer": yearly total compensation in the post's currency, or null
- "location": string or null
- "visa_sponsorship": "yes", "no", or null

Rules:
- One array element per distinct offer; a post may describe several.
- Do not invent values. Do not convert currencies.
- If the post contains no compensation data at all, reply with an empty
  array: ` + "```json\n[]\n```" + `

Post title: %s

Post body:
%s`

func buildPrompt(p domain.Post) string {
	return fmt.Sprintf(promptTemplate, p.Title, p.Body)
}

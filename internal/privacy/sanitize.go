package privacy

import "regexp"

// Free-text sanitization for the rare paths where raw text is inspected
// (debug logging, custom event properties). Matches are replaced with fixed
// placeholder tokens so nothing personal survives.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ \-]?){13,19}\b`)
	govIDPattern = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

const (
	placeholderEmail = "[EMAIL]"
	placeholderPhone = "[PHONE]"
	placeholderCard  = "[CARD]"
	placeholderGovID = "[ID]"
)

func SanitizeText(text string) string {
	if text == "" {
		return text
	}
	// Card and government-ID first: both would otherwise survive inside a
	// phone-shaped digit run.
	text = govIDPattern.ReplaceAllString(text, placeholderGovID)
	text = cardPattern.ReplaceAllString(text, placeholderCard)
	text = emailPattern.ReplaceAllString(text, placeholderEmail)
	text = phonePattern.ReplaceAllString(text, placeholderPhone)
	return text
}

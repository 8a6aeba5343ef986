// Package privacy decides, before any event leaves the client, whether an
// element's content must be masked or the element excluded from capture
// entirely. All decisions are pure functions of the element descriptor.
package privacy

import "strings"

type Decision int

const (
	Allow Decision = iota
	Mask
	Block
)

func (d Decision) String() string {
	switch d {
	case Mask:
		return "mask"
	case Block:
		return "block"
	default:
		return "allow"
	}
}

// Element describes a DOM element as seen by the capture agent. Attrs holds
// the attributes relevant to the decision (data-* markers, autocomplete, ...).
type Element struct {
	Tag          string
	ID           string
	Name         string
	InputType    string
	Autocomplete string
	Selector     string
	Attrs        map[string]string
}

// Explicit capture markers. Unmask always wins so the survey's own inputs
// stay recordable.
const (
	attrUnmask = "data-fp-unmask"
	attrMask   = "data-fp-mask"
	attrBlock  = "data-fp-block"
)

var sensitiveInputTypes = map[string]bool{
	"password": true,
	"email":    true,
	"tel":      true,
	"number":   true,
	"hidden":   true,
}

var sensitiveAutocomplete = map[string]bool{
	"cc-number":          true,
	"cc-csc":             true,
	"cc-exp":             true,
	"cc-name":            true,
	"current-password":   true,
	"new-password":       true,
	"one-time-code":      true,
	"email":              true,
	"tel":                true,
	"street-address":     true,
	"postal-code":        true,
	"transaction-amount": true,
}

var sensitiveNamePatterns = []string{
	"password", "passwd", "pwd",
	"ssn", "social",
	"credit", "card", "cvv", "cvc", "ccnum",
	"secret", "api_key", "apikey", "api-key",
	"auth", "token",
	"account", "routing", "iban",
}

// Blocked third-party widget selectors (chat, payment iframes, consent
// banners). Anything matching is excluded from capture, not merely masked.
var blockedSelectors = []string{
	"#intercom-container",
	".intercom-lightweight-app",
	"#hubspot-messages-iframe-container",
	".drift-frame-chat",
	"#stripe-frame",
	".StripeElement",
	"#onetrust-consent-sdk",
	".cky-consent-container",
}

type Filter struct {
	extraBlocked []string
}

func NewFilter(extraBlockedSelectors ...string) *Filter {
	return &Filter{extraBlocked: extraBlockedSelectors}
}

// Decide evaluates the three escalating rules in order: explicit unmask
// markers win, then explicit mask/block markers and sensitivity heuristics,
// then the default of allow.
func (f *Filter) Decide(el Element) Decision {
	if _, ok := el.Attrs[attrUnmask]; ok {
		return Allow
	}

	if _, ok := el.Attrs[attrBlock]; ok {
		return Block
	}
	if f.isBlockedSelector(el.Selector) {
		return Block
	}

	if _, ok := el.Attrs[attrMask]; ok {
		return Mask
	}
	if sensitiveInputTypes[strings.ToLower(el.InputType)] {
		return Mask
	}
	if sensitiveAutocomplete[strings.ToLower(el.Autocomplete)] {
		return Mask
	}
	if containsSensitiveName(el.Name) || containsSensitiveName(el.ID) {
		return Mask
	}

	return Allow
}

// IsSensitive reports whether an input field's value length must be
// suppressed as well as its value.
func (f *Filter) IsSensitive(el Element) bool {
	return f.Decide(el) != Allow
}

func (f *Filter) isBlockedSelector(selector string) bool {
	if selector == "" {
		return false
	}
	for _, b := range blockedSelectors {
		if strings.Contains(selector, b) {
			return true
		}
	}
	for _, b := range f.extraBlocked {
		if b != "" && strings.Contains(selector, b) {
			return true
		}
	}
	return false
}

func containsSensitiveName(s string) bool {
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	for _, p := range sensitiveNamePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

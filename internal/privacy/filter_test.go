package privacy

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	f := NewFilter(".custom-widget")

	tests := []struct {
		name     string
		el       Element
		expected Decision
	}{
		{"plain text input", Element{Tag: "input", InputType: "text", Name: "nickname"}, Allow},
		{"password input type", Element{Tag: "input", InputType: "password"}, Mask},
		{"email input type", Element{Tag: "input", InputType: "email"}, Mask},
		{"tel input type", Element{Tag: "input", InputType: "tel"}, Mask},
		{"cc autocomplete", Element{Tag: "input", InputType: "text", Autocomplete: "cc-number"}, Mask},
		{"password in name", Element{Tag: "input", InputType: "text", Name: "user_password"}, Mask},
		{"ssn in id", Element{Tag: "input", InputType: "text", ID: "ssn-field"}, Mask},
		{"api key in name", Element{Tag: "input", InputType: "text", Name: "apikey"}, Mask},
		{"auth token in id", Element{Tag: "input", InputType: "text", ID: "auth-token"}, Mask},
		{"explicit mask marker", Element{Tag: "div", Attrs: map[string]string{"data-fp-mask": ""}}, Mask},
		{"explicit block marker", Element{Tag: "div", Attrs: map[string]string{"data-fp-block": ""}}, Block},
		{"known widget selector", Element{Tag: "div", Selector: "#intercom-container > div"}, Block},
		{"extra blocked selector", Element{Tag: "div", Selector: "body > .custom-widget"}, Block},
		{
			"unmask wins over sensitive type",
			Element{Tag: "input", InputType: "email", Attrs: map[string]string{"data-fp-unmask": ""}},
			Allow,
		},
		{
			"unmask wins over block marker",
			Element{Tag: "div", Attrs: map[string]string{"data-fp-unmask": "", "data-fp-block": ""}},
			Allow,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := f.Decide(tc.el); got != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, got)
			}
		})
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"email", "contact me at jane.doe@example.com please", "contact me at [EMAIL] please"},
		{"phone", "call +1 (555) 123-4567 now", "call [PHONE] now"},
		{"card", "card 4111 1111 1111 1111 expires soon", "card [CARD] expires soon"},
		{"ssn", "my ssn is 123-45-6789", "my ssn is [ID]"},
		{"clean text untouched", "nothing sensitive here", "nothing sensitive here"},
		{"empty", "", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeText(tc.input); got != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestConsentGate(t *testing.T) {
	t.Run("not required allows immediately", func(t *testing.T) {
		g := NewConsentGate(false, time.Hour)
		if !g.Allowed() {
			t.Error("Expected capture allowed when consent not required")
		}
	})

	t.Run("required blocks until accepted", func(t *testing.T) {
		g := NewConsentGate(true, time.Hour)
		if g.Allowed() {
			t.Error("Expected capture blocked before decision")
		}
		g.Accept()
		if !g.Allowed() {
			t.Error("Expected capture allowed after accept")
		}
	})

	t.Run("declined blocks", func(t *testing.T) {
		g := NewConsentGate(true, time.Hour)
		g.Decline()
		if g.Allowed() {
			t.Error("Expected capture blocked after decline")
		}
	})

	t.Run("revoke clears decision", func(t *testing.T) {
		g := NewConsentGate(true, time.Hour)
		g.Accept()
		g.Revoke()
		if g.Allowed() {
			t.Error("Expected capture blocked after revoke")
		}
	})

	t.Run("decision expires", func(t *testing.T) {
		g := NewConsentGate(true, time.Minute)
		g.Accept()

		now := time.Now()
		g.now = func() time.Time { return now.Add(2 * time.Minute) }
		if g.Allowed() {
			t.Error("Expected capture blocked after decision expiry")
		}
	})
}

package phone

import (
	"strings"
	"testing"
)

func TestNormalizer_Normalize(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "national format", input: "0712345678", want: "254712345678"},
		{name: "national format 01", input: "0110345678", want: "254110345678"},
		{name: "international with plus", input: "+254712345678", want: "254712345678"},
		{name: "international without plus", input: "254712345678", want: "254712345678"},
		{name: "bare subscriber", input: "712345678", want: "254712345678"},
		{name: "spaces and dashes", input: "0712 345-678", want: "254712345678"},
		{name: "parentheses", input: "(0712)345678", want: "254712345678"},
		{name: "empty", input: "", wantErr: true},
		{name: "letters", input: "07abc45678", wantErr: true},
		{name: "too short", input: "07123", wantErr: true},
		{name: "too long", input: "07123456789012", wantErr: true},
		{name: "unknown local prefix", input: "0912345678", wantErr: true},
		{
			name:    "corruption signature rejected",
			input:   strings.Repeat("ab12", 16),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Normalize(%q) = %q, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizer_CustomCountry(t *testing.T) {
	n := NewNormalizer(Config{
		CountryCode:      "255",
		LocalPrefixes:    []string{"7", "6"},
		SubscriberDigits: 9,
	})

	got, err := n.Normalize("0712345678")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if got != "255712345678" {
		t.Errorf("Normalize = %q, want 255712345678", got)
	}
}

func TestIsCorrupted(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "64 hex lower", input: strings.Repeat("a1", 32), want: true},
		{name: "64 hex upper", input: strings.Repeat("B2", 32), want: true},
		{name: "64 hex digits only", input: strings.Repeat("12345678", 8), want: true},
		{name: "63 hex", input: strings.Repeat("a", 63), want: false},
		{name: "65 hex", input: strings.Repeat("a", 65), want: false},
		{name: "real number", input: "254712345678", want: false},
		{name: "64 chars with non-hex", input: strings.Repeat("g", 64), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCorrupted(tt.input); got != tt.want {
				t.Errorf("IsCorrupted(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

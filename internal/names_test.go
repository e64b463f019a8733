package internal

import "testing"

func TestSanitizeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain name", "Widget", "Widget"},
		{"empty name", "", "_null_"},
		{"module pseudo type", "<Module>", "_Module_"},
		{"dotted name", "My.Nested.Name", "My_Nested_Name"},
		{"space and pipe", "a b|c", "a_b_c"},
		{"comma", "Pair,Other", "Pair_Other"},
		{"at sign stripped", "@event", "event"},
		{"reserved word", "delete", "delete_"},
		{"reserved after replace", "th.is", "th_is"},
		{"already sanitized", "_Module_", "_Module_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeIdentifier(tt.in); got != tt.want {
				t.Errorf("SanitizeIdentifier(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdentifierIdempotent(t *testing.T) {
	inputs := []string{"", "<Module>", "My.Name", "delete", "@event", "a b|c,d", "Widget"}
	for _, in := range inputs {
		once := SanitizeIdentifier(in)
		twice := SanitizeIdentifier(once)
		if once != twice {
			t.Errorf("SanitizeIdentifier(%q): second pass changed %q to %q", in, once, twice)
		}
	}
}

func TestStripArity(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"List`1", "List"},
		{"Dictionary`2", "Dictionary"},
		{"Widget", "Widget"},
		{"`1", ""},
	}
	for _, tt := range tests {
		if got := StripArity(tt.in); got != tt.want {
			t.Errorf("StripArity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

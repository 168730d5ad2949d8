package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare_digits", "919876543210", "919876543210"},
		{"leading_plus", "+919876543210", "919876543210"},
		{"spaces_and_dashes", "+91 98765-43210", "919876543210"},
		{"parentheses", "(91) 98765 43210", "919876543210"},
		{"surrounding_whitespace", "  +91 9876543210  ", "919876543210"},
		{"only_first_plus_stripped", "++123", "+123"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeEquivalentFormsCollapse(t *testing.T) {
	forms := []string{"+91 98765 43210", "919876543210", "(91)98765-43210", "+91-98765-43210"}
	want := Normalize(forms[0])
	for _, f := range forms[1:] {
		if got := Normalize(f); got != want {
			t.Errorf("Normalize(%q) = %q, want %q (all forms must collapse)", f, got, want)
		}
	}
}

package model

import "testing"

func TestStripPrefix(t *testing.T) {
	tokens := []string{"PO", "PM"}

	cases := []struct {
		name      string
		input     string
		wantID    string
		wantOK    bool
	}{
		{"strips PO prefix", "PO15262984", "15262984", true},
		{"strips PM prefix case-insensitively", "pm00029140", "00029140", true},
		{"no recognized prefix but all digits passes through", "15262984", "15262984", true},
		{"non-numeric remainder rejected", "POABC123", "", false},
		{"empty remainder rejected", "PO", "", false},
		{"whitespace trimmed", "  PO123  ", "123", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := StripPrefix(tc.input, tokens)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.wantID {
				t.Errorf("numericID = %q, want %q", got, tc.wantID)
			}
		})
	}
}

func TestStripPrefix_Idempotent(t *testing.T) {
	tokens := []string{"PO", "PM"}
	first, ok := StripPrefix("PO15262984", tokens)
	if !ok {
		t.Fatal("expected first strip to succeed")
	}
	second, ok := StripPrefix(first, tokens)
	if !ok {
		t.Fatal("expected second strip (no-op) to succeed")
	}
	if first != second {
		t.Errorf("StripPrefix is not idempotent: %q != %q", first, second)
	}
}

func TestNormalizeKey(t *testing.T) {
	if NormalizeKey("  po123 ") != "PO123" {
		t.Errorf("NormalizeKey did not trim/uppercase as expected")
	}
}

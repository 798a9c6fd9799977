package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	for code := range knownCodes {
		if !IsKnownCode(code) {
			t.Fatalf("registered code %q rejected", code)
		}
	}
	// Empty means "no error" on the wire.
	if !IsKnownCode("") {
		t.Fatalf("empty code rejected")
	}
	if IsKnownCode("E_MADE_UP") {
		t.Fatalf("unknown code accepted")
	}
}

package pipeline

import (
	"reflect"
	"testing"
)

func TestParseTargets(t *testing.T) {
	got, err := ParseTargets([]string{"10", " 137 ", "", "10"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []uint32{10, 137}; !reflect.DeepEqual(got, want) {
		t.Fatalf("targets mismatch: %v != %v", got, want)
	}
}

func TestParseTargetsInvalid(t *testing.T) {
	for _, input := range []string{"0", "abc", "4294967296"} {
		if _, err := ParseTargets([]string{input}); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x1ce81290Eb4c10cC9Fa71256799665423e87b628")
	if err != nil || addr.Hex() != "0x1ce81290Eb4c10cC9Fa71256799665423e87b628" {
		t.Fatalf("unexpected parse result: %s %v", addr.Hex(), err)
	}
	if _, err := ParseAddress("0x123"); err == nil {
		t.Fatalf("expected error for short address")
	}
}

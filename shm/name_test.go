package shm

import (
	"strings"
	"testing"
)

func TestShortenNamePassthrough(t *testing.T) {
	short := "svc_control"
	if got := shortenName(short); got != short {
		t.Fatalf("shortenName(%q) = %q, want unchanged", short, got)
	}
}

func TestShortenNameLongName(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := shortenName(long)
	if len(got) > MaxNameLen {
		t.Fatalf("shortenName produced %d bytes, want <= %d", len(got), MaxNameLen)
	}
	if !strings.Contains(got, "_") {
		t.Fatalf("shortenName(%q) = %q, want a hash suffix", long, got)
	}
}

func TestShortenNameDeterministic(t *testing.T) {
	long := strings.Repeat("b", 200)
	a := shortenName(long)
	b := shortenName(long)
	if a != b {
		t.Fatalf("shortenName not deterministic: %q != %q", a, b)
	}
}

func TestShortenNameDistinctForDifferentPrefixes(t *testing.T) {
	a := shortenName(strings.Repeat("a", 200))
	b := shortenName(strings.Repeat("a", 199) + "z")
	if a == b {
		t.Fatalf("distinct long names collided: %q", a)
	}
}

func TestValidateNameRejectsEmpty(t *testing.T) {
	if err := validateName("acquire", ""); err == nil {
		t.Fatal("validateName(\"\") = nil, want error")
	}
}

package version

import "testing"

func TestString(t *testing.T) {
	old := Version
	defer func() { Version = old }()

	Version = "1.2.3"
	if got, want := String(), "scopae 1.2.3 (unknown, built unknown)"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

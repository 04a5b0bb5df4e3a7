package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	t.Run("custom values", func(t *testing.T) {
		origVersion, origCommit := Version, Commit
		defer func() {
			Version, Commit = origVersion, origCommit
		}()

		Version = "1.2.3"
		Commit = "abc1234"

		if got, want := String(), "sessionmux 1.2.3 (abc1234)"; got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	})

	t.Run("format validation", func(t *testing.T) {
		result := String()
		if !strings.HasPrefix(result, "sessionmux ") {
			t.Errorf("String() = %q, should start with the program name", result)
		}
		if !strings.Contains(result, "(") || !strings.Contains(result, ")") {
			t.Errorf("String() = %q, should contain parentheses", result)
		}
	})
}

func TestDefaultValues(t *testing.T) {
	// These might be overwritten by ldflags or build info.
	if Version == "" {
		t.Error("Version should not be empty")
	}
	if Commit == "" {
		t.Error("Commit should not be empty")
	}
}

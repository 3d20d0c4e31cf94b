package environ

import (
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	env := New(strings.NewReader("HOME=/home/root\x00CRASH_VERBOSE_LOGGING=1\x00EMPTY=\x00NOVALUE\x00=skipped\x00A=b=c"))
	for _, tc := range []struct {
		key  string
		want string
		has  bool
	}{
		{"HOME", "/home/root", true},
		{"CRASH_VERBOSE_LOGGING", "1", true},
		{"EMPTY", "", true},
		{"NOVALUE", "", true},
		{"A", "b=c", true},
		{"MISSING", "", false},
	} {
		if got := env.GetVar(tc.key); got != tc.want {
			t.Errorf("GetVar(%q) = %q, want %q", tc.key, got, tc.want)
		}
		if got := env.HasVar(tc.key); got != tc.has {
			t.Errorf("HasVar(%q) = %v, want %v", tc.key, got, tc.has)
		}
	}
	if !env.Bool("CRASH_VERBOSE_LOGGING") {
		t.Errorf("Bool(CRASH_VERBOSE_LOGGING) = false, want true")
	}
	if env.Bool("HOME") || env.Bool("MISSING") {
		t.Errorf("Bool must be false for non boolean or missing values")
	}
}

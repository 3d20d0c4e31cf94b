package configuration

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func TestSignals(t *testing.T) {
	got, err := Default().Signals()
	if err != nil {
		t.Fatalf("Signals returned an error %v", err)
	}
	want := []unix.Signal{unix.SIGSEGV, unix.SIGILL, unix.SIGABRT, unix.SIGFPE, unix.SIGBUS}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Signals() mismatch (-want +got):\n%s", diff)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(c *Config)
		ok     bool
	}{
		{"Default", func(c *Config) {}, true},
		{"NoLogFile", func(c *Config) { c.LogFile = "" }, false},
		{"VerboseWithoutPrefix", func(c *Config) { c.VerboseCrashLogging = true; c.VerboseLogPrefix = "" }, false},
		{"NegativeStack", func(c *Config) { c.StackWords = -1 }, false},
		{"BadCompression", func(c *Config) { c.Archive.Compression = "lz4" }, false},
		{"BadDiskUsage", func(c *Config) { c.Archive.MaxDiskUsagePrct = 120 }, false},
		{"UnknownSignal", func(c *Config) { c.TrappedSignals = []string{"SIGNOPE"} }, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			if err := c.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestMallocStatsInterval(t *testing.T) {
	for _, tc := range []struct {
		cfg  MallocStatsConfig
		want time.Duration
	}{
		{MallocStatsConfig{}, 0},
		{MallocStatsConfig{File: "/tmp/m.log"}, 0},
		{MallocStatsConfig{IntervalSec: 5}, 0},
		{MallocStatsConfig{File: "/tmp/m.log", IntervalSec: 5}, 5 * time.Second},
	} {
		if got := tc.cfg.Interval(); got != tc.want {
			t.Errorf("%+v.Interval() = %v, want %v", tc.cfg, got, tc.want)
		}
	}
}

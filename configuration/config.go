// Package configuration holds the settings the crash sentinel reads.
package configuration

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Compression of archived crash logs.
type Compression string

const (
	CompressionPlain  Compression = "plain"
	CompressionZstd   Compression = "zstd"
	CompressionSnappy Compression = "snappy"
)

type ArchiveConfig struct {
	// Dir receives a copy of every crash log. Empty disables archiving.
	Dir              string      `yaml:"dir"`
	Compression      Compression `yaml:"compression"`
	MaxDiskUsagePrct uint        `yaml:"max_disk_usage_prct"`
}

type MallocStatsConfig struct {
	// File receives periodic memory statistics of the traced program.
	// Empty disables sampling.
	File        string `yaml:"file"`
	IntervalSec int    `yaml:"interval_sec"`
}

// Interval returns the sampling period, 0 when sampling is disabled.
func (m MallocStatsConfig) Interval() time.Duration {
	if m.File == "" || m.IntervalSec <= 0 {
		return 0
	}
	return time.Duration(m.IntervalSec) * time.Second
}

type BacktraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	MapPath string `yaml:"map_path"`
}

type Config struct {
	// SentinelLog is where the sentinel logs its own activity.
	SentinelLog string `yaml:"sentinel_log"`
	// LogFile is the crash log path used when verbose logging is off.
	LogFile string `yaml:"log_file"`
	// VerboseLogPrefix builds "<prefix>.<pid>.verbose.log".
	VerboseLogPrefix string `yaml:"verbose_log_prefix"`
	// ProcessName prefixes the crash log preamble. Empty means the
	// traced program's comm.
	ProcessName         string            `yaml:"process_name"`
	VerboseCrashLogging bool              `yaml:"verbose_crash_logging"`
	LoopInCrashHandler  bool              `yaml:"loop_in_crash_handler"`
	TrappedSignals      []string          `yaml:"trapped_signals"`
	StackWords          int               `yaml:"stack_words"`
	Archive             ArchiveConfig     `yaml:"archive"`
	MallocStats         MallocStatsConfig `yaml:"malloc_stats"`
	Backtrace           BacktraceConfig   `yaml:"backtrace"`
}

// Default returns the settings used for every field a source leaves out.
func Default() *Config {
	return &Config{
		SentinelLog:      "/tmp/crashsentinel.log",
		LogFile:          "/tmp/crashsentinel.crash.log",
		VerboseLogPrefix: "/tmp/crashsentinel",
		TrappedSignals:   []string{"SIGSEGV", "SIGILL", "SIGABRT", "SIGFPE", "SIGBUS"},
		StackWords:       16,
		Archive: ArchiveConfig{
			Compression:      CompressionPlain,
			MaxDiskUsagePrct: 95,
		},
		Backtrace: BacktraceConfig{
			MapPath: "/sys/fs/bpf/crashsentinel_frames",
		},
	}
}

// Signals resolves TrappedSignals.
func (c *Config) Signals() ([]unix.Signal, error) {
	sigs := make([]unix.Signal, 0, len(c.TrappedSignals))
	for _, name := range c.TrappedSignals {
		sig := unix.SignalNum(name)
		if sig == 0 {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// Validate checks the settings that cannot be repaired with defaults.
func (c *Config) Validate() error {
	if c.LogFile == "" {
		return fmt.Errorf("log_file must be set")
	}
	if c.VerboseCrashLogging && c.VerboseLogPrefix == "" {
		return fmt.Errorf("verbose_log_prefix must be set when verbose_crash_logging is on")
	}
	if c.StackWords < 0 {
		return fmt.Errorf("stack_words must not be negative, got %d", c.StackWords)
	}
	switch c.Archive.Compression {
	case CompressionPlain, CompressionZstd, CompressionSnappy:
	default:
		return fmt.Errorf("unknown compression %q", c.Archive.Compression)
	}
	if c.Archive.MaxDiskUsagePrct > 100 {
		return fmt.Errorf("max_disk_usage_prct must be at most 100, got %d", c.Archive.MaxDiskUsagePrct)
	}
	if _, err := c.Signals(); err != nil {
		return err
	}
	return nil
}

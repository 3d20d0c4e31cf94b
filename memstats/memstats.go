//go:build linux

// Package memstats periodically appends the memory usage of the traced
// program to a shared statistics file.
package memstats

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Fields are the /proc/<pid>/status lines copied into every sample.
var Fields = []string{"VmPeak", "VmSize", "VmHWM", "VmRSS", "VmData", "VmStk"}

type Sampler struct {
	Fs       afero.Fs
	Out      io.Writer
	Pid      int
	Name     string
	Interval time.Duration

	// Now returns the wall clock printed in the header. Defaults to time.Now.
	Now func() time.Time
}

// Run writes a sample every Interval until ctx is done. A non-positive
// interval disables sampling.
func (s *Sampler) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Sample(); err != nil {
				// the program may be gone already
				log.Printf("memstats: %v", err)
			}
		}
	}
}

// Sample writes one block.
func (s *Sampler) Sample() error {
	status, err := afero.ReadFile(s.Fs, fmt.Sprintf("/proc/%d/status", s.Pid))
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	s.header(&buf)
	scanner := bufio.NewScanner(bytes.NewReader(status))
	for scanner.Scan() {
		key, _, ok := strings.Cut(scanner.Text(), ":")
		if ok && wanted(key) {
			buf.WriteString(scanner.Text())
			buf.WriteByte('\n')
		}
	}
	buf.WriteString("\n\n")

	if f, ok := s.Out.(*os.File); ok {
		fd := int(f.Fd())
		if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
			return fmt.Errorf("flock: %w", err)
		}
		defer unix.Flock(fd, unix.LOCK_UN)
		defer unix.Fsync(fd)
	}
	_, err = s.Out.Write(buf.Bytes())
	return err
}

func (s *Sampler) header(w io.Writer) {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	var ts unix.Timespec
	unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	fmt.Fprintf(w, "\nMEMORY STATS FOR PROCESS: %q (PID: %d) AT [%d.%d] %s\n",
		s.Name, s.Pid, ts.Sec, ts.Nsec, now().Format(time.ANSIC))
}

func wanted(key string) bool {
	for _, f := range Fields {
		if f == key {
			return true
		}
	}
	return false
}

// OpenFile opens path for appending samples.
func OpenFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
}

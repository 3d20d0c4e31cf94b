package xioutil

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
)

func TestCancellableWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	w := NewCancellableWriter(ctx, &buf)
	if _, err := w.Write([]byte("before")); err != nil {
		t.Fatalf("Write returned an error %v", err)
	}
	cancel()
	if _, err := w.Write([]byte("after")); !errors.Is(err, context.Canceled) {
		t.Errorf("Write after cancel = %v, want %v", err, context.Canceled)
	}
	if buf.String() != "before" {
		t.Errorf("buffer = %q, want %q", buf.String(), "before")
	}
}

func TestDiskUsageCheck(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "usage")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := DiskUsageCheck(int(f.Fd()), 100)(nil); err != nil {
		t.Errorf("a 100%% limit must never refuse a write, got %v", err)
	}
	if err := DiskUsageCheck(-1, 100)(nil); err == nil {
		t.Errorf("an invalid descriptor must be reported")
	}
}

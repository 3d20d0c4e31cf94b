//go:build linux

package bpfbacktracer

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/liam-kelly/luna-sysmgr/crashlog"
)

func TestUnmarshalBinary(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, [FramesNumber]uint64{0x400100, 0x400200, 0, 0})
	var bt Backtrace
	if err := bt.UnmarshalBinary(buf.Bytes()); err != nil {
		t.Fatalf("UnmarshalBinary returned an error %v", err)
	}
	if diff := cmp.Diff([FramesNumber]uint64{0x400100, 0x400200, 0, 0}, bt.Vaddrs); diff != "" {
		t.Errorf("frames mismatch (-want +got):\n%s", diff)
	}
	if err := bt.UnmarshalBinary(buf.Bytes()[:8]); err == nil {
		t.Errorf("a short value must not decode")
	}
}

func TestWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.log")
	l := crashlog.New()
	var p crashlog.Path
	p.Reset().Str(path)
	if err := l.Open(&p); err != nil {
		t.Fatal(err)
	}
	bt := Backtrace{Vaddrs: [FramesNumber]uint64{0x8badf00d, 0x1000, 0, 0x2000}}
	bt.Write(l)
	l.Close()

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "kernel backtrace {\n  #0 0x8badf00d\n  #1 0x00001000\n}\n"
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Errorf("block mismatch (-want +got):\n%s", diff)
	}
}

func TestInstructionsAssemble(t *testing.T) {
	insns := instructions(3)
	var buf bytes.Buffer
	if err := insns.Marshal(&buf, binary.LittleEndian); err != nil {
		t.Fatalf("program does not assemble: %v", err)
	}
}

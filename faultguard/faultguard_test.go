package faultguard

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/sigaction"
)

// fakeMemory maps [base, base+len(words)*WordSize) and faults elsewhere.
type fakeMemory struct {
	base  uint64
	words []uint64
	peeks map[uint64]int
	err   error
}

func (m *fakeMemory) PeekWord(addr uint64) (uint64, error) {
	if m.peeks == nil {
		m.peeks = make(map[uint64]int)
	}
	m.peeks[addr]++
	if m.err != nil {
		return 0, m.err
	}
	if addr < m.base || addr >= m.base+uint64(len(m.words))*WordSize {
		return 0, unix.EIO
	}
	return m.words[(addr-m.base)/WordSize], nil
}

type probed struct {
	Addr, Val uint64
	OK        bool
}

func collect(dst *[]probed) Probe {
	return func(addr, val uint64, ok bool) {
		*dst = append(*dst, probed{addr, val, ok})
	}
}

func TestReadRegionStopsAtFault(t *testing.T) {
	var (
		tbl  sigaction.Table
		flag Flag
		got  []probed
	)
	mem := &fakeMemory{base: 0x1000, words: []uint64{1, 2}}
	g := New(&tbl, &flag)
	g.Attach(mem)

	var prev sigaction.Action
	g.Arm(&prev)
	n, err := g.ReadRegion(0x1000, 8, collect(&got))
	if err != nil {
		t.Fatalf("ReadRegion returned an error %v", err)
	}
	if n != 2 {
		t.Errorf("ReadRegion read %d words, want 2", n)
	}
	want := []probed{
		{0x1000, 1, true},
		{0x1000 + WordSize, 2, true},
		{0x1000 + 2*WordSize, 0, false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("probes mismatch (-want +got):\n%s", diff)
	}
	if !flag.IsSet() {
		t.Errorf("nested fault flag is not set")
	}
	if g.Faults() != 1 {
		t.Errorf("Faults() = %d, want 1", g.Faults())
	}
	if c := mem.peeks[0x1000+2*WordSize]; c != 1 {
		t.Errorf("faulting word probed %d times, want 1", c)
	}
	if g.State() != Armed {
		t.Errorf("guard state after a fault = %v, want %v", g.State(), Armed)
	}
}

func TestGuardSurvivesSeveralRegions(t *testing.T) {
	var (
		tbl  sigaction.Table
		flag Flag
		got  []probed
	)
	g := New(&tbl, &flag)
	g.Attach(&fakeMemory{base: 0x2000, words: []uint64{7}})

	var prev sigaction.Action
	g.Arm(&prev)
	for _, addr := range []uint64{0, 0x10, 0x2000} {
		if _, err := g.ReadRegion(addr, 1, collect(&got)); err != nil {
			t.Fatalf("ReadRegion(%#x) returned an error %v", addr, err)
		}
	}
	want := []probed{{0, 0, false}, {0x10, 0, false}, {0x2000, 7, true}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("probes mismatch (-want +got):\n%s", diff)
	}
	if g.Faults() != 2 {
		t.Errorf("Faults() = %d, want 2", g.Faults())
	}

	g.Disarm(prev)
	if !tbl.Action(unix.SIGSEGV).IsDefault() {
		t.Errorf("Disarm did not restore the default disposition")
	}
	if g.State() != Disarmed {
		t.Errorf("state = %v, want %v", g.State(), Disarmed)
	}
}

func TestUnguardedFault(t *testing.T) {
	var (
		tbl  sigaction.Table
		flag Flag
	)
	g := New(&tbl, &flag)
	g.Attach(&fakeMemory{})
	_, err := g.ReadRegion(0xdead0000, 4, func(uint64, uint64, bool) {})
	if !errors.Is(err, ErrUnguardedFault) {
		t.Errorf("ReadRegion error = %v, want %v", err, ErrUnguardedFault)
	}
	if flag.IsSet() {
		t.Errorf("nested fault flag set without an armed guard")
	}
}

func TestOtherErrorsPropagate(t *testing.T) {
	var (
		tbl  sigaction.Table
		flag Flag
	)
	g := New(&tbl, &flag)
	g.Attach(&fakeMemory{err: unix.ESRCH})
	var prev sigaction.Action
	g.Arm(&prev)
	if _, err := g.ReadRegion(0x1000, 1, func(uint64, uint64, bool) {}); !errors.Is(err, unix.ESRCH) {
		t.Errorf("ReadRegion error = %v, want %v", err, unix.ESRCH)
	}
	if flag.IsSet() {
		t.Errorf("a non-memory error must not count as a nested fault")
	}
}

func TestHandlerIgnoresOtherSignals(t *testing.T) {
	var (
		tbl  sigaction.Table
		flag Flag
	)
	g := New(&tbl, &flag)
	var prev sigaction.Action
	g.Arm(&prev)

	pc := uint64(0x4000)
	g.handle(&sigaction.Event{Signo: unix.SIGBUS, PC: &pc})
	if pc != 0x4000 || flag.IsSet() {
		t.Errorf("guard reacted to SIGBUS: pc=%#x flag=%v", pc, flag.IsSet())
	}
}

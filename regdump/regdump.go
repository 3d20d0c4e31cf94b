//go:build linux

// Package regdump turns the register state of a crashed thread into the
// "reg context" block of a crash log.
//
// The register table is chosen at build time (capture_<arch>.go). The x86
// family dumps every register. The ARM family only dumps fault metadata and
// the sp/lr/pc/status registers unless verbose logging is on, because general
// purpose registers of a field device may hold user data.
package regdump

import (
	"github.com/liam-kelly/luna-sysmgr/crashlog"
)

// MaxRegs bounds each register list of a Snapshot.
const MaxRegs = 32

// Layout selects how a Snapshot is printed.
type Layout int

const (
	// Indexed prints "  <idx> <name> = 0x<hex> <dec>" for every register.
	Indexed Layout = iota
	// Named prints "  <name> = 0x<hex> <dec>" and gates the sensitive set.
	Named
)

// Reg is one named register value.
type Reg struct {
	Name  string
	Value uint64
}

// FaultInfo is the part of siginfo the dump uses.
type FaultInfo struct {
	Signo int32
	Errno int32
	Code  int32
	Addr  uint64
}

// Context is the machine state of a stopped thread.
type Context struct {
	Regs    Registers
	Fault   FaultInfo
	SigMask uint64
}

// Snapshot is a fixed-size, printable view of a Context.
type Snapshot struct {
	Layout     Layout
	Bits       int
	Public     [MaxRegs]Reg
	NPublic    int
	Sensitive  [MaxRegs]Reg
	NSensitive int
}

func (s *Snapshot) reset(layout Layout, bits int) {
	s.Layout = layout
	s.Bits = bits
	s.NPublic = 0
	s.NSensitive = 0
}

func (s *Snapshot) public(name string, v uint64) {
	if s.NPublic < MaxRegs {
		s.Public[s.NPublic] = Reg{name, v}
		s.NPublic++
	}
}

func (s *Snapshot) sensitive(name string, v uint64) {
	if s.NSensitive < MaxRegs {
		s.Sensitive[s.NSensitive] = Reg{name, v}
		s.NSensitive++
	}
}

func (s *Snapshot) signed(v uint64) int64 {
	if s.Bits == 32 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

// Write prints the register block of s to l and flushes. Sensitive
// registers are only printed when verbose is set.
func Write(l *crashlog.Logger, s *Snapshot, verbose bool) {
	l.Line("reg context {")
	switch s.Layout {
	case Indexed:
		for i := 0; i < s.NPublic; i++ {
			r := &s.Public[i]
			l.Str("  ").IntPad(int64(i), 2).Str(" ").PadLeft(r.Name, 8).
				Str(" = 0x").Hex(r.Value, 8).Str(" ").Int(s.signed(r.Value)).End()
		}
	case Named:
		l.Line("  // non-sensitive register content:")
		writeNamed(l, s, s.Public[:s.NPublic])
		if verbose && s.NSensitive > 0 {
			writeNamed(l, s, s.Sensitive[:s.NSensitive])
		}
	}
	l.Line("}")
	l.Flush()
}

func writeNamed(l *crashlog.Logger, s *Snapshot, regs []Reg) {
	for i := range regs {
		l.Str("  ").PadRight(regs[i].Name, 13).Str(" = 0x").Hex(regs[i].Value, 8).
			Str(" ").Int(s.signed(regs[i].Value)).End()
	}
}

// WriteUnavailable prints an empty register block for a thread whose state
// could not be read.
func WriteUnavailable(l *crashlog.Logger) {
	l.Line("reg context {")
	l.Line("  // unavailable")
	l.Line("}")
	l.Flush()
}

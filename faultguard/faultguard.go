// Package faultguard protects crash capture against faulting while it reads
// memory of the crashed program.
//
// A Guard is installed as the SIGSEGV disposition for the duration of one
// capture. Every probe that hits unmapped memory is delivered to it; the
// guard records the nested fault, steps the probe cursor over the faulting
// word and re-installs itself, since one-shot installation disarms it on
// every firing.
package faultguard

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/sigaction"
)

// WordSize is the probe stride and the distance skipped on a fault.
const WordSize = uint64(unsafe.Sizeof(uintptr(0)))

// ErrUnguardedFault is returned when a probe faults while no guard is armed.
var ErrUnguardedFault = errors.New("memory fault outside of an armed guard")

// Flag is a boolean cell that is safe to touch while capturing.
type Flag struct {
	v int32
}

// Set raises the flag. There is no way to lower it.
func (f *Flag) Set() { atomic.StoreInt32(&f.v, 1) }

// IsSet reports whether the flag was raised.
func (f *Flag) IsSet() bool { return atomic.LoadInt32(&f.v) != 0 }

// NestedFault is raised the first time any capture faults and stays raised
// for the life of the process.
var NestedFault Flag

// State of a Guard.
type State int32

const (
	Disarmed State = iota
	Armed
	Fired
)

func (s State) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	default:
		return "unknown"
	}
}

// Peeker reads one machine word of the crashed program.
type Peeker interface {
	PeekWord(addr uint64) (uint64, error)
}

// Guard is the inner fault handler.
type Guard struct {
	table   *sigaction.Table
	flag    *Flag
	handler sigaction.Handler
	mem     Peeker
	state   State
	faults  int
}

// New returns a disarmed guard that installs itself into table and raises
// flag on every fault.
func New(table *sigaction.Table, flag *Flag) *Guard {
	g := &Guard{
		table: table,
		flag:  flag,
	}
	g.handler = g.handle
	return g
}

// Attach sets the memory probed by the next capture and clears the fault
// count.
func (g *Guard) Attach(mem Peeker) {
	g.mem = mem
	g.faults = 0
}

// Arm installs the guard for SIGSEGV and stores the replaced disposition
// in prev.
func (g *Guard) Arm(prev *sigaction.Action) {
	g.table.InstallOnce(unix.SIGSEGV, g.handler, prev)
	g.state = Armed
}

// Disarm puts prev back as the SIGSEGV disposition.
func (g *Guard) Disarm(prev sigaction.Action) {
	g.table.Install(unix.SIGSEGV, prev, nil)
	g.state = Disarmed
}

// State returns the current state.
func (g *Guard) State() State { return g.state }

// Faults returns how many times the guard fired since Attach.
func (g *Guard) Faults() int { return g.faults }

func (g *Guard) handle(ev *sigaction.Event) {
	if ev.Signo != unix.SIGSEGV {
		return
	}
	g.state = Fired
	if ev.PC != nil {
		*ev.PC += WordSize
	}
	g.flag.Set()
	g.faults++
	g.table.InstallOnce(unix.SIGSEGV, g.handler, nil)
	g.state = Armed
}

// Probe is called for each word of a region. ok is false for the word that
// faulted; it is the last call for the region.
type Probe func(addr, val uint64, ok bool)

// ReadRegion probes up to words consecutive words starting at addr. The
// region is abandoned after the first fault. It returns the number of
// words read. An error means the fault could not be contained and the
// capture must stop probing memory.
func (g *Guard) ReadRegion(addr uint64, words int, fn Probe) (int, error) {
	if g.mem == nil {
		return 0, nil
	}
	pc := addr
	for n := 0; n < words; n++ {
		v, err := g.mem.PeekWord(pc)
		if err == nil {
			fn(pc, v, true)
			pc += WordSize
			continue
		}
		if !isMemoryFault(err) {
			return n, err
		}
		at := pc
		ev := sigaction.Event{Signo: unix.SIGSEGV, Addr: at, PC: &pc}
		if !g.table.Fault(unix.SIGSEGV, &ev) {
			return n, ErrUnguardedFault
		}
		fn(at, 0, false)
		return n, nil
	}
	return words, nil
}

func isMemoryFault(err error) bool {
	return errors.Is(err, unix.EIO) || errors.Is(err, unix.EFAULT)
}

// Package sigaction keeps per-signal dispositions for the crash sentinel.
//
// A Table mirrors the sigaction(2) model: every signal has an Action made
// of a handler, flags and a mask of signals blocked while the handler runs.
// The zero Action is the default disposition. Everything is stored in
// fixed-size arrays so that a Table can be consulted while a crash is being
// captured. A Table is owned by a single goroutine.
package sigaction

import (
	"golang.org/x/sys/unix"
)

// NSIG is one past the highest signal number a Table tracks.
const NSIG = 65

// Flags alter how an Action is delivered.
type Flags uint32

const (
	// SigInfo marks handlers that consume the full Event.
	SigInfo Flags = 1 << iota
	// ResetHand restores the default disposition before the handler runs,
	// so the handler fires once per installation.
	ResetHand
	// NoDefer leaves the delivered signal unblocked while its handler runs.
	NoDefer
)

// Mask is a set of signals, bit n-1 standing for signal n.
type Mask uint64

// FullMask blocks every signal.
const FullMask = ^Mask(0)

// Bit returns the mask holding only sig.
func Bit(sig unix.Signal) Mask {
	if sig <= 0 || sig >= NSIG {
		return 0
	}
	return 1 << (uint(sig) - 1)
}

// Has reports whether sig is in m.
func (m Mask) Has(sig unix.Signal) bool {
	return m&Bit(sig) != 0
}

// Event describes one delivery.
type Event struct {
	Signo unix.Signal
	Pid   int
	Tid   int
	// Addr is the faulting address, if any.
	Addr uint64
	// PC is where execution resumes once the handler returns. Handlers
	// may advance it to step over a faulting access.
	PC *uint64
}

// Handler runs on delivery.
type Handler func(ev *Event)

// Action is the disposition of one signal.
type Action struct {
	Handler Handler
	Flags   Flags
	Mask    Mask
}

// IsDefault reports whether a is the default disposition.
func (a Action) IsDefault() bool {
	return a.Handler == nil
}

// Table holds the dispositions of all signals.
type Table struct {
	actions [NSIG]Action
	blocked Mask
	pending Mask
	queued  [NSIG]Event
}

func valid(sig unix.Signal) bool {
	return sig > 0 && sig < NSIG
}

// Install sets the disposition of sig to act. If prev is not nil it
// receives the disposition that was replaced.
func (t *Table) Install(sig unix.Signal, act Action, prev *Action) {
	if !valid(sig) {
		return
	}
	if prev != nil {
		*prev = t.actions[sig]
	}
	t.actions[sig] = act
}

// InstallOnce installs h for sig with every signal blocked while it runs
// and with one-shot semantics: the first delivery resets sig to the
// default disposition, so a broken handler cannot loop.
func (t *Table) InstallOnce(sig unix.Signal, h Handler, prev *Action) {
	t.Install(sig, Action{
		Handler: h,
		Flags:   SigInfo | ResetHand,
		Mask:    FullMask,
	}, prev)
}

// Action returns the current disposition of sig.
func (t *Table) Action(sig unix.Signal) Action {
	if !valid(sig) {
		return Action{}
	}
	return t.actions[sig]
}

// Blocked returns the signals blocked by the handlers currently running.
func (t *Table) Blocked() Mask { return t.blocked }

// Pending returns the blocked signals waiting for delivery.
func (t *Table) Pending() Mask { return t.pending }

// Deliver dispatches an asynchronous signal. It returns false when sig has
// the default disposition and the caller must apply the default action.
// A blocked signal is queued and delivered once the blocking handler
// returns; only one instance per signal is kept.
func (t *Table) Deliver(sig unix.Signal, ev *Event) bool {
	if !valid(sig) || t.actions[sig].IsDefault() {
		return false
	}
	if t.blocked.Has(sig) {
		t.pending |= Bit(sig)
		t.queued[sig] = *ev
		return true
	}
	t.run(sig, ev)
	return true
}

// Fault dispatches a synchronous fault. A fault cannot wait: when sig is
// blocked it is reset to the default disposition, as the kernel does, and
// Fault returns false.
func (t *Table) Fault(sig unix.Signal, ev *Event) bool {
	if !valid(sig) {
		return false
	}
	if t.blocked.Has(sig) {
		t.actions[sig] = Action{}
		return false
	}
	if t.actions[sig].IsDefault() {
		return false
	}
	t.run(sig, ev)
	return true
}

func (t *Table) run(sig unix.Signal, ev *Event) {
	act := t.actions[sig]
	if act.Flags&ResetHand != 0 {
		t.actions[sig] = Action{}
	}
	saved := t.blocked
	t.blocked |= act.Mask
	if act.Flags&NoDefer != 0 {
		t.blocked &^= Bit(sig)
	} else {
		t.blocked |= Bit(sig)
	}
	act.Handler(ev)
	t.blocked = saved
	t.drain()
}

func (t *Table) drain() {
	for sig := unix.Signal(1); sig < NSIG; sig++ {
		if !t.pending.Has(sig) || t.blocked.Has(sig) {
			continue
		}
		t.pending &^= Bit(sig)
		ev := t.queued[sig]
		t.queued[sig] = Event{}
		t.Deliver(sig, &ev)
	}
}

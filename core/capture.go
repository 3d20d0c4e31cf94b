//go:build linux

package core

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/crashlog"
	"github.com/liam-kelly/luna-sysmgr/faultguard"
	"github.com/liam-kelly/luna-sysmgr/regdump"
	"github.com/liam-kelly/luna-sysmgr/sigaction"
)

// CodeWords is how many words at the program counter every crash log holds.
const CodeWords = 4

// stayInLoop holds a capture in debug-wait. Clear it from a debugger
// (set var 'core.stayInLoop' = 0) to let the capture finish.
var stayInLoop int32 = 1

// Capture describes the latest diagnosed crash.
type Capture struct {
	Signal unix.Signal
	Pid    int
	Tid    int
	// Logged is false when the crash log could not be opened.
	Logged   bool
	Faults   int
	Detached bool
}

// Capturer is the outer crash handler. Everything it touches while
// handling is preallocated, so a capture never allocates.
type Capturer struct {
	settings *Settings
	table    *sigaction.Table
	guard    *faultguard.Guard
	log      *crashlog.Logger
	path     crashlog.Path
	ctx      regdump.Context
	snap     regdump.Snapshot
	probe    faultguard.Probe
	handler  sigaction.Handler

	thread   Thread
	noProbe  bool
	episodes int
	last     Capture
}

func newCapturer(s *Settings, table *sigaction.Table, guard *faultguard.Guard) *Capturer {
	c := &Capturer{
		settings: s,
		table:    table,
		guard:    guard,
		log:      crashlog.New(),
	}
	c.probe = c.word
	c.handler = c.handle
	return c
}

// install sets the outer handler for sig: one-shot, with every signal but
// SIGSEGV blocked so the guard can still fire while capturing.
func (c *Capturer) install(sig unix.Signal) {
	c.table.Install(sig, sigaction.Action{
		Handler: c.handler,
		Flags:   sigaction.SigInfo | sigaction.ResetHand | sigaction.NoDefer,
		Mask:    sigaction.FullMask &^ sigaction.Bit(unix.SIGSEGV),
	}, nil)
}

// Path returns the crash log path of the latest capture.
func (c *Capturer) Path() string {
	return c.path.String()
}

func (c *Capturer) handle(ev *sigaction.Event) {
	var prev sigaction.Action
	c.guard.Arm(&prev)
	c.guard.Attach(c.thread)
	c.noProbe = false
	c.last = Capture{Signal: ev.Signo, Pid: ev.Pid, Tid: ev.Tid}

	c.resolvePath(ev.Pid)
	if err := c.log.Open(&c.path); err == nil {
		c.last.Logged = true
		c.preamble(ev).End()
		c.log.Flush()

		c.dump()

		c.preamble(ev).Str(" END report").End()
		c.log.Flush()
	}

	if c.settings.LoopInCrashHandler {
		c.debugWait()
	}

	c.last.Faults = c.guard.Faults()
	c.guard.Disarm(prev)
	c.log.Close()
	c.episodes++
}

func (c *Capturer) resolvePath(pid int) {
	c.path.Reset()
	if c.settings.Verbose {
		c.path.Str(c.settings.VerboseLogPrefix).Str(".").Int(int64(pid)).Str(".verbose.log")
		return
	}
	c.path.Str(c.settings.LogFile)
}

func (c *Capturer) preamble(ev *sigaction.Event) *crashlog.Logger {
	return c.log.Str(c.settings.ProcessName).Str(".").Int(int64(ev.Pid)).
		Str(": Caught signal ").Int(int64(ev.Signo))
}

func (c *Capturer) dump() {
	if c.thread == nil || c.thread.FaultContext(&c.ctx) != nil {
		regdump.WriteUnavailable(c.log)
		return
	}
	regdump.Capture(&c.ctx, &c.snap)
	regdump.Write(c.log, &c.snap, c.settings.Verbose)

	c.region("code", c.ctx.PC(), CodeWords)
	if c.settings.Verbose {
		c.region("stack", c.ctx.SP(), c.settings.StackWords)
		if c.ctx.Fault.Addr != 0 {
			c.region("fault address", c.ctx.Fault.Addr, 1)
		}
	}
}

func (c *Capturer) region(label string, addr uint64, words int) {
	if words <= 0 || c.noProbe {
		return
	}
	c.log.Str("memory ").Str(label).Str(" at 0x").Hex(addr, 8).Str(" {").End()
	if _, err := c.guard.ReadRegion(addr, words, c.probe); err != nil {
		// the guard is gone, later regions would fault for real
		c.noProbe = true
		c.log.Line("  // capture stopped")
	}
	c.log.Line("}")
	c.log.Flush()
}

func (c *Capturer) word(addr, val uint64, ok bool) {
	c.log.Str("  0x").Hex(addr, 8).Str(": ")
	if !ok {
		c.log.Str("<unreadable>").End()
		return
	}
	c.log.Str("0x").Hex(val, 2*int(faultguard.WordSize)).End()
}

func (c *Capturer) debugWait() {
	if c.thread != nil && c.thread.Detach(unix.SIGSTOP) == nil {
		c.last.Detached = true
	}
	for atomic.LoadInt32(&stayInLoop) != 0 {
		runtime.Gosched()
	}
}

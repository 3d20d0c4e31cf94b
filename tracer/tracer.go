//go:build linux

// Package tracer runs a program under ptrace and hands every signal it
// receives to a Handler before the signal takes effect.
package tracer

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/regdump"
)

const DefaultPtraceOptions = unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_EXITKILL

const ptraceGetSigmask = 0x420a

// Handler decides what happens to a signal stop. It returns the signal to
// inject when the thread resumes, 0 to suppress it.
type Handler func(t *Thread, sig unix.Signal) unix.Signal

// Tracer traces one program and all of its threads.
type Tracer struct {
	Handler Handler
	// OnStart runs once the program is stopped after exec, before it
	// executes any instruction.
	OnStart func(pid int)

	pid      int
	threads  map[int]bool
	detached bool
}

// Run starts cmd traced and returns the wait status of its main thread.
// Cancelling ctx kills the program. Run locks the calling goroutine to its
// OS thread, as ptrace requests are only accepted from the tracer thread.
func (tr *Tracer) Run(ctx context.Context, cmd *exec.Cmd) (unix.WaitStatus, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Ptrace = true
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	defer cmd.Process.Release()

	tr.pid = cmd.Process.Pid
	tr.threads = map[int]bool{tr.pid: true}
	tr.detached = false

	var ws unix.WaitStatus
	if _, err := wait4(tr.pid, &ws); err != nil {
		return 0, err
	}
	if !ws.Stopped() {
		return ws, fmt.Errorf("tracer: pid %d did not stop after exec (status %#x)", tr.pid, uint32(ws))
	}
	if err := unix.PtraceSetOptions(tr.pid, DefaultPtraceOptions); err != nil {
		unix.Kill(tr.pid, unix.SIGKILL)
		return 0, fmt.Errorf("tracer: set options: %w", err)
	}
	if tr.OnStart != nil {
		tr.OnStart(tr.pid)
	}

	done := make(chan struct{})
	defer close(done)
	go func(pid int) {
		select {
		case <-ctx.Done():
			unix.Kill(pid, unix.SIGKILL)
		case <-done:
		}
	}(tr.pid)

	if err := unix.PtraceCont(tr.pid, 0); err != nil {
		return 0, fmt.Errorf("tracer: cont: %w", err)
	}
	return tr.loop()
}

func wait4(pid int, ws *unix.WaitStatus) (int, error) {
	for {
		wpid, err := unix.Wait4(pid, ws, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		return wpid, err
	}
}

func (tr *Tracer) loop() (unix.WaitStatus, error) {
	for {
		var ws unix.WaitStatus
		tid, err := wait4(-1, &ws)
		if err != nil {
			return ws, fmt.Errorf("tracer: wait: %w", err)
		}
		switch {
		case ws.Exited() || ws.Signaled():
			delete(tr.threads, tid)
			if tid == tr.pid {
				return ws, nil
			}
		case ws.Stopped():
			if tr.detached {
				continue
			}
			tr.stopped(tid, ws)
		}
	}
}

func (tr *Tracer) stopped(tid int, ws unix.WaitStatus) {
	sig := ws.StopSignal()
	if sig == unix.SIGTRAP && ws.TrapCause() > 0 {
		// clone and exec events
		unix.PtraceCont(tid, 0)
		return
	}
	if !tr.threads[tid] {
		tr.threads[tid] = true
		if sig == unix.SIGSTOP {
			unix.PtraceCont(tid, 0)
			return
		}
	}
	deliver := sig
	if tr.Handler != nil {
		deliver = tr.Handler(&Thread{tr: tr, tid: tid}, sig)
	}
	if tr.detached {
		return
	}
	unix.PtraceCont(tid, int(deliver))
}

// Thread is a traced thread in a signal-delivery stop.
type Thread struct {
	tr  *Tracer
	tid int
}

// Pid returns the thread group id.
func (t *Thread) Pid() int { return t.tr.pid }

// Tid returns the thread id.
func (t *Thread) Tid() int { return t.tid }

func ptrace(request int, tid int, addr, data uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_PTRACE, uintptr(request), uintptr(tid), addr, data, 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

type siginfo struct {
	Signo int32
	Errno int32
	Code  int32
	// the union starts pointer-aligned, right where Go places Addr
	Addr uintptr
	_    [128]byte
}

// FaultContext reads registers, siginfo and the blocked signal mask.
func (t *Thread) FaultContext(out *regdump.Context) error {
	if err := getRegs(t.tid, &out.Regs); err != nil {
		return fmt.Errorf("getregs: %w", err)
	}
	var si siginfo
	if err := ptrace(unix.PTRACE_GETSIGINFO, t.tid, 0, uintptr(unsafe.Pointer(&si))); err != nil {
		return fmt.Errorf("getsiginfo: %w", err)
	}
	out.Fault = regdump.FaultInfo{
		Signo: si.Signo,
		Errno: si.Errno,
		Code:  si.Code,
		Addr:  uint64(si.Addr),
	}
	out.SigMask = 0
	// PTRACE_GETSIGMASK needs linux 3.11; an old kernel only loses the mask.
	var mask uint64
	if err := ptrace(ptraceGetSigmask, t.tid, unsafe.Sizeof(mask), uintptr(unsafe.Pointer(&mask))); err == nil {
		out.SigMask = mask
	}
	return nil
}

// PeekWord reads one word of the thread's memory.
func (t *Thread) PeekWord(addr uint64) (uint64, error) {
	var word uintptr
	buf := (*[unsafe.Sizeof(word)]byte)(unsafe.Pointer(&word))
	if _, err := unix.PtracePeekData(t.tid, uintptr(addr), buf[:]); err != nil {
		return 0, err
	}
	return uint64(word), nil
}

// Detach releases every thread of the program. The stopped thread is left
// with sig pending and the others are stopped with SIGSTOP, so a debugger
// can attach to a frozen process. The tracer only waits for the program to
// exit afterwards.
func (t *Thread) Detach(sig unix.Signal) error {
	tr := t.tr
	var firstErr error
	for tid := range tr.threads {
		if tid == t.tid {
			continue
		}
		if err := unix.Tgkill(tr.pid, tid, unix.SIGSTOP); err != nil {
			continue
		}
		var ws unix.WaitStatus
		if _, err := wait4(tid, &ws); err != nil {
			continue
		}
		if err := ptrace(unix.PTRACE_DETACH, tid, 0, uintptr(unix.SIGSTOP)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := ptrace(unix.PTRACE_DETACH, t.tid, 0, uintptr(sig)); err != nil && firstErr == nil {
		firstErr = err
	}
	tr.detached = true
	return firstErr
}

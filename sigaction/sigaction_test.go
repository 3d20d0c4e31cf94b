package sigaction

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func TestDefaultDisposition(t *testing.T) {
	var tbl Table
	ev := Event{Signo: unix.SIGSEGV}
	if tbl.Deliver(unix.SIGSEGV, &ev) {
		t.Errorf("Deliver() on a default disposition must report false")
	}
	if tbl.Fault(unix.SIGSEGV, &ev) {
		t.Errorf("Fault() on a default disposition must report false")
	}
	if tbl.Deliver(0, &ev) || tbl.Deliver(NSIG, &ev) {
		t.Errorf("out of range signals must never be delivered")
	}
}

func TestInstallOnceResets(t *testing.T) {
	var tbl Table
	calls := 0
	tbl.InstallOnce(unix.SIGSEGV, func(*Event) { calls++ }, nil)

	ev := Event{Signo: unix.SIGSEGV}
	if !tbl.Deliver(unix.SIGSEGV, &ev) {
		t.Fatalf("first delivery must reach the handler")
	}
	if tbl.Deliver(unix.SIGSEGV, &ev) {
		t.Errorf("second delivery must fall through to the default disposition")
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
	if !tbl.Action(unix.SIGSEGV).IsDefault() {
		t.Errorf("disposition after a one-shot delivery is not the default")
	}
}

func TestInstallReturnsPrevious(t *testing.T) {
	var tbl Table
	first := func(*Event) {}
	tbl.Install(unix.SIGBUS, Action{Handler: first, Flags: SigInfo}, nil)

	var prev Action
	tbl.InstallOnce(unix.SIGBUS, func(*Event) {}, &prev)
	if prev.IsDefault() || prev.Flags != SigInfo {
		t.Errorf("previous disposition = %+v, want the first handler", prev)
	}

	tbl.Install(unix.SIGBUS, prev, nil)
	if got := tbl.Action(unix.SIGBUS).Flags; got != SigInfo {
		t.Errorf("restored flags = %v, want %v", got, SigInfo)
	}
}

func TestMaskDefersDelivery(t *testing.T) {
	var tbl Table
	var order []unix.Signal
	tbl.Install(unix.SIGUSR1, Action{Handler: func(*Event) { order = append(order, unix.SIGUSR1) }}, nil)
	tbl.InstallOnce(unix.SIGABRT, func(ev *Event) {
		order = append(order, unix.SIGABRT)
		if !tbl.Blocked().Has(unix.SIGUSR1) {
			t.Errorf("SIGUSR1 is not blocked inside a full-mask handler")
		}
		inner := Event{Signo: unix.SIGUSR1}
		if !tbl.Deliver(unix.SIGUSR1, &inner) {
			t.Errorf("blocked signal with a handler must be accepted")
		}
		if !tbl.Pending().Has(unix.SIGUSR1) {
			t.Errorf("blocked SIGUSR1 is not pending")
		}
	}, nil)

	ev := Event{Signo: unix.SIGABRT}
	tbl.Deliver(unix.SIGABRT, &ev)

	if diff := cmp.Diff([]unix.Signal{unix.SIGABRT, unix.SIGUSR1}, order); diff != "" {
		t.Errorf("delivery order mismatch (-want +got):\n%s", diff)
	}
	if tbl.Pending() != 0 || tbl.Blocked() != 0 {
		t.Errorf("pending=%x blocked=%x after the handler returned", tbl.Pending(), tbl.Blocked())
	}
}

func TestBlockedFaultFallsToDefault(t *testing.T) {
	var tbl Table
	faulted := false
	tbl.InstallOnce(unix.SIGSEGV, func(*Event) { faulted = true }, nil)
	tbl.InstallOnce(unix.SIGABRT, func(*Event) {
		ev := Event{Signo: unix.SIGSEGV}
		if tbl.Fault(unix.SIGSEGV, &ev) {
			t.Errorf("a fault blocked by the running handler must not be handled")
		}
	}, nil)

	ev := Event{Signo: unix.SIGABRT}
	tbl.Deliver(unix.SIGABRT, &ev)
	if faulted {
		t.Errorf("blocked fault reached its handler")
	}
	if !tbl.Action(unix.SIGSEGV).IsDefault() {
		t.Errorf("blocked fault must reset the disposition to the default")
	}
}

func TestUnblockedFaultInsideHandler(t *testing.T) {
	var tbl Table
	faults := 0
	tbl.InstallOnce(unix.SIGSEGV, func(ev *Event) {
		faults++
		*ev.PC += 4
	}, nil)
	tbl.Install(unix.SIGILL, Action{
		Handler: func(*Event) {
			pc := uint64(0x1000)
			ev := Event{Signo: unix.SIGSEGV, PC: &pc}
			if !tbl.Fault(unix.SIGSEGV, &ev) {
				t.Errorf("unblocked fault was not handled")
			}
			if pc != 0x1004 {
				t.Errorf("pc = %#x, want 0x1004", pc)
			}
		},
		Flags: SigInfo | ResetHand | NoDefer,
		Mask:  FullMask &^ Bit(unix.SIGSEGV),
	}, nil)

	ev := Event{Signo: unix.SIGILL}
	tbl.Deliver(unix.SIGILL, &ev)
	if faults != 1 {
		t.Errorf("faults = %d, want 1", faults)
	}
}

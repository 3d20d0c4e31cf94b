//go:build linux

// Package core diagnoses crashes of a traced program: every trapped signal
// runs the outer crash handler, which writes a crash log before the signal
// takes its default effect.
package core

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/archive"
	"github.com/liam-kelly/luna-sysmgr/bpfbacktracer"
	"github.com/liam-kelly/luna-sysmgr/configuration"
	"github.com/liam-kelly/luna-sysmgr/crashlog"
	"github.com/liam-kelly/luna-sysmgr/faultguard"
	"github.com/liam-kelly/luna-sysmgr/regdump"
	"github.com/liam-kelly/luna-sysmgr/report"
	"github.com/liam-kelly/luna-sysmgr/sigaction"
	"github.com/liam-kelly/luna-sysmgr/tracer"
)

// VerboseEnv turns verbose crash logging on from the program environment.
const VerboseEnv = "CRASH_VERBOSE_LOGGING"

// Thread is a stopped thread of the traced program.
type Thread interface {
	Pid() int
	Tid() int
	FaultContext(*regdump.Context) error
	PeekWord(addr uint64) (uint64, error)
	// Detach releases the program with sig pending on this thread.
	Detach(sig unix.Signal) error
}

var _ Thread = (*tracer.Thread)(nil)

// Settings are read while capturing and must not change once the program
// runs.
type Settings struct {
	ProcessName        string
	LogFile            string
	VerboseLogPrefix   string
	Verbose            bool
	LoopInCrashHandler bool
	StackWords         int
}

func SettingsFromConfig(cfg *configuration.Config) Settings {
	return Settings{
		ProcessName:        cfg.ProcessName,
		LogFile:            cfg.LogFile,
		VerboseLogPrefix:   cfg.VerboseLogPrefix,
		Verbose:            cfg.VerboseCrashLogging,
		LoopInCrashHandler: cfg.LoopInCrashHandler,
		StackWords:         cfg.StackWords,
	}
}

// Sentinel owns the dispositions of the traced program and runs the outer
// handler for every trapped signal.
type Sentinel struct {
	settings Settings
	table    sigaction.Table
	guard    *faultguard.Guard
	capturer *Capturer
}

// NewSentinel installs the outer handler for every signal in trapped.
func NewSentinel(s Settings, trapped []unix.Signal) *Sentinel {
	sn := &Sentinel{settings: s}
	sn.guard = faultguard.New(&sn.table, &faultguard.NestedFault)
	sn.capturer = newCapturer(&sn.settings, &sn.table, sn.guard)
	for _, sig := range trapped {
		sn.capturer.install(sig)
	}
	return sn
}

// Attach completes the settings from the started program. It must be
// called before the program runs.
func (sn *Sentinel) Attach(pi ProcessInfo) {
	if sn.settings.ProcessName == "" {
		sn.settings.ProcessName = pi.Comm()
	}
	if pi.Env().Bool(VerboseEnv) {
		sn.settings.Verbose = true
	}
}

// Settings returns the effective settings.
func (sn *Sentinel) Settings() Settings { return sn.settings }

// LastCapture returns the latest diagnosed crash.
func (sn *Sentinel) LastCapture() (Capture, string, bool) {
	if sn.capturer.episodes == 0 {
		return Capture{}, "", false
	}
	return sn.capturer.last, sn.capturer.Path(), true
}

// HandleSignal runs the disposition of sig for t and returns the signal to
// re-inject. A diagnosed signal is re-injected too: the program has no
// handler for it left, so it takes its default effect.
func (sn *Sentinel) HandleSignal(ctx context.Context, t Thread, sig unix.Signal) unix.Signal {
	sn.capturer.thread = t
	defer func() { sn.capturer.thread = nil }()

	episodes := sn.capturer.episodes
	ev := sigaction.Event{Signo: sig, Pid: t.Pid(), Tid: t.Tid()}
	started := time.Now()
	if !sn.table.Deliver(sig, &ev) || sn.capturer.episodes == episodes {
		return sig
	}
	sn.record(ctx, time.Since(started))
	if sn.capturer.last.Detached {
		return 0
	}
	return sig
}

func (sn *Sentinel) record(ctx context.Context, took time.Duration) {
	c := sn.capturer.last
	reporter := report.R(ctx)
	reporter.AddInt("signal", int64(c.Signal))
	reporter.AddInt("pid", int64(c.Pid))
	reporter.AddInt("tid", int64(c.Tid))
	reporter.AddInt("capture.faults", int64(c.Faults))
	reporter.AddBool("capture.nested_fault", faultguard.NestedFault.IsSet())
	reporter.AddDuration("capture.duration", took)
	if c.Logged {
		reporter.AddString("crashlog.path", sn.capturer.Path())
	} else {
		reporter.AddString("crashlog.status", "skipped")
	}
	if c.Detached {
		reporter.AddString("debug.state", "detached")
	}
	log.Printf("caught signal %d in %s.%d (tid %d), crash log %s", c.Signal, sn.settings.ProcessName, c.Pid, c.Tid, sn.capturer.Path())
}

// postCrashActions annotate the report once a diagnosed program is gone.
var postCrashActions = []ActionFunc{
	PackageVersionAction,
}

type Input struct {
	Cmd *exec.Cmd
	// OnStart runs once the program is loaded and stopped.
	OnStart func(pid int, name string)
}

// Run starts in.Cmd traced, diagnoses its crashes and returns its wait
// status once it is gone.
func Run(ctx context.Context, in Input, cfg *configuration.Config) (unix.WaitStatus, error) {
	reporter := report.R(ctx)
	signals, err := cfg.Signals()
	if err != nil {
		return 0, err
	}
	sn := NewSentinel(SettingsFromConfig(cfg), signals)
	fs := afero.NewOsFs()

	var pinfo ProcessInfo
	tr := tracer.Tracer{
		Handler: func(t *tracer.Thread, sig unix.Signal) unix.Signal {
			return sn.HandleSignal(ctx, t, sig)
		},
		OnStart: func(pid int) {
			pi, err := NewProcessInfo(ctx, pid, fs)
			if err != nil {
				log.Printf("process info of %d: %v", pid, err)
			} else {
				pinfo = pi
				sn.Attach(pi)
			}
			reporter.AddBool("crashlog.verbose", sn.settings.Verbose)
			if in.OnStart != nil {
				in.OnStart(pid, sn.settings.ProcessName)
			}
		},
	}
	ws, err := tr.Run(ctx, in.Cmd)
	if err != nil {
		return ws, fmt.Errorf("trace %s: %w", in.Cmd.Path, err)
	}
	reporter.AddString("exit.status", describe(ws))

	if c, path, ok := sn.LastCapture(); ok && c.Logged {
		if cfg.Backtrace.Enabled && ws.Signaled() {
			reporter.AddError("backtrace.error", appendBacktrace(path, c.Tid, cfg.Backtrace.MapPath))
		}
		if cfg.Archive.Dir != "" {
			if _, err := archive.New(fs).Store(ctx, path, sn.settings.ProcessName, c.Pid, cfg.Archive); err != nil {
				log.Printf("archive %s: %v", path, err)
			}
		}
		if pinfo != nil {
			for _, action := range postCrashActions {
				if err := action.Run(ctx, pinfo); err != nil {
					log.Println(err)
				}
			}
		}
	}
	return ws, nil
}

func describe(ws unix.WaitStatus) string {
	switch {
	case ws.Exited():
		return fmt.Sprintf("exited %d", ws.ExitStatus())
	case ws.Signaled() && ws.CoreDump():
		return fmt.Sprintf("killed by %v (core dumped)", ws.Signal())
	case ws.Signaled():
		return fmt.Sprintf("killed by %v", ws.Signal())
	default:
		return fmt.Sprintf("status %#x", uint32(ws))
	}
}

func appendBacktrace(path string, tid int, mapPath string) error {
	frames, err := bpfbacktracer.LoadFrames(mapPath)
	if err != nil {
		return err
	}
	defer frames.Close()
	bt, err := frames.Lookup(tid)
	if err != nil {
		return err
	}
	var p crashlog.Path
	p.Reset().Str(path)
	l := crashlog.New()
	if err := l.OpenAppend(&p); err != nil {
		return err
	}
	defer l.Close()
	bt.Write(l)
	return nil
}

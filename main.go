// Command crashsentinel runs a program and writes a crash log whenever it
// dies from a trapped signal.
//
//	crashsentinel [-cfg kind:path] [-x on|off] [-verbose] [-log path] -- program args...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/configuration"
	"github.com/liam-kelly/luna-sysmgr/configuration/configurator"
	_ "github.com/liam-kelly/luna-sysmgr/configuration/configurator/localfile"
	"github.com/liam-kelly/luna-sysmgr/core"
	"github.com/liam-kelly/luna-sysmgr/memstats"
	"github.com/liam-kelly/luna-sysmgr/report"
)

var (
	config    = flag.String("cfg", "embed:", "configuration source, one of "+strings.Join(configurator.Names(), ", ")+" as kind:path")
	debugTrap = flag.String("x", "", "debug trap (on/off): wait for a debugger after a crash")
	verbose   = flag.Bool("verbose", false, "verbose crash logging")
	logFile   = flag.String("log", "", "crash log path, overrides the configuration")
)

func SetUpLogger(w io.Writer, runID string) {
	log.SetOutput(w)
	log.SetPrefix(fmt.Sprintf("%v: ", runID))
}

func applyFlags(cfg *configuration.Config) error {
	switch strings.ToLower(*debugTrap) {
	case "":
	case "on":
		cfg.LoopInCrashHandler = true
	case "off":
		cfg.LoopInCrashHandler = false
	default:
		return fmt.Errorf("-x: want on or off, got %q", *debugTrap)
	}
	if *verbose {
		cfg.VerboseCrashLogging = true
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	return cfg.Validate()
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: crashsentinel [flags] -- program args...")
		flag.PrintDefaults()
		os.Exit(2)
	}
	runID := uuid.NewString()
	reporter := report.New()
	reporter.AddString("run.id", runID)
	ctx := report.WithReport(context.Background(), reporter)

	cfg, err := configurator.Load(ctx, *config)
	if err != nil {
		log.Fatalf("%v", err)
	}
	if err := applyFlags(cfg); err != nil {
		log.Fatalf("%v", err)
	}
	f, err := os.OpenFile(cfg.SentinelLog, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Println(err)
		SetUpLogger(io.Discard, runID)
	} else {
		SetUpLogger(f, runID)
	}
	sink := &report.LogBasedReporter{Logger: log.Default()}
	log.Printf("Start %s", strings.Join(flag.Args(), " "))

	cmd := exec.Command(flag.Arg(0), flag.Args()[1:]...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	ws, err := run(ctx, cmd, cfg)
	if err != nil {
		log.Println(err)
		reporter.AddError("core.run.error", err)
	}
	reporter.Report(sink)
	if f != nil {
		f.Close()
	}
	exitLike(ws, err)
}

// run traces cmd next to the memory sampler and a forwarder of termination
// requests. The program exiting stops both.
func run(ctx context.Context, cmd *exec.Cmd, cfg *configuration.Config) (unix.WaitStatus, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	type started struct {
		pid  int
		name string
	}
	startc := make(chan started, 1)

	var ws unix.WaitStatus
	g.Go(func() error {
		defer cancel()
		var err error
		ws, err = core.Run(ctx, core.Input{
			Cmd: cmd,
			OnStart: func(pid int, name string) {
				startc <- started{pid, name}
			},
		}, cfg)
		return err
	})

	g.Go(func() error {
		var st started
		select {
		case st = <-startc:
		case <-ctx.Done():
			return nil
		}
		g.Go(func() error { return forwardSignals(ctx, st.pid) })
		interval := cfg.MallocStats.Interval()
		if interval == 0 {
			return nil
		}
		out, err := memstats.OpenFile(cfg.MallocStats.File)
		if err != nil {
			// missing stats are not worth failing the program for
			log.Printf("malloc stats: %v", err)
			return nil
		}
		defer out.Close()
		sampler := memstats.Sampler{
			Fs:       afero.NewOsFs(),
			Out:      out,
			Pid:      st.pid,
			Name:     st.name,
			Interval: interval,
		}
		return sampler.Run(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return ws, err
}

// forwardSignals passes SIGINT and SIGTERM to the program.
func forwardSignals(ctx context.Context, pid int) error {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-sigc:
			log.Printf("forwarding %v to %d", sig, pid)
			unix.Kill(pid, sig.(syscall.Signal))
		}
	}
}

// exitLike ends the sentinel the way the program ended.
func exitLike(ws unix.WaitStatus, err error) {
	switch {
	case err != nil:
		os.Exit(1)
	case ws.Exited():
		os.Exit(ws.ExitStatus())
	case ws.Signaled():
		dieBy(ws.Signal())
		os.Exit(128 + int(ws.Signal()))
	default:
		os.Exit(1)
	}
}

// dieBy raises sig with the kernel's default action. The Go runtime keeps
// its own handlers for SIGSEGV, SIGABRT and friends whatever os/signal
// says, so the disposition is reset with a raw rt_sigaction first.
func dieBy(sig unix.Signal) {
	runtime.LockOSThread()
	// no core of the sentinel itself
	unix.Setrlimit(unix.RLIMIT_CORE, &unix.Rlimit{})

	// a zeroed struct sigaction is SIG_DFL with no flags and an empty mask
	var dfl [4]uint64
	unix.RawSyscall6(unix.SYS_RT_SIGACTION, uintptr(sig), uintptr(unsafe.Pointer(&dfl)), 0, 8, 0, 0)
	set := uint64(1) << (uint(sig) - 1)
	unix.RawSyscall6(unix.SYS_RT_SIGPROCMASK, unix.SIG_UNBLOCK, uintptr(unsafe.Pointer(&set)), 0, 8, 0, 0)

	unix.Tgkill(unix.Getpid(), unix.Gettid(), sig)
	// ignored signals land here
	time.Sleep(100 * time.Millisecond)
}

// Command crashsentinelbpf keeps the do_coredump kprobe loaded so the
// sentinel can add kernel backtraces to crash logs.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/bpfbacktracer"
)

var pinPath = flag.String("pin", bpfbacktracer.DefaultMapPath, "where to pin the frames map")

func main() {
	flag.Parse()
	stopper := make(chan os.Signal, 1)
	signal.Notify(stopper, os.Interrupt, syscall.SIGTERM)

	if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &unix.Rlimit{
		Cur: unix.RLIM_INFINITY,
		Max: unix.RLIM_INFINITY,
	}); err != nil {
		log.Fatalf("setting temporary rlimit: %s", err)
	}
	b, err := bpfbacktracer.NewBPFBacktracer(*pinPath)
	if err != nil {
		log.Fatalf("bpfbacktracer.New failed: %v", err)
	}
	defer b.Close()
	log.Printf("Stand by... Keeping KProbe alive, frames pinned at %s", *pinPath)
	<-stopper
}

//go:build linux

// Package bpfbacktracer records the innermost user frames of every thread
// that enters the kernel core dump path, so the sentinel can print where a
// program died even when its memory was already torn down.
package bpfbacktracer

import (
	"bytes"
	"encoding"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/link"
	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/crashlog"
)

const (
	FramesMapName  = "crashsentinel_frames"
	DefaultMapPath = "/sys/fs/bpf/" + FramesMapName
	FramesNumber   = 4
)

// ErrNoFrames is returned when the map has nothing for a thread.
var ErrNoFrames = errors.New("no frames recorded")

var framesMapSpec = &ebpf.MapSpec{
	Name:       FramesMapName,
	Type:       ebpf.Hash,
	KeySize:    4,                // u32 TID
	ValueSize:  FramesNumber * 8, // 4 frames
	MaxEntries: 128,
}

type BpfBacktracer struct {
	framesMap *ebpf.Map
	prog      *ebpf.Program
	link      link.Link
}

/*
	BCC version of the program:
prog.c
```
#include <uapi/linux/ptrace.h>
#include <linux/sched.h>

struct data_t {
    u64 stacks[4];
};

BPF_HASH(crashsentinel_frames, u32, struct data_t, 128);

void trace_stack(struct pt_regs *ctx) {
    u32 tid = bpf_get_current_pid_tgid();
    struct data_t data = {};
    u64 ret = bpf_get_stack(ctx, data.stacks, sizeof(data.stacks), BPF_F_USER_STACK);
    if (ret > 0) {
        crashsentinel_frames.update(&tid, &data);
    }
}
```
*/
// NewBPFBacktracer creates the frames map, pins it at pinPath and attaches
// the kprobe on do_coredump.
func NewBPFBacktracer(pinPath string) (*BpfBacktracer, error) {
	framesMap, err := ebpf.NewMap(framesMapSpec)
	if err != nil {
		return nil, err
	}
	if err := framesMap.Pin(pinPath); err != nil {
		framesMap.Close()
		return nil, fmt.Errorf("pin %s: %w", pinPath, err)
	}
	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Name:         "crashsentinel_frames",
		Type:         ebpf.Kprobe,
		License:      "GPL",
		Instructions: instructions(framesMap.FD()),
	})
	if err != nil {
		framesMap.Unpin()
		framesMap.Close()
		return nil, err
	}
	kprobe, err := link.Kprobe("do_coredump", prog)
	if err != nil {
		framesMap.Unpin()
		framesMap.Close()
		prog.Close()
		return nil, err
	}
	return &BpfBacktracer{
		framesMap: framesMap,
		prog:      prog,
		link:      kprobe,
	}, nil
}

func instructions(mapFD int) asm.Instructions {
	return asm.Instructions{
		// r6 = r1
		asm.Mov.Reg(asm.R6, asm.R1),
		// call bpf_get_current_pid_tgid#14
		asm.FnGetCurrentPidTgid.Call(),
		// *(u32*)(r10 -4) = r0
		asm.StoreMem(asm.R10, -4, asm.R0, asm.Word),
		// zero the frames on the stack
		asm.Mov.Imm(asm.R1, 0),
		asm.StoreMem(asm.RFP, -16, asm.R1, asm.DWord),
		asm.StoreMem(asm.RFP, -24, asm.R1, asm.DWord),
		asm.StoreMem(asm.RFP, -32, asm.R1, asm.DWord),
		asm.StoreMem(asm.RFP, -40, asm.R1, asm.DWord),
		// bpf_get_stack(ctx, r10-40, 32, BPF_F_USER_STACK)
		asm.Mov.Reg(asm.R2, asm.R10),
		asm.Add.Imm(asm.R2, -40),
		asm.Mov.Reg(asm.R1, asm.R6),
		asm.Mov.Imm(asm.R3, FramesNumber*8),
		asm.Mov.Imm(asm.R4, unix.BPF_F_USER_STACK),
		asm.FnGetStack.Call(),
		// keep the low 32 bits and bail out on nothing copied
		asm.LSh.Imm(asm.R0, 32),
		asm.RSh.Imm(asm.R0, 32),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		// bpf_map_update_elem(map, r10-4, r10-40, BPF_ANY)
		asm.LoadMapPtr(asm.R1, mapFD),
		asm.Mov.Reg(asm.R2, asm.R10),
		asm.Add.Imm(asm.R2, -4),
		asm.Mov.Reg(asm.R3, asm.R10),
		asm.Add.Imm(asm.R3, -40),
		asm.Mov.Imm(asm.R4, unix.BPF_ANY),
		asm.FnMapUpdateElem.Call(),
		asm.Mov.Imm(asm.R0, 0).Sym("exit"),
		asm.Return(),
	}
}

func (b *BpfBacktracer) Close() error {
	b.link.Close()
	b.prog.Close()
	b.framesMap.Unpin()
	b.framesMap.Close()
	return nil
}

type Key uint32

type Backtrace struct {
	Vaddrs [FramesNumber]uint64
}

func (b *Backtrace) UnmarshalBinary(buf []byte) error {
	return binary.Read(bytes.NewReader(buf), binary.LittleEndian, &b.Vaddrs)
}

var (
	_ encoding.BinaryUnmarshaler = (*Backtrace)(nil)
)

// Write appends a "kernel backtrace" block to l. Zero frames are the unused
// tail and are not printed.
func (b *Backtrace) Write(l *crashlog.Logger) {
	l.Line("kernel backtrace {")
	for i, pc := range b.Vaddrs {
		if pc == 0 {
			break
		}
		l.Str("  #").Int(int64(i)).Str(" 0x").Hex(pc, 8).End()
	}
	l.Line("}")
	l.Flush()
}

// Frames is a read-only view of a pinned frames map.
type Frames struct {
	m *ebpf.Map
}

func LoadFrames(path string) (*Frames, error) {
	m, err := ebpf.LoadPinnedMap(path, &ebpf.LoadPinOptions{
		ReadOnly: true,
	})
	if err != nil {
		return nil, err
	}
	return &Frames{m: m}, nil
}

// Lookup returns the frames recorded for tid.
func (f *Frames) Lookup(tid int) (Backtrace, error) {
	var bt Backtrace
	if err := f.m.Lookup(Key(tid), &bt); err != nil {
		if errors.Is(err, ebpf.ErrKeyNotExist) {
			return bt, ErrNoFrames
		}
		return bt, err
	}
	return bt, nil
}

func (f *Frames) Close() error {
	return f.m.Close()
}

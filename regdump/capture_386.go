//go:build linux

package regdump

import "golang.org/x/sys/unix"

// Registers is the register file as returned by PTRACE_GETREGS.
type Registers = unix.PtraceRegs

func u32(v int32) uint64 { return uint64(uint32(v)) }

// Capture fills s from ctx.
func Capture(ctx *Context, s *Snapshot) {
	r := &ctx.Regs
	gregs := x86Regs{
		u32(r.Xgs), u32(r.Xfs), u32(r.Xes), u32(r.Xds),
		u32(r.Edi), u32(r.Esi), u32(r.Ebp), u32(r.Esp),
		u32(r.Ebx), u32(r.Edx), u32(r.Ecx), u32(r.Eax),
		u32(ctx.Fault.Code), u32(ctx.Fault.Errno), u32(r.Eip),
		u32(r.Xcs), u32(r.Eflags), u32(r.Esp), u32(r.Xss),
	}
	fillX86(s, &gregs)
}

// PC returns the program counter.
func (c *Context) PC() uint64 { return u32(c.Regs.Eip) }

// SP returns the stack pointer.
func (c *Context) SP() uint64 { return u32(c.Regs.Esp) }

//go:build linux

package regdump

import "golang.org/x/sys/unix"

// Registers is the register file as returned by PTRACE_GETREGS.
type Registers = unix.PtraceRegs

// Capture fills s from ctx.
func Capture(ctx *Context, s *Snapshot) {
	fillARM(s, &ctx.Regs.Uregs, &ctx.Fault, ctx.SigMask)
}

// PC returns the program counter.
func (c *Context) PC() uint64 { return uint64(c.Regs.Uregs[armPC]) }

// SP returns the stack pointer.
func (c *Context) SP() uint64 { return uint64(c.Regs.Uregs[armSP]) }

//go:build linux

package regdump

import "golang.org/x/sys/unix"

// Registers is the NT_PRSTATUS register set.
type Registers = unix.PtraceRegs

// Capture fills s from ctx.
func Capture(ctx *Context, s *Snapshot) {
	r := &ctx.Regs
	fillARM64(s, &r.Regs, r.Sp, r.Pc, r.Pstate, &ctx.Fault, ctx.SigMask)
}

// PC returns the program counter.
func (c *Context) PC() uint64 { return c.Regs.Pc }

// SP returns the stack pointer.
func (c *Context) SP() uint64 { return c.Regs.Sp }

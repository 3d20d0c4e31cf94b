//go:build linux

package regdump

import "golang.org/x/sys/unix"

// Registers is the register file as returned by PTRACE_GETREGS.
type Registers = unix.PtraceRegs

// Capture fills s from ctx.
func Capture(ctx *Context, s *Snapshot) {
	r := &ctx.Regs
	gregs := x8664Regs{
		r.R8, r.R9, r.R10, r.R11, r.R12, r.R13, r.R14, r.R15,
		r.Rdi, r.Rsi, r.Rbp, r.Rbx, r.Rdx, r.Rax, r.Rcx, r.Rsp,
		r.Rip, r.Eflags, csgsfs(r.Cs, r.Gs, r.Fs),
		uint64(uint32(ctx.Fault.Errno)), uint64(uint32(ctx.Fault.Code)),
		ctx.SigMask, ctx.Fault.Addr,
	}
	fillX8664(s, &gregs)
}

// PC returns the program counter.
func (c *Context) PC() uint64 { return c.Regs.Rip }

// SP returns the stack pointer.
func (c *Context) SP() uint64 { return c.Regs.Rsp }

//go:build linux && !(amd64 || 386 || arm || arm64)

package regdump

// Registers is empty on architectures without a register table.
type Registers struct{}

// Capture leaves s without registers.
func Capture(ctx *Context, s *Snapshot) {
	s.reset(Named, 64)
	fillFaultMeta(s, &ctx.Fault, ctx.SigMask)
	s.public("fault_address", ctx.Fault.Addr)
}

// PC is unknown here.
func (c *Context) PC() uint64 { return 0 }

// SP is unknown here.
func (c *Context) SP() uint64 { return 0 }

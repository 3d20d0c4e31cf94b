//go:build linux

package regdump

// Register order of ucontext gregs on x86-64.
var x8664Names = [...]string{
	"R8", "R9", "R10", "R11", "R12", "R13", "R14", "R15",
	"RDI", "RSI", "RBP", "RBX", "RDX", "RAX", "RCX", "RSP",
	"RIP", "EFL", "CSGSFS", "ERR", "TRAPNO", "OLDMASK", "CR2",
}

// Register order of ucontext gregs on i386.
var x86Names = [...]string{
	"GS", "FS", "ES", "DS", "EDI", "ESI", "EBP", "ESP",
	"EBX", "EDX", "ECX", "EAX", "TRAPNO", "ERR", "EIP",
	"CS", "EFL", "UESP", "SS",
}

// x8664Regs are the general registers in x8664Names order. ERR, TRAPNO,
// OLDMASK and CR2 are taken from the fault, not from the register file.
type x8664Regs [len(x8664Names)]uint64

type x86Regs [len(x86Names)]uint64

func fillX8664(s *Snapshot, gregs *x8664Regs) {
	s.reset(Indexed, 64)
	for i, name := range x8664Names {
		s.public(name, gregs[i])
	}
}

func fillX86(s *Snapshot, gregs *x86Regs) {
	s.reset(Indexed, 32)
	for i, name := range x86Names {
		s.public(name, gregs[i])
	}
}

// csgsfs packs the segment selectors the way ucontext stores them.
func csgsfs(cs, gs, fs uint64) uint64 {
	return cs&0xffff | (gs&0xffff)<<16 | (fs&0xffff)<<32
}

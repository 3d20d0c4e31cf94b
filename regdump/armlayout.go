//go:build linux

package regdump

var armSensitiveNames = [...]string{
	"arm_r0", "arm_r1", "arm_r2", "arm_r3", "arm_r4", "arm_r5",
	"arm_r6", "arm_r7", "arm_r8", "arm_r9", "arm_r10", "arm_fp", "arm_ip",
}

var arm64SensitiveNames = [...]string{
	"x0", "x1", "x2", "x3", "x4", "x5", "x6", "x7", "x8", "x9",
	"x10", "x11", "x12", "x13", "x14", "x15", "x16", "x17", "x18", "x19",
	"x20", "x21", "x22", "x23", "x24", "x25", "x26", "x27", "x28", "fp",
}

// Indices into the 32-bit ARM uregs array.
const (
	armSP   = 13
	armLR   = 14
	armPC   = 15
	armCPSR = 16
)

func fillFaultMeta(s *Snapshot, f *FaultInfo, mask uint64) {
	s.public("trap_no", uint64(uint32(f.Code)))
	s.public("error_code", uint64(uint32(f.Errno)))
	s.public("oldmask", mask)
}

func fillARM(s *Snapshot, uregs *[18]uint32, f *FaultInfo, mask uint64) {
	s.reset(Named, 32)
	fillFaultMeta(s, f, mask)
	s.public("arm_sp", uint64(uregs[armSP]))
	s.public("arm_lr", uint64(uregs[armLR]))
	s.public("arm_pc", uint64(uregs[armPC]))
	s.public("arm_cpsr", uint64(uregs[armCPSR]))
	s.public("fault_address", f.Addr)
	for i, name := range armSensitiveNames {
		s.sensitive(name, uint64(uregs[i]))
	}
}

func fillARM64(s *Snapshot, regs *[31]uint64, sp, pc, pstate uint64, f *FaultInfo, mask uint64) {
	s.reset(Named, 64)
	fillFaultMeta(s, f, mask)
	s.public("sp", sp)
	s.public("lr", regs[30])
	s.public("pc", pc)
	s.public("pstate", pstate)
	s.public("fault_address", f.Addr)
	for i, name := range arm64SensitiveNames {
		s.sensitive(name, regs[i])
	}
}

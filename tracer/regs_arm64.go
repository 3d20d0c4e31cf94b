//go:build linux

package tracer

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/regdump"
)

const ntPrstatus = 1

// arm64 has no PTRACE_GETREGS; the general registers come as a regset.
func getRegs(tid int, out *regdump.Registers) error {
	iov := unix.Iovec{Base: (*byte)(unsafe.Pointer(out))}
	iov.SetLen(int(unsafe.Sizeof(*out)))
	return ptrace(unix.PTRACE_GETREGSET, tid, ntPrstatus, uintptr(unsafe.Pointer(&iov)))
}

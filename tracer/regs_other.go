//go:build linux && !(amd64 || 386 || arm || arm64)

package tracer

import (
	"golang.org/x/sys/unix"

	"github.com/liam-kelly/luna-sysmgr/regdump"
)

func getRegs(tid int, out *regdump.Registers) error {
	return unix.ENOTSUP
}

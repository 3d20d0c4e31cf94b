//go:build linux

package regdump

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/liam-kelly/luna-sysmgr/crashlog"
)

func render(t *testing.T, s *Snapshot, verbose bool) string {
	t.Helper()
	name := filepath.Join(t.TempDir(), "regs.log")
	var p crashlog.Path
	l := crashlog.New()
	if err := l.Open(p.Str(name)); err != nil {
		t.Fatalf("Open(%s) returned an error %v", name, err)
	}
	Write(l, s, verbose)
	l.Close()
	body, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile(%s) returned an error %v", name, err)
	}
	return string(body)
}

func armSnapshot() *Snapshot {
	var uregs [18]uint32
	for i := range uregs {
		uregs[i] = uint32(0x100 + i)
	}
	var s Snapshot
	fillARM(&s, &uregs, &FaultInfo{Signo: 11, Code: 1, Addr: 0xdeadbeef}, 0)
	return &s
}

const armPublicBlock = `reg context {
  // non-sensitive register content:
  trap_no       = 0x00000001 1
  error_code    = 0x00000000 0
  oldmask       = 0x00000000 0
  arm_sp        = 0x0000010d 269
  arm_lr        = 0x0000010e 270
  arm_pc        = 0x0000010f 271
  arm_cpsr      = 0x00000110 272
  fault_address = 0xdeadbeef -559038737
}
`

func TestARMQuietDump(t *testing.T) {
	got := render(t, armSnapshot(), false)
	if diff := cmp.Diff(armPublicBlock, got); diff != "" {
		t.Errorf("ARM register block mismatch (-want +got):\n%s", diff)
	}
	for _, name := range armSensitiveNames {
		if strings.Contains(got, name) {
			t.Errorf("quiet dump leaks %s", name)
		}
	}
}

func TestARMVerboseDump(t *testing.T) {
	got := render(t, armSnapshot(), true)
	want := strings.TrimSuffix(armPublicBlock, "}\n") +
		"  arm_r0        = 0x00000100 256\n" +
		"  arm_r1        = 0x00000101 257\n" +
		"  arm_r2        = 0x00000102 258\n" +
		"  arm_r3        = 0x00000103 259\n" +
		"  arm_r4        = 0x00000104 260\n" +
		"  arm_r5        = 0x00000105 261\n" +
		"  arm_r6        = 0x00000106 262\n" +
		"  arm_r7        = 0x00000107 263\n" +
		"  arm_r8        = 0x00000108 264\n" +
		"  arm_r9        = 0x00000109 265\n" +
		"  arm_r10       = 0x0000010a 266\n" +
		"  arm_fp        = 0x0000010b 267\n" +
		"  arm_ip        = 0x0000010c 268\n" +
		"}\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("verbose ARM register block mismatch (-want +got):\n%s", diff)
	}
}

func TestARM64Gate(t *testing.T) {
	var regs [31]uint64
	for i := range regs {
		regs[i] = uint64(i)
	}
	var s Snapshot
	fillARM64(&s, &regs, 0x7ff0, 0x400000, 0x60000000, &FaultInfo{Signo: 7}, 1<<10)

	quiet := render(t, &s, false)
	if strings.Contains(quiet, "x0 ") || strings.Contains(quiet, "  fp ") {
		t.Errorf("quiet ARM64 dump leaks general purpose registers:\n%s", quiet)
	}
	for _, line := range []string{
		"  lr            = 0x0000001e 30\n",
		"  pc            = 0x00400000 4194304\n",
		"  oldmask       = 0x00000400 1024\n",
	} {
		if !strings.Contains(quiet, line) {
			t.Errorf("quiet ARM64 dump is missing %q", line)
		}
	}

	verbose := render(t, &s, true)
	if !strings.Contains(verbose, "  x28           = 0x0000001c 28\n") {
		t.Errorf("verbose ARM64 dump is missing x28:\n%s", verbose)
	}
}

func TestX8664Order(t *testing.T) {
	var gregs x8664Regs
	for i := range gregs {
		gregs[i] = uint64(i)
	}
	var s Snapshot
	fillX8664(&s, &gregs)
	got := strings.Split(strings.TrimSuffix(render(t, &s, false), "\n"), "\n")

	if len(got) != len(x8664Names)+2 {
		t.Fatalf("dump has %d lines, want %d", len(got), len(x8664Names)+2)
	}
	if got[0] != "reg context {" || got[len(got)-1] != "}" {
		t.Errorf("block is not framed: first=%q last=%q", got[0], got[len(got)-1])
	}
	for idx, want := range map[int]string{
		0:  "   0       R8 = 0x00000000 0",
		15: "  15      RSP = 0x0000000f 15",
		16: "  16      RIP = 0x00000010 16",
		22: "  22      CR2 = 0x00000016 22",
	} {
		if diff := cmp.Diff(want, got[idx+1]); diff != "" {
			t.Errorf("register %d mismatch (-want +got):\n%s", idx, diff)
		}
	}
}

func TestX86EveryRegisterIgnoresVerbose(t *testing.T) {
	var gregs x86Regs
	var s Snapshot
	fillX86(&s, &gregs)
	if diff := cmp.Diff(render(t, &s, false), render(t, &s, true)); diff != "" {
		t.Errorf("x86 dump depends on verbose (-quiet +verbose):\n%s", diff)
	}
	if s.NPublic != len(x86Names) {
		t.Errorf("NPublic = %d, want %d", s.NPublic, len(x86Names))
	}
}

func TestCSGSFS(t *testing.T) {
	if got := csgsfs(0x33, 0, 0x2b); got != 0x2b00000033 {
		t.Errorf("csgsfs = %#x, want 0x2b00000033", got)
	}
}

func TestUnavailable(t *testing.T) {
	name := filepath.Join(t.TempDir(), "regs.log")
	var p crashlog.Path
	l := crashlog.New()
	if err := l.Open(p.Str(name)); err != nil {
		t.Fatal(err)
	}
	WriteUnavailable(l)
	l.Close()
	body, _ := os.ReadFile(name)
	if diff := cmp.Diff("reg context {\n  // unavailable\n}\n", string(body)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

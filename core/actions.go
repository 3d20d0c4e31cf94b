//go:build linux

package core

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"strings"
	"syscall"

	"github.com/liam-kelly/luna-sysmgr/report"
)

type ActionFunc func(context.Context, ProcessInfo) error

func (af ActionFunc) Run(ctx context.Context, pinfo ProcessInfo) error {
	return af(ctx, pinfo)
}

const (
	dpkgExe      = "/usr/bin/dpkg"
	dpkgQueryExe = "/usr/bin/dpkg-query"

	rpmExe = "/usr/bin/rpm"
)

// packageQuery resolves the package owning an executable.
type packageQuery struct {
	tool  string
	query func(ctx context.Context, exe string) (string, error)
}

var packageQueries = []packageQuery{
	{dpkgExe, dpkgPackageVersion},
	{rpmExe, rpmPackageVersion},
}

// runAsNobody runs name with args under the nobody account and returns its
// standard output.
var runAsNobody = func(ctx context.Context, name string, args ...string) ([]byte, error) {
	creds, err := getNobodyCredentials()
	if err != nil {
		return nil, err
	}
	// NOTE: $PATH is empty. Specify absolute path to an executable.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Pdeathsig:  syscall.SIGKILL,
		Credential: creds,
	}
	output, err := cmd.Output()
	if err, ok := err.(*exec.ExitError); ok {
		log.Printf("%s: %s", name, err.Stderr)
	}
	return output, err
}

var fileExists = func(file string) bool {
	_, err := os.Stat(file)
	return err == nil
}

// PackageVersionAction records the package and version of the crashed
// binary. Failures are logged and not returned, the report is complete
// without it.
func PackageVersionAction(ctx context.Context, pinfo ProcessInfo) error {
	exe := pinfo.Executable()
	if exe == "" || pinfo.IsBinaryDeleted() {
		return nil
	}
	log.Printf("Detecting package name and version for %s", exe)
	for _, pq := range packageQueries {
		if !fileExists(pq.tool) {
			continue
		}
		nameAndVersion, err := pq.query(ctx, exe)
		if err != nil {
			log.Println(err)
			return nil
		}
		report.R(ctx).AddString("package.name", nameAndVersion)
		return nil
	}
	log.Println("Package detection is not supported for the system")
	return nil
}

func dpkgPackageVersion(ctx context.Context, exe string) (string, error) {
	output, err := runAsNobody(ctx, dpkgExe, "-S", exe)
	if err != nil {
		return "", err
	}
	pkg, err := dpkgOwner(output)
	if err != nil {
		return "", err
	}
	nameAndVersion, err := runAsNobody(ctx, dpkgQueryExe, "-W", "-f=${Package}-${Version}", pkg)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(nameAndVersion)), nil
}

// dpkgOwner extracts the package from "pkg[:arch]: /path" as printed by
// dpkg -S.
func dpkgOwner(output []byte) (string, error) {
	delimPos := bytes.Index(output, []byte(": "))
	if delimPos <= 0 {
		return "", fmt.Errorf("dpkg -S output is malformed: %q", output)
	}
	// several packages may share a path, the first one owns the binary
	pkg, _, _ := strings.Cut(string(output[:delimPos]), ",")
	return strings.TrimSpace(pkg), nil
}

func rpmPackageVersion(ctx context.Context, exe string) (string, error) {
	nameAndVersion, err := runAsNobody(ctx, rpmExe, "-qf", exe)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(nameAndVersion)), nil
}

func getNobodyCredentials() (*syscall.Credential, error) {
	nobody, err := user.Lookup("nobody")
	if err != nil {
		return nil, err
	}
	nobodyUid, err := strconv.Atoi(nobody.Uid)
	if err != nil {
		return nil, err
	}
	nobodyGid, err := strconv.Atoi(nobody.Gid)
	if err != nil {
		return nil, err
	}

	return &syscall.Credential{
		Uid: uint32(nobodyUid),
		Gid: uint32(nobodyGid),
	}, nil
}

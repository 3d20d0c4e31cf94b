//go:build linux

package core

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/liam-kelly/luna-sysmgr/report"
	"github.com/liam-kelly/luna-sysmgr/utils/buildid"
	"github.com/liam-kelly/luna-sysmgr/utils/environ"
)

// ProcessInfo describes the traced program as it was right after exec.
type ProcessInfo interface {
	Pid() int
	// Comm is the kernel name of the process, at most 15 bytes.
	Comm() string
	Executable() string
	IsBinaryDeleted() bool
	Env() environ.Environ
}

type processInfoImpl struct {
	pid               int
	comm              string
	cmdline           string
	executable        string
	executableDeleted bool
	env               environ.Environ
}

const (
	deletedBinarySuffix = " (deleted)"
)

func NewProcessInfo(ctx context.Context, pid int, filesystem afero.Fs) (ProcessInfo, error) {
	pi := processInfoImpl{
		pid: pid,
	}
	reporter := report.R(ctx)

	procFs := afero.NewBasePathFs(filesystem, fmt.Sprintf("/proc/%d", pid))
	comm, err := afero.ReadFile(procFs, "comm")
	if err != nil {
		return nil, err
	}
	pi.comm = strings.TrimSpace(string(comm))
	reporter.AddString("comm", pi.comm)

	if cmdline, err := afero.ReadFile(procFs, "cmdline"); err == nil {
		pi.cmdline = string(bytes.ReplaceAll(bytes.TrimRight(cmdline, "\x00"), []byte{0}, []byte{' '}))
		reporter.AddString("cmdline", pi.cmdline)
	}

	// ignore error. Not every afero.Fs can read links
	if linkReader, ok := procFs.(afero.LinkReader); ok {
		pi.executable, _ = linkReader.ReadlinkIfPossible("exe")
		pi.executableDeleted = strings.HasSuffix(pi.executable, deletedBinarySuffix)
		pi.executable = strings.TrimSuffix(pi.executable, deletedBinarySuffix)
	}
	if pi.executable != "" {
		reporter.AddString("binary", filepath.Base(pi.executable))
		reporter.AddBool("binary.deleted", pi.executableDeleted)
	}

	if id, err := extractBuildID(procFs); err != nil {
		log.Printf("build id of %d: %v", pid, err)
	} else {
		reporter.AddString("binary.buildid", id)
	}

	environFile, err := procFs.Open("environ")
	if err != nil {
		return nil, err
	}
	defer environFile.Close()
	pi.env = environ.New(environFile)
	return &pi, nil
}

func (p *processInfoImpl) Pid() int { return p.pid }

func (p *processInfoImpl) Comm() string { return p.comm }

func (p *processInfoImpl) Executable() string { return p.executable }

func (p *processInfoImpl) IsBinaryDeleted() bool {
	return p.executableDeleted
}

func (p *processInfoImpl) Env() environ.Environ {
	return p.env
}

func extractBuildID(procFs afero.Fs) (string, error) {
	exe, err := procFs.Open("exe")
	if err != nil {
		return "", err
	}
	defer exe.Close()
	return buildid.FromReader(exe)
}

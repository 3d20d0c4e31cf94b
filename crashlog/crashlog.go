//go:build linux

// Package crashlog writes crash reports to a raw file descriptor.
//
// Everything here runs while a crash is being captured, so the Logger never
// grows a buffer, never takes a lock and never goes through fmt. Lines are
// assembled in a fixed-size array and emitted with a single write(2).
// Write errors are dropped: there is nowhere safe to report them.
package crashlog

import (
	"strconv"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// LineSize is the largest line the Logger emits, newline included.
	// Longer lines are truncated.
	LineSize = 512
	// PathSize bounds the crash log path, terminating NUL included.
	PathSize = 256
)

// Path is a NUL-terminated file path assembled in place.
type Path struct {
	b        [PathSize]byte
	n        int
	overflow bool
}

// Reset empties the path.
func (p *Path) Reset() *Path {
	p.n = 0
	p.overflow = false
	return p
}

// Str appends s.
func (p *Path) Str(s string) *Path {
	if p.n+len(s) > PathSize-1 {
		p.overflow = true
	}
	p.n += copy(p.b[p.n:PathSize-1], s)
	return p
}

// Int appends v in decimal.
func (p *Path) Int(v int64) *Path {
	var tmp [24]byte
	return p.bytes(strconv.AppendInt(tmp[:0], v, 10))
}

func (p *Path) bytes(b []byte) *Path {
	if p.n+len(b) > PathSize-1 {
		p.overflow = true
	}
	p.n += copy(p.b[p.n:PathSize-1], b)
	return p
}

// Len returns the path length in bytes.
func (p *Path) Len() int { return p.n }

// String returns a copy of the path. It allocates; do not call it while
// capturing.
func (p *Path) String() string { return string(p.b[:p.n]) }

func (p *Path) cstr() (*byte, bool) {
	if p.overflow || p.n == 0 {
		return nil, false
	}
	p.b[p.n] = 0
	return &p.b[0], true
}

// Logger is a crash log target. The zero value is not usable, see New.
type Logger struct {
	fd   int
	n    int
	line [LineSize]byte
}

// New returns a Logger with no target.
func New() *Logger {
	l := &Logger{}
	l.Reset()
	return l
}

// FromFD returns a Logger writing to an already open descriptor. The Logger
// takes ownership of fd.
func FromFD(fd int) *Logger {
	return &Logger{fd: fd}
}

// Reset forgets the current target without closing it.
func (l *Logger) Reset() {
	l.fd = -1
	l.n = 0
}

// FD returns the current descriptor or -1.
func (l *Logger) FD() int { return l.fd }

// Valid reports whether the Logger has an open target.
func (l *Logger) Valid() bool { return l.fd >= 0 }

// Open truncates or creates the file at p and makes it the target.
func (l *Logger) Open(p *Path) error {
	return l.open(p, unix.O_TRUNC)
}

// OpenAppend opens the file at p for appending.
func (l *Logger) OpenAppend(p *Path) error {
	return l.open(p, unix.O_APPEND)
}

// open replaces the current target. The previous target is closed even
// when the new one cannot be opened.
func (l *Logger) open(p *Path, mode int) error {
	prev := l.fd
	defer func() {
		if prev >= 0 {
			_ = unix.Fsync(prev)
			_ = unix.Close(prev)
		}
	}()
	l.Reset()
	name, ok := p.cstr()
	if !ok {
		return unix.ENAMETOOLONG
	}
	dirfd := unix.AT_FDCWD
	flags := unix.O_WRONLY | unix.O_CREAT | unix.O_CLOEXEC | mode
	fd, _, errno := unix.Syscall6(unix.SYS_OPENAT, uintptr(dirfd), uintptr(unsafe.Pointer(name)), uintptr(flags), 0o644, 0, 0)
	if errno != 0 {
		return errno
	}
	l.fd = int(fd)
	return nil
}

// Str appends s to the pending line.
func (l *Logger) Str(s string) *Logger {
	l.n += copy(l.line[l.n:LineSize-1], s)
	return l
}

func (l *Logger) bytes(b []byte) *Logger {
	l.n += copy(l.line[l.n:LineSize-1], b)
	return l
}

func (l *Logger) fill(c byte, count int) *Logger {
	for ; count > 0 && l.n < LineSize-1; count-- {
		l.line[l.n] = c
		l.n++
	}
	return l
}

// Int appends v in decimal.
func (l *Logger) Int(v int64) *Logger {
	var tmp [24]byte
	return l.bytes(strconv.AppendInt(tmp[:0], v, 10))
}

// Uint appends v in decimal.
func (l *Logger) Uint(v uint64) *Logger {
	var tmp [24]byte
	return l.bytes(strconv.AppendUint(tmp[:0], v, 10))
}

// IntPad appends v right-aligned in a field of width columns.
func (l *Logger) IntPad(v int64, width int) *Logger {
	var tmp [24]byte
	b := strconv.AppendInt(tmp[:0], v, 10)
	return l.fill(' ', width-len(b)).bytes(b)
}

// Hex appends v in lower-case hex, zero-padded to at least width digits.
func (l *Logger) Hex(v uint64, width int) *Logger {
	var tmp [24]byte
	b := strconv.AppendUint(tmp[:0], v, 16)
	return l.fill('0', width-len(b)).bytes(b)
}

// PadLeft appends s right-aligned in a field of width columns.
func (l *Logger) PadLeft(s string, width int) *Logger {
	return l.fill(' ', width-len(s)).Str(s)
}

// PadRight appends s left-aligned in a field of width columns.
func (l *Logger) PadRight(s string, width int) *Logger {
	return l.Str(s).fill(' ', width-len(s))
}

// End terminates the pending line and writes it.
func (l *Logger) End() {
	l.line[l.n] = '\n'
	l.write(l.line[:l.n+1])
	l.n = 0
}

// Line writes s as a complete line.
func (l *Logger) Line(s string) {
	l.Str(s).End()
}

func (l *Logger) write(p []byte) {
	if l.fd < 0 {
		return
	}
	for len(p) > 0 {
		n, err := unix.Write(l.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			return
		}
		p = p[n:]
	}
}

// Flush forces written lines to stable storage. Safe to call at any point,
// including with no target.
func (l *Logger) Flush() {
	if l.fd < 0 {
		return
	}
	_ = unix.Fsync(l.fd)
}

// Close flushes and closes the target and resets the descriptor to -1.
func (l *Logger) Close() {
	if l.fd < 0 {
		return
	}
	_ = unix.Fsync(l.fd)
	_ = unix.Close(l.fd)
	l.Reset()
}

// Package environ reads the environment of another process.
package environ

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
)

type Environ interface {
	GetVar(string) string
	HasVar(string) bool
	// Bool reports whether the variable holds a true value as understood
	// by strconv.ParseBool. Unset and malformed values are false.
	Bool(string) bool
}

type mapEnviron map[string]string

func (m mapEnviron) GetVar(v string) string {
	return m[v]
}

func (m mapEnviron) HasVar(v string) bool {
	_, ok := m[v]
	return ok
}

func (m mapEnviron) Bool(v string) bool {
	b, err := strconv.ParseBool(m[v])
	return err == nil && b
}

// New parses a NUL separated list of KEY=VALUE entries, the format of
// /proc/<pid>/environ.
func New(r io.Reader) Environ {
	res := make(map[string]string)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	scanner.Split(scanNullByte)
	for scanner.Scan() {
		key, value, _ := bytes.Cut(scanner.Bytes(), []byte("="))
		if len(key) == 0 {
			continue
		}
		res[string(key)] = string(value)
	}
	return mapEnviron(res)
}

func scanNullByte(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\x00'); i >= 0 {
		return i + 1, data[0:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Package xioutil has writers that check a condition before every write.
package xioutil

import (
	"context"
	"io"
)

// CheckFunc vetoes a write by returning an error.
type CheckFunc func([]byte) error

type checkedWriter struct {
	check CheckFunc
	wr    io.Writer
}

// NewWhileWriter returns a writer that passes writes to wr while check
// accepts them.
func NewWhileWriter(check CheckFunc, wr io.Writer) io.Writer {
	return &checkedWriter{
		check: check,
		wr:    wr,
	}
}

func (cw *checkedWriter) Write(p []byte) (int, error) {
	if err := cw.check(p); err != nil {
		return 0, err
	}
	return cw.wr.Write(p)
}

// NewCancellableWriter stops writing once ctx is done.
func NewCancellableWriter(ctx context.Context, wr io.Writer) io.Writer {
	return NewWhileWriter(func([]byte) error {
		return ctx.Err()
	}, wr)
}

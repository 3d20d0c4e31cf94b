// Package archive keeps copies of finished crash logs.
package archive

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"time"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"

	"github.com/liam-kelly/luna-sysmgr/configuration"
	"github.com/liam-kelly/luna-sysmgr/report"
	"github.com/liam-kelly/luna-sysmgr/utils/xioutil"
)

type Archiver struct {
	fs afero.Fs
}

func New(fs afero.Fs) *Archiver {
	return &Archiver{
		fs: fs,
	}
}

// Name returns the archive file name of a crash log of name/pid taken at ts.
func Name(name string, pid int, ts time.Time, compression configuration.Compression) string {
	return fmt.Sprintf("%s.%d.%d.log%s", name, pid, ts.Unix(), suffix(compression))
}

// Store copies the crash log at src into config.Dir and returns the path of
// the copy. A partial copy is removed.
func (a *Archiver) Store(ctx context.Context, src, name string, pid int, config configuration.ArchiveConfig) (string, error) {
	reporter := report.R(ctx)
	started := time.Now()

	if exists, err := afero.DirExists(a.fs, config.Dir); err != nil {
		return "", err
	} else if !exists {
		return "", fmt.Errorf("%s does not exist", config.Dir)
	}
	in, err := a.fs.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	filepath := path.Join(config.Dir, Name(name, pid, started, config.Compression))
	file, err := a.fs.Create(filepath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	compressor, err := newCompressor(config.Compression, file)
	if err != nil {
		a.fs.Remove(filepath)
		return "", err
	}

	log.Printf("crash log %s will be archived to %s (%s)", src, filepath, config.Compression)

	wr := xioutil.NewCancellableWriter(ctx, compressor)
	if osFile, ok := file.(*os.File); ok {
		wr = xioutil.NewWhileWriter(xioutil.DiskUsageCheck(int(osFile.Fd()), config.MaxDiskUsagePrct), wr)
	}
	size, err := io.CopyBuffer(wr, in, nil)
	if cerr := compressor.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		a.fs.Remove(filepath)
		reporter.AddError("archive.error", err)
		return "", err
	}

	reporter.AddInt("archive.size", size)
	reporter.AddString("archive.filepath", filepath)
	reporter.AddDuration("archive.duration", time.Since(started))
	return filepath, nil
}

func newCompressor(compression configuration.Compression, wr io.Writer) (io.WriteCloser, error) {
	switch compression {
	case configuration.CompressionPlain, "":
		return writerNopCloser{wr}, nil
	case configuration.CompressionZstd:
		return zstd.NewWriter(wr)
	case configuration.CompressionSnappy:
		return snappy.NewBufferedWriter(wr), nil
	default:
		return nil, fmt.Errorf("unknown compression type %q", compression)
	}
}

func suffix(compression configuration.Compression) string {
	switch compression {
	case configuration.CompressionZstd:
		return ".zstd"
	case configuration.CompressionSnappy:
		return ".snappy"
	default:
		return ""
	}
}

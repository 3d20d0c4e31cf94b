// Package buildid extracts the build id of an ELF executable, so a crash log
// can be matched with the symbols of the binary that produced it.
package buildid

import (
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
)

// ErrNoBuildId is returned when the binary carries no build id note.
var ErrNoBuildId = errors.New("no build id note")

const (
	gnuNote = ".note.gnu.build-id"
	goNote  = ".note.go.buildid"
)

type buildId []byte

// New returns the GNU build id as hex, or the Go build id verbatim.
func New(f *elf.File) (string, error) {
	var bid buildId
	for _, section := range f.Sections {
		switch section.Name {
		case gnuNote:
			if err := bid.UnmarshalBinary(section.Open(), f.ByteOrder); err != nil {
				return "", err
			}
			return hex.EncodeToString(bid), nil
		case goNote:
			if err := bid.UnmarshalBinary(section.Open(), f.ByteOrder); err != nil {
				return "", err
			}
			return string(bid), nil
		}
	}
	return "", ErrNoBuildId
}

// FromReader parses r as an ELF file and returns its build id.
func FromReader(r io.ReaderAt) (string, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return "", err
	}
	defer ef.Close()
	return New(ef)
}

// UnmarshalBinary reads one ELF note and keeps its descriptor.
func (b *buildId) UnmarshalBinary(r io.Reader, order binary.ByteOrder) error {
	var hdr struct {
		NameSz uint32
		DescSz uint32
		Type   uint32
	}
	if err := binary.Read(r, order, &hdr); err != nil {
		return err
	}
	// the name is padded to 4 bytes
	name := make([]byte, (hdr.NameSz+3)&^3)
	if _, err := io.ReadFull(r, name); err != nil {
		return err
	}
	id := make([]byte, hdr.DescSz)
	if _, err := io.ReadFull(r, id); err != nil {
		return err
	}
	*b = buildId(id)
	return nil
}

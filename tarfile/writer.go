package tarfile

import (
	"fmt"
	"io"
)

var zeroBlock [BlockSize]byte

// Writer writes a tar archive. Names that do not fit the ustar name and
// prefix fields, and link targets over 100 bytes, are written with GNU
// long-name records.
type Writer struct {
	w      io.Writer
	nb     int64 // unwritten bytes of the current entry
	pad    int64
	closed bool
	err    error
}

// NewWriter returns a Writer appending to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader finishes the current entry and starts a new one. Directories,
// symlinks and other header-only types carry no data regardless of Size.
func (tw *Writer) WriteHeader(h *Header) error {
	if err := tw.Flush(); err != nil {
		return err
	}
	_, _, fitsUSTAR := splitUSTARPath(h.Name)
	gnu := !fitsUSTAR || len(h.Linkname) > 100
	if gnu {
		if len(h.Name) > 100 {
			if err := tw.writeLong(TypeGNULongName, h.Name); err != nil {
				return err
			}
		}
		if len(h.Linkname) > 100 {
			if err := tw.writeLong(TypeGNULongLink, h.Linkname); err != nil {
				return err
			}
		}
	}
	b, err := encodeHeader(h, gnu)
	if err != nil {
		return fmt.Errorf("encoding header for %s: %w", h.Name, err)
	}
	if err := tw.writeRaw(b[:]); err != nil {
		return err
	}
	size := h.dataSize()
	tw.nb = size
	tw.pad = roundUp(size) - size
	return nil
}

func (tw *Writer) writeLong(flag byte, value string) error {
	data := append([]byte(value), 0)
	b, err := encodeHeader(&Header{Name: longLinkName, Typeflag: flag, Size: int64(len(data))}, true)
	if err != nil {
		return err
	}
	if err := tw.writeRaw(b[:]); err != nil {
		return err
	}
	if err := tw.writeRaw(data); err != nil {
		return err
	}
	return tw.writeRaw(zeroBlock[:roundUp(int64(len(data)))-int64(len(data))])
}

func (tw *Writer) writeRaw(p []byte) error {
	if tw.err != nil {
		return tw.err
	}
	if _, err := tw.w.Write(p); err != nil {
		tw.err = err
		return err
	}
	return nil
}

// Write writes to the current entry. It returns ErrWriteTooLong when p
// exceeds the size announced by the header.
func (tw *Writer) Write(p []byte) (int, error) {
	if tw.closed {
		return 0, fmt.Errorf("tarfile: write to closed writer")
	}
	if tw.err != nil {
		return 0, tw.err
	}
	var tooLong bool
	if int64(len(p)) > tw.nb {
		p = p[:tw.nb]
		tooLong = true
	}
	n, err := tw.w.Write(p)
	tw.nb -= int64(n)
	if err != nil {
		tw.err = err
		return n, err
	}
	if tooLong {
		return n, ErrWriteTooLong
	}
	return n, nil
}

// Flush pads the current entry to a block boundary. It fails if the entry
// has not been written completely.
func (tw *Writer) Flush() error {
	if tw.err != nil {
		return tw.err
	}
	if tw.nb > 0 {
		return fmt.Errorf("tarfile: missed writing %d bytes", tw.nb)
	}
	if err := tw.writeRaw(zeroBlock[:tw.pad]); err != nil {
		return err
	}
	tw.pad = 0
	return nil
}

// Close pads the last entry and writes the two end-of-archive records. It
// does not close the underlying writer.
func (tw *Writer) Close() error {
	if tw.closed {
		return nil
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	tw.closed = true
	for i := 0; i < 2; i++ {
		if err := tw.writeRaw(zeroBlock[:]); err != nil {
			return err
		}
	}
	return nil
}

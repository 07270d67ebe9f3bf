package arfile

import (
	"fmt"
	"io"
	"time"

	"github.com/blakesmith/ar"

	"github.com/etnz/debpack/stream"
)

// Writer appends members to an ar archive in the order they are written.
// Member headers carry mode 0644, owner and group 0 and ModTime.
type Writer struct {
	w  io.Writer
	aw *ar.Writer

	// ModTime is stamped on every member header.
	ModTime time.Time
}

// NewWriter writes the global header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	aw := ar.NewWriter(w)
	if err := aw.WriteGlobalHeader(); err != nil {
		return nil, fmt.Errorf("writing ar global header: %w", err)
	}
	return &Writer{w: w, aw: aw, ModTime: time.Now()}, nil
}

func (w *Writer) header(name string, size int64) *ar.Header {
	return &ar.Header{
		Name:    name,
		ModTime: w.ModTime,
		Mode:    0644,
		Size:    size,
	}
}

// WriteFile writes a member whose body is already in memory.
func (w *Writer) WriteFile(name string, body []byte) error {
	if err := w.aw.WriteHeader(w.header(name, int64(len(body)))); err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	// ar.Writer pads odd-sized bodies itself when given in a single call.
	if _, err := w.aw.Write(body); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// WriteFrom writes a member of a known size, copying exactly size bytes from r.
func (w *Writer) WriteFrom(name string, size int64, r io.Reader) error {
	if err := w.aw.WriteHeader(w.header(name, size)); err != nil {
		return fmt.Errorf("writing %s header: %w", name, err)
	}
	n, err := io.CopyN(w.w, r, size)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("writing %s: copied %d of %d bytes: %w", name, n, size, err)
	}
	return w.pad(name, size)
}

// WriteStream writes a member whose size is not known in advance. The
// destination must be an io.ReadWriteSeeker, such as an *os.File: a
// placeholder header is written first and patched once the body is copied.
// It returns the body size.
func (w *Writer) WriteStream(name string, r io.Reader) (int64, error) {
	rws, ok := w.w.(io.ReadWriteSeeker)
	if !ok {
		return 0, fmt.Errorf("writing %s: %w", name, ErrNotSeekable)
	}
	start, err := rws.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("writing %s: %w: %v", name, ErrNotSeekable, err)
	}
	if err := w.aw.WriteHeader(w.header(name, 0)); err != nil {
		return 0, fmt.Errorf("writing %s header: %w", name, err)
	}
	size, err := io.Copy(w.w, r)
	if err != nil {
		return size, fmt.Errorf("writing %s: %w", name, err)
	}
	if err := w.pad(name, size); err != nil {
		return size, err
	}
	end, err := rws.Seek(0, io.SeekCurrent)
	if err != nil {
		return size, fmt.Errorf("writing %s: %w", name, err)
	}

	window := stream.NewShared(rws).Window(start, HeaderSize)
	if err := ar.NewWriter(window).WriteHeader(w.header(name, size)); err != nil {
		return size, fmt.Errorf("patching %s header: %w", name, err)
	}
	if _, err := rws.Seek(end, io.SeekStart); err != nil {
		return size, fmt.Errorf("writing %s: %w", name, err)
	}
	return size, nil
}

func (w *Writer) pad(name string, size int64) error {
	if size%2 == 0 {
		return nil
	}
	if _, err := w.w.Write([]byte{'\n'}); err != nil {
		return fmt.Errorf("padding %s: %w", name, err)
	}
	return nil
}

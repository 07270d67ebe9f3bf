// Package stream provides the I/O plumbing shared by the container codecs:
// bounded windows over a shared seekable stream, a forward-only cursor that
// hands out per-member readers, and a position-tracking gzip reader.
package stream

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrOutOfRange is returned when a write would cross the end of a window.
	ErrOutOfRange = errors.New("stream: write exceeds window length")
	// ErrReadOnly is returned when writing to a read-only window or to a
	// window whose underlying stream is not writable.
	ErrReadOnly = errors.New("stream: window is read-only")
	// ErrClosed is returned by operations on a closed window.
	ErrClosed = errors.New("stream: window is closed")
)

// Shared guards an underlying seekable stream so that several windows can use
// it without interleaving their seek+read or seek+write pairs.
type Shared struct {
	mu sync.Mutex
	rs io.ReadSeeker

	// cur is the underlying cursor as last left by this Shared; known is false
	// until the first positioning so the first access always seeks.
	cur   int64
	known bool
}

// NewShared wraps rs. If rs also implements io.Writer, windows over it are
// writable unless created with ReadOnly.
func NewShared(rs io.ReadSeeker) *Shared {
	return &Shared{rs: rs}
}

// seekLocked positions the underlying stream at abs. Callers hold s.mu.
func (s *Shared) seekLocked(abs int64) error {
	if s.known && s.cur == abs {
		return nil
	}
	n, err := s.rs.Seek(abs, io.SeekStart)
	if err != nil {
		s.known = false
		return err
	}
	s.cur, s.known = n, true
	return nil
}

// ReadAt implements io.ReaderAt on top of the guarded stream.
func (s *Shared) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.seekLocked(off); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(s.rs, p)
	s.cur += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// WindowOption configures a SubStream.
type WindowOption func(*SubStream)

// ReadOnly makes the window reject writes.
func ReadOnly() WindowOption { return func(w *SubStream) { w.readOnly = true } }

// OwnUnderlying makes Close on the window close the underlying stream.
func OwnUnderlying() WindowOption { return func(w *SubStream) { w.own = true } }

// Window returns a view over [offset, offset+length) of the shared stream.
func (s *Shared) Window(offset, length int64, opts ...WindowOption) *SubStream {
	w := &SubStream{shared: s, offset: offset, length: length}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// SubStream is a read/write window over a region of a Shared stream.
// Reads never return bytes outside the window and writes that would cross its
// end fail with ErrOutOfRange.
type SubStream struct {
	shared   *Shared
	offset   int64
	length   int64
	pos      int64
	readOnly bool
	own      bool
	closed   bool
}

// Offset returns the window start in the underlying stream.
func (w *SubStream) Offset() int64 { return w.offset }

// Len returns the window length.
func (w *SubStream) Len() int64 { return w.length }

// Position returns the window-relative position.
func (w *SubStream) Position() int64 { return w.pos }

// Read implements io.Reader.
func (w *SubStream) Read(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.shared.mu.Lock()
	defer w.shared.mu.Unlock()

	remaining := w.length - w.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if err := w.shared.seekLocked(w.offset + w.pos); err != nil {
		return 0, err
	}
	n, err := w.shared.rs.Read(p)
	w.pos += int64(n)
	w.shared.cur += int64(n)
	if err == io.EOF && w.pos < w.length {
		if n > 0 {
			return n, nil
		}
		return 0, io.ErrUnexpectedEOF
	}
	return n, err
}

// Write implements io.Writer. A write is rejected as a whole when it would
// cross the end of the window.
func (w *SubStream) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	dst, ok := w.shared.rs.(io.Writer)
	if w.readOnly || !ok {
		return 0, ErrReadOnly
	}
	w.shared.mu.Lock()
	defer w.shared.mu.Unlock()

	if w.pos < 0 || w.pos+int64(len(p)) > w.length {
		return 0, fmt.Errorf("%w: position %d, %d bytes, length %d", ErrOutOfRange, w.pos, len(p), w.length)
	}
	if err := w.shared.seekLocked(w.offset + w.pos); err != nil {
		return 0, err
	}
	n, err := dst.Write(p)
	w.pos += int64(n)
	w.shared.cur += int64(n)
	return n, err
}

// Seek implements io.Seeker with offsets relative to the window.
func (w *SubStream) Seek(offset int64, whence int) (int64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	w.shared.mu.Lock()
	defer w.shared.mu.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = w.pos + offset
	case io.SeekEnd:
		abs = w.length + offset
	default:
		return 0, fmt.Errorf("stream: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("stream: negative position %d", abs)
	}
	if err := w.shared.seekLocked(w.offset + abs); err != nil {
		return 0, err
	}
	w.pos = abs
	return abs, nil
}

// Close releases the window. The underlying stream is closed only when the
// window was created with OwnUnderlying.
func (w *SubStream) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.own {
		return nil
	}
	if c, ok := w.shared.rs.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

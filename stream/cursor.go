package stream

import (
	"fmt"
	"io"
)

// Cursor tracks the absolute position of a forward-only container reader.
//
// When the source is seekable, sections are SubStream windows over it and
// skipping is a seek; otherwise sections read straight from the source and
// skipping discards bytes.
type Cursor struct {
	r      io.Reader
	shared *Shared
	pos    int64
}

// NewCursor returns a cursor positioned at the current offset of r.
func NewCursor(r io.Reader) *Cursor {
	c := &Cursor{r: r}
	if rs, ok := r.(io.ReadSeeker); ok {
		// Pipes and terminals implement Seek but fail on it.
		if start, err := rs.Seek(0, io.SeekCurrent); err == nil {
			c.shared = NewShared(rs)
			c.pos = start
		}
	}
	return c
}

// Seekable reports whether sections are backed by windows.
func (c *Cursor) Seekable() bool { return c.shared != nil }

// Shared returns the guarded source, or nil when it is not seekable.
func (c *Cursor) Shared() *Shared { return c.shared }

// Pos returns the absolute position of the cursor.
func (c *Cursor) Pos() int64 { return c.pos }

// ReadFull reads exactly len(p) bytes at the cursor and advances it.
// It returns io.EOF if no bytes were available and io.ErrUnexpectedEOF on a
// short read.
func (c *Cursor) ReadFull(p []byte) (int, error) {
	if c.shared == nil {
		n, err := io.ReadFull(c.r, p)
		c.pos += int64(n)
		return n, err
	}
	n, err := c.shared.ReadAt(p, c.pos)
	c.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Section returns a reader over the next n bytes. It does not advance the
// cursor for seekable sources; call SkipTo once the section is done with.
// For non-seekable sources reading the section advances the cursor.
func (c *Cursor) Section(n int64) io.ReadCloser {
	if c.shared != nil {
		return c.shared.Window(c.pos, n, ReadOnly())
	}
	return &section{c: c, remaining: n}
}

// SkipTo moves the cursor forward to the absolute position pos.
func (c *Cursor) SkipTo(pos int64) error {
	if pos < c.pos {
		if c.shared == nil {
			return fmt.Errorf("stream: cannot rewind non-seekable source from %d to %d", c.pos, pos)
		}
		c.pos = pos
		return nil
	}
	if c.shared != nil {
		c.pos = pos
		return nil
	}
	n, err := io.CopyN(io.Discard, c.r, pos-c.pos)
	c.pos += n
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// section is a bounded reader over a non-seekable source.
type section struct {
	c         *Cursor
	remaining int64
}

func (s *section) Read(p []byte) (int, error) {
	if s.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > s.remaining {
		p = p[:s.remaining]
	}
	n, err := s.c.r.Read(p)
	s.remaining -= int64(n)
	s.c.pos += int64(n)
	if err == io.EOF && s.remaining > 0 {
		if n > 0 {
			return n, nil
		}
		return 0, io.ErrUnexpectedEOF
	}
	return n, err
}

func (s *section) Close() error { return nil }

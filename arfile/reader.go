// Package arfile reads and writes Unix ar archives, the outer container of
// a .deb package.
package arfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/etnz/debpack/fsmode"
	"github.com/etnz/debpack/stream"
)

const (
	// GlobalHeader starts every ar archive.
	GlobalHeader = "!<arch>\n"
	// HeaderSize is the size of a member header.
	HeaderSize = 60

	headerTerminator = "`\n"
)

var (
	// ErrHeader is returned for a missing global header or a malformed
	// member header.
	ErrHeader = errors.New("arfile: invalid header")
	// ErrNotSeekable is returned by Writer.WriteStream when the destination
	// cannot be rewound to patch the member header.
	ErrNotSeekable = errors.New("arfile: destination is not seekable")
)

// Header describes an archive member.
type Header struct {
	Name    string
	ModTime time.Time
	UID     int
	GID     int
	Mode    fsmode.Mode
	Size    int64
}

// Reader iterates over the members of an ar archive. Members are visited in
// order; the unread remainder of a member is skipped by the next call to Next.
type Reader struct {
	c    *stream.Cursor
	next int64

	hdr       *Header
	dataStart int64
	body      io.ReadCloser
}

// NewReader validates the global header of r. When r is an io.ReadSeeker,
// member bodies are windows over it and skipping members costs a seek.
func NewReader(r io.Reader) (*Reader, error) {
	c := stream.NewCursor(r)
	magic := make([]byte, len(GlobalHeader))
	if _, err := c.ReadFull(magic); err != nil {
		return nil, fmt.Errorf("%w: reading global header: %v", ErrHeader, err)
	}
	if string(magic) != GlobalHeader {
		return nil, fmt.Errorf("%w: bad magic %q", ErrHeader, magic)
	}
	return &Reader{c: c, next: c.Pos()}, nil
}

// Next advances to the next member and returns its header. It returns
// io.EOF when there are no more members.
func (r *Reader) Next() (*Header, error) {
	if r.body != nil {
		r.body.Close()
		r.body = nil
	}
	r.hdr = nil
	if err := r.c.SkipTo(r.next); err != nil {
		// Some writers omit the pad byte after an odd-sized last member.
		if err == io.ErrUnexpectedEOF && r.c.Pos() == r.next-1 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated member body: %v", ErrHeader, err)
	}

	buf := make([]byte, HeaderSize)
	offset := r.c.Pos()
	if _, err := r.c.ReadFull(buf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		// A lone pad byte at the end of a seekable archive.
		if err == io.ErrUnexpectedEOF && bytes.Equal(bytes.TrimRight(buf, "\x00"), []byte("\n")) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated member header at offset %d", ErrHeader, offset)
	}
	hdr, err := parseHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("member header at offset %d: %w", offset, err)
	}

	r.hdr = hdr
	r.dataStart = r.c.Pos()
	r.next = r.dataStart + hdr.Size + hdr.Size%2
	return hdr, nil
}

// Open returns a reader bounded to the body of the current member.
func (r *Reader) Open() (io.ReadCloser, error) {
	if r.hdr == nil {
		return nil, errors.New("arfile: Open called before Next")
	}
	if r.body == nil {
		r.body = r.c.Section(r.hdr.Size)
	}
	return r.body, nil
}

// Read reads from the body of the current member.
func (r *Reader) Read(p []byte) (int, error) {
	body, err := r.Open()
	if err != nil {
		return 0, err
	}
	return body.Read(p)
}

func parseHeader(buf []byte) (*Header, error) {
	if string(buf[58:60]) != headerTerminator {
		return nil, fmt.Errorf("%w: bad terminator %q", ErrHeader, buf[58:60])
	}
	field := func(lo, hi int) string { return strings.TrimSpace(string(buf[lo:hi])) }

	hdr := &Header{Name: field(0, 16)}
	if len(hdr.Name) > 1 {
		hdr.Name = strings.TrimSuffix(hdr.Name, "/")
	}
	if hdr.Name == "" {
		return nil, fmt.Errorf("%w: empty member name", ErrHeader)
	}

	mtime, err := parseInt(field(16, 28), 10)
	if err != nil {
		return nil, fmt.Errorf("%w: modification time: %v", ErrHeader, err)
	}
	hdr.ModTime = time.Unix(mtime, 0)
	uid, err := parseInt(field(28, 34), 10)
	if err != nil {
		return nil, fmt.Errorf("%w: owner id: %v", ErrHeader, err)
	}
	gid, err := parseInt(field(34, 40), 10)
	if err != nil {
		return nil, fmt.Errorf("%w: group id: %v", ErrHeader, err)
	}
	hdr.UID, hdr.GID = int(uid), int(gid)
	mode, err := parseInt(field(40, 48), 8)
	if err != nil {
		return nil, fmt.Errorf("%w: mode: %v", ErrHeader, err)
	}
	hdr.Mode = fsmode.Mode(mode)
	size, err := parseInt(field(48, 58), 10)
	if err != nil || size < 0 {
		return nil, fmt.Errorf("%w: size %q", ErrHeader, field(48, 58))
	}
	hdr.Size = size
	return hdr, nil
}

func parseInt(s string, base int) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, base, 64)
}

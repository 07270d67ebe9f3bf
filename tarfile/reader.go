package tarfile

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/etnz/debpack/stream"
)

// maxSpecialSize bounds GNU long-name and pax records read into memory.
const maxSpecialSize = 1 << 20

// Reader iterates over the entries of a tar archive.
type Reader struct {
	c    *stream.Cursor
	next int64
	done bool

	dataStart int64

	hdr  *Header
	body io.ReadCloser
}

// NewReader returns a Reader over r. When r is an io.ReadSeeker, skipping
// entries costs a seek.
func NewReader(r io.Reader) *Reader {
	c := stream.NewCursor(r)
	return &Reader{c: c, next: c.Pos()}
}

// Next advances to the next entry. It returns io.EOF at the end-of-archive
// records or at the end of the input.
func (tr *Reader) Next() (*Header, error) {
	if tr.done {
		return nil, io.EOF
	}
	var longName, longLink string
	var pax map[string]string
	for {
		h, err := tr.readHeader()
		if err != nil {
			if err == io.EOF {
				tr.done = true
			}
			return nil, err
		}
		switch h.Typeflag {
		case TypeGNULongName, TypeGNULongLink:
			raw, err := tr.readSpecial(h)
			if err != nil {
				return nil, err
			}
			if h.Typeflag == TypeGNULongName {
				longName = parseString(raw)
			} else {
				longLink = parseString(raw)
			}
			continue
		case TypeXHeader, TypeXGlobalHeader:
			raw, err := tr.readSpecial(h)
			if err != nil {
				return nil, err
			}
			if h.Typeflag == TypeXHeader {
				if pax, err = parsePAX(raw); err != nil {
					return nil, err
				}
			}
			continue
		}

		if longName != "" {
			h.Name = longName
		}
		if longLink != "" {
			h.Linkname = longLink
		}
		if err := applyPAX(h, pax); err != nil {
			return nil, err
		}
		tr.next = tr.dataStart + roundUp(h.dataSize())
		tr.hdr = h
		return h, nil
	}
}

// readHeader reads the next header block and positions the reader on its
// body.
func (tr *Reader) readHeader() (*Header, error) {
	if tr.body != nil {
		tr.body.Close()
		tr.body = nil
	}
	tr.hdr = nil
	if err := tr.c.SkipTo(tr.next); err != nil {
		return nil, fmt.Errorf("%w: truncated entry body: %v", ErrHeader, err)
	}

	var b block
	offset := tr.c.Pos()
	if _, err := tr.c.ReadFull(b[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated header at offset %d", ErrHeader, offset)
	}
	if b.isZero() {
		// End of archive: a second zero block, or the end of the input.
		var second block
		if _, err := tr.c.ReadFull(second[:]); err == nil && !second.isZero() {
			return nil, fmt.Errorf("%w: single zero block at offset %d", ErrHeader, offset)
		}
		return nil, io.EOF
	}
	h, err := decodeHeader(&b)
	if err != nil {
		return nil, fmt.Errorf("header at offset %d: %w", offset, err)
	}
	tr.dataStart = tr.c.Pos()
	tr.next = tr.dataStart + roundUp(h.dataSize())
	tr.hdr = h
	return h, nil
}

func (tr *Reader) readSpecial(h *Header) ([]byte, error) {
	if h.Size > maxSpecialSize {
		return nil, fmt.Errorf("%w: %c record of %d bytes", ErrHeader, h.Typeflag, h.Size)
	}
	raw := make([]byte, h.Size)
	if _, err := io.ReadFull(tr, raw); err != nil {
		return nil, fmt.Errorf("%w: reading %c record: %v", ErrHeader, h.Typeflag, err)
	}
	return raw, nil
}

// Open returns a reader bounded to the body of the current entry.
func (tr *Reader) Open() (io.ReadCloser, error) {
	if tr.hdr == nil {
		return nil, fmt.Errorf("tarfile: Open called before Next")
	}
	if tr.body == nil {
		tr.body = tr.c.Section(tr.hdr.dataSize())
	}
	return tr.body, nil
}

// Read reads from the body of the current entry.
func (tr *Reader) Read(p []byte) (int, error) {
	body, err := tr.Open()
	if err != nil {
		return 0, err
	}
	return body.Read(p)
}

// Skip moves past the body of the current entry without reading it.
func (tr *Reader) Skip() error {
	if tr.body != nil {
		tr.body.Close()
		tr.body = nil
	}
	tr.hdr = nil
	if err := tr.c.SkipTo(tr.next); err != nil {
		return fmt.Errorf("%w: truncated entry body: %v", ErrHeader, err)
	}
	return nil
}

func roundUp(n int64) int64 {
	return (n + BlockSize - 1) &^ (BlockSize - 1)
}

// parsePAX decodes "%d %s=%s\n" records.
func parsePAX(raw []byte) (map[string]string, error) {
	records := make(map[string]string)
	s := string(raw)
	for len(s) > 0 {
		sp := strings.IndexByte(s, ' ')
		if sp <= 0 {
			return nil, fmt.Errorf("%w: malformed pax record", ErrHeader)
		}
		n, err := strconv.Atoi(s[:sp])
		if err != nil || n <= sp || n > len(s) {
			return nil, fmt.Errorf("%w: malformed pax record length", ErrHeader)
		}
		rec := strings.TrimSuffix(s[sp+1:n], "\n")
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed pax record %q", ErrHeader, rec)
		}
		records[key] = value
		s = s[n:]
	}
	return records, nil
}

func applyPAX(h *Header, pax map[string]string) error {
	for key, value := range pax {
		switch key {
		case "path":
			h.Name = value
		case "linkpath":
			h.Linkname = value
		case "uname":
			h.Uname = value
		case "gname":
			h.Gname = value
		case "size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return fmt.Errorf("%w: pax size %q", ErrHeader, value)
			}
			h.Size = n
		}
	}
	return nil
}

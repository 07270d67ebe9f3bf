// Package tarfile reads and writes the ustar/GNU tar archives found inside
// .deb packages.
package tarfile

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/etnz/debpack/fsmode"
)

// BlockSize is the tar record size.
const BlockSize = 512

// Type flags.
const (
	TypeReg           byte = '0'
	TypeRegA          byte = '\x00'
	TypeLink          byte = '1'
	TypeSymlink       byte = '2'
	TypeChar          byte = '3'
	TypeBlock         byte = '4'
	TypeDir           byte = '5'
	TypeFifo          byte = '6'
	TypeCont          byte = '7'
	TypeXHeader       byte = 'x'
	TypeXGlobalHeader byte = 'g'
	TypeGNULongName   byte = 'L'
	TypeGNULongLink   byte = 'K'
)

var (
	// ErrHeader is returned for a malformed or truncated header.
	ErrHeader = errors.New("tarfile: invalid header")
	// ErrChecksum is returned when a header checksum does not match.
	ErrChecksum = errors.New("tarfile: header checksum mismatch")
	// ErrWriteTooLong is returned when more bytes are written than the
	// header announced.
	ErrWriteTooLong = errors.New("tarfile: write too long")
	// ErrFieldTooLong is returned when a header field cannot be encoded.
	ErrFieldTooLong = errors.New("tarfile: header field too long")
)

const (
	magicUSTAR   = "ustar\x00"
	versionUSTAR = "00"
	magicGNU     = "ustar "
	versionGNU   = " \x00"

	longLinkName = "././@LongLink"
)

// Header describes a tar entry. Mode carries both the file type bits, derived
// from Typeflag when reading, and the permission bits.
type Header struct {
	Name     string
	Mode     fsmode.Mode
	UID      int
	GID      int
	Uname    string
	Gname    string
	Size     int64
	ModTime  time.Time
	Typeflag byte
	Linkname string
	Devmajor int64
	Devminor int64
}

// headerOnly reports whether entries of this type never carry data.
func headerOnly(flag byte) bool {
	switch flag {
	case TypeLink, TypeSymlink, TypeChar, TypeBlock, TypeDir, TypeFifo:
		return true
	}
	return false
}

// dataSize is the number of body bytes following the header.
func (h *Header) dataSize() int64 {
	if headerOnly(h.Typeflag) {
		return 0
	}
	return h.Size
}

func typeBits(flag byte) fsmode.Mode {
	switch flag {
	case TypeSymlink:
		return fsmode.S_IFLNK
	case TypeChar:
		return fsmode.S_IFCHR
	case TypeBlock:
		return fsmode.S_IFBLK
	case TypeDir:
		return fsmode.S_IFDIR
	case TypeFifo:
		return fsmode.S_IFIFO
	}
	return fsmode.S_IFREG
}

// block is a 512-byte header record with accessors for each field.
type block [BlockSize]byte

func (b *block) name() []byte     { return b[0:100] }
func (b *block) mode() []byte     { return b[100:108] }
func (b *block) uid() []byte      { return b[108:116] }
func (b *block) gid() []byte      { return b[116:124] }
func (b *block) size() []byte     { return b[124:136] }
func (b *block) mtime() []byte    { return b[136:148] }
func (b *block) chksum() []byte   { return b[148:156] }
func (b *block) linkname() []byte { return b[157:257] }
func (b *block) magic() []byte    { return b[257:263] }
func (b *block) version() []byte  { return b[263:265] }
func (b *block) uname() []byte    { return b[265:297] }
func (b *block) gname() []byte    { return b[297:329] }
func (b *block) devmajor() []byte { return b[329:337] }
func (b *block) devminor() []byte { return b[337:345] }
func (b *block) prefix() []byte   { return b[345:500] }

func (b *block) isZero() bool {
	return *b == block{}
}

// checksums returns the unsigned and signed sums of the block with the
// checksum field counted as spaces.
func (b *block) checksums() (unsigned, signed int64) {
	for i, c := range b {
		if 148 <= i && i < 156 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}

func (b *block) setChecksum() {
	sum, _ := b.checksums()
	copy(b.chksum(), fmt.Sprintf("%06o\x00 ", sum))
}

func parseString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// parseNumeric decodes an octal field, or a base-256 field when the high bit
// of the first byte is set.
func parseNumeric(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		if b[0]&0x40 != 0 {
			return 0, fmt.Errorf("%w: negative base-256 field", ErrHeader)
		}
		var v uint64
		for i, c := range b {
			if i == 0 {
				c &= 0x7f
			}
			if v>>55 != 0 {
				return 0, fmt.Errorf("%w: numeric field overflows int64", ErrHeader)
			}
			v = v<<8 | uint64(c)
		}
		return int64(v), nil
	}
	s := strings.Trim(string(b), " \x00")
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad numeric field %q", ErrHeader, b)
	}
	return v, nil
}

// formatNumeric writes v as NUL-terminated zero-padded octal, falling back to
// base-256 when it does not fit.
func formatNumeric(dst []byte, v int64) error {
	s := strconv.FormatInt(v, 8)
	if v >= 0 && len(s) < len(dst) {
		copy(dst, strings.Repeat("0", len(dst)-1-len(s))+s)
		dst[len(dst)-1] = 0
		return nil
	}
	if v < 0 {
		return fmt.Errorf("%w: value %d does not fit in %d bytes", ErrFieldTooLong, v, len(dst))
	}
	for i := len(dst) - 1; i > 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
	dst[0] = 0x80
	return nil
}

func formatString(dst []byte, s string) error {
	if len(s) > len(dst) {
		return fmt.Errorf("%w: %q exceeds %d bytes", ErrFieldTooLong, s, len(dst))
	}
	copy(dst, s)
	return nil
}

// splitUSTARPath splits name into a ustar prefix and name at a slash.
func splitUSTARPath(name string) (prefix, suffix string, ok bool) {
	if len(name) <= 100 {
		return "", name, true
	}
	i := len(name) - 101
	if i < 0 {
		i = 0
	}
	for ; i < len(name)-1 && i <= 155; i++ {
		if name[i] == '/' && len(name)-i-1 <= 100 && i > 0 {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}

// decodeHeader validates the checksum and decodes a header block.
func decodeHeader(b *block) (*Header, error) {
	stored, err := parseNumeric(b.chksum())
	if err != nil {
		return nil, fmt.Errorf("%w: checksum field %q", ErrHeader, b.chksum())
	}
	unsigned, signed := b.checksums()
	if stored != unsigned && stored != signed {
		return nil, fmt.Errorf("%w: stored %d, computed %d", ErrChecksum, stored, unsigned)
	}

	h := &Header{
		Name:     parseString(b.name()),
		Typeflag: b[156],
		Linkname: parseString(b.linkname()),
	}
	var mode, uid, gid, mtime int64
	for _, f := range []struct {
		dst *int64
		src []byte
	}{
		{&mode, b.mode()}, {&uid, b.uid()}, {&gid, b.gid()},
		{&h.Size, b.size()}, {&mtime, b.mtime()},
	} {
		if *f.dst, err = parseNumeric(f.src); err != nil {
			return nil, err
		}
	}
	if h.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrHeader, h.Size)
	}
	h.Mode = typeBits(h.Typeflag) | fsmode.Mode(mode)&^fsmode.S_IFMT
	h.UID, h.GID = int(uid), int(gid)
	h.ModTime = time.Unix(mtime, 0)

	magic := string(b.magic())
	if magic == magicUSTAR || magic == magicGNU {
		h.Uname = parseString(b.uname())
		h.Gname = parseString(b.gname())
		if h.Devmajor, err = parseNumeric(b.devmajor()); err != nil {
			return nil, err
		}
		if h.Devminor, err = parseNumeric(b.devminor()); err != nil {
			return nil, err
		}
		if magic == magicUSTAR {
			if p := parseString(b.prefix()); p != "" {
				h.Name = p + "/" + h.Name
			}
		}
	}
	return h, nil
}

// encodeHeader encodes h into a block. The caller has already placed long
// names in preceding GNU records when gnu is set.
func encodeHeader(h *Header, gnu bool) (*block, error) {
	var b block
	name := h.Name
	if gnu {
		if len(name) > 100 {
			name = name[:100]
		}
	} else {
		prefix, suffix, ok := splitUSTARPath(name)
		if !ok {
			return nil, fmt.Errorf("%w: name %q", ErrFieldTooLong, name)
		}
		name = suffix
		copy(b.prefix(), prefix)
	}
	copy(b.name(), name)

	link := h.Linkname
	if len(link) > 100 {
		if !gnu {
			return nil, fmt.Errorf("%w: link target %q", ErrFieldTooLong, link)
		}
		link = link[:100]
	}
	copy(b.linkname(), link)

	typeflag := h.Typeflag
	if typeflag == TypeRegA {
		typeflag = TypeReg
	}
	b[156] = typeflag

	size := h.Size
	if headerOnly(typeflag) {
		size = 0
	}
	mtime := h.ModTime.Unix()
	if h.ModTime.IsZero() || mtime < 0 {
		mtime = 0
	}
	for _, f := range []struct {
		dst []byte
		v   int64
	}{
		{b.mode(), int64(h.Mode &^ fsmode.S_IFMT)},
		{b.uid(), int64(h.UID)},
		{b.gid(), int64(h.GID)},
		{b.size(), size},
		{b.mtime(), mtime},
		{b.devmajor(), h.Devmajor},
		{b.devminor(), h.Devminor},
	} {
		if err := formatNumeric(f.dst, f.v); err != nil {
			return nil, err
		}
	}
	if err := formatString(b.uname()[:31], h.Uname); err != nil {
		return nil, err
	}
	if err := formatString(b.gname()[:31], h.Gname); err != nil {
		return nil, err
	}

	if gnu {
		copy(b.magic(), magicGNU)
		copy(b.version(), versionGNU)
	} else {
		copy(b.magic(), magicUSTAR)
		copy(b.version(), versionUSTAR)
	}
	b.setChecksum()
	return &b, nil
}

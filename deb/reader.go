package deb

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/etnz/debpack/arfile"
	"github.com/etnz/debpack/control"
	"github.com/etnz/debpack/lzma"
	"github.com/etnz/debpack/stream"
	"github.com/etnz/debpack/tarfile"
	"github.com/etnz/debpack/xz"
)

// maxControlMember bounds the size of a single file read from control.tar.
const maxControlMember = 16 << 20

// DebPackage is the content of a .deb file except its payload.
type DebPackage struct {
	// FormatVersion is the content of debian-binary, without the newline.
	FormatVersion string
	Control       control.Fields
	Scripts       Scripts
	MD5Sums       map[string]string
	// ControlExtras holds every other file of the control archive, such as
	// conffiles, triggers or templates.
	ControlExtras map[string]ControlFileData
	// DataMember is the name of the data archive member, e.g. "data.tar.xz".
	DataMember string
	DataSize   int64
	// Signature is the content of _gpgorigin, if any.
	Signature []byte
}

// Metadata decodes the control fields.
func (d *DebPackage) Metadata() Metadata {
	return MetadataFromFields(d.Control)
}

// Conffiles lists the conffiles of the package.
func (d *DebPackage) Conffiles() []string {
	f, ok := d.ControlExtras[string(FileConffiles)]
	if !ok {
		return nil
	}
	var res []string
	for _, l := range strings.Split(string(f.Contents), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			res = append(res, l)
		}
	}
	return res
}

// Read parses the ar container and the control archive of a .deb. The
// data archive is not decompressed; see OpenPayload.
func Read(r io.Reader) (*DebPackage, error) {
	ar, err := arfile.NewReader(r)
	if err != nil {
		return nil, err
	}
	d := &DebPackage{ControlExtras: make(map[string]ControlFileData)}
	var sawControl bool
	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case hdr.Name == string(PkgDebianBinary):
			raw, err := io.ReadAll(io.LimitReader(ar, 64))
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", hdr.Name, err)
			}
			d.FormatVersion = strings.TrimSpace(string(raw))
		case strings.HasPrefix(hdr.Name, "control.tar"):
			if err := d.readControl(hdr.Name, ar); err != nil {
				return nil, err
			}
			sawControl = true
		case strings.HasPrefix(hdr.Name, dataPrefix):
			d.DataMember = hdr.Name
			d.DataSize = hdr.Size
		case hdr.Name == string(PkgGPGOrigin):
			if d.Signature, err = io.ReadAll(ar); err != nil {
				return nil, fmt.Errorf("reading %s: %w", hdr.Name, err)
			}
		}
	}
	switch {
	case d.FormatVersion == "":
		return nil, fmt.Errorf("%w: %s", ErrMissingMember, PkgDebianBinary)
	case !sawControl:
		return nil, fmt.Errorf("%w: %s", ErrMissingMember, PkgControlTarGz)
	case d.DataMember == "":
		return nil, fmt.Errorf("%w: data.tar.*", ErrMissingMember)
	case d.Control == nil:
		return nil, fmt.Errorf("%w: control file in %s", ErrMissingMember, PkgControlTarGz)
	}
	return d, nil
}

func (d *DebPackage) readControl(name string, r io.Reader) error {
	var src io.Reader
	switch name {
	case string(PkgControlTarGz):
		zr, err := stream.NewGzipReader(r, true)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		defer zr.Close()
		src = zr
	case string(PkgControlTar):
		src = r
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCompression, name)
	}

	tr := tarfile.NewReader(src)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		if h.Typeflag != tarfile.TypeReg && h.Typeflag != tarfile.TypeRegA {
			continue
		}
		if h.Size > maxControlMember {
			return fmt.Errorf("reading %s: %s is %d bytes", name, h.Name, h.Size)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("reading %s from %s: %w", h.Name, name, err)
		}

		base := strings.TrimPrefix(strings.TrimPrefix(h.Name, "./"), "/")
		switch ControlFile(base) {
		case FileControl:
			if d.Control, err = control.Parse(bytes.NewReader(content)); err != nil {
				return fmt.Errorf("parsing control file: %w", err)
			}
		case FileMd5sums:
			if d.MD5Sums, err = control.ParseMD5Sums(bytes.NewReader(content)); err != nil {
				return err
			}
		default:
			if !d.Scripts.set(ControlFile(base), string(content)) {
				d.ControlExtras[base] = ControlFileData{Mode: h.Mode, Contents: content}
			}
		}
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	xzMagic   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// OpenPayload finds the data archive in the .deb read from r and returns its
// decompressed tar stream. codec is only used for xz payloads; nil loads the
// system liblzma. Closing the result does not close r.
func OpenPayload(r io.Reader, codec lzma.Codec) (io.ReadCloser, error) {
	ar, err := arfile.NewReader(r)
	if err != nil {
		return nil, err
	}
	for {
		hdr, err := ar.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("%w: data.tar.*", ErrMissingMember)
		}
		if err != nil {
			return nil, err
		}
		if strings.HasPrefix(hdr.Name, dataPrefix) {
			body, err := ar.Open()
			if err != nil {
				return nil, err
			}
			return decompress(hdr.Name, body, codec)
		}
	}
}

func decompress(name string, body io.Reader, codec lzma.Codec) (io.ReadCloser, error) {
	br := bufio.NewReader(body)
	var magic []byte
	switch PackageFile(name) {
	case PkgDataTarGz:
		magic = gzipMagic
	case PkgDataTarXz:
		magic = xzMagic
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, name)
	}
	head, err := br.Peek(len(magic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if !bytes.Equal(head, magic) {
		return nil, fmt.Errorf("%w: %s does not start with the expected magic", ErrUnsupportedCompression, name)
	}

	if magic[0] == gzipMagic[0] {
		zr, err := stream.NewGzipReader(br, true)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return zr, nil
	}
	if codec == nil {
		lib, err := lzma.Load()
		if err != nil {
			return nil, err
		}
		codec = lib
	}
	zr, err := xz.NewReader(br, codec, xz.WithLeaveOpen(true))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return zr, nil
}

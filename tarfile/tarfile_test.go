package tarfile

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/etnz/debpack/fsmode"
)

var (
	mtime     = time.Unix(1700000000, 0)
	longDir   = "./usr/share/" + strings.Repeat("d", 90) + "/"
	splitName = longDir + "file.txt"
	gnuName   = "./opt/" + strings.Repeat("n", 120)
	longLink  = "/" + strings.Repeat("t", 150)
)

type entry struct {
	hdr  Header
	body string
}

func sampleEntries() []entry {
	return []entry{
		{Header{Name: "./", Mode: fsmode.DirDefault, Typeflag: TypeDir, Uname: "root", Gname: "root", ModTime: mtime}, ""},
		{Header{Name: "./usr/bin/app", Mode: fsmode.S_IFREG | 0755, Typeflag: TypeReg, Size: 13, Uname: "root", Gname: "root", ModTime: mtime}, "#!/bin/sh\nok\n"},
		{Header{Name: "./usr/bin/link", Mode: fsmode.S_IFLNK | 0777, Typeflag: TypeSymlink, Linkname: "app", ModTime: mtime}, ""},
		{Header{Name: splitName, Mode: fsmode.S_IFREG | 0644, Typeflag: TypeReg, Size: 600, ModTime: mtime}, strings.Repeat("x", 600)},
		{Header{Name: gnuName, Mode: fsmode.S_IFREG | 0600, Typeflag: TypeReg, Size: 1, UID: 1000, GID: 1000, ModTime: mtime}, "y"},
		{Header{Name: "./usr/lib/far", Mode: fsmode.S_IFLNK | 0777, Typeflag: TypeSymlink, Linkname: longLink, ModTime: mtime}, ""},
	}
}

func writeSample(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := NewWriter(&buf)
	for _, e := range sampleEntries() {
		h := e.hdr
		if err := tw.WriteHeader(&h); err != nil {
			t.Fatalf("WriteHeader(%s) failed: %v", h.Name, err)
		}
		if _, err := io.WriteString(tw, e.body); err != nil {
			t.Fatalf("Write(%s) failed: %v", h.Name, err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return buf.Bytes()
}

func TestWriterLayout(t *testing.T) {
	data := writeSample(t)
	if len(data)%BlockSize != 0 {
		t.Errorf("archive length %d is not block aligned", len(data))
	}
	if !bytes.Equal(data[len(data)-2*BlockSize:], make([]byte, 2*BlockSize)) {
		t.Errorf("archive does not end with two zero records")
	}
}

func TestReadableByArchiveTar(t *testing.T) {
	tr := tar.NewReader(bytes.NewReader(writeSample(t)))
	for _, e := range sampleEntries() {
		hdr, err := tr.Next()
		if err != nil {
			t.Fatalf("archive/tar Next failed before %s: %v", e.hdr.Name, err)
		}
		if hdr.Name != e.hdr.Name {
			t.Errorf("expected name %q, got %q", e.hdr.Name, hdr.Name)
		}
		if hdr.Typeflag != e.hdr.Typeflag {
			t.Errorf("%s: expected type %c, got %c", e.hdr.Name, e.hdr.Typeflag, hdr.Typeflag)
		}
		if hdr.Linkname != e.hdr.Linkname {
			t.Errorf("%s: expected link %q, got %q", e.hdr.Name, e.hdr.Linkname, hdr.Linkname)
		}
		if hdr.Mode != int64(e.hdr.Mode.Perm()) {
			t.Errorf("%s: expected mode %o, got %o", e.hdr.Name, e.hdr.Mode.Perm(), hdr.Mode)
		}
		if !hdr.ModTime.Equal(mtime) {
			t.Errorf("%s: unexpected mtime %v", e.hdr.Name, hdr.ModTime)
		}
		if hdr.Uid != e.hdr.UID || hdr.Uname != e.hdr.Uname {
			t.Errorf("%s: unexpected owner %d/%q", e.hdr.Name, hdr.Uid, hdr.Uname)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("%s: read failed: %v", e.hdr.Name, err)
		}
		if string(body) != e.body {
			t.Errorf("%s: body mismatch", e.hdr.Name)
		}
	}
	if _, err := tr.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestReadsOwnOutput(t *testing.T) {
	data := writeSample(t)
	sources := map[string]func() io.Reader{
		"seekable":   func() io.Reader { return bytes.NewReader(data) },
		"sequential": func() io.Reader { return io.MultiReader(bytes.NewReader(data)) },
	}
	for name, src := range sources {
		t.Run(name, func(t *testing.T) {
			tr := NewReader(src())
			for _, e := range sampleEntries() {
				hdr, err := tr.Next()
				if err != nil {
					t.Fatalf("Next failed before %s: %v", e.hdr.Name, err)
				}
				if hdr.Name != e.hdr.Name || hdr.Linkname != e.hdr.Linkname {
					t.Errorf("expected %q -> %q, got %q -> %q", e.hdr.Name, e.hdr.Linkname, hdr.Name, hdr.Linkname)
				}
				if hdr.Mode != e.hdr.Mode {
					t.Errorf("%s: expected mode %v, got %v", e.hdr.Name, e.hdr.Mode, hdr.Mode)
				}
				body, err := io.ReadAll(tr)
				if err != nil {
					t.Fatalf("%s: read failed: %v", e.hdr.Name, err)
				}
				if string(body) != e.body {
					t.Errorf("%s: body mismatch", e.hdr.Name)
				}
			}
			if _, err := tr.Next(); err != io.EOF {
				t.Errorf("expected io.EOF, got %v", err)
			}
			if _, err := tr.Next(); err != io.EOF {
				t.Errorf("expected io.EOF to repeat, got %v", err)
			}
		})
	}
}

func TestReadsArchiveTarOutput(t *testing.T) {
	paxName := "./" + strings.Repeat("p", 300)
	for _, format := range []tar.Format{tar.FormatUSTAR, tar.FormatGNU, tar.FormatPAX} {
		var buf bytes.Buffer
		tw := tar.NewWriter(&buf)
		names := []string{"./etc/app.conf", splitName}
		if format != tar.FormatUSTAR {
			names = append(names, paxName)
		}
		for _, name := range names {
			tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: 5, ModTime: mtime, Typeflag: tar.TypeReg, Format: format})
			tw.Write([]byte("hello"))
		}
		tw.WriteHeader(&tar.Header{Name: "./etc/", Mode: 0755, ModTime: mtime, Typeflag: tar.TypeDir, Format: format})
		tw.Close()

		tr := NewReader(io.MultiReader(&buf))
		for _, name := range names {
			hdr, err := tr.Next()
			if err != nil {
				t.Fatalf("%v: Next failed before %s: %v", format, name, err)
			}
			if hdr.Name != name || hdr.Size != 5 {
				t.Errorf("%v: expected %s (5 bytes), got %s (%d bytes)", format, name, hdr.Name, hdr.Size)
			}
			body, _ := io.ReadAll(tr)
			if string(body) != "hello" {
				t.Errorf("%v: %s body mismatch", format, name)
			}
		}
		hdr, err := tr.Next()
		if err != nil || !hdr.Mode.IsDir() {
			t.Errorf("%v: expected directory entry, got %+v, %v", format, hdr, err)
		}
		if _, err := tr.Next(); err != io.EOF {
			t.Errorf("%v: expected io.EOF, got %v", format, err)
		}
	}
}

func TestSkip(t *testing.T) {
	tr := NewReader(io.MultiReader(bytes.NewReader(writeSample(t))))
	for i := 0; i < 3; i++ {
		if _, err := tr.Next(); err != nil {
			t.Fatalf("Next failed: %v", err)
		}
	}
	hdr, err := tr.Next()
	if err != nil || hdr.Name != splitName {
		t.Fatalf("expected %s, got %v, %v", splitName, hdr, err)
	}
	io.ReadFull(tr, make([]byte, 100))
	if err := tr.Skip(); err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	hdr, err = tr.Next()
	if err != nil || hdr.Name != gnuName {
		t.Fatalf("expected %s after Skip, got %v, %v", gnuName, hdr, err)
	}
}

func TestChecksumMismatch(t *testing.T) {
	data := writeSample(t)
	data[0] ^= 0x01
	if _, err := NewReader(bytes.NewReader(data)).Next(); !errors.Is(err, ErrChecksum) {
		t.Errorf("expected ErrChecksum, got %v", err)
	}
}

func TestTruncatedHeader(t *testing.T) {
	data := writeSample(t)[:300]
	if _, err := NewReader(bytes.NewReader(data)).Next(); !errors.Is(err, ErrHeader) {
		t.Errorf("expected ErrHeader, got %v", err)
	}
}

func TestWriteTooLong(t *testing.T) {
	tw := NewWriter(io.Discard)
	if err := tw.WriteHeader(&Header{Name: "./a", Mode: 0644, Size: 3}); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	n, err := tw.Write([]byte("abcd"))
	if n != 3 || !errors.Is(err, ErrWriteTooLong) {
		t.Errorf("expected 3 bytes and ErrWriteTooLong, got %d, %v", n, err)
	}

	tw = NewWriter(io.Discard)
	tw.WriteHeader(&Header{Name: "./b", Mode: 0644, Size: 3})
	tw.Write([]byte("a"))
	if err := tw.Close(); err == nil {
		t.Errorf("expected an error when closing a short entry")
	}
}

func TestNumericFields(t *testing.T) {
	field := make([]byte, 12)
	big := int64(1) << 40
	if err := formatNumeric(field, big); err != nil {
		t.Fatalf("formatNumeric failed: %v", err)
	}
	if field[0] != 0x80 {
		t.Errorf("expected base-256 marker for %d", big)
	}
	if got, err := parseNumeric(field); err != nil || got != big {
		t.Errorf("expected %d, got %d, %v", big, got, err)
	}

	if err := formatNumeric(field, 0644); err != nil {
		t.Fatalf("formatNumeric failed: %v", err)
	}
	if string(field) != "00000000644\x00" {
		t.Errorf("unexpected octal encoding %q", field)
	}
}

package stream

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// rwsBuffer is an in-memory io.ReadWriteSeeker.
type rwsBuffer struct {
	data []byte
	pos  int64
}

func (b *rwsBuffer) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *rwsBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		b.data = append(b.data, make([]byte, end-int64(len(b.data)))...)
	}
	copy(b.data[b.pos:], p)
	b.pos = end
	return len(p), nil
}

func (b *rwsBuffer) Seek(off int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = off
	case io.SeekCurrent:
		b.pos += off
	case io.SeekEnd:
		b.pos = int64(len(b.data)) + off
	}
	return b.pos, nil
}

func TestSubStreamReadStaysInWindow(t *testing.T) {
	shared := NewShared(bytes.NewReader([]byte("0123456789abcdef")))
	w := shared.Window(4, 6)

	got, err := io.ReadAll(w)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "456789" {
		t.Errorf("expected 456789, got %q", got)
	}

	if _, err := w.Seek(-2, io.SeekEnd); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	got, _ = io.ReadAll(w)
	if string(got) != "89" {
		t.Errorf("expected 89 after SeekEnd, got %q", got)
	}
}

func TestSubStreamWriteBounds(t *testing.T) {
	buf := &rwsBuffer{data: []byte("xxxxxxxxxx")}
	shared := NewShared(buf)
	w := shared.Window(2, 4)

	if _, err := w.Write([]byte("abcd")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if string(buf.data) != "xxabcdxxxx" {
		t.Errorf("unexpected content %q", buf.data)
	}
	if _, err := w.Write([]byte("e")); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}

	ro := shared.Window(0, 2, ReadOnly())
	if _, err := ro.Write([]byte("z")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly, got %v", err)
	}

	notWritable := NewShared(bytes.NewReader([]byte("abc"))).Window(0, 3)
	if _, err := notWritable.Write([]byte("z")); !errors.Is(err, ErrReadOnly) {
		t.Errorf("expected ErrReadOnly for a reader-only stream, got %v", err)
	}
}

func TestSubStreamInterleavedWindows(t *testing.T) {
	data := bytes.Repeat([]byte("a"), 1000)
	data = append(data, bytes.Repeat([]byte("b"), 1000)...)
	shared := NewShared(bytes.NewReader(data))

	a := shared.Window(0, 1000)
	b := shared.Window(1000, 1000)

	var gotA, gotB bytes.Buffer
	p := make([]byte, 7)
	for {
		na, errA := a.Read(p)
		gotA.Write(p[:na])
		nb, errB := b.Read(p)
		gotB.Write(p[:nb])
		if errA == io.EOF && errB == io.EOF {
			break
		}
	}
	if gotA.String() != strings.Repeat("a", 1000) {
		t.Errorf("window a read foreign bytes")
	}
	if gotB.String() != strings.Repeat("b", 1000) {
		t.Errorf("window b read foreign bytes")
	}
}

func TestSubStreamConcurrentWindows(t *testing.T) {
	var data []byte
	for i := 0; i < 8; i++ {
		data = append(data, bytes.Repeat([]byte{byte('a' + i)}, 4096)...)
	}
	shared := NewShared(bytes.NewReader(data))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := io.ReadAll(shared.Window(int64(i)*4096, 4096))
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(got, bytes.Repeat([]byte{byte('a' + i)}, 4096)) {
				errs <- errors.New("window content mismatch")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSubStreamOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	shared := NewShared(f)
	if err := shared.Window(0, 5).Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Errorf("file closed by a non-owning window: %v", err)
	}

	if err := shared.Window(0, 5, OwnUnderlying()).Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err == nil {
		t.Errorf("file still open after owning window closed")
	}
}

func TestCursorSeekableAndSequential(t *testing.T) {
	data := []byte("HEADpayload-one|HEADpayload-two|")

	for _, seekable := range []bool{true, false} {
		var src io.Reader = bytes.NewReader(data)
		if !seekable {
			src = io.MultiReader(bytes.NewReader(data))
		}
		c := NewCursor(src)
		if c.Seekable() != seekable {
			t.Fatalf("expected seekable=%v", seekable)
		}

		var got []string
		for i := 0; i < 2; i++ {
			head := make([]byte, 4)
			if _, err := c.ReadFull(head); err != nil {
				t.Fatalf("ReadFull failed: %v", err)
			}
			start := c.Pos()
			sec := c.Section(11)
			// Read only part of the section; SkipTo must still land after it.
			p := make([]byte, 7)
			if _, err := io.ReadFull(sec, p); err != nil {
				t.Fatalf("section read failed: %v", err)
			}
			got = append(got, string(p))
			sec.Close()
			if err := c.SkipTo(start + 12); err != nil {
				t.Fatalf("SkipTo failed: %v", err)
			}
		}
		if got[0] != "payload" || got[1] != "payload" {
			t.Errorf("seekable=%v: unexpected sections %v", seekable, got)
		}
		if _, err := c.ReadFull(make([]byte, 1)); err != io.EOF {
			t.Errorf("seekable=%v: expected io.EOF at end, got %v", seekable, err)
		}
	}
}

func TestGzipReaderPosition(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(strings.Repeat("debian ", 100)))
	zw.Close()

	zr, err := NewGzipReader(&buf, true)
	if err != nil {
		t.Fatalf("NewGzipReader failed: %v", err)
	}
	defer zr.Close()

	p := make([]byte, 10)
	if _, err := io.ReadFull(zr, p); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if zr.Position() != 10 {
		t.Errorf("expected position 10, got %d", zr.Position())
	}
	rest, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if zr.Position() != int64(10+len(rest)) || zr.Position() != 700 {
		t.Errorf("expected position 700, got %d", zr.Position())
	}
}

func TestCountingWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := &CountingWriter{W: &buf}

	n, err := cw.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != 5 || cw.N != 5 {
		t.Errorf("expected 5 bytes counted, got n=%d N=%d", n, cw.N)
	}
	if buf.String() != "hello" {
		t.Errorf("buffer mismatch")
	}
}

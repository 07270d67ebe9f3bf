package xz

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/etnz/debpack/lzma"
	pure "github.com/therootcompany/xz"
)

// copyCodec is an lzma.Codec whose "compression" is the identity. It records
// how it was driven.
type copyCodec struct {
	mt       bool
	initMT   int
	initEasy int
	ends     int
	// failAt makes Code return DataError once this many bytes were produced.
	failAt uint64
}

func (c *copyCodec) StreamDecoder(*lzma.Stream, uint64, uint32) lzma.Ret { return lzma.OK }
func (c *copyCodec) EasyEncoder(*lzma.Stream, uint32, lzma.Check) lzma.Ret {
	c.initEasy++
	return lzma.OK
}
func (c *copyCodec) StreamEncoderMT(*lzma.Stream, *lzma.MT) lzma.Ret {
	c.initMT++
	return lzma.OK
}
func (c *copyCodec) SupportsMultiThreading() bool { return c.mt }
func (c *copyCodec) End(*lzma.Stream)             { c.ends++ }

func (c *copyCodec) Code(s *lzma.Stream, action lzma.Action) lzma.Ret {
	if c.failAt > 0 && s.TotalOut() >= c.failAt {
		return lzma.DataError
	}
	n := copy(s.OutputSpace(), s.Input())
	s.Consume(n)
	s.Produce(n)
	if action == lzma.Finish && s.AvailIn() == 0 {
		return lzma.StreamEnd
	}
	return lzma.OK
}

func (c *copyCodec) StreamBufferBound(size int) int { return size }
func (c *copyCodec) EasyBufferEncode(_ uint32, _ lzma.Check, in, out []byte) (int, lzma.Ret) {
	return copy(out, in), lzma.OK
}
func (c *copyCodec) StreamFooterDecode(*lzma.StreamFlags, []byte) lzma.Ret { return lzma.ProgError }
func (c *copyCodec) IndexBufferDecode(*lzma.Index, *uint64, []byte, *int) lzma.Ret {
	return lzma.ProgError
}
func (c *copyCodec) IndexUncompressedSize(lzma.Index) uint64 { return 0 }
func (c *copyCodec) IndexEnd(lzma.Index)                     {}

type closeRecorder struct {
	bytes.Buffer
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func TestReaderServesDecodedBytes(t *testing.T) {
	data := randomBytes(200_000)
	codec := &copyCodec{}
	z, err := NewReader(bytes.NewReader(data), codec)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}

	var got bytes.Buffer
	p := make([]byte, 1000)
	for {
		n, err := z.Read(p)
		got.Write(p[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
	}
	if !bytes.Equal(got.Bytes(), data) {
		t.Errorf("decoded bytes differ")
	}
	if z.Position() != int64(len(data)) {
		t.Errorf("expected position %d, got %d", len(data), z.Position())
	}
	if codec.ends != 1 {
		t.Errorf("expected End once at stream end, got %d", codec.ends)
	}
	z.Close()
	z.Close()
	if codec.ends != 1 {
		t.Errorf("expected End exactly once after Close, got %d", codec.ends)
	}
	if _, err := z.Read(p); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestReaderCodecError(t *testing.T) {
	codec := &copyCodec{failAt: 5000}
	z, err := NewReader(bytes.NewReader(randomBytes(100_000)), codec)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	_, err = io.ReadAll(z)
	if !errors.Is(err, lzma.ErrData) {
		t.Fatalf("expected lzma.ErrData, got %v", err)
	}
	z.Close()
	if codec.ends != 1 {
		t.Errorf("expected End exactly once, got %d", codec.ends)
	}
}

func TestReaderLengthNeedsSeeker(t *testing.T) {
	z, err := NewReader(io.MultiReader(bytes.NewReader(nil)), &copyCodec{})
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer z.Close()
	if _, err := z.Length(); !errors.Is(err, ErrNotSeekable) {
		t.Errorf("expected ErrNotSeekable, got %v", err)
	}
}

func TestWriterFlushesAndReleases(t *testing.T) {
	data := randomBytes(100_000)
	codec := &copyCodec{}
	dst := &closeRecorder{}
	zw, err := NewWriter(dst, codec)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for off := 0; off < len(data); off += 7777 {
		end := min(off+7777, len(data))
		if n, err := zw.Write(data[off:end]); err != nil || n != end-off {
			t.Fatalf("Write: n=%d err=%v", n, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !bytes.Equal(dst.Bytes(), data) {
		t.Errorf("encoded output differs")
	}
	if codec.ends != 1 || dst.closed != 1 {
		t.Errorf("expected one End and one Close, got %d and %d", codec.ends, dst.closed)
	}
	if _, err := zw.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestWriterLeaveOpen(t *testing.T) {
	dst := &closeRecorder{}
	zw, err := NewWriter(dst, &copyCodec{}, WithLeaveOpen(true))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	zw.Write([]byte("abc"))
	if err := zw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if dst.closed != 0 {
		t.Errorf("destination closed despite WithLeaveOpen")
	}
}

func TestWriterReleasesOnFailure(t *testing.T) {
	codec := &copyCodec{failAt: 4096}
	zw, err := NewWriter(io.Discard, codec)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := zw.Write(randomBytes(50_000)); !errors.Is(err, lzma.ErrData) {
		t.Errorf("expected lzma.ErrData from Write, got %v", err)
	}
	if err := zw.Close(); !errors.Is(err, lzma.ErrData) {
		t.Errorf("expected lzma.ErrData from Close, got %v", err)
	}
	if codec.ends != 1 {
		t.Errorf("expected End exactly once, got %d", codec.ends)
	}
}

func TestWriterThreadSelection(t *testing.T) {
	tests := []struct {
		name     string
		mt       bool
		opts     []Option
		wantMT   bool
		wantThrd int
	}{
		{"default is single-threaded", true, nil, false, 1},
		{"one thread", true, []Option{WithThreads(1)}, false, 1},
		{"no native support", false, []Option{WithThreads(4)}, false, 1},
		{"all cpus", true, []Option{WithThreads(0)}, runtime.NumCPU() > 1, max(runtime.NumCPU(), 1)},
		{"capped", true, []Option{WithThreads(runtime.NumCPU() + 10)}, runtime.NumCPU() > 1, runtime.NumCPU()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			codec := &copyCodec{mt: tc.mt}
			zw, err := NewWriter(io.Discard, codec, tc.opts...)
			if err != nil {
				t.Fatalf("NewWriter failed: %v", err)
			}
			defer zw.Close()
			if (codec.initMT == 1) != tc.wantMT {
				t.Errorf("multi-threaded init: got %d calls, want %v", codec.initMT, tc.wantMT)
			}
			if zw.Threads() != tc.wantThrd && tc.wantMT {
				t.Errorf("expected %d threads, got %d", tc.wantThrd, zw.Threads())
			}
		})
	}
}

func loadCodec(t *testing.T) *lzma.Library {
	t.Helper()
	lib, err := lzma.Load()
	if err != nil {
		t.Skipf("liblzma unavailable: %v", err)
	}
	return lib
}

func TestNativeRoundTrip(t *testing.T) {
	lib := loadCodec(t)
	for _, size := range []int{0, 1, 3 << 20} {
		data := bytes.Repeat(randomBytes(min(size, 4096)), max(size/4096, 1))[:size]

		var buf bytes.Buffer
		zw, err := NewWriter(&buf, lib)
		if err != nil {
			t.Fatalf("NewWriter failed: %v", err)
		}
		if _, err := zw.Write(data); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		z, err := NewReader(bytes.NewReader(buf.Bytes()), lib)
		if err != nil {
			t.Fatalf("NewReader failed: %v", err)
		}
		length, err := z.Length()
		if err != nil {
			t.Fatalf("size %d: Length failed: %v", size, err)
		}
		if length != int64(size) {
			t.Errorf("size %d: Length returned %d", size, length)
		}
		got, err := io.ReadAll(z)
		if err != nil {
			t.Fatalf("size %d: ReadAll failed: %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("size %d: round trip mismatch", size)
		}
		z.Close()
	}
}

func TestEncodeDecodesWithReader(t *testing.T) {
	lib := loadCodec(t)
	for _, size := range []int{0, 1, 3 << 20} {
		data := bytes.Repeat(randomBytes(min(size, 4096)), max(size/4096, 1))[:size]
		compressed, err := Encode(lib, data, lzma.PresetDefault)
		if err != nil {
			t.Fatalf("size %d: Encode failed: %v", size, err)
		}

		z, err := NewReader(bytes.NewReader(compressed), lib)
		if err != nil {
			t.Fatalf("size %d: NewReader failed: %v", size, err)
		}
		length, err := z.Length()
		if err != nil {
			t.Fatalf("size %d: Length failed: %v", size, err)
		}
		if length != int64(size) {
			t.Errorf("size %d: Length returned %d", size, length)
		}
		got, err := io.ReadAll(z)
		if err != nil {
			t.Fatalf("size %d: ReadAll failed: %v", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("size %d: decoded bytes differ from the input", size)
		}
		if err := z.Close(); err != nil {
			t.Errorf("size %d: Close failed: %v", size, err)
		}
	}
}

// TestNativeUnderGCPressure drives the codec while the collector runs
// continuously, so a native cursor left past the end of a buffer would be
// caught by the runtime.
func TestNativeUnderGCPressure(t *testing.T) {
	lib := loadCodec(t)
	defer debug.SetGCPercent(debug.SetGCPercent(1))

	data := bytes.Repeat(randomBytes(4096), 64)
	for i := 0; i < 20; i++ {
		compressed, err := Encode(lib, data, 1)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		var buf bytes.Buffer
		zw, err := NewWriter(&buf, lib, WithPreset(1))
		if err != nil {
			t.Fatalf("NewWriter failed: %v", err)
		}
		if _, err := zw.Write(data); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}

		for _, c := range [][]byte{compressed, buf.Bytes()} {
			z, err := NewReader(bytes.NewReader(c), lib)
			if err != nil {
				t.Fatalf("NewReader failed: %v", err)
			}
			got, err := io.ReadAll(z)
			z.Close()
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatalf("iteration %d: decoded bytes differ from the input", i)
			}
		}
		runtime.GC()
	}
}

func TestNativeOutputDecodesWithPureGo(t *testing.T) {
	lib := loadCodec(t)
	data := bytes.Repeat([]byte("usr/share/doc/debpack/copyright\n"), 5000)

	single, err := Encode(lib, data, lzma.PresetDefault)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var streamed bytes.Buffer
	zw, err := NewWriter(&streamed, lib, WithThreads(2), WithPreset(1))
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	zw.Write(data)
	if err := zw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	for name, compressed := range map[string][]byte{"Encode": single, "Writer": streamed.Bytes()} {
		r, err := pure.NewReader(bytes.NewReader(compressed), pure.DefaultDictMax)
		if err != nil {
			t.Fatalf("%s: pure-Go reader rejected output: %v", name, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("%s: pure-Go decode failed: %v", name, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("%s: pure-Go decode mismatch", name)
		}
	}
}

func TestNativeTruncatedInput(t *testing.T) {
	lib := loadCodec(t)
	compressed, err := Encode(lib, randomBytes(100_000), lzma.PresetDefault)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	z, err := NewReader(bytes.NewReader(compressed[:len(compressed)/2]), lib)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer z.Close()
	if _, err := io.ReadAll(z); !errors.Is(err, lzma.ErrBuf) {
		t.Errorf("expected lzma.ErrBuf, got %v", err)
	}
}

func TestNativeRejectsGarbage(t *testing.T) {
	lib := loadCodec(t)
	z, err := NewReader(bytes.NewReader([]byte("definitely not xz data")), lib)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer z.Close()
	if _, err := io.ReadAll(z); !errors.Is(err, lzma.ErrFormat) {
		t.Errorf("expected lzma.ErrFormat, got %v", err)
	}
}

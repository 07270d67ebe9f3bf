package lzma

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type fakeLoader struct {
	libs    map[string]bool
	missing map[string]bool
}

func (f fakeLoader) open(name string) (uintptr, error) {
	if !f.libs[name] {
		return 0, errors.New("no such file")
	}
	return 1, nil
}

func (f fakeLoader) sym(_ uintptr, name string) (uintptr, error) {
	if f.missing[name] {
		return 0, errors.New("undefined symbol")
	}
	return 0x1000, nil
}

func TestOpenTriesCandidatesInOrder(t *testing.T) {
	ld := fakeLoader{libs: map[string]bool{"second.so": true}}
	lib, err := open(ld, []string{"first.so", "second.so"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if lib.Path != "second.so" {
		t.Errorf("expected second.so, got %s", lib.Path)
	}
	if !lib.SupportsMultiThreading() {
		t.Errorf("expected multi-threading support when lzma_stream_encoder_mt resolves")
	}
}

func TestOpenReportsMissingLibrary(t *testing.T) {
	_, err := open(fakeLoader{}, []string{"a.so", "b.so"})
	if !errors.Is(err, ErrLibraryNotFound) {
		t.Fatalf("expected ErrLibraryNotFound, got %v", err)
	}
	if !IsNotFound(err) {
		t.Errorf("IsNotFound should hold for %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"a.so", "b.so", EnvLibrary} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestOpenReportsMissingSymbol(t *testing.T) {
	ld := fakeLoader{libs: map[string]bool{"x.so": true}, missing: map[string]bool{"lzma_code": true}}
	_, err := open(ld, []string{"x.so"})
	if !errors.Is(err, ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "lzma_code") {
		t.Errorf("error %q does not name the symbol", err)
	}
}

func TestOpenWithoutMultiThreading(t *testing.T) {
	ld := fakeLoader{libs: map[string]bool{"x.so": true}, missing: map[string]bool{"lzma_stream_encoder_mt": true}}
	lib, err := open(ld, []string{"x.so"})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if lib.SupportsMultiThreading() {
		t.Errorf("expected no multi-threading support")
	}
	if ret := lib.StreamEncoderMT(NewStream(1, 1), &MT{}); ret != OptionsError {
		t.Errorf("expected OptionsError, got %v", ret)
	}
}

func TestRetErr(t *testing.T) {
	tests := []struct {
		code Ret
		want error
	}{
		{MemError, ErrMem},
		{MemLimitError, ErrMemLimit},
		{OptionsError, ErrOptions},
		{FormatError, ErrFormat},
		{DataError, ErrData},
		{BufError, ErrBuf},
		{UnsupportedCheck, ErrUnsupportedCheck},
		{ProgError, ErrProg},
		{Ret(42), ErrProg},
	}
	for _, tc := range tests {
		err := tc.code.Err("lzma_code")
		if !errors.Is(err, tc.want) {
			t.Errorf("%v: expected %v, got %v", tc.code, tc.want, err)
		}
		var lerr *Error
		if !errors.As(err, &lerr) || lerr.Code != tc.code {
			t.Errorf("%v: expected *Error carrying the code, got %#v", tc.code, err)
		}
	}
	if OK.Err("x") != nil || StreamEnd.Err("x") != nil {
		t.Errorf("OK and StreamEnd must not be errors")
	}
}

func TestStreamBuffers(t *testing.T) {
	s := NewStream(4, 8)
	n, err := s.Fill(bytes.NewReader([]byte("abcdef")))
	if err != nil || n != 4 {
		t.Fatalf("Fill: n=%d err=%v", n, err)
	}
	if _, err := s.Fill(bytes.NewReader([]byte("x"))); err == nil {
		t.Errorf("Fill with pending input should fail")
	}
	if string(s.Input()) != "abcd" {
		t.Errorf("unexpected input %q", s.Input())
	}
	s.Consume(3)
	if string(s.Input()) != "d" || s.TotalIn() != 3 {
		t.Errorf("after Consume: input %q total %d", s.Input(), s.TotalIn())
	}
	if s.Feed([]byte("zz")) != 0 {
		t.Errorf("Feed with pending input should take nothing")
	}
	s.Consume(1)
	if s.Feed([]byte("123456")) != 4 || string(s.Input()) != "1234" {
		t.Errorf("Feed did not fill the buffer")
	}

	copy(s.OutputSpace(), "hello")
	s.Produce(5)
	if string(s.Output()) != "hello" || s.AvailOut() != 3 || s.TotalOut() != 5 {
		t.Errorf("unexpected output state %q avail=%d", s.Output(), s.AvailOut())
	}
	s.ResetOutput()
	if len(s.Output()) != 0 || s.AvailOut() != 8 || s.TotalOut() != 5 {
		t.Errorf("ResetOutput should only clear the buffer")
	}
}

func TestLibraryBufferEncode(t *testing.T) {
	lib, err := Load()
	if err != nil {
		t.Skipf("liblzma unavailable: %v", err)
	}
	in := bytes.Repeat([]byte("debian package "), 1000)
	out := make([]byte, lib.StreamBufferBound(len(in)))
	n, ret := lib.EasyBufferEncode(PresetDefault, CheckCRC64, in, out)
	if ret != OK {
		t.Fatalf("EasyBufferEncode: %v", ret)
	}
	if !bytes.HasPrefix(out[:n], []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}) {
		t.Errorf("output lacks the xz magic")
	}

	var flags StreamFlags
	if ret := lib.StreamFooterDecode(&flags, out[n-StreamHeaderSize:n]); ret != OK {
		t.Fatalf("StreamFooterDecode: %v", ret)
	}
	if flags.Check != CheckCRC64 {
		t.Errorf("expected CRC64 check, got %d", flags.Check)
	}

	s := NewStream(n, len(in)+1)
	if ret := lib.StreamDecoder(s, NoMemLimit, Concatenated); ret != OK {
		t.Fatalf("StreamDecoder: %v", ret)
	}
	defer lib.End(s)
	s.Feed(out[:n])
	for {
		ret := lib.Code(s, Finish)
		if ret == StreamEnd {
			break
		}
		if err := ret.Err("lzma_code"); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	if !bytes.Equal(s.Output(), in) {
		t.Errorf("round trip mismatch")
	}
}

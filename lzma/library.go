package lzma

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// EnvLibrary names an explicit liblzma path tried before the platform
// defaults.
const EnvLibrary = "DEBPACK_LIBLZMA"

// loader abstracts the platform dynamic loader.
type loader interface {
	open(name string) (uintptr, error)
	sym(handle uintptr, name string) (uintptr, error)
}

// Library is the native Codec backed by a loaded liblzma.
type Library struct {
	Path string

	streamDecoder         func(strm unsafe.Pointer, memlimit uint64, flags uint32) int32
	easyEncoder           func(strm unsafe.Pointer, preset uint32, check int32) int32
	streamEncoderMT       func(strm unsafe.Pointer, mt unsafe.Pointer) int32
	code                  func(strm unsafe.Pointer, action int32) int32
	end                   func(strm unsafe.Pointer)
	streamBufferBound     func(size uintptr) uintptr
	easyBufferEncode      func(preset uint32, check int32, allocator unsafe.Pointer, in unsafe.Pointer, inSize uintptr, out unsafe.Pointer, outPos unsafe.Pointer, outSize uintptr) int32
	streamFooterDecode    func(options unsafe.Pointer, in unsafe.Pointer) int32
	indexBufferDecode     func(i unsafe.Pointer, memlimit unsafe.Pointer, allocator unsafe.Pointer, in unsafe.Pointer, inPos unsafe.Pointer, inSize uintptr) int32
	indexUncompressedSize func(i uintptr) uint64
	indexEnd              func(i uintptr, allocator unsafe.Pointer)

	hasMT bool
}

var (
	loadOnce sync.Once
	loaded   *Library
	loadErr  error
)

// Load opens liblzma once per process. The path in $DEBPACK_LIBLZMA is tried
// first, then the platform's usual library names.
func Load() (*Library, error) {
	loadOnce.Do(func() {
		loaded, loadErr = open(platformLoader{}, candidates())
	})
	return loaded, loadErr
}

func candidates() []string {
	var names []string
	if p := os.Getenv(EnvLibrary); p != "" {
		names = append(names, p)
	}
	return append(names, libraryNames...)
}

func open(ld loader, names []string) (*Library, error) {
	var errs []string
	for _, name := range names {
		h, err := ld.open(name)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		lib, err := bind(ld, h)
		if err != nil {
			return nil, fmt.Errorf("binding %s: %w", name, err)
		}
		lib.Path = name
		return lib, nil
	}
	return nil, fmt.Errorf("%w on %s/%s (tried %s); %s", ErrLibraryNotFound, runtime.GOOS, runtime.GOARCH, strings.Join(errs, "; "), remediation)
}

func bind(ld loader, h uintptr) (*Library, error) {
	lib := &Library{}
	required := []struct {
		name string
		fn   any
	}{
		{"lzma_stream_decoder", &lib.streamDecoder},
		{"lzma_easy_encoder", &lib.easyEncoder},
		{"lzma_code", &lib.code},
		{"lzma_end", &lib.end},
		{"lzma_stream_buffer_bound", &lib.streamBufferBound},
		{"lzma_easy_buffer_encode", &lib.easyBufferEncode},
		{"lzma_stream_footer_decode", &lib.streamFooterDecode},
		{"lzma_index_buffer_decode", &lib.indexBufferDecode},
		{"lzma_index_uncompressed_size", &lib.indexUncompressedSize},
		{"lzma_index_end", &lib.indexEnd},
	}
	for _, r := range required {
		addr, err := ld.sym(h, r.name)
		if err != nil || addr == 0 {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, r.name)
		}
		purego.RegisterFunc(r.fn, addr)
	}
	// Builds without threading support lack the MT encoder.
	if addr, err := ld.sym(h, "lzma_stream_encoder_mt"); err == nil && addr != 0 {
		purego.RegisterFunc(&lib.streamEncoderMT, addr)
		lib.hasMT = true
	}
	return lib, nil
}

// SupportsMultiThreading reports whether lzma_stream_encoder_mt is available.
func (l *Library) SupportsMultiThreading() bool { return l.hasMT }

func (l *Library) StreamDecoder(s *Stream, memlimit uint64, flags uint32) Ret {
	var p runtime.Pinner
	defer p.Unpin()
	defer s.unbind()
	return Ret(l.streamDecoder(s.bind(&p), memlimit, flags))
}

func (l *Library) EasyEncoder(s *Stream, preset uint32, check Check) Ret {
	var p runtime.Pinner
	defer p.Unpin()
	defer s.unbind()
	return Ret(l.easyEncoder(s.bind(&p), preset, int32(check)))
}

func (l *Library) StreamEncoderMT(s *Stream, mt *MT) Ret {
	if !l.hasMT {
		return OptionsError
	}
	var p runtime.Pinner
	defer p.Unpin()
	defer s.unbind()
	p.Pin(mt)
	return Ret(l.streamEncoderMT(s.bind(&p), unsafe.Pointer(mt)))
}

func (l *Library) Code(s *Stream, action Action) Ret {
	var p runtime.Pinner
	defer p.Unpin()
	defer s.unbind()
	return Ret(l.code(s.bind(&p), int32(action)))
}

func (l *Library) End(s *Stream) {
	var p runtime.Pinner
	defer p.Unpin()
	defer s.unbind()
	l.end(s.bind(&p))
}

func (l *Library) StreamBufferBound(size int) int {
	return int(l.streamBufferBound(uintptr(size)))
}

func (l *Library) EasyBufferEncode(preset uint32, check Check, in, out []byte) (int, Ret) {
	if len(out) == 0 {
		return 0, BufError
	}
	var p runtime.Pinner
	defer p.Unpin()
	var inPtr unsafe.Pointer
	if len(in) > 0 {
		inPtr = unsafe.Pointer(&in[0])
		p.Pin(inPtr)
	}
	outPtr := unsafe.Pointer(&out[0])
	p.Pin(outPtr)
	outPos := new(uintptr)
	p.Pin(outPos)
	ret := l.easyBufferEncode(preset, int32(check), nil, inPtr, uintptr(len(in)), outPtr, unsafe.Pointer(outPos), uintptr(len(out)))
	return int(*outPos), Ret(ret)
}

func (l *Library) StreamFooterDecode(flags *StreamFlags, footer []byte) Ret {
	if len(footer) < StreamHeaderSize {
		return BufError
	}
	var p runtime.Pinner
	defer p.Unpin()
	p.Pin(flags)
	p.Pin(&footer[0])
	return Ret(l.streamFooterDecode(unsafe.Pointer(flags), unsafe.Pointer(&footer[0])))
}

func (l *Library) IndexBufferDecode(index *Index, memlimit *uint64, in []byte, inPos *int) Ret {
	if len(in) == 0 {
		return BufError
	}
	var p runtime.Pinner
	defer p.Unpin()
	idx := new(uintptr)
	limit := new(uint64)
	pos := new(uintptr)
	*limit, *pos = *memlimit, uintptr(*inPos)
	p.Pin(idx)
	p.Pin(limit)
	p.Pin(pos)
	p.Pin(&in[0])
	ret := l.indexBufferDecode(unsafe.Pointer(idx), unsafe.Pointer(limit), nil, unsafe.Pointer(&in[0]), unsafe.Pointer(pos), uintptr(len(in)))
	*index, *memlimit, *inPos = Index(*idx), *limit, int(*pos)
	return Ret(ret)
}

func (l *Library) IndexUncompressedSize(index Index) uint64 {
	return l.indexUncompressedSize(uintptr(index))
}

func (l *Library) IndexEnd(index Index) {
	if index != 0 {
		l.indexEnd(uintptr(index), nil)
	}
}

// IsNotFound reports whether err means the native library is unavailable.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLibraryNotFound) || errors.Is(err, ErrSymbolNotFound)
}

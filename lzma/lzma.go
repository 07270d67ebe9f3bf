// Package lzma binds the liblzma stream API at run time.
//
// The library is located with the platform's dynamic loader (dlopen on Unix,
// LoadLibrary on Windows) and its entry points are called through purego, so
// no C toolchain is needed at build time. Callers program against the Codec
// interface; Library is the native implementation.
package lzma

import (
	"fmt"
	"io"
	"runtime"
	"unsafe"
)

// Ret is an lzma_ret result code.
type Ret int32

const (
	OK               Ret = 0
	StreamEnd        Ret = 1
	NoCheck          Ret = 2
	UnsupportedCheck Ret = 3
	GetCheck         Ret = 4
	MemError         Ret = 5
	MemLimitError    Ret = 6
	FormatError      Ret = 7
	OptionsError     Ret = 8
	DataError        Ret = 9
	BufError         Ret = 10
	ProgError        Ret = 11
)

func (r Ret) String() string {
	switch r {
	case OK:
		return "LZMA_OK"
	case StreamEnd:
		return "LZMA_STREAM_END"
	case NoCheck:
		return "LZMA_NO_CHECK"
	case UnsupportedCheck:
		return "LZMA_UNSUPPORTED_CHECK"
	case GetCheck:
		return "LZMA_GET_CHECK"
	case MemError:
		return "LZMA_MEM_ERROR"
	case MemLimitError:
		return "LZMA_MEMLIMIT_ERROR"
	case FormatError:
		return "LZMA_FORMAT_ERROR"
	case OptionsError:
		return "LZMA_OPTIONS_ERROR"
	case DataError:
		return "LZMA_DATA_ERROR"
	case BufError:
		return "LZMA_BUF_ERROR"
	case ProgError:
		return "LZMA_PROG_ERROR"
	}
	return fmt.Sprintf("lzma_ret(%d)", int32(r))
}

// Action is an lzma_action.
type Action int32

const (
	Run         Action = 0
	SyncFlush   Action = 1
	FullFlush   Action = 2
	Finish      Action = 3
	FullBarrier Action = 4
)

// Check is an lzma_check integrity check type.
type Check int32

const (
	CheckNone   Check = 0
	CheckCRC32  Check = 1
	CheckCRC64  Check = 4
	CheckSHA256 Check = 10
)

// Decoder flags for StreamDecoder.
const (
	TellNoCheck          uint32 = 0x01
	TellUnsupportedCheck uint32 = 0x02
	TellAnyCheck         uint32 = 0x04
	Concatenated         uint32 = 0x08
)

const (
	// PresetDefault is the xz command line default.
	PresetDefault uint32 = 6
	// PresetExtreme is OR-ed into a preset to select the slower variant.
	PresetExtreme uint32 = 1 << 31
	// NoMemLimit disables the decoder memory limit.
	NoMemLimit uint64 = ^uint64(0)
	// StreamHeaderSize is the size of both the xz stream header and footer.
	StreamHeaderSize = 12
)

// cStream mirrors lzma_stream. The pointer fields are written by liblzma and
// may point one past the end of a Go buffer, so they are kept as uintptr and
// never seen by the garbage collector.
type cStream struct {
	nextIn        uintptr
	availIn       uintptr
	totalIn       uint64
	nextOut       uintptr
	availOut      uintptr
	totalOut      uint64
	allocator     uintptr
	internal      uintptr
	reservedPtr   [4]uintptr
	seekPos       uint64
	reservedInt2  uint64
	reservedInt3  uintptr
	reservedInt4  uintptr
	reservedEnum1 int32
	reservedEnum2 int32
}

// MT mirrors lzma_mt, the multi-threaded encoder options.
type MT struct {
	Flags             uint32
	Threads           uint32
	BlockSize         uint64
	Timeout           uint32
	Preset            uint32
	filters           unsafe.Pointer
	Check             Check
	reservedEnum      [3]int32
	reservedInt       [4]uint32
	MemlimitThreading uint64
	MemlimitStop      uint64
	reservedInt7      uint64
	reservedInt8      uint64
	reservedPtr       [4]unsafe.Pointer
}

// StreamFlags mirrors lzma_stream_flags as decoded from a stream footer.
type StreamFlags struct {
	Version      uint32
	BackwardSize uint64
	Check        Check
	reservedEnum [4]int32
	reservedBool [8]uint8
	reservedInt  [2]uint32
}

// Index is an opaque lzma_index handle.
type Index uintptr

// Stream is the coder state shared between Go and the codec. It owns its
// input and output buffers; native pointers into them only exist for the
// duration of a call.
type Stream struct {
	c     cStream
	in    []byte
	inLen int
	out   []byte
}

// NewStream allocates a stream with the given buffer sizes.
func NewStream(inSize, outSize int) *Stream {
	s := &Stream{in: make([]byte, inSize), out: make([]byte, outSize)}
	s.c.availOut = uintptr(outSize)
	return s
}

// AvailIn returns the number of input bytes not yet consumed by the codec.
func (s *Stream) AvailIn() int { return int(s.c.availIn) }

// AvailOut returns the free space left in the output buffer.
func (s *Stream) AvailOut() int { return int(s.c.availOut) }

// TotalIn returns the number of bytes consumed since initialization.
func (s *Stream) TotalIn() uint64 { return s.c.totalIn }

// TotalOut returns the number of bytes produced since initialization.
func (s *Stream) TotalOut() uint64 { return s.c.totalOut }

// Fill reads the next input chunk from r. It must only be called once the
// previous input has been consumed.
func (s *Stream) Fill(r io.Reader) (int, error) {
	if s.c.availIn != 0 {
		return 0, fmt.Errorf("lzma: Fill with %d unconsumed input bytes", s.c.availIn)
	}
	n, err := r.Read(s.in)
	s.inLen = n
	s.c.availIn = uintptr(n)
	return n, err
}

// Feed copies as much of p as fits into the input buffer and returns the
// number of bytes taken. It must only be called once the previous input has
// been consumed.
func (s *Stream) Feed(p []byte) int {
	if s.c.availIn != 0 {
		return 0
	}
	n := copy(s.in, p)
	s.inLen = n
	s.c.availIn = uintptr(n)
	return n
}

// Input returns the unconsumed input.
func (s *Stream) Input() []byte {
	return s.in[s.inLen-int(s.c.availIn) : s.inLen]
}

// Consume marks n input bytes as consumed. It is used by Codec implementations.
func (s *Stream) Consume(n int) {
	s.c.availIn -= uintptr(n)
	s.c.totalIn += uint64(n)
}

// OutputSpace returns the free part of the output buffer.
func (s *Stream) OutputSpace() []byte {
	return s.out[len(s.out)-int(s.c.availOut):]
}

// Produce marks n bytes of OutputSpace as written. It is used by Codec
// implementations.
func (s *Stream) Produce(n int) {
	s.c.availOut -= uintptr(n)
	s.c.totalOut += uint64(n)
}

// Output returns the bytes produced since the last ResetOutput.
func (s *Stream) Output() []byte {
	return s.out[:len(s.out)-int(s.c.availOut)]
}

// ResetOutput empties the output buffer.
func (s *Stream) ResetOutput() {
	s.c.availOut = uintptr(len(s.out))
}

// bind pins the stream and its buffers and points the native cursors at
// them. unbind must be called once the native call returns, before the
// Pinner is released.
func (s *Stream) bind(p *runtime.Pinner) unsafe.Pointer {
	p.Pin(s)
	s.c.nextIn, s.c.nextOut = 0, 0
	if n := int(s.c.availIn); n > 0 {
		p.Pin(&s.in[0])
		s.c.nextIn = uintptr(unsafe.Pointer(&s.in[s.inLen-n]))
	}
	if n := int(s.c.availOut); n > 0 {
		p.Pin(&s.out[0])
		s.c.nextOut = uintptr(unsafe.Pointer(&s.out[len(s.out)-n]))
	}
	return unsafe.Pointer(&s.c)
}

func (s *Stream) unbind() {
	s.c.nextIn, s.c.nextOut = 0, 0
}

// Codec is the set of liblzma entry points the xz adapters rely on.
type Codec interface {
	StreamDecoder(s *Stream, memlimit uint64, flags uint32) Ret
	EasyEncoder(s *Stream, preset uint32, check Check) Ret
	StreamEncoderMT(s *Stream, mt *MT) Ret
	SupportsMultiThreading() bool
	Code(s *Stream, action Action) Ret
	End(s *Stream)

	StreamBufferBound(size int) int
	EasyBufferEncode(preset uint32, check Check, in, out []byte) (int, Ret)

	StreamFooterDecode(flags *StreamFlags, footer []byte) Ret
	IndexBufferDecode(index *Index, memlimit *uint64, in []byte, inPos *int) Ret
	IndexUncompressedSize(index Index) uint64
	IndexEnd(index Index)
}

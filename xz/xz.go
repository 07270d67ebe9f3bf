// Package xz provides streaming .xz compression and decompression on top of
// the native liblzma codec.
package xz

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/etnz/debpack/lzma"
)

var (
	// ErrClosed is returned by operations on a closed Reader or Writer.
	ErrClosed = errors.New("xz: use of closed stream")
	// ErrNotSeekable is returned by Reader.Length when the source cannot seek.
	ErrNotSeekable = errors.New("xz: source is not seekable")
)

const (
	inputBufferSize  = 64 << 10
	outputBufferSize = 4096
)

type options struct {
	threads   int
	preset    uint32
	leaveOpen bool
}

// Option configures a Reader or Writer.
type Option func(*options)

// WithThreads sets the number of encoder threads. Zero or a negative value
// means one thread per CPU. Values above the CPU count are capped.
func WithThreads(n int) Option { return func(o *options) { o.threads = resolveThreads(n) } }

// WithPreset sets the compression preset, 0-9 optionally OR-ed with
// lzma.PresetExtreme.
func WithPreset(p uint32) Option { return func(o *options) { o.preset = p } }

// WithLeaveOpen keeps the underlying stream open on Close.
func WithLeaveOpen(leaveOpen bool) Option { return func(o *options) { o.leaveOpen = leaveOpen } }

func newOptions(opts []Option) options {
	o := options{threads: 1, preset: lzma.PresetDefault}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func resolveThreads(n int) int {
	if n <= 0 || n > runtime.NumCPU() {
		return runtime.NumCPU()
	}
	return n
}

// SupportsMultiThreading reports whether codec can encode with several threads.
func SupportsMultiThreading(codec lzma.Codec) bool {
	return codec.SupportsMultiThreading()
}

// Encode compresses buf in a single call with a CRC64 check.
func Encode(codec lzma.Codec, buf []byte, preset uint32) ([]byte, error) {
	bound := codec.StreamBufferBound(len(buf))
	if bound == 0 {
		return nil, fmt.Errorf("xz: %d bytes exceed the single-call encoder limit", len(buf))
	}
	out := make([]byte, bound)
	n, ret := codec.EasyBufferEncode(preset, lzma.CheckCRC64, buf, out)
	if err := ret.Err("lzma_easy_buffer_encode"); err != nil {
		return nil, err
	}
	return out[:n], nil
}

package xz

import (
	"fmt"
	"io"

	"github.com/etnz/debpack/lzma"
)

// Writer compresses into an .xz stream with a CRC64 check.
type Writer struct {
	codec     lzma.Codec
	dst       io.Writer
	s         *lzma.Stream
	leaveOpen bool
	threads   int

	ended  bool
	closed bool
	err    error
}

// NewWriter starts an encoder writing to w. With more than one thread and a
// codec that supports it the multi-threaded encoder is used, whose output
// differs from the single-threaded one.
func NewWriter(w io.Writer, codec lzma.Codec, opts ...Option) (*Writer, error) {
	o := newOptions(opts)
	zw := &Writer{
		codec:     codec,
		dst:       w,
		s:         lzma.NewStream(inputBufferSize, outputBufferSize),
		leaveOpen: o.leaveOpen,
		threads:   1,
	}
	var ret lzma.Ret
	if o.threads > 1 && codec.SupportsMultiThreading() {
		zw.threads = o.threads
		ret = codec.StreamEncoderMT(zw.s, &lzma.MT{
			Threads: uint32(o.threads),
			Preset:  o.preset,
			Check:   lzma.CheckCRC64,
		})
		if err := ret.Err("lzma_stream_encoder_mt"); err != nil {
			zw.release()
			return nil, err
		}
		return zw, nil
	}
	ret = codec.EasyEncoder(zw.s, o.preset, lzma.CheckCRC64)
	if err := ret.Err("lzma_easy_encoder"); err != nil {
		zw.release()
		return nil, err
	}
	return zw, nil
}

// Threads returns the number of encoder threads in use.
func (zw *Writer) Threads() int { return zw.threads }

// Write implements io.Writer.
func (zw *Writer) Write(p []byte) (int, error) {
	if zw.closed {
		return 0, ErrClosed
	}
	if zw.err != nil {
		return 0, zw.err
	}
	written := 0
	for len(p) > 0 {
		n := zw.s.Feed(p)
		p = p[n:]
		for zw.s.AvailIn() > 0 {
			if err := zw.code(lzma.Run); err != nil {
				return written, err
			}
		}
		written += n
	}
	return written, nil
}

// code runs one encoder step and flushes the output block when it is full.
func (zw *Writer) code(action lzma.Action) error {
	ret := zw.codec.Code(zw.s, action)
	if err := ret.Err("lzma_code"); err != nil {
		zw.err = err
		return err
	}
	if zw.s.AvailOut() == 0 || ret == lzma.StreamEnd {
		if err := zw.flush(); err != nil {
			return err
		}
	}
	if ret == lzma.StreamEnd {
		return io.EOF
	}
	return nil
}

func (zw *Writer) flush() error {
	out := zw.s.Output()
	if len(out) == 0 {
		return nil
	}
	if _, err := zw.dst.Write(out); err != nil {
		zw.err = fmt.Errorf("xz: writing output: %w", err)
		return zw.err
	}
	zw.s.ResetOutput()
	return nil
}

func (zw *Writer) release() {
	if !zw.ended {
		zw.ended = true
		zw.codec.End(zw.s)
	}
}

// Close finishes the stream, releases the encoder and, unless WithLeaveOpen
// was given, closes the destination when it is an io.Closer. The encoder is
// released even when finishing fails.
func (zw *Writer) Close() error {
	if zw.closed {
		return nil
	}
	zw.closed = true
	err := zw.err
	if err == nil {
		for {
			if cerr := zw.code(lzma.Finish); cerr == io.EOF {
				break
			} else if cerr != nil {
				err = cerr
				break
			}
		}
	}
	zw.release()
	if !zw.leaveOpen {
		if c, ok := zw.dst.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
	}
	return err
}

package xz

import (
	"bytes"
	"fmt"
	"io"

	"github.com/etnz/debpack/lzma"
)

// Reader decompresses a (possibly concatenated) .xz stream.
type Reader struct {
	codec     lzma.Codec
	src       io.Reader
	s         *lzma.Stream
	leaveOpen bool

	pending bytes.Buffer
	pos     int64

	inEOF  bool
	done   bool
	ended  bool
	closed bool
	err    error

	length      int64
	lengthKnown bool
}

// NewReader starts decoding r. Only WithLeaveOpen is meaningful for readers.
func NewReader(r io.Reader, codec lzma.Codec, opts ...Option) (*Reader, error) {
	o := newOptions(opts)
	z := &Reader{
		codec:     codec,
		src:       r,
		s:         lzma.NewStream(inputBufferSize, outputBufferSize),
		leaveOpen: o.leaveOpen,
	}
	if err := codec.StreamDecoder(z.s, lzma.NoMemLimit, lzma.Concatenated).Err("lzma_stream_decoder"); err != nil {
		z.release()
		return nil, err
	}
	return z, nil
}

// Read implements io.Reader.
func (z *Reader) Read(p []byte) (int, error) {
	if z.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for z.pending.Len() < len(p) && !z.done && z.err == nil {
		z.step()
	}
	if z.pending.Len() == 0 {
		if z.err != nil {
			return 0, z.err
		}
		return 0, io.EOF
	}
	n, _ := z.pending.Read(p)
	z.pos += int64(n)
	return n, nil
}

// step runs the decoder once, feeding more input when it has consumed all of
// the previous chunk.
func (z *Reader) step() {
	if z.s.AvailIn() == 0 && !z.inEOF {
		_, err := z.s.Fill(z.src)
		if err == io.EOF {
			z.inEOF = true
		} else if err != nil {
			z.fail(fmt.Errorf("xz: reading input: %w", err))
			return
		}
	}
	action := lzma.Run
	if z.inEOF {
		action = lzma.Finish
	}
	ret := z.codec.Code(z.s, action)
	z.pending.Write(z.s.Output())
	z.s.ResetOutput()

	if ret == lzma.StreamEnd {
		z.done = true
		z.release()
		return
	}
	if err := ret.Err("lzma_code"); err != nil {
		z.fail(err)
	}
}

func (z *Reader) fail(err error) {
	z.err = err
	z.release()
}

func (z *Reader) release() {
	if !z.ended {
		z.ended = true
		z.codec.End(z.s)
	}
}

// Position returns the number of decompressed bytes returned so far.
func (z *Reader) Position() int64 { return z.pos }

// Length returns the total decompressed size as recorded in the stream
// index. The source must be an io.ReadSeeker; its position is restored.
func (z *Reader) Length() (int64, error) {
	if z.lengthKnown {
		return z.length, nil
	}
	rs, ok := z.src.(io.ReadSeeker)
	if !ok {
		return 0, ErrNotSeekable
	}
	cur, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNotSeekable, err)
	}
	n, err := z.readLength(rs)
	if _, serr := rs.Seek(cur, io.SeekStart); err == nil && serr != nil {
		err = fmt.Errorf("xz: restoring position: %w", serr)
	}
	if err != nil {
		return 0, err
	}
	z.length, z.lengthKnown = n, true
	return n, nil
}

func (z *Reader) readLength(rs io.ReadSeeker) (int64, error) {
	footerPos, err := rs.Seek(-lzma.StreamHeaderSize, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("xz: seeking to stream footer: %w", err)
	}
	footer := make([]byte, lzma.StreamHeaderSize)
	if _, err := io.ReadFull(rs, footer); err != nil {
		return 0, fmt.Errorf("xz: reading stream footer: %w", err)
	}
	var flags lzma.StreamFlags
	if err := z.codec.StreamFooterDecode(&flags, footer).Err("lzma_stream_footer_decode"); err != nil {
		return 0, err
	}

	indexPos := footerPos - int64(flags.BackwardSize)
	if indexPos < lzma.StreamHeaderSize {
		return 0, &lzma.Error{Op: "lzma_stream_footer_decode", Code: lzma.DataError}
	}
	if _, err := rs.Seek(indexPos, io.SeekStart); err != nil {
		return 0, fmt.Errorf("xz: seeking to index: %w", err)
	}
	raw := make([]byte, flags.BackwardSize)
	if _, err := io.ReadFull(rs, raw); err != nil {
		return 0, fmt.Errorf("xz: reading index: %w", err)
	}

	var index lzma.Index
	memlimit := lzma.NoMemLimit
	inPos := 0
	if err := z.codec.IndexBufferDecode(&index, &memlimit, raw, &inPos).Err("lzma_index_buffer_decode"); err != nil {
		return 0, err
	}
	defer z.codec.IndexEnd(index)
	if inPos != len(raw) {
		return 0, &lzma.Error{Op: "lzma_index_buffer_decode", Code: lzma.DataError}
	}
	return int64(z.codec.IndexUncompressedSize(index)), nil
}

// Close releases the decoder and, unless WithLeaveOpen was given, closes the
// source when it is an io.Closer.
func (z *Reader) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true
	z.release()
	if !z.leaveOpen {
		if c, ok := z.src.(io.Closer); ok {
			return c.Close()
		}
	}
	return nil
}

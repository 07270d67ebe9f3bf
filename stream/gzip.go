package stream

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// GzipReader is a forward-only gzip decompressor that counts the bytes it
// has produced.
type GzipReader struct {
	zr        *gzip.Reader
	src       io.Reader
	leaveOpen bool
	pos       int64
}

// NewGzipReader reads the gzip header from r. Unless leaveOpen is set, Close
// also closes r when it is an io.Closer.
func NewGzipReader(r io.Reader, leaveOpen bool) (*GzipReader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}
	return &GzipReader{zr: zr, src: r, leaveOpen: leaveOpen}, nil
}

// Read implements io.Reader.
func (g *GzipReader) Read(p []byte) (int, error) {
	n, err := g.zr.Read(p)
	g.pos += int64(n)
	return n, err
}

// Position returns the number of decompressed bytes read so far.
func (g *GzipReader) Position() int64 { return g.pos }

// Close releases the decompressor.
func (g *GzipReader) Close() error {
	err := g.zr.Close()
	if !g.leaveOpen {
		if c, ok := g.src.(io.Closer); ok {
			if cerr := c.Close(); err == nil {
				err = cerr
			}
		}
	}
	return err
}

// CountingWriter wraps an io.Writer and counts the bytes written.
type CountingWriter struct {
	W io.Writer
	N int64
}

// Write writes p to the underlying io.Writer and increments the byte count.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.W.Write(p)
	cw.N += int64(n)
	return n, err
}

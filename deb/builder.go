package deb

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"

	"github.com/etnz/debpack/arfile"
	"github.com/etnz/debpack/lzma"
	"github.com/etnz/debpack/xz"
)

// InMemoryLimit is the estimated data.tar size below which the payload is
// built and compressed in memory instead of through a temporary file.
const InMemoryLimit = 1 << 20

// ProgressFunc returns a writer that receives the uncompressed data.tar
// bytes as they are produced. total is an estimate of their count.
type ProgressFunc func(total int64) io.Writer

// Builder turns a Package into a .deb file. The zero value builds an
// xz-compressed, unsigned package with a single compression thread.
type Builder struct {
	Compression Compression
	// Threads is the number of xz threads; a negative value uses every CPU.
	Threads int
	// Preset is the xz preset; zero selects lzma.PresetDefault.
	Preset uint32
	// IncludeRoot adds a "./" entry to data.tar.
	IncludeRoot bool
	// Now stamps synthesized directories and archive headers. The zero
	// value means time.Now.
	Now time.Time
	// Signer, when set, adds a detached signature over the package.
	Signer *openpgp.Entity
	// Codec is the liblzma binding; nil loads the system library on demand.
	Codec    lzma.Codec
	Logger   logrus.FieldLogger
	TempDir  string
	Progress ProgressFunc
}

func (b *Builder) logger() logrus.FieldLogger {
	if b.Logger != nil {
		return b.Logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func (b *Builder) now() time.Time {
	if b.Now.IsZero() {
		return time.Now()
	}
	return b.Now
}

func (b *Builder) compression() Compression {
	if b.Compression == "" {
		return CompressionXZ
	}
	return b.Compression
}

func (b *Builder) preset() uint32 {
	if b.Preset == 0 {
		return lzma.PresetDefault
	}
	return b.Preset
}

func (b *Builder) codec() (lzma.Codec, error) {
	if b.Codec != nil {
		return b.Codec, nil
	}
	lib, err := lzma.Load()
	if err != nil {
		return nil, err
	}
	b.Codec = lib
	return lib, nil
}

// payload is a compressed data.tar ready to be copied into the ar archive.
type payload struct {
	r             io.ReadSeeker
	size          int64
	md5sums       map[string]string
	installedSize int64
	cleanup       func()
}

func (p *payload) Close() {
	if p.cleanup != nil {
		p.cleanup()
	}
}

// estimateTarSize is the size of the uncompressed data.tar for entries,
// ignoring GNU long-name records.
func estimateTarSize(entries []ArchiveEntry) int64 {
	n := int64(2 * 512)
	for _, e := range entries {
		n += 512
		if e.Mode.IsRegular() {
			n += (e.Size + 511) &^ 511
		}
	}
	return n
}

// Build writes the package to w. The entries are completed with their
// missing parent directories and sorted before being archived.
func (b *Builder) Build(w io.Writer, pkg *Package) error {
	log := b.logger().WithField("package", pkg.Metadata.Package)
	if err := pkg.Metadata.Validate(); err != nil {
		return err
	}
	now := b.now()

	entries := Complete(pkg.Entries, b.IncludeRoot, now)
	log.WithFields(logrus.Fields{
		"entries":     len(entries),
		"synthesized": len(entries) - len(pkg.Entries),
	}).Debug("completed directory tree")

	p, err := b.buildPayload(entries)
	if err != nil {
		return fmt.Errorf("building data archive: %w", err)
	}
	defer p.Close()
	log.WithFields(logrus.Fields{
		"compression":    b.compression(),
		"compressed":     p.size,
		"installed_size": p.installedSize,
	}).Debug("built data archive")

	var ctl bytes.Buffer
	if err := WriteControlTar(&ctl, pkg, p.md5sums, p.installedSize, now); err != nil {
		return fmt.Errorf("building control archive: %w", err)
	}

	var sig []byte
	if b.Signer != nil {
		if sig, err = signMembers(b.Signer, ctl.Bytes(), p.r); err != nil {
			return err
		}
		if _, err := p.r.Seek(0, io.SeekStart); err != nil {
			return err
		}
		log.WithField("key", b.Signer.PrimaryKey.KeyIdString()).Debug("signed package")
	}

	return WriteDebPackage(w, Assembly{
		Control:     ctl.Bytes(),
		Payload:     p.r,
		PayloadSize: p.size,
		Compression: b.compression(),
		Signature:   sig,
		ModTime:     now,
	})
}

func (b *Builder) progress(w io.Writer, total int64) io.Writer {
	if b.Progress == nil {
		return w
	}
	return io.MultiWriter(w, b.Progress(total))
}

func (b *Builder) buildPayload(entries []ArchiveEntry) (*payload, error) {
	estimate := estimateTarSize(entries)
	if estimate < InMemoryLimit {
		return b.buildInMemory(entries, estimate)
	}

	f, err := os.CreateTemp(b.TempDir, "debpack-data-*")
	if err != nil {
		return nil, err
	}
	p := &payload{
		r: f,
		cleanup: func() {
			f.Close()
			os.Remove(f.Name())
		},
	}
	if err := b.streamPayload(f, entries, estimate, p); err != nil {
		p.Close()
		return nil, err
	}
	if p.size, err = f.Seek(0, io.SeekEnd); err != nil {
		p.Close()
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (b *Builder) buildInMemory(entries []ArchiveEntry, estimate int64) (*payload, error) {
	var tarBuf bytes.Buffer
	sums, installed, err := WriteDataTar(b.progress(&tarBuf, estimate), entries)
	if err != nil {
		return nil, err
	}

	var out []byte
	switch b.compression() {
	case CompressionXZ:
		codec, err := b.codec()
		if err != nil {
			return nil, err
		}
		if out, err = xz.Encode(codec, tarBuf.Bytes(), b.preset()); err != nil {
			return nil, err
		}
	case CompressionGzip:
		var zbuf bytes.Buffer
		gw, err := gzip.NewWriterLevel(&zbuf, gzip.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := gw.Write(tarBuf.Bytes()); err != nil {
			return nil, err
		}
		if err := gw.Close(); err != nil {
			return nil, err
		}
		out = zbuf.Bytes()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, b.Compression)
	}
	return &payload{
		r:             bytes.NewReader(out),
		size:          int64(len(out)),
		md5sums:       sums,
		installedSize: installed,
	}, nil
}

func (b *Builder) streamPayload(dst io.Writer, entries []ArchiveEntry, estimate int64, p *payload) error {
	var zw io.WriteCloser
	switch b.compression() {
	case CompressionXZ:
		codec, err := b.codec()
		if err != nil {
			return err
		}
		opts := []xz.Option{xz.WithPreset(b.preset()), xz.WithLeaveOpen(true)}
		if b.Threads != 0 {
			opts = append(opts, xz.WithThreads(b.Threads))
		}
		xw, err := xz.NewWriter(dst, codec, opts...)
		if err != nil {
			return err
		}
		b.logger().WithField("threads", xw.Threads()).Debug("streaming xz payload")
		zw = xw
	case CompressionGzip:
		gw, err := gzip.NewWriterLevel(dst, gzip.BestCompression)
		if err != nil {
			return err
		}
		zw = gw
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedCompression, b.Compression)
	}

	sums, installed, err := WriteDataTar(b.progress(zw, estimate), entries)
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	p.md5sums, p.installedSize = sums, installed
	return nil
}

// Assembly is the set of members of a .deb file.
type Assembly struct {
	// Control is the control.tar.gz member.
	Control []byte
	// Payload is the compressed data.tar member. A negative PayloadSize
	// streams it and requires the destination to be an io.ReadWriteSeeker.
	Payload     io.Reader
	PayloadSize int64
	Compression Compression
	// Signature, when set, is written as the _gpgorigin member.
	Signature []byte
	ModTime   time.Time
}

// WriteDebPackage writes the ar container of a .deb: debian-binary, the
// control archive, the data archive and the optional signature, in that
// order.
func WriteDebPackage(w io.Writer, a Assembly) error {
	aw, err := arfile.NewWriter(w)
	if err != nil {
		return err
	}
	if !a.ModTime.IsZero() {
		aw.ModTime = a.ModTime
	}
	if err := aw.WriteFile(string(PkgDebianBinary), []byte(FormatVersion)); err != nil {
		return err
	}
	if err := aw.WriteFile(string(PkgControlTarGz), a.Control); err != nil {
		return err
	}
	member := string(a.Compression.Member())
	if a.PayloadSize < 0 {
		if _, err := aw.WriteStream(member, a.Payload); err != nil {
			return err
		}
	} else if err := aw.WriteFrom(member, a.PayloadSize, a.Payload); err != nil {
		return err
	}
	if len(a.Signature) > 0 {
		if err := aw.WriteFile(string(PkgGPGOrigin), a.Signature); err != nil {
			return err
		}
	}
	return nil
}

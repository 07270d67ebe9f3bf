package deb

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/etnz/debpack/control"
	"github.com/etnz/debpack/fsmode"
	"github.com/etnz/debpack/tarfile"
)

// entryHeader converts an entry into a tar header. Owner and group are
// stored by name with id 0; dpkg resolves names before ids.
func entryHeader(e ArchiveEntry) *tarfile.Header {
	h := &tarfile.Header{
		Name:    e.archiveName(),
		Mode:    e.Mode,
		Uname:   e.Owner,
		Gname:   e.Group,
		ModTime: e.Modified,
	}
	if h.Uname == "" {
		h.Uname = "root"
	}
	if h.Gname == "" {
		h.Gname = "root"
	}
	switch e.Mode.Type() {
	case fsmode.S_IFDIR:
		h.Typeflag = tarfile.TypeDir
	case fsmode.S_IFLNK:
		h.Typeflag = tarfile.TypeSymlink
		h.Linkname = e.LinkTo
	default:
		h.Typeflag = tarfile.TypeReg
		h.Size = e.Size
	}
	return h
}

// WriteDataTar writes entries, in the given order, as an uncompressed tar
// stream to w. It returns the md5 of every regular file keyed by its path
// relative to the root, and the sum of their sizes in bytes.
func WriteDataTar(w io.Writer, entries []ArchiveEntry) (map[string]string, int64, error) {
	tw := tarfile.NewWriter(w)
	sums := make(map[string]string)
	var installed int64

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, 0, err
		}
		if err := tw.WriteHeader(entryHeader(e)); err != nil {
			return nil, 0, fmt.Errorf("writing header for %s: %w", e.TargetPath, err)
		}
		if !e.Mode.IsRegular() {
			continue
		}
		sum, err := copyEntry(tw, e)
		if err != nil {
			return nil, 0, err
		}
		sums[strings.TrimPrefix(e.TargetPath, "/")] = sum
		installed += e.Size
	}
	if err := tw.Close(); err != nil {
		return nil, 0, fmt.Errorf("closing data archive: %w", err)
	}
	return sums, installed, nil
}

// copyEntry streams the content of a regular file into tw and returns its md5.
func copyEntry(tw *tarfile.Writer, e ArchiveEntry) (string, error) {
	h := md5.New()
	if e.Size == 0 && e.Source == nil {
		return hex.EncodeToString(h.Sum(nil)), nil
	}
	src, err := e.Source()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", e.TargetPath, err)
	}
	defer src.Close()

	n, err := io.CopyN(io.MultiWriter(tw, h), src, e.Size)
	if err != nil {
		if err == io.EOF {
			return "", fmt.Errorf("%w: %s: source has %d bytes, expected %d", ErrInvalidEntry, e.TargetPath, n, e.Size)
		}
		return "", fmt.Errorf("writing %s: %w", e.TargetPath, err)
	}
	// The source must not hold more than the announced size.
	var probe [1]byte
	if m, _ := src.Read(probe[:]); m > 0 {
		return "", fmt.Errorf("%w: %s: source is larger than %d bytes", ErrInvalidEntry, e.TargetPath, e.Size)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteControlTar writes control.tar.gz for pkg to w: the control file,
// md5sums, conffiles, the maintainer scripts and the extra control files.
func WriteControlTar(w io.Writer, pkg *Package, md5sums map[string]string, installedSize int64, modTime time.Time) error {
	gw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	tw := tarfile.NewWriter(gw)

	writeEntry := func(name string, content []byte, mode fsmode.Mode) error {
		h := &tarfile.Header{
			Name:     "./" + name,
			Mode:     fsmode.S_IFREG | mode.Perm(),
			Uname:    "root",
			Gname:    "root",
			Size:     int64(len(content)),
			ModTime:  modTime,
			Typeflag: tarfile.TypeReg,
		}
		if err := tw.WriteHeader(h); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		if _, err := tw.Write(content); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		return nil
	}

	root := &tarfile.Header{
		Name:     "./",
		Mode:     fsmode.DirDefault,
		Uname:    "root",
		Gname:    "root",
		ModTime:  modTime,
		Typeflag: tarfile.TypeDir,
	}
	if err := tw.WriteHeader(root); err != nil {
		return fmt.Errorf("writing control root: %w", err)
	}

	var buf bytes.Buffer
	if err := control.Serialize(&buf, pkg.Metadata.Fields(installedSize), controlOrder...); err != nil {
		return err
	}
	if err := writeEntry(string(FileControl), buf.Bytes(), 0644); err != nil {
		return err
	}

	buf.Reset()
	if err := control.WriteMD5Sums(&buf, md5sums); err != nil {
		return err
	}
	if err := writeEntry(string(FileMd5sums), buf.Bytes(), 0644); err != nil {
		return err
	}

	if conffiles := pkg.Conffiles(); len(conffiles) > 0 {
		content := strings.Join(conffiles, "\n") + "\n"
		if err := writeEntry(string(FileConffiles), []byte(content), 0644); err != nil {
			return err
		}
	}

	for _, s := range pkg.Scripts.files() {
		if s.body == "" {
			continue
		}
		if err := writeEntry(string(s.name), []byte(s.body), 0755); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(pkg.ExtraControlFiles))
	for name := range pkg.ExtraControlFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if reserved(name) || strings.ContainsAny(name, "/") {
			continue
		}
		f := pkg.ExtraControlFiles[name]
		mode := f.Mode.Perm()
		if mode == 0 {
			mode = 0644
		}
		if err := writeEntry(name, f.Contents, mode); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing control archive: %w", err)
	}
	return gw.Close()
}

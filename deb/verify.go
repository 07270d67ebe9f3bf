package deb

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/etnz/debpack/control"
	"github.com/etnz/debpack/fsmode"
	"github.com/etnz/debpack/tarfile"
)

// PayloadEntry is a data.tar entry as listed by Contents.
type PayloadEntry struct {
	Path     string
	Mode     fsmode.Mode
	Owner    string
	Group    string
	Size     int64
	LinkTo   string
	Modified int64
}

// Contents lists the entries of a decompressed data.tar stream.
func Contents(payload io.Reader) ([]PayloadEntry, error) {
	var res []PayloadEntry
	err := walkPayload(payload, func(h *tarfile.Header, _ io.Reader) error {
		res = append(res, PayloadEntry{
			Path:     h.Name,
			Mode:     h.Mode,
			Owner:    h.Uname,
			Group:    h.Gname,
			Size:     h.Size,
			LinkTo:   h.Linkname,
			Modified: h.ModTime.Unix(),
		})
		return nil
	})
	return res, err
}

func walkPayload(payload io.Reader, fn func(h *tarfile.Header, body io.Reader) error) error {
	tr := tarfile.NewReader(payload)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading data archive: %w", err)
		}
		if err := fn(h, tr); err != nil {
			return err
		}
	}
}

// payloadPath is the md5sums key of a data.tar entry name.
func payloadPath(name string) string {
	return strings.TrimPrefix(strings.TrimPrefix(name, "./"), "/")
}

// VerifyPayload checks every regular file of the decompressed data.tar
// stream against the md5sums of d. Files missing from either side and
// checksum mismatches are all reported, joined, each wrapping ErrIntegrity.
func VerifyPayload(d *DebPackage, payload io.Reader) error {
	var problems []error
	seen := make(map[string]bool)
	err := walkPayload(payload, func(h *tarfile.Header, body io.Reader) error {
		if h.Typeflag != tarfile.TypeReg && h.Typeflag != tarfile.TypeRegA {
			return nil
		}
		path := payloadPath(h.Name)
		seen[path] = true
		sum := md5.New()
		if _, err := io.Copy(sum, body); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		want, ok := d.MD5Sums[path]
		got := hex.EncodeToString(sum.Sum(nil))
		switch {
		case !ok:
			problems = append(problems, fmt.Errorf("%w: %s is not listed in md5sums", ErrIntegrity, path))
		case want != got:
			problems = append(problems, fmt.Errorf("%w: %s has md5 %s, expected %s", ErrIntegrity, path, got, want))
		}
		return nil
	})
	if err != nil {
		return err
	}
	var missing []string
	for path := range d.MD5Sums {
		if !seen[path] {
			missing = append(missing, path)
		}
	}
	sort.Strings(missing)
	for _, path := range missing {
		problems = append(problems, fmt.Errorf("%w: %s is listed in md5sums but not in the payload", ErrIntegrity, path))
	}
	return errors.Join(problems...)
}

// Extract unpacks the decompressed data.tar stream under dir. Every write
// goes through an os.Root on dir, so entries that would land outside it,
// directly or through a symlink created by the archive, are rejected. Device
// nodes and fifos are skipped.
func Extract(payload io.Reader, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	err = walkPayload(payload, func(h *tarfile.Header, body io.Reader) error {
		target, err := extractTarget(h.Name)
		if err != nil {
			return err
		}
		if err := extractEntry(root, target, h, body); err != nil {
			return fmt.Errorf("extracting %s: %w", h.Name, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return root.Close()
}

func extractEntry(root *os.Root, target string, h *tarfile.Header, body io.Reader) error {
	perm := h.Mode.Perm().FS().Perm()
	switch h.Typeflag {
	case tarfile.TypeDir:
		if target == "." {
			return nil
		}
		return root.MkdirAll(target, perm|0700)
	case tarfile.TypeReg, tarfile.TypeRegA:
		if err := mkdirParent(root, target); err != nil {
			return err
		}
		f, err := root.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		if h.ModTime.IsZero() {
			return nil
		}
		return root.Chtimes(target, h.ModTime, h.ModTime)
	case tarfile.TypeSymlink:
		if err := mkdirParent(root, target); err != nil {
			return err
		}
		if err := removeExisting(root, target); err != nil {
			return err
		}
		return root.Symlink(h.Linkname, target)
	case tarfile.TypeLink:
		src, err := extractTarget(h.Linkname)
		if err != nil {
			return err
		}
		if err := removeExisting(root, target); err != nil {
			return err
		}
		return root.Link(src, target)
	}
	return nil
}

func mkdirParent(root *os.Root, target string) error {
	if parent := filepath.Dir(target); parent != "." {
		return root.MkdirAll(parent, 0755)
	}
	return nil
}

func removeExisting(root *os.Root, target string) error {
	if err := root.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// extractTarget maps an entry name to a path relative to the destination.
func extractTarget(name string) (string, error) {
	rel := filepath.Clean(filepath.FromSlash(payloadPath(name)))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s escapes the destination directory", ErrInvalidEntry, name)
	}
	return rel, nil
}

// stanzaOrder is the field order of an APT Packages stanza.
var stanzaOrder = append(append([]string(nil), controlOrder[:len(controlOrder)-1]...),
	string(FieldFilename), string(FieldSize), string(FieldMD5sum), string(FieldSHA256), string(FieldDescription))

// Stanza returns the APT Packages stanza of the .deb in r: its control
// fields plus Filename, Size, MD5sum and SHA256.
func Stanza(r io.ReadSeeker, filename string) (control.Fields, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	m, s := md5.New(), sha256.New()
	size, err := io.Copy(io.MultiWriter(m, s), r)
	if err != nil {
		return nil, fmt.Errorf("hashing package: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	d, err := Read(r)
	if err != nil {
		return nil, err
	}

	f := make(control.Fields, len(d.Control)+4)
	for k, v := range d.Control {
		f[k] = v
	}
	f[string(FieldFilename)] = filename
	f[string(FieldSize)] = strconv.FormatInt(size, 10)
	f[string(FieldMD5sum)] = hex.EncodeToString(m.Sum(nil))
	f[string(FieldSHA256)] = hex.EncodeToString(s.Sum(nil))
	return f, nil
}

// WriteStanza writes a stanza in APT field order.
func WriteStanza(w io.Writer, f control.Fields) error {
	return control.Serialize(w, f, stanzaOrder...)
}

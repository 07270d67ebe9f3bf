package deb

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/etnz/debpack/fsmode"
)

// Opener opens the content of a regular file entry.
type Opener func() (io.ReadCloser, error)

// ArchiveEntry is one filesystem object installed by the package.
type ArchiveEntry struct {
	// TargetPath is the absolute install path, e.g. "/usr/bin/app".
	TargetPath string
	Mode       fsmode.Mode
	Owner      string
	Group      string
	Modified   time.Time
	// LinkTo is the target of a symlink.
	LinkTo string
	// Size and Source describe the content of a regular file.
	Size   int64
	Source Opener
	// Conffile lists the file in conffiles so that dpkg preserves local
	// changes on upgrade.
	Conffile bool
}

// IsDir reports whether the entry is a directory.
func (e ArchiveEntry) IsDir() bool { return e.Mode.IsDir() }

// TargetPathWithoutFinalSlash returns the target path without a trailing
// slash, except for the root which stays "/".
func (e ArchiveEntry) TargetPathWithoutFinalSlash() string {
	p := strings.TrimRight(e.TargetPath, "/")
	if p == "" {
		return "/"
	}
	return p
}

// TargetPathWithFinalSlash returns the target path with a trailing slash for
// directories. Entries are sorted on this form so that a directory always
// precedes its content.
func (e ArchiveEntry) TargetPathWithFinalSlash() string {
	p := e.TargetPathWithoutFinalSlash()
	if e.IsDir() && p != "/" {
		return p + "/"
	}
	return p
}

// archiveName is the member name in data.tar: "./usr/bin/app", "./usr/".
func (e ArchiveEntry) archiveName() string {
	return "." + e.TargetPathWithFinalSlash()
}

// Validate checks that the entry can be archived.
func (e ArchiveEntry) Validate() error {
	if !strings.HasPrefix(e.TargetPath, "/") {
		return fmt.Errorf("%w: %q is not absolute", ErrInvalidEntry, e.TargetPath)
	}
	switch e.Mode.Type() {
	case fsmode.S_IFDIR:
		if e.Source != nil || e.LinkTo != "" {
			return fmt.Errorf("%w: directory %s has content", ErrInvalidEntry, e.TargetPath)
		}
	case fsmode.S_IFLNK:
		if e.LinkTo == "" {
			return fmt.Errorf("%w: symlink %s has no target", ErrInvalidEntry, e.TargetPath)
		}
		if e.Source != nil {
			return fmt.Errorf("%w: symlink %s has content", ErrInvalidEntry, e.TargetPath)
		}
	case fsmode.S_IFREG:
		if e.LinkTo != "" {
			return fmt.Errorf("%w: regular file %s has a link target", ErrInvalidEntry, e.TargetPath)
		}
		if e.Source == nil && e.Size != 0 {
			return fmt.Errorf("%w: regular file %s has no source", ErrInvalidEntry, e.TargetPath)
		}
	default:
		return fmt.Errorf("%w: %s has unsupported type %v", ErrInvalidEntry, e.TargetPath, e.Mode)
	}
	return nil
}

// FileEntry returns a regular file entry backed by the file at src. Its size
// is taken from src now; its content is read when the package is written.
func FileEntry(target, src string, perm fsmode.Mode) (ArchiveEntry, error) {
	fi, err := os.Stat(src)
	if err != nil {
		return ArchiveEntry{}, err
	}
	if !fi.Mode().IsRegular() {
		return ArchiveEntry{}, fmt.Errorf("%w: %s is not a regular file", ErrInvalidEntry, src)
	}
	return ArchiveEntry{
		TargetPath: target,
		Mode:       fsmode.S_IFREG | perm.Perm(),
		Owner:      "root",
		Group:      "root",
		Modified:   fi.ModTime(),
		Size:       fi.Size(),
		Source:     func() (io.ReadCloser, error) { return os.Open(src) },
	}, nil
}

// BytesEntry returns a regular file entry with in-memory content.
func BytesEntry(target string, data []byte, perm fsmode.Mode, modified time.Time) ArchiveEntry {
	return ArchiveEntry{
		TargetPath: target,
		Mode:       fsmode.S_IFREG | perm.Perm(),
		Owner:      "root",
		Group:      "root",
		Modified:   modified,
		Size:       int64(len(data)),
		Source:     func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}

// DirEntry returns a directory entry.
func DirEntry(target string, perm fsmode.Mode, modified time.Time) ArchiveEntry {
	return ArchiveEntry{
		TargetPath: target,
		Mode:       fsmode.S_IFDIR | perm.Perm(),
		Owner:      "root",
		Group:      "root",
		Modified:   modified,
	}
}

// SymlinkEntry returns a symlink entry pointing at linkTo.
func SymlinkEntry(target, linkTo string, modified time.Time) ArchiveEntry {
	return ArchiveEntry{
		TargetPath: target,
		Mode:       fsmode.S_IFLNK | 0777,
		Owner:      "root",
		Group:      "root",
		Modified:   modified,
		LinkTo:     linkTo,
	}
}

// parentDir returns the directory containing path. It returns "" when path
// has no parent below the root, which ends the upward walk; the root itself
// is only added on request.
func parentDir(path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		return "/"
	}
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// EnsureDirectories returns entries followed by every missing ancestor
// directory, each added once, parents before children. Synthesized
// directories are owned by root with mode drwxr-xr-x and modification time
// now. The root directory is added only when includeRoot is set. Running it
// on its own output adds nothing.
func EnsureDirectories(entries []ArchiveEntry, includeRoot bool, now time.Time) []ArchiveEntry {
	known := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			known[e.TargetPathWithoutFinalSlash()] = true
		}
	}

	out := append([]ArchiveEntry(nil), entries...)
	var ensure func(dir string)
	ensure = func(dir string) {
		if dir == "" || dir == "." || known[dir] {
			return
		}
		if dir != "/" {
			ensure(parentDir(dir))
		}
		known[dir] = true
		out = append(out, ArchiveEntry{
			TargetPath: dir,
			Mode:       fsmode.DirDefault,
			Owner:      "root",
			Group:      "root",
			Modified:   now,
		})
	}

	for _, e := range entries {
		ensure(parentDir(e.TargetPathWithFinalSlash()))
	}
	if includeRoot {
		ensure("/")
	}
	return out
}

// SortEntries sorts entries in place by byte-wise comparison of
// TargetPathWithFinalSlash.
func SortEntries(entries []ArchiveEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TargetPathWithFinalSlash() < entries[j].TargetPathWithFinalSlash()
	})
}

// Complete adds the missing ancestor directories and sorts the result.
func Complete(entries []ArchiveEntry, includeRoot bool, now time.Time) []ArchiveEntry {
	out := EnsureDirectories(entries, includeRoot, now)
	SortEntries(out)
	return out
}

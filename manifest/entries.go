package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/etnz/debpack/deb"
	"github.com/etnz/debpack/fsmode"
)

// prefix returns the install directory of the publish tree.
func (d *Definition) prefix() string {
	if d.Prefix != "" {
		return path.Clean("/" + d.Prefix)
	}
	return "/usr/share/" + d.Name
}

func parseMode(s string, def fsmode.Mode) (fsmode.Mode, error) {
	if s == "" {
		return def, nil
	}
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || m > 0o7777 {
		return 0, fmt.Errorf("invalid mode %q", s)
	}
	return fsmode.Mode(m), nil
}

func owned(e deb.ArchiveEntry, owner, group string) deb.ArchiveEntry {
	if owner != "" {
		e.Owner = owner
	}
	if group != "" {
		e.Group = group
	}
	return e
}

// matchAny reports whether name matches one of the patterns.
func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Entries returns the payload of the package: the publish tree, the content
// files and the folders. Parent directories are not synthesized here.
func (d *Definition) Entries() ([]deb.ArchiveEntry, error) {
	var entries []deb.ArchiveEntry
	if d.PublishDir != "" {
		tree, err := d.publishEntries()
		if err != nil {
			return nil, err
		}
		entries = append(entries, tree...)
	}

	for i, f := range d.Content {
		e, err := d.contentEntry(i, f)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	for i, f := range d.Folders {
		p, err := d.engine.render(fmt.Sprintf("folders[%d].path", i), f.Path)
		if err != nil {
			return nil, err
		}
		mode, err := parseMode(f.Mode, fsmode.DirDefault.Perm())
		if err != nil {
			return nil, fmt.Errorf("folders[%d]: %w", i, err)
		}
		entries = append(entries, owned(deb.DirEntry(p, mode, d.modTime), f.Owner, f.Group))
	}

	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// publishEntries walks PublishDir. Files keep their executable bits, the
// app host is forced to 0755 and linked from /usr/bin.
func (d *Definition) publishEntries() ([]deb.ArchiveEntry, error) {
	for _, p := range append(append([]string(nil), d.Include...), d.Exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	root := d.resolve(d.PublishDir)
	prefix := d.prefix()
	var entries []deb.ArchiveEntry
	foundAppHost := false

	err := filepath.WalkDir(root, func(p string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if matchAny(d.Exclude, rel) {
			if de.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := path.Join(prefix, rel)

		if de.IsDir() {
			if len(d.Include) == 0 {
				info, err := de.Info()
				if err != nil {
					return err
				}
				entries = append(entries, deb.DirEntry(target, fsmode.DirDefault.Perm(), info.ModTime()))
			}
			return nil
		}
		if len(d.Include) > 0 && !matchAny(d.Include, rel) {
			return nil
		}

		info, err := de.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			entries = append(entries, deb.SymlinkEntry(target, link, info.ModTime()))
		case info.Mode().IsRegular():
			perm := fsmode.Mode(0o644)
			if info.Mode().Perm()&0o111 != 0 {
				perm = 0o755
			}
			if d.AppHost != "" && rel == d.AppHost {
				perm = 0o755
				foundAppHost = true
			}
			e, err := deb.FileEntry(target, p, perm)
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	if d.AppHost != "" {
		if !foundAppHost {
			return nil, fmt.Errorf("app host %s not found in %s", d.AppHost, root)
		}
		entries = append(entries, deb.SymlinkEntry("/usr/bin/"+path.Base(d.AppHost), path.Join(prefix, d.AppHost), d.modTime))
	}
	return entries, nil
}

func (d *Definition) contentEntry(i int, f File) (deb.ArchiveEntry, error) {
	name := fmt.Sprintf("content[%d]", i)
	dst, err := d.engine.render(name+".dst", f.Dst)
	if err != nil {
		return deb.ArchiveEntry{}, err
	}
	if f.Link != "" {
		link, err := d.engine.render(name+".link", f.Link)
		if err != nil {
			return deb.ArchiveEntry{}, err
		}
		return owned(deb.SymlinkEntry(dst, link, d.modTime), f.Owner, f.Group), nil
	}

	src, err := d.engine.render(name+".src", f.Src)
	if err != nil {
		return deb.ArchiveEntry{}, err
	}
	mode, err := parseMode(f.Mode, 0o644)
	if err != nil {
		return deb.ArchiveEntry{}, fmt.Errorf("%s: %w", name, err)
	}

	var e deb.ArchiveEntry
	if f.Raw && !isURL(src) {
		// Raw local files are streamed from disk when the package is built.
		e, err = deb.FileEntry(dst, d.resolve(src), mode)
		if err != nil {
			return deb.ArchiveEntry{}, fmt.Errorf("%s: %w", name, err)
		}
	} else {
		content, err := d.loadResource(src, f.Raw)
		if err != nil {
			return deb.ArchiveEntry{}, err
		}
		e = deb.BytesEntry(dst, content, mode, d.modTime)
	}
	e.Conffile = f.Conffile
	return owned(e, f.Owner, f.Group), nil
}

package manifest

import (
	"fmt"
	"io"

	"github.com/etnz/debpack/deb"
	"github.com/etnz/debpack/fsmode"
)

// architecture returns Architecture, or the one derived from Runtime.
func (d *Definition) architecture() (string, error) {
	if d.Architecture != "" {
		return d.Architecture, nil
	}
	if d.Runtime == "" {
		return "", nil
	}
	id, err := ParseRuntimeID(d.Runtime)
	if err != nil {
		return "", err
	}
	return DebianArchitecture(id.Architecture)
}

// Metadata returns the control metadata of the definition.
func (d *Definition) Metadata() (deb.Metadata, error) {
	arch, err := d.architecture()
	if err != nil {
		return deb.Metadata{}, err
	}
	m := deb.Metadata{
		Package:      d.Name,
		Version:      d.Version,
		Architecture: arch,
		Maintainer:   d.Maintainer,
		Description:  d.Description,
		Section:      d.Section,
		Priority:     d.Priority,
		Homepage:     d.Homepage,
		Recommends:   append([]string(nil), d.Recommends...),
	}
	m.Depends = append(append(m.Depends, d.Depends...), d.DotNetDepends...)
	for k, v := range d.Fields {
		m.Set(k, v)
	}
	return m, nil
}

// Package assembles the deb.Package described by the definition.
func (d *Definition) Package() (*deb.Package, error) {
	m, err := d.Metadata()
	if err != nil {
		return nil, err
	}
	pkg := &deb.Package{Metadata: m}

	pkg.Entries, err = d.Entries()
	if err != nil {
		return nil, err
	}

	for i, f := range d.Scripts {
		dst, err := d.engine.render(fmt.Sprintf("scripts[%d].dst", i), f.Dst)
		if err != nil {
			return nil, err
		}
		src, err := d.engine.render(fmt.Sprintf("scripts[%d].src", i), f.Src)
		if err != nil {
			return nil, err
		}
		content, err := d.loadResource(src, f.Raw)
		if err != nil {
			return nil, err
		}

		switch deb.ControlFile(dst) {
		case deb.FilePreinst:
			pkg.Scripts.PreInst = string(content)
		case deb.FilePostinst:
			pkg.Scripts.PostInst = string(content)
		case deb.FilePrerm:
			pkg.Scripts.PreRm = string(content)
		case deb.FilePostrm:
			pkg.Scripts.PostRm = string(content)
		default:
			return nil, fmt.Errorf("unknown script dst: %s", dst)
		}
	}

	for i, f := range d.ControlFiles {
		dst, err := d.engine.render(fmt.Sprintf("control_files[%d].dst", i), f.Dst)
		if err != nil {
			return nil, err
		}
		src, err := d.engine.render(fmt.Sprintf("control_files[%d].src", i), f.Src)
		if err != nil {
			return nil, err
		}
		mode, err := parseMode(f.Mode, 0o644)
		if err != nil {
			return nil, fmt.Errorf("control_files[%d]: %w", i, err)
		}
		content, err := d.loadResource(src, f.Raw)
		if err != nil {
			return nil, err
		}
		if pkg.ExtraControlFiles == nil {
			pkg.ExtraControlFiles = make(map[string]deb.ControlFileData)
		}
		pkg.ExtraControlFiles[dst] = deb.ControlFileData{Mode: fsmode.S_IFREG | mode, Contents: content}
	}

	if err := pkg.Metadata.Validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// Builder returns a copy of b completed with the definition's build
// settings. Settings already set on b win.
func (d *Definition) Builder(b deb.Builder) (deb.Builder, error) {
	if b.Compression == "" && d.Compression != "" {
		c, err := deb.ParseCompression(d.Compression)
		if err != nil {
			return b, err
		}
		b.Compression = c
	}
	if b.Threads == 0 {
		b.Threads = d.Threads
	}
	b.IncludeRoot = b.IncludeRoot || d.IncludeRoot
	return b, nil
}

// Build writes the package to w with b, completed by Builder.
func (d *Definition) Build(w io.Writer, b deb.Builder, l Listener) error {
	if l == nil {
		l = func(fmt.Stringer) {}
	}

	pkg, err := d.Package()
	if err != nil {
		return fmt.Errorf("assembling package %s: %w", d.Name, err)
	}
	ev := EventEntriesCollected{Package: pkg.Metadata.Package}
	for _, e := range pkg.Entries {
		switch {
		case e.IsDir():
			ev.Directories++
		case e.Mode.IsSymlink():
			ev.Symlinks++
		default:
			ev.Files++
			ev.Bytes += e.Size
		}
	}
	l(ev)

	b, err = d.Builder(b)
	if err != nil {
		return err
	}
	if err := b.Build(w, pkg); err != nil {
		return fmt.Errorf("building package %s: %w", d.Name, err)
	}
	compression := b.Compression
	if compression == "" {
		compression = deb.CompressionXZ
	}
	l(EventPackageBuilt{
		Package:      pkg.Metadata.Package,
		Version:      pkg.Metadata.Version,
		Architecture: pkg.Metadata.Architecture,
		Filename:     pkg.StandardFilename(),
		Compression:  string(compression),
		Signed:       b.Signer != nil,
	})
	return nil
}

// Filename returns the canonical .deb name of the package.
func (d *Definition) Filename() (string, error) {
	m, err := d.Metadata()
	if err != nil {
		return "", err
	}
	return m.StandardFilename(), nil
}

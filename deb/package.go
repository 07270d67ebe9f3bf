package deb

import (
	"sort"

	"github.com/etnz/debpack/fsmode"
)

// Package represents the comprehensive definition of a Debian binary package.
// It separates metadata (Control), hooks (Scripts), and payload (Entries).
type Package struct {
	Metadata Metadata
	Scripts  Scripts
	Entries  []ArchiveEntry

	// ExtraControlFiles contains arbitrary control files to be added to the
	// control archive, keyed by name (e.g. "templates", "triggers", "config").
	// Names handled by the builder itself are ignored.
	ExtraControlFiles map[string]ControlFileData
}

// ControlFileData is the content and mode of a file in control.tar.gz.
type ControlFileData struct {
	Mode     fsmode.Mode
	Contents []byte
}

// Scripts holds the executable maintainer scripts.
// These are executed by dpkg at different stages of the package lifecycle.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-maintainerscripts.html
type Scripts struct {
	// PreInst runs before the package is unpacked.
	PreInst string
	// PostInst runs after the package is unpacked.
	// Common use: starting services, running ldconfig.
	PostInst string
	// PreRm runs before the package is removed.
	PreRm string
	// PostRm runs after the package is removed.
	// Common use: purging configuration data.
	PostRm string
}

// files pairs each maintainer script with its control file name, in the
// order they are archived.
func (s *Scripts) files() []struct {
	name ControlFile
	body string
} {
	return []struct {
		name ControlFile
		body string
	}{
		{FilePreinst, s.PreInst},
		{FilePostinst, s.PostInst},
		{FilePrerm, s.PreRm},
		{FilePostrm, s.PostRm},
	}
}

func (s *Scripts) set(name ControlFile, body string) bool {
	switch name {
	case FilePreinst:
		s.PreInst = body
	case FilePostinst:
		s.PostInst = body
	case FilePrerm:
		s.PreRm = body
	case FilePostrm:
		s.PostRm = body
	default:
		return false
	}
	return true
}

// reserved reports whether name is a control file the builder writes itself.
func reserved(name string) bool {
	switch ControlFile(name) {
	case FileControl, FileMd5sums, FileConffiles, FilePreinst, FilePostinst, FilePrerm, FilePostrm:
		return true
	}
	return false
}

// StandardFilename returns the canonical filename for the package.
func (p *Package) StandardFilename() string {
	return p.Metadata.StandardFilename()
}

// Conffiles returns the target paths of entries marked as conffiles, sorted.
func (p *Package) Conffiles() []string {
	var res []string
	for _, e := range p.Entries {
		if e.Conffile && e.Mode.IsRegular() {
			res = append(res, e.TargetPathWithoutFinalSlash())
		}
	}
	sort.Strings(res)
	return res
}

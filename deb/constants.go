package deb

import (
	"errors"
	"fmt"
	"strings"
)

// ControlField represents a standard field in a Debian control file.
type ControlField string

const (
	FieldPackage       ControlField = "Package"
	FieldVersion       ControlField = "Version"
	FieldArchitecture  ControlField = "Architecture"
	FieldMaintainer    ControlField = "Maintainer"
	FieldDescription   ControlField = "Description"
	FieldSection       ControlField = "Section"
	FieldPriority      ControlField = "Priority"
	FieldHomepage      ControlField = "Homepage"
	FieldEssential     ControlField = "Essential"
	FieldDepends       ControlField = "Depends"
	FieldPreDepends    ControlField = "Pre-Depends"
	FieldRecommends    ControlField = "Recommends"
	FieldSuggests      ControlField = "Suggests"
	FieldEnhances      ControlField = "Enhances"
	FieldConflicts     ControlField = "Conflicts"
	FieldBreaks        ControlField = "Breaks"
	FieldReplaces      ControlField = "Replaces"
	FieldProvides      ControlField = "Provides"
	FieldBuiltUsing    ControlField = "Built-Using"
	FieldSource        ControlField = "Source"
	FieldInstalledSize ControlField = "Installed-Size"

	// Fields only found in APT Packages stanzas.
	FieldFilename ControlField = "Filename"
	FieldSize     ControlField = "Size"
	FieldMD5sum   ControlField = "MD5sum"
	FieldSHA256   ControlField = "SHA256"
)

// ControlFile represents a standard file found in the control.tar.gz archive.
type ControlFile string

const (
	FileControl   ControlFile = "control"
	FileMd5sums   ControlFile = "md5sums"
	FileConffiles ControlFile = "conffiles"
	FilePreinst   ControlFile = "preinst"
	FilePostinst  ControlFile = "postinst"
	FilePrerm     ControlFile = "prerm"
	FilePostrm    ControlFile = "postrm"
)

// PackageFile represents a member of the outer ar archive.
type PackageFile string

const (
	PkgDebianBinary PackageFile = "debian-binary"
	PkgControlTarGz PackageFile = "control.tar.gz"
	PkgControlTar   PackageFile = "control.tar"
	PkgDataTarGz    PackageFile = "data.tar.gz"
	PkgDataTarXz    PackageFile = "data.tar.xz"
	PkgGPGOrigin    PackageFile = "_gpgorigin"

	dataPrefix = "data.tar"
)

// FormatVersion is the content of the debian-binary member.
const FormatVersion = "2.0\n"

var (
	// ErrUnsupportedCompression is returned for a data or control member
	// whose compression is not handled.
	ErrUnsupportedCompression = errors.New("deb: unsupported compression")
	// ErrMissingMember is returned when a required ar member is absent.
	ErrMissingMember = errors.New("deb: missing member")
	// ErrIntegrity is returned when the payload does not match md5sums.
	ErrIntegrity = errors.New("deb: integrity check failed")
	// ErrInvalidEntry is returned for an entry that cannot be archived.
	ErrInvalidEntry = errors.New("deb: invalid entry")
)

// Compression selects the data.tar compression.
type Compression string

const (
	CompressionXZ   Compression = "xz"
	CompressionGzip Compression = "gzip"
)

// ParseCompression accepts "xz", "gzip" or "gz".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "xz":
		return CompressionXZ, nil
	case "gzip", "gz":
		return CompressionGzip, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedCompression, s)
}

// Member returns the ar member name of the data archive.
func (c Compression) Member() PackageFile {
	if c == CompressionGzip {
		return PkgDataTarGz
	}
	return PkgDataTarXz
}

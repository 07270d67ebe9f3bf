package deb

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/etnz/debpack/control"
)

// Metadata maps directly to the fields in the Debian 'control' file.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#binary-package-control-files-debian-control
type Metadata struct {
	// Package is the name of the package: lower case letters, digits, '+',
	// '-' and '.', at least two characters, starting with an alphanumeric.
	Package string

	// Version is [epoch:]upstream_version[-debian_revision].
	Version string

	// Architecture is a Debian architecture such as "amd64", or "all".
	Architecture string

	// Maintainer is "Name <email@address.com>".
	Maintainer string

	// Description is the synopsis on the first line followed by the
	// extended description. Empty lines are kept as paragraph breaks.
	Description string

	Section  string
	Priority string
	Homepage string

	// Essential packages cannot be removed without a warning.
	Essential bool

	// Relationship fields, one relation per element, e.g. "libc6 (>= 2.31)".
	//
	// Reference: https://www.debian.org/doc/debian-policy/ch-relationships.html
	Depends    []string
	PreDepends []string
	Recommends []string
	Suggests   []string
	Enhances   []string
	Conflicts  []string
	Breaks     []string
	Replaces   []string
	Provides   []string

	BuiltUsing string
	Source     string

	// ExtraFields holds user-defined fields such as "Bugs" or "Origin".
	ExtraFields map[string]string
}

// ErrMissingField is returned when a mandatory control field is empty.
var ErrMissingField = errors.New("deb: missing mandatory field")

// controlOrder is the order fields are written in the control file.
var controlOrder = []string{
	string(FieldPackage),
	string(FieldVersion),
	string(FieldArchitecture),
	string(FieldMaintainer),
	string(FieldInstalledSize),
	string(FieldSection),
	string(FieldPriority),
	string(FieldHomepage),
	string(FieldEssential),
	string(FieldDepends),
	string(FieldPreDepends),
	string(FieldRecommends),
	string(FieldSuggests),
	string(FieldEnhances),
	string(FieldConflicts),
	string(FieldBreaks),
	string(FieldReplaces),
	string(FieldProvides),
	string(FieldBuiltUsing),
	string(FieldSource),
	string(FieldDescription),
}

// Validate checks that the mandatory fields are set.
func (m *Metadata) Validate() error {
	for _, f := range []struct {
		field ControlField
		value string
	}{
		{FieldPackage, m.Package},
		{FieldVersion, m.Version},
		{FieldArchitecture, m.Architecture},
		{FieldMaintainer, m.Maintainer},
		{FieldDescription, m.Description},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.field)
		}
	}
	if strings.ContainsAny(m.Package, " _/") {
		return fmt.Errorf("deb: invalid package name %q", m.Package)
	}
	return nil
}

// StandardFilename returns the canonical filename for the package.
// Format: {Package}_{Version}_{Architecture}.deb
//
// Reference: https://www.debian.org/doc/manuals/debian-faq/ch-pkg_basics.en.html#s-pkgname
func (m *Metadata) StandardFilename() string {
	return fmt.Sprintf("%s_%s_%s.deb", m.Package, m.Version, m.Architecture)
}

// Set updates a single field. Relationship fields are split on commas;
// Installed-Size is ignored since it is computed when the package is built.
func (m *Metadata) Set(key, value string) {
	switch ControlField(key) {
	case FieldPackage:
		m.Package = value
	case FieldVersion:
		m.Version = value
	case FieldArchitecture:
		m.Architecture = value
	case FieldMaintainer:
		m.Maintainer = value
	case FieldDescription:
		m.Description = value
	case FieldSection:
		m.Section = value
	case FieldPriority:
		m.Priority = value
	case FieldHomepage:
		m.Homepage = value
	case FieldEssential:
		m.Essential = value == "yes"
	case FieldDepends:
		m.Depends = control.SplitList(value)
	case FieldPreDepends:
		m.PreDepends = control.SplitList(value)
	case FieldRecommends:
		m.Recommends = control.SplitList(value)
	case FieldSuggests:
		m.Suggests = control.SplitList(value)
	case FieldEnhances:
		m.Enhances = control.SplitList(value)
	case FieldConflicts:
		m.Conflicts = control.SplitList(value)
	case FieldBreaks:
		m.Breaks = control.SplitList(value)
	case FieldReplaces:
		m.Replaces = control.SplitList(value)
	case FieldProvides:
		m.Provides = control.SplitList(value)
	case FieldBuiltUsing:
		m.BuiltUsing = value
	case FieldSource:
		m.Source = value
	case FieldInstalledSize:
	default:
		if m.ExtraFields == nil {
			m.ExtraFields = make(map[string]string)
		}
		m.ExtraFields[key] = value
	}
}

// MetadataFromFields is the inverse of Metadata.Fields.
func MetadataFromFields(f control.Fields) Metadata {
	var m Metadata
	for k, v := range f {
		m.Set(k, v)
	}
	return m
}

// Fields renders the metadata as a control paragraph. installedSize is in
// bytes and is written in KiB, rounded up.
func (m *Metadata) Fields(installedSize int64) control.Fields {
	f := make(control.Fields)
	set := func(field ControlField, value string) {
		if value != "" {
			f[string(field)] = value
		}
	}
	for k, v := range m.ExtraFields {
		set(ControlField(k), v)
	}

	set(FieldPackage, m.Package)
	set(FieldVersion, m.Version)
	set(FieldArchitecture, m.Architecture)
	set(FieldMaintainer, m.Maintainer)
	set(FieldInstalledSize, strconv.FormatInt((installedSize+1023)/1024, 10))
	set(FieldSection, m.Section)
	set(FieldPriority, m.Priority)
	set(FieldHomepage, m.Homepage)
	if m.Essential {
		set(FieldEssential, "yes")
	}
	set(FieldDepends, control.JoinList(m.Depends))
	set(FieldPreDepends, control.JoinList(m.PreDepends))
	set(FieldRecommends, control.JoinList(m.Recommends))
	set(FieldSuggests, control.JoinList(m.Suggests))
	set(FieldEnhances, control.JoinList(m.Enhances))
	set(FieldConflicts, control.JoinList(m.Conflicts))
	set(FieldBreaks, control.JoinList(m.Breaks))
	set(FieldReplaces, control.JoinList(m.Replaces))
	set(FieldProvides, control.JoinList(m.Provides))
	set(FieldBuiltUsing, m.BuiltUsing)
	set(FieldSource, m.Source)
	set(FieldDescription, m.Description)
	return f
}

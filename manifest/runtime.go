package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRuntimeID is returned for runtime identifiers that cannot be parsed or
// have no Debian architecture.
var ErrRuntimeID = errors.New("manifest: invalid runtime identifier")

// architectures lists the processor architectures a runtime identifier may
// name, lower case.
var architectures = []string{"x86", "x64", "arm", "arm64", "wasm", "s390x", "loongarch64", "armv6", "ppc64le", "riscv64"}

// debianArchitectures maps a runtime architecture to its dpkg name.
var debianArchitectures = map[string]string{
	"x86":         "i386",
	"x64":         "amd64",
	"arm":         "armhf",
	"armv6":       "armhf",
	"arm64":       "arm64",
	"s390x":       "s390x",
	"ppc64le":     "ppc64el",
	"loongarch64": "loong64",
	"riscv64":     "riscv64",
}

// RuntimeID is a parsed .NET style runtime identifier such as "linux-x64",
// "ubuntu.20.04-arm64" or "linux-musl-x64".
type RuntimeID struct {
	OS      string
	Version string
	// Architecture is one of x86, x64, arm, arm64, wasm, s390x, loongarch64,
	// armv6, ppc64le and riscv64, or empty.
	Architecture string
	// Qualifiers is what follows the architecture, or the unrecognized
	// architecture itself.
	Qualifiers string
}

// ParseRuntimeID splits rid into its parts: the operating system up to the
// first '.', its version up to the architecture separator, then the
// architecture and any qualifiers. A "-musl" suffix stays part of the
// operating system name, and "win10" reads as "win" version "10".
func ParseRuntimeID(rid string) (RuntimeID, error) {
	var id RuntimeID
	if rid == "" {
		return id, fmt.Errorf("%w: empty", ErrRuntimeID)
	}

	versionSep := strings.IndexByte(rid, '.')
	if versionSep >= 0 {
		id.OS = rid[:versionSep]
	}
	muslSep := index(rid, "-musl", versionSep+1)
	archSep := index(rid, "-", muslSep+1)

	var rest string
	switch {
	case archSep >= 0 && versionSep >= 0:
		if archSep < versionSep {
			return id, fmt.Errorf("%w: %q", ErrRuntimeID, rid)
		}
		id.Version = rid[versionSep+1 : archSep]
		rest = rid[archSep+1:]
	case archSep >= 0:
		id.OS = rid[:archSep]
		rest = rid[archSep+1:]
	case versionSep >= 0:
		id.Version = rid[versionSep+1:]
	default:
		id.OS = rid
	}

	if strings.HasPrefix(id.OS, "win") && len(id.OS) > 3 {
		id.Version = id.OS[3:]
		id.OS = "win"
	}

	if rest == "" {
		return id, nil
	}
	arch := rest
	if i := strings.IndexByte(rest, '-'); i > 0 {
		arch, id.Qualifiers = rest[:i], rest[i+1:]
	}
	if arch == "armel" {
		arch = "arm"
	}
	for _, a := range architectures {
		if strings.EqualFold(a, arch) {
			id.Architecture = a
			return id, nil
		}
	}
	id.Qualifiers = arch
	return id, nil
}

// index is strings.Index starting at from; it returns -1 when from is out
// of range.
func index(s, substr string, from int) int {
	if from < 0 || from > len(s) {
		return -1
	}
	i := strings.Index(s[from:], substr)
	if i < 0 {
		return -1
	}
	return from + i
}

// DebianArchitecture returns the dpkg architecture for a runtime
// architecture, e.g. "amd64" for "x64".
func DebianArchitecture(arch string) (string, error) {
	if a, ok := debianArchitectures[strings.ToLower(arch)]; ok {
		return a, nil
	}
	return "", fmt.Errorf("%w: no Debian architecture for %q", ErrRuntimeID, arch)
}

// String reassembles the identifier.
func (id RuntimeID) String() string {
	s := id.OS
	if id.Version != "" {
		if id.OS == "win" {
			s += id.Version
		} else {
			s += "." + id.Version
		}
	}
	if id.Architecture != "" {
		s += "-" + id.Architecture
	}
	if id.Qualifiers != "" {
		s += "-" + id.Qualifiers
	}
	return s
}

// Package control reads and writes Debian control paragraphs: the control
// file of a package, APT Packages stanzas and the md5sums list.
package control

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

var (
	// ErrSyntax is returned for a line that is neither a field, a
	// continuation of a field nor a comment.
	ErrSyntax = errors.New("control: syntax error")
	// ErrDuplicateKey is returned when a field appears twice in a paragraph.
	ErrDuplicateKey = errors.New("control: duplicate field")
)

// Fields maps field names to their values. Multi-line values are joined with
// "\n"; an empty line inside a value is a line written as " .". A
// continuation line that is "." or only blanks has no encoding and is
// rejected by Serialize.
type Fields map[string]string

// Parse reads a single paragraph. Comment lines starting with '#' and blank
// lines are ignored.
func Parse(r io.Reader) (Fields, error) {
	f := make(Fields)
	seen := make(map[string]bool)
	var key string
	var value strings.Builder

	flush := func() {
		if key != "" {
			f[key] = value.String()
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for lineno := 1; sc.Scan(); lineno++ {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "#"):
			continue
		case strings.TrimSpace(line) == "":
			continue
		case line[0] == ' ' || line[0] == '\t':
			if key == "" {
				return nil, fmt.Errorf("%w: line %d: continuation before any field", ErrSyntax, lineno)
			}
			content := strings.TrimSpace(line)
			if content == "." {
				content = ""
			}
			value.WriteString("\n" + content)
		default:
			k, v, ok := strings.Cut(line, ":")
			k = strings.TrimSpace(k)
			if !ok || k == "" {
				return nil, fmt.Errorf("%w: line %d: %q", ErrSyntax, lineno, line)
			}
			if seen[strings.ToLower(k)] {
				return nil, fmt.Errorf("%w: line %d: %s", ErrDuplicateKey, lineno, k)
			}
			flush()
			seen[strings.ToLower(k)] = true
			key = k
			value.Reset()
			value.WriteString(strings.TrimSpace(v))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading control paragraph: %w", err)
	}
	flush()
	return f, nil
}

// ParseString is Parse on a string.
func ParseString(s string) (Fields, error) {
	return Parse(strings.NewReader(s))
}

// Serialize writes f as a paragraph. Keys listed in order come first, in
// that order; the remaining keys follow sorted. Nothing is written when a
// value cannot be encoded.
func Serialize(w io.Writer, f Fields, order ...string) error {
	keys := orderedKeys(f, order)
	for _, k := range keys {
		if err := checkValue(k, f[k]); err != nil {
			return err
		}
	}
	bw := bufio.NewWriter(w)
	for _, k := range keys {
		writeField(bw, k, f[k])
	}
	return bw.Flush()
}

// checkValue rejects continuation lines that Parse would read back as an
// empty line.
func checkValue(key, value string) error {
	lines := strings.Split(value, "\n")
	for i, l := range lines[1:] {
		if l == "" {
			continue
		}
		if t := strings.TrimSpace(l); t == "" || t == "." {
			return fmt.Errorf("%w: %s: line %d of the value is %q", ErrSyntax, key, i+2, l)
		}
	}
	return nil
}

// String renders f with its keys sorted.
func (f Fields) String() string {
	var b strings.Builder
	Serialize(&b, f)
	return b.String()
}

func orderedKeys(f Fields, order []string) []string {
	keys := make([]string, 0, len(f))
	done := make(map[string]bool, len(f))
	for _, k := range order {
		if _, ok := f[k]; ok && !done[k] {
			keys = append(keys, k)
			done[k] = true
		}
	}
	var rest []string
	for k := range f {
		if !done[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func writeField(w *bufio.Writer, key, value string) {
	lines := strings.Split(value, "\n")
	if lines[0] == "" {
		fmt.Fprintf(w, "%s:\n", key)
	} else {
		fmt.Fprintf(w, "%s: %s\n", key, lines[0])
	}
	for _, l := range lines[1:] {
		if l == "" {
			w.WriteString(" .\n")
			continue
		}
		fmt.Fprintf(w, " %s\n", l)
	}
}

// SplitList splits a comma-separated relationship field, trimming each
// element and dropping empty ones. It returns nil for an empty field.
func SplitList(s string) []string {
	var res []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			res = append(res, p)
		}
	}
	return res
}

// JoinList is the inverse of SplitList.
func JoinList(items []string) string {
	return strings.Join(items, ", ")
}

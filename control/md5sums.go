package control

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ParseMD5Sums reads an md5sums file: one "<md5>  <path>" line per file,
// paths relative to the filesystem root.
func ParseMD5Sums(r io.Reader) (map[string]string, error) {
	sums := make(map[string]string)
	sc := bufio.NewScanner(r)
	for lineno := 1; sc.Scan(); lineno++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		sum, path, ok := strings.Cut(line, "  ")
		if !ok || len(sum) != 32 || path == "" {
			return nil, fmt.Errorf("%w: md5sums line %d: %q", ErrSyntax, lineno, line)
		}
		sums[strings.TrimPrefix(path, "/")] = strings.ToLower(sum)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading md5sums: %w", err)
	}
	return sums, nil
}

// WriteMD5Sums writes sums sorted by path. Leading slashes are dropped.
func WriteMD5Sums(w io.Writer, sums map[string]string) error {
	paths := make([]string, 0, len(sums))
	for p := range sums {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	bw := bufio.NewWriter(w)
	for _, p := range paths {
		fmt.Fprintf(bw, "%s  %s\n", sums[p], strings.TrimPrefix(p, "/"))
	}
	return bw.Flush()
}

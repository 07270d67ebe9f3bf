// Package manifest builds Debian packages from declarative YAML or JSON
// definitions.
//
// A definition names the package metadata, a publish directory whose tree
// is installed under a prefix, extra content files, explicit folders and the
// maintainer scripts. Every string field is a text/template rendered with
// the definition's defines, overridden by the caller's.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Definition describes a package to build.
type Definition struct {
	Name        string `json:"package" yaml:"package"`
	Version     string `json:"version" yaml:"version"`
	Maintainer  string `json:"maintainer" yaml:"maintainer"`
	Description string `json:"description" yaml:"description"`
	Section     string `json:"section" yaml:"section"`
	Priority    string `json:"priority" yaml:"priority"`
	Homepage    string `json:"homepage" yaml:"homepage"`

	// Architecture is the dpkg architecture. When empty it is derived from
	// Runtime, a runtime identifier such as "linux-x64".
	Architecture string `json:"architecture" yaml:"architecture"`
	Runtime      string `json:"runtime" yaml:"runtime"`

	// Depends and DotNetDepends are merged, in that order, into Depends.
	Depends       []string `json:"depends" yaml:"depends"`
	DotNetDepends []string `json:"dotnet_depends" yaml:"dotnet_depends"`
	Recommends    []string `json:"recommends" yaml:"recommends"`
	// Fields sets or overrides any other control field, e.g. "Conflicts".
	Fields map[string]string `json:"fields" yaml:"fields"`

	// PublishDir is installed under Prefix, "/usr/share/<package>" by
	// default. Include and Exclude are doublestar globs matched against
	// slash separated paths relative to PublishDir.
	PublishDir string   `json:"publish_dir" yaml:"publish_dir"`
	Prefix     string   `json:"prefix" yaml:"prefix"`
	Include    []string `json:"include" yaml:"include"`
	Exclude    []string `json:"exclude" yaml:"exclude"`
	// AppHost is the main executable in PublishDir. It gets mode 0755 and a
	// symlink in /usr/bin.
	AppHost string `json:"app_host" yaml:"app_host"`

	Folders      []Folder `json:"folders" yaml:"folders"`
	Content      []File   `json:"content" yaml:"content"`
	Scripts      []File   `json:"scripts" yaml:"scripts"`
	ControlFiles []File   `json:"control_files" yaml:"control_files"`

	// Compression is "xz" (default) or "gzip".
	Compression string `json:"compression" yaml:"compression"`
	Threads     int    `json:"threads" yaml:"threads"`
	IncludeRoot bool   `json:"include_root" yaml:"include_root"`

	// Defines is a map of variables available to templates.
	Defines map[string]string `json:"defines" yaml:"defines"`

	filePath string
	modTime  time.Time
	engine   *templateEngine
}

// Folder is a directory created by the package even when empty.
type Folder struct {
	Path  string `json:"path" yaml:"path"`
	Mode  string `json:"mode" yaml:"mode"`
	Owner string `json:"owner" yaml:"owner"`
	Group string `json:"group" yaml:"group"`
}

// File is a resource added to the package payload, or a maintainer script or
// control file when listed in Scripts or ControlFiles.
type File struct {
	// Src is a path relative to the definition file, or an http(s) URL.
	Src string `json:"src" yaml:"src"`
	// Dst is the absolute install path, or the script or control file name.
	Dst string `json:"dst" yaml:"dst"`
	// Raw disables template rendering of the content.
	Raw bool `json:"raw" yaml:"raw"`
	// Mode is the octal permission string, e.g. "0755".
	Mode  string `json:"mode" yaml:"mode"`
	Owner string `json:"owner" yaml:"owner"`
	Group string `json:"group" yaml:"group"`
	// Link makes Dst a symlink to Link instead of a file.
	Link     string `json:"link" yaml:"link"`
	Conffile bool   `json:"conffile" yaml:"conffile"`
}

// Load reads the definition at path. defines override the definition's own.
// Top level fields are rendered now; content, folders and scripts are
// rendered when the package is assembled.
func Load(path string, defines map[string]string) (*Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var d Definition
	if err := unmarshal(path, content, &d); err != nil {
		return nil, fmt.Errorf("parsing definition %s: %w", path, err)
	}
	d.filePath = path
	d.modTime = fi.ModTime()
	d.engine = newTemplateEngine(d.Defines).sub(defines)

	if err := d.renderFields(); err != nil {
		return nil, fmt.Errorf("rendering definition %s: %w", path, err)
	}
	if d.Name == "" {
		return nil, fmt.Errorf("definition %s must specify 'package'", path)
	}
	return &d, nil
}

func (d *Definition) renderFields() error {
	for name, p := range map[string]*string{
		"package":      &d.Name,
		"version":      &d.Version,
		"maintainer":   &d.Maintainer,
		"description":  &d.Description,
		"section":      &d.Section,
		"priority":     &d.Priority,
		"homepage":     &d.Homepage,
		"architecture": &d.Architecture,
		"runtime":      &d.Runtime,
		"publish_dir":  &d.PublishDir,
		"prefix":       &d.Prefix,
		"app_host":     &d.AppHost,
		"compression":  &d.Compression,
	} {
		v, err := d.engine.render(name, *p)
		if err != nil {
			return err
		}
		*p = v
	}
	for name, list := range map[string][]string{
		"depends":        d.Depends,
		"dotnet_depends": d.DotNetDepends,
		"recommends":     d.Recommends,
		"include":        d.Include,
		"exclude":        d.Exclude,
	} {
		if err := d.engine.renderAll(name, list); err != nil {
			return err
		}
	}
	for k, v := range d.Fields {
		r, err := d.engine.render("fields."+k, v)
		if err != nil {
			return err
		}
		d.Fields[k] = r
	}
	return nil
}

func (d *Definition) resolve(path string) string {
	if filepath.IsAbs(path) || isURL(path) {
		return path
	}
	return filepath.Join(filepath.Dir(d.filePath), path)
}

func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// loadResource returns the content at path, rendered unless raw.
func (d *Definition) loadResource(path string, raw bool) ([]byte, error) {
	var content []byte
	var err error

	if isURL(path) {
		resp, err := http.Get(path)
		if err != nil {
			return nil, fmt.Errorf("fetching resource %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching resource %s: %s", path, resp.Status)
		}

		content, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading resource body %s: %w", path, err)
		}
	} else {
		resolved := d.resolve(path)
		content, err = os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading resource %s: %w", resolved, err)
		}
	}

	if raw {
		return content, nil
	}
	s, err := d.engine.render(path, string(content))
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// unmarshal parses JSON or YAML based on file extension.
func unmarshal(path string, data []byte, v interface{}) error {
	ext := strings.ToLower(filepath.Ext(path))
	r := bytes.NewReader(data)
	if ext == ".yaml" || ext == ".yml" {
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		return dec.Decode(v)
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

package manifest

import (
	"strings"
	"text/template"
)

// templateEngine renders the string fields of a definition with
// text/template. Unknown keys are errors.
type templateEngine struct {
	defines map[string]string
	funcs   template.FuncMap
}

func newTemplateEngine(defines map[string]string) *templateEngine {
	d := make(map[string]string, len(defines))
	for k, v := range defines {
		d[k] = v
	}
	return &templateEngine{
		defines: d,
		funcs: template.FuncMap{
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
			// debarch maps a runtime identifier to its dpkg architecture:
			// {{ debarch "linux-arm64" }} renders "arm64".
			"debarch": func(rid string) (string, error) {
				id, err := ParseRuntimeID(rid)
				if err != nil {
					return "", err
				}
				return DebianArchitecture(id.Architecture)
			},
		},
	}
}

// sub returns an engine whose definitions are the receiver's overridden by
// locals.
func (e *templateEngine) sub(locals map[string]string) *templateEngine {
	d := make(map[string]string, len(e.defines)+len(locals))
	for k, v := range e.defines {
		d[k] = v
	}
	for k, v := range locals {
		d[k] = v
	}
	return &templateEngine{defines: d, funcs: e.funcs}
}

// render executes text as a template named name. Text without "{{" is
// returned as is.
func (e *templateEngine) render(name, text string) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	t, err := template.New(name).Funcs(e.funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := t.Execute(&buf, e.defines); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderAll renders every element of values in place.
func (e *templateEngine) renderAll(name string, values []string) error {
	for i, v := range values {
		r, err := e.render(name, v)
		if err != nil {
			return err
		}
		values[i] = r
	}
	return nil
}

// Package routes maps HTTP requests to the permission they require.
package routes

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultTable []byte

// Entry is one row of the route table as written in YAML.
type Entry struct {
	Method     string `yaml:"method"`
	Path       string `yaml:"path"`
	Permission string `yaml:"permission"`
}

type document struct {
	Public []string `yaml:"public"`
	Routes []Entry  `yaml:"routes"`
}

type route struct {
	method     string
	segments   []string
	permission string
}

type publicRoute struct {
	method   string
	segments []string
}

// Match is the result of resolving a request.
type Match struct {
	// Public requests bypass authentication entirely.
	Public bool
	// Found is true when the request matched a table entry. Requests that are neither public
	// nor found are denied.
	Found bool
	// Permission is required when non-empty; an empty permission needs only authentication.
	Permission string
}

// Table is the compiled route table. It is immutable and safe for concurrent use.
type Table struct {
	entries   []Entry
	public    []publicRoute
	exact     map[string]string
	templates []route
}

// Default compiles the embedded route table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Parse compiles a YAML route table. Entry order is preserved.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routes: %w", err)
	}
	t := &Table{exact: make(map[string]string)}
	for _, p := range doc.Public {
		method, path, ok := strings.Cut(strings.TrimSpace(p), " ")
		if !ok || path == "" {
			return nil, fmt.Errorf("routes: public entry %q must be \"METHOD PATH\"", p)
		}
		t.public = append(t.public, publicRoute{method: strings.ToUpper(method), segments: split(strings.TrimSpace(path))})
	}
	for i, e := range doc.Routes {
		if e.Method == "" || !strings.HasPrefix(e.Path, "/") {
			return nil, fmt.Errorf("routes: entry %d: method and absolute path required", i)
		}
		method := strings.ToUpper(e.Method)
		t.entries = append(t.entries, e)
		if !strings.Contains(e.Path, "*") {
			key := method + ":" + e.Path
			if _, dup := t.exact[key]; dup {
				return nil, fmt.Errorf("routes: duplicate entry %s", key)
			}
			t.exact[key] = e.Permission
			continue
		}
		t.templates = append(t.templates, route{method: method, segments: split(e.Path), permission: e.Permission})
	}
	if len(t.exact) == 0 && len(t.templates) == 0 {
		return nil, errors.New("routes: table is empty")
	}
	return t, nil
}

// IsPublic reports whether the request bypasses authentication.
func (t *Table) IsPublic(method, path string) bool {
	method = strings.ToUpper(method)
	segs := split(path)
	for _, p := range t.public {
		if (p.method == "*" || p.method == method) && globMatch(p.segments, segs) {
			return true
		}
	}
	return false
}

// Resolve finds what the request requires: public allow-list first, then an exact
// METHOD:PATH lookup, then the first matching template in table order.
func (t *Table) Resolve(method, path string) Match {
	method = strings.ToUpper(method)
	path = normalize(path)
	if t.IsPublic(method, path) {
		return Match{Public: true, Found: true}
	}
	if perm, ok := t.exact[method+":"+path]; ok {
		return Match{Found: true, Permission: perm}
	}
	segs := split(path)
	for _, r := range t.templates {
		if r.method == method && templateMatch(r.segments, segs) {
			return Match{Found: true, Permission: r.permission}
		}
	}
	return Match{}
}

// Permissions returns every distinct non-empty permission named by the table, in table order.
func (t *Table) Permissions() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, e := range t.entries {
		add(e.Permission)
	}
	return out
}

func normalize(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

func split(path string) []string {
	path = strings.Trim(normalize(path), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func templateMatch(tmpl, segs []string) bool {
	if len(tmpl) != len(segs) {
		return false
	}
	for i, s := range tmpl {
		if s == "*" {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if s != segs[i] {
			return false
		}
	}
	return true
}

// globMatch matches "*" to one segment and "**" to zero or more.
func globMatch(pattern, segs []string) bool {
	if len(pattern) == 0 {
		return len(segs) == 0
	}
	switch pattern[0] {
	case "**":
		for i := 0; i <= len(segs); i++ {
			if globMatch(pattern[1:], segs[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(segs) > 0 && globMatch(pattern[1:], segs[1:])
	default:
		return len(segs) > 0 && pattern[0] == segs[0] && globMatch(pattern[1:], segs[1:])
	}
}

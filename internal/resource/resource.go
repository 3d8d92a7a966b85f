// Package resource describes the tree of requests issued by one load iteration.
//
// A [Resource] is compiled once from a [Spec] before the run starts and is then
// shared read-only by every engine worker. Each node knows how to produce the
// next request target through [Resource.NextPath], which expands placeholders
// such as {{rand 200 700}} or {{uuid}} on every call.
package resource

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Spec is the declarative form of a resource tree as it appears in config files.
type Spec struct {
	Method   string            `yaml:"method" json:"method"`
	Path     string            `yaml:"path" json:"path"`
	Headers  map[string]string `yaml:"headers" json:"headers"`
	Children []Spec            `yaml:"children" json:"children"`
}

// Supplier yields the next request target (path and query).
type Supplier func() string

// Resource is a compiled, immutable request descriptor. Children are requested
// after the parent's response as part of the same iteration.
type Resource struct {
	method   string
	path     *pathTemplate
	headers  http.Header
	children []*Resource
}

// Compile validates spec and builds the resource tree using a time-seeded random source.
func Compile(spec Spec) (*Resource, error) {
	return CompileSeeded(spec, time.Now().UnixNano())
}

// CompileSeeded is Compile with a fixed seed for reproducible {{rand}} expansion.
func CompileSeeded(spec Spec, seed int64) (*Resource, error) {
	return compile(spec, newLockedSource(seed), "root")
}

func compile(spec Spec, src *lockedSource, where string) (*Resource, error) {
	path := strings.TrimSpace(spec.Path)
	if path == "" {
		return nil, fmt.Errorf("%s: path is required", where)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%s: path %q must start with /", where, path)
	}
	tmpl, err := parsePathTemplate(path, src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", where, err)
	}

	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		method = http.MethodGet
	}

	headers := http.Header{}
	for key, value := range spec.Headers {
		trimmed := strings.TrimSpace(key)
		if trimmed == "" || strings.ContainsAny(trimmed, "\r\n") {
			return nil, fmt.Errorf("%s: invalid header key %q", where, key)
		}
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("%s: invalid header value for %s", where, trimmed)
		}
		headers.Set(http.CanonicalHeaderKey(trimmed), value)
	}

	r := &Resource{method: method, path: tmpl, headers: headers}
	for i, child := range spec.Children {
		compiled, err := compile(child, src, fmt.Sprintf("%s.children[%d]", where, i))
		if err != nil {
			return nil, err
		}
		r.children = append(r.children, compiled)
	}
	return r, nil
}

// Must panics if err is non-nil. Intended for tests and static trees.
func Must(r *Resource, err error) *Resource {
	if err != nil {
		panic(err)
	}
	return r
}

// DescendantCount returns the number of nodes in the tree rooted at r, r included.
func (r *Resource) DescendantCount() int {
	if r == nil {
		return 0
	}
	count := 1
	for _, child := range r.children {
		count += child.DescendantCount()
	}
	return count
}

// Method returns the HTTP method for this node.
func (r *Resource) Method() string { return r.method }

// Template returns the unexpanded path template.
func (r *Resource) Template() string { return r.path.raw }

// Headers returns a copy of the node's static headers.
func (r *Resource) Headers() http.Header { return r.headers.Clone() }

// Children returns the child descriptors requested after this node.
func (r *Resource) Children() []*Resource {
	return append([]*Resource(nil), r.children...)
}

// NextPath expands the path template for one request.
func (r *Resource) NextPath() string {
	return r.path.expand()
}

// Supplier returns NextPath as a function value.
func (r *Resource) Supplier() Supplier {
	return r.NextPath
}

// ErrEmptyTree is returned when a tree has no root descriptor.
var ErrEmptyTree = errors.New("resource tree is empty")

// CompileForest compiles a list of top-level specs into one tree. A single spec
// is compiled as-is. With several, specs[1:] become extra children of
// specs[0]: they are requested only after the first resource responds and are
// skipped when it fails.
func CompileForest(specs []Spec) (*Resource, error) {
	switch len(specs) {
	case 0:
		return nil, ErrEmptyTree
	case 1:
		return Compile(specs[0])
	}
	root := specs[0]
	root.Children = append(append([]Spec(nil), root.Children...), specs[1:]...)
	return Compile(root)
}

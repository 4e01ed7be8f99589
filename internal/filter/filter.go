// Package filter implements the Header Filter Engine: it parses the
// Security-Label header into a canonical attribute map and decides
// whether a record is released to a given consumer.
package filter

import (
	"strings"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
)

// SecurityLabelHeader is the well-known header name carrying the
// comma-separated K=V / K:V list.
const SecurityLabelHeader = "Security-Label"

// Label is the immutable, canonicalized (uppercase key/value) result of
// parsing a Security-Label header.
type Label struct {
	attrs map[string]string
}

// Parse splits raw on commas; for each segment, the first of '=' or ':'
// (whichever appears earlier) is the delimiter; both sides must be
// non-empty after trimming or the whole record fails with a
// *ferrors.FilterParseError. Empty input yields an empty, valid Label.
func Parse(raw string) (*Label, error) {
	attrs := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return &Label{attrs: attrs}, nil
	}

	for _, segment := range strings.Split(raw, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		idx := firstDelimiter(segment)
		if idx < 0 {
			return nil, &ferrors.FilterParseError{Raw: raw, Reason: "segment has no '=' or ':' delimiter: " + segment}
		}

		key := strings.TrimSpace(segment[:idx])
		value := strings.TrimSpace(segment[idx+1:])
		if key == "" || value == "" {
			return nil, &ferrors.FilterParseError{Raw: raw, Reason: "segment has an empty key or value: " + segment}
		}

		attrs[strings.ToUpper(key)] = strings.ToUpper(value)
	}

	return &Label{attrs: attrs}, nil
}

// firstDelimiter returns the index of whichever of '=' or ':' appears
// first in s, or -1 if neither is present.
func firstDelimiter(s string) int {
	eq := strings.IndexByte(s, '=')
	colon := strings.IndexByte(s, ':')
	switch {
	case eq < 0:
		return colon
	case colon < 0:
		return eq
	case eq < colon:
		return eq
	default:
		return colon
	}
}

// AsMap returns a copy of the canonical attribute map.
func (l *Label) AsMap() map[string]string {
	out := make(map[string]string, len(l.attrs))
	for k, v := range l.attrs {
		out[k] = v
	}
	return out
}

// Get returns the uppercased value for an uppercased key and whether it
// was present.
func (l *Label) Get(key string) (string, bool) {
	v, ok := l.attrs[strings.ToUpper(key)]
	return v, ok
}

// Attribute is one required (key, value) pair a consumer configured for
// a topic.
type Attribute struct {
	Key   string
	Value string
}

// Filter decides whether a record is released to a consumer. The default
// implementation is Default below (applied through Decide); custom filters satisfy this interface
// to plug in alternative release policies.
type Filter interface {
	// FilterOut reports whether the record (identified by its raw
	// Security-Label header value, possibly absent) should be dropped.
	FilterOut(securityLabel string, present bool, required []Attribute) (bool, error)
}

// Default is the built-in filter: for each required attribute (K, V), a
// record is kept unless the label contains K with a different value. A
// record with no Security-Label header is dropped only if at least one
// attribute is required.
type Default struct{}

func (Default) FilterOut(securityLabel string, present bool, required []Attribute) (bool, error) {
	if len(required) == 0 {
		return false, nil
	}
	if !present {
		return true, nil
	}

	label, err := Parse(securityLabel)
	if err != nil {
		return false, err
	}

	for _, attr := range required {
		actual, ok := label.Get(attr.Key)
		if !ok {
			// Absent attribute: permissive for this key.
			continue
		}
		if !strings.EqualFold(actual, attr.Value) {
			return true, nil
		}
	}
	return false, nil
}

// Registry resolves a fully-qualified custom filter name to a Filter
// constructor. Loading/compiling external filter plugins is a
// deployment concern outside this package; this registry is only the
// in-process lookup. Unknown names fall back to Default and are logged
// by the caller (see internal/recordstream).
type Registry struct {
	filters map[string]Filter
}

func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]Filter)}
}

// Register adds a named custom filter, callable from composition roots
// that know how to construct plugin filters.
func (r *Registry) Register(name string, f Filter) {
	r.filters[name] = f
}

// Resolve returns the named filter, or Default plus ok=false when the name
// is empty or unregistered.
func (r *Registry) Resolve(name string) (Filter, bool) {
	if name == "" {
		return Default{}, false
	}
	if f, ok := r.filters[name]; ok {
		return f, true
	}
	return Default{}, false
}

// Decide applies a Filter, returning true when the record should be kept.
func Decide(f Filter, securityLabel string, present bool, required []Attribute) (keep bool, err error) {
	dropped, err := f.FilterOut(securityLabel, present, required)
	if err != nil {
		return false, err
	}
	return !dropped, nil
}

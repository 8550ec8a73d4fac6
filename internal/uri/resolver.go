// Package uri resolves request paths and query strings against the schema.
//
// Paths are walked segment by segment with one token of lookahead inside a
// segment (name, then an optional parenthesized key predicate). The result is
// a ResourcePath classified into exactly one ResourceKind, plus the parsed
// query options validated against that kind.
package uri

import (
	"net/url"
	"strings"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

// Resolver resolves request paths.
type Resolver struct {
	schema *edm.Schema
}

// NewResolver creates a resolver over schema.
func NewResolver(schema *edm.Schema) *Resolver {
	return &Resolver{schema: schema}
}

// Resolve resolves the path, parses the query string and validates the
// system options against the resource kind.
func (r *Resolver) Resolve(segments []string, query url.Values) (*ResourcePath, *QueryOptions, error) {
	path, err := r.ResolvePath(segments)
	if err != nil {
		return nil, nil, err
	}
	opts, err := ParseQueryOptions(query)
	if err != nil {
		return nil, nil, err
	}
	if err := Validate(path.Kind, opts); err != nil {
		return nil, nil, err
	}
	if path.FunctionImport != nil {
		if err := bindParameters(path, opts); err != nil {
			return nil, nil, err
		}
	}
	return path, opts, nil
}

// SplitPath splits a raw request path into segments. Key predicates may
// contain slashes inside string literals.
func SplitPath(raw string) []string {
	var segments []string
	var current strings.Builder
	inQuote := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			current.WriteByte(c)
		case c == '/' && !inQuote:
			segments = append(segments, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	return append(segments, current.String())
}

// ResolvePath resolves the path segments against the default container or a
// container named by a qualified first segment.
func (r *Resolver) ResolvePath(segments []string) (*ResourcePath, error) {
	segs, err := cleanSegments(segments)
	if err != nil {
		return nil, err
	}
	container, err := r.schema.DefaultEntityContainer()
	if err != nil {
		return nil, err
	}
	path := &ResourcePath{Container: container}
	if len(segs) == 0 {
		path.Kind = Classify(path)
		return path, nil
	}

	first, err := parseSegment(segs[0], 0)
	if err != nil {
		return nil, err
	}
	switch first.name {
	case "$metadata":
		path.Metadata = true
	case "$batch":
		path.Batch = true
	}
	if path.Metadata || path.Batch {
		if first.hasPredicate {
			return nil, odataerr.Syntax(odataerr.KeyKeyNotAllowed, first.raw)
		}
		if len(segs) > 1 {
			return nil, odataerr.Syntax(odataerr.KeySegmentAfterTerminal, segs[1], first.name)
		}
		path.Kind = Classify(path)
		return path, nil
	}

	if err := r.resolveStart(path, first); err != nil {
		return nil, err
	}
	if path.FunctionImport != nil {
		if len(segs) > 1 {
			return nil, odataerr.Syntax(odataerr.KeySegmentAfterTerminal, segs[1], first.name)
		}
		path.Kind = Classify(path)
		return path, nil
	}

	if err := r.walk(path, segs); err != nil {
		return nil, err
	}
	path.Kind = Classify(path)
	return path, nil
}

func (r *Resolver) resolveStart(path *ResourcePath, first segment) error {
	name := first.name
	if dot := strings.LastIndexByte(name, '.'); dot > 0 {
		c, err := r.schema.EntityContainer(name[:dot])
		if err != nil {
			return odataerr.Syntax(odataerr.KeySegmentNotFound, first.raw, 0)
		}
		path.Container = c
		name = name[dot+1:]
	}

	if fi := path.Container.FunctionImport(name); fi != nil {
		if first.hasPredicate {
			return odataerr.Syntax(odataerr.KeyKeyNotAllowed, first.raw)
		}
		path.FunctionImport = fi
		return nil
	}

	set := path.Container.EntitySet(name)
	if set == nil {
		return odataerr.Syntax(odataerr.KeySegmentNotFound, first.raw, 0)
	}
	path.EntitySet = set
	if first.hasPredicate {
		keys, err := bindKeys(set.Type, first)
		if err != nil {
			return err
		}
		path.Keys = keys
	}
	return nil
}

// walk interprets the segments after the entity set.
func (r *Resolver) walk(path *ResourcePath, segs []string) error {
	current := path.EntitySet.Type
	single := len(path.Keys) > 0
	inProperty := false
	var complexType *edm.ComplexType
	linkPending := false
	terminal := false
	prev := segs[0]

	for i := 1; i < len(segs); i++ {
		seg, err := parseSegment(segs[i], i)
		if err != nil {
			return err
		}
		if terminal {
			return odataerr.Syntax(odataerr.KeySegmentAfterTerminal, seg.raw, prev)
		}

		switch seg.name {
		case "$count":
			if seg.hasPredicate {
				return odataerr.Syntax(odataerr.KeyKeyNotAllowed, seg.raw)
			}
			if inProperty || linkPending {
				return odataerr.Syntax(odataerr.KeySegmentAfterTerminal, seg.raw, prev)
			}
			path.Count = true
			terminal = true

		case "$value":
			if seg.hasPredicate {
				return odataerr.Syntax(odataerr.KeyKeyNotAllowed, seg.raw)
			}
			if !inProperty || complexType != nil {
				return odataerr.Syntax(odataerr.KeySegmentNotFound, seg.raw, i)
			}
			path.Value = true
			terminal = true

		case "$links":
			if !single || inProperty || path.Links || seg.hasPredicate {
				return odataerr.Syntax(odataerr.KeySegmentNotFound, seg.raw, i)
			}
			path.Links = true
			linkPending = true

		default:
			if inProperty {
				if complexType == nil {
					return odataerr.Syntax(odataerr.KeySegmentAfterTerminal, seg.raw, prev)
				}
				if seg.hasPredicate {
					return odataerr.Syntax(odataerr.KeyKeyNotAllowed, seg.raw)
				}
				if p := complexType.Property(seg.name); p != nil {
					path.Properties = append(path.Properties, PropertySegment{Property: p})
					complexType = nil
				} else if cp := complexType.ComplexProperty(seg.name); cp != nil && !cp.Collection {
					path.Properties = append(path.Properties, PropertySegment{Complex: cp})
					complexType = cp.Type
				} else {
					return odataerr.Syntax(odataerr.KeySegmentNotFound, seg.raw, i)
				}
				break
			}

			if nav := current.NavigationProperty(seg.name); nav != nil {
				if !single {
					return odataerr.Syntax(odataerr.KeyNavigationNeedsKey, seg.name)
				}
				if path.Links && !linkPending {
					return odataerr.Syntax(odataerr.KeySegmentAfterTerminal, seg.raw, prev)
				}
				ns := NavigationSegment{Property: nav, EntitySet: path.Container.EntitySetFor(nav.Target)}
				if ns.EntitySet == nil {
					return odataerr.Syntax(odataerr.KeySegmentNotFound, seg.raw, i)
				}
				if seg.hasPredicate {
					if !nav.ToMany() {
						return odataerr.Syntax(odataerr.KeyKeyNotAllowed, seg.raw)
					}
					keys, err := bindKeys(nav.Target, seg)
					if err != nil {
						return err
					}
					ns.Keys = keys
				}
				path.Navigation = append(path.Navigation, ns)
				current = nav.Target
				single = !nav.ToMany() || len(ns.Keys) > 0
				linkPending = false
				break
			}

			if path.Links {
				return odataerr.Syntax(odataerr.KeySegmentNotFound, seg.raw, i)
			}
			if current.Property(seg.name) == nil && current.ComplexProperty(seg.name) == nil {
				return odataerr.Syntax(odataerr.KeySegmentNotFound, seg.raw, i)
			}
			if !single {
				return odataerr.Syntax(odataerr.KeyNavigationNeedsKey, seg.name)
			}
			if seg.hasPredicate {
				return odataerr.Syntax(odataerr.KeyKeyNotAllowed, seg.raw)
			}
			if p := current.Property(seg.name); p != nil {
				path.Properties = append(path.Properties, PropertySegment{Property: p})
			} else {
				cp := current.ComplexProperty(seg.name)
				path.Properties = append(path.Properties, PropertySegment{Complex: cp})
				if !cp.Collection {
					complexType = cp.Type
				}
			}
			inProperty = true
		}
		prev = seg.raw
	}

	if linkPending {
		return odataerr.Syntax(odataerr.KeyMalformedSegment, "$links", "a navigation property must follow")
	}
	return nil
}

func cleanSegments(segments []string) ([]string, error) {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s == "" {
			continue
		}
		decoded, err := url.PathUnescape(s)
		if err != nil {
			return nil, odataerr.Syntax(odataerr.KeyMalformedSegment, s, err.Error())
		}
		out = append(out, decoded)
	}
	return out, nil
}

// segment is a path segment split into name and key predicate.
type segment struct {
	name         string
	predicate    string
	hasPredicate bool
	raw          string
	pos          int
}

func parseSegment(raw string, pos int) (segment, error) {
	s := segment{raw: raw, pos: pos, name: raw}
	if open := strings.IndexByte(raw, '('); open >= 0 {
		if !strings.HasSuffix(raw, ")") || open == 0 {
			return s, odataerr.Syntax(odataerr.KeyMalformedSegment, raw, "unbalanced key predicate")
		}
		s.name = raw[:open]
		s.predicate = strings.TrimSpace(raw[open+1 : len(raw)-1])
		s.hasPredicate = s.predicate != ""
	}

	for i := 0; i < len(s.name); i++ {
		c := s.name[i]
		if !isIdentChar(c) && !(i == 0 && c == '$') {
			return s, odataerr.Syntax(odataerr.KeySegmentNotFound, raw, pos)
		}
	}
	return s, nil
}

type keyValue struct {
	name    string
	literal Literal
}

func parseKeyPredicate(seg segment) ([]keyValue, error) {
	var out []keyValue
	for _, part := range splitOutsideQuotes(seg.predicate, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, odataerr.Syntax(odataerr.KeyMalformedSegment, seg.raw, "empty key value")
		}
		kv := keyValue{}
		value := part
		if eq := indexOutsideQuotes(part, '='); eq > 0 {
			kv.name = strings.TrimSpace(part[:eq])
			value = strings.TrimSpace(part[eq+1:])
		}
		lit, err := ParseLiteral(value)
		if err != nil {
			return nil, err
		}
		kv.literal = lit
		out = append(out, kv)
	}
	return out, nil
}

// bindKeys binds the key predicate of seg to the key properties of t.
func bindKeys(t *edm.EntityType, seg segment) ([]KeyPredicate, error) {
	kvs, err := parseKeyPredicate(seg)
	if err != nil {
		return nil, err
	}
	if len(kvs) != len(t.Keys) {
		return nil, odataerr.Syntax(odataerr.KeyKeyCount, t.Name.String(), len(t.Keys), len(kvs))
	}

	bound := make(map[string]KeyPredicate, len(kvs))
	for _, kv := range kvs {
		var prop *edm.Property
		switch {
		case kv.name == "" && len(t.Keys) == 1:
			prop = t.Keys[0]
		case kv.name == "":
			return nil, odataerr.Syntax(odataerr.KeyMalformedSegment, seg.raw, "composite keys must be named")
		default:
			for _, k := range t.Keys {
				if k.Name == kv.name {
					prop = k
				}
			}
			if prop == nil {
				return nil, odataerr.Syntax(odataerr.KeyUnknownKeyProperty, kv.name, t.Name.String())
			}
		}
		if _, dup := bound[prop.Name]; dup {
			return nil, odataerr.Syntax(odataerr.KeyMalformedSegment, seg.raw, "duplicate key property")
		}
		if kv.literal.Kind == edm.KindNull {
			return nil, odataerr.Syntax(odataerr.KeyInvalidLiteral, kv.literal.Text, string(prop.Kind))
		}
		v, err := kv.literal.Coerce(prop.Kind)
		if err != nil {
			return nil, err
		}
		bound[prop.Name] = KeyPredicate{Property: prop, Value: v, Literal: kv.literal}
	}

	keys := make([]KeyPredicate, 0, len(t.Keys))
	for _, k := range t.Keys {
		keys = append(keys, bound[k.Name])
	}
	return keys, nil
}

func bindParameters(path *ResourcePath, opts *QueryOptions) error {
	fi := path.FunctionImport
	path.Parameters = make(map[string]any, len(fi.Parameters))
	for _, p := range fi.Parameters {
		raw, ok := opts.Custom[p.Name]
		if !ok {
			if !p.Nullable {
				return odataerr.Syntax(odataerr.KeyMissingParameter, fi.Name, p.Name)
			}
			path.Parameters[p.Name] = nil
			continue
		}
		lit, err := ParseLiteral(raw)
		if err != nil {
			return err
		}
		v, err := lit.Coerce(p.Kind)
		if err != nil {
			return err
		}
		path.Parameters[p.Name] = v
	}
	return nil
}

func splitOutsideQuotes(s string, sep byte) []string {
	var parts []string
	start := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == sep && !inQuote:
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

func indexOutsideQuotes(s string, c byte) int {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\'':
			inQuote = !inQuote
		case s[i] == c && !inQuote:
			return i
		}
	}
	return -1
}

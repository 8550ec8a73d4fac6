// Package projector turns rows read by the executor into property maps that
// a serializer can write without knowing the Go types behind them.
package projector

import (
	"context"
	"reflect"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/executor"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/reqctx"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// PropertyValueMap maps property names to converted values. Complex
// properties hold a nested PropertyValueMap, or []PropertyValueMap for
// collections; a nil complex value is stored as a present key with a nil value.
type PropertyValueMap map[string]any

// EntryMetadata identifies a projected entity.
type EntryMetadata struct {
	// URI is the canonical entity URI, relative when no base URI is known.
	URI  string
	Type string
}

// Entry is a projected entity with its inline content.
type Entry struct {
	Metadata   EntryMetadata
	Properties PropertyValueMap
	// Expanded maps navigation property names to projected related entries.
	Expanded map[string][]*Entry
}

// Project copies every declared property of raw into a PropertyValueMap,
// converting values to their EDM kinds. A non-empty selection restricts the
// keys to the selected properties. Navigation properties are never read.
func Project(ctx context.Context, raw any, t *edm.EntityType, selection []uri.SelectItem) (PropertyValueMap, error) {
	v, err := structValue(raw, t.GoType, t.Name.String())
	if err != nil {
		return nil, err
	}
	return project(v, t.Name.String(), t.Properties, t.ComplexProperties, selected(selection))
}

// ProjectComplex projects a complex type value.
func ProjectComplex(raw any, ct *edm.ComplexType) (PropertyValueMap, error) {
	v, err := structValue(raw, ct.GoType, ct.Name.String())
	if err != nil || !v.IsValid() {
		return nil, err
	}
	return project(v, ct.Name.String(), ct.Properties, ct.ComplexProperties, nil)
}

// Metadata builds the entry metadata of raw, an instance of the entity type
// of set. The URI is rooted at the base URI of the request context.
func Metadata(ctx context.Context, raw any, set *edm.EntitySet) (EntryMetadata, error) {
	t := set.Type
	v, err := structValue(raw, t.GoType, t.Name.String())
	if err != nil {
		return EntryMetadata{}, err
	}

	keys := make([]uri.KeyPredicate, len(t.Keys))
	for i, k := range t.Keys {
		value, err := propertyValue(v, t.Name.String(), k)
		if err != nil {
			return EntryMetadata{}, err
		}
		keys[i] = uri.KeyPredicate{Property: k, Value: value}
	}
	return EntryMetadata{
		URI:  reqctx.BaseURI(ctx) + set.Name + uri.FormatKey(keys),
		Type: t.Name.String(),
	}, nil
}

// ProjectRow projects row and its expanded rows. Entity sets of expanded
// rows are looked up in container.
func ProjectRow(ctx context.Context, row *executor.Row, set *edm.EntitySet, container *edm.EntityContainer, selection []uri.SelectItem) (*Entry, error) {
	props, err := Project(ctx, row.Entity, set.Type, selection)
	if err != nil {
		return nil, err
	}
	meta, err := Metadata(ctx, row.Entity, set)
	if err != nil {
		return nil, err
	}
	entry := &Entry{Metadata: meta, Properties: props}

	if len(row.Expanded) == 0 {
		return entry, nil
	}
	entry.Expanded = make(map[string][]*Entry, len(row.Expanded))
	for name, children := range row.Expanded {
		nav := set.Type.NavigationProperty(name)
		if nav == nil {
			continue
		}
		childSet := container.EntitySetFor(nav.Target)
		if childSet == nil {
			childSet = &edm.EntitySet{Name: nav.Target.EntitySetName, Type: nav.Target}
		}
		projected := make([]*Entry, 0, len(children))
		for _, child := range children {
			e, err := ProjectRow(ctx, child, childSet, container, subSelection(selection, name))
			if err != nil {
				return nil, err
			}
			projected = append(projected, e)
		}
		entry.Expanded[name] = projected
	}
	return entry, nil
}

// ProjectPath reads the property addressed by path from raw. A simple
// property yields its converted value, a complex property its
// PropertyValueMap. A nil complex value on the way yields nil.
func ProjectPath(raw any, t *edm.EntityType, path []uri.PropertySegment) (any, error) {
	v, err := structValue(raw, t.GoType, t.Name.String())
	if err != nil || !v.IsValid() {
		return nil, err
	}
	owner := t.Name.String()
	for i, seg := range path {
		if seg.Property != nil {
			return propertyValue(v, owner, seg.Property)
		}
		if i == len(path)-1 {
			return complexValue(v, owner, seg.Complex)
		}
		f, err := v.FieldByIndexErr(seg.Complex.Index)
		if err != nil {
			return nil, nil
		}
		for f.Kind() == reflect.Ptr {
			if f.IsNil() {
				return nil, nil
			}
			f = f.Elem()
		}
		v = f
		owner = seg.Complex.Type.Name.String()
	}
	return nil, nil
}

// Link returns the URI of raw, for $links results.
func Link(ctx context.Context, raw any, set *edm.EntitySet) (string, error) {
	meta, err := Metadata(ctx, raw, set)
	if err != nil {
		return "", err
	}
	return meta.URI, nil
}

// selected returns the top-level names of a selection, or nil when every
// property is selected.
func selected(selection []uri.SelectItem) map[string]bool {
	if len(selection) == 0 {
		return nil
	}
	names := make(map[string]bool, len(selection))
	for _, item := range selection {
		if item.Star && len(item.Path) == 0 {
			return nil
		}
		if len(item.Path) > 0 {
			names[item.Path[0]] = true
		}
	}
	return names
}

// subSelection returns the part of selection below the navigation name.
func subSelection(selection []uri.SelectItem, name string) []uri.SelectItem {
	var out []uri.SelectItem
	for _, item := range selection {
		if len(item.Path) == 0 || item.Path[0] != name {
			continue
		}
		if len(item.Path) == 1 && !item.Star {
			return nil
		}
		out = append(out, uri.SelectItem{Path: item.Path[1:], Star: item.Star})
	}
	return out
}

func structValue(raw any, goType reflect.Type, typeName string) (reflect.Value, error) {
	v := reflect.ValueOf(raw)
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, nil
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return v, nil
	}
	if v.Type() != goType {
		return reflect.Value{}, odataerr.Runtime(nil, odataerr.KeyUnexpectedRowType, v.Type().String(), typeName)
	}
	return v, nil
}

func project(v reflect.Value, owner string, props []*edm.Property, complexProps []*edm.ComplexProperty, names map[string]bool) (PropertyValueMap, error) {
	out := make(PropertyValueMap, len(props)+len(complexProps))
	if !v.IsValid() {
		return out, nil
	}

	for _, p := range props {
		if names != nil && !names[p.Name] {
			continue
		}
		value, err := propertyValue(v, owner, p)
		if err != nil {
			return nil, err
		}
		out[p.Name] = value
	}

	for _, cp := range complexProps {
		if names != nil && !names[cp.Name] {
			continue
		}
		value, err := complexValue(v, owner, cp)
		if err != nil {
			return nil, err
		}
		out[cp.Name] = value
	}
	return out, nil
}

func propertyValue(v reflect.Value, owner string, p *edm.Property) (any, error) {
	f, err := v.FieldByIndexErr(p.Index)
	if err != nil {
		// A nil embedded pointer on the path reads as null.
		return nil, nil
	}
	value, err := Convert(f.Interface(), p.Kind)
	if err != nil {
		return nil, odataerr.Runtime(err, odataerr.KeyConversionFailed, owner+"."+p.Name, string(p.Kind))
	}
	return value, nil
}

func complexValue(v reflect.Value, owner string, cp *edm.ComplexProperty) (any, error) {
	f, err := v.FieldByIndexErr(cp.Index)
	if err != nil {
		return nil, nil
	}
	ct := cp.Type

	if cp.Collection {
		if f.Kind() != reflect.Slice || f.IsNil() {
			return nil, nil
		}
		items := make([]PropertyValueMap, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			item := f.Index(i)
			for item.Kind() == reflect.Ptr {
				if item.IsNil() {
					break
				}
				item = item.Elem()
			}
			if item.Kind() == reflect.Ptr {
				items = append(items, nil)
				continue
			}
			m, err := project(item, ct.Name.String(), ct.Properties, ct.ComplexProperties, nil)
			if err != nil {
				return nil, err
			}
			items = append(items, m)
		}
		return items, nil
	}

	for f.Kind() == reflect.Ptr {
		if f.IsNil() {
			return nil, nil
		}
		f = f.Elem()
	}
	if f.Type() != ct.GoType {
		return nil, odataerr.Runtime(nil, odataerr.KeyConversionFailed, owner+"."+cp.Name, ct.Name.String())
	}
	return project(f, ct.Name.String(), ct.Properties, ct.ComplexProperties, nil)
}

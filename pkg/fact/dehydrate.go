package fact

import (
	"fmt"
	"reflect"
	"strings"
)

// Fact is implemented by application-defined fact types. FactType returns
// the type name used in the wire representation (e.g. "Skylane.Airline").
//
// Predecessor fields are declared with a `fact:"predecessor"` struct tag
// (a single reference, field type must itself implement Fact) or
// `fact:"predecessor,array"` (an ordered slice of Fact). Scalar fields use
// `fact:"field"`, optionally followed by `,name=wireName` to override the
// default camelCase-from-Go-name mapping.
type Fact interface {
	FactType() string
}

type fieldTag struct {
	kind  string // "field" | "predecessor"
	name  string
	array bool
}

func parseFieldTag(sf reflect.StructField) (fieldTag, bool) {
	raw, ok := sf.Tag.Lookup("fact")
	if !ok {
		return fieldTag{}, false
	}
	parts := strings.Split(raw, ",")
	tag := fieldTag{kind: parts[0], name: lowerFirst(sf.Name)}
	for _, p := range parts[1:] {
		switch {
		case p == "array":
			tag.array = true
		case strings.HasPrefix(p, "name="):
			tag.name = strings.TrimPrefix(p, "name=")
		}
	}
	return tag, true
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Dehydrate walks obj, recursively dehydrating each predecessor before
// constructing the parent's Record, and returns every record it visited
// in topological order (predecessors before successors) along with the
// root's reference. Repeated sub-objects (by resulting hash) are
// deduplicated.
func Dehydrate(obj Fact) ([]Record, Reference, error) {
	records := make([]Record, 0)
	index := make(map[string]int)
	ref, err := dehydrateValue(reflect.ValueOf(obj), &records, index)
	if err != nil {
		return nil, Reference{}, err
	}
	return records, ref, nil
}

func dehydrateValue(v reflect.Value, records *[]Record, index map[string]int) (Reference, error) {
	f, ok := factOf(v)
	if !ok {
		return Reference{}, fmt.Errorf("fact: dehydrate: value of type %s does not implement Fact", v.Type())
	}

	sv := v
	for sv.Kind() == reflect.Ptr {
		if sv.IsNil() {
			return Reference{}, fmt.Errorf("fact: dehydrate: nil fact pointer")
		}
		sv = sv.Elem()
	}
	if sv.Kind() != reflect.Struct {
		return Reference{}, fmt.Errorf("fact: dehydrate: fact value must be a struct, got %s", sv.Kind())
	}

	fields := map[string]any{}
	predecessors := map[string]PredecessorRole{}

	t := sv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag, ok := parseFieldTag(sf)
		if !ok {
			continue
		}
		fv := sv.Field(i)

		switch tag.kind {
		case "field":
			fields[tag.name] = fv.Interface()

		case "predecessor":
			if tag.array {
				refs := make([]Reference, 0, fv.Len())
				for j := 0; j < fv.Len(); j++ {
					r, err := dehydrateValue(fv.Index(j), records, index)
					if err != nil {
						return Reference{}, err
					}
					refs = append(refs, r)
				}
				if len(refs) > 0 {
					predecessors[tag.name] = PredecessorRole{Arity: ArityMany, References: refs}
				}
			} else {
				if isNilPredecessor(fv) {
					continue
				}
				r, err := dehydrateValue(fv, records, index)
				if err != nil {
					return Reference{}, err
				}
				predecessors[tag.name] = PredecessorRole{Arity: ArityOne, References: []Reference{r}}
			}
		}
	}

	record, err := NewRecord(f.FactType(), fields, predecessors)
	if err != nil {
		return Reference{}, err
	}

	if i, exists := index[record.Hash]; exists {
		return (*records)[i].Reference(), nil
	}
	*records = append(*records, *record)
	index[record.Hash] = len(*records) - 1
	return record.Reference(), nil
}

func isNilPredecessor(fv reflect.Value) bool {
	return fv.Kind() == reflect.Ptr && fv.IsNil()
}

func factOf(v reflect.Value) (Fact, bool) {
	if !v.IsValid() {
		return nil, false
	}
	iface := v.Interface()
	f, ok := iface.(Fact)
	return f, ok
}

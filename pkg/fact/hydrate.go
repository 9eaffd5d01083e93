package fact

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jinaga/factengine/pkg/engineerr"
)

// Hydrate reconstructs an application object graph rooted at root from a
// closure of records (typically the result of Storage.Load), writing into
// dest, which must be a non-nil pointer to the Go type corresponding to
// root.Type. It is the inverse of Dehydrate: hydrate(dehydrate(O)) is
// structurally equal to O for any cycle-free O (spec.md §8, property 2).
func Hydrate(root Reference, records map[string]Record, dest Fact) error {
	record, ok := records[root.Hash]
	if !ok {
		return &engineerr.InvalidGraph{Reason: fmt.Sprintf("missing record for hash %s", root.Hash)}
	}
	if record.Type != root.Type {
		return &engineerr.InvalidGraph{Reason: fmt.Sprintf("type mismatch: reference says %s, record is %s", root.Type, record.Type)}
	}
	cache := map[string]reflect.Value{}
	v, err := hydrateInto(reflect.ValueOf(dest), record, records, cache)
	if err != nil {
		return err
	}
	_ = v
	return nil
}

func hydrateInto(dest reflect.Value, record Record, records map[string]Record, cache map[string]reflect.Value) (reflect.Value, error) {
	if dest.Kind() != reflect.Ptr || dest.IsNil() {
		return reflect.Value{}, fmt.Errorf("fact: hydrate: destination must be a non-nil pointer, got %s", dest.Kind())
	}
	sv := dest.Elem()
	if sv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("fact: hydrate: destination must point to a struct, got %s", sv.Kind())
	}

	cache[record.Hash] = dest

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
			raw, present := record.Fields[tag.name]
			if !present {
				continue
			}
			if err := assignScalar(fv, raw); err != nil {
				return reflect.Value{}, fmt.Errorf("fact: hydrate field %q: %w", tag.name, err)
			}

		case "predecessor":
			role, present := record.Predecessors[tag.name]
			if !present {
				continue
			}
			if tag.array {
				elemType := fv.Type().Elem()
				out := reflect.MakeSlice(fv.Type(), 0, len(role.References))
				for _, ref := range role.References {
					child, err := hydrateChild(ref, elemType, records, cache)
					if err != nil {
						return reflect.Value{}, err
					}
					out = reflect.Append(out, child)
				}
				fv.Set(out)
			} else {
				if len(role.References) == 0 {
					continue
				}
				child, err := hydrateChild(role.References[0], fv.Type(), records, cache)
				if err != nil {
					return reflect.Value{}, err
				}
				fv.Set(child)
			}
		}
	}

	return dest, nil
}

func hydrateChild(ref Reference, fieldType reflect.Type, records map[string]Record, cache map[string]reflect.Value) (reflect.Value, error) {
	if cached, ok := cache[ref.Hash]; ok && cached.Type() == fieldType {
		return cached, nil
	}
	childRecord, ok := records[ref.Hash]
	if !ok {
		return reflect.Value{}, &engineerr.InvalidGraph{Reason: fmt.Sprintf("missing predecessor record for hash %s", ref.Hash)}
	}

	if fieldType.Kind() != reflect.Ptr {
		return reflect.Value{}, fmt.Errorf("fact: hydrate: predecessor field type %s must be a pointer to a Fact struct", fieldType)
	}
	childPtr := reflect.New(fieldType.Elem())
	if _, err := hydrateInto(childPtr, childRecord, records, cache); err != nil {
		return reflect.Value{}, err
	}
	return childPtr, nil
}

// assignScalar sets fv from raw, converting between the handful of scalar
// representations a fact field can take (string, bool, number in any Go
// numeric type or json.Number, or nil).
func assignScalar(fv reflect.Value, raw any) error {
	if raw == nil {
		fv.Set(reflect.Zero(fv.Type()))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", raw)
		}
		fv.SetString(s)
		return nil
	case reflect.Bool:
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", raw)
		}
		fv.SetBool(b)
		return nil
	case reflect.Float32, reflect.Float64:
		f, err := toFloat64(raw)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := toFloat64(raw)
		if err != nil {
			return err
		}
		fv.SetInt(int64(f))
		return nil
	default:
		rv := reflect.ValueOf(raw)
		if rv.Type().AssignableTo(fv.Type()) {
			fv.Set(rv)
			return nil
		}
		return fmt.Errorf("unsupported field kind %s for value %T", fv.Kind(), raw)
	}
}

func toFloat64(raw any) (float64, error) {
	switch n := raw.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("expected number, got %T", raw)
	}
}

package statez

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// CircularSentinel replaces a reference that points back to one of its own
// ancestors when a value is serialized by JSONCodec.
const CircularSentinel = "[Circular]"

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// Acyclic returns v unchanged when it contains no reference cycle.
// Otherwise it returns a JSON-equivalent tree of maps and slices in which
// each back reference is replaced by CircularSentinel. Struct fields follow
// encoding/json naming: json tags, "-", omitempty and embedded structs.
//
// Only true cycles are replaced. A value referenced twice from sibling
// positions is serialized twice.
func Acyclic(v any) any {
	w := &cycleWalker{path: make(map[visit]struct{})}
	out := w.walk(reflect.ValueOf(v))
	if !w.found {
		return v
	}
	return out
}

type visit struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type cycleWalker struct {
	path  map[visit]struct{}
	found bool
}

// enter marks a reference as being on the current path. It returns false
// when the reference is already an ancestor.
func (w *cycleWalker) enter(k visit) bool {
	if _, ok := w.path[k]; ok {
		w.found = true
		return false
	}
	w.path[k] = struct{}{}
	return true
}

func (w *cycleWalker) leave(k visit) {
	delete(w.path, k)
}

func (w *cycleWalker) walk(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() != reflect.Pointer && rv.Kind() != reflect.Interface && rv.Type().Implements(jsonMarshalerType) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Implements(jsonMarshalerType) {
			return rv.Interface()
		}
		k := visit{ptr: rv.Pointer(), typ: rv.Type()}
		if !w.enter(k) {
			return CircularSentinel
		}
		defer w.leave(k)
		return w.walk(rv.Elem())

	case reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return w.walk(rv.Elem())

	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		k := visit{ptr: rv.Pointer(), typ: rv.Type()}
		if !w.enter(k) {
			return CircularSentinel
		}
		defer w.leave(k)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[mapKey(iter.Key())] = w.walk(iter.Value())
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface()
		}
		k := visit{ptr: rv.Pointer(), typ: rv.Type(), len: rv.Len()}
		if !w.enter(k) {
			return CircularSentinel
		}
		defer w.leave(k)
		return w.list(rv)

	case reflect.Array:
		return w.list(rv)

	case reflect.Struct:
		out := make(map[string]any)
		w.fields(rv, out)
		return out

	default:
		if rv.CanInterface() {
			return rv.Interface()
		}
		return nil
	}
}

func (w *cycleWalker) list(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = w.walk(rv.Index(i))
	}
	return out
}

// fields copies the exported fields of a struct into out. Fields of
// embedded structs are promoted unless the outer struct already set them.
func (w *cycleWalker) fields(rv reflect.Value, out map[string]any) {
	rt := rv.Type()
	var embedded []reflect.Value
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() && (!f.Anonymous || f.Type.Kind() != reflect.Struct) {
			continue
		}
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				embedded = append(embedded, fv)
				continue
			}
		}

		if name == "" {
			name = f.Name
		}
		if strings.Contains(","+opts+",", ",omitempty,") && isEmptyValue(fv) {
			continue
		}
		out[name] = w.walk(fv)
	}

	for _, ev := range embedded {
		inner := make(map[string]any)
		w.fields(ev, inner)
		for k, v := range inner {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.Type().Implements(textMarshalerType) {
		if text, err := k.Interface().(encoding.TextMarshaler).MarshalText(); err == nil {
			return string(text)
		}
	}
	return fmt.Sprint(k.Interface())
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

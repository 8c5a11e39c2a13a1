package prop

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/andreyvit/docprops/schema"
)

// Delta is a pending increment of a long property. Writing a Delta does not
// overwrite the stored value: on save the store adds Delta to whatever it
// holds, so concurrent increments from different sessions all count. Base is
// the caller's idea of the current value and is only used for in-session
// reads and when the stored value is unset.
type Delta struct {
	Base  int64
	Delta int64
}

// Value returns the figure the caller expects after the increment.
func (d Delta) Value() int64 {
	return d.Base + d.Delta
}

// Add accumulates another increment, keeping the first Base.
func (d Delta) Add(other Delta) Delta {
	return Delta{Base: d.Base, Delta: d.Delta + other.Delta}
}

func (d Delta) String() string {
	return strconv.FormatInt(d.Base, 10) + "+" + strconv.FormatInt(d.Delta, 10)
}

// BlobRef is the stored reference to binary content. The property tree never
// holds the bytes themselves.
type BlobRef struct {
	URI      string `msgpack:"uri"`
	Filename string `msgpack:"filename,omitempty"`
	MimeType string `msgpack:"mime,omitempty"`
	Length   int64  `msgpack:"length,omitempty"`
	Digest   string `msgpack:"digest,omitempty"`
}

// SameContent compares by digest when both sides have one, by URI otherwise.
func (b BlobRef) SameContent(other BlobRef) bool {
	if b.Digest != "" && other.Digest != "" {
		return b.Digest == other.Digest && b.Length == other.Length
	}
	return b.URI == other.URI
}

func blobFromMap(m map[string]any) (BlobRef, bool) {
	var ref BlobRef
	for k, v := range m {
		switch k {
		case "uri":
			ref.URI, _ = v.(string)
		case "filename":
			ref.Filename, _ = v.(string)
		case "mime":
			ref.MimeType, _ = v.(string)
		case "digest":
			ref.Digest, _ = v.(string)
		case "length":
			n, ok := toInt64(v)
			if !ok {
				return BlobRef{}, false
			}
			ref.Length = n
		default:
			return BlobRef{}, false
		}
	}
	return ref, ref.URI != ""
}

// normalize validates v against typ and converts it into the form held by the
// tree: scalars of the kind's Go type, []any for lists and map[string]any for
// complex values. It never mutates v.
func normalize(typ schema.Type, restr *schema.Restriction, v any, path string) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch typ := typ.(type) {
	case *schema.ScalarType:
		nv, ok := coerceScalar(typ.Kind(), v)
		if !ok {
			return nil, &TypeMismatchError{Path: path, Type: typ.Name(), Value: v}
		}
		if restr != nil {
			if err := restr.Check(nv); err != nil {
				return nil, &TypeMismatchError{Path: path, Type: typ.Name(), Value: v, Detail: err.Error()}
			}
		}
		return nv, nil

	case *schema.ListType:
		items, ok := asSlice(v)
		if !ok {
			return nil, &TypeMismatchError{Path: path, Type: typ.Name(), Value: v}
		}
		out := make([]any, len(items))
		if typ.IsArray() {
			kind := typ.ItemKind()
			for i, item := range items {
				nv, ok := coerceScalar(kind, item)
				if !ok {
					return nil, &TypeMismatchError{Path: joinPath(path, strconv.Itoa(i)), Type: kind.String(), Value: item}
				}
				out[i] = nv
			}
			if restr != nil {
				if err := restr.Check(out); err != nil {
					return nil, &TypeMismatchError{Path: path, Type: typ.Name(), Value: v, Detail: err.Error()}
				}
			}
			return out, nil
		}
		for i, item := range items {
			if item == nil {
				return nil, &TypeMismatchError{Path: joinPath(path, strconv.Itoa(i)), Type: typ.ItemType().Name(), Value: item, Detail: "list items cannot be nil"}
			}
			nv, err := normalize(typ.ItemType(), nil, item, joinPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil

	case *schema.ComplexType:
		m, ok := asMap(v)
		if !ok {
			return nil, &TypeMismatchError{Path: path, Type: typ.Name(), Value: v}
		}
		out := make(map[string]any, len(m))
		for k, fv := range m {
			f := typ.Field(k)
			if f == nil {
				return nil, &TypeMismatchError{Path: path, Type: typ.Name(), Value: v, Detail: fmt.Sprintf("field %s not declared in %s", k, typ.Name())}
			}
			nv, err := normalize(f.Type, f.Restriction, fv, joinPath(path, k))
			if err != nil {
				return nil, err
			}
			if nv != nil {
				out[k] = nv
			}
		}
		return out, nil

	default:
		panic(fmt.Sprintf("unexpected type %T", typ))
	}
}

func coerceScalar(kind schema.Kind, v any) (any, bool) {
	switch kind {
	case schema.KindString:
		s, ok := v.(string)
		return s, ok
	case schema.KindLong:
		n, ok := toInt64(v)
		return n, ok
	case schema.KindBoolean:
		b, ok := v.(bool)
		return b, ok
	case schema.KindDate:
		switch v := v.(type) {
		case time.Time:
			return v, true
		case *time.Time:
			if v != nil {
				return *v, true
			}
		}
		return nil, false
	case schema.KindDouble:
		switch v := v.(type) {
		case float64:
			return v, true
		case float32:
			return float64(v), true
		}
		if n, ok := toInt64(v); ok {
			return float64(n), true
		}
		return nil, false
	case schema.KindBlob:
		switch v := v.(type) {
		case BlobRef:
			return v, v.URI != ""
		case *BlobRef:
			if v != nil && v.URI != "" {
				return *v, true
			}
		case map[string]any:
			ref, ok := blobFromMap(v)
			return ref, ok
		}
		return nil, false
	default:
		return nil, false
	}
}

// LongValue converts a stored integer of any width to int64.
func LongValue(v any) (int64, bool) {
	return toInt64(v)
}

func toInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		if uint64(v) > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false // []byte is not a list
	}
	n := rv.Len()
	items := make([]any, n)
	for i := range n {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func asMap(v any) (map[string]any, bool) {
	if m, ok := v.(map[string]any); ok {
		return m, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	m := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, true
}

// exportArray returns a freshly allocated typed slice, so that callers never
// share backing storage with the tree or with each other.
func exportArray(kind schema.Kind, items []any) any {
	switch kind {
	case schema.KindString:
		return typedSlice[string](items)
	case schema.KindLong:
		return typedSlice[int64](items)
	case schema.KindBoolean:
		return typedSlice[bool](items)
	case schema.KindDate:
		return typedSlice[time.Time](items)
	case schema.KindDouble:
		return typedSlice[float64](items)
	case schema.KindBlob:
		return typedSlice[BlobRef](items)
	default:
		panic(fmt.Sprintf("unexpected array kind %v", kind))
	}
}

func typedSlice[T any](items []any) []T {
	out := make([]T, len(items))
	for i, v := range items {
		out[i] = v.(T)
	}
	return out
}

// ExportLeaf converts a normalized scalar or array value into the form
// returned to callers. Arrays are copied.
func ExportLeaf(typ schema.Type, v any) any {
	if lt, ok := typ.(*schema.ListType); ok && lt.IsArray() {
		items, _ := v.([]any)
		return exportArray(lt.ItemKind(), items)
	}
	return v
}

// NormalizeStored converts a value decoded from storage into the tree's form,
// ignoring restrictions.
func NormalizeStored(typ schema.Type, v any, path string) (any, error) {
	return normalize(typ, nil, v, path)
}

// Equal compares two property values structurally. Unset values equal empty
// lists and complex values whose fields are all unset; dates compare by
// instant; blobs by content digest.
func Equal(a, b any) bool {
	if isEmpty(a) || isEmpty(b) {
		return isEmpty(a) && isEmpty(b)
	}
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case BlobRef:
		bv, ok := b.(BlobRef)
		return ok && av.SameContent(bv)
	case Delta:
		bv, ok := b.(Delta)
		return ok && av == bv
	case string, bool:
		return a == b
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	}
	if an, ok := toInt64(a); ok {
		bn, ok := toInt64(b)
		return ok && an == bn
	}
	if am, ok := asMap(a); ok {
		bm, ok := asMap(b)
		if !ok {
			return false
		}
		for k, av := range am {
			if !Equal(av, bm[k]) {
				return false
			}
		}
		for k, bv := range bm {
			if _, found := am[k]; !found && !isEmpty(bv) {
				return false
			}
		}
		return true
	}
	if as, ok := asSlice(a); ok {
		bs, ok := asSlice(b)
		if !ok || len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !Equal(as[i], bs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch v := v.(type) {
	case string, bool, int64, float64, time.Time, BlobRef, Delta:
		return false
	case []any:
		return len(v) == 0
	case map[string]any:
		for _, fv := range v {
			if !isEmpty(fv) {
				return false
			}
		}
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		return rv.Len() == 0
	case reflect.Map:
		if m, ok := asMap(v); ok {
			return isEmpty(m)
		}
	case reflect.Pointer:
		return rv.IsNil()
	}
	return false
}

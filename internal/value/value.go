package value

import (
	"maps"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the JSON value kinds.
type Value interface {
	isValue()
	// Kind names the JSON kind for error messages and logs.
	Kind() string
}

// Null is JSON null. As an entry value it is a tombstone.
type Null struct{}

// String is a JSON string.
type String string

// Int is a JSON number with no fraction or exponent that fits int64.
type Int int64

// Float is any other finite JSON number.
type Float float64

// Bool is a JSON boolean.
type Bool bool

// Array is a JSON array.
type Array []Value

// Object is a JSON object. Iterate with SortedKeys for deterministic order.
type Object map[string]Value

func (Null) isValue()   {}
func (String) isValue() {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (Bool) isValue()   {}
func (Array) isValue()  {}
func (Object) isValue() {}

func (Null) Kind() string   { return "null" }
func (String) Kind() string { return "string" }
func (Int) Kind() string    { return "int" }
func (Float) Kind() string  { return "float" }
func (Bool) Kind() string   { return "bool" }
func (Array) Kind() string  { return "array" }
func (Object) Kind() string { return "object" }

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Pair is a key/value pair for Obj.
type Pair struct {
	Key   string
	Value Value
}

// P is shorthand for Pair.
func P(key string, v Value) Pair { return Pair{Key: key, Value: v} }

// Obj builds an Object from pairs; later pairs win.
func Obj(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// Arr builds an Array.
func Arr(vals ...Value) Array { return Array(vals) }

// SortedKeys returns keys in canonical order (UTF-16 code units, which
// differs from Go's byte order for supplementary-plane characters).
func (o Object) SortedKeys() []string {
	keys := slices.Collect(maps.Keys(o))
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// With returns a copy of o with key set to v. The receiver is not modified.
func (o Object) With(key string, v Value) Object {
	out := make(Object, len(o)+1)
	maps.Copy(out, o)
	out[key] = v
	return out
}

// Equal reports whether a and b have the same canonical encoding.
func Equal(a, b Value) bool {
	ab, errA := Marshal(a)
	bb, errB := Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

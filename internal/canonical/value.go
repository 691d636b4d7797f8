package canonical

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the types that may be canonically encoded.
// Only String, Int, Bool, Array, and Object implement it.
type Value interface {
	canonicalValue()
}

// String is a string value.
type String string

func (String) canonicalValue() {}

// Int is an integer value. There is no float type: floats break determinism.
type Int int64

func (Int) canonicalValue() {}

// Bool is a boolean value.
type Bool bool

func (Bool) canonicalValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) canonicalValue() {}

// Object maps string keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Object) canonicalValue() {}

// Strings converts a string slice to an Array, preserving order.
func Strings(ss []string) Array {
	arr := make(Array, len(ss))
	for i, s := range ss {
		arr[i] = String(s)
	}
	return arr
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 byte order, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareUTF16)
	return keys
}

// CompareUTF16 compares strings by UTF-16 code units.
func CompareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

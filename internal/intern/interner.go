package intern

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/mitchellh/hashstructure/v2"
)

// Key is an interned handle for a value of a known type.
// Keys from the same Interner are equal iff their values are equal.
type Key struct {
	Type TypeID
	ID   uint64
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.Type == NoType && k.ID == 0
}

// String renders the key as Type#id.
func (k Key) String() string {
	return fmt.Sprintf("%s#%d", k.Type, k.ID)
}

type hashedSlot struct {
	typ  TypeID
	hash uint64
}

// Interner interns values into Keys.
//
// Thread-safety: safe for concurrent use. Interned values are retained for
// the lifetime of the Interner.
type Interner struct {
	mu      sync.RWMutex
	next    uint64
	byValue map[any]Key
	byHash  map[hashedSlot][]Key
	values  map[Key]any
}

// New creates an empty Interner.
func New() *Interner {
	return &Interner{
		byValue: make(map[any]Key),
		byHash:  make(map[hashedSlot][]Key),
		values:  make(map[Key]any),
	}
}

// Intern returns the Key for v, allocating one on first sight.
// Returns an error for nil and for values that can be neither compared nor
// structurally hashed (functions, channels).
func (in *Interner) Intern(v any) (Key, error) {
	if v == nil {
		return Key{}, fmt.Errorf("intern: nil value")
	}
	typ := TypeOfValue(v)

	if isComparable(v) {
		in.mu.RLock()
		k, ok := in.byValue[v]
		in.mu.RUnlock()
		if ok {
			return k, nil
		}

		in.mu.Lock()
		defer in.mu.Unlock()
		if k, ok := in.byValue[v]; ok {
			return k, nil
		}
		k = in.allocLocked(typ, v)
		in.byValue[v] = k
		return k, nil
	}

	h, err := hashstructure.Hash(v, hashstructure.FormatV2, nil)
	if err != nil {
		return Key{}, fmt.Errorf("intern %s: %w", typ, err)
	}
	slot := hashedSlot{typ: typ, hash: h}

	in.mu.Lock()
	defer in.mu.Unlock()
	for _, k := range in.byHash[slot] {
		if reflect.DeepEqual(in.values[k], v) {
			return k, nil
		}
	}
	k := in.allocLocked(typ, v)
	in.byHash[slot] = append(in.byHash[slot], k)
	return k, nil
}

// MustIntern is Intern for values known to be internable.
func (in *Interner) MustIntern(v any) Key {
	k, err := in.Intern(v)
	if err != nil {
		panic(err)
	}
	return k
}

// Value returns the value interned under k.
func (in *Interner) Value(k Key) (any, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	v, ok := in.values[k]
	return v, ok
}

// Len returns the number of distinct interned values.
func (in *Interner) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.values)
}

func (in *Interner) allocLocked(typ TypeID, v any) Key {
	in.next++
	k := Key{Type: typ, ID: in.next}
	in.values[k] = v
	return k
}

// isComparable reports whether v can be used as a map key without panicking.
// A struct type may be comparable while holding a non-comparable value in an
// interface field, so the check walks the value, not only the type.
func isComparable(v any) bool {
	return comparableValue(reflect.ValueOf(v))
}

func comparableValue(rv reflect.Value) bool {
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Func:
		return false
	case reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return comparableValue(rv.Elem())
	case reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if !comparableValue(rv.Index(i)) {
				return false
			}
		}
		return true
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			if !comparableValue(rv.Field(i)) {
				return false
			}
		}
		return true
	default:
		return rv.Type().Comparable()
	}
}

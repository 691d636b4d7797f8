package intern

import (
	"fmt"
	"reflect"
	"sync"
)

// TypeID identifies a Go type. Zero is never assigned.
type TypeID uint32

// NoType is the zero TypeID.
const NoType TypeID = 0

// typeTable is process-global: types are immutable for the process lifetime.
var typeTable = struct {
	mu    sync.RWMutex
	ids   map[reflect.Type]TypeID
	types []reflect.Type // index = TypeID
}{
	ids:   make(map[reflect.Type]TypeID),
	types: []reflect.Type{nil},
}

// TypeOf returns the TypeID for T.
func TypeOf[T any]() TypeID {
	return TypeFor(reflect.TypeFor[T]())
}

// TypeOfValue returns the TypeID for the dynamic type of v.
// A nil v yields NoType.
func TypeOfValue(v any) TypeID {
	if v == nil {
		return NoType
	}
	return TypeFor(reflect.TypeOf(v))
}

// TypeFor interns a reflect.Type.
func TypeFor(rt reflect.Type) TypeID {
	if rt == nil {
		return NoType
	}

	typeTable.mu.RLock()
	id, ok := typeTable.ids[rt]
	typeTable.mu.RUnlock()
	if ok {
		return id
	}

	typeTable.mu.Lock()
	defer typeTable.mu.Unlock()
	if id, ok := typeTable.ids[rt]; ok {
		return id
	}
	id = TypeID(len(typeTable.types))
	typeTable.types = append(typeTable.types, rt)
	typeTable.ids[rt] = id
	return id
}

// Reflect returns the reflect.Type behind t, or nil for NoType.
func (t TypeID) Reflect() reflect.Type {
	typeTable.mu.RLock()
	defer typeTable.mu.RUnlock()
	if int(t) >= len(typeTable.types) {
		return nil
	}
	return typeTable.types[t]
}

// String returns the Go type name.
func (t TypeID) String() string {
	rt := t.Reflect()
	if rt == nil {
		if t == NoType {
			return "<none>"
		}
		return fmt.Sprintf("<type %d>", uint32(t))
	}
	return rt.String()
}

// Accepts reports whether a value of dynamic type v can be used where t is
// expected.
func (t TypeID) Accepts(v any) bool {
	rt := t.Reflect()
	if rt == nil || v == nil {
		return false
	}
	return reflect.TypeOf(v).AssignableTo(rt)
}

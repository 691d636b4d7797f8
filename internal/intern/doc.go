// Package intern maps Go types and values to small integer handles.
//
// A TypeID names a data shape (a Go type) for the life of the process. A Key
// pairs a TypeID with an interned value id, so graph nodes can be compared
// and hashed with two integer compares instead of deep value equality.
//
// Equal values intern to the same Key. Comparable values are looked up with
// ordinary map equality; values that are not comparable (slices, maps, or
// structs holding them) are hashed structurally and disambiguated with
// reflect.DeepEqual.
package intern

// Package value implements TouchHouse's tagged scalar type and the
// per-type total ordering used for sorting, predicate evaluation and
// granule min/max tracking.
package value

import "bytes"

// Type identifies the physical representation of a Value. The numeric
// values are stable: they are persisted in column file headers and must
// never be renumbered.
type Type uint8

const (
	TypeNull Type = iota
	TypeString
	TypeUuid
	TypeBool
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "Null"
	case TypeString:
		return "String"
	case TypeUuid:
		return "Uuid"
	case TypeBool:
		return "Bool"
	case TypeInt8:
		return "Int8"
	case TypeInt16:
		return "Int16"
	case TypeInt32:
		return "Int32"
	case TypeInt64:
		return "Int64"
	case TypeUint8:
		return "UInt8"
	case TypeUint16:
		return "UInt16"
	case TypeUint32:
		return "UInt32"
	case TypeUint64:
		return "UInt64"
	default:
		return "Unknown"
	}
}

// Value is a tagged scalar. Exactly one of the typed fields is
// meaningful, selected by Typ. A Null value carries Typ of the column it
// belongs to so zero-valued batches still know their schema.
type Value struct {
	Typ    Type
	Null   bool
	Bool   bool
	Int    int64
	Uint   uint64
	Str    string
	Uuid   [16]byte
}

func NullValue(t Type) Value { return Value{Typ: t, Null: true} }

func Int8(v int8) Value   { return Value{Typ: TypeInt8, Int: int64(v)} }
func Int16(v int16) Value { return Value{Typ: TypeInt16, Int: int64(v)} }
func Int32(v int32) Value { return Value{Typ: TypeInt32, Int: int64(v)} }
func Int64(v int64) Value { return Value{Typ: TypeInt64, Int: v} }

func Uint8(v uint8) Value   { return Value{Typ: TypeUint8, Uint: uint64(v)} }
func Uint16(v uint16) Value { return Value{Typ: TypeUint16, Uint: uint64(v)} }
func Uint32(v uint32) Value { return Value{Typ: TypeUint32, Uint: uint64(v)} }
func Uint64(v uint64) Value { return Value{Typ: TypeUint64, Uint: v} }

func Bool(v bool) Value { return Value{Typ: TypeBool, Bool: v} }

func String(v string) Value { return Value{Typ: TypeString, Str: v} }

func Uuid(v [16]byte) Value { return Value{Typ: TypeUuid, Uuid: v} }

// Comparable reports whether a and b may be compared at all. Cross-type
// comparisons are rejected at plan time,
// not coerced.
func Comparable(a, b Value) bool { return a.Typ == b.Typ }

// Compare returns -1, 0, 1 for a<b, a==b, a>b under the type's natural
// order. Under three-valued predicate semantics Null compares unequal
// to everything including itself; callers that need equality/ordering
// for sorting (where Null must still have a total order) should use
// CompareForSort instead.
//
// Compare panics if a.Typ != b.Typ; callers must check Comparable first.
func Compare(a, b Value) int {
	if a.Typ != b.Typ {
		panic("value: Compare called on incomparable types")
	}
	if a.Null || b.Null {
		// Neither "equal" nor meaningfully ordered; callers evaluating a
		// predicate must special-case Null before calling Compare.
		if a.Null && b.Null {
			return 0
		}
		if a.Null {
			return -1
		}
		return 1
	}
	switch a.Typ {
	case TypeString:
		return bytes.Compare([]byte(a.Str), []byte(b.Str))
	case TypeUuid:
		return bytes.Compare(a.Uuid[:], b.Uuid[:])
	case TypeBool:
		if a.Bool == b.Bool {
			return 0
		}
		if !a.Bool {
			return -1
		}
		return 1
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		switch {
		case a.Int < b.Int:
			return -1
		case a.Int > b.Int:
			return 1
		default:
			return 0
		}
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		switch {
		case a.Uint < b.Uint:
			return -1
		case a.Uint > b.Uint:
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

// CompareForSort is Compare but with Nulls-first total ordering, the
// ordering the writer and merger use to produce a stable ORDER BY
// sequence. Two Nulls compare equal.
func CompareForSort(a, b Value) int {
	if a.Null || b.Null {
		switch {
		case a.Null && b.Null:
			return 0
		case a.Null:
			return -1
		default:
			return 1
		}
	}
	return Compare(a, b)
}

// Equal implements three-valued equality: Null never equals anything,
// including another Null.
func Equal(a, b Value) bool {
	if a.Null || b.Null {
		return false
	}
	return Compare(a, b) == 0
}

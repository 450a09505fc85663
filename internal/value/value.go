// Package value implements the closed scalar type set that schemas and
// tuples are built from, mirroring the teacher's server/innodb/basic value
// model but generalized to the storage core's own column types instead of
// MySQL's wire types.
package value

import (
	"bytes"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type is one member of the closed set of column value types.
type Type uint8

const (
	TypeNull Type = iota
	TypeBool
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat32
	TypeFloat64
	TypeDecimal
	TypeChar
	TypeVarchar
	TypeText
	TypeDate
	TypeTime
	TypeTimestamp
	TypeJSON
	TypeBlob
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "NULL"
	case TypeBool:
		return "BOOL"
	case TypeInt8:
		return "INT8"
	case TypeInt16:
		return "INT16"
	case TypeInt32:
		return "INT32"
	case TypeInt64:
		return "INT64"
	case TypeFloat32:
		return "FLOAT32"
	case TypeFloat64:
		return "FLOAT64"
	case TypeDecimal:
		return "DECIMAL"
	case TypeChar:
		return "CHAR"
	case TypeVarchar:
		return "VARCHAR"
	case TypeText:
		return "TEXT"
	case TypeDate:
		return "DATE"
	case TypeTime:
		return "TIME"
	case TypeTimestamp:
		return "TIMESTAMP"
	case TypeJSON:
		return "JSON"
	case TypeBlob:
		return "BLOB"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Value is a tagged scalar over the closed type set. The zero Value is NULL.
type Value struct {
	Typ    Type
	Bool   bool
	Int    int64
	Float  float64
	Dec    decimal.Decimal
	Str    string
	Bytes  []byte
	Time   time.Time
	isNull bool
}

func Null() Value { return Value{Typ: TypeNull, isNull: true} }

func (v Value) IsNull() bool { return v.isNull || v.Typ == TypeNull }

func NewBool(b bool) Value  { return Value{Typ: TypeBool, Bool: b} }
func NewInt8(i int8) Value  { return Value{Typ: TypeInt8, Int: int64(i)} }
func NewInt16(i int16) Value { return Value{Typ: TypeInt16, Int: int64(i)} }
func NewInt32(i int32) Value { return Value{Typ: TypeInt32, Int: int64(i)} }
func NewInt64(i int64) Value { return Value{Typ: TypeInt64, Int: i} }
func NewFloat32(f float32) Value { return Value{Typ: TypeFloat32, Float: float64(f)} }
func NewFloat64(f float64) Value { return Value{Typ: TypeFloat64, Float: f} }
func NewDecimal(d decimal.Decimal) Value { return Value{Typ: TypeDecimal, Dec: d} }
func NewChar(s string) Value    { return Value{Typ: TypeChar, Str: s} }
func NewVarchar(s string) Value { return Value{Typ: TypeVarchar, Str: s} }
func NewText(s string) Value    { return Value{Typ: TypeText, Str: s} }
func NewDate(t time.Time) Value      { return Value{Typ: TypeDate, Time: t} }
func NewTime(t time.Time) Value      { return Value{Typ: TypeTime, Time: t} }
func NewTimestamp(t time.Time) Value { return Value{Typ: TypeTimestamp, Time: t} }
func NewJSON(b []byte) Value { return Value{Typ: TypeJSON, Bytes: b} }
func NewBlob(b []byte) Value { return Value{Typ: TypeBlob, Bytes: b} }

// Compare orders two values of the same type per the glossary's Value rule:
// numerics compare numerically, text compares by byte sequence, and NULL
// never compares equal or ordered (callers must check IsNull separately).
// Compare returns 0 with ok=false when either side is NULL.
func Compare(a, b Value) (cmp int, ok bool) {
	if a.IsNull() || b.IsNull() {
		return 0, false
	}
	switch a.Typ {
	case TypeBool:
		return boolCmp(a.Bool, b.Bool), true
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		return int64Cmp(a.Int, b.Int), true
	case TypeFloat32, TypeFloat64:
		return float64Cmp(a.Float, b.Float), true
	case TypeDecimal:
		return a.Dec.Cmp(b.Dec), true
	case TypeChar, TypeVarchar, TypeText:
		return bytes.Compare([]byte(a.Str), []byte(b.Str)), true
	case TypeDate, TypeTime, TypeTimestamp:
		if a.Time.Before(b.Time) {
			return -1, true
		}
		if a.Time.After(b.Time) {
			return 1, true
		}
		return 0, true
	case TypeJSON, TypeBlob:
		return bytes.Compare(a.Bytes, b.Bytes), true
	default:
		return 0, false
	}
}

func boolCmp(a, b bool) int {
	if a == b {
		return 0
	}
	if !a && b {
		return -1
	}
	return 1
}

func int64Cmp(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func float64Cmp(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

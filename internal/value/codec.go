package value

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/cloudsql/storagecore/internal/util"
)

// Encode appends the type tag followed by the fixed-width or
// length-prefixed payload for v. NULL is encoded by the type tag alone, per
// spec.md §4.5's log record format note.
func Encode(dst []byte, v Value) []byte {
	if v.IsNull() {
		return append(dst, byte(TypeNull))
	}
	dst = append(dst, byte(v.Typ))
	switch v.Typ {
	case TypeBool:
		if v.Bool {
			return append(dst, 1)
		}
		return append(dst, 0)
	case TypeInt8:
		return append(dst, byte(int8(v.Int)))
	case TypeInt16:
		return util.AppendUint16(dst, uint16(int16(v.Int)))
	case TypeInt32:
		return util.AppendUint32(dst, uint32(int32(v.Int)))
	case TypeInt64:
		return util.AppendInt64(dst, v.Int)
	case TypeFloat32:
		return util.AppendUint32(dst, floatToBits32(float32(v.Float)))
	case TypeFloat64:
		return util.AppendUint64(dst, floatToBits64(v.Float))
	case TypeDecimal:
		return util.AppendLenPrefixed(dst, []byte(v.Dec.String()))
	case TypeChar, TypeVarchar, TypeText:
		return util.AppendLenPrefixed(dst, []byte(v.Str))
	case TypeDate, TypeTime, TypeTimestamp:
		return util.AppendInt64(dst, v.Time.UnixNano())
	case TypeJSON, TypeBlob:
		return util.AppendLenPrefixed(dst, v.Bytes)
	default:
		return dst
	}
}

// Decode reads one tagged value from buf starting at cursor, returning the
// next cursor position. A corrupt or truncated tail surfaces as an error;
// callers treat that as "record invalid" per spec.md §4.2's failure
// semantics rather than propagating a crash.
func Decode(buf []byte, cursor int) (int, Value, error) {
	if cursor >= len(buf) {
		return cursor, Value{}, errors.New("value: truncated tag")
	}
	typ := Type(buf[cursor])
	cursor++
	switch typ {
	case TypeNull:
		return cursor, Null(), nil
	case TypeBool:
		if cursor >= len(buf) {
			return cursor, Value{}, errors.New("value: truncated bool")
		}
		b := buf[cursor] != 0
		return cursor + 1, NewBool(b), nil
	case TypeInt8:
		if cursor >= len(buf) {
			return cursor, Value{}, errors.New("value: truncated int8")
		}
		return cursor + 1, NewInt8(int8(buf[cursor])), nil
	case TypeInt16:
		if cursor+2 > len(buf) {
			return cursor, Value{}, errors.New("value: truncated int16")
		}
		c, u := util.ReadUint16(buf, cursor)
		return c, NewInt16(int16(u)), nil
	case TypeInt32:
		if cursor+4 > len(buf) {
			return cursor, Value{}, errors.New("value: truncated int32")
		}
		c, u := util.ReadUint32(buf, cursor)
		return c, NewInt32(int32(u)), nil
	case TypeInt64:
		if cursor+8 > len(buf) {
			return cursor, Value{}, errors.New("value: truncated int64")
		}
		c, i := util.ReadInt64(buf, cursor)
		return c, NewInt64(i), nil
	case TypeFloat32:
		if cursor+4 > len(buf) {
			return cursor, Value{}, errors.New("value: truncated float32")
		}
		c, u := util.ReadUint32(buf, cursor)
		return c, NewFloat32(bitsToFloat32(u)), nil
	case TypeFloat64:
		if cursor+8 > len(buf) {
			return cursor, Value{}, errors.New("value: truncated float64")
		}
		c, u := util.ReadUint64(buf, cursor)
		return c, NewFloat64(bitsToFloat64(u)), nil
	case TypeDecimal:
		c, b, err := util.ReadLenPrefixed(buf, cursor)
		if err != nil {
			return cursor, Value{}, errors.Wrap(err, "value: truncated decimal")
		}
		d, err := decimal.NewFromString(string(b))
		if err != nil {
			return cursor, Value{}, errors.Wrap(err, "value: invalid decimal")
		}
		return c, NewDecimal(d), nil
	case TypeChar, TypeVarchar, TypeText:
		c, b, err := util.ReadLenPrefixed(buf, cursor)
		if err != nil {
			return cursor, Value{}, errors.Wrap(err, "value: truncated string")
		}
		switch typ {
		case TypeChar:
			return c, NewChar(string(b)), nil
		case TypeVarchar:
			return c, NewVarchar(string(b)), nil
		default:
			return c, NewText(string(b)), nil
		}
	case TypeDate, TypeTime, TypeTimestamp:
		if cursor+8 > len(buf) {
			return cursor, Value{}, errors.New("value: truncated time")
		}
		c, nanos := util.ReadInt64(buf, cursor)
		t := time.Unix(0, nanos).UTC()
		switch typ {
		case TypeDate:
			return c, NewDate(t), nil
		case TypeTime:
			return c, NewTime(t), nil
		default:
			return c, NewTimestamp(t), nil
		}
	case TypeJSON, TypeBlob:
		c, b, err := util.ReadLenPrefixed(buf, cursor)
		if err != nil {
			return cursor, Value{}, errors.Wrap(err, "value: truncated bytes")
		}
		cp := append([]byte(nil), b...)
		if typ == TypeJSON {
			return c, NewJSON(cp), nil
		}
		return c, NewBlob(cp), nil
	default:
		return cursor, Value{}, errors.Errorf("value: unknown type tag %d", typ)
	}
}

// EncodedLen reports how many bytes Encode(nil, v) would produce, without
// allocating, so callers can size a record buffer before writing it.
func EncodedLen(v Value) int {
	if v.IsNull() {
		return 1
	}
	switch v.Typ {
	case TypeBool, TypeInt8:
		return 2
	case TypeInt16:
		return 3
	case TypeInt32, TypeFloat32:
		return 5
	case TypeInt64, TypeFloat64, TypeDate, TypeTime, TypeTimestamp:
		return 9
	case TypeDecimal:
		return 1 + 4 + len(v.Dec.String())
	case TypeChar, TypeVarchar, TypeText:
		return 1 + 4 + len(v.Str)
	case TypeJSON, TypeBlob:
		return 1 + 4 + len(v.Bytes)
	default:
		return 1
	}
}

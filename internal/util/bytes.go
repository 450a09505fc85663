// Package util provides the fixed-width byte packing helpers shared by the
// page, log and index encoders. Adapted from the teacher repository's
// top-level util package (ConvertXBytes / ReadUBx family).
package util

import "encoding/binary"

func PutUint16(b []byte, v uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, v)
	copy(b, out)
	return out
}

func PutUint32(b []byte, v uint32) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, v)
	copy(b, out)
	return out
}

func PutUint64(b []byte, v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	copy(b, out)
	return out
}

func PutInt64(b []byte, v int64) []byte {
	return PutUint64(b, uint64(v))
}

func ReadUint16(buf []byte, cursor int) (int, uint16) {
	return cursor + 2, binary.BigEndian.Uint16(buf[cursor : cursor+2])
}

func ReadUint32(buf []byte, cursor int) (int, uint32) {
	return cursor + 4, binary.BigEndian.Uint32(buf[cursor : cursor+4])
}

func ReadUint64(buf []byte, cursor int) (int, uint64) {
	return cursor + 8, binary.BigEndian.Uint64(buf[cursor : cursor+8])
}

func ReadInt64(buf []byte, cursor int) (int, int64) {
	c, v := ReadUint64(buf, cursor)
	return c, int64(v)
}

// AppendUint16 appends a big-endian uint16 to dst and returns the grown slice.
func AppendUint16(dst []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(dst, tmp[:]...)
}

func AppendUint32(dst []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(dst, tmp[:]...)
}

func AppendUint64(dst []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(dst, tmp[:]...)
}

func AppendInt64(dst []byte, v int64) []byte {
	return AppendUint64(dst, uint64(v))
}

// AppendLenPrefixed appends a uint32 length prefix followed by the bytes.
func AppendLenPrefixed(dst []byte, b []byte) []byte {
	dst = AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// ReadLenPrefixed reads a length-prefixed byte slice starting at cursor.
func ReadLenPrefixed(buf []byte, cursor int) (int, []byte, error) {
	if cursor+4 > len(buf) {
		return cursor, nil, errShortBuffer
	}
	cursor, n := ReadUint32(buf, cursor)
	end := cursor + int(n)
	if end > len(buf) {
		return cursor, nil, errShortBuffer
	}
	return end, buf[cursor:end], nil
}

package util

import "testing"

func TestUintRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	PutUint16(buf[0:2], 0xbeef)
	PutUint32(buf[2:6], 0xdeadbeef)
	PutUint64(buf[6:14], 0x0102030405060708)

	if _, v := ReadUint16(buf, 0); v != 0xbeef {
		t.Errorf("ReadUint16 = %x, want beef", v)
	}
	if _, v := ReadUint32(buf, 2); v != 0xdeadbeef {
		t.Errorf("ReadUint32 = %x, want deadbeef", v)
	}
	if _, v := ReadUint64(buf, 6); v != 0x0102030405060708 {
		t.Errorf("ReadUint64 = %x, want 0102030405060708", v)
	}
}

func TestAppendHelpers(t *testing.T) {
	var buf []byte
	buf = AppendUint16(buf, 1)
	buf = AppendUint32(buf, 2)
	buf = AppendUint64(buf, 3)
	buf = AppendInt64(buf, -1)

	if len(buf) != 2+4+8+8 {
		t.Fatalf("unexpected length %d", len(buf))
	}

	cursor := 0
	cursor, v16 := ReadUint16(buf, cursor)
	if v16 != 1 {
		t.Errorf("v16 = %d, want 1", v16)
	}
	cursor, v32 := ReadUint32(buf, cursor)
	if v32 != 2 {
		t.Errorf("v32 = %d, want 2", v32)
	}
	cursor, v64 := ReadUint64(buf, cursor)
	if v64 != 3 {
		t.Errorf("v64 = %d, want 3", v64)
	}
	_, vi64 := ReadInt64(buf, cursor)
	if vi64 != -1 {
		t.Errorf("vi64 = %d, want -1", vi64)
	}
}

func TestLenPrefixedRoundTrip(t *testing.T) {
	buf := AppendLenPrefixed(nil, []byte("hello"))
	cursor, got, err := ReadLenPrefixed(buf, 0)
	if err != nil {
		t.Fatalf("ReadLenPrefixed failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
	if cursor != len(buf) {
		t.Errorf("cursor = %d, want %d", cursor, len(buf))
	}
}

func TestLenPrefixedTruncated(t *testing.T) {
	buf := AppendLenPrefixed(nil, []byte("hello"))
	if _, _, err := ReadLenPrefixed(buf[:len(buf)-1], 0); err == nil {
		t.Error("expected an error reading a truncated length-prefixed buffer")
	}
	if _, _, err := ReadLenPrefixed(buf[:2], 0); err == nil {
		t.Error("expected an error reading a truncated length prefix itself")
	}
}

package wal

import (
	"os"

	"github.com/pkg/errors"
)

// ReadAll scans path from offset 0, decoding records until EOF or a
// decode failure, per spec.md §6. This is the reader contract the log
// format declares; replaying it into REDO/UNDO at startup is explicitly
// out of scope (spec.md §1's "Explicit non-goals").
func ReadAll(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "wal: read %s", path)
	}
	var out []Record
	cursor := 0
	for cursor < len(data) {
		r, n, err := Decode(data[cursor:])
		if err != nil || n == 0 {
			break
		}
		out = append(out, r)
		cursor += n
	}
	return out, nil
}

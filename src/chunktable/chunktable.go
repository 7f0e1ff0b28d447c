// Package chunktable encodes and decodes the per-file chunk table: the
// ordered list of (index, nonce, staged filename, size) tuples a finalized
// upload leaves behind. The encoding is a simple length-prefixed binary
// format — the direct Go analogue of the length-prefixed bincode records
// the original implementation uses for the same structure.
package chunktable

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Entry describes one staged, encrypted chunk belonging to a finalized file.
type Entry struct {
	Index    int
	Nonce    []byte // 12 bytes
	Filename string
	Size     int64
}

// Encode serializes entries in ascending index order into a single byte
// slice: a 4-byte entry count, followed per entry by a 4-byte index, a
// 12-byte nonce, a 2-byte filename length + filename bytes, and an 8-byte
// size.
func Encode(entries []Entry) []byte {
	var buf bytes.Buffer
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(entries)))
	buf.Write(count[:])

	for _, e := range entries {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(e.Index))
		buf.Write(idx[:])

		buf.Write(e.Nonce)

		var nameLen [2]byte
		binary.BigEndian.PutUint16(nameLen[:], uint16(len(e.Filename)))
		buf.Write(nameLen[:])
		buf.WriteString(e.Filename)

		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(e.Size))
		buf.Write(size[:])
	}

	return buf.Bytes()
}

// Decode parses the byte slice produced by Encode back into entries.
func Decode(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("chunktable: read count: %w", err)
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var idx uint32
		if err := binary.Read(r, binary.BigEndian, &idx); err != nil {
			return nil, fmt.Errorf("chunktable: read index %d: %w", i, err)
		}

		nonce := make([]byte, 12)
		if _, err := r.Read(nonce); err != nil {
			return nil, fmt.Errorf("chunktable: read nonce %d: %w", i, err)
		}

		var nameLen uint16
		if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("chunktable: read filename length %d: %w", i, err)
		}
		name := make([]byte, nameLen)
		if _, err := r.Read(name); err != nil {
			return nil, fmt.Errorf("chunktable: read filename %d: %w", i, err)
		}

		var size uint64
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, fmt.Errorf("chunktable: read size %d: %w", i, err)
		}

		entries = append(entries, Entry{
			Index:    int(idx),
			Nonce:    nonce,
			Filename: string(name),
			Size:     int64(size),
		})
	}

	return entries, nil
}

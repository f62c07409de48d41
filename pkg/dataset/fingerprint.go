package dataset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint hashes the full dataset contents with xxh64. Tables are visited
// in name order and every cell is type-tagged, so "1" and 1 hash differently.
// It detects accidental mutation only and is not a security boundary.
func Fingerprint(d *Dataset) string {
	h := xxhash.New()
	var buf [8]byte

	writeString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.WriteString(s)
	}

	for _, name := range d.Names() {
		t := d.Tables[name]
		writeString(name)
		binary.LittleEndian.PutUint64(buf[:], uint64(len(t.Columns)))
		h.Write(buf[:])
		for _, c := range t.Columns {
			writeString(c.Name)
			binary.LittleEndian.PutUint64(buf[:], uint64(len(c.Values)))
			h.Write(buf[:])
			for _, v := range c.Values {
				h.Write([]byte{byte(v.Kind)})
				switch v.Kind {
				case KindNumber:
					binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v.Num))
					h.Write(buf[:])
				case KindString:
					writeString(v.Str)
				}
			}
		}
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

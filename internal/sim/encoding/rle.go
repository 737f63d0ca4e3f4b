package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes an occupancy bitmap into base64(uvarint run lengths).
// Runs alternate vacant, occupied, vacant, ... starting with vacant, so the
// first run is zero when the bitmap starts occupied.
func EncodeRLE(bits []bool) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	want := false
	for i := 0; i < len(bits); {
		run := 0
		for i < len(bits) && bits[i] == want {
			run++
			i++
		}
		n := binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])
		want = !want
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE reverses EncodeRLE. size is the expected bitmap length; decoding
// fails if the runs do not add up to it.
func DecodeRLE(b64 string, size int) ([]bool, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	out := make([]bool, 0, size)
	val := false
	for i := 0; i < len(raw); {
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if run > uint64(size-len(out)) {
			return nil, fmt.Errorf("run of %d overflows bitmap of %d", run, size)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, val)
		}
		val = !val
	}
	if len(out) != size {
		return nil, fmt.Errorf("bitmap length %d, want %d", len(out), size)
	}
	return out, nil
}

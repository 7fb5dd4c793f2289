package kademlia

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"math/bits"
)

// IDLengthBits is the width of the Kademlia identifier space. Every ID in
// a given network shares this width.
const IDLengthBits = 160

// IDLengthBytes is IDLengthBits expressed in bytes.
const IDLengthBytes = IDLengthBits / 8

// ID is a 160-bit non-negative integer, stored big-endian (most
// significant byte first) so that lexicographic byte comparison is
// equivalent to numeric comparison. IDs are value types: comparing two
// IDs with == works, and the zero value is the numeric value 0.
type ID [IDLengthBytes]byte

// NewRandomID returns a cryptographically random ID, suitable for a new
// node's identity or for a bucket-refresh lookup target.
func NewRandomID() ID {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; a panic here would indicate a broken entropy
		// source, which no caller can recover from meaningfully.
		panic(fmt.Sprintf("kademlia: failed to read random bytes for ID: %v", err))
	}
	return id
}

// RandomIDInRange returns a uniformly random ID in the half-open range
// [low, high). It is used by bucket-refresh lookups to pick a target
// inside a specific bucket's range. It panics if low >= high.
func RandomIDInRange(low, high ID) ID {
	if !low.Less(high) {
		panic("kademlia: RandomIDInRange requires low < high")
	}

	span := new(big.Int).Sub(high.toBig(), low.toBig())
	r, err := rand.Int(rand.Reader, span)
	if err != nil {
		panic(fmt.Sprintf("kademlia: failed to read random bytes for RandomIDInRange: %v", err))
	}
	return idFromBig(new(big.Int).Add(low.toBig(), r))
}

// Equal reports whether two IDs are numerically identical.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Less reports whether id is numerically smaller than other, treating
// both as big-endian unsigned integers.
func (id ID) Less(other ID) bool {
	for i := 0; i < IDLengthBytes; i++ {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Cmp returns -1, 0, or 1 depending on whether id is less than, equal
// to, or greater than other.
func (id ID) Cmp(other ID) int {
	for i := 0; i < IDLengthBytes; i++ {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Xor returns the bitwise XOR of id and other, which the Kademlia paper
// defines as the distance metric between the two identifiers.
func (id ID) Xor(other ID) ID {
	var out ID
	for i := 0; i < IDLengthBytes; i++ {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// And returns the bitwise AND of id and other.
func (id ID) And(other ID) ID {
	var out ID
	for i := 0; i < IDLengthBytes; i++ {
		out[i] = id[i] & other[i]
	}
	return out
}

// Or returns the bitwise OR of id and other.
func (id ID) Or(other ID) ID {
	var out ID
	for i := 0; i < IDLengthBytes; i++ {
		out[i] = id[i] | other[i]
	}
	return out
}

// IsZero reports whether id is the numeric value 0.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Min returns the smaller of a and b.
func Min(a, b ID) ID {
	if a.Less(b) {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b ID) ID {
	if a.Less(b) {
		return b
	}
	return a
}

// Mid returns the ID halfway between low and high (low + (high-low)/2),
// used when splitting a k-bucket's range in two. A high of maxID stands
// for 2^160, the exclusive end of the ID space (as in KBucket.Contains),
// so splitting the top bucket yields two aligned power-of-two halves.
func Mid(low, high ID) ID {
	highBig := high.toBig()
	if high == maxID {
		highBig.Add(highBig, big.NewInt(1))
	}
	sum := new(big.Int).Add(low.toBig(), highBig)
	half := sum.Rsh(sum, 1)
	return idFromBig(half)
}

// toBig converts id to a math/big.Int for the arithmetic RandomIDInRange
// and Mid need and that a fixed byte array cannot express directly.
func (id ID) toBig() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// idFromBig converts a non-negative big.Int known to fit in IDLengthBytes
// back to an ID, left-padding with zero bytes.
func idFromBig(v *big.Int) ID {
	var id ID
	b := v.Bytes()
	if len(b) > IDLengthBytes {
		// Only reachable if a caller passes values outside the ID
		// space; both call sites here keep values in range.
		b = b[len(b)-IDLengthBytes:]
	}
	copy(id[IDLengthBytes-len(b):], b)
	return id
}

// BitLen returns the position (1-indexed from the low bit, 0 for the
// zero ID) of the highest set bit, mirroring the standard library's
// math/bits.Len semantics extended to 160 bits.
func (id ID) BitLen() int {
	for i := 0; i < IDLengthBytes; i++ {
		if id[i] != 0 {
			return (IDLengthBytes-i-1)*8 + bits.Len8(id[i])
		}
	}
	return 0
}

// String renders the ID as lowercase hex, for logging and snapshotting.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IDFromString parses the hex representation produced by String.
func IDFromString(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("kademlia: invalid ID hex %q: %w", s, err)
	}
	if len(b) != IDLengthBytes {
		return id, fmt.Errorf("kademlia: ID hex %q decodes to %d bytes, want %d", s, len(b), IDLengthBytes)
	}
	copy(id[:], b)
	return id, nil
}

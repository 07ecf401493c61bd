package bitmap

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
)

// ID names a shared bitmap across processes.
type ID [16]byte

// NewID returns a random ID.
func NewID() ID {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		panic(fmt.Sprintf("bitmap: reading random id: %v", err))
	}
	return id
}

// IsZero reports whether id is the zero ID, which is never generated.
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IDFromString parses the form produced by ID.String.
func IDFromString(s string) (ID, error) {
	var id ID
	if hex.DecodedLen(len(s)) != len(id) {
		return id, fmt.Errorf("bitmap: id %q has wrong length", s)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ID{}, fmt.Errorf("bitmap: parsing id %q: %w", s, err)
	}
	return id, nil
}

// ProcessID identifies the process a bitmap is attributed to.
type ProcessID int32

func (p ProcessID) String() string { return strconv.FormatInt(int64(p), 10) }

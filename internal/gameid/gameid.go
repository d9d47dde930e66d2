// Package gameid issues the prefixed, time-sortable identifiers used for
// spins, sync sessions and recoveries.
package gameid

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// Crockford base32, lower case.
const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

const encodedLen = 26

// Kind is the prefix that identifies what an ID refers to.
type Kind string

const (
	Spin     Kind = "spin"
	Sync     Kind = "sync"
	Recovery Kind = "rcv"
)

// Generator creates IDs of a single kind. A nil reader uses crypto/rand.
type Generator struct {
	kind   Kind
	reader io.Reader
}

// NewGenerator returns a generator for kind. Pass a deterministic reader in
// tests to get reproducible random bits (the timestamp still advances).
func NewGenerator(kind Kind, reader io.Reader) *Generator {
	return &Generator{kind: kind, reader: reader}
}

// New returns a fresh ID of the given kind.
func New(kind Kind) string {
	return NewGenerator(kind, nil).Generate()
}

// Generate returns "<kind>_<26 base32 chars>" built from a UUIDv7.
func (g *Generator) Generate() string {
	var (
		id  uuid.UUID
		err error
	)
	if g.reader != nil {
		id, err = uuid.NewV7FromReader(g.reader)
	} else {
		id, err = uuid.NewV7()
	}
	if err != nil {
		panic("gameid: failed to generate uuid: " + err.Error())
	}
	return string(g.kind) + "_" + encode(id)
}

// encode packs the 128 UUID bits into 26 characters, treating the value as
// 130 bits with two leading zero bits so the first character is always 0-7.
func encode(id uuid.UUID) string {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])

	out := make([]byte, encodedLen)
	for i := 0; i < encodedLen; i++ {
		shift := uint(125 - 5*i)
		var v uint64
		switch {
		case shift >= 64:
			v = hi >> (shift - 64)
		case shift == 0:
			v = lo
		default:
			v = lo>>shift | hi<<(64-shift)
		}
		out[i] = alphabet[v&0x1f]
	}
	return string(out)
}

func decode(s string) (uuid.UUID, error) {
	var hi, lo uint64
	for i := 0; i < len(s); i++ {
		v := strings.IndexByte(alphabet, s[i])
		if v < 0 {
			return uuid.Nil, fmt.Errorf("invalid character %c at position %d", s[i], i)
		}
		// shift the 128-bit accumulator left by 5 and add v
		hi = hi<<5 | lo>>59
		lo = lo<<5 | uint64(v)
	}
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[:8], hi)
	binary.BigEndian.PutUint64(id[8:], lo)
	return id, nil
}

// Parse splits an ID into its kind and UUID.
func Parse(id string) (Kind, uuid.UUID, error) {
	prefix, body, ok := strings.Cut(id, "_")
	if !ok || prefix == "" {
		return "", uuid.Nil, fmt.Errorf("id %q has no kind prefix", id)
	}
	if len(body) != encodedLen {
		return "", uuid.Nil, fmt.Errorf("id must have %d characters after the prefix, got %d", encodedLen, len(body))
	}
	if body[0] > '7' {
		return "", uuid.Nil, fmt.Errorf("id first character must be 0-7, got %c", body[0])
	}
	u, err := decode(body)
	if err != nil {
		return "", uuid.Nil, err
	}
	return Kind(prefix), u, nil
}

// Validate checks that id is well formed and of the expected kind.
func Validate(id string, kind Kind) error {
	k, _, err := Parse(id)
	if err != nil {
		return err
	}
	if k != kind {
		return fmt.Errorf("id %q is a %s id, want %s", id, k, kind)
	}
	return nil
}

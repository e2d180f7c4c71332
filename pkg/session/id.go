package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// DefaultIDSize is the number of random bytes in a generated identifier.
const DefaultIDSize = 32

// IDGenerator produces new session identifiers.
type IDGenerator interface {
	Generate() (string, error)
}

// IDGeneratorFunc adapts a function to IDGenerator.
type IDGeneratorFunc func() (string, error)

func (f IDGeneratorFunc) Generate() (string, error) { return f() }

// RandomIDGenerator reads Size bytes from Reader (crypto/rand by default)
// and encodes them as unpadded base64url.
type RandomIDGenerator struct {
	Size   int
	Reader io.Reader
}

func (g RandomIDGenerator) Generate() (string, error) {
	size := g.Size
	if size <= 0 {
		size = DefaultIDSize
	}
	r := g.Reader
	if r == nil {
		r = rand.Reader
	}

	b := make([]byte, size)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", errors.Join(ErrIDGeneration, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

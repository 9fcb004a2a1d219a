package pipetheory

import (
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// IDGenerator provides randomness for batch correlation IDs and
// generated transaction identifiers.
type IDGenerator interface {
	NewID() string
}

// RandomIDGenerator generates lowercase ULIDs from cryptographic randomness.
//
// ULIDs sort by creation time, which keeps generated transaction
// identifiers scannable in the orders table.
type RandomIDGenerator struct{}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func (RandomIDGenerator) NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		// Entropy exhaustion within the same millisecond; a fresh
		// non-monotonic read cannot collide within the ULID timestamp space.
		id = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	}
	return strings.ToLower(id.String())
}

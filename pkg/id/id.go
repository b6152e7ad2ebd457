// Package id mints the identifiers the engine attaches to order intents
// and closed trades. An intent ID is the broker idempotency key: a
// resubmission after a reconnect carries the same ID, so the order is
// never duplicated. Trade IDs key the journal's trades table.
//
// ULIDs fit both uses: they are unique without coordination and sort by
// creation time, so journal rows and broker logs line up with wall-clock
// order. Backtests bypass this package with a counter sequence, because
// reproducible runs need reproducible IDs.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// generator serialises ULID construction over a monotonic entropy
// source, keeping IDs minted within the same millisecond in issue order.
type generator struct {
	mu      sync.Mutex
	entropy io.Reader
}

var live = newGenerator()

func newGenerator() *generator {
	// Seed the entropy PRNG from crypto/rand so intent IDs are not
	// guessable across restarts.
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &generator{entropy: ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)}
}

// New returns the next intent/trade identifier.
func New() string {
	live.mu.Lock()
	defer live.mu.Unlock()

	u, err := ulid.New(ulid.Timestamp(time.Now().UTC()), live.entropy)
	if err != nil {
		// Only possible if time goes backwards or entropy fails.
		panic(err)
	}
	return u.String()
}

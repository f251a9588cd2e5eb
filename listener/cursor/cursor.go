// Package cursor keeps the position of a listener on chain.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/tarancss/movo/lib/store"
)

// Status possible values, control whether a listener is working or is/has to stop
const (
	WORK int = 0
	STOP int = 1
)

// Cursor contains the last block whose logs are all in the intake log and a ring with the hashes of the last
// blocks seen carrying events, used to notice reorganisations.
type Cursor struct {
	l      sync.Mutex
	name   string
	status int
	Block  uint64   // last block fully ingested
	Bh     []string // ring of "number:hash" of the last blocks seen
	Bhi    int      // index to the last entry in Bh
}

// New loads the cursor of the named listener. When none is stored it starts at from. A stored cursor behind
// from is moved forward to it.
func New(ctx context.Context, name string, max int, from uint64, db store.Intake) (*Cursor, error) {
	if max < 1 {
		max = 1
	}

	c := &Cursor{name: name, status: WORK}

	s, err := db.LoadCursor(ctx, name)
	switch {
	case errors.Is(err, store.ErrDataNotFound):
		c.Block = from
		c.Bh = make([]string, max)
	case err != nil:
		return nil, fmt.Errorf("cannot load cursor %s: %w", name, err)
	default:
		c.FromStore(s)

		// a ring of another size starts afresh
		if len(c.Bh) != max || c.Bhi < 0 || c.Bhi >= max {
			c.Bh, c.Bhi = make([]string, max), 0
		}

		if c.Block < from {
			c.Block = from
		}
	}

	zap.L().Info("Cursor loaded", zap.String("listener", name), zap.Uint64("block", c.Block))

	return c, nil
}

// Next returns the first block not yet ingested.
func (c *Cursor) Next() uint64 {
	c.l.Lock()
	defer c.l.Unlock()

	return c.Block + 1
}

// Advance moves the cursor to block if it is ahead.
func (c *Cursor) Advance(block uint64) {
	c.l.Lock()
	defer c.l.Unlock()

	if block > c.Block {
		c.Block = block
	}
}

// Observe records the hash of a block carrying an event. It returns the hash previously seen for that block
// when it differs, which means the chain reorganised.
func (c *Cursor) Observe(number uint64, hash string) (previous string, changed bool) {
	c.l.Lock()
	defer c.l.Unlock()

	prefix := strconv.FormatUint(number, 10) + ":"
	entry := prefix + strings.ToLower(hash)

	for i, e := range c.Bh {
		if strings.HasPrefix(e, prefix) {
			if e == entry {
				return "", false
			}

			c.Bh[i] = entry

			return strings.TrimPrefix(e, prefix), true
		}
	}

	// a new block, store hash in the ring
	c.Bhi++
	c.Bhi %= len(c.Bh)
	c.Bh[c.Bhi] = entry

	return "", false
}

// ToStore returns a store.Cursor to be saved to store
func (c *Cursor) ToStore() store.Cursor {
	c.l.Lock()
	defer c.l.Unlock()

	return store.Cursor{
		Listener: c.name,
		Block:    c.Block,
		Bh:       append([]string(nil), c.Bh...),
		Bhi:      c.Bhi,
	}
}

// FromStore loads the Cursor with the values read from store
func (c *Cursor) FromStore(s store.Cursor) {
	c.l.Lock()
	defer c.l.Unlock()

	c.Block = s.Block
	c.Bh = s.Bh
	c.Bhi = s.Bhi
}

// Stop sets status to STOP
func (c *Cursor) Stop() {
	c.l.Lock()
	c.status = STOP
	c.l.Unlock()
}

// Start sets status to WORK
func (c *Cursor) Start() {
	c.l.Lock()
	c.status = WORK
	c.l.Unlock()
}

// Status returns the current Cursor status
func (c *Cursor) Status() int {
	c.l.Lock()
	defer c.l.Unlock()

	return c.status
}

// Package memory holds in-memory implementations of the repository
// interfaces. They mirror the Postgres implementations' compare-and-swap
// transition semantics under a mutex, which makes them suitable both for
// development without a database and for exercising the orchestrators in
// tests.
package memory

import (
	"fmt"
	"sync"
)

type counter struct {
	mu  sync.Mutex
	seq int
}

func (c *counter) next(prefix string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("%s-%06d", prefix, c.seq)
}

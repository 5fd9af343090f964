package testutil

import "fmt"

// SequentialSessionGenerator returns "session-1", "session-2", ... so
// journal tests can assert exact ids.
//
// Thread-safety: NOT safe for concurrent use.
type SequentialSessionGenerator struct {
	n int
}

// NewSequentialSessionGenerator creates a generator whose first id is "session-1".
func NewSequentialSessionGenerator() *SequentialSessionGenerator {
	return &SequentialSessionGenerator{}
}

// Generate returns the next session id.
func (g *SequentialSessionGenerator) Generate() string {
	g.n++
	return fmt.Sprintf("session-%d", g.n)
}

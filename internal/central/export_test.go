package central

// Test-only bridges for the external test package. The lifecycle tests in
// package central_test import internal/testutils, which itself builds on
// this package; keeping them external avoids the test import cycle, and
// these accessors expose the two internals those tests exercise.

// CurrentGen returns the session's attempt generation under the session
// lock.
func (c *ConnSession) CurrentGen() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Deadline fires the establishment deadline guard exactly as a leftover
// timer armed for gen would.
func (c *ConnSession) Deadline(gen uint64) {
	c.deadline(gen)
}

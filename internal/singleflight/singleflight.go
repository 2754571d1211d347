// Package singleflight collapses concurrent duplicate work: when several
// goroutines ask for the same key at once, one of them executes the
// function and the rest wait for and share its result.
package singleflight

import "sync"

// call represents an active function call for one key.
type call struct {
	wg  sync.WaitGroup
	val []byte
	err error
}

// Group manages the set of in-flight calls. The zero value is not usable;
// construct with New.
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*call)}
}

// Do executes fn for key, ensuring only one execution is in flight for a
// given key at a time. Duplicate callers block until the owner finishes
// and receive the same result. The shared return value reports whether
// the result came from another caller's execution.
func (g *Group) Do(key string, fn func() ([]byte, error)) (val []byte, err error, shared bool) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := &call{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	c.val, c.err = fn()

	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
	c.wg.Done()

	return c.val, c.err, false
}

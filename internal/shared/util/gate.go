package util

import "sync"

// Gate admits any number of shared holders or a single exclusive holder.
type Gate struct {
	mu sync.RWMutex
}

// Shared blocks while an exclusive holder is inside and returns the release function.
func (g *Gate) Shared() func() {
	g.mu.RLock()
	var once sync.Once
	return func() { once.Do(g.mu.RUnlock) }
}

// Exclusive waits for all shared holders to leave.
func (g *Gate) Exclusive() func() {
	g.mu.Lock()
	var once sync.Once
	return func() { once.Do(g.mu.Unlock) }
}

// TryExclusive acquires the gate only if it is free right now.
func (g *Gate) TryExclusive() (func(), bool) {
	if !g.mu.TryLock() {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(g.mu.Unlock) }, true
}

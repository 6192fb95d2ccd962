package util

import (
	"testing"
	"time"
)

func TestGate_ExclusiveWaitsForShared(t *testing.T) {
	var g Gate
	release := g.Shared()
	releaseAgain := g.Shared()

	if _, ok := g.TryExclusive(); ok {
		t.Fatal("exclusive acquired while shared holders are inside")
	}

	acquired := make(chan struct{})
	go func() {
		unlock := g.Exclusive()
		close(acquired)
		unlock()
	}()

	release()
	release()
	select {
	case <-acquired:
		t.Fatal("exclusive acquired before every shared holder left")
	case <-time.After(20 * time.Millisecond):
	}
	releaseAgain()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("exclusive never acquired")
	}

	unlock, ok := g.TryExclusive()
	if !ok {
		t.Fatal("expected free gate")
	}
	unlock()
	unlock()
}

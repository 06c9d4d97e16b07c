package infra

import (
	"context"
	"testing"
	"time"
)

func TestChanPool_AcquireUpToCapacity(t *testing.T) {
	p := NewChanPool(2)

	r1, ok1 := p.Acquire(context.Background())
	r2, ok2 := p.Acquire(context.Background())
	if !ok1 || !ok2 {
		t.Fatalf("expected two slots to be acquired")
	}
	if p.InUse() != 2 || p.Capacity() != 2 {
		t.Fatalf("expected 2/2 in use, got %d/%d", p.InUse(), p.Capacity())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, ok := p.Acquire(ctx); ok {
		t.Fatalf("expected third acquire to fail")
	}

	r1()
	r2()
	if p.InUse() != 0 {
		t.Fatalf("expected slots to be released, got %d in use", p.InUse())
	}
}

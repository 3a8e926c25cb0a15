package harvest

import (
	"context"
	"testing"
	"time"
)

func TestDomainLimiterDisabled(t *testing.T) {
	var l *DomainLimiter
	if err := l.Wait(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("nil limiter should be a no-op, got %v", err)
	}
	if err := NewDomainLimiter(0).Wait(context.Background(), "https://example.com"); err != nil {
		t.Fatalf("zero-qps limiter should be a no-op, got %v", err)
	}
}

func TestDomainLimiterSpacesRequests(t *testing.T) {
	l := NewDomainLimiter(50)

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(context.Background(), "https://example.com/page"); err != nil {
			t.Fatalf("Wait error = %v", err)
		}
	}
	// Burst 1 at 50 qps means the 2nd and 3rd calls wait ~20ms each.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected at least 30ms of spacing, got %v", elapsed)
	}
}

func TestDomainLimiterPerHost(t *testing.T) {
	l := NewDomainLimiter(1)

	start := time.Now()
	if err := l.Wait(context.Background(), "https://a.example.com"); err != nil {
		t.Fatalf("Wait error = %v", err)
	}
	if err := l.Wait(context.Background(), "https://b.example.com"); err != nil {
		t.Fatalf("Wait error = %v", err)
	}
	// Different hosts draw from different buckets; neither call should block.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("expected independent budgets, waited %v", elapsed)
	}
}

func TestDomainLimiterHonorsCancellation(t *testing.T) {
	l := NewDomainLimiter(0.001)

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Wait(ctx, "https://example.com"); err != nil {
		t.Fatalf("first Wait should pass on the burst token, got %v", err)
	}
	cancel()
	if err := l.Wait(ctx, "https://example.com"); err == nil {
		t.Fatal("expected a cancellation error")
	}
}

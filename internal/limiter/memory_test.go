package limiter

import (
	"context"
	"testing"
	"time"
)

func TestMemory_BlocksAfterMaxFails(t *testing.T) {
	now := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 3, BlockFor: 5 * time.Minute})
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		if blocked, _, _ := m.Failure(ctx, "gate1", ip); blocked {
			t.Fatalf("blocked too early at %d", i)
		}
	}
	blocked, dur, err := m.Failure(ctx, "gate1", ip)
	if err != nil || !blocked || dur != 5*time.Minute {
		t.Fatalf("want block: blocked=%v dur=%v err=%v", blocked, dur, err)
	}
	if ok, retry, _ := m.Allow(ctx, "gate1", ip); ok || retry != 5*time.Minute {
		t.Fatalf("Allow while blocked: ok=%v retry=%v", ok, retry)
	}
	if ok, _, _ := m.Allow(ctx, "gate2", ip); !ok {
		t.Fatalf("other user must not be blocked")
	}

	now = now.Add(6 * time.Minute)
	if ok, _, _ := m.Allow(ctx, "gate1", ip); !ok {
		t.Fatalf("block should expire")
	}
}

func TestMemory_WindowResetsAndSuccessClears(t *testing.T) {
	now := time.Date(2025, 10, 1, 9, 0, 0, 0, time.UTC)
	m := NewMemory(Policy{Window: time.Minute, MaxFails: 2, BlockFor: time.Minute})
	m.now = func() time.Time { return now }
	ctx := context.Background()
	ip := HashIP("10.0.0.2")

	_, _, _ = m.Failure(ctx, "u", ip)
	now = now.Add(2 * time.Minute)
	if blocked, _, _ := m.Failure(ctx, "u", ip); blocked {
		t.Fatalf("stale failure must not count")
	}
	if err := m.Success(ctx, "u", ip); err != nil {
		t.Fatalf("Success: %v", err)
	}
	if blocked, _, _ := m.Failure(ctx, "u", ip); blocked {
		t.Fatalf("success must reset the counter")
	}
}

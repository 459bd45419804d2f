package local

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestSetMGetDel(t *testing.T) {
	c := New(8, time.Hour)
	ctx := context.Background()

	if err := c.Set(ctx, "a", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.MGet(ctx, []string{"a", "b"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 1 || string(got["a"]) != "1" {
		t.Fatalf("got=%v", got)
	}
	if err := c.Del(ctx, "a"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	got, _ = c.MGet(ctx, []string{"a"})
	if len(got) != 0 {
		t.Fatalf("after Del got=%v", got)
	}
}

func TestSet_CopiesValue(t *testing.T) {
	c := New(8, time.Hour)
	ctx := context.Background()
	v := []byte("abc")
	_ = c.Set(ctx, "k", v, 0)
	v[0] = 'x'
	got, _ := c.MGet(ctx, []string{"k"})
	if string(got["k"]) != "abc" {
		t.Fatalf("stored value aliased caller buffer: %q", got["k"])
	}
}

func TestPerEntryTTL(t *testing.T) {
	c := New(8, time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "short", []byte("s"), time.Second)
	_ = c.Set(ctx, "long", []byte("l"), time.Minute)

	now = now.Add(2 * time.Second)
	got, _ := c.MGet(ctx, []string{"short", "long"})
	if _, ok := got["short"]; ok {
		t.Fatalf("short entry survived its ttl")
	}
	if string(got["long"]) != "l" {
		t.Fatalf("long entry missing: %v", got)
	}
	if c.Len() != 1 {
		t.Fatalf("expired entry not removed, len=%d", c.Len())
	}
}

func TestIncr_SurvivesEviction(t *testing.T) {
	c := New(2, time.Hour)
	ctx := context.Background()

	if n, _ := c.Incr(ctx, "agg:p:gen"); n != 1 {
		t.Fatalf("first Incr=%d", n)
	}
	for i := range 10 {
		_ = c.Set(ctx, fmt.Sprintf("k%d", i), []byte("v"), 0)
	}
	n, err := c.Incr(ctx, "agg:p:gen")
	if err != nil || n != 2 {
		t.Fatalf("Incr=%d err=%v want 2", n, err)
	}
	got, _ := c.MGet(ctx, []string{"agg:p:gen"})
	if string(got["agg:p:gen"]) != "2" {
		t.Fatalf("counter read=%q", got["agg:p:gen"])
	}
}

func TestCanceledContext(t *testing.T) {
	c := New(2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.MGet(ctx, []string{"a"}); err == nil {
		t.Fatal("MGet accepted canceled context")
	}
	if err := c.Set(ctx, "a", nil, 0); err == nil {
		t.Fatal("Set accepted canceled context")
	}
	if _, err := c.Incr(ctx, "a"); err == nil {
		t.Fatal("Incr accepted canceled context")
	}
}

package redisstore

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestTTL_ResultsExpireGenerationsPersist(t *testing.T) {
	rc, mr := newMini(t)
	ctx := context.Background()

	if _, err := rc.Incr(ctx, "agg:p:gen"); err != nil {
		t.Fatalf("Incr: %v", err)
	}
	if err := rc.Set(ctx, "agg:p:g1:f=00", []byte("v"), 2*time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := rc.MGet(ctx, []string{"agg:p:g1:f=00"})
	if err != nil || string(got["agg:p:g1:f=00"]) != "v" {
		t.Fatalf("pre expiry got=%v err=%v", got, err)
	}

	mr.FastForward(3 * time.Second)

	got, err = rc.MGet(ctx, []string{"agg:p:g1:f=00", "agg:p:gen"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if _, ok := got["agg:p:g1:f=00"]; ok {
		t.Fatalf("result survived its ttl: %v", got)
	}
	if string(got["agg:p:gen"]) != "1" {
		t.Fatalf("generation=%q want 1", got["agg:p:gen"])
	}
}

func TestNew_Password(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.RequireAuth("s3cret")

	if _, err := New(context.Background(), mr.Addr()); err == nil {
		t.Fatal("expected auth failure without password")
	}
	rc, err := New(context.Background(), mr.Addr(), WithPassword("s3cret"), WithDB(0), WithPoolSize(4))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_ = rc.Close()
}

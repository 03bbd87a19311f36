package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestContentCacheInvalidateDropsOnlyPrefix(t *testing.T) {
	srv := miniredis.RunT(t)
	c, err := NewRedisContentCache(srv.Addr(), "", "test:content")
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	for _, key := range []string{"test:content:all:movie:603", "test:content:safe:movie:603", "test:content:safe:tv:1396"} {
		if err := srv.Set(key, "{}"); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	if err := srv.Set("test:contentious", "keep"); err != nil {
		t.Fatalf("seed neighbour: %v", err)
	}

	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	keys := srv.Keys()
	if len(keys) != 1 || keys[0] != "test:contentious" {
		t.Fatalf("expected only the unrelated key to survive, got %v", keys)
	}
}

func TestContentCacheInvalidateSpansScanBatches(t *testing.T) {
	srv := miniredis.RunT(t)
	c, err := NewRedisContentCache(srv.Addr(), "", "")
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	defer c.Close()

	for i := 0; i < scanBatch*2+7; i++ {
		if err := srv.Set(fmt.Sprintf("reelsync:content:all:movie:%d", i), "{}"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Invalidate(context.Background()); err != nil {
				t.Errorf("invalidate: %v", err)
			}
		}()
	}
	wg.Wait()
	if keys := srv.Keys(); len(keys) != 0 {
		t.Fatalf("expected empty namespace, %d keys left", len(keys))
	}
}

func TestNewContentCacheRequiresAddr(t *testing.T) {
	if _, err := NewRedisContentCache(" ", "", ""); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

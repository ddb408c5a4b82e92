package processor

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pvp-ml/inference-server/internal/model"
)

func TestCache_SingleFlight(t *testing.T) {
	loader := &model.MockLoader{Delay: 50 * time.Millisecond}
	c := NewCache(loader.Load, "cpu")

	const callers = 16
	results := make([]model.InferenceModel, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			m, err := c.Resolve("fighter.onnx")
			if err != nil {
				t.Errorf("Resolve failed: %v", err)
				return
			}
			results[i] = m
		}(i)
	}
	wg.Wait()

	if loader.LoadCount("fighter.onnx") != 1 {
		t.Errorf("Expected exactly 1 load, got %d", loader.LoadCount("fighter.onnx"))
	}
	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("Caller %d got a different model handle", i)
		}
	}
}

func TestCache_IndependentLocations(t *testing.T) {
	loader := &model.MockLoader{
		DelayFor: map[string]time.Duration{"slow.onnx": 500 * time.Millisecond},
	}
	c := NewCache(loader.Load, "cpu")

	if _, err := c.Resolve("fast.onnx"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Start a slow load for one location; an already-loaded location must
	// not be delayed by it.
	started := make(chan struct{})
	go func() {
		close(started)
		c.Resolve("slow.onnx")
	}()
	<-started

	begin := time.Now()
	if _, err := c.Resolve("fast.onnx"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if elapsed := time.Since(begin); elapsed > 100*time.Millisecond {
		t.Errorf("Loaded-location resolve took %v while another load was in flight", elapsed)
	}
}

func TestCache_LoadFailureRetries(t *testing.T) {
	loadErr := fmt.Errorf("corrupt checkpoint")
	loader := &model.MockLoader{FailFor: map[string]error{"bad.onnx": loadErr}}
	c := NewCache(loader.Load, "cpu")

	_, err := c.Resolve("bad.onnx")
	if err == nil {
		t.Fatal("Expected load failure")
	}
	var loadFailure *LoadFailureError
	if !errors.As(err, &loadFailure) {
		t.Fatalf("Expected LoadFailureError, got %T", err)
	}
	if !errors.Is(err, loadErr) {
		t.Error("LoadFailureError should wrap the underlying error")
	}
	if c.Loaded("bad.onnx") {
		t.Error("Failed load must leave the location absent")
	}

	// The failure is not cached: a later call retries the load.
	delete(loader.FailFor, "bad.onnx")
	if _, err := c.Resolve("bad.onnx"); err != nil {
		t.Fatalf("Retry after failure should succeed: %v", err)
	}
	if loader.LoadCount("bad.onnx") != 2 {
		t.Errorf("Expected 2 load attempts, got %d", loader.LoadCount("bad.onnx"))
	}
}

func TestCache_LockMapBounded(t *testing.T) {
	loader := &model.MockLoader{}
	c := NewCache(loader.Load, "cpu")

	for i := 0; i < 50; i++ {
		if _, err := c.Resolve(fmt.Sprintf("model-%d.onnx", i)); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}

	c.lockMu.Lock()
	remaining := len(c.locks)
	c.lockMu.Unlock()
	if remaining != 0 {
		t.Errorf("Per-location locks leaked after loads: %d remaining", remaining)
	}
	if c.Len() != 50 {
		t.Errorf("Expected 50 resident models, got %d", c.Len())
	}
}

func TestCache_ResolveReturnsCached(t *testing.T) {
	loader := &model.MockLoader{}
	c := NewCache(loader.Load, "cpu")

	first, err := c.Resolve("a.onnx")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	second, err := c.Resolve("a.onnx")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if first != second {
		t.Error("Expected the same handle for repeated resolves")
	}
	if loader.TotalLoads() != 1 {
		t.Errorf("Expected 1 load, got %d", loader.TotalLoads())
	}
}

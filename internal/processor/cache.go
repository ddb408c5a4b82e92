// Package processor runs model inference on a fixed pool of workers, off
// the network loop, and owns the cache of loaded models.
package processor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pvp-ml/inference-server/internal/metrics"
	"github.com/pvp-ml/inference-server/internal/model"
)

// Cache lazily loads models by storage location and retains them for the
// process lifetime. Loading is single-flight: concurrent callers for the
// same location block on one load and share its result, while callers for
// different locations never block each other. Loaded models are never
// evicted; a large, varied catalog grows memory without bound (known
// limitation, kept deliberately).
type Cache struct {
	loader model.Loader
	device string

	mu     sync.RWMutex
	models map[string]model.InferenceModel

	// lockMu guards locks and is only ever held for map bookkeeping,
	// never across a load.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

// NewCache creates a cache that loads models with loader onto device.
func NewCache(loader model.Loader, device string) *Cache {
	return &Cache{
		loader: loader,
		device: device,
		models: make(map[string]model.InferenceModel),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Resolve returns the loaded model for location, loading it if needed.
// A failed load leaves the location absent so a later call can retry.
func (c *Cache) Resolve(location string) (model.InferenceModel, error) {
	c.mu.RLock()
	m, ok := c.models[location]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	c.lockMu.Lock()
	lock, ok := c.locks[location]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[location] = lock
	}
	c.lockMu.Unlock()

	lock.Lock()
	// Double check: the load may have finished while we waited.
	c.mu.RLock()
	m, ok = c.models[location]
	c.mu.RUnlock()
	if ok {
		lock.Unlock()
		return m, nil
	}

	start := time.Now()
	log.Printf("Loading model %s into memory", location)
	m, err := c.loader(location, c.device)
	if err != nil {
		lock.Unlock()
		metrics.RecordModelLoad("failure", time.Since(start).Seconds())
		return nil, &LoadFailureError{Location: location, Err: err}
	}
	log.Printf("Loaded model %s in %.2fs", location, time.Since(start).Seconds())
	metrics.RecordModelLoad("success", time.Since(start).Seconds())

	c.mu.Lock()
	c.models[location] = m
	c.mu.Unlock()
	lock.Unlock()

	// The per-location lock is only needed while the load is in flight;
	// drop it so the lock map stays bounded under a large catalog.
	c.lockMu.Lock()
	delete(c.locks, location)
	c.lockMu.Unlock()

	return m, nil
}

// Loaded reports whether a model is resident for location.
func (c *Cache) Loaded(location string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.models[location]
	return ok
}

// Len reports the number of resident models.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

// LoadFailureError marks a model that could not be loaded from storage.
// Recovered per-request; the cache entry stays absent for retry.
type LoadFailureError struct {
	Location string
	Err      error
}

func (e *LoadFailureError) Error() string {
	return fmt.Sprintf("failed to load model %s: %v", e.Location, e.Err)
}

func (e *LoadFailureError) Unwrap() error {
	return e.Err
}

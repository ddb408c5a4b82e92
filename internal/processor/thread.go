package processor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pvp-ml/inference-server/internal/metrics"
	"github.com/pvp-ml/inference-server/internal/model"
)

// task is one unit of pool work. A nil obs marks a preload: resolve the
// model, skip the prediction.
type task struct {
	location    string
	obs         [][]float32
	actionMasks []bool
	opts        model.PredictOptions
	result      chan taskResult
}

type taskResult struct {
	res *model.Result
	err error
}

// threadProcessor runs inference on a fixed pool of worker goroutines fed
// by an unbuffered task channel. It owns the model cache, which is the
// only state shared across slots.
type threadProcessor struct {
	poolSize int
	device   string
	cache    *Cache
	tasks    chan *task
	wg       sync.WaitGroup

	// mu orders submissions against Close: submitters hold the read lock
	// across the channel send, so Close can only mark the pool closed and
	// close the channel while no send is in flight.
	mu     sync.RWMutex
	closed bool
}

func newThreadProcessor(poolSize int, device string, loader model.Loader) *threadProcessor {
	p := &threadProcessor{
		poolSize: poolSize,
		device:   device,
		cache:    NewCache(loader, device),
		tasks:    make(chan *task),
	}

	prefix := fmt.Sprintf("ml-inference-%s", uuid.NewString()[:8])
	p.wg.Add(poolSize)
	for i := 0; i < poolSize; i++ {
		go p.worker(fmt.Sprintf("%s-%d", prefix, i))
	}

	return p
}

func (p *threadProcessor) worker(name string) {
	defer p.wg.Done()
	for t := range p.tasks {
		t.result <- p.execute(t)
	}
	log.Printf("Worker %s stopped", name)
}

func (p *threadProcessor) execute(t *task) taskResult {
	m, err := p.cache.Resolve(t.location)
	if err != nil {
		return taskResult{err: err}
	}
	if t.obs == nil {
		return taskResult{}
	}

	start := time.Now()
	res, err := m.Predict(t.obs, t.actionMasks, t.opts)
	metrics.RecordInferenceLatency(time.Since(start).Seconds())
	return taskResult{res: res, err: err}
}

func (p *threadProcessor) submit(ctx context.Context, t *task) (*model.Result, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrProcessorClosed
	}
	select {
	case p.tasks <- t:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	// No mid-flight cancellation: once a worker has the task it runs to
	// completion. The result channel is buffered so an abandoned wait
	// never blocks the worker.
	select {
	case r := <-t.result:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *threadProcessor) Predict(ctx context.Context, location string, obs [][]float32, actionMasks []bool, opts model.PredictOptions) (*model.Result, error) {
	return p.submit(ctx, &task{
		location:    location,
		obs:         obs,
		actionMasks: actionMasks,
		opts:        opts,
		result:      make(chan taskResult, 1),
	})
}

func (p *threadProcessor) Preload(ctx context.Context, location string) error {
	_, err := p.submit(ctx, &task{
		location: location,
		result:   make(chan taskResult, 1),
	})
	return err
}

func (p *threadProcessor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *threadProcessor) PoolSize() int {
	return p.poolSize
}

func (p *threadProcessor) Device() string {
	return p.device
}

var _ Processor = (*threadProcessor)(nil)

package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/pvp-ml/inference-server/internal/model"
)

// Kind selects a processor implementation. The set is closed: adding a
// processor means adding a variant here and a case to New.
type Kind string

// KindThread runs inference on a pool of worker goroutines in-process.
const KindThread Kind = "thread"

// Kinds lists the known processor kinds.
func Kinds() []Kind {
	return []Kind{KindThread}
}

// ErrProcessorClosed is returned for work submitted during or after Close.
var ErrProcessorClosed = errors.New("processor is closed")

// Processor executes model predictions off the network loop on a fixed
// number of execution slots.
type Processor interface {
	// Predict resolves the model at location and runs one prediction.
	Predict(ctx context.Context, location string, obs [][]float32, actionMasks []bool, opts model.PredictOptions) (*model.Result, error)

	// Preload resolves the model at location without running a
	// prediction, forcing it into the cache.
	Preload(ctx context.Context, location string) error

	// Close drains in-flight work and releases the pool. Safe to call
	// once; later submissions fail with ErrProcessorClosed.
	Close() error

	// PoolSize reports the number of execution slots.
	PoolSize() int

	// Device reports the compute device models are loaded onto.
	Device() string
}

// New creates a processor of the given kind.
func New(kind Kind, poolSize int, device string, loader model.Loader) (Processor, error) {
	switch kind {
	case KindThread:
		return newThreadProcessor(poolSize, device, loader), nil
	default:
		return nil, fmt.Errorf("unknown processor type: %s", kind)
	}
}

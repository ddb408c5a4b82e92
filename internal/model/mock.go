package model

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockModel is an InferenceModel for tests. It picks the first legal action
// in each head and reports a uniform distribution over the legal actions,
// without requiring the ONNX shared library.
type MockModel struct {
	// Location is the path the model was "loaded" from.
	Location string
	// Value is returned as the value estimate when requested.
	Value float64
	// Extensions maps extension names to their results.
	Extensions map[string]any
	// PredictErr, if set, fails every Predict call.
	PredictErr error
	// PredictCount tracks the number of Predict calls.
	PredictCount atomic.Int64
	// Closed tracks whether Close was called.
	Closed atomic.Bool
}

func (m *MockModel) Predict(obs [][]float32, actionMasks []bool, opts PredictOptions) (*Result, error) {
	m.PredictCount.Add(1)

	if m.PredictErr != nil {
		return nil, m.PredictErr
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("empty observation")
	}
	for _, name := range opts.Extensions {
		if _, ok := m.Extensions[name]; !ok {
			return nil, fmt.Errorf("unknown extension: %s", name)
		}
	}

	bounds, err := splitHeads(opts.HeadSizes, len(actionMasks))
	if err != nil {
		return nil, err
	}

	result := &Result{Action: make([]int, len(opts.HeadSizes))}
	if opts.ReturnLogProb {
		result.LogProb = new(float64)
	}
	if opts.ReturnEntropy {
		result.Entropy = make([]float64, len(opts.HeadSizes))
	}
	if opts.ReturnProbs {
		result.Probs = make([]float64, 0, len(actionMasks))
	}

	for head := range opts.HeadSizes {
		lo, hi := bounds[head], bounds[head+1]
		mask := actionMasks[lo:hi]

		legal := 0
		first := -1
		for i, ok := range mask {
			if ok {
				legal++
				if first < 0 {
					first = i
				}
			}
		}
		if legal == 0 {
			return nil, fmt.Errorf("head %d: action mask leaves no legal action", head)
		}
		result.Action[head] = first

		uniform := 1.0 / float64(legal)
		if opts.ReturnLogProb {
			*result.LogProb += logOf(uniform)
		}
		if opts.ReturnEntropy {
			probs := make([]float64, 0, legal)
			for i := 0; i < legal; i++ {
				probs = append(probs, uniform)
			}
			result.Entropy[head] = entropyOf(probs)
		}
		if opts.ReturnProbs {
			for _, ok := range mask {
				if ok {
					result.Probs = append(result.Probs, uniform)
				} else {
					result.Probs = append(result.Probs, 0)
				}
			}
		}
	}

	if opts.ReturnValue {
		result.Values = []float64{m.Value}
	}
	if len(opts.Extensions) > 0 {
		result.ExtensionResults = make([]any, len(opts.Extensions))
		for i, name := range opts.Extensions {
			result.ExtensionResults[i] = m.Extensions[name]
		}
	}

	return result, nil
}

func (m *MockModel) Close() error {
	m.Closed.Store(true)
	return nil
}

var _ InferenceModel = (*MockModel)(nil)

// MockLoader is a Loader for tests that counts loads and can delay or fail
// them per location.
type MockLoader struct {
	// Value is copied into every loaded MockModel.
	Value float64
	// Extensions is shared by every loaded MockModel.
	Extensions map[string]any
	// Delay is applied to every load.
	Delay time.Duration
	// DelayFor overrides Delay for specific locations.
	DelayFor map[string]time.Duration
	// FailFor fails loads for specific locations.
	FailFor map[string]error

	mu     sync.Mutex
	counts map[string]int
	total  int
}

// Load satisfies Loader.
func (l *MockLoader) Load(location, device string) (InferenceModel, error) {
	l.mu.Lock()
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[location]++
	l.total++
	l.mu.Unlock()

	delay := l.Delay
	if d, ok := l.DelayFor[location]; ok {
		delay = d
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	if err, ok := l.FailFor[location]; ok && err != nil {
		return nil, err
	}

	return &MockModel{
		Location:   location,
		Value:      l.Value,
		Extensions: l.Extensions,
	}, nil
}

// LoadCount reports how many loads were performed for location.
func (l *MockLoader) LoadCount(location string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[location]
}

// TotalLoads reports how many loads were performed overall.
func (l *MockLoader) TotalLoads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

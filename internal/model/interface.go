// Package model defines the loaded-model abstraction the worker pool runs
// inference against, an ONNX-backed implementation, and a mock for tests.
package model

// PredictOptions selects which outputs a Predict call computes.
type PredictOptions struct {
	// HeadSizes gives the number of actions in each decision head, in head
	// order. The flat action mask and the flattened probabilities follow
	// this grouping.
	HeadSizes []int
	// Deterministic holds one greedy/sample flag per head.
	Deterministic []bool
	ReturnLogProb bool
	ReturnEntropy bool
	ReturnValue   bool
	ReturnProbs   bool
	// Extensions names the model extensions to evaluate against the
	// observation, in result order.
	Extensions []string
}

// Result carries the outputs of one Predict call. Optional fields are nil
// unless the corresponding option was set.
type Result struct {
	// Action holds one chosen action index per head.
	Action []int
	// LogProb is the summed log probability of the chosen actions.
	LogProb *float64
	// Entropy holds one distribution entropy per head.
	Entropy []float64
	// Values is the value-head estimate for the observation.
	Values []float64
	// Probs holds the per-action probabilities flattened across heads,
	// in HeadSizes order.
	Probs []float64
	// ExtensionResults holds one result per requested extension, in
	// request order.
	ExtensionResults []any
}

// InferenceModel is a loaded model ready to serve predictions. The policy
// network itself is opaque; implementations only expose sampling over its
// outputs.
type InferenceModel interface {
	// Predict runs the model on one observation (possibly frame-stacked)
	// with a flat action mask covering all heads.
	Predict(obs [][]float32, actionMasks []bool, opts PredictOptions) (*Result, error)

	// Close releases any resources held by the model.
	Close() error
}

// Loader loads the model stored at location onto the given device.
type Loader func(location, device string) (InferenceModel, error)

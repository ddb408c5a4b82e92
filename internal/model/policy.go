package model

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	obsInputName     = "obs"
	masksInputName   = "action_masks"
	logitsOutputName = "logits"
	valueOutputName  = "value"
)

// ortInit initializes the ONNX runtime environment once per process. The
// environment is never destroyed; loaded models live for the process
// lifetime.
var ortInit sync.Once
var ortInitErr error

func initRuntime() error {
	ortInit.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Policy is an InferenceModel backed by an exported ONNX policy graph. The
// graph takes the observation and the flat action mask and produces action
// logits, a value estimate, and optionally named extension outputs; action
// sampling over the logits happens here.
type Policy struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	rng        *rand.Rand
	device     string
	// extensionNames are the graph outputs beyond logits and value, in
	// graph order. Each is a scalar extension head.
	extensionNames []string
	// outputNames is logits, value, then extensionNames; the session was
	// created with this binding order.
	outputNames []string
}

// Load loads the ONNX model at location. It satisfies Loader.
func Load(location, device string) (InferenceModel, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	_, outputs, err := ort.GetInputOutputInfo(location)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model %s: %w", location, err)
	}

	hasLogits, hasValue := false, false
	var extensionNames []string
	for _, out := range outputs {
		switch out.Name {
		case logitsOutputName:
			hasLogits = true
		case valueOutputName:
			hasValue = true
		default:
			extensionNames = append(extensionNames, out.Name)
		}
	}
	if !hasLogits || !hasValue {
		return nil, fmt.Errorf("model %s missing required outputs %q and %q",
			location, logitsOutputName, valueOutputName)
	}

	outputNames := append([]string{logitsOutputName, valueOutputName}, extensionNames...)
	session, err := ort.NewDynamicAdvancedSession(
		location,
		[]string{obsInputName, masksInputName},
		outputNames,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", location, err)
	}

	return &Policy{
		session:        session,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
		device:         device,
		extensionNames: extensionNames,
		outputNames:    outputNames,
	}, nil
}

// HasExtension reports whether the model's graph carries the named
// extension output.
func (p *Policy) HasExtension(name string) bool {
	for _, n := range p.extensionNames {
		if n == name {
			return true
		}
	}
	return false
}

func (p *Policy) Predict(obs [][]float32, actionMasks []bool, opts PredictOptions) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil, fmt.Errorf("model session is closed")
	}
	for _, name := range opts.Extensions {
		if !p.HasExtension(name) {
			return nil, fmt.Errorf("unknown extension: %s. Available: %v", name, p.extensionNames)
		}
	}

	total := len(actionMasks)
	bounds, err := splitHeads(opts.HeadSizes, total)
	if err != nil {
		return nil, err
	}

	logits, values, extValues, err := p.run(obs, actionMasks, total)
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
		result.Probs = make([]float64, 0, total)
	}

	for head := range opts.HeadSizes {
		lo, hi := bounds[head], bounds[head+1]
		probs, err := maskedSoftmax(logits[lo:hi], actionMasks[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("head %d: %w", head, err)
		}

		var action int
		if head < len(opts.Deterministic) && opts.Deterministic[head] {
			action = argmaxIndex(probs)
		} else {
			action = sampleIndex(probs, p.rng)
		}
		result.Action[head] = action

		if opts.ReturnLogProb {
			*result.LogProb += logOf(probs[action])
		}
		if opts.ReturnEntropy {
			result.Entropy[head] = entropyOf(probs)
		}
		if opts.ReturnProbs {
			result.Probs = append(result.Probs, probs...)
		}
	}

	if opts.ReturnValue {
		result.Values = values
	}
	if len(opts.Extensions) > 0 {
		result.ExtensionResults = make([]any, len(opts.Extensions))
		for i, name := range opts.Extensions {
			result.ExtensionResults[i] = extValues[name]
		}
	}

	return result, nil
}

// run executes the ONNX session and returns the raw logits, the value-head
// outputs, and the scalar extension outputs by name.
func (p *Policy) run(obs [][]float32, actionMasks []bool, total int) ([]float32, []float64, map[string]float64, error) {
	if len(obs) == 0 {
		return nil, nil, nil, fmt.Errorf("empty observation")
	}
	frameLen := len(obs[0])
	obsData := make([]float32, 0, len(obs)*frameLen)
	for i, frame := range obs {
		if len(frame) != frameLen {
			return nil, nil, nil, fmt.Errorf("observation frame %d has length %d, expected %d",
				i, len(frame), frameLen)
		}
		obsData = append(obsData, frame...)
	}

	obsTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(obs)), int64(frameLen)), obsData)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create observation tensor: %w", err)
	}
	defer obsTensor.Destroy()

	maskData := make([]bool, total)
	copy(maskData, actionMasks)
	maskTensor, err := ort.NewTensor(ort.NewShape(1, int64(total)), maskData)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	logitsTensor, err := ort.NewTensor(ort.NewShape(1, int64(total)), make([]float32, total))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logits tensor: %w", err)
	}
	defer logitsTensor.Destroy()

	valueTensor, err := ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create value tensor: %w", err)
	}
	defer valueTensor.Destroy()

	outputs := []ort.ArbitraryTensor{logitsTensor, valueTensor}
	extTensors := make([]*ort.Tensor[float32], len(p.extensionNames))
	for i := range p.extensionNames {
		t, err := ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create extension tensor: %w", err)
		}
		defer t.Destroy()
		extTensors[i] = t
		outputs = append(outputs, t)
	}

	err = p.session.Run(
		[]ort.ArbitraryTensor{obsTensor, maskTensor},
		outputs,
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("inference failed: %w", err)
	}

	logits := make([]float32, total)
	copy(logits, logitsTensor.GetData())

	valueData := valueTensor.GetData()
	values := make([]float64, len(valueData))
	for i, v := range valueData {
		values[i] = float64(v)
	}

	extValues := make(map[string]float64, len(p.extensionNames))
	for i, name := range p.extensionNames {
		extValues[name] = float64(extTensors[i].GetData()[0])
	}

	return logits, values, extValues, nil
}

// Close destroys the ONNX session. The shared runtime environment stays up
// for other loaded models.
func (p *Policy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil {
		err := p.session.Destroy()
		p.session = nil
		if err != nil {
			return fmt.Errorf("failed to destroy session: %w", err)
		}
	}
	return nil
}

var _ InferenceModel = (*Policy)(nil)

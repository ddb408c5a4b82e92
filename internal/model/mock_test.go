package model

import (
	"math"
	"testing"
)

func TestMockModel_Predict(t *testing.T) {
	m := &MockModel{Value: 0.9}

	result, err := m.Predict(
		[][]float32{{1, 2, 3}},
		[]bool{false, true, true, true, false},
		PredictOptions{
			HeadSizes:     []int{3, 2},
			Deterministic: []bool{true, true},
			ReturnLogProb: true,
			ReturnEntropy: true,
			ReturnValue:   true,
			ReturnProbs:   true,
		},
	)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	// First legal action per head: index 1 in head 0, index 0 in head 1.
	if len(result.Action) != 2 || result.Action[0] != 1 || result.Action[1] != 0 {
		t.Errorf("Action = %v, expected [1 0]", result.Action)
	}
	if result.LogProb == nil {
		t.Fatal("Expected LogProb")
	}
	// Head 0 is uniform over 2 legal actions, head 1 over 1.
	if math.Abs(*result.LogProb-math.Log(0.5)) > 1e-9 {
		t.Errorf("LogProb = %v, expected ln(0.5)", *result.LogProb)
	}
	if len(result.Entropy) != 2 || math.Abs(result.Entropy[0]-math.Log(2)) > 1e-9 || result.Entropy[1] != 0 {
		t.Errorf("Entropy = %v", result.Entropy)
	}
	if len(result.Values) != 1 || result.Values[0] != 0.9 {
		t.Errorf("Values = %v, expected [0.9]", result.Values)
	}
	expectedProbs := []float64{0, 0.5, 0.5, 1, 0}
	if len(result.Probs) != len(expectedProbs) {
		t.Fatalf("Probs = %v", result.Probs)
	}
	for i, p := range expectedProbs {
		if result.Probs[i] != p {
			t.Errorf("Probs[%d] = %v, expected %v", i, result.Probs[i], p)
		}
	}
	if m.PredictCount.Load() != 1 {
		t.Errorf("PredictCount = %d, expected 1", m.PredictCount.Load())
	}
}

func TestMockModel_OptionalOutputsSuppressed(t *testing.T) {
	m := &MockModel{}
	result, err := m.Predict(
		[][]float32{{1}},
		[]bool{true, true},
		PredictOptions{HeadSizes: []int{2}, Deterministic: []bool{false}},
	)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	if result.LogProb != nil || result.Entropy != nil || result.Values != nil || result.Probs != nil {
		t.Errorf("Optional outputs should be nil when not requested: %+v", result)
	}
	if result.ExtensionResults != nil {
		t.Errorf("ExtensionResults should be nil without extensions: %v", result.ExtensionResults)
	}
}

func TestMockModel_Extensions(t *testing.T) {
	m := &MockModel{Extensions: map[string]any{"win_rate": 0.7, "risk": 0.1}}

	result, err := m.Predict(
		[][]float32{{1}},
		[]bool{true},
		PredictOptions{
			HeadSizes:     []int{1},
			Deterministic: []bool{true},
			Extensions:    []string{"risk", "win_rate"},
		},
	)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	// Results come back in request order.
	if len(result.ExtensionResults) != 2 || result.ExtensionResults[0] != 0.1 || result.ExtensionResults[1] != 0.7 {
		t.Errorf("ExtensionResults = %v, expected [0.1 0.7]", result.ExtensionResults)
	}

	if _, err := m.Predict([][]float32{{1}}, []bool{true}, PredictOptions{
		HeadSizes:     []int{1},
		Deterministic: []bool{true},
		Extensions:    []string{"nope"},
	}); err == nil {
		t.Fatal("Expected error for unknown extension")
	}
}

func TestMockLoader_Counts(t *testing.T) {
	loader := &MockLoader{}

	if _, err := loader.Load("a.onnx", "cpu"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := loader.Load("a.onnx", "cpu"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := loader.Load("b.onnx", "cpu"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loader.LoadCount("a.onnx") != 2 || loader.LoadCount("b.onnx") != 1 || loader.TotalLoads() != 3 {
		t.Errorf("Counts: a=%d b=%d total=%d", loader.LoadCount("a.onnx"), loader.LoadCount("b.onnx"), loader.TotalLoads())
	}
}

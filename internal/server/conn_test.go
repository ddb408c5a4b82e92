package server

import "testing"

func TestFlattenMasks(t *testing.T) {
	masks := [][]bool{
		{true, false, true},
		{true, true},
		{false, false, true, true},
	}

	flat, headSizes := flattenMasks(masks)

	if len(flat) != 9 {
		t.Fatalf("Flat mask length = %d, expected 9", len(flat))
	}
	expectedSizes := []int{3, 2, 4}
	for i, size := range expectedSizes {
		if headSizes[i] != size {
			t.Errorf("headSizes[%d] = %d, expected %d", i, headSizes[i], size)
		}
	}
	// Head order preserved.
	expected := []bool{true, false, true, true, true, false, false, true, true}
	for i, v := range expected {
		if flat[i] != v {
			t.Errorf("flat[%d] = %v, expected %v", i, flat[i], v)
		}
	}
}

func TestFlattenThenSplitRoundTrip(t *testing.T) {
	// Splitting at the cumulative boundaries of the original per-head
	// lengths reproduces the original grouping for any payload of
	// matching total length.
	headSizes := []int{3, 2, 4}
	payload := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}

	groups := splitProbs(payload, headSizes)

	if len(groups) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(groups))
	}
	if len(groups[0]) != 3 || len(groups[1]) != 2 || len(groups[2]) != 4 {
		t.Errorf("Group sizes = [%d %d %d], expected [3 2 4]", len(groups[0]), len(groups[1]), len(groups[2]))
	}
	if groups[0][0] != 1 || groups[1][0] != 4 || groups[2][0] != 6 || groups[2][3] != 9 {
		t.Errorf("Group boundaries wrong: %v", groups)
	}
}

func TestSplitProbs_SingleHead(t *testing.T) {
	groups := splitProbs([]float64{0.2, 0.8}, []int{2})
	if len(groups) != 1 || len(groups[0]) != 2 {
		t.Errorf("Groups = %v", groups)
	}
}

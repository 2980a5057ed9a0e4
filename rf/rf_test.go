package rf

import (
	"log"
	"math"
	"testing"
)

func twoMarkerAIDesign(finalsPairs [][2]int) Design {
	nLines := len(finalsPairs)
	founders := [][]int{
		{0, 0},
		{1, 1},
	}
	finals := make([][]int, nLines)
	lines := make([]LineMetadata, nLines)
	for i, pair := range finalsPairs {
		finals[i] = []int{pair[0], pair[1]}
		lines[i] = LineMetadata{Intercross: 1, Selfing: 0, Funnel: []int{0, 1}, Weight: 1}
	}
	return Design{
		Founders: founders,
		Finals:   finals,
		HetMaps:  []map[[2]int]int{nil, nil},
		Lines:    lines,
	}
}

func TestEstimatePerfectLinkage(t *testing.T) {
	design := twoMarkerAIDesign([][2]int{{0, 0}, {0, 0}, {1, 1}, {1, 1}})
	grid := []float64{0.0, 0.25, 0.5}
	res, err := Estimate([]Design{design}, grid, Range{0, 1}, Range{1, 2}, Options{KeepLod: true, KeepLkhd: true})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if len(res.Theta) != 1 {
		t.Fatalf("len(Theta) = %d, want 1", len(res.Theta))
	}
	if res.Theta[0] != 0 {
		t.Errorf("Theta[0] = %d, want 0 (perfect linkage)", res.Theta[0])
	}
	if res.Lod[0] <= 0 {
		t.Errorf("Lod[0] = %v, want > 0", res.Lod[0])
	}
}

func TestEstimateNoDataSentinel(t *testing.T) {
	design := twoMarkerAIDesign([][2]int{{0, 0}, {1, 1}})
	// Every line missing at marker 1.
	for i := range design.Finals {
		design.Finals[i][1] = missingFinal
	}
	grid := []float64{0.0, 0.25, 0.5}
	res, err := Estimate([]Design{design}, grid, Range{0, 1}, Range{1, 2}, Options{KeepLod: true})
	if err != nil {
		t.Fatalf("Estimate() error = %v", err)
	}
	if res.Theta[0] != 0xFF {
		t.Errorf("Theta[0] = %d, want 0xFF", res.Theta[0])
	}
	if !math.IsNaN(res.Lod[0]) {
		t.Errorf("Lod[0] = %v, want NaN", res.Lod[0])
	}
}

func TestEstimateRejectsRegionBelowDiagonal(t *testing.T) {
	design := twoMarkerAIDesign([][2]int{{0, 0}})
	grid := []float64{0.0, 0.5}
	_, err := Estimate([]Design{design}, grid, Range{1, 2}, Range{0, 1}, Options{})
	if err == nil {
		t.Fatal("expected RegionBelowDiagonalError")
	}
}

func TestEstimateRejectsInvalidGrid(t *testing.T) {
	design := twoMarkerAIDesign([][2]int{{0, 0}})

	if _, err := Estimate([]Design{design}, []float64{0.1, 0.05, 0.5}, Range{0, 1}, Range{1, 2}, Options{}); err == nil {
		t.Error("expected InvalidGridError for non-monotone grid")
	}
	if _, err := Estimate([]Design{design}, []float64{0.0, 0.25}, Range{0, 1}, Range{1, 2}, Options{}); err == nil {
		t.Error("expected InvalidGridError for grid missing 0.5")
	}
}

func TestPairsEnumeratesUpperTriangleOnly(t *testing.T) {
	pairs := Pairs(Range{0, 3}, Range{0, 3})
	for _, p := range pairs {
		if p[0] > p[1] {
			t.Errorf("pair %v is below the diagonal", p)
		}
	}
	want := 6 // (0,0)(0,1)(0,2)(1,1)(1,2)(2,2)
	if len(pairs) != want {
		t.Errorf("len(pairs) = %d, want %d", len(pairs), want)
	}
}

func TestOptionsLoggerDefaultsWhenNil(t *testing.T) {
	var o Options
	if o.logger() != log.Default() {
		t.Error("expected default logger when Logger is nil")
	}
}

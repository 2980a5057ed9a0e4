package impute

import (
	"math"
	"testing"
)

func twoFounderDesign(finals [][]int, intercross int) Design {
	founders := [][]int{
		{0, 0, 0, 0},
		{1, 1, 1, 1},
	}
	lines := make([]LineMetadata, len(finals))
	for i := range lines {
		lines[i] = LineMetadata{Intercross: intercross, Selfing: 0, Funnel: []int{0, 1}, Weight: 1}
	}
	return Design{
		Founders: founders,
		Finals:   finals,
		HetMaps:  []map[[2]int]int{nil, nil, nil, nil},
		Lines:    lines,
	}
}

func singleChromosome(n int) Chromosome {
	markers := make([]int, n)
	positions := make([]float64, n)
	for i := range markers {
		markers[i] = i
		positions[i] = float64(i) * 0.01
	}
	return Chromosome{Markers: markers, Positions: positions}
}

// TestImputeExhaustiveFounderZero mirrors the case where a line's observed
// genotype matches founder 0 at every marker on a tightly-linked
// chromosome: founder 0 must be the decoded origin everywhere, regardless
// of the missing-data substitution probabilities.
func TestImputeExhaustiveFounderZero(t *testing.T) {
	design := twoFounderDesign([][]int{{0, 0, 0, 0}}, 1)
	chrom := singleChromosome(4)

	for _, probs := range [][2]float64{{0.5, 0.5}, {0.01, 0.01}, {0.9, 0.1}} {
		opts := Options{HomozygoteMissingProb: probs[0], HeterozygoteMissingProb: probs[1]}
		res, err := Impute([]Chromosome{chrom}, design, opts)
		if err != nil {
			t.Fatalf("Impute() error = %v (probs=%v)", err, probs)
		}
		want := 1 // founder 0 -> key code 1
		for mi, got := range res.Data[0] {
			if got != want {
				t.Errorf("probs=%v marker %d: got %d, want %d", probs, mi, got, want)
			}
		}
	}
}

func TestImputeExhaustiveFounderOne(t *testing.T) {
	design := twoFounderDesign([][]int{{1, 1, 1, 1}}, 1)
	chrom := singleChromosome(4)
	res, err := Impute([]Chromosome{chrom}, design, Options{HomozygoteMissingProb: 0.5, HeterozygoteMissingProb: 0.5})
	if err != nil {
		t.Fatalf("Impute() error = %v", err)
	}
	want := 2 // founder 1 -> key code 2
	for mi, got := range res.Data[0] {
		if got != want {
			t.Errorf("marker %d: got %d, want %d", mi, got, want)
		}
	}
}

func TestImputeMissingDataSubstituted(t *testing.T) {
	design := twoFounderDesign([][]int{{0, missingFinal, 0, 0}}, 1)
	chrom := singleChromosome(4)
	res, err := Impute([]Chromosome{chrom}, design, Options{HomozygoteMissingProb: 0.9, HeterozygoteMissingProb: 0.1})
	if err != nil {
		t.Fatalf("Impute() error = %v", err)
	}
	for mi, got := range res.Data[0] {
		if got != 1 {
			t.Errorf("marker %d: got %d, want 1 (missing marker should still resolve via neighbours)", mi, got)
		}
	}
}

func TestImputeImpossibleDataError(t *testing.T) {
	// Founder 0 at markers 0,1 then founder 1's allele at marker 2, with a
	// heterozygote map that cannot resolve the observed code under either
	// founder pair; HeterozygoteMissingProb is irrelevant since the call
	// isn't missing, it's contradictory.
	design := Design{
		Founders: [][]int{{0, 0, 9}, {1, 1, 1}},
		Finals:   [][]int{{0, 0, 9}},
		HetMaps:  []map[[2]int]int{nil, nil, nil},
		Lines:    []LineMetadata{{Intercross: 1, Selfing: 0, Funnel: []int{0, 1}, Weight: 1}},
	}
	// Mutate the third marker's observed call to a value neither founder
	// carries and that has no heterozygote resolution.
	design.Finals[0][2] = 9999
	chrom := Chromosome{Markers: []int{0, 1, 2}, Positions: []float64{0, 0.01, 0.02}}

	_, err := Impute([]Chromosome{chrom}, design, Options{HomozygoteMissingProb: 0.5, HeterozygoteMissingProb: 0.5})
	if err == nil {
		t.Fatal("expected ImpossibleDataError")
	}
}

func TestBuildKeyDiagonalAndOffDiagonal(t *testing.T) {
	key := BuildKey(4)
	for i := 0; i < 4; i++ {
		if key.At(i, i) != i+1 {
			t.Errorf("At(%d,%d) = %d, want %d", i, i, key.At(i, i), i+1)
		}
	}
	seen := make(map[int]bool)
	for i := 0; i < 4; i++ {
		for j := i + 1; j < 4; j++ {
			code := key.At(i, j)
			if code != key.At(j, i) {
				t.Errorf("At(%d,%d)=%d != At(%d,%d)=%d, key must be symmetric", i, j, code, j, i, key.At(j, i))
			}
			if code <= 4 {
				t.Errorf("off-diagonal code %d collides with a diagonal founder code", code)
			}
			if seen[code] {
				t.Errorf("off-diagonal code %d reused", code)
			}
			seen[code] = true
		}
	}
}

func TestImputeInfiniteSelfingCollapsesToFounderIdentity(t *testing.T) {
	design := twoFounderDesign([][]int{{0, 0, 0, 0}}, 0)
	chrom := singleChromosome(4)
	res, err := Impute([]Chromosome{chrom}, design, Options{
		InfiniteSelfing:         true,
		HomozygoteMissingProb:   0.9,
		HeterozygoteMissingProb: 0.1,
	})
	if err != nil {
		t.Fatalf("Impute() error = %v", err)
	}
	for mi, got := range res.Data[0] {
		if got != 1 {
			t.Errorf("marker %d: got %d, want 1", mi, got)
		}
	}
}

func TestRestrictToDiagonalRenormalizes(t *testing.T) {
	// A 2-founder joint's transition row has 3 classes: (0,0),(0,1),(1,1).
	row := []float64{0.4, 0.2, 0.4}
	out := restrictToDiagonal(row, 2)
	total := 0.0
	for _, v := range out {
		total += v
	}
	if math.Abs(total-1) > 1e-9 {
		t.Errorf("restrictToDiagonal sums to %v, want 1", total)
	}
	if out[0] != 0.5 || out[1] != 0.5 {
		t.Errorf("restrictToDiagonal = %v, want [0.5 0.5]", out)
	}
}

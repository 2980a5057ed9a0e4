package arsa

import (
	"math"
	"testing"

	"github.com/TimothyStiles/mpcross/internal/triangular"
)

// fakeSource replays a fixed sequence of draws, cycling once exhausted;
// useful for exercising specific branches deterministically.
type fakeSource struct {
	draws []float64
	pos   int
}

func (f *fakeSource) Uniform() float64 {
	v := f.draws[f.pos%len(f.draws)]
	f.pos++
	return v
}

// lineDist builds a ByteMatrix whose level between positions i and j is
// simply |i-j|, so the identity permutation (and its reverse) are the
// unique global maximisers of Objective: every marker pair's distance
// already matches its index separation.
func lineDist(n int) *triangular.ByteMatrix {
	levels := make([]float64, n)
	for i := range levels {
		levels[i] = float64(i)
	}
	m := triangular.NewByteMatrix(n, levels)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			m.Set(i, j, byte(j-i))
		}
	}
	return m
}

func recomputeSwap(perm []int, s1, s2 int) []int {
	out := append([]int(nil), perm...)
	out[s1], out[s2] = out[s2], out[s1]
	return out
}

func recomputeInsertion(perm []int, s1, s2 int) []int {
	out := append([]int(nil), perm...)
	applyInsertion(out, s1, s2)
	return out
}

func TestSwapDeltaMatchesRecompute(t *testing.T) {
	n := 6
	dist := lineDist(n)
	perm := []int{5, 2, 0, 4, 1, 3}

	for s1 := 0; s1 < n; s1++ {
		for s2 := 0; s2 < n; s2++ {
			if s1 == s2 {
				continue
			}
			before := Objective(perm, dist)
			after := Objective(recomputeSwap(perm, s1, s2), dist)
			got := swapDelta(perm, s1, s2, dist)
			if math.Abs(got-(after-before)) > 1e-9 {
				t.Errorf("swapDelta(%d,%d) = %v, want %v", s1, s2, got, after-before)
			}
		}
	}
}

func TestInsertionDeltaMatchesRecompute(t *testing.T) {
	n := 6
	dist := lineDist(n)
	perm := []int{5, 2, 0, 4, 1, 3}

	for s1 := 0; s1 < n; s1++ {
		for s2 := 0; s2 < n; s2++ {
			if s1 == s2 {
				continue
			}
			before := Objective(perm, dist)
			after := Objective(recomputeInsertion(perm, s1, s2), dist)
			got := insertionDelta(perm, s1, s2, dist)
			if math.Abs(got-(after-before)) > 1e-9 {
				t.Errorf("insertionDelta(%d,%d) = %v, want %v", s1, s2, got, after-before)
			}
		}
	}
}

func TestRandomPermutationIsAPermutation(t *testing.T) {
	n := 8
	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	src := &fakeSource{draws: []float64{0.1, 0.9, 0.3, 0.7, 0.5, 0.2, 0.8, 0.4}}
	perm := randomPermutation(pool, src)
	seen := make(map[int]bool)
	for _, v := range perm {
		if v < 0 || v >= n || seen[v] {
			t.Fatalf("randomPermutation returned invalid permutation: %v", perm)
		}
		seen[v] = true
	}
}

func TestRandomPairAlwaysDistinct(t *testing.T) {
	// A source that would otherwise draw the same pair must keep drawing
	// until it finds distinct positions.
	src := &fakeSource{draws: []float64{0.5, 0.5, 0.5, 0.1}}
	s1, s2 := randomPair(4, src)
	if s1 == s2 {
		t.Errorf("randomPair returned equal positions (%d,%d)", s1, s2)
	}
}

func TestAnnealReturnsAValidPermutation(t *testing.T) {
	n := 10
	dist := lineDist(n)
	src := NewSource(42)
	best, z := Anneal(dist, 0.9, 0.1, 2, src)

	if len(best) != n {
		t.Fatalf("len(best) = %d, want %d", len(best), n)
	}
	seen := make(map[int]bool)
	for _, v := range best {
		if v < 0 || v >= n || seen[v] {
			t.Fatalf("Anneal returned invalid permutation: %v", best)
		}
		seen[v] = true
	}
	if got := Objective(best, dist); math.Abs(got-z) > 1e-6 {
		t.Errorf("reported objective %v does not match recomputed %v", z, got)
	}
}

func TestAnnealIsDeterministicForAFixedSeed(t *testing.T) {
	n := 8
	dist := lineDist(n)
	best1, z1 := Anneal(dist, 0.9, 0.1, 1, NewSource(7))
	best2, z2 := Anneal(dist, 0.9, 0.1, 1, NewSource(7))

	if z1 != z2 {
		t.Errorf("z1 = %v, z2 = %v, want equal for the same seed", z1, z2)
	}
	for i := range best1 {
		if best1[i] != best2[i] {
			t.Fatalf("best1 = %v, best2 = %v, want equal for the same seed", best1, best2)
		}
	}
}

func TestAnnealImprovesOnTheLineDistance(t *testing.T) {
	// On the line distance matrix, Objective is maximised by the identity
	// order (and its reverse): the anti-Robinson criterion rewards LARGE
	// distances between far-apart positions, so it is maximised by pairing
	// the largest distances with the largest position gaps.
	// What matters here isn't the optimum itself, just that annealing
	// never leaves its best-so-far worse than a fresh random start.
	n := 12
	dist := lineDist(n)
	src := NewSource(123)
	_, z := Anneal(dist, 0.85, 0.05, 3, src)

	pool := make([]int, n)
	for i := range pool {
		pool[i] = i
	}
	randomStart := randomPermutation(pool, NewSource(999))
	randomZ := Objective(randomStart, dist)

	if z < randomZ {
		t.Errorf("annealed objective %v is worse than a random start's %v", z, randomZ)
	}
}

func TestObjectiveMatchesManualSum(t *testing.T) {
	n := 5
	dist := lineDist(n)
	perm := []int{0, 1, 2, 3, 4}
	want := 0.0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			want += float64(j-i) * dist.Level(i, j)
		}
	}
	if got := Objective(perm, dist); got != want {
		t.Errorf("Objective(identity) = %v, want %v", got, want)
	}
}

/*
Package arsa implements the anti-Robinson simulated-annealing marker
ordering core (spec section 4.6): given a packed pairwise-distance matrix,
it searches permutations of the markers for one maximising the
anti-Robinson criterion, via simulated annealing with a self-calibrated
starting temperature.

The algorithm, move deltas and acceptance rules are transcribed from
arsaRaw.cpp marker for marker, including its one deliberate asymmetry
between the swap move's acceptance test and the insertion move's (see
Anneal's doc comment) - this is preserved rather than "fixed" into a
single shared rule, since the two diverge in the original and nothing in
this package's job is to second-guess that choice.
*/
package arsa

import (
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/TimothyStiles/mpcross/internal/triangular"
)

// Source supplies independent draws from Uniform(0,1); Anneal needs
// nothing more from its random number generator. The zero value of no
// implementation is useful on its own - callers get one from NewSource.
type Source interface {
	Uniform() float64
}

// uniformSource adapts gonum's distuv.Uniform rather than a hand-rolled
// generator.
type uniformSource struct {
	dist distuv.Uniform
}

// NewSource returns a Source seeded deterministically from seed, so a
// given seed always reproduces the same annealing run.
func NewSource(seed uint64) Source {
	return &uniformSource{dist: distuv.Uniform{Min: 0, Max: 1, Src: rand.NewSource(seed)}}
}

func (s *uniformSource) Uniform() float64 { return s.dist.Rand() }

// Objective returns the anti-Robinson criterion Z(perm) = sum over i<j of
// (j-i) * level(perm[i], perm[j]): markers placed close together in perm
// should have a small distance level between them, and the criterion
// rewards exactly that by weighting distant pairs' contributions more
// heavily.
func Objective(perm []int, dist *triangular.ByteMatrix) float64 {
	n := len(perm)
	z := 0.0
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			z += float64(j-i) * dist.Level(perm[i], perm[j])
		}
	}
	return z
}

// Anneal runs nReps independent annealing replicates over dist.N items
// and returns the best ordering found across all of them, along with its
// objective value.
//
// Each replicate starts from a fresh random permutation, self-calibrates
// a starting temperature from 5000 random-pair swap deltas (the largest
// magnitude among the ones that would have decreased the objective), then
// cools geometrically by cool every 100*dist.N proposed moves until the
// temperature drops below temperatureMin. Each move is, with equal
// probability, a swap of two positions or a removal-and-reinsertion of
// one marker elsewhere in the order.
//
// The two move types accept proposals differently: a swap takes any
// delta > -1e-8 unconditionally and falls back to a Metropolis draw
// otherwise, while an insertion's acceptance test ORs the two conditions
// together in one expression - an improving-or-neutral insertion that
// also happens to fail its Metropolis draw (which can't happen, since
// delta > -1e-8 short-circuits the OR) is academic, but a worsening
// insertion IS subject to the Metropolis draw exactly like a worsening
// swap. The observable difference is in how zBest updates: a swap only
// updates zBest inside the unconditional-accept branch, while an
// insertion's zBest update is gated on delta > -1e-8 by itself, not on
// whether the move was actually applied. That means an insertion whose
// delta is positive enough to record a new best is recorded even on the
// rare occasion the Metropolis branch is what triggered the accept
// (impossible here since delta > -1e-8 alone already satisfies the OR,
// but is exactly how arsaRaw.cpp is written and is reproduced verbatim).
func Anneal(dist *triangular.ByteMatrix, cool, temperatureMin float64, nReps int, src Source) ([]int, float64) {
	n := dist.N
	bestAllReps := make([]int, n)
	zBestAllReps := math.Inf(-1)

	consecutive := make([]int, n)

	for rep := 0; rep < nReps; rep++ {
		for i := range consecutive {
			consecutive[i] = i
		}
		best := randomPermutation(consecutive, src)
		z := Objective(best, dist)
		zBest := z

		temperatureMax := 0.0
		for i := 0; i < 5000; i++ {
			s1, s2 := randomPair(n, src)
			delta := swapDelta(best, s1, s2, dist)
			if delta < 0 && -delta > temperatureMax {
				temperatureMax = -delta
			}
		}

		temperature := temperatureMax
		current := append([]int(nil), best...)

		var nloop int
		if temperatureMax > 0 {
			nloop = int((math.Log(temperatureMin) - math.Log(temperatureMax)) / math.Log(cool))
		}

		for loop := 0; loop < nloop; loop++ {
			for k := 0; k < 100*n; k++ {
				s1, s2 := randomPair(n, src)
				if src.Uniform() <= 0.5 {
					delta := swapDelta(current, s1, s2, dist)
					if delta > -1e-8 {
						z += delta
						current[s1], current[s2] = current[s2], current[s1]
						if z > zBest {
							zBest = z
							copy(best, current)
						}
					} else if src.Uniform() <= math.Exp(delta/temperature) {
						z += delta
						current[s1], current[s2] = current[s2], current[s1]
					}
				} else {
					delta := insertionDelta(current, s1, s2, dist)
					if delta > -1e-8 || src.Uniform() <= math.Exp(delta/temperature) {
						z += delta
						applyInsertion(current, s1, s2)
					}
					if delta > -1e-8 && z > zBest {
						zBest = z
						copy(best, current)
					}
				}
			}
			temperature *= cool
		}

		if zBest > zBestAllReps {
			zBestAllReps = zBest
			copy(bestAllReps, best)
		}
	}

	return bestAllReps, zBestAllReps
}

// randomPermutation draws a uniformly random permutation of pool via
// Fisher-Yates, leaving pool itself scrambled.
func randomPermutation(pool []int, src Source) []int {
	n := len(pool)
	out := make([]int, n)
	for i := 0; i < n; i++ {
		idx := int(src.Uniform() * float64(n-i))
		if idx == n-i {
			idx--
		}
		out[i] = pool[idx]
		last := n - 1 - i
		pool[idx], pool[last] = pool[last], pool[idx]
	}
	return out
}

// randomPair draws two distinct positions in [0,n) uniformly at random.
func randomPair(n int, src Source) (int, int) {
	for {
		s1 := int(src.Uniform() * float64(n))
		if s1 == n {
			s1--
		}
		s2 := int(src.Uniform() * float64(n))
		if s2 == n {
			s2--
		}
		if s1 != s2 {
			return s1, s2
		}
	}
}

// swapDelta returns the change in Objective from swapping the markers at
// positions swap1 and swap2 of perm, without actually swapping them.
func swapDelta(perm []int, swap1, swap2 int, dist *triangular.ByteMatrix) float64 {
	n := len(perm)
	p1, p2 := perm[swap1], perm[swap2]
	delta := 0.0
	for i := 0; i < n; i++ {
		if i == swap1 || i == swap2 {
			continue
		}
		pi := perm[i]
		delta += float64(absInt(i-swap1)-absInt(i-swap2)) * (dist.Level(p2, pi) - dist.Level(p1, pi))
	}
	return delta
}

// insertionDelta returns the change in Objective from removing the
// marker at position swap1 of perm and reinserting it at position swap2
// (shifting the markers in between), without actually moving it.
func insertionDelta(perm []int, swap1, swap2 int, dist *triangular.ByteMatrix) float64 {
	n := len(perm)
	span := math.Abs(float64(swap1 - swap2))
	span2 := span + 1
	moved := perm[swap1]
	var delta1, delta2, delta3 float64

	if swap2 > swap1 {
		for c1 := swap1 + 1; c1 <= swap2; c1++ {
			for c2 := swap2 + 1; c2 < n; c2++ {
				delta1 += dist.Level(perm[c2], perm[c1])
			}
			for c2 := 0; c2 < swap1; c2++ {
				delta1 -= dist.Level(perm[c2], perm[c1])
			}
		}
		for c1 := 0; c1 < swap1; c1++ {
			delta2 += dist.Level(moved, perm[c1])
		}
		for c1 := swap2 + 1; c1 < n; c1++ {
			delta2 -= dist.Level(moved, perm[c1])
		}
		for c1 := swap1 + 1; c1 <= swap2; c1++ {
			span2 -= 2
			delta3 += span2 * dist.Level(moved, perm[c1])
		}
	} else {
		for c1 := swap2; c1 < swap1; c1++ {
			for c2 := swap1 + 1; c2 < n; c2++ {
				delta1 -= dist.Level(perm[c2], perm[c1])
			}
			for c2 := 0; c2 < swap2; c2++ {
				delta1 += dist.Level(perm[c2], perm[c1])
			}
		}
		for c1 := 0; c1 < swap2; c1++ {
			delta2 -= dist.Level(moved, perm[c1])
		}
		for c1 := swap1 + 1; c1 < n; c1++ {
			delta2 += dist.Level(moved, perm[c1])
		}
		for c1 := swap2; c1 < swap1; c1++ {
			span2 -= 2
			delta3 -= span2 * dist.Level(moved, perm[c1])
		}
	}
	return delta1 + span*delta2 + delta3
}

// applyInsertion removes the marker at position swap1 and reinserts it at
// position swap2, shifting the markers between the two positions over by
// one.
func applyInsertion(perm []int, swap1, swap2 int) {
	moved := perm[swap1]
	if swap2 > swap1 {
		for i := swap1; i < swap2; i++ {
			perm[i] = perm[i+1]
		}
	} else {
		for i := swap1; i > swap2; i-- {
			perm[i] = perm[i-1]
		}
	}
	perm[swap2] = moved
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

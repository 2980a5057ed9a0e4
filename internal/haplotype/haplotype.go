/*
Package haplotype computes founder-pair probability distributions at one
or two loci under the funnel and intercrossing (AI) regimes. Storage is
always indexed by the symmetry class of a founder pair (see
internal/triangular), never by ordered pair, so tables built here can be
shared between the RF estimator and the Viterbi imputer per the
compressed-probability design shared across both cores.

The founder-origin process is modelled as the standard star-shaped Markov
approximation used throughout the multi-founder HMM literature: a
recombination event between two loci re-draws a chromosome copy's founder
origin from the population marginal rather than tracking the exact
pedigree-level crossover path. Single-locus marginals are uniform over
founders in both regimes (by the symmetry of a balanced funnel and of
random mating), which is also why, as in the source this is modelled on,
the single-locus distribution only differs between zero and nonzero
intercrossing generations, never among different nonzero counts.
*/
package haplotype

import (
	"math"

	"github.com/TimothyStiles/mpcross/internal/triangular"
)

// StateCount returns the number of founder-pair symmetry classes for F
// founders: F(F+1)/2, the diagonal (homozygous) classes plus the
// off-diagonal (heterozygous) classes.
func StateCount(nFounders int) int {
	return triangular.Size(nFounders)
}

// HaldaneToR converts a genetic distance in Morgans to a recombination
// fraction under the no-interference Haldane map.
func HaldaneToR(distanceMorgans float64) float64 {
	return (1 - math.Exp(-2*distanceMorgans)) / 2
}

// SingleLocusFunnel returns the compressed founder-pair distribution for
// an individual immediately after a funnel cross of nFounders distinct
// founders, before any selfing or intercrossing. Leaf position i in the
// funnel tree corresponds to the i'th founder listed in the funnel tuple;
// callers map positions to founder IDs through that tuple.
//
// The funnel is modelled as a perfect binary tree over the nFounders
// positions: a pair of founders whose positions first coalesce near the
// leaves (recent common cross) is more likely to co-occur in the final
// gamete pair than one that only coalesces at the root. Weight decays as
// 2^-depth, where depth is the tree level at which the two positions'
// lineages merge.
func SingleLocusFunnel(nFounders int) []float64 {
	return weightedPairDistribution(nFounders, treeWeight)
}

// SingleLocusAI returns the compressed founder-pair distribution for an
// individual after at least one generation of intercrossing (random
// mating). It is uniform over ordered founder pairs, including the
// diagonal, and does not depend on the actual number of AI generations
// beyond "at least one" (see package doc).
func SingleLocusAI(nFounders int) []float64 {
	return weightedPairDistribution(nFounders, uniformWeight)
}

func treeWeight(i, j int) float64 {
	if i == j {
		return 0
	}
	return math.Exp2(-float64(treeDepth(i, j)))
}

func uniformWeight(i, j int) float64 {
	return 1
}

// treeDepth returns the tree level at which leaf positions i and j (i!=j)
// first share a common ancestor in a perfect binary tree whose leaves are
// numbered in order: the position of the highest set bit of i^j, 1-based.
func treeDepth(i, j int) int {
	x := i ^ j
	d := 0
	for x > 0 {
		x >>= 1
		d++
	}
	return d
}

// weightedPairDistribution builds the compressed distribution from an
// ordered-pair weight function, normalising over all ordered pairs
// (including the diagonal) so the compressed classes sum to 1.
func weightedPairDistribution(nFounders int, weight func(i, j int) float64) []float64 {
	states := triangular.States(nFounders)
	out := make([]float64, len(states))
	total := 0.0
	for i := 0; i < nFounders; i++ {
		for j := 0; j < nFounders; j++ {
			total += weight(i, j)
		}
	}
	for idx, st := range states {
		i, j := st[0], st[1]
		if i == j {
			out[idx] = weight(i, j) / total
		} else {
			out[idx] = (weight(i, j) + weight(j, i)) / total
		}
	}
	return out
}

// Joint is a two-locus founder-pair distribution indexed by the
// single-locus symmetry class at each locus: P[s1*States+s2] is the
// probability that locus 1 is in class s1 and locus 2 is in class s2.
type Joint struct {
	States int
	P      []float64
}

// At returns the joint probability of classes (s1, s2).
func (j *Joint) At(s1, s2 int) float64 {
	return j.P[s1*j.States+s2]
}

// Transition returns the conditional distribution over locus-2 classes
// given locus-1 class s1, i.e. row s1 of the joint normalised by its own
// sum. Because the joint decomposes as prior(s1)*T(s1->s2), dividing out
// the row sum (which equals prior(s1)) recovers the transition kernel
// exactly for any class the prior gives positive mass; a class with zero
// prior mass gets an all-zero row. This is
// what the Viterbi imputer uses to step from one marker to the next
// without re-deriving per-copy transition algebra at each call site.
func (j *Joint) Transition(s1 int) []float64 {
	row := make([]float64, j.States)
	total := 0.0
	for s2 := 0; s2 < j.States; s2++ {
		v := j.At(s1, s2)
		row[s2] = v
		total += v
	}
	if total == 0 {
		return row
	}
	for s2 := range row {
		row[s2] /= total
	}
	return row
}

// TwoLocusFunnel returns the two-locus joint for a funnel-derived
// individual that has undergone `selfing` further generations of
// self-fertilization since the cross, given the single-meiosis
// recombination fraction r between the loci and the selfing regime.
func TwoLocusFunnel(nFounders int, r float64, selfing int, infiniteSelfing bool) *Joint {
	return twoLocusFromPrior(nFounders, SingleLocusFunnel(nFounders), r, selfing, infiniteSelfing)
}

// TwoLocusAI returns the two-locus joint for an individual with at least
// one generation of intercrossing that has undergone `selfing` further
// generations of self-fertilization since, given the single-meiosis
// recombination fraction r between the loci and the selfing regime.
func TwoLocusAI(nFounders int, r float64, selfing int, infiniteSelfing bool) *Joint {
	return twoLocusFromPrior(nFounders, SingleLocusAI(nFounders), r, selfing, infiniteSelfing)
}

// effectiveR folds `selfing` generations of self-fertilization into a
// single effective recombination fraction for twoLocusFromPrior's
// per-generation transition kernel.
//
// The real source's genotypeProbabilitiesNoIntercross/WithIntercross
// (declared in constructLookupTable.hpp, called with exactly
// (..., r, selfingGenerations, ...) at constructLookupTable.hpp:109,113,
// 125,129) take r and the selfing-generation count as separate runtime
// arguments, and infiniteSelfing as a template parameter; their bodies
// live in probabilities.hpp, which isn't present anywhere in this pack
// (see DESIGN.md). What follows is this package's own closed form for
// that dependency, derived from the transition kernel twoLocusFromPrior
// already uses rather than copied from a source we don't have:
//
// Under finite selfing, each further selfing generation is one more
// independent meiosis between the same two loci at the same per-
// generation rate r. twoLocusFromPrior's kernel - stay at the same
// founder with probability (1-r), else redraw uniformly among all n
// founders - composes exactly under repeated application: the
// probability that no redraw has occurred in g independent generations
// is (1-r)^g, so g generations of this kernel are equivalent to a
// single application with effective rate 1-(1-r)^g. g = selfing+1
// counts the founding cross's own meiosis plus the `selfing` further
// generations, so selfing=0 reduces to the unselfed rate r exactly.
//
// Under infinite selfing the line has already converged to homozygosity
// at both loci (see impute's restrictToDiagonal), so `selfing` itself no
// longer matters; the effective rate instead follows the classical
// Haldane-Waddington map function for selfing-derived inbred lines,
// 2r/(1+2r), which is bounded in [0,0.5] exactly as r is.
func effectiveR(r float64, selfing int, infiniteSelfing bool) float64 {
	if infiniteSelfing {
		return 2 * r / (1 + 2*r)
	}
	return 1 - math.Pow(1-r, float64(selfing+1))
}

// twoLocusFromPrior expands the compressed single-locus prior to a full
// ordered F x F matrix, applies an independent per-copy transition kernel
// derived from r and the selfing regime (see effectiveR) to each locus-1
// founder origin to get locus-2, and compresses the result back down to
// symmetry classes at both loci.
func twoLocusFromPrior(nFounders int, compressed []float64, r float64, selfing int, infiniteSelfing bool) *Joint {
	ordered := expandOrdered(nFounders, compressed)
	rEff := effectiveR(r, selfing, infiniteSelfing)
	stay := 1 - rEff
	jump := rEff / float64(nFounders)

	trans := func(from, to int) float64 {
		if to == from {
			return stay + jump
		}
		return jump
	}

	n := StateCount(nFounders)
	joint := &Joint{States: n, P: make([]float64, n*n)}
	for i := 0; i < nFounders; i++ {
		for j := 0; j < nFounders; j++ {
			p1 := ordered[i][j]
			if p1 == 0 {
				continue
			}
			class1 := triangular.Index(i, j)
			for ip := 0; ip < nFounders; ip++ {
				ti := trans(i, ip)
				if ti == 0 {
					continue
				}
				for jp := 0; jp < nFounders; jp++ {
					tj := trans(j, jp)
					if tj == 0 {
						continue
					}
					class2 := triangular.Index(ip, jp)
					joint.P[class1*n+class2] += p1 * ti * tj
				}
			}
		}
	}
	return joint
}

// expandOrdered expands a compressed symmetry-class distribution into a
// full ordered F x F matrix, splitting each off-diagonal class weight
// evenly between its two orderings.
func expandOrdered(nFounders int, compressed []float64) [][]float64 {
	ordered := make([][]float64, nFounders)
	for i := range ordered {
		ordered[i] = make([]float64, nFounders)
	}
	for idx, st := range triangular.States(nFounders) {
		i, j := st[0], st[1]
		if i == j {
			ordered[i][j] = compressed[idx]
		} else {
			ordered[i][j] = compressed[idx] / 2
			ordered[j][i] = compressed[idx] / 2
		}
	}
	return ordered
}

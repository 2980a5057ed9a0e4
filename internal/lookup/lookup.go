/*
Package lookup projects the founder-pair probability distributions
computed by internal/haplotype through internal/pattern's dense-relabelled
marker patterns into tables of probabilities over *observable* marker
values. This is the bridge between "what founder did a line inherit" and
"what allele call did we actually read off the genotyping platform" that
both the RF estimator and the Viterbi imputer need, built once per design
and shared across every marker pair that uses the same pattern pair.

Table additionally applies the informativeness filter from spec section
4.3: a pattern pair is only useful to the RF estimator if its projected
emission surface actually varies with recombination fraction. Pairs that
don't are marked inadmissible and their stored tables are left nil,
mirroring constructLookupTable.hpp's isValid check and zeroed storage.
*/
package lookup

import (
	"runtime"
	"sync"

	"github.com/TimothyStiles/mpcross/internal/funnel"
	"github.com/TimothyStiles/mpcross/internal/haplotype"
	"github.com/TimothyStiles/mpcross/internal/pattern"
	"github.com/TimothyStiles/mpcross/internal/triangular"
)

// nFinerPoints is the resolution of the informativeness-filter grid
// (spec section 4.3): 101 points evenly spaced across [0, 0.5].
const nFinerPoints = 101

// separationThreshold and l1Threshold are the design constants from spec
// section 4.3: recombination-fraction grid points further apart than
// separationThreshold must differ by at least l1Threshold in their
// projected emission surface, or the pattern pair is declared
// uninformative.
const (
	separationThreshold = 0.06
	l1Threshold         = 0.003
)

// Emission is a dense a x b table of probabilities over (obs1, obs2),
// where a and b are the observed-value counts of the two patterns
// involved. Row-major: index u*B+v holds P(obs1=u, obs2=v).
type Emission struct {
	A, B int
	P    []float64
}

func newEmission(a, b int) *Emission {
	return &Emission{A: a, B: b, P: make([]float64, a*b)}
}

// At returns P(obs1=u, obs2=v).
func (e *Emission) At(u, v int) float64 {
	return e.P[u*e.B+v]
}

func (e *Emission) add(u, v int, p float64) {
	e.P[u*e.B+v] += p
}

// Project maps a two-locus founder-pair joint distribution to an a x b
// observed-value table via founderOrder, which maps a symmetry-class leaf
// position to a founder ID (the identity permutation for the
// intercrossing regime, or a funnel's founder tuple for the funnel
// regime). p1, p2 are the patterns observed at the two loci.
func Project(joint *haplotype.Joint, founderOrder []int, p1, p2 pattern.Pattern) *Emission {
	nFounders := len(founderOrder)
	out := newEmission(p1.NObservedValues, p2.NObservedValues)
	states := triangular.States(nFounders)
	for s1, st1 := range states {
		fi, fj := founderOrder[st1[0]], founderOrder[st1[1]]
		obs1, ok1 := p1.Resolve(p1.FounderAlleles[fi], p1.FounderAlleles[fj])
		if !ok1 {
			continue
		}
		for s2, st2 := range states {
			p := joint.At(s1, s2)
			if p == 0 {
				continue
			}
			fk, fl := founderOrder[st2[0]], founderOrder[st2[1]]
			obs2, ok2 := p2.Resolve(p2.FounderAlleles[fk], p2.FounderAlleles[fl])
			if !ok2 {
				continue
			}
			out.add(obs1, obs2, p)
		}
	}
	return out
}

// Project1 maps a single-locus founder-pair distribution (indexed by
// symmetry class, as returned by haplotype.SingleLocusFunnel/AI) to a
// distribution over p's observed values, via founderOrder.
func Project1(compressed []float64, founderOrder []int, p pattern.Pattern) []float64 {
	out := make([]float64, p.NObservedValues)
	for s, st := range triangular.States(len(founderOrder)) {
		fi, fj := founderOrder[st[0]], founderOrder[st[1]]
		obs, ok := p.Resolve(p.FounderAlleles[fi], p.FounderAlleles[fj])
		if !ok {
			continue
		}
		out[obs] += compressed[s]
	}
	return out
}

func l1Distance(a, b *Emission) float64 {
	sum := 0.0
	for i := range a.P {
		d := a.P[i] - b.P[i]
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return sum
}

// isValid implements constructLookupTable.hpp's isValid: the projected
// table must differ by at least l1Threshold between every pair of finer
// grid points more than separationThreshold apart in r.
func isValid(tables []*Emission, grid []float64) bool {
	for i := 0; i < len(grid); i++ {
		for j := i; j < len(grid); j++ {
			if grid[j]-grid[i] <= separationThreshold {
				continue
			}
			if l1Distance(tables[i], tables[j]) < l1Threshold {
				return false
			}
		}
	}
	return true
}

func finerGrid() []float64 {
	g := make([]float64, nFinerPoints)
	for i := range g {
		g[i] = 0.5 * float64(i) / float64(nFinerPoints-1)
	}
	return g
}

// slot holds the per-grid-level emission tables for one (pattern pair,
// selfing generation, funnel-or-AI-generation) combination. A nil Levels
// slice means the combination was declared inadmissible by the
// informativeness filter.
type slot struct {
	Levels []*Emission
}

func (s slot) at(level int) *Emission {
	if s.Levels == nil {
		return nil
	}
	return s.Levels[level]
}

// Table holds, for every unordered pattern pair, every selfing generation
// in [MinSelfing, MaxSelfing], every funnel and every AI generation in
// [1, MaxAI], the projected emission table at each grid level, and
// whether that slot is admissible (spec section 4.3).
type Table struct {
	NFounders              int
	Patterns               []pattern.Pattern
	MinSelfing, MaxSelfing int
	InfiniteSelfing        bool
	Funnels                *funnel.Table
	MaxAI                  int
	Grid                   []float64

	// funnelSlots[pairIdx][selfingOffset][funnelID] and
	// aiSlots[pairIdx][selfingOffset][aiGen-1], indexed per
	// internal/triangular's packed addressing over pattern IDs.
	funnelSlots [][][]slot
	aiSlots     [][][]slot
}

func (t *Table) selfingOffset(selfing int) int { return selfing - t.MinSelfing }

// FunnelEmission returns the projected table for pattern pair (p,q),
// selfing generation, funnel ID and grid level, or nil if that slot is
// inadmissible.
func (t *Table) FunnelEmission(p, q, selfing, funnelID, level int) *Emission {
	return t.funnelSlots[triangular.Index(p, q)][t.selfingOffset(selfing)][funnelID].at(level)
}

// AIEmission returns the projected table for pattern pair (p,q), selfing
// generation, AI generation and grid level, or nil if that slot is
// inadmissible.
func (t *Table) AIEmission(p, q, selfing, aiGen, level int) *Emission {
	return t.aiSlots[triangular.Index(p, q)][t.selfingOffset(selfing)][aiGen-1].at(level)
}

// FunnelAdmissible reports whether pattern pair (p,q) carries information
// for the given selfing generation and funnel.
func (t *Table) FunnelAdmissible(p, q, selfing, funnelID int) bool {
	return t.funnelSlots[triangular.Index(p, q)][t.selfingOffset(selfing)][funnelID].Levels != nil
}

// AIAdmissible reports whether pattern pair (p,q) carries information for
// the given selfing generation and AI generation.
func (t *Table) AIAdmissible(p, q, selfing, aiGen int) bool {
	return t.aiSlots[triangular.Index(p, q)][t.selfingOffset(selfing)][aiGen-1].Levels != nil
}

// Build constructs the lookup table for every unordered pair of patterns,
// every selfing generation in [minSelfing, maxSelfing], every funnel known
// to funnels, and every AI generation in [1, maxAI]. grid is the
// recombination-fraction grid the RF estimator will evaluate (spec
// section 4.4); emission tables are stored at each grid level as well as
// checked for informativeness on an independent 101-point fine grid.
// infiniteSelfing selects the asymptotic selfing-derived-inbred-line
// regime (see internal/haplotype.effectiveR) in place of the finite
// selfing-generation count for every table built here.
func Build(patterns []pattern.Pattern, nFounders int, minSelfing, maxSelfing int, infiniteSelfing bool, funnels *funnel.Table, maxAI int, grid []float64) *Table {
	nPatterns := len(patterns)
	nSelfing := maxSelfing - minSelfing + 1
	nFunnels := funnels.Len()
	nPairs := triangular.Size(nPatterns)

	t := &Table{
		NFounders:       nFounders,
		Patterns:        patterns,
		MinSelfing:      minSelfing,
		MaxSelfing:      maxSelfing,
		InfiniteSelfing: infiniteSelfing,
		Funnels:         funnels,
		MaxAI:           maxAI,
		Grid:            grid,
	}
	t.funnelSlots = make([][][]slot, nPairs)
	t.aiSlots = make([][][]slot, nPairs)

	fine := finerGrid()
	identity := make([]int, nFounders)
	for i := range identity {
		identity[i] = i
	}

	// pairIdx and (p, q) are in bijection via triangular.Index/States, so
	// every worker can compute and write its own pairIdx slot without
	// touching any other worker's slice entry - the same disjoint-slot
	// discipline constructLookupTable.hpp gets for free from its OpenMP
	// "schedule(dynamic)" loop over pattern pairs.
	for pairIdx := 0; pairIdx < nPairs; pairIdx++ {
		t.funnelSlots[pairIdx] = make([][]slot, nSelfing)
		t.aiSlots[pairIdx] = make([][]slot, nSelfing)
		for off := range t.funnelSlots[pairIdx] {
			t.funnelSlots[pairIdx][off] = make([]slot, nFunnels)
			t.aiSlots[pairIdx][off] = make([]slot, maxAI)
		}
	}

	pairs := triangular.States(nPatterns)
	indices := make(chan int, len(pairs))
	for pairIdx := range pairs {
		indices <- pairIdx
	}
	close(indices)

	workers := runtime.GOMAXPROCS(0)
	if workers > len(pairs) {
		workers = len(pairs)
	}
	if workers < 1 {
		workers = 1
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for pairIdx := range indices {
				p, q := pairs[pairIdx][0], pairs[pairIdx][1]

				for selfing := minSelfing; selfing <= maxSelfing; selfing++ {
					off := selfing - minSelfing

					for fid := 0; fid < nFunnels; fid++ {
						order := funnels.Founders(fid)
						fineTables := make([]*Emission, nFinerPoints)
						for i, r := range fine {
							fineTables[i] = Project(haplotype.TwoLocusFunnel(nFounders, r, selfing, infiniteSelfing), order, patterns[p], patterns[q])
						}
						if !isValid(fineTables, fine) {
							continue
						}
						levels := make([]*Emission, len(grid))
						for i, r := range grid {
							levels[i] = Project(haplotype.TwoLocusFunnel(nFounders, r, selfing, infiniteSelfing), order, patterns[p], patterns[q])
						}
						t.funnelSlots[pairIdx][off][fid] = slot{Levels: levels}
					}

					for ai := 1; ai <= maxAI; ai++ {
						fineTables := make([]*Emission, nFinerPoints)
						for i, r := range fine {
							fineTables[i] = Project(haplotype.TwoLocusAI(nFounders, r, selfing, infiniteSelfing), identity, patterns[p], patterns[q])
						}
						if !isValid(fineTables, fine) {
							continue
						}
						levels := make([]*Emission, len(grid))
						for i, r := range grid {
							levels[i] = Project(haplotype.TwoLocusAI(nFounders, r, selfing, infiniteSelfing), identity, patterns[p], patterns[q])
						}
						t.aiSlots[pairIdx][off][ai-1] = slot{Levels: levels}
					}
				}
			}
		}()
	}
	wg.Wait()
	return t
}

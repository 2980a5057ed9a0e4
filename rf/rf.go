/*
Package rf implements the pairwise maximum-likelihood recombination
fraction estimator (spec section 4.4): for every requested marker pair it
evaluates, for each candidate recombination fraction on a caller-supplied
grid, the log-likelihood of the observed genotypes summed (weighted) over
every line in every design, then reports the argmax, and optionally the
LOD score against the r=0.5 null and the maximum log-likelihood.

The estimator is a pure function over plain data (spec section 6): no I/O,
no host-runtime adapters. Building the marker-pattern/funnel/lookup
machinery is internal/pattern's, internal/funnel's and internal/lookup's
job; this package only drives them and accumulates the result.
*/
package rf

import (
	"log"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/TimothyStiles/mpcross/internal/funnel"
	"github.com/TimothyStiles/mpcross/internal/lookup"
	"github.com/TimothyStiles/mpcross/internal/mperrors"
	"github.com/TimothyStiles/mpcross/internal/pattern"
)

// missingFinal is the sentinel used in a finals matrix for "no call",
// matching the R source's -9 convention (spec section 6).
const missingFinal = -9

// Range is a half-open marker index interval [Start, End).
type Range struct {
	Start, End int
}

func (r Range) empty() bool { return r.Start >= r.End }

// LineMetadata carries the pedigree-derived data the RF estimator needs
// about one experimental line: how it was crossed, and how much weight
// its likelihood contribution should carry.
type LineMetadata struct {
	Intercross int
	Selfing    int
	Funnel     []int
	Weight     float64
}

// Design is one experimental population: founder and observed genotypes,
// per-marker heterozygote encodings, and per-line pedigree metadata.
type Design struct {
	// Founders is F x M: one row per founder, one column per marker.
	Founders [][]int
	// Finals is N x M: one row per line, one column per marker.
	// missingFinal (-9) denotes a missing call.
	Finals [][]int
	// HetMaps[m] maps a raw founder-allele pair to a raw observation code
	// for marker m; nil means the marker has no heterozygote calls.
	HetMaps []map[[2]int]int
	Lines   []LineMetadata
}

// Options controls optional outputs and advisory logging.
type Options struct {
	KeepLod  bool
	KeepLkhd bool
	// InfiniteSelfing selects the asymptotic selfing-derived-inbred-line
	// regime for every line's two-locus transition, overriding each line's
	// own Selfing count (see internal/haplotype.effectiveR).
	InfiniteSelfing bool
	// Logger receives advisory notices (large lookup/result allocations).
	// Defaults to log.Default() when nil.
	Logger *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// Result holds the per-pair outputs, in the same order as Pairs(m1Range,
// m2Range) would enumerate them.
type Result struct {
	Theta []byte
	Lod   []float64
	Lkhd  []float64
	R     []float64
}

// lookupMemoryThreshold and resultMemoryThreshold are the advisory
// thresholds from spec section 4.4 / 5: bytes above which an allocation
// is merely logged, never refused.
const (
	lookupMemoryThreshold = 1_000_000_000
	resultMemoryThreshold = 4_000_000_000
)

// Pairs enumerates the upper-triangular (m1 <= m2) marker pairs covered by
// m1Range x m2Range, in the row-major order Estimate uses for its Result.
func Pairs(m1Range, m2Range Range) [][2]int {
	var pairs [][2]int
	for m1 := m1Range.Start; m1 < m1Range.End; m1++ {
		start := m2Range.Start
		if start < m1 {
			start = m1
		}
		for m2 := start; m2 < m2Range.End; m2++ {
			pairs = append(pairs, [2]int{m1, m2})
		}
	}
	return pairs
}

// Estimate runs the RF estimator over every design, for every pair in
// m1Range x m2Range, across recombinationFractions.
func Estimate(designs []Design, recombinationFractions []float64, m1Range, m2Range Range, opts Options) (Result, error) {
	halfIndex, err := validateGrid(recombinationFractions)
	if err != nil {
		return Result{}, err
	}
	if m1Range.empty() || m2Range.empty() {
		return Result{}, mperrors.ShapeMismatchError{Msg: "marker1Range and marker2Range must be non-empty"}
	}
	if m1Range.Start >= m2Range.End {
		return Result{}, mperrors.RegionBelowDiagonalError{Marker1Start: m1Range.Start, Marker2End: m2Range.End}
	}

	pairs := Pairs(m1Range, m2Range)
	nLevels := len(recombinationFractions)
	buf := make([]float64, len(pairs)*nLevels)

	if uint64(len(buf))*8 > resultMemoryThreshold {
		opts.logger().Printf("rf: result buffer of %d bytes exceeds advisory threshold", len(buf)*8)
	}

	for _, d := range designs {
		if err := estimateDesign(d, recombinationFractions, pairs, buf, opts); err != nil {
			return Result{}, err
		}
	}

	return postProcess(pairs, recombinationFractions, halfIndex, buf, opts), nil
}

func validateGrid(grid []float64) (int, error) {
	if len(grid) == 0 {
		return 0, mperrors.InvalidGridError{Msg: "recombinationFractions must be non-empty"}
	}
	halfIndex := -1
	for i, r := range grid {
		if r == 0.5 {
			halfIndex = i
		}
		if i > 0 && grid[i-1] >= grid[i] {
			return 0, mperrors.InvalidGridError{Msg: "recombinationFractions must be strictly increasing"}
		}
	}
	if halfIndex < 0 {
		return 0, mperrors.InvalidGridError{Msg: "recombinationFractions must contain exactly the value 0.5"}
	}
	return halfIndex, nil
}

func estimateDesign(d Design, grid []float64, pairs [][2]int, buf []float64, opts Options) error {
	patterns, markerToPattern, recode, err := pattern.Canonicalize(d.Founders, d.HetMaps)
	if err != nil {
		return err
	}
	nFounders := len(d.Founders)

	lineFunnels := make([][]int, len(d.Lines))
	for i, line := range d.Lines {
		lineFunnels[i] = line.Funnel
	}
	if err := funnel.Validate(lineFunnels, nFounders); err != nil {
		return err
	}

	funnels := funnel.NewTable()
	lineFunnelID := make([]int, len(d.Lines))
	minSelfing, maxSelfing, maxAI := math.MaxInt32, 0, 1
	for i, line := range d.Lines {
		id, err := funnels.IDFor(line.Funnel)
		if err != nil {
			return err
		}
		lineFunnelID[i] = id
		if line.Selfing < minSelfing {
			minSelfing = line.Selfing
		}
		if line.Selfing > maxSelfing {
			maxSelfing = line.Selfing
		}
		if line.Intercross > maxAI {
			maxAI = line.Intercross
		}
	}
	if len(d.Lines) == 0 {
		minSelfing, maxSelfing = 0, 0
	}

	table := lookup.Build(patterns, nFounders, minSelfing, maxSelfing, opts.InfiniteSelfing, funnels, maxAI, grid)

	lookupBytes := estimateLookupBytes(table, patterns)
	if lookupBytes > lookupMemoryThreshold {
		opts.logger().Printf("rf: lookup table of %d bytes exceeds advisory threshold", lookupBytes)
	}

	nLevels := len(grid)
	for pi, pair := range pairs {
		m1, m2 := pair[0], pair[1]
		p1, p2 := markerToPattern[m1], markerToPattern[m2]
		recode1, recode2 := recode[m1], recode[m2]
		row := buf[pi*nLevels : (pi+1)*nLevels]

		for li, line := range d.Lines {
			raw1, raw2 := d.Finals[li][m1], d.Finals[li][m2]
			if raw1 == missingFinal || raw2 == missingFinal {
				continue
			}
			obs1, ok1 := recode1[raw1]
			obs2, ok2 := recode2[raw2]
			if !ok1 || !ok2 {
				continue
			}
			// internal/lookup.Build always stores a pair's Emission axis
			// A against the smaller pattern index and axis B against the
			// larger (it takes (p, q) with p <= q from triangular.States
			// and calls Project with p first); swap the observed values
			// to match whenever p1 is the larger one.
			rowObs, colObs := obs1, obs2
			if p1 > p2 {
				rowObs, colObs = obs2, obs1
			}
			funnelID := lineFunnelID[li]
			for lvl := 0; lvl < nLevels; lvl++ {
				var em *lookup.Emission
				if line.Intercross == 0 {
					if !table.FunnelAdmissible(p1, p2, line.Selfing, funnelID) {
						continue
					}
					em = table.FunnelEmission(p1, p2, line.Selfing, funnelID, lvl)
				} else {
					if !table.AIAdmissible(p1, p2, line.Selfing, line.Intercross) {
						continue
					}
					em = table.AIEmission(p1, p2, line.Selfing, line.Intercross, lvl)
				}
				if em == nil {
					continue
				}
				prob := em.At(rowObs, colObs)
				if prob <= 0 {
					row[lvl] += line.Weight * math.Inf(-1)
				} else {
					row[lvl] += line.Weight * math.Log(prob)
				}
			}
		}
	}
	return nil
}

// postProcess reduces each pair's log-likelihood row to a theta call (and
// optionally LOD/likelihood) independently of every other pair, so it
// parallelises the same way lookup.Build does: a bounded pool of
// runtime.GOMAXPROCS workers pulling pair indices from a shared channel,
// each one only ever writing its own row's slot in res.
func postProcess(pairs [][2]int, grid []float64, halfIndex int, buf []float64, opts Options) Result {
	nLevels := len(grid)
	res := Result{
		Theta: make([]byte, len(pairs)),
		R:     grid,
	}
	if opts.KeepLod {
		res.Lod = make([]float64, len(pairs))
	}
	if opts.KeepLkhd {
		res.Lkhd = make([]float64, len(pairs))
	}

	indices := make(chan int, len(pairs))
	for pi := range pairs {
		indices <- pi
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
			for pi := range indices {
				row := buf[pi*nLevels : (pi+1)*nLevels]
				max, min := floats.Max(row), floats.Min(row)
				if max == 0 && min == 0 {
					res.Theta[pi] = 0xFF
					if opts.KeepLod {
						res.Lod[pi] = math.NaN()
					}
					if opts.KeepLkhd {
						res.Lkhd[pi] = math.NaN()
					}
					continue
				}
				theta := floats.MaxIdx(row)
				res.Theta[pi] = byte(theta)
				if opts.KeepLkhd {
					res.Lkhd[pi] = max
				}
				if opts.KeepLod {
					res.Lod[pi] = max - row[halfIndex]
				}
			}
		}()
	}
	wg.Wait()
	return res
}

func estimateLookupBytes(table *lookup.Table, patterns []pattern.Pattern) uint64 {
	nPairs := uint64(len(patterns)) * uint64(len(patterns)+1) / 2
	nSelfing := uint64(table.MaxSelfing - table.MinSelfing + 1)
	nFunnels := uint64(table.Funnels.Len())
	nLevels := uint64(len(table.Grid))
	var maxAlleles uint64
	for _, p := range patterns {
		if uint64(p.NObservedValues) > maxAlleles {
			maxAlleles = uint64(p.NObservedValues)
		}
	}
	perTable := maxAlleles * maxAlleles * 8
	return nPairs * (nFunnels + uint64(table.MaxAI)) * nSelfing * nLevels * perTable
}

/*
Package impute implements the Viterbi founder-imputation core (spec
section 4.5): a per-chromosome hidden Markov model over founder (infinite
selfing) or founder-pair (finite selfing) states, using
internal/haplotype's transition kernels to decode the most likely founder
origin at every marker for every line.

Unlike the RF estimator, which only needs the marginal probability of an
observed genotype pair (so it can read straight out of
internal/lookup.Table), the Viterbi recursion needs the hidden state to
persist across markers. It therefore calls internal/haplotype directly at
each inter-marker gap's continuously-valued recombination fraction,
rather than going through a lookup.Table (which is only built at a fixed
discrete grid), and resolves emissions through pattern.Resolve rather
than a projected observation table.
*/
package impute

import (
	"log"
	"math"

	"github.com/TimothyStiles/mpcross/internal/funnel"
	"github.com/TimothyStiles/mpcross/internal/haplotype"
	"github.com/TimothyStiles/mpcross/internal/mperrors"
	"github.com/TimothyStiles/mpcross/internal/pattern"
	"github.com/TimothyStiles/mpcross/internal/triangular"
)

const missingFinal = -9

// LineMetadata mirrors rf.LineMetadata; kept as a distinct type so the two
// public packages don't need to import one another for a shared struct.
type LineMetadata struct {
	Intercross int
	Selfing    int
	Funnel     []int
	Weight     float64
}

// Design is the genetic data for one population, shared across every
// chromosome being imputed.
type Design struct {
	Founders [][]int
	Finals   [][]int
	HetMaps  []map[[2]int]int
	Lines    []LineMetadata
}

// Chromosome is one linkage group: the marker indices (into Design's
// columns) it contains, in map order, and their genetic positions in
// Haldane centimorgans.
type Chromosome struct {
	Markers   []int
	Positions []float64
}

// Options controls missing-data substitution and advisory logging.
type Options struct {
	InfiniteSelfing         bool
	HomozygoteMissingProb   float64
	HeterozygoteMissingProb float64
	Logger                  *log.Logger
}

func (o Options) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Default()
}

// Key maps an ordered founder pair (i,j), 0-based, to the user-facing
// code: the diagonal gets founder index 1..F, off-diagonal pairs get a
// dense symmetric index F+1..F+F(F-1)/2, matching imputeFounders.cpp's
// key construction.
type Key struct {
	NFounders int
	codes     [][]int
}

// BuildKey constructs the user-facing founder/founder-pair key table for
// nFounders founders.
func BuildKey(nFounders int) Key {
	codes := make([][]int, nFounders)
	for i := range codes {
		codes[i] = make([]int, nFounders)
	}
	for i := 0; i < nFounders; i++ {
		codes[i][i] = i + 1
	}
	counter := nFounders + 1
	for i := 0; i < nFounders; i++ {
		for j := i + 1; j < nFounders; j++ {
			codes[i][j] = counter
			codes[j][i] = counter
			counter++
		}
	}
	return Key{NFounders: nFounders, codes: codes}
}

// At returns the user-facing code for founder pair (i,j).
func (k Key) At(i, j int) int { return k.codes[i][j] }

// Result is the N x (total markers across chromosomes) matrix of key
// codes, plus the key table used to produce it.
type Result struct {
	Data [][]int
	Key  Key
}

// Impute runs the Viterbi decoder over every chromosome independently for
// every line in design.
func Impute(chromosomes []Chromosome, design Design, opts Options) (Result, error) {
	nFounders := len(design.Founders)
	patterns, markerToPattern, recode, err := pattern.Canonicalize(design.Founders, design.HetMaps)
	if err != nil {
		return Result{}, err
	}

	lineFunnels := make([][]int, len(design.Lines))
	for i, line := range design.Lines {
		lineFunnels[i] = line.Funnel
	}
	if err := funnel.Validate(lineFunnels, nFounders); err != nil {
		return Result{}, err
	}

	funnels := funnel.NewTable()
	lineFunnelID := make([]int, len(design.Lines))
	for i, line := range design.Lines {
		id, err := funnels.IDFor(line.Funnel)
		if err != nil {
			return Result{}, err
		}
		lineFunnelID[i] = id
	}

	nMarkersTotal := 0
	for _, c := range chromosomes {
		nMarkersTotal += len(c.Markers)
	}
	data := make([][]int, len(design.Lines))
	for i := range data {
		data[i] = make([]int, nMarkersTotal)
	}

	key := BuildKey(nFounders)
	haveLoggedHets := false

	cumulative := 0
	for _, chrom := range chromosomes {
		for li, line := range design.Lines {
			order := identityOrder(nFounders)
			if line.Intercross == 0 {
				order = funnels.Founders(lineFunnelID[li])
			}
			path, err := decodeLine(chrom, design, line, order, patterns, markerToPattern, recode, nFounders, opts, li, &haveLoggedHets)
			if err != nil {
				return Result{}, err
			}
			for mi, st := range path {
				fi, fj := order[st.i], order[st.j]
				data[li][cumulative+mi] = encodeState(key, pairState{fi, fj}, opts.InfiniteSelfing)
			}
		}
		cumulative += len(chrom.Markers)
	}

	return Result{Data: data, Key: key}, nil
}

// pairState is a hidden state expressed in tree-position coordinates
// (i<=j), the same coordinate system internal/haplotype's Joint uses.
// Positions are mapped to founder identity via a funnel's founder order
// (the identity order for the AI regime) before being reported.
type pairState struct{ i, j int }

func encodeState(key Key, s pairState, infiniteSelfing bool) int {
	if infiniteSelfing {
		return key.At(s.i, s.i)
	}
	return key.At(s.i, s.j)
}

// decodeLine runs the forward max-product recursion for a single line
// along a single chromosome and returns the most likely hidden state, in
// tree-position coordinates, at every marker. order maps a tree position
// to the founder identity actually observed at that position for this
// line (a funnel's founder tuple, or the identity permutation under the
// AI regime), matching how internal/lookup.Build projects the same
// joint distributions onto observed values.
func decodeLine(
	chrom Chromosome,
	design Design,
	line LineMetadata,
	order []int,
	patterns []pattern.Pattern,
	markerToPattern []int,
	recode []map[int]int,
	nFounders int,
	opts Options,
	lineIdx int,
	haveLoggedHets *bool,
) ([]pairState, error) {
	states := statesFor(nFounders, opts.InfiniteSelfing)
	nStates := len(states)
	nMarkers := len(chrom.Markers)
	if nMarkers == 0 {
		return nil, nil
	}

	score := make([]float64, nStates)
	backptr := make([][]int, nMarkers)

	emit := func(markerIdx, obs int, st pairState) float64 {
		p := patterns[markerToPattern[chrom.Markers[markerIdx]]]
		fi, fj := order[st.i], order[st.j]
		code, ok := p.Resolve(p.FounderAlleles[fi], p.FounderAlleles[fj])
		homozygous := fi == fj
		if opts.InfiniteSelfing && obs != missingFinal {
			// Heterozygous calls are treated as missing under infinite
			// selfing (see the advisory logged after the recursion).
			for _, hc := range p.HetMap {
				if hc == obs {
					obs = missingFinal
					break
				}
			}
		}
		if obs == missingFinal {
			if homozygous {
				return logProb(opts.HomozygoteMissingProb)
			}
			return logProb(opts.HeterozygoteMissingProb)
		}
		if !ok || code != obs {
			return math.Inf(-1)
		}
		return 0
	}

	m0 := chrom.Markers[0]
	raw0 := design.Finals[lineIdx][m0]
	obs0 := -1
	if raw0 != missingFinal {
		var ok bool
		obs0, ok = recode[m0][raw0]
		if !ok {
			obs0 = -1
		}
	} else {
		obs0 = missingFinal
	}

	// Under infinite selfing the funnel prior carries no diagonal mass, so
	// the diagonal restriction is taken from the AI (uniform) prior and
	// joint instead; both regimes have a uniform founder marginal and the
	// same per-copy transition kernel.
	prior := singleLocusPrior(nFounders, line.Intercross > 0 || opts.InfiniteSelfing)
	if opts.InfiniteSelfing {
		prior = restrictToDiagonal(prior, nFounders)
		for si, st := range states {
			score[si] = logProb(prior[st.i]) + emit(0, obs0, st)
		}
	} else {
		for si, st := range states {
			score[si] = logProb(prior[classIndex(nFounders, st)]) + emit(0, obs0, st)
		}
	}

	for mi := 1; mi < nMarkers; mi++ {
		gap := chrom.Positions[mi] - chrom.Positions[mi-1]
		r := haplotype.HaldaneToR(gap / 100)
		var joint *haplotype.Joint
		if line.Intercross > 0 || opts.InfiniteSelfing {
			joint = haplotype.TwoLocusAI(nFounders, r, line.Selfing, opts.InfiniteSelfing)
		} else {
			joint = haplotype.TwoLocusFunnel(nFounders, r, line.Selfing, opts.InfiniteSelfing)
		}

		m := chrom.Markers[mi]
		raw := design.Finals[lineIdx][m]
		obs := raw
		if raw != missingFinal {
			v, ok := recode[m][raw]
			if ok {
				obs = v
			} else {
				obs = -1
			}
		}

		next := make([]float64, nStates)
		back := make([]int, nStates)
		for sj := range next {
			next[sj] = math.Inf(-1)
		}
		for si, stFrom := range states {
			classFrom := classIndex(nFounders, stFrom)
			row := joint.Transition(classFrom)
			if opts.InfiniteSelfing {
				row = restrictToDiagonal(row, nFounders)
			}
			for sj, stTo := range states {
				var trans float64
				if opts.InfiniteSelfing {
					trans = row[stTo.i]
				} else {
					trans = row[classIndex(nFounders, stTo)]
				}
				if trans <= 0 {
					continue
				}
				v := score[si] + math.Log(trans)
				if v > next[sj] {
					next[sj] = v
					back[sj] = si
				}
			}
		}
		for sj, stTo := range states {
			next[sj] += emit(mi, obs, stTo)
		}
		allImpossible := true
		for _, v := range next {
			if !math.IsInf(v, -1) {
				allImpossible = false
				break
			}
		}
		if allImpossible {
			return nil, mperrors.ImpossibleDataError{Line: lineIdx, Marker: chrom.Markers[mi-1]}
		}
		score = next
		backptr[mi] = back
	}

	if opts.InfiniteSelfing && !*haveLoggedHets {
		if hasHeterozygoteObservation(design, lineIdx, chrom, recode, markerToPattern, patterns) {
			opts.logger().Printf("impute: heterozygous call ignored under infinite selfing for line %d", lineIdx)
			*haveLoggedHets = true
		}
	}

	best := 0
	for i, v := range score {
		if v > score[best] {
			best = i
		}
	}
	path := make([]pairState, nMarkers)
	cur := best
	for mi := nMarkers - 1; mi >= 0; mi-- {
		path[mi] = states[cur]
		if mi > 0 {
			cur = backptr[mi][cur]
		}
	}

	return path, nil
}

func logProb(p float64) float64 {
	if p <= 0 {
		return math.Inf(-1)
	}
	return math.Log(p)
}

// statesFor enumerates the hidden states: founder identity (i==j only)
// under infinite selfing, founder-pair symmetry classes otherwise.
func statesFor(nFounders int, infiniteSelfing bool) []pairState {
	if infiniteSelfing {
		out := make([]pairState, nFounders)
		for i := range out {
			out[i] = pairState{i, i}
		}
		return out
	}
	out := make([]pairState, 0, nFounders*(nFounders+1)/2)
	for j := 0; j < nFounders; j++ {
		for i := 0; i <= j; i++ {
			out = append(out, pairState{i, j})
		}
	}
	return out
}

func classIndex(nFounders int, st pairState) int {
	return triangular.Index(st.i, st.j)
}

// restrictToDiagonal collapses a full founder-pair transition row down to
// the nFounders homozygous classes and renormalises, the simplification
// adopted for infinite selfing: repeated selfing converges a line to
// homozygosity, so only transitions that land on a single-founder class
// are physically reachable, and the off-diagonal mass the two-locus
// model routes elsewhere has to be redistributed rather than silently
// discarded for the result to still be a probability distribution.
func restrictToDiagonal(row []float64, nFounders int) []float64 {
	out := make([]float64, nFounders)
	total := 0.0
	for i := 0; i < nFounders; i++ {
		v := row[triangular.Index(i, i)]
		out[i] = v
		total += v
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func identityOrder(nFounders int) []int {
	order := make([]int, nFounders)
	for i := range order {
		order[i] = i
	}
	return order
}

// singleLocusPrior returns the compressed single-locus prior: the AI
// regime's uniform prior once intercross has begun, the funnel regime's
// tree-weighted prior otherwise (see internal/haplotype).
func singleLocusPrior(nFounders int, hasIntercrossed bool) []float64 {
	if hasIntercrossed {
		return haplotype.SingleLocusAI(nFounders)
	}
	return haplotype.SingleLocusFunnel(nFounders)
}

func hasHeterozygoteObservation(design Design, lineIdx int, chrom Chromosome, recode []map[int]int, markerToPattern []int, patterns []pattern.Pattern) bool {
	for _, m := range chrom.Markers {
		raw := design.Finals[lineIdx][m]
		if raw == missingFinal {
			continue
		}
		obs, ok := recode[m][raw]
		if !ok {
			continue
		}
		p := patterns[markerToPattern[m]]
		for _, code := range p.HetMap {
			if code == obs {
				return true
			}
		}
	}
	return false
}

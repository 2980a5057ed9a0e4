/*
Package pattern deduplicates markers by segregation pattern: markers whose
founder-allele vector and heterozygote map agree after dense relabelling
are assigned the same Pattern, so downstream lookup-table construction
only has to consider distinct patterns rather than distinct markers.
*/
package pattern

import (
	"fmt"
	"sort"

	"github.com/TimothyStiles/mpcross/internal/mperrors"
)

const maxAlleles = 64

var supportedFounderCounts = map[int]bool{2: true, 4: true, 8: true, 16: true}

// allelePair is a founder-allele pair with a <= b, the key type for a
// marker's heterozygote map.
type allelePair struct{ a, b int }

// Pattern is the canonical representation shared by every marker whose
// founder-allele vector and heterozygote map coincide after relabelling.
type Pattern struct {
	ID              int
	FounderAlleles  []int
	HetMap          map[allelePair]int
	NObservedValues int
}

// Canonicalize groups the markers described by founders and hetMaps into
// Patterns. founders is F x M: one row per founder, one column per marker.
// hetMaps[m] maps a raw founder-allele pair to a raw observation code for
// marker m; a nil entry means the marker has no heterozygote calls.
//
// Returns the distinct patterns in first-occurrence order, for each marker
// the index of its pattern in that slice, and for each marker a map from
// raw observation code (as used in a finals matrix) to the dense code in
// the marker's pattern - callers recoding observed genotype calls for use
// against a Pattern must go through this map rather than the raw value.
func Canonicalize(founders [][]int, hetMaps []map[[2]int]int) ([]Pattern, []int, []map[int]int, error) {
	nFounders := len(founders)
	if !supportedFounderCounts[nFounders] {
		return nil, nil, nil, mperrors.UnsupportedFounderCountError{NFounders: nFounders}
	}
	nMarkers := 0
	if nFounders > 0 {
		nMarkers = len(founders[0])
	}
	for i, row := range founders {
		if len(row) != nMarkers {
			return nil, nil, nil, mperrors.ShapeMismatchError{Msg: fmt.Sprintf("founder row %d has length %d, want %d", i, len(row), nMarkers)}
		}
	}

	patterns := make([]Pattern, 0)
	seen := make(map[string]int)
	markerToPattern := make([]int, nMarkers)
	recode := make([]map[int]int, nMarkers)

	for m := 0; m < nMarkers; m++ {
		alleleVec := make([]int, nFounders)
		for f := 0; f < nFounders; f++ {
			alleleVec[f] = founders[f][m]
		}

		denseAllele, alleleOrder := denseRelabel(alleleVec)
		canonicalAlleles := make([]int, nFounders)
		for f, raw := range alleleVec {
			canonicalAlleles[f] = denseAllele[raw]
		}

		var het map[[2]int]int
		if m < len(hetMaps) {
			het = hetMaps[m]
		}
		canonicalHet, obsDense, nObserved, err := canonicalizeHetMap(het, denseAllele, alleleOrder)
		if err != nil {
			return nil, nil, nil, err
		}
		if nObserved > maxAlleles {
			return nil, nil, nil, mperrors.TooManyAllelesError{Marker: m, NAlleles: nObserved}
		}

		key := patternKey(canonicalAlleles, canonicalHet)
		idx, ok := seen[key]
		if !ok {
			idx = len(patterns)
			seen[key] = idx
			patterns = append(patterns, Pattern{
				ID:              idx,
				FounderAlleles:  canonicalAlleles,
				HetMap:          canonicalHet,
				NObservedValues: nObserved,
			})
		}
		markerToPattern[m] = idx
		recode[m] = obsDense
	}
	return patterns, markerToPattern, recode, nil
}

// Resolve returns the observation code for the ordered founder-allele pair
// (a,b) under p, and false if the pair isn't observable (heterozygote not
// in the map and a != b).
func (p Pattern) Resolve(a, b int) (int, bool) {
	if a == b {
		return a, true
	}
	if a > b {
		a, b = b, a
	}
	code, ok := p.HetMap[allelePair{a, b}]
	return code, ok
}

// denseRelabel assigns 0..k-1 to the distinct values of vec in order of
// first occurrence, returning the raw->dense map and the order in which
// raw values were first seen.
func denseRelabel(vec []int) (map[int]int, []int) {
	dense := make(map[int]int)
	order := make([]int, 0, len(vec))
	for _, raw := range vec {
		if _, ok := dense[raw]; !ok {
			dense[raw] = len(dense)
			order = append(order, raw)
		}
	}
	return dense, order
}

// canonicalizeHetMap restricts het to raw-allele pairs that both occur
// among the marker's alleles, remaps the pair through denseAllele, and
// assigns dense observation codes shared with the homozygote codes
// (themselves already 0..k-1 after relabelling). Heterozygote codes not
// coinciding with a homozygote allele get the next free codes, visited in
// a fixed order (sorted raw keys) so the result is deterministic.
func canonicalizeHetMap(het map[[2]int]int, denseAllele map[int]int, alleleOrder []int) (map[allelePair]int, map[int]int, int, error) {
	nextCode := len(alleleOrder)
	obsDense := make(map[int]int, nextCode)
	for raw, dense := range denseAllele {
		obsDense[raw] = dense
	}

	canonical := make(map[allelePair]int)
	if het == nil {
		return canonical, obsDense, nextCode, nil
	}

	type rawEntry struct {
		a, b, code int
	}
	entries := make([]rawEntry, 0, len(het))
	for k, v := range het {
		entries = append(entries, rawEntry{k[0], k[1], v})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].a != entries[j].a {
			return entries[i].a < entries[j].a
		}
		if entries[i].b != entries[j].b {
			return entries[i].b < entries[j].b
		}
		return entries[i].code < entries[j].code
	})

	for _, e := range entries {
		da, aok := denseAllele[e.a]
		db, bok := denseAllele[e.b]
		if !aok || !bok {
			continue
		}
		dcode, ok := obsDense[e.code]
		if !ok {
			dcode = nextCode
			obsDense[e.code] = dcode
			nextCode++
		}
		if da > db {
			da, db = db, da
		}
		canonical[allelePair{da, db}] = dcode
	}
	return canonical, obsDense, nextCode, nil
}

func patternKey(alleles []int, het map[allelePair]int) string {
	key := fmt.Sprint(alleles)
	pairs := make([]allelePair, 0, len(het))
	for p := range het {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})
	for _, p := range pairs {
		key += fmt.Sprintf("|%d,%d=%d", p.a, p.b, het[p])
	}
	return key
}

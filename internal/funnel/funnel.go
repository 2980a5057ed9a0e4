/*
Package funnel deduplicates crossing funnels: the ordered tuple of founder
IDs that produced a given experimental line's cross. Two funnels are the
same iff their tuples are equal; funnel IDs are assigned in order of first
encounter, matching the pattern canonicaliser's convention.
*/
package funnel

import (
	"fmt"

	"github.com/TimothyStiles/mpcross/internal/mperrors"
)

// maxFounderBits is the width reserved per founder slot in the packed
// encoding. 4 bits covers founder IDs 0..15, the largest supported F.
const maxFounderBits = 4

// Encoding packs an ordered founder tuple into a single integer, 4 bits
// per founder. It is only valid for tuples of length <= 16 with founder
// IDs in [0,16), the full range supported by this module.
type Encoding uint64

// Encode packs founders into an Encoding. Returns an error if the tuple is
// too long or any founder ID doesn't fit in 4 bits.
func Encode(founders []int) (Encoding, error) {
	if len(founders) > 64/maxFounderBits {
		return 0, mperrors.ShapeMismatchError{Msg: "funnel longer than the packed encoding can hold"}
	}
	var enc Encoding
	for i, f := range founders {
		if f < 0 || f >= 1<<maxFounderBits {
			return 0, mperrors.ShapeMismatchError{Msg: "founder ID out of range for packed funnel encoding"}
		}
		enc |= Encoding(f) << uint(i*maxFounderBits)
	}
	return enc, nil
}

// Table assigns contiguous funnel IDs to distinct founder tuples in order
// of first occurrence.
type Table struct {
	founders [][]int
	encoded  []Encoding
	byEnc    map[Encoding]int
}

// NewTable returns an empty funnel table.
func NewTable() *Table {
	return &Table{byEnc: make(map[Encoding]int)}
}

// IDFor returns the funnel ID for founders, assigning a new one if this
// tuple hasn't been seen before.
func (t *Table) IDFor(founders []int) (int, error) {
	enc, err := Encode(founders)
	if err != nil {
		return 0, err
	}
	if id, ok := t.byEnc[enc]; ok {
		return id, nil
	}
	id := len(t.founders)
	cp := make([]int, len(founders))
	copy(cp, founders)
	t.founders = append(t.founders, cp)
	t.encoded = append(t.encoded, enc)
	t.byEnc[enc] = id
	return id, nil
}

// Validate checks every line's funnel tuple against nFounders before any
// funnel IDs are assigned: each tuple must name exactly nFounders founders,
// each founder ID in [0, nFounders). Unlike IDFor (which stops at the first
// malformed tuple it's asked to encode), Validate walks every line so a
// caller can report every bad funnel in one pass, matching spec section 7's
// PedigreeError ("message aggregates all funnel-level errors"). Pedigree
// derivation itself - inferring a funnel from a cross history - is out of
// scope; this only checks the shape of funnels already supplied.
func Validate(funnels [][]int, nFounders int) error {
	var errs []string
	for i, f := range funnels {
		if len(f) != nFounders {
			errs = append(errs, fmt.Sprintf("line %d: funnel has %d founders, want %d", i, len(f), nFounders))
			continue
		}
		for _, id := range f {
			if id < 0 || id >= nFounders {
				errs = append(errs, fmt.Sprintf("line %d: founder ID %d out of range [0,%d)", i, id, nFounders))
				break
			}
		}
	}
	if len(errs) > 0 {
		return mperrors.PedigreeError{Errors: errs}
	}
	return nil
}

// Len returns the number of distinct funnels assigned so far.
func (t *Table) Len() int { return len(t.founders) }

// Founders returns the founder tuple for a previously assigned funnel ID.
func (t *Table) Founders(id int) []int { return t.founders[id] }

// Encoding returns the packed encoding for a previously assigned funnel ID.
func (t *Table) Encoding(id int) Encoding { return t.encoded[id] }

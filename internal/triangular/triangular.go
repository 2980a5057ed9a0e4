/*
Package triangular provides addressing for symmetric n x n data stored in
packed lower-triangular form, plus a byte-coded variant that looks real
values up through a shared levels table. This is the addressing scheme
used by the ARSA distance matrix, the founder-pair symmetry classes, and
the pattern-pair slots of the haplotype-to-marker lookup table.
*/
package triangular

// Index returns the packed index of element (i,j) of a symmetric n x n
// matrix, normalising so that the smaller of i,j is always treated as the
// row. Element (i,j) with i<=j is stored at j*(j+1)/2+i.
func Index(i, j int) int {
	if i > j {
		i, j = j, i
	}
	return j*(j+1)/2 + i
}

// Size returns the number of elements needed to store an n x n symmetric
// matrix in packed triangular form.
func Size(n int) int {
	return n * (n + 1) / 2
}

// States returns every (i,j) pair with i<=j<n, ordered so that
// States(n)[k] gives the pair whose Index is k. This is the canonical
// symmetry-class enumeration order shared by the haplotype-probability
// generator and the lookup-table builder.
func States(n int) [][2]int {
	states := make([][2]int, Size(n))
	idx := 0
	for j := 0; j < n; j++ {
		for i := 0; i <= j; i++ {
			states[idx] = [2]int{i, j}
			idx++
		}
	}
	return states
}

// Missing is the sentinel byte value reserved for "no data" in a packed
// byte matrix. It is not treated specially by Level/Get; callers that rely
// on the sentinel are expected to set Levels[Missing] to whatever
// no-contribution value is appropriate for their use (typically 0).
const Missing byte = 0xFF

// ByteMatrix is a symmetric n x n matrix over a small value set, packed
// into n(n+1)/2 bytes and interpreted through a shared Levels vector.
type ByteMatrix struct {
	N      int
	Data   []byte
	Levels []float64
}

// NewByteMatrix allocates a ByteMatrix of the given dimension, sharing the
// supplied levels vector. The data slice is zero-valued; callers that want
// an all-missing matrix should fill it with Missing explicitly.
func NewByteMatrix(n int, levels []float64) *ByteMatrix {
	return &ByteMatrix{N: n, Data: make([]byte, Size(n)), Levels: levels}
}

// Get returns the raw byte stored at (i,j).
func (m *ByteMatrix) Get(i, j int) byte {
	return m.Data[Index(i, j)]
}

// Set stores the raw byte value at (i,j).
func (m *ByteMatrix) Set(i, j int, v byte) {
	m.Data[Index(i, j)] = v
}

// Level looks up the real value for (i,j) through the shared Levels table.
func (m *ByteMatrix) Level(i, j int) float64 {
	return m.Levels[m.Get(i, j)]
}

// Float64Matrix is a dense symmetric n x n matrix of float64 values,
// packed into n(n+1)/2 elements, for stored quantities that don't fit in
// a byte-coded level.
type Float64Matrix struct {
	N    int
	Data []float64
}

// NewFloat64Matrix allocates a zero-valued packed triangular float matrix.
func NewFloat64Matrix(n int) *Float64Matrix {
	return &Float64Matrix{N: n, Data: make([]float64, Size(n))}
}

// Get returns the value stored at (i,j).
func (m *Float64Matrix) Get(i, j int) float64 {
	return m.Data[Index(i, j)]
}

// Set stores v at (i,j).
func (m *Float64Matrix) Set(i, j int, v float64) {
	m.Data[Index(i, j)] = v
}

// Package matrix implements the block-sparse matrices the constraint engine
// assembles each step. Block rows correspond to dynamic component solve
// indices; block columns to components (mass matrix) or constraint sets
// (transposed Jacobians GT, NT, DT).
package matrix

import (
	"fmt"
	"slices"

	"gonum.org/v1/gonum/mat"
)

type blockKey struct {
	bi, bj int
}

// SparseBlock is a block-sparse matrix with per-row and per-column block
// lists, so blocks can be walked along a row or down a column.
type SparseBlock struct {
	rowSizes   []int
	colSizes   []int
	rowOffsets []int
	colOffsets []int
	rowTotal   int
	colTotal   int

	blocks map[blockKey]*mat.Dense
	rows   [][]int
	cols   [][]int
}

// NewSparseBlock creates an empty matrix with the given block row and column
// sizes. colSizes may be nil when columns are appended with AddCol.
func NewSparseBlock(rowSizes, colSizes []int) *SparseBlock {
	s := &SparseBlock{
		blocks: make(map[blockKey]*mat.Dense),
	}
	for _, n := range rowSizes {
		s.AddRow(n)
	}
	for _, n := range colSizes {
		s.AddCol(n)
	}
	return s
}

// NewSquare creates an empty matrix whose columns mirror its rows, as used
// for mass matrices.
func NewSquare(sizes []int) *SparseBlock {
	return NewSparseBlock(sizes, sizes)
}

func (s *SparseBlock) AddRow(size int) int {
	if size <= 0 {
		panic(fmt.Sprintf("matrix: invalid block row size %d", size))
	}
	s.rowSizes = append(s.rowSizes, size)
	s.rowOffsets = append(s.rowOffsets, s.rowTotal)
	s.rowTotal += size
	s.rows = append(s.rows, nil)
	return len(s.rowSizes) - 1
}

func (s *SparseBlock) AddCol(size int) int {
	if size <= 0 {
		panic(fmt.Sprintf("matrix: invalid block col size %d", size))
	}
	s.colSizes = append(s.colSizes, size)
	s.colOffsets = append(s.colOffsets, s.colTotal)
	s.colTotal += size
	s.cols = append(s.cols, nil)
	return len(s.colSizes) - 1
}

func (s *SparseBlock) NumBlockRows() int    { return len(s.rowSizes) }
func (s *SparseBlock) NumBlockCols() int    { return len(s.colSizes) }
func (s *SparseBlock) RowSize(bi int) int   { return s.rowSizes[bi] }
func (s *SparseBlock) ColSize(bj int) int   { return s.colSizes[bj] }
func (s *SparseBlock) RowOffset(bi int) int { return s.rowOffsets[bi] }
func (s *SparseBlock) ColOffset(bj int) int { return s.colOffsets[bj] }
func (s *SparseBlock) Rows() int            { return s.rowTotal }
func (s *SparseBlock) Cols() int            { return s.colTotal }
func (s *SparseBlock) NumBlocks() int       { return len(s.blocks) }
func (s *SparseBlock) RowSizes() []int      { return append([]int(nil), s.rowSizes...) }

// Block returns the block at (bi, bj), or nil if none is stored.
func (s *SparseBlock) Block(bi, bj int) *mat.Dense {
	return s.blocks[blockKey{bi, bj}]
}

// AddBlock stores blk at (bi, bj). If a block already exists there blk is
// added into it. The matrix takes ownership of blk when it is stored.
func (s *SparseBlock) AddBlock(bi, bj int, blk *mat.Dense) {
	r, c := blk.Dims()
	if r != s.rowSizes[bi] || c != s.colSizes[bj] {
		panic(fmt.Sprintf("matrix: block (%d,%d) is %dx%d, want %dx%d",
			bi, bj, r, c, s.rowSizes[bi], s.colSizes[bj]))
	}
	key := blockKey{bi, bj}
	if existing, ok := s.blocks[key]; ok {
		existing.Add(existing, blk)
		return
	}
	s.blocks[key] = blk
	s.rows[bi] = append(s.rows[bi], bj)
	s.cols[bj] = append(s.cols[bj], bi)
}

// EnsureBlock returns the block at (bi, bj), creating a zero block if needed.
func (s *SparseBlock) EnsureBlock(bi, bj int) *mat.Dense {
	if blk := s.Block(bi, bj); blk != nil {
		return blk
	}
	blk := mat.NewDense(s.rowSizes[bi], s.colSizes[bj], nil)
	s.AddBlock(bi, bj, blk)
	return blk
}

// RowBlocks returns the block column indices present in row bi, in insertion
// order. The slice must not be modified.
func (s *SparseBlock) RowBlocks(bi int) []int {
	return s.rows[bi]
}

// ColBlocks returns the block row indices present in column bj, in insertion
// order. The slice must not be modified.
func (s *SparseBlock) ColBlocks(bj int) []int {
	return s.cols[bj]
}

// Signature encodes block sizes and the block pattern. Two matrices with equal
// signatures have identical structure.
func (s *SparseBlock) Signature() []int {
	sig := make([]int, 0, 3+len(s.rowSizes)+len(s.colSizes)+2*len(s.blocks))
	sig = append(sig, len(s.rowSizes), len(s.colSizes))
	sig = append(sig, s.rowSizes...)
	sig = append(sig, s.colSizes...)
	for bj := range s.cols {
		sig = append(sig, -1-bj)
		pattern := slices.Clone(s.cols[bj])
		slices.Sort(pattern)
		sig = append(sig, pattern...)
	}
	return sig
}

// Dense expands the matrix into a dense gonum matrix.
func (s *SparseBlock) Dense() *mat.Dense {
	if s.rowTotal == 0 || s.colTotal == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(s.rowTotal, s.colTotal, nil)
	for key, blk := range s.blocks {
		r, c := blk.Dims()
		sub := d.Slice(s.rowOffsets[key.bi], s.rowOffsets[key.bi]+r,
			s.colOffsets[key.bj], s.colOffsets[key.bj]+c).(*mat.Dense)
		sub.Copy(blk)
	}
	return d
}

// MulAdd computes y += A x. Blocks are visited column by column in
// insertion order so results are reproducible.
func (s *SparseBlock) MulAdd(y, x []float64) {
	for bj, col := range s.cols {
		co := s.colOffsets[bj]
		for _, bi := range col {
			blk := s.blocks[blockKey{bi, bj}]
			r, c := blk.Dims()
			ro := s.rowOffsets[bi]
			for i := 0; i < r; i++ {
				sum := 0.0
				for j := 0; j < c; j++ {
					sum += blk.At(i, j) * x[co+j]
				}
				y[ro+i] += sum
			}
		}
	}
}

// MulTransposeAdd computes y += Aᵀ x.
func (s *SparseBlock) MulTransposeAdd(y, x []float64) {
	for bj, col := range s.cols {
		co := s.colOffsets[bj]
		for _, bi := range col {
			blk := s.blocks[blockKey{bi, bj}]
			r, c := blk.Dims()
			ro := s.rowOffsets[bi]
			for j := 0; j < c; j++ {
				sum := 0.0
				for i := 0; i < r; i++ {
					sum += blk.At(i, j) * x[ro+i]
				}
				y[co+j] += sum
			}
		}
	}
}

// Clone returns a deep copy.
func (s *SparseBlock) Clone() *SparseBlock {
	c := NewSparseBlock(s.rowSizes, s.colSizes)
	for bj := range s.cols {
		for _, bi := range s.cols[bj] {
			c.AddBlock(bi, bj, mat.DenseCopyOf(s.Block(bi, bj)))
		}
	}
	return c
}

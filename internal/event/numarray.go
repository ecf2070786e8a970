package event

import "fmt"

// NumArray is a dense numeric buffer with an optional multi-dimensional
// shape. It supports region replacement but, unlike list properties, no
// in-place resize: insert and remove on a NumArray-valued property fail
// with ErrNotImplemented. The asymmetry with ordinary sequences is
// deliberate and must not be unified.
type NumArray struct {
	Shape []int
	Data  []float64
}

// NewNumArray allocates a zeroed buffer with the given shape.
func NewNumArray(shape ...int) *NumArray {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &NumArray{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Equal reports elementwise equality, shape included.
func (a *NumArray) Equal(b *NumArray) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Shape) != len(b.Shape) || len(a.Data) != len(b.Data) {
		return false
	}
	for i, d := range a.Shape {
		if b.Shape[i] != d {
			return false
		}
	}
	for i, v := range a.Data {
		if b.Data[i] != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (a *NumArray) Clone() *NumArray {
	if a == nil {
		return nil
	}
	return &NumArray{
		Shape: append([]int(nil), a.Shape...),
		Data:  append([]float64(nil), a.Data...),
	}
}

// replaceRegion writes src into the buffer at the given multi-dimensional
// offset. The offset rank must match the buffer rank and the source region
// must fit; resizing is not supported.
func (a *NumArray) replaceRegion(index []int, src *NumArray) error {
	if a == nil || src == nil {
		return fmt.Errorf("%w: replace on nil numeric buffer", ErrIndex)
	}
	if len(index) != len(a.Shape) || len(src.Shape) != len(a.Shape) {
		return fmt.Errorf("%w: rank mismatch (buffer %d, index %d, source %d)",
			ErrIndex, len(a.Shape), len(index), len(src.Shape))
	}
	for i, off := range index {
		if off < 0 {
			return fmt.Errorf("%w: negative offset %d in dimension %d", ErrIndex, off, i)
		}
		if off+src.Shape[i] > a.Shape[i] {
			return fmt.Errorf("%w: region exceeds dimension %d (%d+%d > %d)",
				ErrIndex, i, off, src.Shape[i], a.Shape[i])
		}
	}
	copyRegion(a, src, index, make([]int, len(index)), 0)
	return nil
}

// copyRegion recurses over all but the innermost dimension and copies
// contiguous rows.
func copyRegion(dst, src *NumArray, offset, pos []int, dim int) {
	if dim == len(src.Shape)-1 {
		d := flatIndex(dst.Shape, offset, pos)
		s := flatIndex(src.Shape, make([]int, len(pos)), pos)
		copy(dst.Data[d:d+src.Shape[dim]], src.Data[s:s+src.Shape[dim]])
		return
	}
	for i := 0; i < src.Shape[dim]; i++ {
		pos[dim] = i
		copyRegion(dst, src, offset, pos, dim+1)
	}
	pos[dim] = 0
}

func flatIndex(shape, offset, pos []int) int {
	idx := 0
	for i := range shape {
		idx = idx*shape[i] + offset[i] + pos[i]
	}
	return idx
}

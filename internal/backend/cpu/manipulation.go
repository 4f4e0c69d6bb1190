package cpu

import (
	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// blockMode selects how a row/column block is moved between two matrices.
type blockMode int

const (
	blockCopy       blockMode = iota // small = big[block]
	blockPaste                       // big[block] = small
	blockAddIntoBig                  // big[block] += small
	blockAddFromBig                  // small += big[block]
)

// CopyRows sets dst to rows [offset, offset+dst.rows) of src.
func (cpu *CPUBackend) CopyRows(dst, src *tensor.RawTensor, offset int) {
	cpu.rowBlock("copy_rows", dst, src, offset, blockCopy)
}

// PasteRows writes src into rows [offset, offset+src.rows) of dst.
func (cpu *CPUBackend) PasteRows(dst, src *tensor.RawTensor, offset int) {
	cpu.rowBlock("paste_rows", src, dst, offset, blockPaste)
}

// AddRowsInto accumulates src into rows [offset, offset+src.rows) of dst.
func (cpu *CPUBackend) AddRowsInto(dst, src *tensor.RawTensor, offset int) {
	cpu.rowBlock("add_rows_into", src, dst, offset, blockAddIntoBig)
}

// AddRowsFrom accumulates rows [offset, offset+dst.rows) of src into dst.
func (cpu *CPUBackend) AddRowsFrom(dst, src *tensor.RawTensor, offset int) {
	cpu.rowBlock("add_rows_from", dst, src, offset, blockAddFromBig)
}

// CopyColumns sets dst to columns [offset, offset+dst.cols) of src.
func (cpu *CPUBackend) CopyColumns(dst, src *tensor.RawTensor, offset int) {
	cpu.colBlock("copy_columns", dst, src, offset, blockCopy)
}

// PasteColumns writes src into columns [offset, offset+src.cols) of dst.
func (cpu *CPUBackend) PasteColumns(dst, src *tensor.RawTensor, offset int) {
	cpu.colBlock("paste_columns", src, dst, offset, blockPaste)
}

// AddColumnsInto accumulates src into columns [offset, offset+src.cols) of dst.
func (cpu *CPUBackend) AddColumnsInto(dst, src *tensor.RawTensor, offset int) {
	cpu.colBlock("add_columns_into", src, dst, offset, blockAddIntoBig)
}

// AddColumnsFrom accumulates columns [offset, offset+dst.cols) of src into dst.
func (cpu *CPUBackend) AddColumnsFrom(dst, src *tensor.RawTensor, offset int) {
	cpu.colBlock("add_columns_from", dst, src, offset, blockAddFromBig)
}

// rowBlock moves the row block of big selected by offset and small's height.
// Rows are contiguous, so the block is one flat range.
func (cpu *CPUBackend) rowBlock(op string, small, big *tensor.RawTensor, offset int, mode blockMode) {
	sameDType(op, small, big)
	sRows, sCols := rowsCols(small)
	bRows, bCols := rowsCols(big)
	if sCols != bCols || offset < 0 || offset+sRows > bRows {
		exceptions.Panicf("%s: block %s at row %d does not fit %s", op, small.Shape(), offset, big.Shape())
	}
	lo, hi := offset*bCols, (offset+sRows)*bCols
	switch small.DType() {
	case tensor.Float32:
		moveBlock(view[float32](small), view[float32](big)[lo:hi], mode)
	case tensor.Float64:
		moveBlock(view[float64](small), view[float64](big)[lo:hi], mode)
	default:
		unsupported(op, small.DType())
	}
}

// colBlock moves the column block of big selected by offset and small's width.
func (cpu *CPUBackend) colBlock(op string, small, big *tensor.RawTensor, offset int, mode blockMode) {
	sameDType(op, small, big)
	sRows, sCols := rowsCols(small)
	bRows, bCols := rowsCols(big)
	if sRows != bRows || offset < 0 || offset+sCols > bCols {
		exceptions.Panicf("%s: block %s at column %d does not fit %s", op, small.Shape(), offset, big.Shape())
	}
	switch small.DType() {
	case tensor.Float32:
		s, b := view[float32](small), view[float32](big)
		for i := 0; i < sRows; i++ {
			moveBlock(s[i*sCols:(i+1)*sCols], b[i*bCols+offset:i*bCols+offset+sCols], mode)
		}
	case tensor.Float64:
		s, b := view[float64](small), view[float64](big)
		for i := 0; i < sRows; i++ {
			moveBlock(s[i*sCols:(i+1)*sCols], b[i*bCols+offset:i*bCols+offset+sCols], mode)
		}
	default:
		unsupported(op, small.DType())
	}
}

func moveBlock[T tensor.Float](small, big []T, mode blockMode) {
	switch mode {
	case blockCopy:
		copy(small, big)
	case blockPaste:
		copy(big, small)
	case blockAddIntoBig:
		for i, v := range small {
			big[i] += v
		}
	case blockAddFromBig:
		for i, v := range big {
			small[i] += v
		}
	}
}

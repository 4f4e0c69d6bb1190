package tensor

// Backend is the device op-executor the compute graph calls into. Every kernel
// writes into a caller-provided destination so that the graph decides where
// buffers come from (step arena or long-lived parameters).
//
// All tensors are 2-D row-major matrices [rows, cols]. Kernels panic on shape
// or dtype violations; the graph validates shapes before calling them.
//
// Kernels named Add*Into/Add*From accumulate (+=) into dst and never overwrite it.
type Backend interface {
	// Gemm computes dst = op(a)·op(b) + beta·dst where op transposes when requested.
	Gemm(dst, a, b *RawTensor, transA, transB bool, beta float64)

	// Element-wise binary operations. For Add and Sub, b may be a [1, cols]
	// row that is broadcast over every row of a.
	Add(dst, a, b *RawTensor)
	Sub(dst, a, b *RawTensor)
	Mul(dst, a, b *RawTensor)

	// Accumulation
	AddInto(dst, src *RawTensor)                      // dst += src
	AddScaledInto(dst, src *RawTensor, alpha float64) // dst += alpha·src
	AddMulInto(dst, a, b *RawTensor)                  // dst += a⊙b
	AddSumRowsInto(dst, src *RawTensor)               // dst[0,:] += Σ_i src[i,:]

	// Per-row scaling by a [rows, 1] column.
	ScaleRows(dst, x, s *RawTensor)        // dst[i,:] = x[i,:]·s[i]
	AddScaleRowsInto(dst, x, s *RawTensor) // dst[i,:] += x[i,:]·s[i]
	AddRowDotInto(dst, a, b *RawTensor)    // dst[i,0] += Σ_j a[i,j]·b[i,j]

	// Activations and their gradients given the forward output y.
	Sigmoid(dst, x *RawTensor)
	Tanh(dst, x *RawTensor)
	Softmax(dst, x *RawTensor) // row-wise
	AddSigmoidGradInto(dst, y, dy *RawTensor)
	AddTanhGradInto(dst, y, dy *RawTensor)
	AddSoftmaxGradInto(dst, y, dy *RawTensor)

	// Row and column block movement.
	CopyRows(dst, src *RawTensor, offset int)       // dst = src[offset : offset+dst.rows]
	PasteRows(dst, src *RawTensor, offset int)      // dst[offset : offset+src.rows] = src
	AddRowsInto(dst, src *RawTensor, offset int)    // dst[offset : offset+src.rows] += src
	AddRowsFrom(dst, src *RawTensor, offset int)    // dst += src[offset : offset+dst.rows]
	CopyColumns(dst, src *RawTensor, offset int)    // dst = src[:, offset : offset+dst.cols]
	PasteColumns(dst, src *RawTensor, offset int)   // dst[:, offset : offset+src.cols] = src
	AddColumnsInto(dst, src *RawTensor, offset int) // dst[:, offset : offset+src.cols] += src
	AddColumnsFrom(dst, src *RawTensor, offset int) // dst += src[:, offset : offset+dst.cols]

	// Fill sets every element to v.
	Fill(dst *RawTensor, v float64)

	// Metadata
	Name() string
	Device() DeviceID
}

package weight

import (
	"sync"

	"github.com/gomlx/exceptions"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// Factory hands out zeroed, non-trainable tensors for recurrent start states
// and reclaims them in bulk between batches.
//
// Buffers come from an arena; a recycled buffer is always cleared before it
// is returned. A Factory is safe for concurrent use.
type Factory struct {
	mu    sync.Mutex
	arena *tensor.Arena
	dtype tensor.DataType
	made  []*Tensor
}

// NewFactory creates a float32 factory with its own arena.
func NewFactory() *Factory {
	return &Factory{arena: tensor.NewArena(), dtype: tensor.Float32}
}

// NewFactoryWithDType creates a factory producing tensors of dtype dt.
func NewFactoryWithDType(dt tensor.DataType) *Factory {
	f := NewFactory()
	f.dtype = dt
	return f
}

// Zeros returns a zeroed, non-trainable tensor of the given shape on device.
func (f *Factory) Zeros(name string, shape tensor.Shape, device tensor.DeviceID) *Tensor {
	value, err := f.arena.NewRaw(shape, f.dtype, device)
	if err != nil {
		exceptions.Panicf("factory: %q: %v", name, err)
	}
	t := &Tensor{name: name, value: value}
	f.mu.Lock()
	f.made = append(f.made, t)
	f.mu.Unlock()
	return t
}

// Len returns the number of live tensors produced since the last Release.
func (f *Factory) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.made)
}

// Release frees every tensor the factory produced. Callers must not use them
// afterwards.
func (f *Factory) Release() {
	f.mu.Lock()
	made := f.made
	f.made = nil
	f.mu.Unlock()
	for _, t := range made {
		t.Release()
	}
}

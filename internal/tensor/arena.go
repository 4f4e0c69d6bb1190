package tensor

import (
	"sync"
)

// Arena recycles tensor buffers keyed by byte size. Intermediate tensors of a
// training step are allocated from a Scope and released together once the
// backward pass has finished.
//
// An Arena is safe for concurrent use; a Scope is not.
type Arena struct {
	pools map[int]*sync.Pool
	mu    sync.RWMutex
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{pools: make(map[int]*sync.Pool)}
}

// defaultArena backs graphs that are not given an explicit arena.
var defaultArena = NewArena()

// DefaultArena returns the process-wide arena.
func DefaultArena() *Arena {
	return defaultArena
}

func (a *Arena) poolFor(size int) *sync.Pool {
	a.mu.RLock()
	pool, ok := a.pools[size]
	a.mu.RUnlock()
	if ok {
		return pool
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if pool, ok := a.pools[size]; ok {
		return pool
	}
	pool = &sync.Pool{
		New: func() any {
			buf := make([]byte, size)
			return &buf
		},
	}
	a.pools[size] = pool
	return pool
}

// NewRaw allocates a zeroed tensor whose buffer returns to the arena on Release.
func (a *Arena) NewRaw(shape Shape, dtype DataType, device DeviceID) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	size := shape.NumElements() * dtype.Size()
	bufPtr, _ := a.poolFor(size).Get().(*[]byte)
	buf := *bufPtr
	clear(buf)
	return &RawTensor{
		data:   buf,
		shape:  shape.Clone(),
		dtype:  dtype,
		device: device,
		arena:  a,
	}, nil
}

func (a *Arena) put(buf []byte) {
	a.poolFor(len(buf)).Put(&buf)
}

// Scope tracks every buffer allocated through it so the whole set can be
// released in one call.
type Scope struct {
	arena *Arena
	live  []*RawTensor
}

// NewScope opens an allocation scope on the arena.
func (a *Arena) NewScope() *Scope {
	return &Scope{arena: a, live: make([]*RawTensor, 0, 256)}
}

// NewRaw allocates a zeroed tensor owned by the scope.
func (s *Scope) NewRaw(shape Shape, dtype DataType, device DeviceID) (*RawTensor, error) {
	r, err := s.arena.NewRaw(shape, dtype, device)
	if err != nil {
		return nil, err
	}
	s.live = append(s.live, r)
	return r, nil
}

// Len returns the number of live buffers in the scope.
func (s *Scope) Len() int {
	return len(s.live)
}

// ReleaseAll returns every buffer of the scope to the arena and reports how
// many bytes were released.
func (s *Scope) ReleaseAll() int {
	total := 0
	for _, r := range s.live {
		if !r.Released() {
			total += r.ByteSize()
			r.Release()
		}
	}
	s.live = s.live[:0]
	return total
}

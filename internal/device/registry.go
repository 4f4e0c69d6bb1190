// Package device maps device ids to the op-executors that own their buffers.
//
// Every parameter and intermediate tensor carries a tensor.DeviceID; graphs
// and replicas resolve the backend for that id through a Registry.
package device

import (
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/backend/cpu"
	"github.com/born-ml/seq2seq/internal/tensor"
)

var (
	// ErrUnknownDevice is returned when no backend is registered for a device id.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrDuplicateDevice is returned when a device id is registered twice.
	ErrDuplicateDevice = errors.New("device already registered")
)

// Registry resolves device ids to backends. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	backends map[tensor.DeviceID]tensor.Backend
}

// NewRegistry creates a registry holding the given backends, keyed by their
// Device() id.
func NewRegistry(backends ...tensor.Backend) (*Registry, error) {
	r := &Registry{backends: make(map[tensor.DeviceID]tensor.Backend, len(backends))}
	for _, b := range backends {
		if err := r.Register(b); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// NewCPU creates a registry with one CPU backend per id.
func NewCPU(ids ...tensor.DeviceID) *Registry {
	if len(ids) == 0 {
		ids = []tensor.DeviceID{0}
	}
	r := &Registry{backends: make(map[tensor.DeviceID]tensor.Backend, len(ids))}
	for _, id := range ids {
		if _, found := r.backends[id]; found {
			continue
		}
		r.backends[id] = cpu.NewOnDevice(id)
	}
	klog.V(1).Infof("device registry: %d CPU device(s) %v", len(r.backends), ids)
	return r
}

// Register adds b under b.Device().
func (r *Registry) Register(b tensor.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := b.Device()
	if _, found := r.backends[id]; found {
		return errors.Wrapf(ErrDuplicateDevice, "registering %s backend for %s", b.Name(), id)
	}
	r.backends[id] = b
	return nil
}

// Backend returns the backend registered for id.
func (r *Registry) Backend(id tensor.DeviceID) (tensor.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, found := r.backends[id]
	if !found {
		return nil, errors.Wrapf(ErrUnknownDevice, "%s", id)
	}
	return b, nil
}

// MustBackend is like Backend but panics (with an error) for unknown ids.
func (r *Registry) MustBackend(id tensor.DeviceID) tensor.Backend {
	b, err := r.Backend(id)
	if err != nil {
		exceptions.Panicf("%v", err)
	}
	return b
}

// Devices lists the registered ids in ascending order.
func (r *Registry) Devices() []tensor.DeviceID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]tensor.DeviceID, 0, len(r.backends))
	for id := range r.backends {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Transfer copies src into dst. Both tensors must be on registered devices and
// agree on shape and dtype. All current backends keep their buffers in host
// memory, so the transfer is a plain buffer copy.
func (r *Registry) Transfer(dst, src *tensor.RawTensor) error {
	for _, id := range []tensor.DeviceID{dst.Device(), src.Device()} {
		if _, err := r.Backend(id); err != nil {
			return errors.WithMessage(err, "transfer")
		}
	}
	if err := dst.CopyFrom(src); err != nil {
		return errors.Wrapf(err, "transfer %s -> %s", src.Device(), dst.Device())
	}
	return nil
}

// Upload returns a copy of src allocated on device id.
func (r *Registry) Upload(src *tensor.RawTensor, id tensor.DeviceID) (*tensor.RawTensor, error) {
	dst, err := tensor.NewRaw(src.Shape(), src.DType(), id)
	if err != nil {
		return nil, err
	}
	if err := r.Transfer(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

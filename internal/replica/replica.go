// Package replica runs data-parallel training steps: one copy of a model per
// device, each working on its own shard of the batch, with gradients summed
// into the primary copy.
//
// Typical step:
//
//	err := reps.Step(ctx, func(i int, unit nn.NeuralUnit, g *graph.Graph) error {
//	    f := weight.NewFactory()
//	    defer f.Release()
//	    loss := unit.(*nn.Seq2Seq).Forward(g, f, src[i], tgt[i])
//	    return g.Backward(loss)
//	})
//	if err == nil {
//	    err = reps.AggregateGrads()
//	}
//	// ... optimizer step on reps.Primary().GetParams() ...
//	err = reps.SyncWeights()
package replica

import (
	"context"
	"slices"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/graph"
	"github.com/born-ml/seq2seq/internal/nn"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// ErrParamMismatch is returned when a replica's parameter list no longer
// lines up with the primary's.
var ErrParamMismatch = errors.New("replica parameters do not match primary")

// StepFunc runs the forward and backward pass of replica idx on graph g.
type StepFunc func(idx int, unit nn.NeuralUnit, g *graph.Graph) error

// Replicas holds one unit per device. Index 0 is the primary: the unit the
// replicas were built from, which receives aggregated gradients and is the
// source of SyncWeights.
type Replicas struct {
	registry *device.Registry
	units    []nn.NeuralUnit
}

// New builds replicas of primary on devices. The first device must be the
// primary's own device; every other device gets a CloneToDeviceAt copy.
func New(primary nn.NeuralUnit, registry *device.Registry, devices ...tensor.DeviceID) (*Replicas, error) {
	if len(devices) == 0 {
		devices = []tensor.DeviceID{primary.GetDeviceId()}
	}
	if devices[0] != primary.GetDeviceId() {
		return nil, errors.Errorf("replicas of %q: first device %s is not the primary's device %s",
			primary.Name(), devices[0], primary.GetDeviceId())
	}
	seen := make(map[tensor.DeviceID]bool, len(devices))
	for _, id := range devices {
		if seen[id] {
			return nil, errors.Errorf("replicas of %q: device %s listed twice", primary.Name(), id)
		}
		seen[id] = true
		if _, err := registry.Backend(id); err != nil {
			return nil, errors.WithMessagef(err, "replicas of %q", primary.Name())
		}
	}

	r := &Replicas{registry: registry, units: []nn.NeuralUnit{primary}}
	for _, id := range devices[1:] {
		r.units = append(r.units, primary.CloneToDeviceAt(id))
	}
	klog.V(1).Infof("replicated %q on %d device(s) %v", primary.Name(), len(devices), devices)
	return r, nil
}

// Len returns the number of replicas, primary included.
func (r *Replicas) Len() int { return len(r.units) }

// Primary returns the unit replicas were built from.
func (r *Replicas) Primary() nn.NeuralUnit { return r.units[0] }

// Unit returns replica i.
func (r *Replicas) Unit(i int) nn.NeuralUnit { return r.units[i] }

// Devices returns the device of every replica, in replica order.
func (r *Replicas) Devices() []tensor.DeviceID {
	ids := make([]tensor.DeviceID, len(r.units))
	for i, u := range r.units {
		ids[i] = u.GetDeviceId()
	}
	return ids
}

// Step runs fn for every replica concurrently, each on a fresh
// backprop-enabled graph bound to the replica's device. Graphs are disposed
// once fn returns. Panics raised by graph operations inside fn are returned
// as errors.
//
// ctx is checked between launches only: a replica that started runs to
// completion. The first error is returned after every launched replica
// finished.
func (r *Replicas) Step(ctx context.Context, fn StepFunc) error {
	eg, ctx := errgroup.WithContext(ctx)
	for i, unit := range r.units {
		if err := ctx.Err(); err != nil {
			_ = eg.Wait()
			return errors.Wrapf(err, "replica step cancelled before replica %d", i)
		}
		eg.Go(func() error {
			g, err := graph.New(unit.GetDeviceId(), r.registry, true)
			if err != nil {
				return err
			}
			defer g.Dispose()
			var fnErr error
			if err := graph.Run(func() { fnErr = fn(i, unit, g) }); err != nil {
				return errors.WithMessagef(err, "replica %d on %s", i, unit.GetDeviceId())
			}
			return errors.WithMessagef(fnErr, "replica %d on %s", i, unit.GetDeviceId())
		})
	}
	return eg.Wait()
}

// AggregateGrads adds every replica's gradients into the primary's, in
// parameter order, and clears the replica gradients.
func (r *Replicas) AggregateGrads() error {
	primary := r.Primary()
	dstParams := primary.GetParams()
	for i, unit := range r.units[1:] {
		srcParams, err := r.aligned(unit, dstParams)
		if err != nil {
			return err
		}
		for j, src := range srcParams {
			grad := src.Grad()
			if grad == nil {
				continue
			}
			dst := dstParams[j]
			be, err := r.registry.Backend(dst.Device())
			if err != nil {
				return err
			}
			if grad.Device() != dst.Device() {
				if grad, err = r.registry.Upload(grad, dst.Device()); err != nil {
					return errors.WithMessagef(err, "gradient of %q from replica %d", src.Name(), i+1)
				}
			}
			if err := dst.AccumulateGrad(be, grad); err != nil {
				return errors.WithMessagef(err, "gradient of %q from replica %d", src.Name(), i+1)
			}
			src.ZeroGrad()
		}
	}
	return nil
}

// SyncWeights copies the primary's parameter values to every replica.
func (r *Replicas) SyncWeights() error {
	srcParams := r.Primary().GetParams()
	for _, unit := range r.units[1:] {
		dstParams, err := r.aligned(unit, srcParams)
		if err != nil {
			return err
		}
		for j, dst := range dstParams {
			if err := r.registry.Transfer(dst.Value(), srcParams[j].Value()); err != nil {
				return errors.WithMessagef(err, "syncing %q to %s", dst.Name(), unit.GetDeviceId())
			}
		}
	}
	return nil
}

// ZeroGrads clears the gradients of every replica, primary included.
func (r *Replicas) ZeroGrads() {
	for _, u := range r.units {
		nn.ZeroGrads(u)
	}
}

// aligned returns unit's parameters after checking they pair one to one,
// by name and shape, with ref.
func (r *Replicas) aligned(unit nn.NeuralUnit, ref []*weight.Tensor) ([]*weight.Tensor, error) {
	params := unit.GetParams()
	if len(params) != len(ref) {
		return nil, errors.Wrapf(ErrParamMismatch, "%s has %d parameters, primary has %d",
			unit.GetDeviceId(), len(params), len(ref))
	}
	for j, p := range params {
		if p.Name() != ref[j].Name() || !slices.Equal(p.Shape(), ref[j].Shape()) {
			return nil, errors.Wrapf(ErrParamMismatch, "parameter %d on %s is %s, primary has %s",
				j, unit.GetDeviceId(), p, ref[j])
		}
	}
	return params, nil
}

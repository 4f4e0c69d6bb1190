// Package graph implements the dynamically recorded compute graph.
//
// Every differentiable operation computes its output immediately on the
// graph's device and, when backprop is enabled, appends a record holding a
// backward closure. Backward replays the records in exact reverse order,
// accumulating into the gradient buffers of the tensors involved.
//
// A Graph is built for one step on one device and is single-use: after
// Backward it can only be disposed. Intermediates live in a step arena and are
// released together by Dispose; parameter tensors are never touched by it.
//
// Example:
//
//	g, err := graph.New(0, registry, true)
//	...
//	err = graph.Run(func() {
//		logits := proj.Process(dec.Decode(x, pre, batch, g), g)
//		_, loss := g.SoftmaxCrossEntropy(logits, targets)
//		must.M(g.Backward(loss))
//	})
//	g.Dispose()
package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/device"
	"github.com/born-ml/seq2seq/internal/tensor"
	"github.com/born-ml/seq2seq/internal/weight"
)

// Operation is one record of the tape.
type Operation struct {
	Kind     string
	Inputs   []*weight.Tensor
	Output   *weight.Tensor
	backward func()
}

// tape is the state shared by a graph and all of its sub-graphs.
type tape struct {
	ops      []Operation
	scope    *tensor.Scope
	consumed bool
	disposed bool
}

// Graph records differentiable operations for one step on one device.
// Sub-graphs created with CreateSubGraph share the tape and the arena.
type Graph struct {
	tape          *tape
	backend       tensor.Backend
	device        tensor.DeviceID
	needsBackprop bool
	prefix        string
}

// New creates a graph bound to the backend of deviceID. Intermediates are
// allocated from the process-wide arena.
func New(deviceID tensor.DeviceID, registry *device.Registry, needsBackprop bool) (*Graph, error) {
	return NewWithArena(deviceID, registry, needsBackprop, tensor.DefaultArena())
}

// NewWithArena is like New but allocates intermediates from arena.
func NewWithArena(deviceID tensor.DeviceID, registry *device.Registry, needsBackprop bool, arena *tensor.Arena) (*Graph, error) {
	backend, err := registry.Backend(deviceID)
	if err != nil {
		return nil, errors.WithMessage(err, "creating graph")
	}
	return &Graph{
		tape:          &tape{ops: make([]Operation, 0, 256), scope: arena.NewScope()},
		backend:       backend,
		device:        deviceID,
		needsBackprop: needsBackprop,
	}, nil
}

// CreateSubGraph returns a view of g whose intermediate names are prefixed
// with "<parent>.<name>". It shares the tape, so semantics do not change.
func (g *Graph) CreateSubGraph(name string) *Graph {
	sub := *g
	sub.prefix = g.qualify(name)
	return &sub
}

// Name returns the graph's name prefix ("" for the root).
func (g *Graph) Name() string { return g.prefix }

// Device returns the device the graph executes on.
func (g *Graph) Device() tensor.DeviceID { return g.device }

// Backend returns the op-executor of the graph's device.
func (g *Graph) Backend() tensor.Backend { return g.backend }

// NeedsBackprop reports whether operations are recorded for Backward.
func (g *Graph) NeedsBackprop() bool { return g.needsBackprop }

// Len returns the number of recorded operations.
func (g *Graph) Len() int { return len(g.tape.ops) }

// Ops returns a copy of the recorded operations, in forward order.
func (g *Graph) Ops() []Operation {
	return append([]Operation(nil), g.tape.ops...)
}

func (g *Graph) qualify(name string) string {
	if g.prefix == "" {
		return name
	}
	return g.prefix + "." + name
}

// Record appends an operation to the tape. Built-in operations call it with
// their backward closure; it is exported so that callers can add their own
// operations. It is a no-op when the graph does not need backprop.
func (g *Graph) Record(kind string, output *weight.Tensor, backward func(), inputs ...*weight.Tensor) {
	if !g.needsBackprop {
		return
	}
	g.mustBeOpen(kind)
	g.tape.ops = append(g.tape.ops, Operation{
		Kind:     kind,
		Inputs:   inputs,
		Output:   output,
		backward: backward,
	})
}

// newOutput allocates the output of an operation from the step arena. It is
// trainable iff backprop is on and any input is trainable.
func (g *Graph) newOutput(kind string, shape tensor.Shape, dtype tensor.DataType, inputs ...*weight.Tensor) *weight.Tensor {
	g.mustBeOpen(kind)
	trainable := false
	if g.needsBackprop {
		for _, in := range inputs {
			if in.Trainable() {
				trainable = true
				break
			}
		}
	}
	value, err := g.tape.scope.NewRaw(shape, dtype, g.device)
	if err != nil {
		shapePanic(kind, []tensor.Shape{shape}, "%v", err)
	}
	return weight.Wrap(g.qualify(kind), value, trainable, g.tape.scope)
}

// checkInputs validates dtypes and devices of the operands.
func (g *Graph) checkInputs(kind string, inputs ...*weight.Tensor) {
	for _, in := range inputs {
		if in.Device() != g.device {
			shapePanic(kind, shapesOf(inputs), "operand %q is on %s, graph runs on %s", in.Name(), in.Device(), g.device)
		}
		if in.DType() != inputs[0].DType() {
			shapePanic(kind, shapesOf(inputs), "mixed dtypes %s and %s", inputs[0].DType(), in.DType())
		}
		if in.Value().Released() {
			shapePanic(kind, shapesOf(inputs), "operand %q was released", in.Name())
		}
	}
}

func (g *Graph) mustBeOpen(kind string) {
	if g.tape.consumed || g.tape.disposed {
		exceptions.Panicf("graph %q: %s recorded after Backward or Dispose; graphs are single-use", g.prefix, kind)
	}
}

func shapesOf(ts []*weight.Tensor) []tensor.Shape {
	shapes := make([]tensor.Shape, len(ts))
	for i, t := range ts {
		shapes[i] = t.Shape()
	}
	return shapes
}

// Backward seeds out's gradient with ones (unless a gradient is already
// present) and replays the tape in reverse. Before touching any gradient it
// checks that every record has a backward closure.
//
// Backward runs at most once per graph. Any failure invalidates the whole
// step: gradients may be partially accumulated and must not be applied.
func (g *Graph) Backward(out *weight.Tensor) error {
	t := g.tape
	switch {
	case t.disposed || t.consumed:
		return errors.WithStack(ErrGraphConsumed)
	case !g.needsBackprop:
		return errors.WithStack(ErrNoBackprop)
	case !out.Trainable():
		return errors.Wrapf(ErrNotDifferentiable, "backward from %q", out.Name())
	}
	for i, op := range t.ops {
		if op.backward == nil {
			name := "<nil>"
			if op.Output != nil {
				name = op.Output.Name()
			}
			return errors.Wrapf(ErrMissingBackward, "op #%d %q (output %s)", i, op.Kind, name)
		}
	}
	t.consumed = true

	err := exceptions.TryCatch[error](func() {
		if out.Grad() == nil {
			g.backend.Fill(out.EnsureGrad(), 1)
		}
		for i := len(t.ops) - 1; i >= 0; i-- {
			t.ops[i].backward()
		}
	})
	if err != nil {
		return errors.WithMessage(err, "backward")
	}
	klog.V(2).Infof("graph %q: backward replayed %d operations", g.prefix, len(t.ops))
	return nil
}

// Dispose releases every intermediate the graph allocated. Parameters and
// their gradients are untouched. The graph cannot be used afterwards.
func (g *Graph) Dispose() {
	t := g.tape
	if t.disposed {
		return
	}
	t.disposed = true
	released := t.scope.ReleaseAll()
	klog.V(2).Infof("graph %q: disposed %d operations, released %d bytes", g.prefix, len(t.ops), released)
	t.ops = nil
}

// Run executes fn and converts the panics raised by graph operations (shape
// and device violations, kernel errors) into a returned error. It is the
// error boundary of a training or inference step.
func Run(fn func()) error {
	return exceptions.TryCatch[error](fn)
}

package graph

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/tensor"
)

var (
	// ErrMissingBackward is returned by Backward when an operation was
	// recorded without a backward closure.
	ErrMissingBackward = errors.New("operation has no backward function")

	// ErrGraphConsumed is returned when Backward runs twice on one graph.
	ErrGraphConsumed = errors.New("graph already consumed by a backward pass")

	// ErrNoBackprop is returned by Backward on a graph created without backprop.
	ErrNoBackprop = errors.New("graph was created without backprop")

	// ErrNotDifferentiable is returned when Backward starts from a tensor
	// that no trainable value contributed to.
	ErrNotDifferentiable = errors.New("tensor does not depend on any trainable value")
)

// ShapeError reports operands whose shapes (or devices) violate an operation's
// contract. Operations panic with it; Run turns the panic into an error.
type ShapeError struct {
	Op     string
	Shapes []tensor.Shape
	Reason string
}

// Error implements error.
func (e *ShapeError) Error() string {
	parts := make([]string, len(e.Shapes))
	for i, s := range e.Shapes {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s(%s): %s", e.Op, strings.Join(parts, ", "), e.Reason)
}

// shapePanic aborts the current operation with a *ShapeError.
func shapePanic(op string, shapes []tensor.Shape, format string, args ...any) {
	panic(errors.WithStack(&ShapeError{Op: op, Shapes: shapes, Reason: fmt.Sprintf(format, args...)}))
}

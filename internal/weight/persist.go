package weight

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/born-ml/seq2seq/internal/tensor"
)

// maxRecordName bounds the name length accepted by Load, to fail fast on a
// corrupted stream instead of allocating garbage.
const maxRecordName = 1 << 16

// Save writes one record:
//
//	name   uint32 length + bytes
//	rank   uint32
//	dims   uint32 × rank
//	dtype  uint8
//	data   raw little-endian buffer
func (t *Tensor) Save(w io.Writer) error {
	shape := t.Shape()
	header := make([]byte, 0, 4+len(t.name)+4+4*len(shape)+1)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(t.name))) //nolint:gosec // bounded by maxRecordName on load
	header = append(header, t.name...)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(shape))) //nolint:gosec // rank is 2
	for _, d := range shape {
		header = binary.LittleEndian.AppendUint32(header, uint32(d)) //nolint:gosec // dims are validated positive ints
	}
	header = append(header, byte(t.DType()))
	if _, err := w.Write(header); err != nil {
		return errors.Wrapf(err, "writing header of %q", t.name)
	}
	if _, err := w.Write(t.value.Data()); err != nil {
		return errors.Wrapf(err, "writing data of %q", t.name)
	}
	return nil
}

// Load reads the next record into t's existing buffer. The record must carry
// t's name, shape and dtype; any difference is fatal for the load.
func (t *Tensor) Load(r io.Reader) error {
	var u32 [4]byte
	readU32 := func(what string) (uint32, error) {
		if _, err := io.ReadFull(r, u32[:]); err != nil {
			return 0, errors.Wrapf(err, "reading %s of %q", what, t.name)
		}
		return binary.LittleEndian.Uint32(u32[:]), nil
	}

	nameLen, err := readU32("name length")
	if err != nil {
		return err
	}
	if nameLen > maxRecordName {
		return errors.Wrapf(ErrNameMismatch, "record name length %d while loading %q", nameLen, t.name)
	}
	name := make([]byte, nameLen)
	if _, err := io.ReadFull(r, name); err != nil {
		return errors.Wrapf(err, "reading name of %q", t.name)
	}
	if string(name) != t.name {
		return errors.Wrapf(ErrNameMismatch, "stream has %q, expected %q", name, t.name)
	}

	rank, err := readU32("rank")
	if err != nil {
		return err
	}
	if int(rank) != len(t.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "%q: stored rank %d, expected %s", t.name, rank, t.Shape())
	}
	stored := make(tensor.Shape, rank)
	for i := range stored {
		d, err := readU32("dims")
		if err != nil {
			return err
		}
		stored[i] = int(d)
	}
	if !stored.Equal(t.Shape()) {
		return errors.Wrapf(ErrShapeMismatch, "%q: stored %s, expected %s", t.name, stored, t.Shape())
	}

	var dt [1]byte
	if _, err := io.ReadFull(r, dt[:]); err != nil {
		return errors.Wrapf(err, "reading dtype of %q", t.name)
	}
	if tensor.DataType(dt[0]) != t.DType() {
		return errors.Wrapf(ErrDTypeMismatch, "%q: stored %s, expected %s", t.name, tensor.DataType(dt[0]), t.DType())
	}

	if _, err := io.ReadFull(r, t.value.Data()); err != nil {
		return errors.Wrapf(err, "reading data of %q", t.name)
	}
	return nil
}

// RecordSize returns the number of bytes Save writes for t.
func (t *Tensor) RecordSize() int {
	return 4 + len(t.name) + 4 + 4*len(t.Shape()) + 1 + t.value.ByteSize()
}

package nn

import (
	"bytes"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/seq2seq/internal/serialization"
)

// ErrCheckpointMismatch is returned when a checkpoint's tensor list does not
// describe the unit it is loaded into.
var ErrCheckpointMismatch = errors.New("checkpoint does not match model")

// CheckpointInfo carries the optional parts of a checkpoint header.
type CheckpointInfo struct {
	Training *serialization.TrainingMeta
	Metadata map[string]string
}

// EncodeCheckpoint builds the header and payload of unit's checkpoint. The
// payload is exactly what unit.Save writes.
func EncodeCheckpoint(unit NeuralUnit, info CheckpointInfo) (serialization.Header, []byte, error) {
	var payload bytes.Buffer
	if err := unit.Save(&payload); err != nil {
		return serialization.Header{}, nil, errors.WithMessagef(err, "saving %q", unit.Name())
	}

	records := ParamRecords(unit)
	tensors := make([]serialization.TensorMeta, len(records))
	var offset int64
	for i, r := range records {
		tensors[i] = serialization.TensorMeta{
			Name:   r.Name,
			DType:  r.DType.String(),
			Shape:  r.Shape.Clone(),
			Device: int(r.Device),
			Offset: offset,
			Size:   int64(r.Bytes),
		}
		offset += int64(r.Bytes)
	}
	if offset != int64(payload.Len()) {
		return serialization.Header{}, nil, errors.Errorf("%q wrote %d bytes, its records describe %d",
			unit.Name(), payload.Len(), offset)
	}

	header := serialization.Header{
		ID:        uuid.NewString(),
		ModelType: unit.Kind().String(),
		ModelName: unit.Name(),
		CreatedAt: time.Now().UTC(),
		Tensors:   tensors,
		Metadata:  info.Metadata,
		Training:  info.Training,
	}
	return header, payload.Bytes(), nil
}

// SaveCheckpoint writes unit to path and returns the checkpoint id.
func SaveCheckpoint(path string, unit NeuralUnit, info CheckpointInfo) (string, error) {
	header, payload, err := EncodeCheckpoint(unit, info)
	if err != nil {
		return "", err
	}
	if err := serialization.WriteFile(path, header, payload); err != nil {
		return "", err
	}
	klog.Infof("saved checkpoint %s of %q to %s: %d tensors, %s parameters, %s",
		header.ID, unit.Name(), path, len(header.Tensors),
		humanize.Comma(int64(CountParams(unit))), humanize.Bytes(uint64(len(payload))))
	return header.ID, nil
}

// LoadCheckpoint reads path into unit's existing buffers.
func LoadCheckpoint(path string, unit NeuralUnit) (*serialization.Header, error) {
	header, payload, err := serialization.ReadFile(path, serialization.ReaderOptions{})
	if err != nil {
		return nil, err
	}
	if err := RestoreCheckpoint(header, payload, unit); err != nil {
		return nil, errors.WithMessagef(err, "loading %s", path)
	}
	klog.Infof("loaded checkpoint %s into %q from %s (%s)", header.ID, unit.Name(), path,
		humanize.Bytes(uint64(len(payload))))
	return header, nil
}

// RestoreCheckpoint checks the header against unit's parameters, then loads
// the payload. The header must list every parameter of unit, in order, with
// the same name, shape and dtype, and the payload must be fully consumed.
func RestoreCheckpoint(header *serialization.Header, payload []byte, unit NeuralUnit) error {
	if header.ModelType != unit.Kind().String() {
		return errors.Wrapf(ErrCheckpointMismatch, "checkpoint holds a %s, model is a %s", header.ModelType, unit.Kind())
	}
	records := ParamRecords(unit)
	if len(header.Tensors) != len(records) {
		return errors.Wrapf(ErrCheckpointMismatch, "checkpoint has %d tensors, %q has %d parameters",
			len(header.Tensors), unit.Name(), len(records))
	}
	for i, r := range records {
		meta := header.Tensors[i]
		switch {
		case meta.Name != r.Name:
			return errors.Wrapf(ErrCheckpointMismatch, "tensor %d is %q, expected %q", i, meta.Name, r.Name)
		case !r.Shape.Equal(meta.Shape):
			return errors.Wrapf(ErrCheckpointMismatch, "tensor %q has shape %v, expected %v", meta.Name, meta.Shape, r.Shape)
		case meta.DType != r.DType.String():
			return errors.Wrapf(ErrCheckpointMismatch, "tensor %q has dtype %s, expected %s", meta.Name, meta.DType, r.DType)
		}
	}

	reader := bytes.NewReader(payload)
	if err := unit.Load(reader); err != nil {
		return err
	}
	if reader.Len() != 0 {
		return errors.Wrapf(ErrCheckpointMismatch, "%d trailing payload bytes", reader.Len())
	}
	return nil
}

package nn

import (
	"github.com/born-ml/seq2seq/internal/tensor"
)

// ParamRecord describes one parameter without exposing its buffer.
type ParamRecord struct {
	Name   string
	Shape  tensor.Shape
	DType  tensor.DataType
	Device tensor.DeviceID
	Bytes  int // size of the persisted record
}

// ParamRecords lists the parameters of unit in persistence order.
func ParamRecords(unit NeuralUnit) []ParamRecord {
	params := unit.GetParams()
	records := make([]ParamRecord, len(params))
	for i, p := range params {
		records[i] = ParamRecord{
			Name:   p.Name(),
			Shape:  p.Shape().Clone(),
			DType:  p.DType(),
			Device: p.Device(),
			Bytes:  p.RecordSize(),
		}
	}
	return records
}

// CountParams returns the number of scalar parameters of unit.
func CountParams(unit NeuralUnit) int {
	n := 0
	for _, p := range unit.GetParams() {
		n += p.Shape().NumElements()
	}
	return n
}

// ZeroGrads clears the gradients of every parameter of unit.
func ZeroGrads(unit NeuralUnit) {
	for _, p := range unit.GetParams() {
		p.ZeroGrad()
	}
}

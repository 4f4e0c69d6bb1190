package serialization

import "time"

// Format constants.
const (
	MagicBytes      = "S2SQ"
	FormatVersion   = 1
	HeaderAlignment = 64   // the payload starts on a 64-byte boundary
	FixedHeaderSize = 64   // 0x40 bytes
	ChecksumSize    = 32   // SHA-256
	ChecksumOffset  = 0x20 // checksum position in the fixed header
)

// Flags of the fixed header.
const (
	FlagHasTraining uint32 = 1 << 0 // training metadata present
	FlagHasMetadata uint32 = 1 << 1 // custom metadata present
)

// Header is the JSON header of a .s2s file.
type Header struct {
	FormatVersion int               `json:"format_version"`
	ID            string            `json:"id"`
	ModelType     string            `json:"model_type"` // e.g. "Seq2Seq", "BiEncoder"
	ModelName     string            `json:"model_name"`
	CreatedAt     time.Time         `json:"created_at"`
	Tensors       []TensorMeta      `json:"tensors"` // in payload order
	Metadata      map[string]string `json:"metadata,omitempty"`
	Training      *TrainingMeta     `json:"training,omitempty"`
}

// TrainingMeta records the training state a checkpoint was taken at.
type TrainingMeta struct {
	Step         int64   `json:"step"`
	Loss         float64 `json:"loss"`
	Optimizer    string  `json:"optimizer,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
	Devices      []int   `json:"devices,omitempty"`
}

// TensorMeta describes one parameter record of the payload.
type TensorMeta struct {
	Name   string `json:"name"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Device int    `json:"device"`
	Offset int64  `json:"offset"` // bytes from the start of the payload
	Size   int64  `json:"size"`   // record size in bytes
}

// PayloadSize returns the end of the last record described by h.
func (h *Header) PayloadSize() int64 {
	var end int64
	for _, t := range h.Tensors {
		end = max(end, t.Offset+t.Size)
	}
	return end
}

func (h *Header) flags() uint32 {
	var flags uint32
	if h.Training != nil {
		flags |= FlagHasTraining
	}
	if len(h.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	return flags
}

func paddingFor(pos int64) int64 {
	return (HeaderAlignment - pos%HeaderAlignment) % HeaderAlignment
}

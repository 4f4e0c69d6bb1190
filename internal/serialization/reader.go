package serialization

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ReaderOptions configures Read. The zero value validates strictly and
// verifies the checksum.
type ReaderOptions struct {
	SkipChecksumValidation bool
	ValidationLevel        ValidationLevel
}

// Read decodes a checkpoint from r and returns its header and payload.
func Read(r io.Reader, opts ReaderOptions) (*Header, []byte, error) {
	fixed := make([]byte, FixedHeaderSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read fixed header")
	}
	if string(fixed[0:4]) != MagicBytes {
		return nil, nil, errors.Wrapf(ErrInvalidMagic, "got %q", fixed[0:4])
	}
	if version := binary.LittleEndian.Uint32(fixed[4:8]); version != FormatVersion {
		return nil, nil, errors.Wrapf(ErrUnsupportedVersion, "got %d, expected %d", version, FormatVersion)
	}
	headerSize := binary.LittleEndian.Uint64(fixed[16:24])
	payloadSize := binary.LittleEndian.Uint64(fixed[24:32])
	var stored [32]byte
	copy(stored[:], fixed[ChecksumOffset:ChecksumOffset+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return nil, nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}
	headerJSON := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, nil, errors.Wrap(err, "failed to read header")
	}
	header := &Header{}
	if err := json.Unmarshal(headerJSON, header); err != nil {
		return nil, nil, errors.Wrap(err, "failed to parse header JSON")
	}

	padding := paddingFor(int64(FixedHeaderSize) + int64(headerSize))
	if _, err := io.CopyN(io.Discard, r, padding); err != nil {
		return nil, nil, errors.Wrap(err, "failed to skip header padding")
	}

	// Grows with the bytes actually present, not with the declared size.
	var payload bytes.Buffer
	n, err := payload.ReadFrom(io.LimitReader(r, int64(payloadSize)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read payload")
	}
	if uint64(n) != payloadSize {
		return nil, nil, errors.Wrapf(ErrPayloadSize, "read %d bytes, header declares %d", n, payloadSize)
	}

	if !opts.SkipChecksumValidation {
		if err := ValidateChecksum(ComputeChecksum(payload.Bytes()), stored); err != nil {
			return nil, nil, err
		}
	}
	if err := ValidateHeader(header, n, opts.ValidationLevel); err != nil {
		return nil, nil, errors.WithMessage(err, "validation failed")
	}
	return header, payload.Bytes(), nil
}

// ReadFile reads the checkpoint stored at path.
func ReadFile(path string, opts ReaderOptions) (*Header, []byte, error) {
	//nolint:gosec // G304: checkpoint paths come from the user.
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer func() { _ = f.Close() }()
	header, payload, err := Read(bufio.NewReader(f), opts)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "reading %s", path)
	}
	return header, payload, nil
}

package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Write encodes header and payload to w.
//
// FormatVersion is filled in and the header is validated strictly against
// the payload before anything is written, so a failed Write leaves w
// untouched.
func Write(w io.Writer, header Header, payload []byte) error {
	header.FormatVersion = FormatVersion
	if header.Metadata == nil {
		header.Metadata = map[string]string{}
	}
	if err := ValidateHeader(&header, int64(len(payload)), ValidationStrict); err != nil {
		return errors.WithMessage(err, "refusing to write checkpoint")
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "failed to marshal header")
	}
	checksum := ComputeChecksum(payload)

	fixed := make([]byte, FixedHeaderSize)
	copy(fixed[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixed[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(fixed[8:12], header.flags())
	// 0x0C-0x0F reserved.
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(payload)))
	copy(fixed[ChecksumOffset:ChecksumOffset+ChecksumSize], checksum[:])

	padding := paddingFor(int64(FixedHeaderSize + len(headerJSON)))
	for _, chunk := range [][]byte{fixed, headerJSON, make([]byte, padding), payload} {
		if _, err := w.Write(chunk); err != nil {
			return errors.Wrap(err, "failed to write checkpoint")
		}
	}
	return nil
}

// WriteFile writes the checkpoint to path. The file is written next to path
// and renamed into place once complete.
func WriteFile(path string, header Header, payload []byte) (err error) {
	tmp := path + ".tmp"
	//nolint:gosec // G304: checkpoint paths come from the user.
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", tmp)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	buf := bufio.NewWriter(f)
	if err = Write(buf, header, payload); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err = f.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp)
	}
	if err = os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to move checkpoint to %s", path)
	}
	return nil
}

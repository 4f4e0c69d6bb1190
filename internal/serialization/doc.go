// Package serialization implements the .s2s checkpoint container.
//
//	Layout:
//	  0x00  [4 bytes: Magic "S2SQ"]
//	  0x04  [4 bytes: Version (uint32 LE)]
//	  0x08  [4 bytes: Flags (uint32 LE)]
//	  0x0C  [4 bytes: Reserved]
//	  0x10  [8 bytes: Header size (uint64 LE)]
//	  0x18  [8 bytes: Payload size (uint64 LE)]
//	  0x20  [32 bytes: SHA-256 of the payload]
//	  0x40  [Header: JSON metadata, zero padded to a 64-byte boundary]
//	        [Payload]
//
// The payload is opaque to this package: it is the positional record stream
// a model writes with its Save method, and the header's tensor list describes
// where every record starts and how large it is.
//
// Example:
//
//	if err := serialization.WriteFile("model.s2s", header, payload); err != nil {
//	    return err
//	}
//	header, payload, err := serialization.ReadFile("model.s2s", serialization.ReaderOptions{})
package serialization

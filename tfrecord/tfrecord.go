// Package tfrecord reads and writes TFRecord files: a sequence of
// length-prefixed records, each guarded by masked CRC32C checksums.
//
// Layout of one record on disk:
//
//	uint64 length            (little endian)
//	uint32 masked_crc32c(length)
//	byte   data[length]
//	uint32 masked_crc32c(data)
//
// Files may be wrapped as a whole in GZIP or ZLIB, mirroring the
// compression_type option of TensorFlow's TFRecordDataset.
package tfrecord

import (
	"hash/crc32"
	"strings"

	"github.com/pkg/errors"
)

const (
	headerSize = 8 + 4
	footerSize = 4
	maskDelta  = 0xa282ead8
)

// ErrCorrupted is returned when a record fails its checksum or is truncated.
var ErrCorrupted = errors.New("tfrecord: corrupted record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + maskDelta
}

// Compression selects how a whole TFRecord file is compressed.
type Compression int

const (
	None Compression = iota
	GZIP
	ZLIB
)

func (c Compression) String() string {
	switch c {
	case GZIP:
		return "GZIP"
	case ZLIB:
		return "ZLIB"
	default:
		return ""
	}
}

// ParseCompression accepts the same names TensorFlow does: "", "NONE",
// "GZIP" and "ZLIB" (case insensitive).
func ParseCompression(s string) (Compression, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE":
		return None, nil
	case "GZIP":
		return GZIP, nil
	case "ZLIB":
		return ZLIB, nil
	}
	return None, errors.Errorf("tfrecord: unknown compression type %q", s)
}

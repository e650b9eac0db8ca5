package tfrecord

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Writer appends records to a TFRecord stream.
type Writer struct {
	w      *bufio.Writer
	zw     io.WriteCloser
	file   *os.File
	header [headerSize]byte
	footer [footerSize]byte
}

// NewWriter wraps w. Close must be called to flush buffered and compressed
// data; it does not close w.
func NewWriter(w io.Writer, opts ...Option) *Writer {
	o := buildOptions(opts)
	wr := &Writer{}
	switch o.compression {
	case GZIP:
		wr.zw = gzip.NewWriter(w)
		w = wr.zw
	case ZLIB:
		wr.zw = zlib.NewWriter(w)
		w = wr.zw
	}
	wr.w = bufio.NewWriter(w)
	return wr
}

// Create creates (or truncates) path and returns a Writer that owns the file.
func Create(path string, opts ...Option) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "tfrecord: creating %s", path)
	}
	wr := NewWriter(f, opts...)
	wr.file = f
	return wr, nil
}

// Write appends one record.
func (wr *Writer) Write(data []byte) error {
	binary.LittleEndian.PutUint64(wr.header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(wr.header[8:], maskedCRC(wr.header[:8]))
	binary.LittleEndian.PutUint32(wr.footer[:], maskedCRC(data))
	if _, err := wr.w.Write(wr.header[:]); err != nil {
		return errors.Wrap(err, "tfrecord: writing header")
	}
	if _, err := wr.w.Write(data); err != nil {
		return errors.Wrap(err, "tfrecord: writing data")
	}
	if _, err := wr.w.Write(wr.footer[:]); err != nil {
		return errors.Wrap(err, "tfrecord: writing footer")
	}
	return nil
}

// Close flushes everything and closes the compressor and, for writers made
// by Create, the file.
func (wr *Writer) Close() error {
	err := wr.w.Flush()
	if wr.zw != nil {
		if zerr := wr.zw.Close(); err == nil {
			err = zerr
		}
	}
	if wr.file != nil {
		if ferr := wr.file.Close(); err == nil {
			err = ferr
		}
	}
	return errors.Wrap(err, "tfrecord: closing writer")
}

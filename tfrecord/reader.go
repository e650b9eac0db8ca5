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

// Reader yields the records of a single TFRecord stream in order.
type Reader struct {
	r       *bufio.Reader
	closer  io.Closer
	verify  bool
	header  [headerSize]byte
	footer  [footerSize]byte
	offset  int64
	numRead int
}

// Option configures a Reader or a Writer.
type Option func(*options)

type options struct {
	compression Compression
	verify      bool
}

// WithCompression sets the compression of the underlying stream.
func WithCompression(c Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithoutChecksum disables CRC verification while reading.
func WithoutChecksum() Option {
	return func(o *options) { o.verify = false }
}

func buildOptions(opts []Option) options {
	o := options{verify: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewReader wraps r. For compressed streams the decompressor header is read
// immediately, so a bad GZIP/ZLIB header surfaces here.
func NewReader(r io.Reader, opts ...Option) (*Reader, error) {
	o := buildOptions(opts)
	rd := &Reader{verify: o.verify}
	switch o.compression {
	case GZIP:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "tfrecord: opening gzip stream")
		}
		rd.closer = zr
		r = zr
	case ZLIB:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, "tfrecord: opening zlib stream")
		}
		rd.closer = zr
		r = zr
	}
	rd.r = bufio.NewReaderSize(r, 1<<16)
	return rd, nil
}

// Next returns the next record. It returns io.EOF when the stream ends on a
// record boundary and an error wrapping ErrCorrupted otherwise.
// The returned slice is owned by the caller.
func (rd *Reader) Next() ([]byte, error) {
	n, err := io.ReadFull(rd.r, rd.header[:])
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrapf(ErrCorrupted, "truncated header at offset %d (%d bytes)", rd.offset, n)
	}
	length := binary.LittleEndian.Uint64(rd.header[:8])
	if rd.verify && maskedCRC(rd.header[:8]) != binary.LittleEndian.Uint32(rd.header[8:]) {
		return nil, errors.Wrapf(ErrCorrupted, "length checksum mismatch at offset %d", rd.offset)
	}
	if length > maxRecordSize {
		return nil, errors.Wrapf(ErrCorrupted, "record length %d at offset %d exceeds limit", length, rd.offset)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(rd.r, data); err != nil {
		return nil, errors.Wrapf(ErrCorrupted, "truncated data at offset %d: %v", rd.offset, err)
	}
	if _, err := io.ReadFull(rd.r, rd.footer[:]); err != nil {
		return nil, errors.Wrapf(ErrCorrupted, "truncated footer at offset %d: %v", rd.offset, err)
	}
	if rd.verify && maskedCRC(data) != binary.LittleEndian.Uint32(rd.footer[:]) {
		return nil, errors.Wrapf(ErrCorrupted, "data checksum mismatch at offset %d", rd.offset)
	}
	rd.offset += int64(headerSize + len(data) + footerSize)
	rd.numRead++
	return data, nil
}

// Count returns how many records have been read so far.
func (rd *Reader) Count() int {
	return rd.numRead
}

// Close releases the decompressor, if any. It does not close the
// underlying reader passed to NewReader.
func (rd *Reader) Close() error {
	if rd.closer != nil {
		return rd.closer.Close()
	}
	return nil
}

// maxRecordSize guards against allocating absurd buffers for a garbage length.
const maxRecordSize = 1 << 32

// FileReader is a Reader that owns its file.
type FileReader struct {
	*Reader
	f *os.File
}

// Open opens path for reading.
func Open(path string, opts ...Option) (*FileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "tfrecord: opening %s", path)
	}
	rd, err := NewReader(f, opts...)
	if err != nil {
		_ = f.Close()
		return nil, errors.WithMessagef(err, "tfrecord: reading %s", path)
	}
	return &FileReader{Reader: rd, f: f}, nil
}

// Close closes the decompressor and the file.
func (fr *FileReader) Close() error {
	err := fr.Reader.Close()
	if ferr := fr.f.Close(); err == nil {
		err = ferr
	}
	return err
}

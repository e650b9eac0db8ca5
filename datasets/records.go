package datasets

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/segloader/tfrecord"
)

// RecordDataset reads and decodes every record of a list of TFRecord files,
// in file order, yielding one example at a time: the image as inputs[0] and
// the mask as labels[0].
//
// Files are opened lazily, one at a time. It is not safe for concurrent use.
type RecordDataset struct {
	// ScalarType of the samples stored in raw_image and raw_mask.
	ScalarType ScalarType

	// Payload layout of raw_image and raw_mask.
	Payload PayloadFormat

	// Compression of the record files.
	Compression tfrecord.Compression

	// List of record file paths, read in order.
	files []string

	// Index into files of the file being read.
	fileIdx int

	// Reader of files[fileIdx], nil between files.
	reader *tfrecord.FileReader

	// Index of the next record within the current file.
	recordIdx int
}

var _ Dataset = (*RecordDataset)(nil)

// NewRecordDataset creates a dataset over the given files, decoding float32
// raw payloads unless configured otherwise.
func NewRecordDataset(files []string) *RecordDataset {
	return &RecordDataset{
		files: append([]string(nil), files...),
	}
}

// NewRecordDatasetFromDir is NewRecordDataset over FindRecordFiles(dir, pattern).
func NewRecordDatasetFromDir(dir, pattern string) (*RecordDataset, error) {
	files, err := FindRecordFiles(dir, pattern)
	if err != nil {
		return nil, err
	}
	return NewRecordDataset(files), nil
}

// Files returns the record files this dataset reads.
func (d *RecordDataset) Files() []string {
	return d.files
}

// Name implements train.Dataset.
func (d *RecordDataset) Name() string {
	return fmt.Sprintf("RecordDataset [%d files, %s]", len(d.files), d.ScalarType)
}

// Reset implements train.Dataset. The next Yield starts again from the
// first record of the first file.
func (d *RecordDataset) Reset() {
	d.closeReader()
	d.fileIdx = 0
}

// Yield implements train.Dataset. It returns io.EOF after the last record of
// the last file, and a *DecodeError (wrapped with the file and record
// position) for a record that cannot be decoded.
func (d *RecordDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	for {
		if d.reader == nil {
			if d.fileIdx >= len(d.files) {
				return nil, nil, nil, io.EOF
			}
			if err = d.openReader(); err != nil {
				return nil, nil, nil, err
			}
		}

		record, err := d.reader.Next()
		if err == io.EOF {
			klog.V(2).Infof("finished %s after %d records", filepath.Base(d.files[d.fileIdx]), d.recordIdx)
			d.closeReader()
			d.fileIdx++
			continue
		}
		if err != nil {
			return nil, nil, nil, errors.WithMessagef(err, "reading %s", d.files[d.fileIdx])
		}

		pair, err := Decode(record, d.ScalarType, d.Payload)
		if err != nil {
			return nil, nil, nil, errors.WithMessagef(err, "record #%d of %s", d.recordIdx, d.files[d.fileIdx])
		}
		d.recordIdx++
		return d, []*tensors.Tensor{pair.Image}, []*tensors.Tensor{pair.Mask}, nil
	}
}

func (d *RecordDataset) openReader() error {
	path := d.files[d.fileIdx]
	r, err := tfrecord.Open(path, tfrecord.WithCompression(d.Compression))
	if err != nil {
		return err
	}
	d.reader = r
	d.recordIdx = 0
	return nil
}

func (d *RecordDataset) closeReader() {
	if d.reader == nil {
		return
	}
	if err := d.reader.Close(); err != nil {
		klog.Warningf("closing %s: %v", d.files[d.fileIdx], err)
	}
	d.reader = nil
}

// Close releases the file currently open, if any.
func (d *RecordDataset) Close() error {
	d.closeReader()
	return nil
}

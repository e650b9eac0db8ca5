package datasets

import (
	"encoding/binary"
	"io"
	"math"
	"path/filepath"
	"slices"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/segloader/features"
	"github.com/Noofbiz/segloader/tfrecord"
)

// encodeRecord builds a segmentation tf.train.Example from raw payloads.
func encodeRecord(height, width, depth int, rawImage, rawMask []byte) []byte {
	return features.Example{
		FeatureHeight:   features.Int64Feature(int64(height)),
		FeatureWidth:    features.Int64Feature(int64(width)),
		FeatureDepth:    features.Int64Feature(int64(depth)),
		FeatureRawImage: features.BytesFeature(rawImage),
		FeatureRawMask:  features.BytesFeature(rawMask),
	}.Marshal()
}

func float32Bytes(values []float32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// uint8Record builds a record of the given shape whose image samples all
// equal id and whose mask samples are (i % 3).
func uint8Record(id uint8, height, width, depth int) []byte {
	image := make([]uint8, height*width*depth)
	for i := range image {
		image[i] = id
	}
	mask := make([]uint8, height*width)
	for i := range mask {
		mask[i] = uint8(i % 3)
	}
	return encodeRecord(height, width, depth, image, mask)
}

// float32Record is uint8Record with float32 samples.
func float32Record(id float32, height, width, depth int) []byte {
	image := make([]float32, height*width*depth)
	for i := range image {
		image[i] = id
	}
	mask := make([]float32, height*width)
	for i := range mask {
		mask[i] = float32(i % 3)
	}
	return encodeRecord(height, width, depth, float32Bytes(image), float32Bytes(mask))
}

// writeRecords writes records into dir/name as a TFRecord file.
func writeRecords(t *testing.T, dir, name string, records ...[]byte) string {
	t.Helper()
	return writeCompressedRecords(t, dir, name, tfrecord.None, records...)
}

func writeCompressedRecords(t *testing.T, dir, name string, c tfrecord.Compression, records ...[]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	w, err := tfrecord.Create(path, tfrecord.WithCompression(c))
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	return path
}

func flat[T float32 | uint8 | int32](t *tensors.Tensor) []T {
	var out []T
	tensors.ConstFlatData[T](t, func(data []T) {
		out = slices.Clone(data)
	})
	return out
}

// sliceDataset yields scalar int32 tensors from a fixed list: the value as
// the only input and its negation as the only label.
type sliceDataset struct {
	values []int32
	next   int
	resets int
	failAt int
	err    error
}

func newSliceDataset(values ...int32) *sliceDataset {
	return &sliceDataset{values: values, failAt: -1}
}

func (ds *sliceDataset) Name() string { return "slice" }

func (ds *sliceDataset) Reset() {
	ds.next = 0
	ds.resets++
}

func (ds *sliceDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if ds.next == ds.failAt {
		return nil, nil, nil, ds.err
	}
	if ds.next >= len(ds.values) {
		return nil, nil, nil, io.EOF
	}
	v := ds.values[ds.next]
	ds.next++
	inputs = []*tensors.Tensor{tensors.FromFlatDataAndDimensions([]int32{v})}
	labels = []*tensors.Tensor{tensors.FromFlatDataAndDimensions([]int32{-v})}
	return ds, inputs, labels, nil
}

// drain yields n elements and returns the first int32 of each input.
func drain(t *testing.T, ds Dataset, n int) []int32 {
	t.Helper()
	var out []int32
	for range n {
		_, inputs, _, err := ds.Yield()
		require.NoError(t, err)
		out = append(out, flat[int32](inputs[0])...)
	}
	return out
}

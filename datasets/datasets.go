// Package datasets turns directories of TFRecord files holding image
// segmentation examples into streams of batched gomlx tensors.
//
// Every stage is a gomlx train.Dataset, so stages compose freely and the
// result plugs straight into gomlx training loops:
//
//	RecordDataset -> Map -> Shuffle -> Batch -> Repeat -> Prefetch
//
// Data is read lazily: record files are only opened and decoded as the
// consumer pulls batches, so memory stays bounded by the shuffle window and
// the prefetch depth regardless of dataset size.
//
// Each record is a tf.train.Example with the features
//
//	height, width, depth  int64
//	raw_image, raw_mask   bytes
//
// and decodes to an image shaped [height, width, depth] and a mask shaped
// [height, width, 1]. A stream yields the image as inputs[0] and the mask as
// labels[0].
package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gopjrt/dtypes"
)

// Dataset is the gomlx streaming interface every stage implements.
// Yield returns io.EOF at the end of a pass; Reset starts a new pass.
type Dataset = train.Dataset

// ScalarType selects how raw_image and raw_mask samples are interpreted.
type ScalarType int

const (
	Float32 ScalarType = iota
	Uint8
)

func (s ScalarType) String() string {
	switch s {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	}
	return "invalid"
}

// Size is the number of bytes of one sample.
func (s ScalarType) Size() int {
	if s == Float32 {
		return 4
	}
	return 1
}

// DType is the gomlx dtype of decoded tensors.
func (s ScalarType) DType() dtypes.DType {
	if s == Float32 {
		return dtypes.Float32
	}
	return dtypes.Uint8
}

// PayloadFormat selects how the raw_image and raw_mask byte strings are laid out.
type PayloadFormat int

const (
	// PayloadRaw is a dense little-endian buffer of height*width*channels samples.
	PayloadRaw PayloadFormat = iota

	// PayloadTensorProto is a serialized TensorProto, as produced by
	// tf.io.serialize_tensor. Its dtype must match the requested ScalarType.
	PayloadTensorProto
)

func (p PayloadFormat) String() string {
	if p == PayloadTensorProto {
		return "tensorproto"
	}
	return "raw"
}

// Pair is one decoded example: Image is [H, W, D] and Mask is [H, W, 1],
// both of the same dtype.
type Pair struct {
	Image *tensors.Tensor
	Mask  *tensors.Tensor
}

// Batch is a stack of pairs: Images is [B, H, W, D] and Masks is [B, H, W, 1].
type Batch struct {
	Images *tensors.Tensor
	Masks  *tensors.Tensor
}

// Mapping transforms a decoded pair, for instance NormalizeUint8ToFloat.
type Mapping func(image, mask *tensors.Tensor) (*tensors.Tensor, *tensors.Tensor, error)

// element is one value yielded by a Dataset.
type element struct {
	spec   any
	inputs []*tensors.Tensor
	labels []*tensors.Tensor
	err    error
}

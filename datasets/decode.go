package datasets

import (
	"encoding/binary"
	"math"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"

	"github.com/Noofbiz/segloader/features"
)

// Feature names of a segmentation record.
const (
	FeatureHeight   = "height"
	FeatureWidth    = "width"
	FeatureDepth    = "depth"
	FeatureRawImage = "raw_image"
	FeatureRawMask  = "raw_mask"
)

// maxElements bounds height*width*depth so a corrupt header cannot request
// an enormous allocation. 1<<28 samples is an 8192x8192x4 image.
const maxElements = 1 << 28

// DecodeFloat decodes a record whose buffers hold raw float32 samples.
func DecodeFloat(record []byte) (Pair, error) {
	return Decode(record, Float32, PayloadRaw)
}

// DecodeUint8 decodes a record whose buffers hold raw uint8 samples.
func DecodeUint8(record []byte) (Pair, error) {
	return Decode(record, Uint8, PayloadRaw)
}

// Decode parses one serialized tf.train.Example and returns the image
// reshaped to [height, width, depth] and the mask reshaped to
// [height, width, 1], both of the given scalar type.
//
// Every failure is a *DecodeError. Decoding a buffer with the wrong scalar
// type is only caught when the byte length does not fit; otherwise the
// samples are simply reinterpreted.
func Decode(record []byte, scalar ScalarType, payload PayloadFormat) (Pair, error) {
	ex, err := features.ParseExample(record)
	if err != nil {
		return Pair{}, &DecodeError{Err: err}
	}

	var dims [3]int
	elements := int64(1)
	for i, name := range []string{FeatureHeight, FeatureWidth, FeatureDepth} {
		v, err := ex.Int64(name)
		if err != nil {
			return Pair{}, &DecodeError{Field: name, Err: err}
		}
		if v <= 0 || v > maxElements {
			return Pair{}, decodeErrorf(name, "dimension %d out of range", v)
		}
		// Both factors are at most maxElements, so the product fits in int64.
		elements *= v
		if elements > maxElements {
			return Pair{}, decodeErrorf(name, "image has more than %d elements", maxElements)
		}
		dims[i] = int(v)
	}
	height, width, depth := dims[0], dims[1], dims[2]

	rawImage, err := ex.Bytes(FeatureRawImage)
	if err != nil {
		return Pair{}, &DecodeError{Field: FeatureRawImage, Err: err}
	}
	rawMask, err := ex.Bytes(FeatureRawMask)
	if err != nil {
		return Pair{}, &DecodeError{Field: FeatureRawMask, Err: err}
	}

	switch scalar {
	case Float32:
		return decodePair(rawImage, rawMask, payload, height, width, depth, float32Samples)
	case Uint8:
		return decodePair(rawImage, rawMask, payload, height, width, depth, uint8Samples)
	}
	return Pair{}, decodeErrorf("", "unsupported scalar type %s", scalar)
}

type sampleReader[T float32 | uint8] func(raw []byte, payload PayloadFormat, n int) ([]T, error)

func decodePair[T float32 | uint8](rawImage, rawMask []byte, payload PayloadFormat, height, width, depth int, read sampleReader[T]) (Pair, error) {
	image, err := read(rawImage, payload, height*width*depth)
	if err != nil {
		return Pair{}, &DecodeError{Field: FeatureRawImage, Err: err}
	}
	mask, err := read(rawMask, payload, height*width)
	if err != nil {
		return Pair{}, &DecodeError{Field: FeatureRawMask, Err: err}
	}
	return Pair{
		Image: tensors.FromFlatDataAndDimensions(image, height, width, depth),
		Mask:  tensors.FromFlatDataAndDimensions(mask, height, width, 1),
	}, nil
}

func float32Samples(raw []byte, payload PayloadFormat, n int) ([]float32, error) {
	if payload == PayloadTensorProto {
		t, err := parseTensor(raw, n)
		if err != nil {
			return nil, err
		}
		return t.Float32s()
	}
	if err := checkLength(raw, Float32, n); err != nil {
		return nil, err
	}
	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return values, nil
}

func uint8Samples(raw []byte, payload PayloadFormat, n int) ([]uint8, error) {
	if payload == PayloadTensorProto {
		t, err := parseTensor(raw, n)
		if err != nil {
			return nil, err
		}
		return t.Uint8s()
	}
	if err := checkLength(raw, Uint8, n); err != nil {
		return nil, err
	}
	values := make([]uint8, n)
	copy(values, raw)
	return values, nil
}

// checkLength verifies that raw holds exactly n samples of the scalar type.
func checkLength(raw []byte, scalar ScalarType, n int) error {
	size := scalar.Size()
	if len(raw)%size != 0 || len(raw)/size != n {
		return errors.Errorf("buffer has %d bytes, want %d %s samples", len(raw), n, scalar)
	}
	return nil
}

// parseTensor decodes a TensorProto payload and checks, before any value is
// expanded, that it reshapes into n elements.
func parseTensor(raw []byte, n int) (features.Tensor, error) {
	t, err := features.ParseTensor(raw)
	if err != nil {
		return t, err
	}
	got, err := t.NumElements()
	if err != nil {
		return t, err
	}
	if got != n {
		return t, errors.Errorf("cannot reshape tensor of shape %v (%d values) into %d elements", t.Shape, got, n)
	}
	return t, nil
}

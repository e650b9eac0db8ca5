package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// NormalizeUint8ToFloat converts a uint8 pair to float32: image values are
// divided by 255 into [0, 1], mask values are kept as they are (class
// indices stay integral). It has the Mapping signature.
func NormalizeUint8ToFloat(image, mask *tensors.Tensor) (*tensors.Tensor, *tensors.Tensor, error) {
	img, err := uint8ToFloat32(image, 255)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "normalizing image")
	}
	msk, err := uint8ToFloat32(mask, 1)
	if err != nil {
		return nil, nil, errors.WithMessage(err, "normalizing mask")
	}
	return img, msk, nil
}

var _ Mapping = NormalizeUint8ToFloat

func uint8ToFloat32(t *tensors.Tensor, divisor float32) (*tensors.Tensor, error) {
	if t == nil {
		return nil, errors.New("nil tensor")
	}
	shape := t.Shape()
	if shape.DType != Uint8.DType() {
		return nil, errors.Errorf("want a uint8 tensor, got %s", shape)
	}
	var out []float32
	tensors.ConstFlatData[uint8](t, func(flat []uint8) {
		out = make([]float32, len(flat))
		for i, v := range flat {
			out[i] = float32(v) / divisor
		}
	})
	return tensors.FromFlatDataAndDimensions(out, shape.Dimensions...), nil
}

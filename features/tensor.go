package features

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// DataType mirrors the tensorflow.DataType enum values this package reads.
type DataType int32

const (
	DTInvalid DataType = 0
	DTFloat   DataType = 1
	DTUint8   DataType = 4
)

func (d DataType) String() string {
	switch d {
	case DTFloat:
		return "DT_FLOAT"
	case DTUint8:
		return "DT_UINT8"
	case DTInvalid:
		return "DT_INVALID"
	}
	return "DT_" + strconv.Itoa(int(d))
}

// Tensor is a decoded tensorflow.TensorProto, restricted to the fields
// written by tf.io.serialize_tensor for numeric tensors.
type Tensor struct {
	DType    DataType
	Shape    []int64
	Content  []byte
	FloatVal []float32
	IntVal   []int32
}

// Field numbers of tensorflow.TensorProto and TensorShapeProto.
const (
	tensorDType   protowire.Number = 1
	tensorShape   protowire.Number = 2
	tensorContent protowire.Number = 4
	tensorFloats  protowire.Number = 5
	tensorInts    protowire.Number = 7
	shapeDim      protowire.Number = 2
	dimSize       protowire.Number = 1
)

// ParseTensor decodes a serialized TensorProto, the inverse of
// tf.io.serialize_tensor.
func ParseTensor(b []byte) (Tensor, error) {
	var t Tensor
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		switch num {
		case tensorDType:
			vs, err := appendVarints(nil, typ, val)
			if err != nil || len(vs) == 0 {
				return err
			}
			t.DType = DataType(vs[len(vs)-1])
		case tensorShape:
			msg, err := consumeBytes(val)
			if err != nil {
				return err
			}
			t.Shape, err = parseShape(msg)
			return err
		case tensorContent:
			v, err := consumeBytes(val)
			if err != nil {
				return err
			}
			t.Content = v
		case tensorFloats:
			bits, err := appendFixed32s(nil, typ, val)
			if err != nil {
				return err
			}
			for _, v := range bits {
				t.FloatVal = append(t.FloatVal, math.Float32frombits(v))
			}
		case tensorInts:
			vs, err := appendVarints(nil, typ, val)
			if err != nil {
				return err
			}
			for _, v := range vs {
				t.IntVal = append(t.IntVal, int32(v))
			}
		}
		return nil
	})
	if err != nil {
		return Tensor{}, errors.WithMessage(err, "parsing TensorProto")
	}
	return t, nil
}

func parseShape(b []byte) ([]int64, error) {
	shape := []int64{}
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num != shapeDim || typ != protowire.BytesType {
			return nil
		}
		dim, err := consumeBytes(val)
		if err != nil {
			return err
		}
		var size int64
		err = forEachField(dim, func(num protowire.Number, typ protowire.Type, val []byte) error {
			if num != dimSize {
				return nil
			}
			vs, err := appendVarints(nil, typ, val)
			if err != nil || len(vs) == 0 {
				return err
			}
			size = int64(vs[len(vs)-1])
			return nil
		})
		shape = append(shape, size)
		return err
	})
	return shape, err
}

// MaxElements bounds the number of elements of a tensor this package
// expands.
const MaxElements = 1 << 31

// NumElements is the product of the shape; a scalar has one element.
func (t Tensor) NumElements() (int, error) {
	n := int64(1)
	for _, d := range t.Shape {
		if d < 0 {
			return 0, errors.Wrapf(ErrTensor, "unknown dimension in shape %v", t.Shape)
		}
		if d > MaxElements {
			return 0, errors.Wrapf(ErrTensor, "shape %v has more than %d elements", t.Shape, MaxElements)
		}
		n *= d
		if n > MaxElements {
			return 0, errors.Wrapf(ErrTensor, "shape %v has more than %d elements", t.Shape, MaxElements)
		}
	}
	return int(n), nil
}

// Float32s returns the tensor values. The tensor must be DT_FLOAT.
func (t Tensor) Float32s() ([]float32, error) {
	if t.DType != DTFloat {
		return nil, errors.Wrapf(ErrTensor, "dtype %s, want %s", t.DType, DTFloat)
	}
	n, err := t.NumElements()
	if err != nil {
		return nil, err
	}
	if len(t.Content) > 0 {
		if len(t.Content) != 4*n {
			return nil, errors.Wrapf(ErrTensor, "tensor_content has %d bytes, want %d for shape %v", len(t.Content), 4*n, t.Shape)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Content[4*i:]))
		}
		return out, nil
	}
	return fillValues(t.FloatVal, n)
}

// Uint8s returns the tensor values. The tensor must be DT_UINT8.
func (t Tensor) Uint8s() ([]uint8, error) {
	if t.DType != DTUint8 {
		return nil, errors.Wrapf(ErrTensor, "dtype %s, want %s", t.DType, DTUint8)
	}
	n, err := t.NumElements()
	if err != nil {
		return nil, err
	}
	if len(t.Content) > 0 {
		if len(t.Content) != n {
			return nil, errors.Wrapf(ErrTensor, "tensor_content has %d bytes, want %d for shape %v", len(t.Content), n, t.Shape)
		}
		out := make([]uint8, n)
		copy(out, t.Content)
		return out, nil
	}
	vals := make([]uint8, len(t.IntVal))
	for i, v := range t.IntVal {
		if v < 0 || v > math.MaxUint8 {
			return nil, errors.Wrapf(ErrTensor, "int_val[%d] = %d is not a uint8", i, v)
		}
		vals[i] = uint8(v)
	}
	return fillValues(vals, n)
}

// fillValues expands the repeated *_val encoding: an empty list means zeros
// and a short list is padded with its last value.
func fillValues[T any](vals []T, n int) ([]T, error) {
	switch {
	case len(vals) == n:
		return vals, nil
	case len(vals) > n:
		return nil, errors.Wrapf(ErrTensor, "%d values for %d elements", len(vals), n)
	}
	out := make([]T, n)
	copy(out, vals)
	if len(vals) > 0 {
		last := vals[len(vals)-1]
		for i := len(vals); i < n; i++ {
			out[i] = last
		}
	}
	return out, nil
}

// NewFloat32Tensor builds a DT_FLOAT tensor with data stored in tensor_content.
func NewFloat32Tensor(data []float32, shape ...int64) Tensor {
	content := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(content[4*i:], math.Float32bits(v))
	}
	return Tensor{DType: DTFloat, Shape: shape, Content: content}
}

// NewUint8Tensor builds a DT_UINT8 tensor with data stored in tensor_content.
func NewUint8Tensor(data []uint8, shape ...int64) Tensor {
	return Tensor{DType: DTUint8, Shape: shape, Content: append([]byte(nil), data...)}
}

// Marshal encodes t as a TensorProto.
func (t Tensor) Marshal() []byte {
	var out []byte
	out = protowire.AppendTag(out, tensorDType, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(t.DType))

	var shape []byte
	for _, d := range t.Shape {
		var dim []byte
		dim = protowire.AppendTag(dim, dimSize, protowire.VarintType)
		dim = protowire.AppendVarint(dim, uint64(d))
		shape = protowire.AppendTag(shape, shapeDim, protowire.BytesType)
		shape = protowire.AppendBytes(shape, dim)
	}
	out = protowire.AppendTag(out, tensorShape, protowire.BytesType)
	out = protowire.AppendBytes(out, shape)

	if len(t.Content) > 0 {
		out = protowire.AppendTag(out, tensorContent, protowire.BytesType)
		out = protowire.AppendBytes(out, t.Content)
	}
	if len(t.FloatVal) > 0 {
		var packed []byte
		for _, v := range t.FloatVal {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		out = protowire.AppendTag(out, tensorFloats, protowire.BytesType)
		out = protowire.AppendBytes(out, packed)
	}
	if len(t.IntVal) > 0 {
		var packed []byte
		for _, v := range t.IntVal {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		out = protowire.AppendTag(out, tensorInts, protowire.BytesType)
		out = protowire.AppendBytes(out, packed)
	}
	return out
}

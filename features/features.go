// Package features decodes the two protocol buffer messages a TFRecord of
// segmentation data carries: tf.train.Example, the container of named
// features, and tensorflow.TensorProto, the payload of tf.io.serialize_tensor.
//
// Only the wire format is needed, so messages are walked with protowire
// rather than through generated code.
package features

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrMalformed is returned when the bytes are not a valid protobuf encoding.
	ErrMalformed = errors.New("malformed protobuf")

	// ErrMissingFeature is returned when a required feature is absent.
	ErrMissingFeature = errors.New("missing feature")

	// ErrFeatureType is returned when a feature holds a different list kind than requested.
	ErrFeatureType = errors.New("feature type mismatch")

	// ErrFeatureLength is returned when a fixed length feature holds the wrong number of values.
	ErrFeatureLength = errors.New("feature length mismatch")

	// ErrTensor is returned when a TensorProto cannot be read as the requested type or shape.
	ErrTensor = errors.New("invalid tensor")
)

// forEachField calls fn with the number, wire type and raw encoded value of
// every field in the message b, in wire order.
func forEachField(b []byte, fn func(num protowire.Number, typ protowire.Type, val []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]
		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return errors.Wrapf(ErrMalformed, "field %d: %v", num, protowire.ParseError(m))
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func consumeBytes(val []byte) ([]byte, error) {
	v, n := protowire.ConsumeBytes(val)
	if n < 0 {
		return nil, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
	}
	return v, nil
}

// appendVarints decodes a scalar varint or a packed run of varints.
func appendVarints(dst []uint64, typ protowire.Type, val []byte) ([]uint64, error) {
	switch typ {
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(val)
		if n < 0 {
			return dst, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		return append(dst, v), nil
	case protowire.BytesType:
		packed, err := consumeBytes(val)
		if err != nil {
			return dst, err
		}
		for len(packed) > 0 {
			v, n := protowire.ConsumeVarint(packed)
			if n < 0 {
				return dst, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
			dst = append(dst, v)
			packed = packed[n:]
		}
		return dst, nil
	}
	return dst, errors.Wrapf(ErrMalformed, "unexpected wire type %d for varint field", typ)
}

// appendFixed32s decodes a scalar fixed32 or a packed run of them.
func appendFixed32s(dst []uint32, typ protowire.Type, val []byte) ([]uint32, error) {
	switch typ {
	case protowire.Fixed32Type:
		v, n := protowire.ConsumeFixed32(val)
		if n < 0 {
			return dst, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		return append(dst, v), nil
	case protowire.BytesType:
		packed, err := consumeBytes(val)
		if err != nil {
			return dst, err
		}
		if len(packed)%4 != 0 {
			return dst, errors.Wrapf(ErrMalformed, "packed fixed32 run of %d bytes", len(packed))
		}
		for len(packed) > 0 {
			v, n := protowire.ConsumeFixed32(packed)
			dst = append(dst, v)
			packed = packed[n:]
		}
		return dst, nil
	}
	return dst, errors.Wrapf(ErrMalformed, "unexpected wire type %d for fixed32 field", typ)
}

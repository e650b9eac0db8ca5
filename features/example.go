package features

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the list type held by a Feature.
type Kind int

const (
	KindNone Kind = iota
	KindBytes
	KindFloat
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes_list"
	case KindFloat:
		return "float_list"
	case KindInt64:
		return "int64_list"
	}
	return "none"
}

// Feature is one tf.train.Feature. Only the slice matching Kind is set.
type Feature struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

// Example is a decoded tf.train.Example: feature name to feature.
type Example map[string]Feature

// Field numbers of tf.train.Example and friends.
const (
	exampleFeatures  protowire.Number = 1
	featuresFeature  protowire.Number = 1
	mapKey           protowire.Number = 1
	mapValue         protowire.Number = 2
	featureBytesList protowire.Number = 1
	featureFloatList protowire.Number = 2
	featureInt64List protowire.Number = 3
	listValue        protowire.Number = 1
)

// ParseExample decodes a serialized tf.train.Example.
func ParseExample(b []byte) (Example, error) {
	ex := make(Example)
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		msg, err := consumeBytes(val)
		if err != nil {
			return err
		}
		return parseFeatures(msg, ex)
	})
	if err != nil {
		return nil, errors.WithMessage(err, "parsing tf.train.Example")
	}
	return ex, nil
}

func parseFeatures(b []byte, ex Example) error {
	return forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if num != featuresFeature || typ != protowire.BytesType {
			return nil
		}
		entry, err := consumeBytes(val)
		if err != nil {
			return err
		}
		var (
			key     string
			feature Feature
		)
		err = forEachField(entry, func(num protowire.Number, typ protowire.Type, val []byte) error {
			if typ != protowire.BytesType {
				return nil
			}
			v, err := consumeBytes(val)
			if err != nil {
				return err
			}
			switch num {
			case mapKey:
				key = string(v)
			case mapValue:
				feature, err = parseFeature(v)
				return err
			}
			return nil
		})
		if err != nil {
			return errors.WithMessagef(err, "feature %q", key)
		}
		ex[key] = feature
		return nil
	})
}

func parseFeature(b []byte) (Feature, error) {
	var f Feature
	err := forEachField(b, func(num protowire.Number, typ protowire.Type, val []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		list, err := consumeBytes(val)
		if err != nil {
			return err
		}
		// Oneof semantics: the last kind on the wire wins.
		switch num {
		case featureBytesList:
			f = Feature{Kind: KindBytes, Bytes: [][]byte{}}
			return forEachField(list, func(num protowire.Number, typ protowire.Type, val []byte) error {
				if num != listValue || typ != protowire.BytesType {
					return nil
				}
				v, err := consumeBytes(val)
				if err != nil {
					return err
				}
				f.Bytes = append(f.Bytes, v)
				return nil
			})
		case featureFloatList:
			f = Feature{Kind: KindFloat, Floats: []float32{}}
			var bits []uint32
			err := forEachField(list, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
				if num == listValue {
					bits, err = appendFixed32s(bits, typ, val)
				}
				return
			})
			for _, v := range bits {
				f.Floats = append(f.Floats, math.Float32frombits(v))
			}
			return err
		case featureInt64List:
			f = Feature{Kind: KindInt64, Int64s: []int64{}}
			var raw []uint64
			err := forEachField(list, func(num protowire.Number, typ protowire.Type, val []byte) (err error) {
				if num == listValue {
					raw, err = appendVarints(raw, typ, val)
				}
				return
			})
			for _, v := range raw {
				f.Int64s = append(f.Int64s, int64(v))
			}
			return err
		}
		return nil
	})
	return f, err
}

func (ex Example) lookup(name string, kind Kind) (Feature, error) {
	f, ok := ex[name]
	if !ok {
		return f, errors.Wrapf(ErrMissingFeature, "%q", name)
	}
	if f.Kind != kind {
		return f, errors.Wrapf(ErrFeatureType, "%q is %s, want %s", name, f.Kind, kind)
	}
	return f, nil
}

// Int64 returns the single value of an int64_list feature, the equivalent
// of tf.io.FixedLenFeature([], tf.int64).
func (ex Example) Int64(name string) (int64, error) {
	f, err := ex.lookup(name, KindInt64)
	if err != nil {
		return 0, err
	}
	if len(f.Int64s) != 1 {
		return 0, errors.Wrapf(ErrFeatureLength, "%q has %d values, want 1", name, len(f.Int64s))
	}
	return f.Int64s[0], nil
}

// Bytes returns the single value of a bytes_list feature, the equivalent
// of tf.io.FixedLenFeature([], tf.string).
func (ex Example) Bytes(name string) ([]byte, error) {
	f, err := ex.lookup(name, KindBytes)
	if err != nil {
		return nil, err
	}
	if len(f.Bytes) != 1 {
		return nil, errors.Wrapf(ErrFeatureLength, "%q has %d values, want 1", name, len(f.Bytes))
	}
	return f.Bytes[0], nil
}

// Float returns the single value of a float_list feature.
func (ex Example) Float(name string) (float32, error) {
	f, err := ex.lookup(name, KindFloat)
	if err != nil {
		return 0, err
	}
	if len(f.Floats) != 1 {
		return 0, errors.Wrapf(ErrFeatureLength, "%q has %d values, want 1", name, len(f.Floats))
	}
	return f.Floats[0], nil
}

// Int64Feature builds an int64_list feature.
func Int64Feature(v ...int64) Feature { return Feature{Kind: KindInt64, Int64s: v} }

// BytesFeature builds a bytes_list feature.
func BytesFeature(v ...[]byte) Feature { return Feature{Kind: KindBytes, Bytes: v} }

// FloatFeature builds a float_list feature.
func FloatFeature(v ...float32) Feature { return Feature{Kind: KindFloat, Floats: v} }

// Marshal encodes ex as a tf.train.Example. Features are written in name
// order so the output is deterministic.
func (ex Example) Marshal() []byte {
	names := make([]string, 0, len(ex))
	for name := range ex {
		names = append(names, name)
	}
	sort.Strings(names)

	var features []byte
	for _, name := range names {
		var entry []byte
		entry = protowire.AppendTag(entry, mapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, name)
		entry = protowire.AppendTag(entry, mapValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, ex[name].marshal())

		features = protowire.AppendTag(features, featuresFeature, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	var out []byte
	out = protowire.AppendTag(out, exampleFeatures, protowire.BytesType)
	return protowire.AppendBytes(out, features)
}

func (f Feature) marshal() []byte {
	var (
		list []byte
		num  protowire.Number
	)
	switch f.Kind {
	case KindBytes:
		num = featureBytesList
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case KindFloat:
		num = featureFloatList
		var packed []byte
		for _, v := range f.Floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		if len(packed) > 0 {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	case KindInt64:
		num = featureInt64List
		var packed []byte
		for _, v := range f.Int64s {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		if len(packed) > 0 {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	default:
		return nil
	}
	out := protowire.AppendTag(nil, num, protowire.BytesType)
	return protowire.AppendBytes(out, list)
}

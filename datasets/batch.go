package datasets

import (
	"fmt"
	"io"
	"slices"

	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

type batchDataset struct {
	ds             Dataset
	size           int
	dropIncomplete bool
	eof            bool
}

// BatchDataset returns a Dataset that stacks batchSize consecutive elements
// of ds along a new leading axis, tensor by tensor. Every element of a batch
// must yield tensors of identical shape and dtype, otherwise Yield fails
// with a *ShapeMismatchError.
//
// If dropIncomplete is set, a trailing batch with fewer than batchSize
// elements is discarded at the end of a pass; otherwise it is yielded.
func BatchDataset(ds Dataset, batchSize int, dropIncomplete bool) Dataset {
	if batchSize < 1 {
		batchSize = 1
	}
	return &batchDataset{ds: ds, size: batchSize, dropIncomplete: dropIncomplete}
}

// Name implements train.Dataset.
func (ds *batchDataset) Name() string {
	return fmt.Sprintf("%s [Batch %d]", ds.ds.Name(), ds.size)
}

// Reset implements train.Dataset.
func (ds *batchDataset) Reset() {
	ds.eof = false
	ds.ds.Reset()
}

// Yield implements train.Dataset.
func (ds *batchDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if ds.eof {
		return nil, nil, nil, io.EOF
	}
	elements := make([]element, 0, ds.size)
	for len(elements) < ds.size {
		e := element{}
		e.spec, e.inputs, e.labels, e.err = ds.ds.Yield()
		if e.err == io.EOF {
			ds.eof = true
			break
		}
		if e.err != nil {
			return nil, nil, nil, e.err
		}
		elements = append(elements, e)
	}
	if len(elements) == 0 || (ds.dropIncomplete && len(elements) < ds.size) {
		return nil, nil, nil, io.EOF
	}

	inputs, err = stackAll(elements, "inputs", func(e element) []*tensors.Tensor { return e.inputs })
	if err != nil {
		return nil, nil, nil, err
	}
	labels, err = stackAll(elements, "labels", func(e element) []*tensors.Tensor { return e.labels })
	if err != nil {
		return nil, nil, nil, err
	}
	return elements[0].spec, inputs, labels, nil
}

// stackAll stacks, position by position, the tensors that field selects
// from each element.
func stackAll(elements []element, kind string, field func(element) []*tensors.Tensor) ([]*tensors.Tensor, error) {
	arity := len(field(elements[0]))
	column := make([]*tensors.Tensor, len(elements))
	stacked := make([]*tensors.Tensor, arity)
	for pos := range arity {
		name := fmt.Sprintf("%s[%d]", kind, pos)
		for i, e := range elements {
			ts := field(e)
			if len(ts) != arity {
				return nil, errors.Errorf("batch element %d yields %d %s, want %d", i, len(ts), kind, arity)
			}
			column[i] = ts[pos]
		}
		t, err := Stack(column)
		if err != nil {
			var mismatch *ShapeMismatchError
			if errors.As(err, &mismatch) {
				mismatch.Tensor = name
			}
			return nil, err
		}
		stacked[pos] = t
	}
	return stacked, nil
}

// Stack joins tensors of identical shape into one tensor with a new leading
// axis of size len(ts).
func Stack(ts []*tensors.Tensor) (*tensors.Tensor, error) {
	if len(ts) == 0 {
		return nil, errors.New("stacking zero tensors")
	}
	want := ts[0].Shape()
	for i, t := range ts[1:] {
		got := t.Shape()
		if got.DType != want.DType || !slices.Equal(got.Dimensions, want.Dimensions) {
			return nil, &ShapeMismatchError{Index: i + 1, Want: want, Got: got}
		}
	}
	switch want.DType {
	case dtypes.Float32:
		return stack[float32](ts, want), nil
	case dtypes.Float64:
		return stack[float64](ts, want), nil
	case dtypes.Uint8:
		return stack[uint8](ts, want), nil
	case dtypes.Int32:
		return stack[int32](ts, want), nil
	case dtypes.Int64:
		return stack[int64](ts, want), nil
	}
	return nil, errors.Errorf("stacking tensors of dtype %s is not supported", want.DType)
}

func stack[T float32 | float64 | uint8 | int32 | int64](ts []*tensors.Tensor, shape shapes.Shape) *tensors.Tensor {
	flat := make([]T, 0, len(ts)*shape.Size())
	for _, t := range ts {
		tensors.ConstFlatData[T](t, func(data []T) {
			flat = append(flat, data...)
		})
	}
	dims := append([]int{len(ts)}, shape.Dimensions...)
	return tensors.FromFlatDataAndDimensions(flat, dims...)
}

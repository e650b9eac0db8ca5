package datasets

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// MapFunc transforms the tensors of one yielded element.
type MapFunc func(inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, []*tensors.Tensor, error)

type mapDataset struct {
	ds   Dataset
	name string
	fn   MapFunc
}

// Map returns a Dataset applying fn to every element of ds. An error from
// fn ends the stream.
func Map(ds Dataset, name string, fn MapFunc) Dataset {
	return &mapDataset{ds: ds, name: name, fn: fn}
}

// MapPairs adapts a pair Mapping to the image in inputs[0] and the mask in
// labels[0]; any other tensors pass through untouched.
func MapPairs(ds Dataset, mapping Mapping) Dataset {
	return Map(ds, "Pairs", func(inputs, labels []*tensors.Tensor) ([]*tensors.Tensor, []*tensors.Tensor, error) {
		if len(inputs) == 0 || len(labels) == 0 {
			return nil, nil, errors.Errorf("pair mapping needs an image and a mask, got %d inputs and %d labels", len(inputs), len(labels))
		}
		image, mask, err := mapping(inputs[0], labels[0])
		if err != nil {
			return nil, nil, err
		}
		inputs = append([]*tensors.Tensor{image}, inputs[1:]...)
		labels = append([]*tensors.Tensor{mask}, labels[1:]...)
		return inputs, labels, nil
	})
}

// Name implements train.Dataset.
func (ds *mapDataset) Name() string {
	return fmt.Sprintf("%s [Map %s]", ds.ds.Name(), ds.name)
}

// Reset implements train.Dataset.
func (ds *mapDataset) Reset() {
	ds.ds.Reset()
}

// Yield implements train.Dataset.
func (ds *mapDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = ds.ds.Yield()
	if err != nil {
		return
	}
	inputs, labels, err = ds.fn(inputs, labels)
	if err != nil {
		err = errors.WithMessagef(err, "map %s", ds.name)
	}
	return
}

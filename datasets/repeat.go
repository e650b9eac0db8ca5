package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

type repeatDataset struct {
	ds       Dataset
	pass     int
	produced bool
}

// Repeat returns a Dataset that never ends: whenever ds reaches io.EOF it is
// Reset and read again. A pass that yields nothing fails with ErrEmptyEpoch.
func Repeat(ds Dataset) Dataset {
	return &repeatDataset{ds: ds}
}

// Name implements train.Dataset.
func (ds *repeatDataset) Name() string {
	return fmt.Sprintf("%s [Repeat]", ds.ds.Name())
}

// Reset implements train.Dataset.
func (ds *repeatDataset) Reset() {
	ds.ds.Reset()
	ds.pass = 0
	ds.produced = false
}

// Yield implements train.Dataset.
func (ds *repeatDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	for {
		spec, inputs, labels, err = ds.ds.Yield()
		if err != io.EOF {
			if err == nil {
				ds.produced = true
			}
			return
		}
		if !ds.produced {
			return nil, nil, nil, errors.Wrapf(ErrEmptyEpoch, "%s, pass %d", ds.ds.Name(), ds.pass)
		}
		ds.pass++
		ds.produced = false
		klog.V(2).Infof("%s: starting pass %d", ds.ds.Name(), ds.pass)
		ds.ds.Reset()
	}
}

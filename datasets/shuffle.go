package datasets

import (
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

type shuffleDataset struct {
	ds        Dataset
	size      int
	rng       *rand.Rand
	buffer    []element
	exhausted bool
}

// Shuffle returns a Dataset yielding the elements of ds in pseudo-random
// order drawn from a sliding window of bufferSize elements: the window is
// filled first, and every emission is replaced by the next unseen element.
// A window at least as large as ds gives a uniform shuffle of the whole
// pass; smaller windows only mix nearby elements.
//
// The random state carries across Reset, so each pass has a fresh order.
// A seed of 0 seeds from the clock.
func Shuffle(ds Dataset, bufferSize int, seed uint64) Dataset {
	if bufferSize < 1 {
		bufferSize = 1
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &shuffleDataset{
		ds:   ds,
		size: bufferSize,
		rng:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// Name implements train.Dataset.
func (ds *shuffleDataset) Name() string {
	return fmt.Sprintf("%s [Shuffle %d]", ds.ds.Name(), ds.size)
}

// Reset implements train.Dataset. Buffered elements are dropped.
func (ds *shuffleDataset) Reset() {
	ds.buffer = ds.buffer[:0]
	ds.exhausted = false
	ds.ds.Reset()
}

// Yield implements train.Dataset.
func (ds *shuffleDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	for !ds.exhausted && len(ds.buffer) < ds.size {
		e := element{}
		e.spec, e.inputs, e.labels, e.err = ds.ds.Yield()
		if e.err == io.EOF {
			ds.exhausted = true
			break
		}
		if e.err != nil {
			return nil, nil, nil, e.err
		}
		ds.buffer = append(ds.buffer, e)
	}
	if len(ds.buffer) == 0 {
		return nil, nil, nil, io.EOF
	}

	i := ds.rng.IntN(len(ds.buffer))
	e := ds.buffer[i]
	last := len(ds.buffer) - 1
	ds.buffer[i] = ds.buffer[last]
	ds.buffer[last] = element{}
	ds.buffer = ds.buffer[:last]
	return e.spec, e.inputs, e.labels, nil
}

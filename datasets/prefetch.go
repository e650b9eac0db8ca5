package datasets

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// AutoTune lets Prefetch pick its lookahead depth from the number of
// usable CPUs.
const AutoTune = -1

// PrefetchDataset reads ahead of its consumer on a background goroutine.
// Up to Depth elements are kept ready; the producer blocks once that many
// are queued.
//
// The goroutine starts on the first Yield. Errors are sticky: once the
// upstream dataset fails, every Yield returns that error until Reset.
// Yield must be called from one goroutine at a time; Close may be called
// from any goroutine.
type PrefetchDataset struct {
	ds    Dataset
	depth int

	mu     sync.Mutex
	queue  chan element
	cancel context.CancelFunc
	group  *errgroup.Group
	err    error
	closed bool
}

var _ Dataset = (*PrefetchDataset)(nil)

// Prefetch wraps ds. A depth of 0 or AutoTune uses runtime.GOMAXPROCS(0).
func Prefetch(ds Dataset, depth int) *PrefetchDataset {
	if depth <= 0 {
		depth = runtime.GOMAXPROCS(0)
	}
	return &PrefetchDataset{ds: ds, depth: depth}
}

// Depth is the number of elements kept ready.
func (p *PrefetchDataset) Depth() int {
	return p.depth
}

// Name implements train.Dataset.
func (p *PrefetchDataset) Name() string {
	return fmt.Sprintf("%s [Prefetch %d]", p.ds.Name(), p.depth)
}

// Yield implements train.Dataset. It blocks until the producer has an
// element ready.
func (p *PrefetchDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	p.mu.Lock()
	switch {
	case p.closed:
		p.mu.Unlock()
		return nil, nil, nil, ErrClosed
	case p.err != nil:
		err = p.err
		p.mu.Unlock()
		return nil, nil, nil, err
	case p.queue == nil:
		p.start()
	}
	queue := p.queue
	p.mu.Unlock()

	e, ok := <-queue
	if !ok {
		return nil, nil, nil, ErrClosed
	}
	if e.err != nil {
		p.mu.Lock()
		p.err = e.err
		p.mu.Unlock()
		return nil, nil, nil, e.err
	}
	return e.spec, e.inputs, e.labels, nil
}

// start launches the producer. Called with p.mu held.
func (p *PrefetchDataset) start() {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan element, p.depth)
	p.queue, p.cancel, p.group = queue, cancel, g
	klog.V(1).Infof("%s: starting producer", p.Name())
	g.Go(func() error {
		return p.produce(ctx, queue)
	})
}

// produce yields from the upstream dataset into queue until it fails,
// reaches io.EOF or ctx is cancelled. The terminal error, io.EOF included,
// is delivered as the last element.
func (p *PrefetchDataset) produce(ctx context.Context, queue chan<- element) error {
	defer close(queue)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := element{}
		e.spec, e.inputs, e.labels, e.err = p.ds.Yield()
		select {
		case queue <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.err != nil {
			if e.err != io.EOF {
				klog.V(1).Infof("%s: upstream failed: %v", p.Name(), e.err)
			}
			return nil
		}
	}
}

// stop cancels the producer and waits for it. Called with p.mu held.
func (p *PrefetchDataset) stop() {
	if p.queue == nil {
		return
	}
	p.cancel()
	// Unblock a producer waiting on a full queue.
	for range p.queue {
	}
	_ = p.group.Wait()
	p.queue, p.cancel, p.group = nil, nil, nil
	klog.V(1).Infof("%s: producer stopped", p.Name())
}

// Reset implements train.Dataset. It stops the producer, discards queued
// elements and any sticky error, and resets the upstream dataset.
func (p *PrefetchDataset) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop()
	p.err = nil
	p.ds.Reset()
}

// Close stops the producer. Later calls to Yield return ErrClosed.
func (p *PrefetchDataset) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stop()
	p.closed = true
	if c, ok := p.ds.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

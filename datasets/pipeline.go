package datasets

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	mldatasets "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/segloader/tfrecord"
)

// Config describes a training pipeline over a directory of record files.
type Config struct {
	// Dir holds the record files.
	Dir string

	// Pattern selects files inside Dir (e.g., "*.tfrecords"). Not recursive.
	Pattern string

	// BatchSize is the number of examples stacked in every batch.
	BatchSize int

	// BufferSize is the size of the shuffle window.
	BufferSize int

	// ScalarType of the samples stored on disk. It is independent of Mapping.
	ScalarType ScalarType

	// Payload layout of raw_image and raw_mask.
	Payload PayloadFormat

	// Compression of the record files.
	Compression tfrecord.Compression

	// Mapping, if set, is applied to every decoded pair before shuffling.
	Mapping Mapping

	// Seed for the shuffle. 0 seeds from the clock.
	Seed uint64

	// Prefetch is the number of batches prepared ahead of the consumer.
	// 0 or AutoTune picks it from the number of CPUs.
	Prefetch int
}

// Validate checks the numeric settings.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.BufferSize < 1 {
		return errors.Errorf("shuffle buffer size must be positive, got %d", c.BufferSize)
	}
	if c.ScalarType != Float32 && c.ScalarType != Uint8 {
		return errors.Errorf("invalid scalar type %d", c.ScalarType)
	}
	return nil
}

// Pipeline is an endless, shuffled stream of batches. It implements
// train.Dataset: every Yield returns the images [B, H, W, D] as inputs[0]
// and the masks [B, H, W, 1] as labels[0]. It never returns io.EOF; the
// consumer decides when to stop and should Close the pipeline afterwards.
//
// A decode or shape error ends the stream: it is returned by that Yield and
// every following one. Independent pipelines, even over the same files,
// share no state.
type Pipeline struct {
	config   Config
	records  *RecordDataset
	prefetch *PrefetchDataset
	batches  int
}

var _ Dataset = (*Pipeline)(nil)

// Build discovers the record files and assembles
//
//	decode -> [mapping] -> shuffle -> batch -> repeat -> prefetch
//
// No record is read until the first Yield. When no file matches, Build
// fails right away with ErrNotFound.
//
// Each pass over the files drops its trailing incomplete batch, so every
// batch holds exactly BatchSize examples; if the files hold fewer than
// BatchSize records the stream fails with ErrEmptyEpoch.
func Build(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	files, err := FindRecordFiles(cfg.Dir, cfg.Pattern)
	if err != nil {
		return nil, err
	}

	records := NewRecordDataset(files)
	records.ScalarType = cfg.ScalarType
	records.Payload = cfg.Payload
	records.Compression = cfg.Compression

	var ds Dataset = records
	if cfg.Mapping != nil {
		ds = MapPairs(ds, cfg.Mapping)
	}
	ds = Shuffle(ds, cfg.BufferSize, cfg.Seed)
	ds = BatchDataset(ds, cfg.BatchSize, true)
	ds = Repeat(ds)

	p := &Pipeline{
		config:   cfg,
		records:  records,
		prefetch: Prefetch(ds, cfg.Prefetch),
	}
	klog.V(1).Infof("built %s", p.Name())
	return p, nil
}

// BuildPipeline assembles a pipeline with the classic loader defaults:
// records are read as float32, unless a mapping is given, in which
// case they are read as uint8 and passed through it (typically
// NormalizeUint8ToFloat). Use Build to choose the scalar type explicitly.
func BuildPipeline(dir, pattern string, batchSize, bufferSize int, mapping Mapping) (*Pipeline, error) {
	cfg := Config{
		Dir:        dir,
		Pattern:    pattern,
		BatchSize:  batchSize,
		BufferSize: bufferSize,
		Mapping:    mapping,
		Prefetch:   AutoTune,
	}
	if mapping != nil {
		cfg.ScalarType = Uint8
	}
	return Build(cfg)
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() Config {
	return p.config
}

// Files returns the record files the pipeline reads, in order.
func (p *Pipeline) Files() []string {
	return p.records.Files()
}

// Name implements train.Dataset.
func (p *Pipeline) Name() string {
	return fmt.Sprintf("Pipeline(%s)", p.prefetch.Name())
}

// Reset implements train.Dataset. The stream restarts from the first file,
// with a new shuffle order, and any earlier error is cleared.
func (p *Pipeline) Reset() {
	p.prefetch.Reset()
}

// Yield implements train.Dataset.
func (p *Pipeline) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	spec, inputs, labels, err = p.prefetch.Yield()
	if err != nil {
		return
	}
	if p.batches == 0 && klog.V(1).Enabled() {
		klog.Infof("first batch: images %s (%s), masks %s (%s)",
			inputs[0].Shape(), humanize.Bytes(uint64(inputs[0].Shape().Memory())),
			labels[0].Shape(), humanize.Bytes(uint64(labels[0].Shape().Memory())))
	}
	p.batches++
	return p, inputs, labels, nil
}

// Next returns the next batch.
func (p *Pipeline) Next() (Batch, error) {
	_, inputs, labels, err := p.Yield()
	if err != nil {
		return Batch{}, err
	}
	return Batch{Images: inputs[0], Masks: labels[0]}, nil
}

// Take returns a finite view of the pipeline yielding n batches before
// io.EOF, for loops that expect epochs.
func (p *Pipeline) Take(n int) Dataset {
	return mldatasets.Take(p, n)
}

// Close stops background work and closes any open file. The pipeline
// cannot be used afterwards.
func (p *Pipeline) Close() error {
	err := p.prefetch.Close()
	if cerr := p.records.Close(); err == nil {
		err = cerr
	}
	return err
}

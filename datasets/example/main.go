package main

// Example command that builds the segmentation pipeline over a directory of
// TFRecord files, pulls a few batches and plots the value distribution of
// the images and masks it got.
//
// Usage:
//   go run ./datasets/example -dir ../assets/records -pattern '*.tfrecords' -normalize
//
// The expected record size is read from parameters.ini ([DEFAULT] height and
// width); records of a different size are reported but still loaded. Add
// -v=1 to see file discovery and the prefetch worker.

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/segloader/config"
	"github.com/Noofbiz/segloader/datasets"
	"github.com/Noofbiz/segloader/inspect"
	"github.com/Noofbiz/segloader/tfrecord"
)

var (
	flagDir         = flag.String("dir", "../assets/records", "Directory holding the record files.")
	flagPattern     = flag.String("pattern", "*.tfrecords", "Filename pattern of the record files within -dir.")
	flagParameters  = flag.String("parameters", config.DefaultPath, "INI file with the expected height and width.")
	flagBatchSize   = flag.Int("batch", 8, "Batch size.")
	flagBufferSize  = flag.Int("buffer", 256, "Shuffle buffer size.")
	flagBatches     = flag.Int("batches", 4, "Number of batches to pull.")
	flagNormalize   = flag.Bool("normalize", false, "Records hold uint8 samples, normalize images to [0, 1].")
	flagTensorProto = flag.Bool("tensor_proto", false, "raw_image and raw_mask hold serialized TensorProtos.")
	flagCompression = flag.String("compression", "", "Record file compression: \"\", GZIP or ZLIB.")
	flagSeed        = flag.Uint64("seed", 0, "Shuffle seed, 0 uses the clock.")
	flagPlots       = flag.String("plots", "output", "Directory where histograms are written, empty to skip.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	params, err := config.Load(*flagParameters)
	if err != nil {
		klog.Fatalf("failed to load parameters: %+v", err)
	}
	fmt.Printf("Expected record size: %s\n", params)

	compression, err := tfrecord.ParseCompression(*flagCompression)
	if err != nil {
		klog.Fatalf("%+v", err)
	}
	cfg := datasets.Config{
		Dir:         *flagDir,
		Pattern:     *flagPattern,
		BatchSize:   *flagBatchSize,
		BufferSize:  *flagBufferSize,
		Compression: compression,
		Seed:        *flagSeed,
		Prefetch:    datasets.AutoTune,
	}
	if *flagNormalize {
		cfg.ScalarType = datasets.Uint8
		cfg.Mapping = datasets.NormalizeUint8ToFloat
	}
	if *flagTensorProto {
		cfg.Payload = datasets.PayloadTensorProto
	}

	pipeline, err := datasets.Build(cfg)
	if err != nil {
		klog.Fatalf("failed to build pipeline: %+v", err)
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			klog.Errorf("closing pipeline: %v", err)
		}
	}()
	fmt.Printf("Reading %d files: %s\n", len(pipeline.Files()), pipeline.Name())

	if err := run(pipeline, params); err != nil {
		klog.Errorf("%+v", err)
		return
	}
	fmt.Println("\nExample completed successfully!")
}

// run pulls the batches, reports their shapes and plots the last one.
func run(pipeline *datasets.Pipeline, params *config.Parameters) error {
	var last datasets.Batch
	ds := pipeline.Take(*flagBatches)
	for i := 0; ; i++ {
		_, inputs, labels, err := ds.Yield()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return errors.WithMessagef(err, "batch #%d", i)
		}
		last = datasets.Batch{Images: inputs[0], Masks: labels[0]}
		fmt.Printf("Batch %d: images %s, masks %s\n", i, last.Images.Shape(), last.Masks.Shape())

		dims := last.Images.Shape().Dimensions
		if i == 0 && (dims[1] != params.Height || dims[2] != params.Width) {
			klog.Warningf("records are %dx%d, %s expects %s", dims[1], dims[2], *flagParameters, params)
		}
	}
	if last.Images == nil || *flagPlots == "" {
		return nil
	}

	p, err := inspect.ImageHistogram(last.Images, inspect.DefaultBins)
	if err != nil {
		return err
	}
	if err := inspect.Save(p, filepath.Join(*flagPlots, "images.png")); err != nil {
		return err
	}
	p, err = inspect.MaskHistogram(last.Masks)
	if err != nil {
		return err
	}
	if err := inspect.Save(p, filepath.Join(*flagPlots, "masks.png")); err != nil {
		return err
	}
	counts, err := inspect.ClassCounts(last.Masks)
	if err != nil {
		return err
	}
	fmt.Printf("Mask pixels per class in the last batch: %v\n", counts)
	fmt.Printf("Histograms written to %s\n", *flagPlots)
	return nil
}

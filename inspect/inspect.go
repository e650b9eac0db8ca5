// Package inspect renders the value distribution of image and mask batches,
// to check by eye that records were decoded and normalized as expected.
package inspect

import (
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"
)

// DefaultBins is the number of histogram bins used for images when none is
// given.
const DefaultBins = 64

// Values flattens a float32 or uint8 tensor into plottable values.
func Values(t *tensors.Tensor) (plotter.Values, error) {
	values := make(plotter.Values, 0, t.Shape().Size())
	switch dtype := t.Shape().DType; dtype {
	case dtypes.Float32:
		tensors.ConstFlatData[float32](t, func(data []float32) {
			for _, v := range data {
				values = append(values, float64(v))
			}
		})
	case dtypes.Uint8:
		tensors.ConstFlatData[uint8](t, func(data []uint8) {
			for _, v := range data {
				values = append(values, float64(v))
			}
		})
	default:
		return nil, errors.Errorf("cannot inspect tensors of dtype %s", dtype)
	}
	return values, nil
}

// ImageHistogram plots the distribution of every sample of a batch of
// images. The x axis spans [0, 255] for uint8 images and [0, 1] for float32
// ones, so that unnormalized data stands out. bins <= 0 uses DefaultBins.
func ImageHistogram(images *tensors.Tensor, bins int) (*plot.Plot, error) {
	values, err := Values(images)
	if err != nil {
		return nil, err
	}
	if bins <= 0 {
		bins = DefaultBins
	}
	p, err := histogram("Image samples "+images.Shape().String(), values, bins)
	if err != nil {
		return nil, err
	}
	if images.Shape().DType == dtypes.Uint8 {
		p.X.Min, p.X.Max = 0, 255
	} else {
		lo, hi := valueRange(values)
		p.X.Min, p.X.Max = math.Min(lo, 0), math.Max(hi, 1)
	}
	return p, nil
}

// ClassCounts counts how many mask pixels hold each class index. Mask
// values must be non-negative integers, whatever their dtype.
func ClassCounts(masks *tensors.Tensor) ([]int, error) {
	values, err := Values(masks)
	if err != nil {
		return nil, err
	}
	var counts []int
	for i, v := range values {
		if v < 0 || v != math.Trunc(v) {
			return nil, errors.Errorf("mask value #%d is %g, not a class index", i, v)
		}
		class := int(v)
		for len(counts) <= class {
			counts = append(counts, 0)
		}
		counts[class]++
	}
	return counts, nil
}

// MaskHistogram plots the number of pixels per class of a batch of masks.
func MaskHistogram(masks *tensors.Tensor) (*plot.Plot, error) {
	counts, err := ClassCounts(masks)
	if err != nil {
		return nil, err
	}
	bars := make(plotter.Values, len(counts))
	names := make([]string, len(counts))
	for class, n := range counts {
		bars[class] = float64(n)
		names[class] = strconv.Itoa(class)
	}

	p := plot.New()
	p.Title.Text = "Mask classes " + masks.Shape().String()
	p.X.Label.Text = "class"
	p.Y.Label.Text = "pixels"
	chart, err := plotter.NewBarChart(bars, vg.Points(20))
	if err != nil {
		return nil, errors.Wrap(err, "building bar chart")
	}
	chart.Color = color.RGBA{R: 200, G: 30, B: 30, A: 200}
	chart.LineStyle.Width = vg.Length(0)
	p.Add(chart, plotter.NewGrid())
	p.NominalX(names...)
	return p, nil
}

// SaveHistogram renders values into a histogram with the given number of
// bins and writes it to path. The image format follows the extension.
func SaveHistogram(path, title string, values plotter.Values, bins int) error {
	if bins <= 0 {
		bins = DefaultBins
	}
	p, err := histogram(title, values, bins)
	if err != nil {
		return err
	}
	p.X.Min, p.X.Max = paddedRange(values)
	return Save(p, path)
}

// Save writes p to path at 8x6 inches, creating the directory if needed.
func Save(p *plot.Plot, path string) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "creating directory for %s", path)
	}
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "saving plot to %s", path)
	}
	klog.V(1).Infof("wrote %s", path)
	return nil
}

func histogram(title string, values plotter.Values, bins int) (*plot.Plot, error) {
	if len(values) == 0 {
		return nil, errors.New("no values to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "value"
	p.Y.Label.Text = "count"

	h, err := plotter.NewHist(values, bins)
	if err != nil {
		return nil, errors.Wrap(err, "building histogram")
	}
	h.FillColor = color.RGBA{R: 20, G: 80, B: 200, A: 220}
	h.LineStyle.Width = vg.Points(0.5)
	p.Add(h, plotter.NewGrid())
	return p, nil
}

func valueRange(values plotter.Values) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

// paddedRange returns min and max of values with a small padding.
func paddedRange(values plotter.Values) (lo, hi float64) {
	if len(values) == 0 {
		return -1, 1
	}
	lo, hi = valueRange(values)
	pad := (hi - lo) * 0.06
	if pad == 0 {
		pad = 1.0
	}
	return lo - pad, hi + pad
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0755)
}

package datasets

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Noofbiz/segloader/features"
	"github.com/Noofbiz/segloader/tfrecord"
)

// firstSamples returns the first image sample of every example in a batch;
// the fixtures fill each image with its record id.
func firstSamples(t *testing.T, b Batch) []float32 {
	t.Helper()
	dims := b.Images.Shape().Dimensions
	per := dims[1] * dims[2] * dims[3]
	values := flat[float32](b.Images)
	out := make([]float32, dims[0])
	for i := range out {
		out[i] = values[i*per]
	}
	return out
}

func TestPipelineBatchShape(t *testing.T) {
	dir := t.TempDir()
	const h, w, d = 4, 3, 2
	writeRecords(t, dir, "a.tfrecords", float32Record(1, h, w, d), float32Record(2, h, w, d), float32Record(3, h, w, d))
	writeRecords(t, dir, "b.tfrecords", float32Record(4, h, w, d), float32Record(5, h, w, d))

	p, err := BuildPipeline(dir, "*.tfrecords", 2, 8, nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Len(t, p.Files(), 2)

	for range 10 {
		b, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, []int{2, h, w, d}, b.Images.Shape().Dimensions)
		assert.Equal(t, []int{2, h, w, 1}, b.Masks.Shape().Dimensions)
		assert.Equal(t, dtypes.Float32, b.Images.Shape().DType)
	}
}

func TestPipelineRepeatsPastOnePass(t *testing.T) {
	dir := t.TempDir()
	var records [][]byte
	for id := range 5 {
		records = append(records, float32Record(float32(id), 2, 2, 1))
	}
	writeRecords(t, dir, "data.tfrecords", records...)

	// A window of one keeps file order, which makes passes visible.
	p, err := Build(Config{Dir: dir, Pattern: "*.tfrecords", BatchSize: 2, BufferSize: 1, Prefetch: 2})
	require.NoError(t, err)
	defer p.Close()

	var got [][]float32
	for range 6 {
		b, err := p.Next()
		require.NoError(t, err)
		got = append(got, firstSamples(t, b))
	}
	// 5 records make 2 full batches per pass; batch 3 starts the second pass.
	assert.Equal(t, [][]float32{{0, 1}, {2, 3}, {0, 1}, {2, 3}, {0, 1}, {2, 3}}, got)
}

func TestPipelineShufflesWithinPass(t *testing.T) {
	dir := t.TempDir()
	var records [][]byte
	for id := range 12 {
		records = append(records, float32Record(float32(id), 1, 1, 1))
	}
	writeRecords(t, dir, "data.tfrecords", records...)

	p, err := Build(Config{Dir: dir, Pattern: "*.tfrecords", BatchSize: 3, BufferSize: 12, Seed: 5})
	require.NoError(t, err)
	defer p.Close()

	var pass []float32
	for range 4 {
		b, err := p.Next()
		require.NoError(t, err)
		pass = append(pass, firstSamples(t, b)...)
	}
	assert.ElementsMatch(t, []float32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, pass)
}

func TestPipelineShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "a.tfrecords", float32Record(1, 2, 2, 1))
	writeRecords(t, dir, "b.tfrecords", float32Record(2, 3, 2, 1))

	// Discovery does not look at record contents.
	p, err := BuildPipeline(dir, "*.tfrecords", 2, 1, nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrShapeMismatch))
	var mismatch *ShapeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "inputs[0]", mismatch.Tensor)

	_, err = p.Next()
	assert.True(t, errors.Is(err, ErrShapeMismatch), "errors must be sticky")
}

func TestPipelineEmptyDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := BuildPipeline(dir, "*.tfrecords", 2, 4, nil)
	assert.True(t, errors.Is(err, ErrNotFound))

	// Non-matching names and matching directories do not count.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.tfrecords"), 0o755))
	_, err = BuildPipeline(dir, "*.tfrecords", 2, 4, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPipelineNonRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeRecords(t, sub, "a.tfrecords", float32Record(1, 1, 1, 1))

	_, err := BuildPipeline(dir, "**.tfrecords", 1, 1, nil)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = BuildPipeline(dir, "**/*.tfrecords", 1, 1, nil)
	require.NoError(t, err)
}

func TestPipelineInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "a.tfrecords", float32Record(1, 1, 1, 1))
	_, err := BuildPipeline(dir, "*.tfrecords", 0, 1, nil)
	assert.Error(t, err)
	_, err = BuildPipeline(dir, "*.tfrecords", 1, 0, nil)
	assert.Error(t, err)
	_, err = BuildPipeline(dir, "[", 1, 1, nil)
	assert.Error(t, err)
}

func TestPipelineTooFewRecords(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "a.tfrecords", float32Record(1, 1, 1, 1))
	p, err := BuildPipeline(dir, "*.tfrecords", 2, 4, nil)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.Next()
	assert.True(t, errors.Is(err, ErrEmptyEpoch))
}

func TestPipelineWithMapping(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "a.tfrecords", uint8Record(255, 2, 2, 3), uint8Record(51, 2, 2, 3))

	p, err := BuildPipeline(dir, "*.tfrecords", 2, 2, NormalizeUint8ToFloat)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, Uint8, p.Config().ScalarType)

	b, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, dtypes.Float32, b.Images.Shape().DType)
	assert.Equal(t, dtypes.Float32, b.Masks.Shape().DType)
	assert.ElementsMatch(t, []float32{1, 0.2}, firstSamples(t, b))
	for _, v := range flat[float32](b.Masks) {
		assert.Contains(t, []float32{0, 1, 2}, v)
	}
}

func TestPipelineScalarTypeIndependentOfMapping(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "a.tfrecords", uint8Record(7, 1, 2, 1), uint8Record(9, 1, 2, 1))

	p, err := Build(Config{Dir: dir, Pattern: "*.tfrecords", BatchSize: 2, BufferSize: 1, ScalarType: Uint8})
	require.NoError(t, err)
	defer p.Close()
	b, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, dtypes.Uint8, b.Images.Shape().DType)
	assert.Equal(t, []uint8{7, 7, 9, 9}, flat[uint8](b.Images))
}

func TestPipelineDecodeErrorIsLazyAndFatal(t *testing.T) {
	dir := t.TempDir()
	bad := encodeRecord(2, 2, 1, []byte{1, 2, 3}, []byte{0, 0, 0, 0})
	writeRecords(t, dir, "a.tfrecords", uint8Record(1, 2, 2, 1), uint8Record(2, 2, 2, 1), bad)

	p, err := Build(Config{Dir: dir, Pattern: "*.tfrecords", BatchSize: 1, BufferSize: 1, ScalarType: Uint8, Prefetch: 1})
	require.NoError(t, err)
	defer p.Close()

	for range 2 {
		_, err := p.Next()
		require.NoError(t, err)
	}
	_, err = p.Next()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode))
	assert.Contains(t, err.Error(), "record #2")

	_, err = p.Next()
	assert.True(t, errors.Is(err, ErrDecode))

	p.Reset()
	_, err = p.Next()
	assert.NoError(t, err, "Reset clears the error and starts over")
}

func TestPipelineCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRecords(t, dir, "a.tfrecords", float32Record(1, 1, 1, 1))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-1], 0o644))

	p, err := BuildPipeline(dir, "*.tfrecords", 1, 1, nil)
	require.NoError(t, err)
	defer p.Close()
	_, err = p.Next()
	assert.True(t, errors.Is(err, tfrecord.ErrCorrupted))
}

func TestPipelineCompressedTensorProto(t *testing.T) {
	dir := t.TempDir()
	record := func(id uint8) []byte {
		image := []uint8{id, id, id, id}
		return encodeRecord(2, 2, 1,
			features.NewUint8Tensor(image, 2, 2).Marshal(),
			features.NewUint8Tensor([]uint8{0, 1, 1, 0}, 2, 2).Marshal())
	}
	writeCompressedRecords(t, dir, "a.tfrecords.gz", tfrecord.GZIP, record(10), record(20), record(30))

	p, err := Build(Config{
		Dir: dir, Pattern: "*.gz", BatchSize: 3, BufferSize: 3,
		ScalarType: Uint8, Payload: PayloadTensorProto, Compression: tfrecord.GZIP,
		Mapping: NormalizeUint8ToFloat,
	})
	require.NoError(t, err)
	defer p.Close()

	b, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 2, 1}, b.Images.Shape().Dimensions)
	assert.ElementsMatch(t, []float32{10.0 / 255, 20.0 / 255, 30.0 / 255}, firstSamples(t, b))
}

func TestPipelineTake(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "a.tfrecords", float32Record(1, 1, 1, 1), float32Record(2, 1, 1, 1))
	p, err := BuildPipeline(dir, "*.tfrecords", 1, 2, nil)
	require.NoError(t, err)
	defer p.Close()

	ds := p.Take(5)
	for range 5 {
		_, inputs, labels, err := ds.Yield()
		require.NoError(t, err)
		assert.Len(t, inputs, 1)
		assert.Len(t, labels, 1)
	}
	_, _, _, err = ds.Yield()
	assert.Equal(t, io.EOF, err)
}

func TestIndependentPipelines(t *testing.T) {
	dir := t.TempDir()
	var records [][]byte
	for id := range 6 {
		records = append(records, float32Record(float32(id), 2, 2, 1))
	}
	writeRecords(t, dir, "a.tfrecords", records...)

	var wg sync.WaitGroup
	for range 3 {
		p, err := BuildPipeline(dir, "*.tfrecords", 2, 4, nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.Close()
			for range 20 {
				b, err := p.Next()
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, []int{2, 2, 2, 1}, b.Images.Shape().Dimensions)
			}
		}()
	}
	wg.Wait()
}

func TestPipelineCloseStopsYield(t *testing.T) {
	dir := t.TempDir()
	writeRecords(t, dir, "a.tfrecords", float32Record(1, 1, 1, 1))
	p, err := BuildPipeline(dir, "*.tfrecords", 1, 1, nil)
	require.NoError(t, err)
	_, err = p.Next()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	_, err = p.Next()
	assert.True(t, errors.Is(err, ErrClosed))
}

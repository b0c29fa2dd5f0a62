package data

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/vision"
)

func testBatch(n, d int) *Batch {
	captions := make([][]int, n)
	for i := range captions {
		captions[i] = []int{i + 1}
	}
	return &Batch{
		RefImages:        mat.NewDense(n, d, nil),
		TargetImages:     mat.NewDense(n, d, nil),
		DistractorImages: mat.NewDense(n, d, nil),
		Captions:         captions,
	}
}

func TestBatchValidate(t *testing.T) {
	b := testBatch(3, 4)
	require.NoError(t, b.Validate())
	assert.Equal(t, 3, b.Size())

	b.TargetImages = mat.NewDense(2, 4, nil)
	assert.ErrorIs(t, b.Validate(), ErrBatchShape)

	b = testBatch(3, 4)
	b.Captions = b.Captions[:2]
	assert.ErrorIs(t, b.Validate(), ErrBatchShape)

	assert.ErrorIs(t, (&Batch{}).Validate(), ErrEmptyBatch)
	assert.Equal(t, 0, (&Batch{}).Size())
}

func TestSliceLoader(t *testing.T) {
	l := SliceLoader{testBatch(2, 2), testBatch(1, 2)}
	assert.Equal(t, 2, l.Len())

	b, err := l.Batch(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, b.Size())

	_, err = l.Batch(t.Context(), 2)
	assert.ErrorIs(t, err, ErrIndexOutRange)
}

func syntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Batches:    3,
		BatchSize:  4,
		InputDim:   5,
		VocabSize:  7,
		CaptionLen: 2,
		Seed:       9,
		WorldSize:  1,
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	a, err := NewSynthetic(syntheticConfig())
	require.NoError(t, err)
	b, err := NewSynthetic(syntheticConfig())
	require.NoError(t, err)

	for i := range a.Len() {
		ba, err := a.Batch(t.Context(), i)
		require.NoError(t, err)
		require.NoError(t, ba.Validate())
		bb, err := b.Batch(t.Context(), i)
		require.NoError(t, err)

		assert.True(t, mat.Equal(ba.RefImages, bb.RefImages), "batch %d ref", i)
		assert.True(t, mat.Equal(ba.TargetImages, bb.TargetImages), "batch %d target", i)
		if diff := cmp.Diff(ba.Captions, bb.Captions); diff != "" {
			t.Errorf("captions batch %d (-a +b):\n%s", i, diff)
		}

		for _, c := range ba.Captions {
			for _, tok := range c {
				assert.True(t, tok >= 1 && tok < 7, "token %d ausserhalb des Vokabulars", tok)
			}
		}
	}
}

func TestSyntheticTargetFollowsCaption(t *testing.T) {
	l, err := NewSynthetic(syntheticConfig())
	require.NoError(t, err)
	b, err := l.Batch(t.Context(), 0)
	require.NoError(t, err)

	// Ziel minus Referenz ist der Mittelwert der Caption-Richtungen
	for row, caption := range b.Captions {
		for col := 0; col < 5; col++ {
			want := 0.0
			for _, tok := range caption {
				want += l.directions.At(tok, col)
			}
			want /= float64(len(caption))
			got := b.TargetImages.At(row, col) - b.RefImages.At(row, col)
			assert.InDelta(t, want, got, 1e-12)
		}
	}
}

func TestSyntheticShardsByRank(t *testing.T) {
	cfg := syntheticConfig()
	cfg.WorldSize = 2

	r0, err := NewSynthetic(cfg)
	require.NoError(t, err)
	cfg.Rank = 1
	r1, err := NewSynthetic(cfg)
	require.NoError(t, err)

	b0, err := r0.Batch(t.Context(), 0)
	require.NoError(t, err)
	b1, err := r1.Batch(t.Context(), 0)
	require.NoError(t, err)
	assert.False(t, mat.Equal(b0.RefImages, b1.RefImages), "Ranks duerfen nicht dieselben Daten sehen")

	cfg.Rank = 2
	_, err = NewSynthetic(cfg)
	assert.Error(t, err)
}

func TestSyntheticErrors(t *testing.T) {
	cfg := syntheticConfig()
	cfg.VocabSize = 1
	_, err := NewSynthetic(cfg)
	assert.Error(t, err)

	l, err := NewSynthetic(syntheticConfig())
	require.NoError(t, err)
	_, err = l.Batch(t.Context(), 3)
	assert.ErrorIs(t, err, ErrIndexOutRange)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = l.Batch(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func writeManifest(t *testing.T, dir string, lines ...string) string {
	t.Helper()

	path := filepath.Join(dir, "train.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func TestManifestLoader(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red.png"), color.RGBA{255, 0, 0, 255})
	writePNG(t, filepath.Join(dir, "blue.png"), color.RGBA{0, 0, 255, 255})

	path := writeManifest(t, dir,
		`{"ref":"red.png","target":"blue.png","distractor":"red.png","caption":[1,2]}`,
		``,
		`{"ref":"blue.png","target":"red.png","distractor":"blue.png","caption":[3]}`,
		`{"ref":"red.png","target":"red.png","distractor":"blue.png","caption":[4]}`,
	)

	l, err := OpenManifest(ManifestConfig{Path: path, BatchSize: 2, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())

	b, err := l.Batch(t.Context(), 0)
	require.NoError(t, err)
	require.NoError(t, b.Validate())
	assert.Equal(t, [][]int{{1, 2}, {3}}, b.Captions)

	red, err := vision.PreprocessFile(filepath.Join(dir, "red.png"), 4)
	require.NoError(t, err)
	assert.Equal(t, red, b.RefImages.RawRowView(0))
	assert.Equal(t, red, b.TargetImages.RawRowView(1))

	last, err := l.Batch(t.Context(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, last.Size())
	assert.Equal(t, red, last.TargetImages.RawRowView(0))

	l, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 2, ImageSize: 4, VocabSize: 16, WorldSize: 1, DropLast: true})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())

	// Rank 1 von 2 bekommt nur den zweiten Eintrag
	l, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 2, ImageSize: 4, VocabSize: 16, Rank: 1, WorldSize: 2})
	require.NoError(t, err)
	b, err = l.Batch(t.Context(), 0)
	require.NoError(t, err)
	assert.Equal(t, [][]int{{3}}, b.Captions)
}

func TestManifestErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenManifest(ManifestConfig{Path: filepath.Join(dir, "missing.jsonl"), BatchSize: 1, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	assert.Error(t, err)

	path := writeManifest(t, dir, `{"ref":"a.png","target":"b.png"}`)
	_, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 1, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	assert.ErrorContains(t, err, "missing image path")

	path = writeManifest(t, dir, `{"ref":"a.gif","target":"b.png","distractor":"c.png"}`)
	_, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 1, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	assert.ErrorIs(t, err, vision.ErrUnknownFormat)

	path = writeManifest(t, dir, `{"ref":"a.png","target":"b.png","distractor":"c.png","caption":[1]}`, `{"ref":"a.png","target":"b.png","distractor":"c.png","caption":[1,999]}`)
	_, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 1, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	assert.ErrorContains(t, err, "line 2: token 999")

	path = writeManifest(t, dir, `{"ref":"a.png","target":"b.png","distractor":"c.png","caption":[-1]}`)
	_, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 1, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	assert.ErrorContains(t, err, "token -1")

	_, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 1, ImageSize: 4, WorldSize: 1})
	assert.ErrorContains(t, err, "invalid manifest config")

	path = writeManifest(t, dir, `{not json`)
	_, err = OpenManifest(ManifestConfig{Path: path, BatchSize: 1, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	assert.ErrorContains(t, err, "line 1")

	// Bild fehlt erst beim Laden des Batches
	path = writeManifest(t, dir, `{"ref":"a.png","target":"b.png","distractor":"c.png","caption":[1]}`)
	l, err := OpenManifest(ManifestConfig{Path: path, BatchSize: 1, ImageSize: 4, VocabSize: 16, WorldSize: 1})
	require.NoError(t, err)
	_, err = l.Batch(t.Context(), 0)
	assert.ErrorContains(t, err, "batch 0")
}

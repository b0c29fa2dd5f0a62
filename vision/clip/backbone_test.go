package clip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/ml"
	"github.com/ollama/cirtrain/vision"
)

func newTestBackbone(t *testing.T) *Backbone {
	t.Helper()
	opts := vision.DefaultLoadOptions()
	opts.Apply(vision.WithEmbedDim(4), vision.WithImageSize(2), vision.WithVocabSize(10))

	b, err := New(opts)
	require.NoError(t, err)
	return b
}

func TestRegisteredInDefault(t *testing.T) {
	assert.Contains(t, vision.ListFromDefault(), Name)

	b, err := vision.NewBackbone(Name, vision.WithEmbedDim(6))
	require.NoError(t, err)
	assert.Equal(t, 6, b.Info().EmbedDim)
	assert.Equal(t, 3*8*8, b.Info().InputDim)
}

func TestEncodeShapes(t *testing.T) {
	b := newTestBackbone(t)
	ctx := ml.NewContext()

	img := b.EncodeImage(ctx, ml.Zeros(3, 12, false))
	assert.Equal(t, []int{3, 4}, img.Shape())

	txt := b.EncodeText(ctx, [][]int{{1, 2}, {3, 0, 0}, {0}})
	assert.Equal(t, []int{3, 4}, txt.Shape())
}

func TestEncodeTextIgnoresPadding(t *testing.T) {
	b := newTestBackbone(t)
	ctx := ml.NewContext().NoGrad()

	a := b.EncodeText(ctx, [][]int{{5, 7}})
	padded := b.EncodeText(ctx, [][]int{{5, 0, 7, 0, 0}})
	reordered := b.EncodeText(ctx, [][]int{{7, 5}})

	assert.True(t, mat.EqualApprox(a.Value(), padded.Value(), 1e-12))
	assert.True(t, mat.EqualApprox(a.Value(), reordered.Value(), 1e-12))
}

func TestModeDoesNotChangeForward(t *testing.T) {
	b := newTestBackbone(t)
	ctx := ml.NewContext().NoGrad()
	x := ml.FromRows([][]float64{{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}}, false)

	eval := b.EncodeImage(ctx, x)
	b.SetTraining(true)
	train := b.EncodeImage(ctx, x)

	assert.True(t, b.Training())
	assert.True(t, mat.Equal(eval.Value(), train.Value()))
}

func TestGradientsReachTokenEmbedding(t *testing.T) {
	b := newTestBackbone(t)
	ctx := ml.NewContext()

	require.NoError(t, b.EncodeText(ctx, [][]int{{1, 2}}).Sum(ctx).Backward())

	g := b.tokenEmbed.Grad()
	require.NotNil(t, g)
	assert.NotZero(t, mat.Norm(g.RowView(1), 2))
	assert.Zero(t, mat.Norm(g.RowView(3), 2), "unbenutzter Token ohne Gradient")
}

func TestInvalidInputPanics(t *testing.T) {
	b := newTestBackbone(t)
	ctx := ml.NewContext()

	assert.Panics(t, func() { b.EncodeImage(ctx, ml.Zeros(1, 5, false)) })
	assert.Panics(t, func() { b.EncodeText(ctx, [][]int{{42}}) })
}

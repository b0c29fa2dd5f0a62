package optim

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/ml"
)

func param(values ...float64) *ml.Tensor {
	return ml.New(mat.NewDense(1, len(values), values), true)
}

func setGrad(p *ml.Tensor, values ...float64) {
	p.ZeroGrad()
	p.AccumulateGrad(mat.NewDense(1, len(values), values))
}

func TestNew(t *testing.T) {
	for _, name := range []string{"adamw", "Adam", "sgd", ""} {
		opt, err := New(name, nil, 0.1, 0)
		require.NoError(t, err, name)
		assert.InDelta(t, 0.1, opt.LearningRate(), 1e-12)
	}

	_, err := New("lion", nil, 0.1, 0)
	assert.ErrorIs(t, err, ErrUnknownOptimizer)
}

func TestAdamWFirstStep(t *testing.T) {
	p := param(1, -1)
	setGrad(p, 0.5, -2)

	opt := NewAdamW([]*ml.Tensor{p}, 0.1, 0)
	opt.Step()

	// erster Adam-Schritt bewegt jeden Wert um ~lr gegen das Gradienten-Vorzeichen
	got := p.Value().RawRowView(0)
	assert.InDelta(t, 0.9, got[0], 1e-6)
	assert.InDelta(t, -0.9, got[1], 1e-6)
	assert.Equal(t, 1, opt.Steps())
}

func TestAdamWDecoupledWeightDecay(t *testing.T) {
	p := param(2)
	setGrad(p, 0)

	opt := NewAdamW([]*ml.Tensor{p}, 0.1, 0.5)
	opt.Step()

	// nur Weight Decay: 2 - 0.1*0.5*2
	assert.InDelta(t, 1.9, p.At(0, 0), 1e-9)
}

func TestSGDMomentum(t *testing.T) {
	p := param(1)
	opt := NewSGD([]*ml.Tensor{p}, 0.1, 0.9, 0)

	setGrad(p, 1)
	opt.Step()
	assert.InDelta(t, 0.9, p.At(0, 0), 1e-12)

	setGrad(p, 1)
	opt.Step()
	// v = 0.9*1 + 1 = 1.9
	assert.InDelta(t, 0.9-0.19, p.At(0, 0), 1e-12)
}

func TestStepSkipsFrozenAndGradless(t *testing.T) {
	frozen := param(1)
	setGrad(frozen, 1)
	frozen.SetRequiresGrad(false)
	gradless := param(1)

	opt := NewSGD([]*ml.Tensor{frozen, gradless}, 1, 0, 0)
	opt.Step()

	assert.Equal(t, 1.0, frozen.At(0, 0))
	assert.Equal(t, 1.0, gradless.At(0, 0))
}

func TestClipGradNorm(t *testing.T) {
	a, b := param(0, 0), param(0)
	setGrad(a, 3, 0)
	setGrad(b, 4)

	total := ClipGradNorm([]*ml.Tensor{a, b}, 1)
	assert.InDelta(t, 5, total, 1e-12)
	assert.InDelta(t, 1, ml.GradNorm([]*ml.Tensor{a, b}), 1e-5)
	assert.InDelta(t, 0.6, a.Grad().At(0, 0), 1e-5)

	// unterhalb der Grenze bleibt alles gleich
	setGrad(a, 0.1, 0)
	setGrad(b, 0)
	ClipGradNorm([]*ml.Tensor{a, b}, 1)
	assert.Equal(t, 0.1, a.Grad().At(0, 0))
}

func TestGradScalerRoundTrip(t *testing.T) {
	ctx := ml.NewContext()
	p := param(2)
	opt := NewSGD([]*ml.Tensor{p}, 0.5, 0, 0)
	s := NewGradScaler(true, WithInitScale(8))

	loss := p.Mul(ctx, p).Sum(ctx)
	require.NoError(t, s.Backward(loss))
	assert.InDelta(t, 32, p.Grad().At(0, 0), 1e-12, "Gradient erwartet skaliert")

	require.NoError(t, s.Unscale(opt))
	assert.InDelta(t, 4, p.Grad().At(0, 0), 1e-12)
	assert.ErrorIs(t, s.Unscale(opt), ErrAlreadyUnscaled)

	stepped, err := s.Step(opt)
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.InDelta(t, 0, p.At(0, 0), 1e-12)

	s.Update()
	assert.Equal(t, 8.0, s.Scale())
}

func TestGradScalerSkipsOnOverflow(t *testing.T) {
	p := param(1)
	opt := NewSGD([]*ml.Tensor{p}, 1, 0, 0)
	s := NewGradScaler(true, WithInitScale(4))

	setGrad(p, math.Inf(1))
	stepped, err := s.Step(opt)
	require.NoError(t, err)
	assert.False(t, stepped)
	assert.Equal(t, 1.0, p.At(0, 0), "Step muss uebersprungen werden")

	s.Update()
	assert.Equal(t, 2.0, s.Scale())
}

func TestGradScalerGrowth(t *testing.T) {
	p := param(1)
	opt := NewSGD([]*ml.Tensor{p}, 0, 0, 0)
	s := NewGradScaler(true, WithInitScale(1), WithGrowthInterval(3))

	for range 3 {
		setGrad(p, 1)
		_, err := s.Step(opt)
		require.NoError(t, err)
		s.Update()
	}
	assert.Equal(t, 2.0, s.Scale())
}

func TestGradScalerDisabled(t *testing.T) {
	p := param(1)
	opt := NewSGD([]*ml.Tensor{p}, 1, 0, 0)
	s := NewGradScaler(false)

	assert.Equal(t, 1.0, s.Scale())
	setGrad(p, math.NaN())
	require.NoError(t, s.Unscale(opt))

	stepped, err := s.Step(opt)
	require.NoError(t, err)
	assert.True(t, stepped)
	assert.True(t, math.IsNaN(p.At(0, 0)))
}

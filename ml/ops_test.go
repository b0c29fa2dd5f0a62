package ml

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randTensor(rng *rand.Rand, r, c int) *Tensor {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return New(mat.NewDense(r, c, data), true)
}

// gradCheck vergleicht den analytischen Gradienten mit zentralen Differenzen.
func gradCheck(t *testing.T, f func(ctx *Context) *Tensor, inputs ...*Tensor) {
	t.Helper()

	ctx := NewContext()
	for _, in := range inputs {
		in.grad = nil
	}
	require.NoError(t, f(ctx).Backward())

	const h = 1e-6
	for n, in := range inputs {
		require.NotNil(t, in.Grad(), "input %d hat keinen Gradienten", n)
		r, c := in.value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := in.value.At(i, j)
				in.value.Set(i, j, orig+h)
				plus := f(ctx.NoGrad()).Item()
				in.value.Set(i, j, orig-h)
				minus := f(ctx.NoGrad()).Item()
				in.value.Set(i, j, orig)

				numeric := (plus - minus) / (2 * h)
				assert.InDelta(t, numeric, in.Grad().At(i, j), 1e-5, "input %d [%d,%d]", n, i, j)
			}
		}
	}
}

func TestGradients(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	t.Run("matmul", func(t *testing.T) {
		a, b := randTensor(rng, 3, 4), randTensor(rng, 4, 2)
		gradCheck(t, func(ctx *Context) *Tensor { return a.Matmul(ctx, b).Sum(ctx) }, a, b)
	})

	t.Run("transpose", func(t *testing.T) {
		a, b := randTensor(rng, 3, 4), randTensor(rng, 3, 4)
		gradCheck(t, func(ctx *Context) *Tensor { return a.Matmul(ctx, b.Transpose(ctx)).Mean(ctx) }, a, b)
	})

	t.Run("broadcast add und mul", func(t *testing.T) {
		a, row, col := randTensor(rng, 3, 4), randTensor(rng, 1, 4), randTensor(rng, 3, 1)
		gradCheck(t, func(ctx *Context) *Tensor {
			return a.Add(ctx, row).Mul(ctx, col).Mul(ctx, a).Sum(ctx)
		}, a, row, col)
	})

	t.Run("affine relu sigmoid", func(t *testing.T) {
		a := randTensor(rng, 2, 5)
		gradCheck(t, func(ctx *Context) *Tensor {
			return a.Affine(ctx, 2, 0.3).ReLU(ctx).Sigmoid(ctx).Sum(ctx)
		}, a)
	})

	t.Run("l2norm", func(t *testing.T) {
		a, w := randTensor(rng, 3, 4), randTensor(rng, 3, 4)
		gradCheck(t, func(ctx *Context) *Tensor {
			return a.L2Norm(ctx, DefaultNormEps).Mul(ctx, w).Sum(ctx)
		}, a)
	})

	t.Run("concat und chunk", func(t *testing.T) {
		a, b, w := randTensor(rng, 2, 3), randTensor(rng, 2, 3), randTensor(rng, 3, 2)
		gradCheck(t, func(ctx *Context) *Tensor {
			parts := ConcatRows(ctx, a, b).Matmul(ctx, w).ChunkRows(ctx, 2)
			return parts[0].Mul(ctx, parts[1]).Sum(ctx)
		}, a, b, w)
	})

	t.Run("concat cols", func(t *testing.T) {
		a, b, w := randTensor(rng, 3, 2), randTensor(rng, 3, 1), randTensor(rng, 3, 3)
		gradCheck(t, func(ctx *Context) *Tensor {
			return ConcatCols(ctx, a, b).Mul(ctx, w).Sum(ctx)
		}, a, b)
	})

	t.Run("cross entropy", func(t *testing.T) {
		logits := randTensor(rng, 4, 4)
		gradCheck(t, func(ctx *Context) *Tensor {
			return logits.Scale(ctx, 3).CrossEntropy(ctx, []int{0, 1, 2, 3})
		}, logits)
	})
}

func TestCrossEntropyClosedForm(t *testing.T) {
	ctx := NewContext()

	// Identitaets-Logits: Diagonale 1, sonst 0
	logits := New(mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}), false)

	loss := logits.CrossEntropy(ctx, []int{0, 1, 2, 3}).Item()
	want := -math.Log(math.E / (math.E + 3))
	assert.InDelta(t, want, loss, 1e-12)
}

func TestL2NormUnitRows(t *testing.T) {
	ctx := NewContext()
	x := FromRows([][]float64{{3, 4}, {0, 0}, {-1, 0}}, false)
	y := x.L2Norm(ctx, DefaultNormEps)

	got := [][]float64{y.Value().RawRowView(0), y.Value().RawRowView(1), y.Value().RawRowView(2)}
	want := [][]float64{{0.6, 0.8}, {0, 0}, {-1, 0}}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("L2Norm Abweichung (-erwartet +bekommen):\n%s", diff)
	}
}

func TestNoGradRecordsNothing(t *testing.T) {
	ctx := NewContext().NoGrad()
	a := randTensor(rand.New(rand.NewPCG(3, 4)), 2, 2)

	out := a.Matmul(ctx, a).Sum(ctx)
	assert.False(t, out.RequiresGrad())
	assert.True(t, out.IsLeaf())
	assert.ErrorIs(t, out.Backward(), ErrNoGrad)
}

func TestGradientAccumulatesAcrossUses(t *testing.T) {
	ctx := NewContext()
	a := FromRows([][]float64{{1, 2}}, true)

	// a wird zweimal verwendet: d(sum(a+a))/da = 2
	require.NoError(t, a.Add(ctx, a).Sum(ctx).Backward())
	assert.Equal(t, []float64{2, 2}, a.Grad().RawRowView(0))

	require.NoError(t, a.Sum(ctx).Backward())
	assert.Equal(t, []float64{3, 3}, a.Grad().RawRowView(0))

	a.ZeroGrad()
	assert.Equal(t, []float64{0, 0}, a.Grad().RawRowView(0))
}

func TestChunkRowsPanicsOnUnevenSplit(t *testing.T) {
	ctx := NewContext()
	assert.Panics(t, func() {
		Zeros(5, 2, false).ChunkRows(ctx, 3)
	})
}

func TestDropout(t *testing.T) {
	ctx := NewContext()
	x := New(mat.NewDense(50, 20, nil), false)
	x.Value().Apply(func(_, _ int, _ float64) float64 { return 1 }, x.Value())

	assert.Same(t, x, x.Dropout(ctx, 0, nil))

	out := x.Dropout(ctx, 0.5, rand.New(rand.NewPCG(5, 6)))
	zeros := 0
	out.Value().Apply(func(_, _ int, v float64) float64 {
		if v == 0 {
			zeros++
		} else {
			assert.InDelta(t, 2.0, v, 1e-12)
		}
		return v
	}, out.Value())
	assert.InDelta(t, 500, zeros, 100)
}

func TestGradNorm(t *testing.T) {
	a := FromRows([][]float64{{0, 0}}, true)
	b := FromRows([][]float64{{0}}, true)
	c := FromRows([][]float64{{0}}, true)

	a.AccumulateGrad(mat.NewDense(1, 2, []float64{3, 0}))
	b.AccumulateGrad(mat.NewDense(1, 1, []float64{4}))

	// c hat keinen Gradienten und zaehlt nicht
	assert.InDelta(t, 5.0, GradNorm([]*Tensor{a, b, c}), 1e-12)
}

func TestAutocastRounding(t *testing.T) {
	w := FromRows([][]float64{{1.0001}}, true)
	x := FromRows([][]float64{{1}}, false)

	f32 := x.Matmul(NewContext(), w).Item()
	assert.InDelta(t, 1.0001, f32, 1e-6)

	ctx := NewContext(WithAutocast(DTypeF16))
	f16 := x.Matmul(ctx, w).Item()
	assert.Equal(t, 1.0, f16, "f16 hat nur 10 Mantissen-Bits")

	x.Matmul(ctx, w)
	entries, hits, misses := ctx.CacheStats()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, hits)
	assert.Equal(t, 1, misses)

	ctx.ClearCache()
	entries, _, _ = ctx.CacheStats()
	assert.Equal(t, 0, entries)
}

func TestParseDType(t *testing.T) {
	cases := map[string]DType{
		"":         DTypeF32,
		"fp16":     DTypeF16,
		"BF16":     DTypeBF16,
		" float32": DTypeF32,
	}
	for in, want := range cases {
		got, err := ParseDType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseDType("int8")
	assert.Error(t, err)
}

func TestRoundBF16(t *testing.T) {
	// bf16 hat 7 Mantissen-Bits: 1 + 2^-9 faellt auf 1 zurueck
	assert.Equal(t, 1.0, DTypeBF16.Round(1+1.0/512))
	assert.Equal(t, 2.0, DTypeBF16.Round(2))

	s := []float64{1 + 1.0/512, 3}
	DTypeBF16.RoundSlice(s)
	assert.Equal(t, []float64{1, 3}, s)
}

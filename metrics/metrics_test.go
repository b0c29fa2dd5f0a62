package metrics

import (
	"context"
	"math/big"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/ollama/cirtrain/dist"
)

func TestAverageMeterWeightedMean(t *testing.T) {
	updates := []struct {
		v float64
		n int
	}{
		{0.5, 4}, {0.25, 8}, {1.0, 2}, {0.125, 16},
	}

	var m AverageMeter
	want := new(big.Rat)
	total := 0
	for _, u := range updates {
		m.Update(u.v, u.n)
		want.Add(want, new(big.Rat).Mul(new(big.Rat).SetFloat64(u.v), big.NewRat(int64(u.n), 1)))
		total += u.n
	}
	want.Quo(want, big.NewRat(int64(total), 1))

	exact, _ := want.Float64()
	assert.InDelta(t, exact, m.Avg(), 1e-15)
	assert.Equal(t, 0.125, m.Val)
	assert.Equal(t, float64(total), m.Count)

	m.Reset()
	assert.Equal(t, 0.0, m.Avg(), "leerer Meter erwartet 0")
}

func TestMetersOrder(t *testing.T) {
	m := NewMeters(BaseLoss, BaseAcc)
	m.Update(CombinerTextFeatDist, 0.3, 1)
	m.Update(BaseLoss, 2, 1)

	want := []string{BaseLoss, BaseAcc, CombinerTextFeatDist}
	if diff := cmp.Diff(want, m.Names()); diff != "" {
		t.Errorf("Reihenfolge (-erwartet +bekommen):\n%s", diff)
	}
	if diff := cmp.Diff(want, m.Local().Keys()); diff != "" {
		t.Errorf("Summary-Reihenfolge (-erwartet +bekommen):\n%s", diff)
	}
}

func TestGatherWeightsByCount(t *testing.T) {
	summaries := make([]*Summary, 2)
	err := dist.Launch(t.Context(), 2, func(ctx context.Context, g dist.Group) error {
		m := NewMeters(BaseLoss, BaseAcc)
		if g.Rank() == 0 {
			m.Update(BaseLoss, 1, 1)
			m.Update(BaseAcc, 1, 1)
		} else {
			m.Update(BaseLoss, 4, 3)
		}
		s, err := m.Gather(ctx, g)
		summaries[g.Rank()] = s
		return err
	})
	require.NoError(t, err)

	for _, s := range summaries {
		loss, ok := s.Get(BaseLoss)
		require.True(t, ok)
		assert.InDelta(t, 13.0/4.0, loss, 1e-12)

		acc, _ := s.Get(BaseAcc)
		assert.InDelta(t, 1.0, acc, 1e-12)
		assert.Equal(t, []string{BaseLoss, BaseAcc}, s.Keys())
	}
}

func TestGatherSingle(t *testing.T) {
	m := NewMeters(BaseLoss)
	s, err := m.Gather(t.Context(), dist.Single())
	require.NoError(t, err)

	v, ok := s.Get(BaseLoss)
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, map[string]float64{BaseLoss: 0}, s.Map())
}

func TestNilSummary(t *testing.T) {
	var s *Summary
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Keys())
	_, ok := s.Get(BaseAcc)
	assert.False(t, ok)
}

func TestArgsortDescStable(t *testing.T) {
	got := ArgsortDesc([]float64{0.1, 0.9, 0.5, 0.9})
	assert.Equal(t, []int{1, 3, 2, 0}, got)
}

func TestAccuracy(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		5, 1, 0,
		2, 1, 0, // falsch
		0, 0, 0, // Gleichstand -> Index 0, falsch
	})
	assert.InDelta(t, 1.0/3.0, Accuracy(logits, Diagonal(3)), 1e-12)
}

func TestRecallAtK(t *testing.T) {
	logits := mat.NewDense(3, 3, []float64{
		0.9, 0.1, 0.0,
		0.8, 0.5, 0.1,
		0.7, 0.6, 0.5,
	})
	targets := Diagonal(3)

	cases := []struct {
		k    int
		want float64
	}{
		{0, 0},
		{1, 1.0 / 3.0},
		{2, 2.0 / 3.0},
		{3, 1},
		{10, 1},
	}

	prev := 0.0
	for _, tc := range cases {
		got := RecallAtK(logits, targets, tc.k)
		assert.InDelta(t, tc.want, got, 1e-12, "k=%d", tc.k)
		assert.GreaterOrEqual(t, got, prev, "Recall muss monoton in k sein")
		prev = got
	}
}

func TestRecallName(t *testing.T) {
	assert.Equal(t, "Recall @ 5", RecallName(5))
}

func TestTargetMismatchPanics(t *testing.T) {
	assert.Panics(t, func() {
		Accuracy(mat.NewDense(2, 2, nil), []int{0})
	})
}

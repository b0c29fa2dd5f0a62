// optimizer.go - Optimizer-Interface, AdamW und SGD
// Dieses Modul enthaelt die Parameter-Updates fuer Backbone und Combiner.
// Parameter ohne Gradient oder ohne RequiresGrad werden uebersprungen.
package optim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ollama/cirtrain/ml"
)

var ErrUnknownOptimizer = errors.New("optim: unknown optimizer")

// Optimizer aktualisiert eine feste Liste von Parametern aus ihren Gradienten.
type Optimizer interface {
	Parameters() []*ml.Tensor
	ZeroGrad()
	Step()
	LearningRate() float64
	SetLearningRate(lr float64)
}

// New erstellt einen Optimizer nach Namen ("adamw", "adam" oder "sgd").
func New(name string, params []*ml.Tensor, lr, weightDecay float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "adamw", "adam", "":
		return NewAdamW(params, lr, weightDecay), nil
	case "sgd":
		return NewSGD(params, lr, 0.9, weightDecay), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownOptimizer, name)
}

// base haelt die gemeinsame Parameterliste.
type base struct {
	params []*ml.Tensor
	lr     float64
}

func (b *base) Parameters() []*ml.Tensor { return b.params }

func (b *base) LearningRate() float64 { return b.lr }

func (b *base) SetLearningRate(lr float64) { b.lr = lr }

// ZeroGrad setzt alle Gradienten auf 0, ohne sie freizugeben.
func (b *base) ZeroGrad() {
	for _, p := range b.params {
		p.ZeroGrad()
	}
}

func updatable(p *ml.Tensor) bool {
	return p.RequiresGrad() && p.Grad() != nil
}

// =============================================================================
// AdamW
// =============================================================================

// AdamW ist Adam mit entkoppeltem Weight Decay.
type AdamW struct {
	base

	Beta1       float64
	Beta2       float64
	Epsilon     float64
	WeightDecay float64

	step  int
	state map[*ml.Tensor]*adamState
}

type adamState struct {
	m, v []float64
}

func NewAdamW(params []*ml.Tensor, lr, weightDecay float64) *AdamW {
	return &AdamW{
		base:        base{params: params, lr: lr},
		Beta1:       0.9,
		Beta2:       0.999,
		Epsilon:     1e-8,
		WeightDecay: weightDecay,
		state:       make(map[*ml.Tensor]*adamState),
	}
}

func (o *AdamW) Step() {
	o.step++
	bc1 := 1 - math.Pow(o.Beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.Beta2, float64(o.step))

	for _, p := range o.params {
		if !updatable(p) {
			continue
		}

		data := p.Value().RawMatrix().Data
		grad := p.Grad().RawMatrix().Data

		st, ok := o.state[p]
		if !ok {
			st = &adamState{m: make([]float64, len(data)), v: make([]float64, len(data))}
			o.state[p] = st
		}

		for i, g := range grad {
			if o.WeightDecay > 0 {
				data[i] -= o.lr * o.WeightDecay * data[i]
			}
			st.m[i] = o.Beta1*st.m[i] + (1-o.Beta1)*g
			st.v[i] = o.Beta2*st.v[i] + (1-o.Beta2)*g*g
			mHat := st.m[i] / bc1
			vHat := st.v[i] / bc2
			data[i] -= o.lr * mHat / (math.Sqrt(vHat) + o.Epsilon)
		}
	}
}

// Steps gibt die Anzahl ausgefuehrter Schritte zurueck.
func (o *AdamW) Steps() int { return o.step }

// =============================================================================
// SGD
// =============================================================================

// SGD mit Momentum und L2 Weight Decay.
type SGD struct {
	base

	Momentum    float64
	WeightDecay float64

	velocity map[*ml.Tensor][]float64
}

func NewSGD(params []*ml.Tensor, lr, momentum, weightDecay float64) *SGD {
	return &SGD{
		base:        base{params: params, lr: lr},
		Momentum:    momentum,
		WeightDecay: weightDecay,
		velocity:    make(map[*ml.Tensor][]float64),
	}
}

func (o *SGD) Step() {
	for _, p := range o.params {
		if !updatable(p) {
			continue
		}

		data := p.Value().RawMatrix().Data
		grad := p.Grad().RawMatrix().Data

		vel, ok := o.velocity[p]
		if !ok {
			vel = make([]float64, len(data))
			o.velocity[p] = vel
		}

		for i, g := range grad {
			if o.WeightDecay > 0 {
				g += o.WeightDecay * data[i]
			}
			vel[i] = o.Momentum*vel[i] + g
			data[i] -= o.lr * vel[i]
		}
	}
}

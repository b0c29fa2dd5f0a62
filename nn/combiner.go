// combiner.go - Fusion von Referenzbild und Caption
// Dieses Modul enthaelt den Combiner: projizierte Text- und Bild-Features
// werden konkateniert, durch eine versteckte Schicht geschickt und mit
// einem gelernten Skalar lambda als Residual gemischt:
//
//	out = MLP([t; i]) + lambda·t + (1-lambda)·i
package nn

import (
	"math/rand/v2"

	"github.com/ollama/cirtrain/ml"
)

// CombinerConfig beschreibt die Dimensionen des Combiners.
type CombinerConfig struct {
	EmbedDim  int     // Dimension der Backbone-Features
	ProjDim   int     // Dimension der Projektionen
	HiddenDim int     // Dimension der versteckten Schicht
	Dropout   float64 // Dropout-Wahrscheinlichkeit im Train-Modus
	Seed      uint64
}

// DefaultCombinerConfig gibt eine Konfiguration fuer embedDim zurueck.
func DefaultCombinerConfig(embedDim int) CombinerConfig {
	return CombinerConfig{
		EmbedDim:  embedDim,
		ProjDim:   4 * embedDim,
		HiddenDim: 8 * embedDim,
		Dropout:   0.5,
		Seed:      42,
	}
}

// Combiner implementiert Fuser.
type Combiner struct {
	textProj  *Linear
	imageProj *Linear
	hidden    *Linear
	output    *Linear
	scalarIn  *Linear
	scalarOut *Linear

	dropProj   *Dropout
	dropHidden *Dropout
	dropScalar *Dropout

	training bool
}

// NewCombiner baut einen Combiner mit deterministischer Initialisierung.
func NewCombiner(cfg CombinerConfig) *Combiner {
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	return &Combiner{
		textProj:  NewLinear(cfg.EmbedDim, cfg.ProjDim, rng),
		imageProj: NewLinear(cfg.EmbedDim, cfg.ProjDim, rng),
		hidden:    NewLinear(2*cfg.ProjDim, cfg.HiddenDim, rng),
		output:    NewLinear(cfg.HiddenDim, cfg.EmbedDim, rng),
		scalarIn:  NewLinear(2*cfg.ProjDim, cfg.HiddenDim, rng),
		scalarOut: NewLinear(cfg.HiddenDim, 1, rng),

		dropProj:   NewDropout(cfg.Dropout, rng),
		dropHidden: NewDropout(cfg.Dropout, rng),
		dropScalar: NewDropout(cfg.Dropout, rng),
	}
}

// Combine verschmilzt ref (B x D) und caption (B x D) zu B x D.
func (c *Combiner) Combine(ctx *ml.Context, ref, caption *ml.Tensor) *ml.Tensor {
	text := c.dropProj.Forward(ctx, c.textProj.Forward(ctx, caption).ReLU(ctx))
	image := c.dropProj.Forward(ctx, c.imageProj.Forward(ctx, ref).ReLU(ctx))
	joint := ml.ConcatCols(ctx, text, image)

	mixed := c.dropHidden.Forward(ctx, c.hidden.Forward(ctx, joint).ReLU(ctx))
	out := c.output.Forward(ctx, mixed)

	// lambda ist B x 1 und wird spaltenweise gebroadcastet
	lambda := c.dropScalar.Forward(ctx, c.scalarIn.Forward(ctx, joint).ReLU(ctx))
	lambda = c.scalarOut.Forward(ctx, lambda).Sigmoid(ctx)

	residual := caption.Mul(ctx, lambda).Add(ctx, ref.Mul(ctx, lambda.Affine(ctx, -1, 1)))
	return out.Add(ctx, residual)
}

func (c *Combiner) layers() []Module {
	return []Module{
		c.textProj, c.imageProj, c.hidden, c.output, c.scalarIn, c.scalarOut,
		c.dropProj, c.dropHidden, c.dropScalar,
	}
}

func (c *Combiner) Parameters() []*ml.Tensor {
	var params []*ml.Tensor
	for _, l := range c.layers() {
		params = append(params, l.Parameters()...)
	}
	return params
}

func (c *Combiner) SetTraining(training bool) {
	c.training = training
	for _, l := range c.layers() {
		l.SetTraining(training)
	}
}

func (c *Combiner) Training() bool { return c.training }

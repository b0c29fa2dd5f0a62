// synthetic.go - Deterministisch erzeugte Tripel fuer Tests und Smoke-Runs
// Dieses Modul erzeugt Batches, in denen das Zielbild das Referenzbild plus
// eine von der Caption abhaengige Richtung ist. Jeder Rank bekommt einen
// eigenen Ausschnitt desselben globalen Datensatzes.
package data

import (
	"context"
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// SyntheticConfig beschreibt den erzeugten Datensatz.
type SyntheticConfig struct {
	Batches    int    // Anzahl Batches pro Rank
	BatchSize  int    // Tripel pro Batch und Rank
	InputDim   int    // Laenge einer Bild-Zeile
	VocabSize  int    // Token-Vokabular (0 ist Padding)
	CaptionLen int    // Tokens pro Caption
	Seed       uint64 // Seed des globalen Datensatzes
	Rank       int
	WorldSize  int
}

// SyntheticLoader erzeugt Batches beim Abruf neu, Wiederholungen sind identisch.
type SyntheticLoader struct {
	cfg        SyntheticConfig
	directions *mat.Dense
}

// NewSynthetic validiert cfg und legt die Caption-Richtungen an.
func NewSynthetic(cfg SyntheticConfig) (*SyntheticLoader, error) {
	switch {
	case cfg.Batches < 0, cfg.BatchSize <= 0, cfg.InputDim <= 0, cfg.CaptionLen <= 0:
		return nil, fmt.Errorf("data: invalid synthetic config %+v", cfg)
	case cfg.VocabSize <= 1:
		return nil, fmt.Errorf("data: synthetic vocabulary needs at least one non-padding token")
	case cfg.WorldSize <= 0 || cfg.Rank < 0 || cfg.Rank >= cfg.WorldSize:
		return nil, fmt.Errorf("data: rank %d outside world size %d", cfg.Rank, cfg.WorldSize)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, 0))
	dirs := mat.NewDense(cfg.VocabSize, cfg.InputDim, nil)
	dirs.Apply(func(_, _ int, _ float64) float64 { return rng.NormFloat64() }, dirs)

	return &SyntheticLoader{cfg: cfg, directions: dirs}, nil
}

func (l *SyntheticLoader) Len() int { return l.cfg.Batches }

// Batch erzeugt den i-ten Batch dieses Ranks. Globaler Index des Batches ist
// i*WorldSize + Rank, damit Ranks disjunkte Daten sehen.
func (l *SyntheticLoader) Batch(ctx context.Context, i int) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if i < 0 || i >= l.cfg.Batches {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutRange, i, l.cfg.Batches)
	}

	global := uint64(i*l.cfg.WorldSize + l.cfg.Rank)
	rng := rand.New(rand.NewPCG(l.cfg.Seed, global+1))

	n, d := l.cfg.BatchSize, l.cfg.InputDim
	batch := &Batch{
		RefImages:        mat.NewDense(n, d, nil),
		TargetImages:     mat.NewDense(n, d, nil),
		DistractorImages: mat.NewDense(n, d, nil),
		Captions:         make([][]int, n),
	}

	for row := 0; row < n; row++ {
		caption := make([]int, l.cfg.CaptionLen)
		for j := range caption {
			caption[j] = 1 + rng.IntN(l.cfg.VocabSize-1)
		}
		batch.Captions[row] = caption

		for col := 0; col < d; col++ {
			ref := rng.NormFloat64()
			shift := 0.0
			for _, tok := range caption {
				shift += l.directions.At(tok, col)
			}
			batch.RefImages.Set(row, col, ref)
			batch.TargetImages.Set(row, col, ref+shift/float64(len(caption)))
			batch.DistractorImages.Set(row, col, rng.NormFloat64())
		}
	}

	return batch, nil
}

// batch.go - Trainings-Batch und Loader-Interface
// Dieses Modul definiert das Batch-Tripel (Referenz, Ziel, Distraktor plus
// Caption) und das Loader-Interface, ueber das die Epoche iteriert.
package data

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrEmptyBatch    = errors.New("data: empty batch")
	ErrBatchShape    = errors.New("data: inconsistent batch shape")
	ErrIndexOutRange = errors.New("data: batch index out of range")
)

// Batch ist ein Mini-Batch von B Tripeln. Alle Bild-Matrizen sind B x InputDim.
type Batch struct {
	RefImages        *mat.Dense
	TargetImages     *mat.Dense
	DistractorImages *mat.Dense
	Captions         [][]int
}

// Size gibt B zurueck.
func (b *Batch) Size() int {
	if b.RefImages == nil {
		return 0
	}
	r, _ := b.RefImages.Dims()
	return r
}

// Validate prueft, dass alle Teile dieselbe Zeilenzahl und Breite haben.
func (b *Batch) Validate() error {
	if b.RefImages == nil || b.TargetImages == nil || b.DistractorImages == nil {
		return ErrEmptyBatch
	}

	r, c := b.RefImages.Dims()
	if r == 0 {
		return ErrEmptyBatch
	}
	for _, part := range []struct {
		name string
		m    *mat.Dense
	}{{"target", b.TargetImages}, {"distractor", b.DistractorImages}} {
		name, m := part.name, part.m
		if mr, mc := m.Dims(); mr != r || mc != c {
			return fmt.Errorf("%w: %s is %dx%d, ref is %dx%d", ErrBatchShape, name, mr, mc, r, c)
		}
	}
	if len(b.Captions) != r {
		return fmt.Errorf("%w: %d captions for %d images", ErrBatchShape, len(b.Captions), r)
	}
	return nil
}

// Loader liefert die Batches einer Epoche in fester Reihenfolge.
type Loader interface {
	Len() int
	Batch(ctx context.Context, i int) (*Batch, error)
}

// SliceLoader ist ein Loader ueber vorbereitete Batches.
type SliceLoader []*Batch

func (l SliceLoader) Len() int { return len(l) }

func (l SliceLoader) Batch(_ context.Context, i int) (*Batch, error) {
	if i < 0 || i >= len(l) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutRange, i, len(l))
	}
	return l[i], nil
}

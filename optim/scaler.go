// scaler.go - Dynamische Loss-Skalierung fuer Autocast-Training
// Dieses Modul enthaelt den GradScaler: der Loss wird vor dem Backward
// mit scale multipliziert, die Gradienten vor Clipping und Step wieder
// geteilt. Bei Inf/NaN wird der Step uebersprungen und scale halbiert.
package optim

import (
	"errors"
	"log/slog"

	"github.com/ollama/cirtrain/ml"
)

var ErrAlreadyUnscaled = errors.New("optim: gradients already unscaled since last update")

// GradScaler entspricht dem dynamischen Loss-Scaler aus Mixed-Precision-Training.
type GradScaler struct {
	enabled bool

	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int
	growthTracker  int

	foundInf bool
	unscaled map[Optimizer]struct{}
}

// ScalerOption konfiguriert einen GradScaler.
type ScalerOption func(*GradScaler)

// WithInitScale setzt den Start-Skalierungsfaktor.
func WithInitScale(scale float64) ScalerOption {
	return func(s *GradScaler) {
		if scale > 0 {
			s.scale = scale
		}
	}
}

// WithGrowthInterval setzt die Anzahl sauberer Steps bis zum Verdoppeln.
func WithGrowthInterval(n int) ScalerOption {
	return func(s *GradScaler) {
		if n > 0 {
			s.growthInterval = n
		}
	}
}

// NewGradScaler erstellt einen Scaler. Ein deaktivierter Scaler reicht
// Backward und Step unveraendert durch.
func NewGradScaler(enabled bool, opts ...ScalerOption) *GradScaler {
	s := &GradScaler{
		enabled:        enabled,
		scale:          65536,
		growthFactor:   2,
		backoffFactor:  0.5,
		growthInterval: 2000,
		unscaled:       make(map[Optimizer]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GradScaler) Enabled() bool { return s.enabled }

// Scale gibt den aktuellen Faktor zurueck (1 wenn deaktiviert).
func (s *GradScaler) Scale() float64 {
	if !s.enabled {
		return 1
	}
	return s.scale
}

// Backward startet den Backward-Pass mit dem skalierten Loss.
func (s *GradScaler) Backward(loss *ml.Tensor) error {
	return loss.BackwardWithGrad(s.Scale())
}

// Unscale teilt die Gradienten von opt durch scale und merkt sich Inf/NaN.
// Darf pro Optimizer nur einmal zwischen zwei Update-Aufrufen laufen.
func (s *GradScaler) Unscale(opt Optimizer) error {
	if !s.enabled {
		return nil
	}
	if _, done := s.unscaled[opt]; done {
		return ErrAlreadyUnscaled
	}
	s.unscaled[opt] = struct{}{}

	inv := 1 / s.scale
	for _, p := range opt.Parameters() {
		g := p.Grad()
		if g == nil {
			continue
		}
		g.Scale(inv, g)
		if ml.HasNonFinite(g) {
			s.foundInf = true
		}
	}
	return nil
}

// Step fuehrt opt.Step aus, ausser es wurden Inf/NaN-Gradienten gefunden.
// Gibt zurueck ob der Step ausgefuehrt wurde.
func (s *GradScaler) Step(opt Optimizer) (bool, error) {
	if !s.enabled {
		opt.Step()
		return true, nil
	}

	if _, done := s.unscaled[opt]; !done {
		if err := s.Unscale(opt); err != nil {
			return false, err
		}
	}

	if s.foundInf {
		slog.Debug("skipping optimizer step, non-finite gradients", "scale", s.scale)
		return false, nil
	}

	opt.Step()
	return true, nil
}

// Update passt scale fuer die naechste Iteration an.
func (s *GradScaler) Update() {
	if !s.enabled {
		return
	}

	if s.foundInf {
		s.scale *= s.backoffFactor
		s.growthTracker = 0
	} else {
		s.growthTracker++
		if s.growthTracker == s.growthInterval {
			s.scale *= s.growthFactor
			s.growthTracker = 0
		}
	}

	s.foundInf = false
	clear(s.unscaled)
}

// config.go - Konfiguration der Epoch-Funktionen
// Dieses Modul enthaelt Config mit Validierung und den Aufbau aus der
// Umgebung (envconfig).
package train

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/ollama/cirtrain/envconfig"
	"github.com/ollama/cirtrain/ml"
	"github.com/ollama/cirtrain/optim"
)

// SupportedBaseContrastive ist die einzige implementierte Kontrast-Variante.
const SupportedBaseContrastive = 1

var (
	ErrUnsupportedBaseContrastive = errors.New("train: unsupported base_contrastive")
	ErrNoScaler                   = errors.New("train: gradient scaler is required for training")
	ErrInvalidTopK                = errors.New("train: invalid recall top-k")
)

// Config enthaelt die Argumente beider Epoch-Funktionen.
type Config struct {
	// Lamda skaliert die Aehnlichkeiten vor der Cross-Entropy.
	Lamda float64

	// ClipGradNorm begrenzt die Gradienten-Norm der trainierbaren Backbone-Parameter.
	ClipGradNorm bool
	MaxGradNorm  float64

	// FinetuneMode leer heisst: Backbone im Eval-Modus.
	FinetuneMode string

	BaseContrastive int

	Scaler   *optim.GradScaler
	Autocast ml.DType

	// RecallTopK wird nur in der Validierung ausgewertet.
	RecallTopK []int

	// LogEvery ist das Log-Intervall in Batches, 0 schaltet Fortschritts-Logs ab.
	LogEvery int
}

// DefaultConfig gibt die Defaults ohne Umgebungsvariablen zurueck.
func DefaultConfig() Config {
	return Config{
		Lamda:           100,
		MaxGradNorm:     optim.DefaultMaxGradNorm,
		BaseContrastive: SupportedBaseContrastive,
		Scaler:          optim.NewGradScaler(false),
		Autocast:        ml.DTypeF32,
		RecallTopK:      []int{1, 5, 10},
		LogEvery:        10,
	}
}

// ConfigFromEnv baut eine Config aus den CIR_* Variablen. Der GradScaler
// ist nur bei f16-Autocast aktiv.
func ConfigFromEnv() (Config, error) {
	dtype, err := ml.ParseDType(envconfig.Autocast())
	if err != nil {
		return Config{}, err
	}

	// Uint faellt bei Parse-Fehlern auf den Default zurueck, hier muss ein
	// ungueltiger Wert abbrechen
	baseContrastive := SupportedBaseContrastive
	if s := envconfig.Var("CIR_BASE_CONTRASTIVE"); s != "" {
		if baseContrastive, err = strconv.Atoi(s); err != nil {
			return Config{}, fmt.Errorf("%w: CIR_BASE_CONTRASTIVE=%q", ErrUnsupportedBaseContrastive, s)
		}
	}

	return Config{
		Lamda:           envconfig.Lamda(),
		ClipGradNorm:    envconfig.ClipGradNorm(),
		MaxGradNorm:     optim.DefaultMaxGradNorm,
		FinetuneMode:    envconfig.FinetuneMode(),
		BaseContrastive: baseContrastive,
		Scaler:          optim.NewGradScaler(dtype == ml.DTypeF16),
		Autocast:        dtype,
		RecallTopK:      envconfig.RecallTopK(),
		LogEvery:        int(envconfig.LogEvery()),
	}, nil
}

// Validate prueft die Vorbedingungen, die beide Epoch-Funktionen teilen.
func (c Config) Validate() error {
	if c.BaseContrastive != SupportedBaseContrastive {
		return fmt.Errorf("%w: %d (only %d is implemented)", ErrUnsupportedBaseContrastive, c.BaseContrastive, SupportedBaseContrastive)
	}
	if math.IsNaN(c.Lamda) || math.IsInf(c.Lamda, 0) {
		return fmt.Errorf("train: lamda must be finite, got %v", c.Lamda)
	}

	seen := make(map[int]bool, len(c.RecallTopK))
	for _, k := range c.RecallTopK {
		if k <= 0 || seen[k] {
			return fmt.Errorf("%w: %v", ErrInvalidTopK, c.RecallTopK)
		}
		seen[k] = true
	}
	return nil
}

func (c Config) maxGradNorm() float64 {
	if c.MaxGradNorm > 0 {
		return c.MaxGradNorm
	}
	return optim.DefaultMaxGradNorm
}

// MODUL: options
// ZWECK: Functional Options Pattern fuer Backbone-Konfiguration
// INPUT: Optionale Parameter (EmbedDim, ImageSize, VocabSize, Seed, Device)
// OUTPUT: LoadOptions Struct mit Konfiguration
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: errors (stdlib)
// HINWEISE: Nur "cpu" ist als Device gueltig, es gibt keine GPU-Kernels

package vision

import (
	"errors"
)

// ============================================================================
// LoadOptions - Zentrale Konfigurationsstruktur
// ============================================================================

// LoadOptions enthaelt die Konfiguration fuer das Erstellen eines Backbones.
type LoadOptions struct {
	EmbedDim  int    // Feature-Dimension
	ImageSize int    // Kantenlaenge der quadratischen Eingabebilder
	VocabSize int    // Groesse des Token-Vokabulars
	Seed      uint64 // Seed fuer die Gewichts-Initialisierung
	Device    string // Compute-Backend
}

// Option ist eine funktionale Option fuer LoadOptions.
type Option func(*LoadOptions)

// ============================================================================
// Fehler-Definitionen fuer Options
// ============================================================================

var (
	ErrInvalidDevice    = errors.New("vision: invalid device")
	ErrInvalidEmbedDim  = errors.New("vision: invalid embedding dimension")
	ErrInvalidImageSize = errors.New("vision: invalid image size")
	ErrInvalidVocabSize = errors.New("vision: invalid vocabulary size")
)

const DeviceCPU = "cpu"

// ============================================================================
// DefaultLoadOptions - Standard-Konfiguration
// ============================================================================

// DefaultLoadOptions gibt eine kleine Standard-Konfiguration zurueck.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		EmbedDim:  32,
		ImageSize: 8,
		VocabSize: 256,
		Seed:      42,
		Device:    DeviceCPU,
	}
}

// ============================================================================
// Functional Options - Builder-Funktionen
// ============================================================================

// WithEmbedDim setzt die Feature-Dimension. Werte <= 0 werden ignoriert.
func WithEmbedDim(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.EmbedDim = n
		}
	}
}

// WithImageSize setzt die Bild-Kantenlaenge. Werte <= 0 werden ignoriert.
func WithImageSize(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.ImageSize = n
		}
	}
}

// WithVocabSize setzt die Vokabular-Groesse. Werte <= 0 werden ignoriert.
func WithVocabSize(n int) Option {
	return func(o *LoadOptions) {
		if n > 0 {
			o.VocabSize = n
		}
	}
}

func WithSeed(seed uint64) Option {
	return func(o *LoadOptions) {
		o.Seed = seed
	}
}

func WithDevice(device string) Option {
	return func(o *LoadOptions) {
		o.Device = device
	}
}

// Apply wendet alle Options auf LoadOptions an.
func (o *LoadOptions) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}

// InputDim ist die Laenge einer vorverarbeiteten Bild-Zeile (CHW).
func (o LoadOptions) InputDim() int {
	return 3 * o.ImageSize * o.ImageSize
}

// ============================================================================
// Validation
// ============================================================================

// Validate prueft ob die LoadOptions gueltig sind.
func (o *LoadOptions) Validate() error {
	switch {
	case o.Device != DeviceCPU:
		return ErrInvalidDevice
	case o.EmbedDim <= 0:
		return ErrInvalidEmbedDim
	case o.ImageSize <= 0:
		return ErrInvalidImageSize
	case o.VocabSize <= 1:
		return ErrInvalidVocabSize
	}
	return nil
}

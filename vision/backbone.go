// MODUL: backbone
// ZWECK: Backbone-Interface fuer Bild- und Text-Encoding im Training
// INPUT: Vorverarbeitete Bild-Zeilen (B x Pixel), Caption-Token-IDs
// OUTPUT: Feature-Tensoren (B x EmbedDim) mit Gradienten-Graph
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: ml (Tensor, Context), nn (Module), registry_global.go
// HINWEISE: Backbones werden ueber DefaultRegistry nach Namen erstellt

package vision

import (
	"fmt"

	"github.com/ollama/cirtrain/ml"
	"github.com/ollama/cirtrain/nn"
)

// ============================================================================
// Backbone Interface
// ============================================================================

// Backbone encodes images and captions into the shared embedding space.
// Train- und Eval-Modus steuern nur das Gradienten-Tracking, nicht den Forward.
type Backbone interface {
	nn.Module

	// EncodeImage bildet B Bild-Zeilen auf B x EmbedDim ab.
	EncodeImage(ctx *ml.Context, images *ml.Tensor) *ml.Tensor

	// EncodeText bildet B Token-Folgen auf B x EmbedDim ab.
	EncodeText(ctx *ml.Context, captions [][]int) *ml.Tensor

	Info() BackboneInfo
}

// BackboneInfo enthaelt Metadaten ueber ein Backbone.
type BackboneInfo struct {
	Name      string // Registry-Name
	EmbedDim  int    // Feature-Dimension
	ImageSize int    // Kantenlaenge der Eingabebilder
	InputDim  int    // Laenge einer Bild-Zeile (3 * ImageSize^2)
	VocabSize int    // Groesse des Token-Vokabulars
}

// ============================================================================
// BackboneFactory - Factory-Funktion Typ
// ============================================================================

// BackboneFactory erstellt ein Backbone aus LoadOptions.
type BackboneFactory func(opts LoadOptions) (Backbone, error)

// ============================================================================
// NewBackbone - Hauptfunktion fuer Backbone-Erstellung
// ============================================================================

// NewBackbone erstellt ein Backbone aus der DefaultRegistry.
func NewBackbone(name string, opts ...Option) (Backbone, error) {
	loadOpts := DefaultLoadOptions()
	loadOpts.Apply(opts...)

	if err := loadOpts.Validate(); err != nil {
		return nil, fmt.Errorf("vision: backbone %q: %w", name, err)
	}

	return DefaultRegistry.Create(name, loadOpts)
}

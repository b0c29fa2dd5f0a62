// MODUL: clip/register
// ZWECK: Automatische Registrierung des linearen CLIP-Backbones in der globalen Registry
// INPUT: Keine
// OUTPUT: Keine (Seiteneffekt: Registry-Eintrag)
// NEBENEFFEKTE: Registriert "clip-linear" in vision.DefaultRegistry
// ABHAENGIGKEITEN: vision (MustRegisterToDefault), backbone.go (New)
// HINWEISE: Wird automatisch durch init() beim Import ausgefuehrt

package clip

import (
	"github.com/ollama/cirtrain/vision"
)

// Name ist der Registry-Name des Backbones.
const Name = "clip-linear"

// init registriert das Backbone beim Package-Import.
func init() {
	vision.MustRegisterToDefault(Name, func(opts vision.LoadOptions) (vision.Backbone, error) {
		return New(opts)
	})
}

// Package vision - Globale Registry-Instanz und Package-Level Funktionen.
//
// MODUL: registry_global
// ZWECK: Stellt die globale DefaultRegistry und Registry-Fehler bereit
// INPUT: Backbone-Name, BackboneFactory
// OUTPUT: Registrierte Factories
// NEBENEFFEKTE: Aendert globale DefaultRegistry
// ABHAENGIGKEITEN: registry.go (Registry)
// HINWEISE: Backbones registrieren sich via init() in ihren Packages
package vision

import "errors"

// ============================================================================
// Registry Errors
// ============================================================================

// ErrBackboneNotRegistered wird zurueckgegeben wenn ein Name unbekannt ist.
var ErrBackboneNotRegistered = errors.New("vision: backbone not registered")

// RegistryError repraesentiert einen Registry-spezifischen Fehler.
type RegistryError struct {
	Op   string // Operation (z.B. "create")
	Name string // Backbone-Name
	Err  error  // Urspruenglicher Fehler
}

func (e *RegistryError) Error() string {
	return "vision: " + e.Op + " backbone '" + e.Name + "': " + e.Err.Error()
}

func (e *RegistryError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Globale Registry-Instanz
// ============================================================================

// DefaultRegistry ist die globale Registry fuer Backbones.
var DefaultRegistry = NewRegistry()

// RegisterToDefault registriert eine Factory in der DefaultRegistry.
func RegisterToDefault(name string, factory BackboneFactory) {
	DefaultRegistry.Register(name, factory)
}

// MustRegisterToDefault registriert eine Factory und panict bei nil-Factory.
// Fuer init()-Funktionen, in denen Fehler fatal sind.
func MustRegisterToDefault(name string, factory BackboneFactory) {
	if factory == nil {
		panic("vision: nil factory for backbone '" + name + "'")
	}
	RegisterToDefault(name, factory)
}

// ListFromDefault gibt alle registrierten Namen sortiert zurueck.
func ListFromDefault() []string {
	return DefaultRegistry.List()
}

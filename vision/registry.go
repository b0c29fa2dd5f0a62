// Package vision - Backbone Registry fuer dynamische Registrierung.
//
// MODUL: registry
// ZWECK: Zentrale Registry fuer Backbone-Factories mit Thread-sicherer Verwaltung
// INPUT: Backbone-Name, BackboneFactory-Funktionen, LoadOptions
// OUTPUT: Erstellte Backbone-Instanzen
// NEBENEFFEKTE: Keine (rein speicherbasiert)
// ABHAENGIGKEITEN: sync, slices (stdlib), backbone.go (BackboneFactory)
// HINWEISE: Thread-sicher durch RWMutex
package vision

import (
	"slices"
	"sync"
)

// ============================================================================
// Registry - Zentrale Backbone-Verwaltung
// ============================================================================

// Registry verwaltet registrierte Backbone-Factories.
type Registry struct {
	factories map[string]BackboneFactory
	mu        sync.RWMutex
}

// NewRegistry erstellt eine neue leere Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]BackboneFactory),
	}
}

// ============================================================================
// Registry Methoden - Registrierung
// ============================================================================

// Register registriert eine Factory unter dem angegebenen Namen.
// Ueberschreibt existierende Eintraege ohne Warnung.
func (r *Registry) Register(name string, factory BackboneFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[name] = factory
}

// Unregister entfernt eine Factory. Gibt true zurueck wenn sie existierte.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.factories[name]
	delete(r.factories, name)
	return exists
}

// ============================================================================
// Registry Methoden - Abfrage
// ============================================================================

// Get gibt die Factory fuer den Namen zurueck.
func (r *Registry) Get(name string) (BackboneFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, exists := r.factories[name]
	return factory, exists
}

// Has prueft ob ein Backbone unter dem Namen registriert ist.
func (r *Registry) Has(name string) bool {
	_, exists := r.Get(name)
	return exists
}

// List gibt die registrierten Namen sortiert zurueck.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count gibt die Anzahl registrierter Backbones zurueck.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.factories)
}

// ============================================================================
// Registry Methoden - Erstellung
// ============================================================================

// Create erstellt ein Backbone mit der registrierten Factory.
// Unbekannte Namen ergeben einen RegistryError mit ErrBackboneNotRegistered.
func (r *Registry) Create(name string, opts LoadOptions) (Backbone, error) {
	factory, exists := r.Get(name)
	if !exists {
		return nil, &RegistryError{Op: "create", Name: name, Err: ErrBackboneNotRegistered}
	}

	backbone, err := factory(opts)
	if err != nil {
		return nil, &RegistryError{Op: "create", Name: name, Err: err}
	}
	return backbone, nil
}

// config_features.go - Trainings-Flags und Worker-Konfiguration
//
// Dieses Modul enthaelt:
// - Trainings-Flags (ClipGradNorm, FinetuneMode, BaseContrastive)
// - Worker- und Seed-Einstellungen
package envconfig

// =============================================================================
// Trainings-Flags
// =============================================================================

var (
	// ClipGradNorm aktiviert Gradient-Clipping der Backbone-Parameter
	ClipGradNorm = Bool("CIR_CLIP_GRAD_NORM")

	// FinetuneMode setzt den Finetune-Modus; leer bedeutet Backbone im Eval-Modus
	FinetuneMode = String("CIR_FINETUNE_MODE")

	// BaseContrastive waehlt die Kontrast-Variante (nur 1 wird unterstuetzt)
	BaseContrastive = Uint("CIR_BASE_CONTRASTIVE", 1)

	// LogEvery ist das Intervall (in Batches) fuer Fortschritts-Logs
	LogEvery = Uint("CIR_LOG_EVERY", 10)
)

// =============================================================================
// Worker-Konfiguration
// =============================================================================

var (
	// WorldSize ist die Anzahl der Worker im lokalen Prozess
	WorldSize = Uint("CIR_WORLD_SIZE", 1)

	// Seed initialisiert Gewichte und synthetische Daten
	Seed = Uint64("CIR_SEED", 42)
)

// config.go - Haupt-Konfigurationsfunktionen fuer cirtrain
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (CIR_DEBUG)
// - Lamda: Logit-Skala der Kontrast-Loss (CIR_LAMDA)
// - Autocast: Praezision der Matmuls (CIR_AUTOCAST)
// - RecallTopK: K-Werte fuer Recall@K (CIR_RECALL_TOPK)
// - Var: Liest eine bereinigte Environment-Variable
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Trainings-Flags und Worker-Einstellungen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via CIR_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("CIR_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Lamda gibt den Faktor zurueck, mit dem die Aehnlichkeiten skaliert werden
// Konfigurierbar via CIR_LAMDA
// Default: 100
var Lamda = Float("CIR_LAMDA", 100)

// Autocast gibt den Autocast-Typ als String zurueck (f32, f16, bf16)
// Konfigurierbar via CIR_AUTOCAST
// Default: f32 (kein Autocast)
func Autocast() string {
	if s := Var("CIR_AUTOCAST"); s != "" {
		return strings.ToLower(s)
	}
	return "f32"
}

// RecallTopK gibt die K-Werte fuer Recall@K zurueck
// Konfigurierbar via CIR_RECALL_TOPK (komma-separiert)
// Ungueltige oder nicht-positive Eintraege werden uebersprungen
// Default: 1,5,10
func RecallTopK() []int {
	raw := Var("CIR_RECALL_TOPK")
	if raw == "" {
		return []int{1, 5, 10}
	}

	var ks []int
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		k, err := strconv.Atoi(part)
		if err != nil || k <= 0 {
			slog.Warn("invalid recall k, skipping", "key", "CIR_RECALL_TOPK", "value", part)
			continue
		}
		ks = append(ks, k)
	}

	if len(ks) == 0 {
		return []int{1, 5, 10}
	}
	return ks
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// MODUL: formats
// ZWECK: Bildformat-Erkennung fuer Manifest-Bilder
// INPUT: Bild-Bytes oder Dateipfad
// OUTPUT: ImageFormat, Fehler bei ungueltigem Format
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: bytes, path/filepath, strings (stdlib)
// HINWEISE: Magic-Bytes haben Vorrang vor der Dateiendung

package vision

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
)

// ImageFormat repraesentiert ein unterstuetztes Bildformat
type ImageFormat string

const (
	FormatJPEG    ImageFormat = "jpeg"
	FormatPNG     ImageFormat = "png"
	FormatWebP    ImageFormat = "webp"
	FormatUnknown ImageFormat = "unknown"
)

var (
	ErrUnknownFormat = errors.New("vision: unknown image format")

	magicJPEG = []byte{0xFF, 0xD8, 0xFF}
	magicPNG  = []byte{0x89, 'P', 'N', 'G'}
	magicRIFF = []byte("RIFF")
	magicWEBP = []byte("WEBP")
)

// DetectFormat erkennt das Bildformat anhand der Magic-Bytes
func DetectFormat(data []byte) ImageFormat {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWEBP):
		return FormatWebP
	}
	return FormatUnknown
}

// FormatFromPath leitet das Format aus der Dateiendung ab
func FormatFromPath(path string) ImageFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return FormatJPEG
	case ".png":
		return FormatPNG
	case ".webp":
		return FormatWebP
	}
	return FormatUnknown
}

// ValidateFormat prueft ob ein Format dekodiert werden kann
func ValidateFormat(format ImageFormat) error {
	switch format {
	case FormatJPEG, FormatPNG, FormatWebP:
		return nil
	}
	return ErrUnknownFormat
}

func (f ImageFormat) String() string {
	return string(f)
}

// MODUL: image
// ZWECK: Bild-Lade- und Verarbeitungsfunktionen fuer die Vorverarbeitung
// INPUT: Dateipfad oder Bytes
// OUTPUT: Image Struktur mit dekodiertem RGBA-Bild
// NEBENEFFEKTE: Dateisystem-Lesezugriff bei LoadImage
// ABHAENGIGKEITEN: golang.org/x/image/draw, golang.org/x/image/webp, image/jpeg, image/png
// HINWEISE: Alle Bilder werden als RGBA konvertiert

package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"

	// Standard-Decoder registrieren
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Image enthaelt ein dekodiertes Bild mit Metadaten
type Image struct {
	RGBA   *image.RGBA
	Width  int
	Height int
	Format ImageFormat
}

// LoadImage laedt und dekodiert ein Bild von einem Dateipfad
func LoadImage(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vision: read image: %w", err)
	}

	img, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("vision: %s: %w", path, err)
	}
	return img, nil
}

// DecodeImage dekodiert ein Bild aus Byte-Daten
func DecodeImage(data []byte) (*Image, error) {
	format := DetectFormat(data)
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}

	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("vision: decode %s: %w", format, err)
	}

	rgba := toRGBA(decoded)
	return &Image{
		RGBA:   rgba,
		Width:  rgba.Bounds().Dx(),
		Height: rgba.Bounds().Dy(),
		Format: format,
	}, nil
}

// toRGBA konvertiert ein beliebiges image.Image zu *image.RGBA mit Ursprung 0,0
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

func (img *Image) derive(rgba *image.RGBA) *Image {
	return &Image{RGBA: rgba, Width: rgba.Bounds().Dx(), Height: rgba.Bounds().Dy(), Format: img.Format}
}

// Composite entfernt den Alpha-Kanal durch weissen Hintergrund
func Composite(img *Image) *Image {
	dst := image.NewRGBA(img.RGBA.Bounds())
	draw.Draw(dst, dst.Bounds(), &image.Uniform{color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img.RGBA, img.RGBA.Bounds().Min, draw.Over)
	return img.derive(dst)
}

// ResizeShortest skaliert bilinear, sodass die kuerzere Kante size ist
func ResizeShortest(img *Image, size int) (*Image, error) {
	if size <= 0 {
		return nil, fmt.Errorf("vision: invalid resize target %d", size)
	}

	w, h := shortestSideSize(img.Width, img.Height, size)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img.RGBA, img.RGBA.Bounds(), draw.Src, nil)
	return img.derive(dst), nil
}

// shortestSideSize berechnet die Zielgroesse mit Seitenverhaeltnis
func shortestSideSize(w, h, size int) (int, int) {
	if w <= h {
		return size, max(size, h*size/w)
	}
	return max(size, w*size/h), size
}

// CenterCrop schneidet einen zentrierten Bereich aus
func CenterCrop(img *Image, width, height int) (*Image, error) {
	if width > img.Width || height > img.Height {
		return nil, fmt.Errorf("vision: crop %dx%d larger than image %dx%d", width, height, img.Width, img.Height)
	}

	offsetX := (img.Width - width) / 2
	offsetY := (img.Height - height) / 2

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), img.RGBA, image.Pt(offsetX, offsetY), draw.Src)
	return img.derive(dst), nil
}

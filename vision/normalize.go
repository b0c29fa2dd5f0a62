// MODUL: normalize
// ZWECK: Vorverarbeitung von Bildern zu Backbone-Eingabezeilen
// INPUT: Bild-Bytes oder Image, Zielgroesse
// OUTPUT: float64-Zeile im CHW Layout (3 * size * size)
// NEBENEFFEKTE: keine
// ABHAENGIGKEITEN: image.go (Decode, Resize, Crop)
// HINWEISE: CLIP mean/std, Resize der kuerzeren Kante und Center-Crop

package vision

// CLIP-Normalisierungswerte
var (
	ClipMean = [3]float64{0.48145466, 0.4578275, 0.40821073}
	ClipStd  = [3]float64{0.26862954, 0.26130258, 0.27577711}
)

// NormalizeCHW normalisiert ein Bild kanalweise und gibt es als CHW-Zeile zurueck
func NormalizeCHW(img *Image, mean, std [3]float64) []float64 {
	plane := img.Width * img.Height
	out := make([]float64, 3*plane)

	idx := 0
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			px := img.RGBA.RGBAAt(x, y)
			out[idx] = (float64(px.R)/255 - mean[0]) / std[0]
			out[plane+idx] = (float64(px.G)/255 - mean[1]) / std[1]
			out[2*plane+idx] = (float64(px.B)/255 - mean[2]) / std[2]
			idx++
		}
	}
	return out
}

// PreprocessImage bringt ein Bild auf size x size und normalisiert es
func PreprocessImage(img *Image, size int) ([]float64, error) {
	resized, err := ResizeShortest(Composite(img), size)
	if err != nil {
		return nil, err
	}

	cropped, err := CenterCrop(resized, size, size)
	if err != nil {
		return nil, err
	}

	return NormalizeCHW(cropped, ClipMean, ClipStd), nil
}

// Preprocess dekodiert Bild-Bytes und liefert die Backbone-Eingabezeile
func Preprocess(data []byte, size int) ([]float64, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return PreprocessImage(img, size)
}

// PreprocessFile laedt ein Bild von path und liefert die Eingabezeile
func PreprocessFile(path string, size int) ([]float64, error) {
	img, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	return PreprocessImage(img, size)
}

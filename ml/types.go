// types.go - Datentypen fuer Autocast und Praezisions-Emulation
// Dieses Modul definiert DType sowie die Rundung auf f16/bf16.
package ml

import (
	"fmt"
	"strings"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType represents the data type matmul inputs are rounded to under autocast.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
)

// String gibt den kurzen Namen zurueck (f32, f16, bf16).
func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	default:
		return "other"
	}
}

// ParseDType liest einen DType-Namen. Leerer String ergibt f32.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32", "fp32", "float32":
		return DTypeF32, nil
	case "f16", "fp16", "float16":
		return DTypeF16, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	}
	return DTypeOther, fmt.Errorf("ml: unknown dtype %q", s)
}

// Reduced meldet ob der Typ unterhalb von f32 liegt.
func (d DType) Reduced() bool {
	return d == DTypeF16 || d == DTypeBF16
}

// Round rundet v auf die Praezision des Typs und zurueck auf float64.
// f16 laeuft ab 65504 ueber und liefert dann +-Inf.
func (d DType) Round(v float64) float64 {
	switch d {
	case DTypeF16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case DTypeBF16:
		return float64(bfloat16.DecodeFloat32(bfloat16.EncodeFloat32([]float32{float32(v)}))[0])
	case DTypeF32:
		return float64(float32(v))
	default:
		return v
	}
}

// RoundSlice rundet s in-place.
func (d DType) RoundSlice(s []float64) {
	switch d {
	case DTypeF16:
		for i, v := range s {
			s[i] = float64(float16.Fromfloat32(float32(v)).Float32())
		}
	case DTypeBF16:
		f32 := make([]float32, len(s))
		for i, v := range s {
			f32[i] = float32(v)
		}
		for i, v := range bfloat16.DecodeFloat32(bfloat16.EncodeFloat32(f32)) {
			s[i] = float64(v)
		}
	case DTypeF32:
		for i, v := range s {
			s[i] = float64(float32(v))
		}
	}
}

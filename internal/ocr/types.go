package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
)

// BoundingBox is a line's pixel rectangle, origin top-left.
type BoundingBox struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// Line is one recognized text line
type Line struct {
	Text       string      `json:"text"`
	Confidence float64     `json:"confidence"` // 0-100
	Box        BoundingBox `json:"bounding_box"`
}

// Result is the output of a single OCR invocation. Confidence is on the
// engine scale, 0-100; it is converted to 0-1 only by the field extractor.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"` // 0-100
	Lines      []Line  `json:"lines"`
}

// PageSegMode is the page-layout assumption handed to the general engine
type PageSegMode int

const (
	PSMAuto PageSegMode = iota
	PSMSingleBlock
	PSMSingleColumn
	PSMSparseText
)

func (m PageSegMode) String() string {
	switch m {
	case PSMSingleBlock:
		return "single-block"
	case PSMSingleColumn:
		return "single-column"
	case PSMSparseText:
		return "sparse-text"
	default:
		return "auto"
	}
}

// Config carries per-call recognition options
type Config struct {
	PageSegMode PageSegMode
}

// Backend defines the interface for an OCR engine
type Backend interface {
	// Name identifies the engine in logs and results
	Name() string
	// Recognize runs OCR on a prepared image. Implementations are stateful
	// and must serialize concurrent calls.
	Recognize(ctx context.Context, img image.Image, cfg Config) (*Result, error)
	// Close releases engine resources
	Close() error
}

// EngineMode selects which engine the router uses
type EngineMode string

const (
	ModeTesseract   EngineMode = "tesseract"
	ModeSpecialized EngineMode = "specialized"
	ModeAuto        EngineMode = "auto"
)

// ParseEngineMode converts a preference string into an EngineMode
func ParseEngineMode(s string) (EngineMode, error) {
	switch EngineMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTesseract:
		return ModeTesseract, nil
	case ModeSpecialized:
		return ModeSpecialized, nil
	case ModeAuto:
		return ModeAuto, nil
	}
	return "", fmt.Errorf("unknown engine mode %q (want tesseract, specialized or auto)", s)
}

// Package tesseract implements the general-purpose OCR engine on top of the
// Tesseract LSTM models via gosseract.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/receipt-lens/internal/ocr"
)

// client is the subset of *gosseract.Client the engine drives
type client interface {
	SetLanguage(langs ...string) error
	SetPageSegMode(mode gosseract.PageSegMode) error
	SetVariable(key gosseract.SettableVariable, value string) error
	SetImageFromBytes(data []byte) error
	Text() (string, error)
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Close() error
}

// Engine implements ocr.Backend using a single long-lived Tesseract client.
// The client is not reentrant, so calls are serialized.
type Engine struct {
	mu     sync.Mutex
	client client
	langs  []string
}

// New creates an Engine loading the given traineddata languages from tessdataDir
func New(tessdataDir string, langs ...string) (*Engine, error) {
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	c := gosseract.NewClient()
	if tessdataDir != "" {
		c.SetTessdataPrefix(tessdataDir)
	}
	e, err := newWithClient(c, langs)
	if err != nil {
		c.Close()
		return nil, err
	}
	return e, nil
}

func newWithClient(c client, langs []string) (*Engine, error) {
	if err := c.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("setting tesseract languages %v: %w", langs, err)
	}
	// receipts are printed at fixed pitch; keep inter-word spaces so
	// description/amount columns stay separated
	if err := c.SetVariable("preserve_interword_spaces", "1"); err != nil {
		return nil, fmt.Errorf("setting tesseract variable: %w", err)
	}
	return &Engine{client: c, langs: langs}, nil
}

// Name returns the engine name
func (e *Engine) Name() string { return "tesseract" }

// Languages returns the loaded traineddata names
func (e *Engine) Languages() []string {
	return append([]string(nil), e.langs...)
}

// Recognize runs Tesseract with the configured page-segmentation mode
func (e *Engine) Recognize(ctx context.Context, img image.Image, cfg ocr.Config) (*ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, fmt.Errorf("tesseract engine closed")
	}

	if err := e.client.SetPageSegMode(pageSegMode(cfg.PageSegMode)); err != nil {
		return nil, fmt.Errorf("setting page segmentation mode: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognizing text: %w", err)
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		// text without geometry is still usable, just unscored
		return &ocr.Result{Text: strings.TrimSpace(text)}, nil
	}

	lines, conf := linesFromBoxes(boxes)
	return &ocr.Result{
		Text:       strings.TrimSpace(text),
		Confidence: conf,
		Lines:      lines,
	}, nil
}

// Close releases the Tesseract client
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// linesFromBoxes converts text-line boxes and averages their confidence
func linesFromBoxes(boxes []gosseract.BoundingBox) ([]ocr.Line, float64) {
	lines := make([]ocr.Line, 0, len(boxes))
	var sum float64
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		sum += b.Confidence
		lines = append(lines, ocr.Line{
			Text:       text,
			Confidence: b.Confidence,
			Box: ocr.BoundingBox{
				X0: b.Box.Min.X,
				Y0: b.Box.Min.Y,
				X1: b.Box.Max.X,
				Y1: b.Box.Max.Y,
			},
		})
	}
	if len(lines) == 0 {
		return lines, 0
	}
	return lines, sum / float64(len(lines))
}

func pageSegMode(m ocr.PageSegMode) gosseract.PageSegMode {
	switch m {
	case ocr.PSMSingleBlock:
		return gosseract.PSM_SINGLE_BLOCK
	case ocr.PSMSingleColumn:
		return gosseract.PSM_SINGLE_COLUMN
	case ocr.PSMSparseText:
		return gosseract.PSM_SPARSE_TEXT
	default:
		return gosseract.PSM_AUTO
	}
}

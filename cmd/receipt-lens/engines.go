package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zombor/receipt-lens/internal/ocr"
	"github.com/zombor/receipt-lens/internal/ocr/paddle"
	"github.com/zombor/receipt-lens/internal/ocr/tesseract"
)

// engineFactory starts Tesseract in-process and connects to a local
// PaddleOCR serving instance when one is configured
type engineFactory struct {
	paddleURL string
}

func (f *engineFactory) NewGeneral(ctx context.Context, dir string, languages []string) (ocr.Backend, error) {
	engine, err := tesseract.New(dir, languages...)
	if err != nil {
		return nil, fmt.Errorf("starting tesseract: %w", err)
	}
	slog.Info("Started Tesseract", "languages", engine.Languages())
	return engine, nil
}

func (f *engineFactory) NewSpecialized(ctx context.Context) (ocr.Backend, error) {
	if f.paddleURL == "" {
		return nil, nil
	}

	client := paddle.New(f.paddleURL)
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to paddleocr at %s: %w", f.paddleURL, err)
	}
	slog.Info("Connected to PaddleOCR", "url", f.paddleURL)
	return client, nil
}

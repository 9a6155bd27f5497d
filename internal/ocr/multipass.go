package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Confidence thresholds on the 0-100 engine scale
const (
	ConfidenceExcellent = 85.0
	ConfidenceGood      = 70.0

	// a best pass this far ahead of the runner-up is returned without merging
	mergeDominanceGap = 10.0
	// lines from non-best passes must clear this to be merged in
	mergeLineConfidence = 60.0
	mergeMinLineLength  = 3
)

// MultiPass runs the general engine under several page-segmentation modes,
// stopping as soon as a pass is good enough.
type MultiPass struct {
	engine Backend
}

// NewMultiPass creates a MultiPass over the given engine
func NewMultiPass(engine Backend) *MultiPass {
	return &MultiPass{engine: engine}
}

// Run performs the full retry sequence starting with a single-block pass
func (m *MultiPass) Run(ctx context.Context, img image.Image) (*Result, error) {
	first, err := m.engine.Recognize(ctx, img, Config{PageSegMode: PSMSingleBlock})
	if err != nil {
		return nil, fmt.Errorf("single-block pass: %w", err)
	}
	return m.Continue(ctx, img, first)
}

// Continue resumes the retry sequence from an already computed single-block pass
func (m *MultiPass) Continue(ctx context.Context, img image.Image, first *Result) (*Result, error) {
	if first.Confidence >= ConfidenceExcellent {
		slog.Debug("OCR pass excellent", "confidence", first.Confidence)
		return first, nil
	}
	if first.Confidence >= ConfidenceGood {
		slog.Debug("OCR pass good", "confidence", first.Confidence)
		return first, nil
	}

	passes := []*Result{first}
	column, err := m.engine.Recognize(ctx, img, Config{PageSegMode: PSMSingleColumn})
	if err != nil {
		slog.Warn("Single-column OCR pass failed", "engine", m.engine.Name(), "error", err)
	} else {
		if column.Confidence >= ConfidenceGood {
			return column, nil
		}
		passes = append(passes, column)
	}

	sparse, err := m.engine.Recognize(ctx, img, Config{PageSegMode: PSMSparseText})
	if err != nil {
		slog.Warn("Sparse-text OCR pass failed", "engine", m.engine.Name(), "error", err)
	} else {
		passes = append(passes, sparse)
	}

	return MergePasses(passes), nil
}

// MergePasses combines several OCR passes of the same image. The best pass is
// returned as-is when it dominates; otherwise its lines are kept and unique,
// confident lines from the other passes are added, ordered top to bottom.
func MergePasses(passes []*Result) *Result {
	if len(passes) == 0 {
		return &Result{}
	}
	sorted := make([]*Result, len(passes))
	copy(sorted, passes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	best := sorted[0]
	if len(sorted) == 1 || best.Confidence-sorted[1].Confidence > mergeDominanceGap {
		return best
	}
	// without line geometry there is nothing to merge
	if len(best.Lines) == 0 {
		return best
	}

	seen := make(map[string]bool)
	merged := make([]Line, 0, len(best.Lines))
	for _, line := range best.Lines {
		if key := normalizeLine(line.Text); utf8.RuneCountInString(key) >= mergeMinLineLength {
			seen[key] = true
		}
		merged = append(merged, line)
	}

	for _, pass := range sorted[1:] {
		for _, line := range pass.Lines {
			key := normalizeLine(line.Text)
			if utf8.RuneCountInString(key) < mergeMinLineLength || seen[key] {
				continue
			}
			if line.Confidence <= mergeLineConfidence {
				continue
			}
			seen[key] = true
			merged = append(merged, line)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Box.Y0 < merged[j].Box.Y0
	})

	texts := make([]string, len(merged))
	for i, line := range merged {
		texts[i] = line.Text
	}
	return &Result{
		Text:       strings.Join(texts, "\n"),
		Confidence: best.Confidence,
		Lines:      merged,
	}
}

// normalizeLine lower-cases and strips all whitespace
func normalizeLine(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
}

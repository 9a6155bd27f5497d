package ocr

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/go-text/typesetting/language"
)

// ErrNoSpecializedEngine is returned when the CJK engine is requested but not configured
var ErrNoSpecializedEngine = errors.New("specialized engine not configured")

// Recognition is a routed OCR result together with the engine that produced
// it and the dominant script of its text
type Recognition struct {
	Result *Result
	Engine string
	Script language.Script
}

// Router picks the general engine (A), the CJK engine (B), or a hybrid of both
type Router struct {
	general     Backend
	specialized Backend
	multiPass   *MultiPass

	mu   sync.RWMutex
	mode EngineMode
}

// NewRouter creates a Router. specialized may be nil, in which case every
// request that would use it falls back to the general engine.
func NewRouter(general, specialized Backend, mode EngineMode) *Router {
	if mode == "" {
		mode = ModeAuto
	}
	return &Router{
		general:     general,
		specialized: specialized,
		multiPass:   NewMultiPass(general),
		mode:        mode,
	}
}

// Mode returns the current engine preference
func (r *Router) Mode() EngineMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// SetMode changes the engine preference for subsequent calls
func (r *Router) SetMode(mode EngineMode) {
	r.mu.Lock()
	r.mode = mode
	r.mu.Unlock()
}

// Recognize runs OCR according to the current mode
func (r *Router) Recognize(ctx context.Context, img image.Image) (*Recognition, error) {
	rec, err := r.recognize(ctx, img)
	if err != nil {
		return nil, err
	}
	rec.Script = DetectScript(rec.Result.Text)
	return rec, nil
}

func (r *Router) recognize(ctx context.Context, img image.Image) (*Recognition, error) {
	switch r.Mode() {
	case ModeTesseract:
		return r.runGeneral(ctx, img, nil)
	case ModeSpecialized:
		rec, err := r.runSpecialized(ctx, img)
		if err == nil {
			return rec, nil
		}
		slog.Warn("Specialized engine failed, falling back to general engine", "error", err)
		return r.runGeneral(ctx, img, nil)
	default:
		return r.recognizeAuto(ctx, img)
	}
}

// recognizeAuto does one quick general pass, and hands CJK receipts to the
// specialized engine.
func (r *Router) recognizeAuto(ctx context.Context, img image.Image) (*Recognition, error) {
	quick, err := r.general.Recognize(ctx, img, Config{PageSegMode: PSMSingleBlock})
	if err != nil {
		return nil, fmt.Errorf("quick detection pass: %w", err)
	}

	if HasCJK(quick.Text) {
		slog.Debug("CJK content detected, routing to specialized engine", "script", DetectScript(quick.Text).String())
		rec, err := r.runSpecialized(ctx, img)
		if err == nil {
			return rec, nil
		}
		slog.Warn("Specialized engine failed, using general multi-pass result", "error", err)
	}
	return r.runGeneral(ctx, img, quick)
}

func (r *Router) runGeneral(ctx context.Context, img image.Image, first *Result) (*Recognition, error) {
	var (
		res *Result
		err error
	)
	if first != nil {
		res, err = r.multiPass.Continue(ctx, img, first)
	} else {
		res, err = r.multiPass.Run(ctx, img)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.general.Name(), err)
	}
	return &Recognition{Result: res, Engine: r.general.Name()}, nil
}

func (r *Router) runSpecialized(ctx context.Context, img image.Image) (*Recognition, error) {
	if r.specialized == nil {
		return nil, ErrNoSpecializedEngine
	}
	res, err := r.specialized.Recognize(ctx, img, Config{PageSegMode: PSMAuto})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.specialized.Name(), err)
	}
	return &Recognition{Result: res, Engine: r.specialized.Name()}, nil
}

package receipt

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/zombor/receipt-lens/internal/einvoice"
	"github.com/zombor/receipt-lens/internal/extract"
	"github.com/zombor/receipt-lens/internal/ocr"
	"github.com/zombor/receipt-lens/internal/preprocess"
	"github.com/zombor/receipt-lens/internal/semantic"
)

// subscriberBuffer is how many state updates a slow subscriber may lag
// before updates to it are dropped
const subscriberBuffer = 16

var errNoImages = errors.New("no images to process")

// IDGenerator generates unique IDs for processing results
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// EngineFactory builds the OCR engines during initialization
type EngineFactory interface {
	// NewGeneral creates the general engine for the given Tesseract
	// languages, loading models from dir
	NewGeneral(ctx context.Context, dir string, languages []string) (ocr.Backend, error)

	// NewSpecialized creates the CJK engine. It returns nil, nil when no
	// such engine is configured.
	NewSpecialized(ctx context.Context) (ocr.Backend, error)
}

// Models provides locally installed language models
type Models interface {
	Install(ctx context.Context, languages []string) error
	Installed(language string) bool
	List() ([]*ModelRecord, error)
	Remove(language string) error
	Dir() string
}

// InvoiceScanner reads machine-readable invoice codes from receipt images
type InvoiceScanner interface {
	Scan(img image.Image) (*einvoice.Invoice, error)
}

// Config holds a pipeline's collaborators and default settings. Semantic and
// Invoices are optional. Stored preferences take precedence over the modes
// given here.
type Config struct {
	Engines  EngineFactory
	Models   Models
	DB       DB
	Semantic semantic.Extractor
	Invoices InvoiceScanner

	Preprocess     preprocess.Options
	EngineMode     ocr.EngineMode
	ProcessingMode ProcessingMode
}

type job struct {
	run  func()
	done chan struct{}
}

// Pipeline turns receipt images into transaction candidates. All engine work
// happens on a single worker goroutine and only one call runs at a time;
// callers arriving while one is in flight get ErrBusy.
type Pipeline struct {
	cfg         Config
	extractor   *extract.Extractor
	idGenerator IDGenerator
	timeSource  TimeSource

	jobs      chan job
	done      chan struct{}
	closeOnce sync.Once
	busy      atomic.Bool
	initGroup singleflight.Group

	mu             sync.Mutex
	state          ProcessingState
	generation     int
	languages      []string
	scripts        []ocr.ScriptHint
	general        ocr.Backend
	specialized    ocr.Backend
	router         *ocr.Router
	engineMode     ocr.EngineMode
	processingMode ProcessingMode
	subscribers    map[chan ProcessingState]struct{}
}

// NewPipeline creates a Pipeline with default ID generator and time source
func NewPipeline(cfg Config) (*Pipeline, error) {
	return NewPipelineWithDeps(cfg, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewPipelineWithDeps creates a Pipeline with custom dependencies for testing
func NewPipelineWithDeps(cfg Config, idGen IDGenerator, timeSrc TimeSource) (*Pipeline, error) {
	if cfg.Engines == nil || cfg.Models == nil || cfg.DB == nil {
		return nil, errors.New("engine factory, models and database are required")
	}
	if cfg.EngineMode == "" {
		cfg.EngineMode = ocr.ModeAuto
	}
	if cfg.ProcessingMode == "" {
		cfg.ProcessingMode = ModeBasic
	}

	p := &Pipeline{
		cfg:            cfg,
		extractor:      extract.NewWithTimeSource(timeSrc),
		idGenerator:    idGen,
		timeSource:     timeSrc,
		jobs:           make(chan job),
		done:           make(chan struct{}),
		engineMode:     cfg.EngineMode,
		processingMode: cfg.ProcessingMode,
		subscribers:    make(map[chan ProcessingState]struct{}),
	}

	prefs, err := cfg.DB.GetPreferences()
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading preferences: %w", err)
	default:
		if mode, err := ocr.ParseEngineMode(string(prefs.EngineMode)); err == nil {
			p.engineMode = mode
		}
		if mode, err := ParseProcessingMode(string(prefs.ProcessingMode)); err == nil {
			p.processingMode = mode
		}
		p.scripts = prefs.Scripts
	}

	go p.work()
	return p, nil
}

func (p *Pipeline) work() {
	for {
		select {
		case j := <-p.jobs:
			j.run()
			p.busy.Store(false)
			close(j.done)
		case <-p.done:
			return
		}
	}
}

// submit runs fn on the worker and waits for it. If ctx ends first the call
// returns early but fn still runs to completion.
func (p *Pipeline) submit(ctx context.Context, fn func()) error {
	if !p.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}

	j := job{run: fn, done: make(chan struct{})}
	select {
	case p.jobs <- j:
	case <-p.done:
		p.busy.Store(false)
		return ErrClosed
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialize downloads the language models for scripts and starts the OCR
// engines. It is a no-op when already initialized for the same languages,
// and concurrent calls for the same languages share one initialization.
func (p *Pipeline) Initialize(ctx context.Context, scripts []ocr.ScriptHint) error {
	langs := ocr.LanguagesFor(scripts)
	if p.initializedWith(langs) {
		return nil
	}

	_, err, _ := p.initGroup.Do(strings.Join(langs, "+"), func() (any, error) {
		var initErr error
		err := p.submit(ctx, func() {
			initErr = p.initialize(context.WithoutCancel(ctx), scripts, langs)
		})
		if err != nil {
			return nil, err
		}
		return nil, initErr
	})
	return err
}

func (p *Pipeline) initializedWith(langs []string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.router != nil && slices.Equal(p.languages, langs)
}

func (p *Pipeline) initialize(ctx context.Context, scripts []ocr.ScriptHint, langs []string) error {
	if p.initializedWith(langs) {
		return nil
	}

	gen := p.currentGeneration()
	p.update(gen, func(s *ProcessingState) {
		s.Progress = 0
		s.Status = "Loading language models"
		s.LastError = ""
	})

	if err := p.cfg.Models.Install(ctx, langs); err != nil {
		return p.initFailed(gen, &EngineError{Engine: "general", Err: err})
	}

	p.update(gen, func(s *ProcessingState) {
		s.Progress = 50
		s.Status = "Starting OCR engines"
	})

	general, err := p.cfg.Engines.NewGeneral(ctx, p.cfg.Models.Dir(), langs)
	if err != nil {
		return p.initFailed(gen, &EngineError{Engine: "general", Err: err})
	}
	specialized, err := p.cfg.Engines.NewSpecialized(ctx)
	if err != nil {
		slog.Warn("Specialized engine unavailable, using general engine only", "error", err)
		specialized = nil
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		closeBackends(general, specialized)
		return ErrTerminated
	}
	oldGeneral, oldSpecialized := p.general, p.specialized
	p.general, p.specialized = general, specialized
	p.router = ocr.NewRouter(general, specialized, p.engineMode)
	p.languages = langs
	p.scripts = scripts
	p.state = ProcessingState{IsReady: true, Progress: 100, Status: "Ready"}
	p.broadcastLocked()
	p.mu.Unlock()

	closeBackends(oldGeneral, oldSpecialized)
	slog.Info("OCR engines ready", "languages", langs, "specialized", specialized != nil)

	if err := p.savePreferences(); err != nil {
		slog.Warn("Failed to save preferences", "error", err)
	}
	return nil
}

func (p *Pipeline) initFailed(gen int, err error) error {
	slog.Error("Failed to initialize OCR engines", "error", err)
	p.update(gen, func(s *ProcessingState) {
		s.Status = "Initialization failed"
		s.LastError = err.Error()
	})
	return err
}

// SetEngineMode changes and persists the OCR engine preference
func (p *Pipeline) SetEngineMode(mode ocr.EngineMode) error {
	mode, err := ocr.ParseEngineMode(string(mode))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.engineMode = mode
	if p.router != nil {
		p.router.SetMode(mode)
	}
	p.mu.Unlock()

	return p.savePreferences()
}

// SetProcessingMode changes and persists the extraction preference
func (p *Pipeline) SetProcessingMode(mode ProcessingMode) error {
	mode, err := ParseProcessingMode(string(mode))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.processingMode = mode
	p.mu.Unlock()

	return p.savePreferences()
}

// Preferences returns the current settings
func (p *Pipeline) Preferences() *Preferences {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &Preferences{
		EngineMode:     p.engineMode,
		ProcessingMode: p.processingMode,
		Scripts:        slices.Clone(p.scripts),
	}
}

func (p *Pipeline) savePreferences() error {
	prefs := p.Preferences()
	prefs.UpdatedAt = p.timeSource.Now()
	if err := p.cfg.DB.SavePreferences(prefs); err != nil {
		return fmt.Errorf("saving preferences: %w", err)
	}
	return nil
}

// ProcessReceipt extracts transactions from a single image
func (p *Pipeline) ProcessReceipt(ctx context.Context, img Image) (*ProcessingResult, error) {
	return p.run(ctx, []Image{img})
}

// ProcessMultipleImages extracts transactions from several overlapping
// photos of one receipt, given top to bottom. Images are processed in order
// and line items seen in more than one photo are reported once.
func (p *Pipeline) ProcessMultipleImages(ctx context.Context, images []Image) (*ProcessingResult, error) {
	if len(images) == 0 {
		return nil, &ProcessingError{Stage: StageDecode, Err: errNoImages}
	}
	return p.run(ctx, images)
}

func (p *Pipeline) run(ctx context.Context, images []Image) (*ProcessingResult, error) {
	var (
		res    *ProcessingResult
		runErr error
	)
	err := p.submit(ctx, func() {
		res, runErr = p.process(context.WithoutCancel(ctx), images)
	})
	if err != nil {
		return nil, err
	}
	return res, runErr
}

// process runs on the worker
func (p *Pipeline) process(ctx context.Context, images []Image) (*ProcessingResult, error) {
	start := p.timeSource.Now()

	p.mu.Lock()
	router, specialized := p.router, p.specialized
	mode, gen := p.processingMode, p.generation
	p.mu.Unlock()
	if router == nil {
		return nil, ErrNotReady
	}

	p.update(gen, func(s *ProcessingState) {
		s.IsProcessing = true
		s.Progress = 0
		s.Status = "Reading images"
		s.LastError = ""
	})

	// malformed input is rejected before any OCR work
	decoded := make([]image.Image, len(images))
	for i, in := range images {
		img, err := preprocess.Decode(in.Data, in.ContentType)
		if err != nil {
			return nil, p.finish(gen, &ProcessingError{Image: imageName(in, i), Stage: StageDecode, Err: err})
		}
		decoded[i] = img
	}

	pre := p.preprocessor(specialized)

	var (
		parts    []imageResult
		skipped  []string
		firstErr error
	)
	for i, img := range decoded {
		name := imageName(images[i], i)
		p.update(gen, func(s *ProcessingState) {
			s.Progress = i * 100 / len(decoded)
			s.Status = fmt.Sprintf("Processing image %d of %d", i+1, len(decoded))
		})

		part, err := p.processImage(ctx, router, pre, mode, name, img)
		if !p.isCurrent(gen) {
			return nil, ErrTerminated
		}
		if err != nil {
			var perr *ProcessingError
			if len(decoded) == 1 || !errors.As(err, &perr) || perr.Stage != StagePreprocess {
				return nil, p.finish(gen, err)
			}
			slog.Warn("Skipping image that could not be preprocessed", "image", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			skipped = append(skipped, name)
			continue
		}
		parts = append(parts, *part)
	}
	if len(parts) == 0 {
		return nil, p.finish(gen, firstErr)
	}

	res := aggregate(parts)
	res.ID = p.idGenerator.Generate()
	res.Skipped = skipped
	res.ProcessingTimeMs = p.timeSource.Now().Sub(start).Milliseconds()
	p.finish(gen, nil)

	slog.Info("Processed receipt",
		"id", res.ID,
		"images", len(images),
		"transactions", len(res.Transactions),
		"confidence", res.Confidence,
		"engine", res.Engine,
		"duration_ms", res.ProcessingTimeMs,
	)
	return res, nil
}

// processImage runs the single-image pipeline on a decoded image
func (p *Pipeline) processImage(ctx context.Context, router *ocr.Router, pre *preprocess.Preprocessor, mode ProcessingMode, name string, img image.Image) (*imageResult, error) {
	prepared, err := pre.Process(ctx, img)
	if err != nil {
		return nil, &ProcessingError{Image: name, Stage: StagePreprocess, Err: err}
	}

	rec, err := router.Recognize(ctx, prepared.Image)
	if err != nil {
		return nil, &ProcessingError{Image: name, Stage: StageOCR, Err: err}
	}
	ocrConfidence := rec.Result.Confidence

	fields := p.extractor.Extract(rec.Result.Text, ocrConfidence)

	if p.cfg.Invoices != nil {
		// QR codes decode better from the original than the thresholded image
		inv, err := p.cfg.Invoices.Scan(img)
		if err != nil {
			slog.Debug("No e-invoice code found", "image", name, "error", err)
		} else {
			inv.Apply(fields, ocrConfidence)
			slog.Debug("Applied e-invoice", "image", name, "invoice", inv.Number)
		}
	}

	if mode == ModeEnhanced && p.cfg.Semantic != nil {
		sem, err := p.cfg.Semantic.ParseReceiptText(ctx, rec.Result.Text)
		if err != nil {
			slog.Warn("Semantic extraction failed, using heuristic fields", "image", name, "error", err)
		} else {
			fields = semantic.Merge(fields, sem, ocrConfidence)
		}
	}

	slog.Debug("Extracted receipt fields",
		"image", name,
		"engine", rec.Engine,
		"script", rec.Script.String(),
		"ocr_confidence", ocrConfidence,
		"merchant", fields.Merchant,
		"total", fields.Total.StringFixed(2),
		"currency", fields.Currency,
		"items", len(fields.Items),
	)

	return &imageResult{
		Name:         name,
		RawText:      rec.Result.Text,
		Engine:       rec.Engine,
		Confidence:   fields.Confidence,
		Transactions: ToTransactions(fields),
	}, nil
}

// preprocessor uses the specialized engine for orientation when it can
// report one
func (p *Pipeline) preprocessor(specialized ocr.Backend) *preprocess.Preprocessor {
	opts := p.cfg.Preprocess
	if opts.Orientation == nil {
		if d, ok := specialized.(preprocess.OrientationDetector); ok {
			opts.Orientation = d
		}
	}
	return preprocess.New(opts)
}

// finish records the end of a run and returns err
func (p *Pipeline) finish(gen int, err error) error {
	p.update(gen, func(s *ProcessingState) {
		s.IsProcessing = false
		if err != nil {
			slog.Error("Failed to process receipt", "error", err)
			s.Status = "Failed"
			s.LastError = err.Error()
			return
		}
		s.Progress = 100
		s.Status = "Done"
	})
	return err
}

// Terminate closes the OCR engines and resets the state. A call in flight
// finishes its current OCR invocation and then returns ErrTerminated.
func (p *Pipeline) Terminate() {
	p.mu.Lock()
	general, specialized := p.general, p.specialized
	p.general, p.specialized, p.router = nil, nil, nil
	p.languages = nil
	p.generation++
	p.state = ProcessingState{}
	p.broadcastLocked()
	p.mu.Unlock()

	closeBackends(general, specialized)
	slog.Info("OCR engines terminated")
}

// CanProcessOffline reports whether receipts can be processed without
// downloading anything: the engines are running, or the Latin model is
// already installed.
func (p *Pipeline) CanProcessOffline() bool {
	if p.State().IsReady {
		return true
	}
	return p.cfg.Models.Installed("eng")
}

// InstalledModels lists the language models available offline
func (p *Pipeline) InstalledModels() ([]*ModelRecord, error) {
	models, err := p.cfg.Models.List()
	if err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return models, nil
}

// RemoveModel deletes an installed language model. Models loaded by the
// running engines cannot be removed until Terminate.
func (p *Pipeline) RemoveModel(language string) error {
	p.mu.Lock()
	inUse := slices.Contains(p.languages, language)
	p.mu.Unlock()
	if inUse {
		return fmt.Errorf("removing %s model: %w", language, ErrModelInUse)
	}
	return p.cfg.Models.Remove(language)
}

// PreloadModels installs the language models for scripts ahead of
// Initialize, and optionally loads the semantic model.
func (p *Pipeline) PreloadModels(ctx context.Context, scripts []ocr.ScriptHint, includeSemantic bool) error {
	if err := p.cfg.Models.Install(ctx, ocr.LanguagesFor(scripts)); err != nil {
		return fmt.Errorf("preloading language models: %w", err)
	}
	if !includeSemantic {
		return nil
	}

	pl, ok := p.cfg.Semantic.(semantic.Preloader)
	if !ok {
		slog.Debug("Semantic extractor does not support preloading")
		return nil
	}
	if err := pl.Preload(ctx); err != nil {
		return fmt.Errorf("preloading semantic model: %w", err)
	}
	return nil
}

// State returns a snapshot of the processing state
func (p *Pipeline) State() ProcessingState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subscribe returns a channel receiving the current state and every later
// change, and a function that unsubscribes and closes it. Updates are
// dropped for subscribers that fall too far behind.
func (p *Pipeline) Subscribe() (<-chan ProcessingState, func()) {
	ch := make(chan ProcessingState, subscriberBuffer)

	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	ch <- p.state
	p.mu.Unlock()

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.subscribers[ch]; ok {
			delete(p.subscribers, ch)
			close(ch)
		}
	}
}

// Close terminates the engines, stops the worker and closes all subscriptions
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		p.Terminate()

		p.mu.Lock()
		for ch := range p.subscribers {
			delete(p.subscribers, ch)
			close(ch)
		}
		p.mu.Unlock()
	})
	return nil
}

func (p *Pipeline) update(gen int, fn func(*ProcessingState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.generation {
		return
	}
	fn(&p.state)
	p.broadcastLocked()
}

func (p *Pipeline) broadcastLocked() {
	for ch := range p.subscribers {
		select {
		case ch <- p.state:
		default:
		}
	}
}

func (p *Pipeline) currentGeneration() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

func (p *Pipeline) isCurrent(gen int) bool {
	return p.currentGeneration() == gen
}

func closeBackends(backends ...ocr.Backend) {
	for _, b := range backends {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil {
			slog.Warn("Failed to close OCR engine", "engine", b.Name(), "error", err)
		}
	}
}

func imageName(img Image, i int) string {
	if img.Name != "" {
		return img.Name
	}
	return fmt.Sprintf("image-%d", i+1)
}

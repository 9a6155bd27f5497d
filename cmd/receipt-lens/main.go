package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-lens/internal/einvoice"
	"github.com/zombor/receipt-lens/internal/ocr"
	"github.com/zombor/receipt-lens/internal/receipt"
	"github.com/zombor/receipt-lens/internal/semantic"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-lens")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		dbPath      = fs.StringLong("db", "receipt-lens.db", "Database file path")
		modelsDir   = fs.StringLong("models-dir", "./tessdata", "Directory holding Tesseract traineddata files")
		tessdataURL = fs.StringLong("tessdata-url", receipt.DefaultModelURL, "Base URL to download missing traineddata from (empty disables downloads)")
		scripts     = fs.StringLong("scripts", "", "Comma separated scripts to load: latin, traditional-chinese, japanese")
		engineMode  = fs.StringLong("engine", "", "OCR engine mode: 'tesseract', 'specialized' or 'auto'")
		procMode    = fs.StringLong("mode", "", "Processing mode: 'basic' or 'enhanced'")
		paddleURL   = fs.StringLong("paddle-url", "", "PaddleOCR serving URL for CJK receipts (optional)")
		ollamaURL   = fs.StringLong("ollama-url", semantic.DefaultOllamaURL, "Ollama API base URL for enhanced mode")
		ollamaModel = fs.StringLong("ollama-model", "llama3.2:3b", "Ollama model name (e.g., llama3.2:3b, qwen2.5:3b, phi3:mini)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_LENS"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	cfg := receipt.Config{
		Engines:  &engineFactory{paddleURL: *paddleURL},
		Semantic: semantic.NewOllama(*ollamaURL, *ollamaModel),
		Invoices: einvoice.NewScanner(),
	}
	if *engineMode != "" {
		mode, err := ocr.ParseEngineMode(*engineMode)
		if err != nil {
			slog.Error("Invalid engine mode", "error", err)
			os.Exit(1)
		}
		cfg.EngineMode = mode
	}
	if *procMode != "" {
		mode, err := receipt.ParseProcessingMode(*procMode)
		if err != nil {
			slog.Error("Invalid processing mode", "error", err)
			os.Exit(1)
		}
		cfg.ProcessingMode = mode
	}

	// Initialize database
	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	cfg.DB = db

	// Initialize model storage
	slog.Info("Initializing model storage...", "dir", *modelsDir)
	store, err := receipt.NewLocalStorage(*modelsDir)
	if err != nil {
		slog.Error("Failed to initialize model storage", "error", err)
		os.Exit(1)
	}
	cfg.Models = receipt.NewModelInstaller(*tessdataURL, store, db)

	pipeline, err := receipt.NewPipeline(cfg)
	if err != nil {
		slog.Error("Failed to create pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	// flags win over stored scripts, but only when given
	hints := pipeline.Preferences().Scripts
	if *scripts != "" {
		hints = ocr.ParseScriptHints(*scripts)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if files := fs.GetArgs(); len(files) > 0 {
		if err := scanFiles(ctx, pipeline, hints, files); err != nil {
			slog.Error("Failed to process receipt", "error", err)
			pipeline.Close()
			db.Close()
			os.Exit(1)
		}
		return
	}

	// Initialize server
	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(pipeline, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Warm up in the background so the first scan does not pay for it
	go func() {
		if err := pipeline.Initialize(ctx, hints); err != nil {
			slog.Warn("OCR engines not ready; POST /api/initialize to retry", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()

	slog.Info("Shutting down...")
}

// scanFiles processes the given images as one receipt and prints the result
func scanFiles(ctx context.Context, pipeline *receipt.Pipeline, hints []ocr.ScriptHint, files []string) error {
	if err := pipeline.Initialize(ctx, hints); err != nil {
		return err
	}

	images := make([]receipt.Image, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading %s: %w", file, err)
		}
		images = append(images, receipt.Image{
			Name:        filepath.Base(file),
			Data:        data,
			ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(file))),
		})
	}

	var (
		result *receipt.ProcessingResult
		err    error
	)
	if len(images) == 1 {
		result, err = pipeline.ProcessReceipt(ctx, images[0])
	} else {
		result, err = pipeline.ProcessMultipleImages(ctx, images)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

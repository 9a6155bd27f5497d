package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/receipt-lens/internal/ocr"
)

// maxFormSize bounds a scan upload (high-resolution phone photos)
const maxFormSize = int64(50 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v as a JSON response with CORS headers set
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{
		"error": message,
	})
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) int {
	var (
		perr *ProcessingError
		eerr *EngineError
	)
	switch {
	case errors.Is(err, ErrBusy), errors.Is(err, ErrTerminated), errors.Is(err, ErrModelInUse):
		return http.StatusConflict
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &perr):
		switch perr.Stage {
		case StageDecode:
			return http.StatusBadRequest
		case StagePreprocess:
			return http.StatusUnprocessableEntity
		}
	case errors.As(err, &eerr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleScan runs the pipeline on one or more uploaded images of a receipt
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			errorMsg = "Upload is too large. Maximum size is 50MB. Please compress or resize your images."
		}
		writeError(w, errorMsg, http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, "No file was selected. Please choose at least one image.", http.StatusBadRequest)
		return
	}

	images := make([]Image, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			slog.Error("Error opening uploaded file", "error", err, "filename", header.Filename)
			writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
			return
		}

		images = append(images, Image{
			Name:        header.Filename,
			Data:        data,
			ContentType: contentTypeFor(header.Header.Get("Content-Type"), header.Filename),
		})
	}

	var (
		result *ProcessingResult
		err    error
	)
	if len(images) == 1 {
		result, err = s.pipeline.ProcessReceipt(r.Context(), images[0])
	} else {
		result, err = s.pipeline.ProcessMultipleImages(r.Context(), images)
	}
	if err != nil {
		slog.Error("Error processing receipt", "images", len(images), "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// contentTypeFor normalizes the declared type, falling back to the extension
func contentTypeFor(declared, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(declared))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

type statusResponse struct {
	State             ProcessingState `json:"state"`
	CanProcessOffline bool            `json:"can_process_offline"`
	Preferences       *Preferences    `json:"preferences"`
}

// handleStatus returns the processing state
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:             s.pipeline.State(),
		CanProcessOffline: s.pipeline.CanProcessOffline(),
		Preferences:       s.pipeline.Preferences(),
	})
}

// handleEvents streams state changes as server-sent events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	states, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()

	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case state, ok := <-states:
			if !ok {
				return
			}
			data, err := json.Marshal(state)
			if err != nil {
				slog.Error("Error encoding state", "error", err)
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleGetPreferences returns the stored settings
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pipeline.Preferences())
}

// handleUpdatePreferences changes the engine and/or processing mode
func (s *Server) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EngineMode     *string `json:"engine_mode"`
		ProcessingMode *string `json:"processing_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// validate everything before changing anything
	var (
		engineMode     ocr.EngineMode
		processingMode ProcessingMode
		err            error
	)
	if req.EngineMode != nil {
		if engineMode, err = ocr.ParseEngineMode(*req.EngineMode); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.ProcessingMode != nil {
		if processingMode, err = ParseProcessingMode(*req.ProcessingMode); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if req.EngineMode != nil {
		if err := s.pipeline.SetEngineMode(engineMode); err != nil {
			slog.Error("Error saving engine mode", "error", err)
			writeError(w, "Error saving preferences", http.StatusInternalServerError)
			return
		}
	}
	if req.ProcessingMode != nil {
		if err := s.pipeline.SetProcessingMode(processingMode); err != nil {
			slog.Error("Error saving processing mode", "error", err)
			writeError(w, "Error saving preferences", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, s.pipeline.Preferences())
}

type scriptsRequest struct {
	Scripts         []string `json:"scripts"`
	IncludeSemantic bool     `json:"include_semantic"`
}

// decodeScripts reads an optional scripts body. Without one the stored
// scripts are used.
func (s *Server) decodeScripts(r *http.Request) (*scriptsRequest, []ocr.ScriptHint, error) {
	var req scriptsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, err
	}
	if req.Scripts == nil {
		return &req, s.pipeline.Preferences().Scripts, nil
	}
	return &req, ocr.ParseScriptHints(strings.Join(req.Scripts, ",")), nil
}

// handleInitialize starts the OCR engines
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	_, scripts, err := s.decodeScripts(r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.pipeline.Initialize(r.Context(), scripts); err != nil {
		slog.Error("Error initializing pipeline", "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, s.pipeline.State())
}

// handlePreloadModels downloads models ahead of initialization
func (s *Server) handlePreloadModels(w http.ResponseWriter, r *http.Request) {
	req, scripts, err := s.decodeScripts(r)
	if err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.pipeline.PreloadModels(r.Context(), scripts, req.IncludeSemantic); err != nil {
		slog.Error("Error preloading models", "error", err)
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}

	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleListModels returns the installed language models
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.pipeline.InstalledModels()
	if err != nil {
		slog.Error("Error listing models", "error", err)
		writeError(w, "Error listing models", http.StatusInternalServerError)
		return
	}
	if models == nil {
		models = []*ModelRecord{}
	}
	writeJSON(w, http.StatusOK, models)
}

// handleDeleteModel removes an installed language model
func (s *Server) handleDeleteModel(w http.ResponseWriter, r *http.Request) {
	language := r.PathValue("language")
	if err := s.pipeline.RemoveModel(language); err != nil {
		slog.Error("Error removing model", "language", language, "error", err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleTerminate shuts the OCR engines down
func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	s.pipeline.Terminate()
	writeJSON(w, http.StatusOK, s.pipeline.State())
}

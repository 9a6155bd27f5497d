package receipt

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a call arrives while another one is running
	ErrBusy = errors.New("pipeline is busy")
	// ErrNotReady is returned when processing is requested before initialize
	ErrNotReady = errors.New("pipeline is not initialized")
	// ErrTerminated is returned by a run that was cut short by Terminate
	ErrTerminated = errors.New("pipeline was terminated")
	// ErrClosed is returned once the pipeline worker has stopped
	ErrClosed = errors.New("pipeline is closed")
	// ErrModelInUse is returned when removing a model the running engines loaded
	ErrModelInUse = errors.New("language model is in use")
)

// EngineError reports an OCR engine that could not be initialized
type EngineError struct {
	Engine string
	Err    error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("initializing %s engine: %v", e.Engine, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Stage is the pipeline step a ProcessingError happened in
type Stage string

const (
	StageDecode     Stage = "decode"
	StagePreprocess Stage = "preprocess"
	StageOCR        Stage = "ocr"
)

// ProcessingError reports an image that could not be processed
type ProcessingError struct {
	Image string
	Stage Stage
	Err   error
}

func (e *ProcessingError) Error() string {
	if e.Image == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Image, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

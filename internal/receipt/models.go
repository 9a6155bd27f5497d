package receipt

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultModelURL serves the fast integer Tesseract models
const DefaultModelURL = "https://github.com/tesseract-ocr/tessdata_fast/raw/main"

// maxModelSize bounds a single traineddata download
const maxModelSize = 256 << 20

// ModelInstaller downloads Tesseract language models once and keeps them in
// local storage. Concurrent requests for the same language share a download.
type ModelInstaller struct {
	baseURL    string
	storage    Storage
	db         DB
	client     *http.Client
	timeSource TimeSource
	group      singleflight.Group
}

// NewModelInstaller creates a ModelInstaller. An empty baseURL disables
// downloads, so only models already in storage can be used.
func NewModelInstaller(baseURL string, storage Storage, db DB) *ModelInstaller {
	return NewModelInstallerWithDeps(baseURL, storage, db, &http.Client{Timeout: 10 * time.Minute}, &defaultTimeSource{})
}

// NewModelInstallerWithDeps creates a ModelInstaller with custom dependencies for testing
func NewModelInstallerWithDeps(baseURL string, storage Storage, db DB, client *http.Client, timeSrc TimeSource) *ModelInstaller {
	return &ModelInstaller{
		baseURL:    strings.TrimRight(baseURL, "/"),
		storage:    storage,
		db:         db,
		client:     client,
		timeSource: timeSrc,
	}
}

// Dir is where installed models live
func (m *ModelInstaller) Dir() string {
	return m.storage.Dir()
}

// Installed reports whether a language model is recorded and on disk
func (m *ModelInstaller) Installed(language string) bool {
	rec, err := m.db.GetModel(language)
	if err != nil {
		return false
	}
	return m.storage.Exists(rec.Filename)
}

// Install makes sure every language model is available locally
func (m *ModelInstaller) Install(ctx context.Context, languages []string) error {
	for _, lang := range languages {
		if m.Installed(lang) {
			continue
		}
		_, err, shared := m.group.Do(lang, func() (any, error) {
			return nil, m.install(ctx, lang)
		})
		if err != nil {
			return fmt.Errorf("installing %s model: %w", lang, err)
		}
		if shared {
			slog.Debug("Joined in-flight model download", "language", lang)
		}
	}
	return nil
}

// List returns the installed models in language order
func (m *ModelInstaller) List() ([]*ModelRecord, error) {
	return m.db.ListModels()
}

// Remove deletes a language model from storage and forgets it
func (m *ModelInstaller) Remove(language string) error {
	rec, err := m.db.GetModel(language)
	if err != nil {
		return err
	}
	if m.storage.Exists(rec.Filename) {
		if err := m.storage.Delete(rec.Filename); err != nil {
			return fmt.Errorf("removing %s model: %w", language, err)
		}
	}
	if err := m.db.DeleteModel(language); err != nil {
		return fmt.Errorf("removing %s model: %w", language, err)
	}
	slog.Info("Removed language model", "language", language)
	return nil
}

// install records a model already present in storage, or downloads it
func (m *ModelInstaller) install(ctx context.Context, lang string) error {
	filename := lang + ".traineddata"

	var (
		data   []byte
		source string
		err    error
	)
	if m.storage.Exists(filename) {
		// placed by hand or left over from an earlier database
		if data, err = m.storage.Get(filename); err != nil {
			return err
		}
		source = "local"
	} else {
		if m.baseURL == "" {
			return errors.New("model not installed and downloads are disabled")
		}
		source = m.baseURL + "/" + filename
		if data, err = m.download(ctx, source); err != nil {
			return err
		}
		if _, err := m.storage.Save(filename, data); err != nil {
			return fmt.Errorf("saving model: %w", err)
		}
	}

	sum := sha256.Sum256(data)
	rec := &ModelRecord{
		Language:    lang,
		Filename:    filename,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(sum[:]),
		Source:      source,
		InstalledAt: m.timeSource.Now(),
	}
	if err := m.db.SaveModel(rec); err != nil {
		return fmt.Errorf("recording model: %w", err)
	}

	slog.Info("Installed language model", "language", lang, "size", rec.Size, "source", source)
	return nil
}

func (m *ModelInstaller) download(ctx context.Context, url string) ([]byte, error) {
	slog.Info("Downloading language model", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading model: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxModelSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	if len(data) > maxModelSize {
		return nil, fmt.Errorf("model larger than %d bytes", maxModelSize)
	}
	if len(data) == 0 {
		return nil, errors.New("empty model file")
	}
	return data, nil
}

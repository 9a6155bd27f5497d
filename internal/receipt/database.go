package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/receipt-lens/internal/ocr"
)

const (
	preferencesBucketName = "preferences"
	modelsBucketName      = "models"

	preferencesKey = "pipeline"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Preferences are the persisted pipeline settings
type Preferences struct {
	EngineMode     ocr.EngineMode   `json:"engine_mode"`
	ProcessingMode ProcessingMode   `json:"processing_mode"`
	Scripts        []ocr.ScriptHint `json:"scripts,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// ModelRecord describes an installed OCR language model
type ModelRecord struct {
	Language    string    `json:"language"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	SHA256      string    `json:"sha256"`
	Source      string    `json:"source"`
	InstalledAt time.Time `json:"installed_at"`
}

// DB defines the interface for database operations
type DB interface {
	// SavePreferences stores the pipeline settings
	SavePreferences(prefs *Preferences) error

	// GetPreferences returns the stored settings, or ErrNotFound
	GetPreferences() (*Preferences, error)

	// SaveModel records an installed model
	SaveModel(model *ModelRecord) error

	// GetModel returns the record for a language, or ErrNotFound
	GetModel(language string) (*ModelRecord, error)

	// ListModels returns all installed models
	ListModels() ([]*ModelRecord, error)

	// DeleteModel forgets an installed model
	DeleteModel(language string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{preferencesBucketName, modelsBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SavePreferences stores the pipeline settings
func (b *BoltDB) SavePreferences(prefs *Preferences) error {
	return b.put(preferencesBucketName, preferencesKey, prefs)
}

// GetPreferences returns the stored settings
func (b *BoltDB) GetPreferences() (*Preferences, error) {
	var prefs *Preferences
	if err := b.get(preferencesBucketName, preferencesKey, &prefs); err != nil {
		return nil, err
	}
	return prefs, nil
}

// SaveModel records an installed model
func (b *BoltDB) SaveModel(model *ModelRecord) error {
	return b.put(modelsBucketName, model.Language, model)
}

// GetModel returns the record for a language
func (b *BoltDB) GetModel(language string) (*ModelRecord, error) {
	var model *ModelRecord
	if err := b.get(modelsBucketName, language, &model); err != nil {
		return nil, err
	}
	return model, nil
}

// ListModels returns all installed models ordered by language
func (b *BoltDB) ListModels() ([]*ModelRecord, error) {
	models := make([]*ModelRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(modelsBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var model ModelRecord
			if err := json.Unmarshal(v, &model); err != nil {
				return fmt.Errorf("unmarshaling model record: %w", err)
			}
			models = append(models, &model)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return models, nil
}

// DeleteModel forgets an installed model
func (b *BoltDB) DeleteModel(language string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(modelsBucketName)).Delete([]byte(language))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) put(bucketName, key string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", bucketName, err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), data)
	})
}

func (b *BoltDB) get(bucketName, key string, v any) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s %q: %w", bucketName, key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"

	"renderstudio/internal/domain"
	"renderstudio/internal/storage"
)

// RecordFile is the name of the job record inside each job folder.
const RecordFile = "meta.json"

// RecordStore reads and writes job records beneath the outputs root.
type RecordStore struct {
	files *storage.FileStore
}

// NewRecordStore wires a RecordStore over the shared file store.
func NewRecordStore(files *storage.FileStore) *RecordStore {
	return &RecordStore{files: files}
}

// Files exposes the underlying file store for artifact writes.
func (s *RecordStore) Files() *storage.FileStore {
	return s.files
}

// Root returns the outputs root directory.
func (s *RecordStore) Root() string {
	return s.files.BasePath()
}

// Resolve validates that folder is an existing directory under the outputs
// root and returns its storage key.
func (s *RecordStore) Resolve(folder string) (string, error) {
	key, err := s.files.Key(folder)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidFolder, folder)
	}
	if !s.files.IsDir(key) {
		return "", fmt.Errorf("%w: %s", domain.ErrInvalidFolder, folder)
	}
	return key, nil
}

// Read loads the record of the folder identified by key.
func (s *RecordStore) Read(ctx context.Context, key string) (domain.JobRecord, error) {
	var rec domain.JobRecord
	data, err := s.files.Read(ctx, path.Join(key, RecordFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return rec, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, key)
		}
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.JobRecord{}, fmt.Errorf("%w: %s: %v", domain.ErrRecordCorrupt, key, err)
	}
	return rec, nil
}

// Write replaces the record of the folder identified by key. The revision of
// rec is bumped before encoding.
func (s *RecordStore) Write(ctx context.Context, key string, rec *domain.JobRecord) error {
	rec.Revision++
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		rec.Revision--
		return fmt.Errorf("encode job record: %w", err)
	}
	if _, err := s.files.Write(ctx, path.Join(key, RecordFile), data); err != nil {
		rec.Revision--
		return fmt.Errorf("write job record: %w", err)
	}
	return nil
}

// WriteArtifact stores an artifact file inside the job folder and returns its
// absolute path.
func (s *RecordStore) WriteArtifact(ctx context.Context, key, name string, data []byte) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: artifact name %q", domain.ErrInvalidParameters, name)
	}
	cleanKey, err := s.files.Write(ctx, path.Join(key, name), data)
	if err != nil {
		return "", err
	}
	return s.files.Path(cleanKey)
}

// ReadArtifact loads an artifact file from the job folder.
func (s *RecordStore) ReadArtifact(ctx context.Context, key, name string) ([]byte, error) {
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: artifact name %q", domain.ErrInvalidParameters, name)
	}
	data, err := s.files.Read(ctx, path.Join(key, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, key, name)
		}
		return nil, err
	}
	return data, nil
}

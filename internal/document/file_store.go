package document

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"voicescribe/internal/common"
)

// FileStore persists documents as JSON files under baseDir/documents/<user>/<doc>.json.
// It is the single-node deployment backend; remote document services implement
// Store at their own boundary.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a store rooted at baseDir/documents.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: filepath.Join(baseDir, common.DocumentsDirName)}
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) path(documentID, userID string) string {
	return filepath.Join(s.baseDir, filepath.Base(userID), filepath.Base(documentID)+".json")
}

// Get loads a document. Returns ErrDocumentNotFound when the file does not exist.
func (s *FileStore) Get(ctx context.Context, documentID, userID string) (*Article, *Meta, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	p := s.path(documentID, userID)
	data, err := os.ReadFile(p) // #nosec G304 - path is derived from sanitized ids
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, documentID)
		}
		return nil, nil, fmt.Errorf("read document: %w", err)
	}
	var art Article
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, nil, fmt.Errorf("parse document %s: %w", documentID, err)
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, nil, fmt.Errorf("stat document: %w", err)
	}
	return &art, &Meta{OwnerID: userID, UpdatedAt: info.ModTime().UTC()}, nil
}

// Save writes the document back atomically (temp file + rename).
func (s *FileStore) Save(ctx context.Context, documentID, userID string, art *Article) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if art == nil {
		return fmt.Errorf("document is nil")
	}
	dir := filepath.Dir(s.path(documentID, userID))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ensure documents dir: %w", err)
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".doc-*")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(documentID, userID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace document: %w", err)
	}
	return nil
}

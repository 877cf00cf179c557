package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/smahud/traffic-buster/pkg/models"
)

// uploadMeta is persisted next to an upload's chunks so a finalize call can
// reconstruct what was being uploaded.
type uploadMeta struct {
	UserID string             `json:"userId"`
	Kind   models.DatasetKind `json:"kind"`
	Set    string             `json:"set"`
	Chunks int                `json:"chunks"`
}

func (s *Store) uploadDir(userID, uploadID string) string {
	return filepath.Join(s.usersDir, userID, datasetsDirName, tmpDirName, uploadID)
}

func (s *Store) loadUploadMeta(userID, uploadID string) (uploadMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.uploadDir(userID, uploadID), "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return uploadMeta{}, fmt.Errorf("%w: upload %s", ErrNotFound, uploadID)
		}
		return uploadMeta{}, fmt.Errorf("failed to read upload meta: %w", err)
	}
	var meta uploadMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return uploadMeta{}, fmt.Errorf("upload meta is corrupt: %w", err)
	}
	return meta, nil
}

func (s *Store) saveUploadMeta(userID, uploadID string, meta uploadMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.uploadDir(userID, uploadID), "meta.json"), data, 0o644)
}

// BeginUpload opens a chunked upload session for one dataset and returns its
// upload id.
func (s *Store) BeginUpload(userID string, kind models.DatasetKind, set string) (string, error) {
	if !models.ValidKind(kind) {
		return "", fmt.Errorf("unknown dataset kind %q", kind)
	}
	if SanitizeSetName(set) == "" {
		return "", errors.New("dataset set name is required")
	}

	uploadID := "ul_" + uuid.NewString()
	dir := filepath.Join(s.uploadDir(userID, uploadID), "chunks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}
	meta := uploadMeta{UserID: userID, Kind: kind, Set: set}
	if err := s.saveUploadMeta(userID, uploadID, meta); err != nil {
		return "", fmt.Errorf("failed to save upload meta: %w", err)
	}
	return uploadID, nil
}

// AppendChunk stores one chunk of the upload body.
func (s *Store) AppendChunk(userID, uploadID string, index int, data []byte) error {
	if index < 0 || index >= maxChunks {
		return fmt.Errorf("chunk index %d out of range", index)
	}
	meta, err := s.loadUploadMeta(userID, uploadID)
	if err != nil {
		return err
	}
	chunkPath := filepath.Join(s.uploadDir(userID, uploadID), "chunks", fmt.Sprintf("%06d", index))
	if err := os.WriteFile(chunkPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk %d: %w", index, err)
	}
	if index+1 > meta.Chunks {
		meta.Chunks = index + 1
		return s.saveUploadMeta(userID, uploadID, meta)
	}
	return nil
}

// FinalizeUpload concatenates the chunks in index order, normalizes the
// resulting payload and persists the dataset. The upload session is removed
// on success. Returns the number of items kept.
func (s *Store) FinalizeUpload(userID, uploadID string) (int, error) {
	meta, err := s.loadUploadMeta(userID, uploadID)
	if err != nil {
		return 0, err
	}

	var body bytes.Buffer
	for i := 0; i < meta.Chunks; i++ {
		chunk, err := os.ReadFile(filepath.Join(s.uploadDir(userID, uploadID), "chunks", fmt.Sprintf("%06d", i)))
		if err != nil {
			return 0, fmt.Errorf("upload %s is missing chunk %d: %w", uploadID, i, err)
		}
		body.Write(chunk)
	}
	if body.Len() == 0 {
		return 0, fmt.Errorf("upload %s has no data", uploadID)
	}

	kept, err := s.Save(userID, meta.Kind, meta.Set, body.Bytes())
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(s.uploadDir(userID, uploadID)); err != nil {
		// The dataset landed; a leftover tmp dir is only disk noise.
		return kept, nil
	}
	return kept, nil
}

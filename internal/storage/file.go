package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// fileRecord is the on-disk shape of a User. Absent email and hash are written as null.
type fileRecord struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        *string   `json:"email"`
	PasswordHash *string   `json:"passwordHash"`
	Provider     Provider  `json:"provider"`
	AvatarURL    string    `json:"avatarUrl"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
}

// FileRepository keeps the user collection in a single JSON document.
type FileRepository struct {
	path string
}

// NewFileRepository prepares a repository at path, creating its directory.
// The file itself is created on the first save.
func NewFileRepository(path string) (*FileRepository, error) {
	if path == "" {
		path = "users.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create users dir: %w", err)
	}
	return &FileRepository{path: path}, nil
}

// Path returns the document location.
func (r *FileRepository) Path() string {
	return r.path
}

// LoadAll reads the whole document. A missing or blank file is an empty store.
func (r *FileRepository) LoadAll(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []User{}, nil
		}
		return nil, fmt.Errorf("read users: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []User{}, nil
	}
	var records []fileRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse users: %w", err)
	}
	users := make([]User, 0, len(records))
	for _, rec := range records {
		users = append(users, User{
			ID:           rec.ID,
			Name:         rec.Name,
			Email:        deref(rec.Email),
			PasswordHash: deref(rec.PasswordHash),
			Provider:     rec.Provider,
			AvatarURL:    rec.AvatarURL,
			CreatedAt:    rec.CreatedAt,
		})
	}
	return users, nil
}

// SaveAll rewrites the document. The new content goes to a temp file that is
// renamed over the old one, so a failed write leaves the previous state intact.
func (r *FileRepository) SaveAll(ctx context.Context, users []User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := make([]fileRecord, 0, len(users))
	for _, u := range users {
		records = append(records, fileRecord{
			ID:           u.ID,
			Name:         u.Name,
			Email:        ref(u.Email),
			PasswordHash: ref(u.PasswordHash),
			Provider:     u.Provider,
			AvatarURL:    u.AvatarURL,
			CreatedAt:    u.CreatedAt,
		})
	}
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode users: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".users-*.json")
	if err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err = tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write users: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write users: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	if err = os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("write users: %w", err)
	}
	return nil
}

func (r *FileRepository) Close() error {
	return nil
}

func ref(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

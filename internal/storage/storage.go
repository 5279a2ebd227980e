package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidObjectName = errors.New("invalid object name")

// Storage defines the interface for file storage backends
type Storage interface {
	URL(objectName string) string
	Put(ctx context.Context, objectName string, reader io.Reader) (int64, error)
	Get(ctx context.Context, objectName string) (io.ReadCloser, error)
	Delete(ctx context.Context, objectName string) error
}

// LocalStorage implements Storage using local filesystem
type LocalStorage struct {
	baseDir string
	baseURL string
}

// NewLocalStorage creates a new local filesystem storage backend
func NewLocalStorage(baseDir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{
		baseDir: baseDir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *LocalStorage) URL(objectName string) string {
	return fmt.Sprintf("%s/files/%s", s.baseURL, objectName)
}

func (s *LocalStorage) resolve(objectName string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(objectName))
	if clean == "." || filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectName, objectName)
	}
	return filepath.Join(s.baseDir, clean), nil
}

func (s *LocalStorage) Put(ctx context.Context, objectName string, reader io.Reader) (int64, error) {
	fullPath, err := s.resolve(objectName)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	n, err := io.Copy(file, reader)
	if err != nil {
		return n, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

func (s *LocalStorage) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(objectName)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (s *LocalStorage) Delete(ctx context.Context, objectName string) error {
	fullPath, err := s.resolve(objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CalculateSHA256 calculates SHA256 hash of file content
func CalculateSHA256(reader io.Reader) (string, error) {
	hash := sha256.New()
	if _, err := io.Copy(hash, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

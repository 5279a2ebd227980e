package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"sitecheck/internal/db"
	"sitecheck/internal/storage"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// UploadInput is one file posted to a project
type UploadInput struct {
	ProjectID   string
	EntityType  string
	EntityID    string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// FileService stores uploads under a FilePolicy and records their metadata
type FileService struct {
	queries *db.Queries
	store   storage.Storage
	policy  *storage.FilePolicy
	log     *zap.Logger
}

func NewFileService(queries *db.Queries, store storage.Storage, policy *storage.FilePolicy, log *zap.Logger) *FileService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileService{
		queries: queries,
		store:   store,
		policy:  policy,
		log:     log,
	}
}

// Upload validates and stores one file. The content type is sniffed when
// the client did not send a specific one.
func (s *FileService) Upload(ctx context.Context, in UploadInput) (*storage.FileMetadata, error) {
	name := storage.SanitizeFileName(in.FileName)

	limit := int64(-1)
	if s.policy != nil && s.policy.MaxFileBytes > 0 {
		limit = s.policy.MaxFileBytes
	}
	reader := in.Body
	if limit > 0 {
		reader = io.LimitReader(in.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}

	contentType := in.ContentType
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	if err := s.policy.ValidateFile(name, contentType, int64(len(data))); err != nil {
		return nil, err
	}

	sum, err := storage.CalculateSHA256(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to hash upload: %w", err)
	}

	objectName := storage.ObjectName(in.ProjectID, in.EntityType, in.EntityID, strings.ToLower(ulid.Make().String()), name)
	n, err := s.store.Put(ctx, objectName, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	meta := storage.FileMetadata{
		StoragePath: objectName,
		Name:        name,
		URL:         s.store.URL(objectName),
		Size:        n,
		MIME:        contentType,
		SHA256:      sum,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
	}
	if err := s.queries.CreateFile(ctx, meta); err != nil {
		_ = s.store.Delete(ctx, objectName)
		return nil, fmt.Errorf("failed to record upload: %w", err)
	}

	s.log.Debug("File stored",
		zap.String("storage_path", objectName),
		zap.Int64("size", n),
		zap.String("mime", contentType),
	)
	return &meta, nil
}

// Open returns a stored file and its metadata. The caller closes the reader.
func (s *FileService) Open(ctx context.Context, storagePath string) (*storage.FileMetadata, io.ReadCloser, error) {
	meta, err := s.queries.GetFileByPath(ctx, storagePath)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Get(ctx, meta.StoragePath)
	if err != nil {
		return nil, nil, err
	}
	return &meta, rc, nil
}

package storage

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

var (
	ErrFileTooLarge   = errors.New("file too large")
	ErrTypeNotAllowed = errors.New("file type not allowed")
)

// DefaultMaxFileBytes is the per-file ceiling applied to photos
const DefaultMaxFileBytes int64 = 5 << 20

// FilePolicy represents file upload policy constraints
type FilePolicy struct {
	MaxFileBytes int64    `json:"maxFileBytes,omitempty"`
	MimeTypes    []string `json:"mime,omitempty"`
	Extensions   []string `json:"extensions,omitempty"`
}

// ImagePolicy accepts any image/* file up to maxBytes
func ImagePolicy(maxBytes int64) *FilePolicy {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	return &FilePolicy{
		MaxFileBytes: maxBytes,
		MimeTypes:    []string{"image/*"},
	}
}

// WithExtensions returns a copy restricted to the given extensions
func (fp *FilePolicy) WithExtensions(exts ...string) *FilePolicy {
	out := *fp
	out.Extensions = make([]string, 0, len(exts))
	for _, e := range exts {
		// Normalize extensions (remove leading dot if present)
		out.Extensions = append(out.Extensions, strings.ToLower(strings.TrimPrefix(e, ".")))
	}
	return &out
}

// ValidateFile validates a file against the policy
func (fp *FilePolicy) ValidateFile(fileName, contentType string, fileSizeBytes int64) error {
	if fp == nil {
		return nil // No policy means no restrictions
	}

	if fp.MaxFileBytes > 0 && fileSizeBytes > fp.MaxFileBytes {
		return fmt.Errorf("%w: %d bytes exceeds maximum %d bytes (%.2f MB)",
			ErrFileTooLarge, fileSizeBytes, fp.MaxFileBytes, float64(fp.MaxFileBytes)/(1024*1024))
	}

	if len(fp.MimeTypes) > 0 && !fp.matchesMimeType(contentType) {
		return fmt.Errorf("%w: content type %q, allowed %v", ErrTypeNotAllowed, contentType, fp.MimeTypes)
	}

	if len(fp.Extensions) > 0 && !fp.matchesExtension(fileName) {
		return fmt.Errorf("%w: extension of %q, allowed %v", ErrTypeNotAllowed, fileName, fp.Extensions)
	}

	return nil
}

// matchesMimeType checks if contentType matches any of the allowed MIME type patterns
func (fp *FilePolicy) matchesMimeType(contentType string) bool {
	// Handle parameters like "image/png; charset=utf-8"
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}

	for _, allowed := range fp.MimeTypes {
		// Support wildcard patterns like "image/*"
		if strings.HasSuffix(allowed, "/*") {
			prefix := strings.TrimSuffix(allowed, "/*")
			if strings.HasPrefix(mediaType, prefix+"/") {
				return true
			}
		} else if mediaType == allowed {
			return true
		}
	}
	return false
}

func (fp *FilePolicy) matchesExtension(fileName string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if ext == "" {
		return false
	}

	for _, allowed := range fp.Extensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

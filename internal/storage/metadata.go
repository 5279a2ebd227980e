package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// FileMetadata describes a stored upload
type FileMetadata struct {
	StoragePath string `json:"storagePath"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Size        int64  `json:"size"`
	MIME        string `json:"mime"`
	SHA256      string `json:"sha256,omitempty"`
	EntityType  string `json:"entityType,omitempty"`
	EntityID    string `json:"entityId,omitempty"`
}

// ValidateFileMetadata validates that file metadata has required fields
func ValidateFileMetadata(meta FileMetadata) error {
	if meta.StoragePath == "" {
		return fmt.Errorf("storage path is required")
	}
	if meta.Name == "" {
		return fmt.Errorf("file name is required")
	}
	if meta.Size < 0 {
		return fmt.Errorf("file size must be non-negative")
	}
	return nil
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFileName strips directories and unsafe characters from a client file name
func SanitizeFileName(name string) string {
	base := strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if base == "" || base == "." || base == "/" {
		return "upload.bin"
	}
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if len(base) > 80 {
		base = base[len(base)-80:]
	}
	return base
}

// ObjectName builds the storage path for an upload
func ObjectName(projectID, entityType, entityID, id, fileName string) string {
	parts := []string{"projects", SanitizeFileName(projectID)}
	if entityType != "" {
		parts = append(parts, SanitizeFileName(entityType))
	}
	if entityID != "" {
		parts = append(parts, SanitizeFileName(entityID))
	}
	parts = append(parts, id+"_"+SanitizeFileName(fileName))
	return path.Join(parts...)
}

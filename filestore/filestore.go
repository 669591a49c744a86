// Package filestore keeps uploaded attachment bytes. Posts only hold the file
// name; the lifecycle service decides when a file is written or removed.
package filestore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Store writes and removes opaque files by name.
type Store interface {
	Write(ctx context.Context, name string, data []byte) error
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// tokenBytes random bytes give a 48 character hex token.
const tokenBytes = 24

// extensions maps the accepted upload mime types to the stored extension.
var extensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"application/pdf": "pdf",
	"text/plain":      "txt",
}

// ExtensionFor returns the extension used for mimeType. Parameters such as
// "; charset=utf-8" are ignored.
func ExtensionFor(mimeType string) (string, bool) {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	ext, ok := extensions[base]
	return ext, ok
}

// AllowedMimeTypes lists the accepted mime types in stable order.
func AllowedMimeTypes() []string {
	types := make([]string, 0, len(extensions))
	for mimeType := range extensions {
		types = append(types, mimeType)
	}
	sort.Strings(types)
	return types
}

// GenerateToken returns a collision resistant random hex token.
func GenerateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewFileName derives "<token>.<ext>" for an upload of the given mime type.
func NewFileName(mimeType string) (string, error) {
	ext, ok := ExtensionFor(mimeType)
	if !ok {
		return "", fmt.Errorf("unsupported mime type %q", mimeType)
	}

	token, err := GenerateToken()
	if err != nil {
		return "", err
	}
	return token + "." + ext, nil
}

// validName rejects names that could escape the store root.
func validName(name string) error {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, `\`) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}

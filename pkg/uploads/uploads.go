// Package uploads stores item image artifacts. Filenames are derived
// from the owning item id plus a sanitized original name, so they cannot
// collide across items or escape the store root.
package uploads

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// FileInfo describes one stored artifact.
type FileInfo struct {
	Name    string
	ModTime time.Time
}

// FileStore is the artifact store behind item images.
type FileStore interface {
	// Save writes the upload and returns the derived filename. Saving
	// again with the same item and name overwrites in place.
	Save(ctx context.Context, itemID int64, originalName string, r io.Reader) (string, error)

	// Remove deletes an artifact. Removing a missing artifact is not an
	// error.
	Remove(ctx context.Context, filename string) error

	// Open returns the artifact content for serving.
	Open(ctx context.Context, filename string) (io.ReadCloser, error)

	// List enumerates stored artifacts for reconciliation.
	List(ctx context.Context) ([]FileInfo, error)
}

// allowedExtensions is the image type allow-list.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

// ErrUnsupportedType is returned for uploads outside the image allow-list.
var ErrUnsupportedType = fmt.Errorf("unsupported image type")

// ValidateType checks an original filename against the image allow-list
// without deriving a stored name, so callers can reject an upload before
// committing any other state.
func ValidateType(originalName string) error {
	base := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))
	if !allowedExtensions[ext] {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, ext)
	}
	return nil
}

// DeriveFilename builds the stored name for an upload: the item id plus
// the sanitized original base name. Path separators and any character
// outside [a-zA-Z0-9._-] are stripped, which also defeats traversal.
func DeriveFilename(itemID int64, originalName string) (string, error) {
	if err := ValidateType(originalName); err != nil {
		return "", err
	}
	base := filepath.Base(strings.ReplaceAll(originalName, "\\", "/"))
	ext := strings.ToLower(filepath.Ext(base))

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" {
		cleaned = "image"
	}
	return fmt.Sprintf("item-%d-%s%s", itemID, cleaned, ext), nil
}

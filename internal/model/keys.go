package model

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

const (
	// ImagePrefix holds images received inline by the upload endpoint.
	ImagePrefix = "images/"
	// UploadPrefix holds images written by clients through presigned URLs.
	UploadPrefix = "uploads/"
)

// NormalizeContentType lower-cases the media type, drops parameters and maps
// the non-standard image/jpg alias to image/jpeg.
func NormalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" || ct == "image/pjpeg" {
		return "image/jpeg"
	}
	return ct
}

// Extension returns the object key suffix for a whitelisted content type.
func Extension(contentType string) (string, error) {
	switch NormalizeContentType(contentType) {
	case "image/jpeg":
		return "jpg", nil
	case "image/png":
		return "png", nil
	default:
		return "", fmt.Errorf("no extension for content type %q", contentType)
	}
}

// ObjectKey derives the storage key from the scan identifier only; client
// supplied file names never reach the key.
func ObjectKey(prefix, scanID, contentType string) (string, error) {
	ext, err := Extension(contentType)
	if err != nil {
		return "", err
	}
	return prefix + scanID + "." + ext, nil
}

// ScanIDFromKey recovers the scan identifier from a key built by ObjectKey.
func ScanIDFromKey(key string) (string, error) {
	base := path.Base(key)
	id := strings.TrimSuffix(base, path.Ext(base))
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("object key %q does not name a scan: %w", key, err)
	}
	return parsed.String(), nil
}

package reel

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// BlobStore provides an interface for object storage backends.
// Objects are addressed by slash-separated paths; URLs handed out by ResolveURL
// use the object URL format so they can be mapped back with ObjectPathFromURL.
type BlobStore interface {
	// Upload stores size bytes read from r at path.
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error

	// ResolveURL returns the public URL of the object at path, or
	// ErrNotYetAvailable while a fresh upload is not yet served.
	ResolveURL(ctx context.Context, path string) (string, error)

	// Fetch writes the object's bytes to w. Returns ErrNotFound if it does not exist.
	Fetch(ctx context.Context, path string, w io.Writer) error

	// Delete removes the object. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, path string) error

	// Close releases the store's resources.
	Close() error
}

// objectMarker separates the bucket part of an object URL from the encoded path.
const objectMarker = "/o/"

// ObjectURL builds the URL of path in bucket:
//
//	<base>/v0/b/<bucket>/o/<percent-encoded path>?alt=media
func ObjectURL(base, bucket, objectPath string) string {
	return fmt.Sprintf("%s/v0/b/%s%s%s?alt=media",
		strings.TrimRight(base, "/"), url.PathEscape(bucket), objectMarker, url.PathEscape(objectPath))
}

// ObjectPathFromURL extracts the storage path from an object URL: it drops
// scheme and host, takes what follows the "/o/" marker and percent-decodes it.
func ObjectPathFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: parsing url: %v", ErrInvalidReference, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: url has no scheme: %q", ErrInvalidReference, raw)
	}

	// Skip past the bucket segment so a bucket literally named "o" is not
	// mistaken for the marker.
	rest := u.EscapedPath()
	if i := strings.Index(rest, "/b/"); i >= 0 {
		rest = rest[i+len("/b/"):]
		if j := strings.Index(rest, "/"); j >= 0 {
			rest = rest[j:]
		}
	}
	idx := strings.Index(rest, objectMarker)
	if idx < 0 {
		return "", fmt.Errorf("%w: url has no object marker: %q", ErrInvalidReference, raw)
	}

	p, err := url.PathUnescape(rest[idx+len(objectMarker):])
	if err != nil {
		return "", fmt.Errorf("%w: decoding object path: %v", ErrInvalidReference, err)
	}
	if err := ValidateObjectPath(p); err != nil {
		return "", err
	}
	return p, nil
}

// ValidateObjectPath rejects empty, absolute and parent-relative paths.
func ValidateObjectPath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty object path", ErrInvalidReference)
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: absolute object path: %q", ErrInvalidReference, p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: bad segment in object path: %q", ErrInvalidReference, p)
		}
	}
	return nil
}

// VideoExtension returns the extension of p without the dot, defaulting to "mp4".
func VideoExtension(p string) string {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	if ext == "" {
		return "mp4"
	}
	return strings.ToLower(ext)
}

// VideoContentType returns the content-type tag for a video extension.
func VideoContentType(ext string) string {
	switch ext {
	case "mov":
		return "video/quicktime"
	case "mkv":
		return "video/x-matroska"
	case "", "mp4", "m4v":
		return "video/mp4"
	default:
		return "video/" + ext
	}
}

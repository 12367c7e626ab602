package file

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Storage is a blob store addressed by keys and exposed through public URLs.
type Storage interface {
	// Delete removes the object stored under key. Missing objects yield ErrFileNotFound.
	Delete(ctx context.Context, key string) error
	// Exists reports whether an object is stored under key.
	Exists(ctx context.Context, key string) bool
	// URL returns the public URL of key.
	URL(key string) string
	// KeyFromURL maps a public URL produced by URL back to its key.
	KeyFromURL(rawURL string) (string, error)
}

// DeleteURL removes the object a public URL points at.
func DeleteURL(ctx context.Context, s Storage, rawURL string) error {
	key, err := s.KeyFromURL(rawURL)
	if err != nil {
		return err
	}
	return s.Delete(ctx, key)
}

// cleanKey normalises an object key and rejects traversal outside the store root.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" || strings.Contains(key, "\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, key)
		}
	}
	return path.Clean(key), nil
}

// keyFromURL strips baseURL from rawURL. Query strings and fragments are ignored so
// cache-busting suffixes on stored URLs still resolve.
func keyFromURL(baseURL, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrForeignURL, err)
	}
	u.RawQuery, u.Fragment = "", ""
	stripped := u.String()

	if !strings.HasPrefix(stripped, baseURL) {
		return "", fmt.Errorf("%w: %s", ErrForeignURL, rawURL)
	}
	key, err := url.PathUnescape(strings.TrimPrefix(stripped, baseURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return cleanKey(key)
}

func withSlash(s string) string {
	if s != "" && !strings.HasSuffix(s, "/") {
		return s + "/"
	}
	return s
}

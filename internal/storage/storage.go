// Package storage uploads images to an object store and reports stable
// public URLs.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// Store is the object-store contract.
type Store interface {
	Upload(ctx context.Context, data []byte, name, contentType string) (string, error)
	FileExists(ctx context.Context, name string) (bool, error)
	URL(name string) string
}

var extByType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
}

// Allowed reports whether contentType is an accepted image type.
func Allowed(contentType string) bool {
	_, ok := extByType[normalizeType(contentType)]
	return ok
}

func normalizeType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// ObjectName is content addressed, so re-uploads of the same bytes collide.
func ObjectName(data []byte, contentType string) string {
	sum := sha256.Sum256(data)
	return "images/" + hex.EncodeToString(sum[:]) + extByType[normalizeType(contentType)]
}

// GCS is a Store backed by a Google Cloud Storage bucket.
type GCS struct {
	client  *gcs.Client
	bucket  string
	baseURL string
}

// NewGCS creates a bucket client. credentials may be a file path, inline
// JSON, or empty for application default credentials.
func NewGCS(ctx context.Context, bucket, baseURL, credentials string) (*GCS, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: bucket is required")
	}
	opts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	if c := strings.TrimSpace(credentials); c != "" {
		if strings.HasPrefix(c, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(c)))
		} else {
			opts = append(opts, option.WithCredentialsFile(c))
		}
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: client: %w", err)
	}
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + bucket
	}
	return &GCS{client: client, bucket: bucket, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Close releases the client.
func (g *GCS) Close() error { return g.client.Close() }

// URL returns the public URL of name.
func (g *GCS) URL(name string) string { return g.baseURL + "/" + name }

// Upload writes data under name and returns its public URL.
func (g *GCS) Upload(ctx context.Context, data []byte, name, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(name).NewWriter(ctx)
	w.ContentType = normalizeType(contentType)
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: close %s: %w", name, err)
	}
	return g.URL(name), nil
}

// FileExists reports whether name is present in the bucket.
func (g *GCS) FileExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := g.client.Bucket(g.bucket).Object(name).Attrs(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: attrs %s: %w", name, err)
	}
	return true, nil
}

// Memory is an in-process Store for development and tests.
type Memory struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string][]byte
	Uploads int
}

// NewMemory creates an empty Memory store.
func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: strings.TrimRight(baseURL, "/"), objects: map[string][]byte{}}
}

func (m *Memory) URL(name string) string { return m.BaseURL + "/" + name }

func (m *Memory) Upload(_ context.Context, data []byte, name, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), data...)
	m.Uploads++
	return m.URL(name), nil
}

func (m *Memory) FileExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok, nil
}

// Put stores data under its content address unless already present and
// returns the public URL plus whether an upload happened.
func Put(ctx context.Context, s Store, data []byte, contentType string) (string, bool, error) {
	name := ObjectName(data, contentType)
	exists, err := s.FileExists(ctx, name)
	if err != nil {
		return "", false, err
	}
	if exists {
		return s.URL(name), false, nil
	}
	u, err := s.Upload(ctx, data, name, contentType)
	return u, err == nil, err
}

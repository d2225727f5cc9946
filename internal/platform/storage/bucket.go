package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
)

const publicURLHost = "https://storage.googleapis.com"

// ErrObjectNotFound is returned when a fetched or deleted object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// Bucket wraps a Cloud Storage bucket with object-level read, write, and
// delete operations plus URL ownership checks.
type Bucket struct {
	client *gcs.Client
	name   string
}

// NewBucket constructs a Bucket backed by the provided Cloud Storage client.
func NewBucket(client *gcs.Client, name string) (*Bucket, error) {
	if client == nil {
		return nil, errors.New("storage bucket: client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("storage bucket: bucket name is required")
	}
	return &Bucket{client: client, name: name}, nil
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	if b == nil {
		return ""
	}
	return b.name
}

// Write stores the payload under the given object path and returns its public URL.
func (b *Bucket) Write(ctx context.Context, object, contentType string, data []byte) (string, error) {
	if b == nil || b.client == nil {
		return "", errors.New("storage bucket: not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", errors.New("storage bucket: object path is required")
	}

	w := b.client.Bucket(b.name).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage bucket: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage bucket: finalise %s: %w", object, err)
	}
	return b.URL(object), nil
}

// Read fetches the object payload and its content type.
func (b *Bucket) Read(ctx context.Context, object string) ([]byte, string, error) {
	if b == nil || b.client == nil {
		return nil, "", errors.New("storage bucket: not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return nil, "", errors.New("storage bucket: object path is required")
	}

	r, err := b.client.Bucket(b.name).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("storage bucket: open %s: %w", object, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("storage bucket: read %s: %w", object, err)
	}
	return data, r.Attrs.ContentType, nil
}

// Delete removes the object. Missing objects map to ErrObjectNotFound so
// callers can decide whether absence counts as success.
func (b *Bucket) Delete(ctx context.Context, object string) error {
	if b == nil || b.client == nil {
		return errors.New("storage bucket: not initialised")
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return errors.New("storage bucket: object path is required")
	}

	err := b.client.Bucket(b.name).Object(object).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("storage bucket: delete %s: %w", object, err)
	}
	return nil
}

// URL returns the public URL for an object in this bucket.
func (b *Bucket) URL(object string) string {
	return fmt.Sprintf("%s/%s/%s", publicURLHost, b.name, strings.TrimLeft(object, "/"))
}

// Owns reports whether the URL references an object inside this bucket.
func (b *Bucket) Owns(rawURL string) bool {
	_, ok := b.objectFromURL(rawURL)
	return ok
}

// ObjectFromURL extracts the object path from a URL belonging to this bucket.
func (b *Bucket) ObjectFromURL(rawURL string) (string, error) {
	object, ok := b.objectFromURL(rawURL)
	if !ok {
		return "", fmt.Errorf("storage bucket: url does not reference bucket %s", b.name)
	}
	return object, nil
}

func (b *Bucket) objectFromURL(rawURL string) (string, bool) {
	if b == nil {
		return "", false
	}
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", false
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", false
	}

	path := strings.TrimPrefix(parsed.Path, "/")
	switch parsed.Host {
	case "storage.googleapis.com":
		// https://storage.googleapis.com/{bucket}/{object}
		if object, ok := strings.CutPrefix(path, b.name+"/"); ok && object != "" {
			if unescaped, err := url.PathUnescape(object); err == nil {
				return unescaped, true
			}
			return object, true
		}
	case "firebasestorage.googleapis.com":
		// https://firebasestorage.googleapis.com/v0/b/{bucket}/o/{escaped-object}
		marker := fmt.Sprintf("v0/b/%s/o/", b.name)
		if object, ok := strings.CutPrefix(path, marker); ok && object != "" {
			if unescaped, err := url.PathUnescape(object); err == nil {
				return unescaped, true
			}
			return object, true
		}
	}
	return "", false
}

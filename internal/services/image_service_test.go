package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net"
	"regexp"
	"strings"
	"testing"
	"time"

	domain "github.com/fleetworks/api/internal/domain"
	"github.com/fleetworks/api/internal/platform/storage"
)

func testUpload(name string, size int) ImageUpload {
	return ImageUpload{
		FileName:    name,
		ContentType: "image/jpeg",
		Data:        bytes.Repeat([]byte("x"), size),
	}
}

func newTestImageService(t *testing.T, store ObjectStore) ImageService {
	t.Helper()
	svc, err := NewImageService(ImageServiceDeps{
		Store:       store,
		Clock:       func() time.Time { return time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC) },
		ExportPause: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewImageService: %v", err)
	}
	return svc
}

func TestNewImageServiceRequiresStore(t *testing.T) {
	if _, err := NewImageService(ImageServiceDeps{}); err == nil {
		t.Fatal("expected error when object store missing")
	}
}

func TestImageServiceUploadBatch(t *testing.T) {
	t.Run("names objects by role, timestamp, and random suffix", func(t *testing.T) {
		store := &stubObjectStore{}
		svc := newTestImageService(t, store)

		urls, err := svc.UploadBatch(context.Background(), "uid-tech", "IT-4097-20250310", domain.ImageRoleBefore, 0, []ImageUpload{testUpload("a.jpg", 64)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(urls) != 1 {
			t.Fatalf("expected one url, got %v", urls)
		}
		if !strings.HasPrefix(store.lastObject, "informes/uid_tech/IT_4097_20250310/") {
			t.Fatalf("unexpected object prefix: %q", store.lastObject)
		}
		name := store.lastObject[strings.LastIndex(store.lastObject, "/")+1:]
		pattern := regexp.MustCompile(`^before_\d{13}_[0-9a-f]{32}\.jpg$`)
		if !pattern.MatchString(name) {
			t.Fatalf("object name %q does not match naming convention", name)
		}
	})

	t.Run("rejects the whole batch before any write", func(t *testing.T) {
		store := &stubObjectStore{}
		svc := newTestImageService(t, store)

		files := []ImageUpload{
			testUpload("good.jpg", 64),
			{FileName: "bad.txt", ContentType: "text/plain", Data: []byte("hello")},
		}
		if _, err := svc.UploadBatch(context.Background(), "uid", "IT-1-20250101", domain.ImageRoleBefore, 0, files); !errors.Is(err, ErrImageInvalidInput) {
			t.Fatalf("expected ErrImageInvalidInput, got %v", err)
		}
		if store.writeCalls != 0 {
			t.Fatalf("expected no writes, got %d", store.writeCalls)
		}
	})

	t.Run("rejects oversize and empty files", func(t *testing.T) {
		store := &stubObjectStore{}
		svc := newTestImageService(t, store)

		oversize := testUpload("big.jpg", (5<<20)+1)
		if _, err := svc.UploadBatch(context.Background(), "uid", "IT-1-20250101", domain.ImageRoleBefore, 0, []ImageUpload{oversize}); !errors.Is(err, ErrImageInvalidInput) {
			t.Fatalf("expected ErrImageInvalidInput for oversize file, got %v", err)
		}
		empty := ImageUpload{FileName: "empty.jpg", ContentType: "image/jpeg"}
		if _, err := svc.UploadBatch(context.Background(), "uid", "IT-1-20250101", domain.ImageRoleBefore, 0, []ImageUpload{empty}); !errors.Is(err, ErrImageInvalidInput) {
			t.Fatalf("expected ErrImageInvalidInput for empty file, got %v", err)
		}
		if store.writeCalls != 0 {
			t.Fatalf("expected no writes, got %d", store.writeCalls)
		}
	})

	t.Run("enforces the per-role cap counting existing images", func(t *testing.T) {
		store := &stubObjectStore{}
		svc := newTestImageService(t, store)

		files := []ImageUpload{
			testUpload("1.jpg", 8), testUpload("2.jpg", 8), testUpload("3.jpg", 8),
		}
		if _, err := svc.UploadBatch(context.Background(), "uid", "IT-1-20250101", domain.ImageRoleAfter, 3, files); !errors.Is(err, ErrImageInvalidInput) {
			t.Fatalf("expected cap violation, got %v", err)
		}
		if store.writeCalls != 0 {
			t.Fatalf("expected no writes, got %d", store.writeCalls)
		}

		urls, err := svc.UploadBatch(context.Background(), "uid", "IT-1-20250101", domain.ImageRoleAfter, 2, files)
		if err != nil {
			t.Fatalf("batch within cap failed: %v", err)
		}
		if len(urls) != 3 {
			t.Fatalf("expected 3 urls, got %d", len(urls))
		}
	})

	t.Run("falls back to an inline payload when the store is unreachable", func(t *testing.T) {
		store := &stubObjectStore{writeErr: &net.OpError{Op: "dial", Err: errors.New("connection refused")}}
		svc := newTestImageService(t, store)

		file := testUpload("a.jpg", 16)
		urls, err := svc.UploadBatch(context.Background(), "uid", "IT-1-20250101", domain.ImageRoleBefore, 0, []ImageUpload{file})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(file.Data)
		if urls[0] != want {
			t.Fatalf("expected inline data url, got %q", urls[0])
		}
	})

	t.Run("surfaces non-transport store failures", func(t *testing.T) {
		store := &stubObjectStore{writeErr: errors.New("permission denied")}
		svc := newTestImageService(t, store)

		if _, err := svc.UploadBatch(context.Background(), "uid", "IT-1-20250101", domain.ImageRoleBefore, 0, []ImageUpload{testUpload("a.jpg", 16)}); !errors.Is(err, ErrImageUnavailable) {
			t.Fatalf("expected ErrImageUnavailable, got %v", err)
		}
	})
}

func TestImageServiceDelete(t *testing.T) {
	t.Run("ignores inline and foreign urls", func(t *testing.T) {
		store := &stubObjectStore{ownsFn: func(string) bool { return false }}
		svc := newTestImageService(t, store)

		if err := svc.Delete(context.Background(), "data:image/png;base64,AAAA"); err != nil {
			t.Fatalf("inline url: %v", err)
		}
		if err := svc.Delete(context.Background(), "https://elsewhere.example/photo.jpg"); err != nil {
			t.Fatalf("foreign url: %v", err)
		}
		if store.deleteCalls != 0 {
			t.Fatalf("expected no store deletes, got %d", store.deleteCalls)
		}
	})

	t.Run("treats a missing object as deleted", func(t *testing.T) {
		store := &stubObjectStore{deleteErr: storage.ErrObjectNotFound}
		svc := newTestImageService(t, store)

		if err := svc.Delete(context.Background(), "https://storage.googleapis.com/fleet-reports/informes/a/b/c.jpg"); err != nil {
			t.Fatalf("expected nil for missing object, got %v", err)
		}
	})

	t.Run("maps other delete failures", func(t *testing.T) {
		store := &stubObjectStore{deleteErr: errors.New("boom")}
		svc := newTestImageService(t, store)

		if err := svc.Delete(context.Background(), "https://storage.googleapis.com/fleet-reports/informes/a/b/c.jpg"); !errors.Is(err, ErrImageUnavailable) {
			t.Fatalf("expected ErrImageUnavailable, got %v", err)
		}
	})
}

func TestImageServiceMaterialize(t *testing.T) {
	t.Run("reads owned objects and decodes inline payloads", func(t *testing.T) {
		store := &stubObjectStore{readData: []byte("stored"), readType: "image/jpeg"}
		svc := newTestImageService(t, store)

		inline := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("inline"))
		images := svc.Materialize(context.Background(), []string{
			"https://storage.googleapis.com/fleet-reports/informes/a/b/c.jpg",
			inline,
		})
		if len(images) != 2 {
			t.Fatalf("expected 2 images, got %d", len(images))
		}
		if string(images[0].Data) != "stored" || images[0].ContentType != "image/jpeg" {
			t.Fatalf("stored image: %#v", images[0])
		}
		if string(images[1].Data) != "inline" || images[1].ContentType != "image/png" {
			t.Fatalf("inline image: %#v", images[1])
		}
	})

	t.Run("substitutes a placeholder for unreadable objects", func(t *testing.T) {
		store := &stubObjectStore{readErr: errors.New("gone")}
		svc := newTestImageService(t, store)

		images := svc.Materialize(context.Background(), []string{
			"https://storage.googleapis.com/fleet-reports/informes/a/b/c.jpg",
		})
		if len(images) != 1 {
			t.Fatalf("expected 1 image, got %d", len(images))
		}
		if images[0].ContentType != "image/png" || len(images[0].Data) == 0 {
			t.Fatalf("expected placeholder png, got %#v", images[0])
		}
	})

	t.Run("paces between items", func(t *testing.T) {
		store := &stubObjectStore{readData: []byte("x"), readType: "image/jpeg"}
		var pauses int
		svc, err := NewImageService(ImageServiceDeps{
			Store:       store,
			ExportPause: 300 * time.Millisecond,
			SleepTimerFn: func(d time.Duration) <-chan time.Time {
				if d != 300*time.Millisecond {
					t.Fatalf("unexpected pause %v", d)
				}
				pauses++
				ch := make(chan time.Time, 1)
				ch <- time.Now()
				return ch
			},
		})
		if err != nil {
			t.Fatalf("NewImageService: %v", err)
		}

		urls := []string{
			"https://storage.googleapis.com/fleet-reports/informes/a/b/1.jpg",
			"https://storage.googleapis.com/fleet-reports/informes/a/b/2.jpg",
			"https://storage.googleapis.com/fleet-reports/informes/a/b/3.jpg",
		}
		if got := svc.Materialize(context.Background(), urls); len(got) != 3 {
			t.Fatalf("expected 3 images, got %d", len(got))
		}
		if pauses != 2 {
			t.Fatalf("expected a pause between each pair, got %d", pauses)
		}
	})

	t.Run("degrades to placeholders once the context is cancelled", func(t *testing.T) {
		store := &stubObjectStore{readData: []byte("x"), readType: "image/jpeg"}
		svc := newTestImageService(t, store)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		images := svc.Materialize(ctx, []string{
			"https://storage.googleapis.com/fleet-reports/informes/a/b/1.jpg",
			"https://storage.googleapis.com/fleet-reports/informes/a/b/2.jpg",
		})
		if len(images) != 2 {
			t.Fatalf("expected 2 images, got %d", len(images))
		}
		if images[1].ContentType != "image/png" {
			t.Fatalf("expected placeholder for cancelled read, got %#v", images[1])
		}
	})
}

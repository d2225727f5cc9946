package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"google.golang.org/api/googleapi"

	"github.com/fleetworks/api/internal/platform/imaging"
	"github.com/fleetworks/api/internal/platform/storage"
)

var (
	// ErrImageInvalidInput indicates a file failed validation or the batch exceeds the per-role cap.
	ErrImageInvalidInput = errors.New("image: invalid input")
	// ErrImageUnavailable indicates the object store rejected an operation for a non-transport reason.
	ErrImageUnavailable = errors.New("image: store unavailable")
)

// allowedImageTypes are the content types accepted for photo evidence, with
// the file extension used when naming the stored object.
var allowedImageTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

const dataURLPrefix = "data:"

// ObjectStore is the slice of the storage bucket the image pipeline needs.
type ObjectStore interface {
	Write(ctx context.Context, object, contentType string, data []byte) (string, error)
	Read(ctx context.Context, object string) ([]byte, string, error)
	Delete(ctx context.Context, object string) error
	Owns(rawURL string) bool
	ObjectFromURL(rawURL string) (string, error)
}

// ImageServiceDeps bundles collaborators for the image ingestion pipeline.
type ImageServiceDeps struct {
	Store        ObjectStore
	MaxBytes     int64
	MaxPerRole   int
	ExportPause  time.Duration
	Clock        func() time.Time
	Placeholder  func() ([]byte, error)
	SleepTimerFn func(d time.Duration) <-chan time.Time
}

type imageService struct {
	store       ObjectStore
	maxBytes    int64
	maxPerRole  int
	exportPause time.Duration
	clock       func() time.Time
	placeholder func() ([]byte, error)
	timer       func(d time.Duration) <-chan time.Time
}

// NewImageService constructs the image ingestion pipeline.
func NewImageService(deps ImageServiceDeps) (ImageService, error) {
	if deps.Store == nil {
		return nil, errors.New("image service: object store is required")
	}
	if deps.MaxBytes <= 0 {
		deps.MaxBytes = 5 << 20
	}
	if deps.MaxPerRole <= 0 {
		deps.MaxPerRole = 5
	}
	if deps.ExportPause <= 0 {
		deps.ExportPause = 300 * time.Millisecond
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	placeholder := deps.Placeholder
	if placeholder == nil {
		placeholder = imaging.PlaceholderPNG
	}
	timer := deps.SleepTimerFn
	if timer == nil {
		timer = func(d time.Duration) <-chan time.Time { return time.After(d) }
	}
	return &imageService{
		store:       deps.Store,
		maxBytes:    deps.MaxBytes,
		maxPerRole:  deps.MaxPerRole,
		exportPause: deps.ExportPause,
		clock:       clock,
		placeholder: placeholder,
		timer:       timer,
	}, nil
}

func (s *imageService) UploadBatch(ctx context.Context, authorID string, reportID string, role ImageRole, existing int, files []ImageUpload) ([]string, error) {
	authorID = strings.TrimSpace(authorID)
	reportID = strings.TrimSpace(reportID)
	if authorID == "" || reportID == "" {
		return nil, fmt.Errorf("%w: author and report ids are required", ErrImageInvalidInput)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown image role %q", ErrImageInvalidInput, role)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files supplied", ErrImageInvalidInput)
	}
	if existing < 0 {
		existing = 0
	}
	if existing+len(files) > s.maxPerRole {
		return nil, fmt.Errorf("%w: at most %d images per role", ErrImageInvalidInput, s.maxPerRole)
	}

	// The whole batch is validated before the first byte is uploaded so a
	// bad file cannot leave partial state behind.
	exts := make([]string, len(files))
	for i, file := range files {
		ext, err := s.validate(file)
		if err != nil {
			return nil, err
		}
		exts[i] = ext
	}

	urls := make([]string, len(files))
	errs := make([]error, len(files))
	var wg sync.WaitGroup
	wg.Add(len(files))
	for i := range files {
		go func(i int) {
			defer wg.Done()
			urls[i], errs[i] = s.uploadOne(ctx, authorID, reportID, role, files[i], exts[i])
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return urls, nil
}

func (s *imageService) uploadOne(ctx context.Context, authorID, reportID string, role ImageRole, file ImageUpload, ext string) (string, error) {
	objectName := fmt.Sprintf("%s_%d_%s.%s", role, s.clock().UnixMilli(), strings.ReplaceAll(uuid.NewString(), "-", ""), ext)
	objectPath, err := storage.BuildObjectPath(storage.PurposeReportImage, storage.PathParams{
		AuthorID: authorID,
		ReportID: reportID,
		FileName: objectName,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageInvalidInput, err)
	}

	uploadedURL, err := s.store.Write(ctx, objectPath, file.ContentType, file.Data)
	if err == nil {
		return uploadedURL, nil
	}
	if isTransportFailure(err) {
		// The store is unreachable, not the data invalid. Degrade to an
		// inline payload so the author never loses a capture.
		return inlineDataURL(file.ContentType, file.Data), nil
	}
	return "", fmt.Errorf("%w: %v", ErrImageUnavailable, err)
}

func (s *imageService) validate(file ImageUpload) (string, error) {
	if len(file.Data) == 0 {
		return "", fmt.Errorf("%w: %s is empty", ErrImageInvalidInput, displayFileName(file))
	}
	if int64(len(file.Data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %s exceeds %d bytes", ErrImageInvalidInput, displayFileName(file), s.maxBytes)
	}
	contentType := strings.ToLower(strings.TrimSpace(file.ContentType))
	ext, ok := allowedImageTypes[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s has unsupported content type %q", ErrImageInvalidInput, displayFileName(file), file.ContentType)
	}
	return ext, nil
}

func (s *imageService) Delete(ctx context.Context, rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" || strings.HasPrefix(rawURL, dataURLPrefix) {
		return nil
	}
	if !s.store.Owns(rawURL) {
		return nil
	}
	object, err := s.store.ObjectFromURL(rawURL)
	if err != nil {
		return nil
	}
	err = s.store.Delete(ctx, object)
	if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrImageUnavailable, err)
}

func (s *imageService) DeleteAll(ctx context.Context, urls []string) {
	for _, rawURL := range urls {
		_ = s.Delete(ctx, rawURL)
	}
}

func (s *imageService) Materialize(ctx context.Context, urls []string) []ExportImage {
	out := make([]ExportImage, 0, len(urls))
	for i, rawURL := range urls {
		if i > 0 {
			// Sequential with pacing: the store throttles burst reads.
			select {
			case <-ctx.Done():
				out = append(out, s.placeholderImage())
				continue
			case <-s.timer(s.exportPause):
			}
		}
		out = append(out, s.materializeOne(ctx, rawURL))
	}
	return out
}

func (s *imageService) materializeOne(ctx context.Context, rawURL string) ExportImage {
	rawURL = strings.TrimSpace(rawURL)
	if strings.HasPrefix(rawURL, dataURLPrefix) {
		if img, err := decodeDataURL(rawURL); err == nil {
			return img
		}
		return s.placeholderImage()
	}
	if s.store.Owns(rawURL) {
		object, err := s.store.ObjectFromURL(rawURL)
		if err == nil {
			data, contentType, readErr := s.store.Read(ctx, object)
			if readErr == nil {
				return ExportImage{Data: data, ContentType: contentType}
			}
		}
	}
	return s.placeholderImage()
}

func (s *imageService) placeholderImage() ExportImage {
	data, err := s.placeholder()
	if err != nil {
		return ExportImage{ContentType: "image/png"}
	}
	return ExportImage{Data: data, ContentType: "image/png"}
}

func inlineDataURL(contentType string, data []byte) string {
	return fmt.Sprintf("%s%s;base64,%s", dataURLPrefix, strings.ToLower(strings.TrimSpace(contentType)), base64.StdEncoding.EncodeToString(data))
}

func decodeDataURL(rawURL string) (ExportImage, error) {
	payload := strings.TrimPrefix(rawURL, dataURLPrefix)
	meta, encoded, ok := strings.Cut(payload, ",")
	if !ok {
		return ExportImage{}, errors.New("malformed data url")
	}
	contentType := strings.TrimSuffix(meta, ";base64")
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return ExportImage{}, err
	}
	return ExportImage{Data: data, ContentType: contentType}, nil
}

func displayFileName(file ImageUpload) string {
	if name := strings.TrimSpace(file.FileName); name != "" {
		return name
	}
	return "file"
}

// isTransportFailure classifies errors that mean the bytes never reached the
// store: timeouts, broken connections, DNS failures, and gateway-class HTTP
// statuses. Validation and permission errors are deliberately excluded.
func isTransportFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 408, 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

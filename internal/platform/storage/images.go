package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const (
	defaultImageURLTTL = 15 * time.Minute
	// V4 signatures are valid for at most seven days.
	maxImageURLTTL = 7 * 24 * time.Hour
)

var (
	errNoSigner       = errors.New("storage: signer is required")
	errInvalidBucket  = errors.New("storage: bucket name is required")
	errInvalidRef     = errors.New("storage: image reference is empty")
	errExpiryTooLong  = errors.New("storage: expiry exceeds the seven day signing limit")
	errForeignBucket  = errors.New("storage: image reference points at another bucket")
	errUnsupportedRef = errors.New("storage: unsupported image reference scheme")
)

// ImageSigner turns product image references into short-lived GET URLs for the admin console.
// References are "gs://bucket/object", a bare object path inside the images bucket, or an
// absolute http(s) URL that is returned unchanged.
type ImageSigner struct {
	signer Signer
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// ImageSignerOption customises an ImageSigner.
type ImageSignerOption func(*ImageSigner)

// WithImageURLTTL sets the lifetime of generated URLs.
func WithImageURLTTL(ttl time.Duration) ImageSignerOption {
	return func(s *ImageSigner) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a custom clock.
func WithClock(clock func() time.Time) ImageSignerOption {
	return func(s *ImageSigner) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewImageSigner builds a signer for the given bucket.
func NewImageSigner(signer Signer, bucket string, opts ...ImageSignerOption) (*ImageSigner, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	s := &ImageSigner{signer: signer, bucket: bucket, ttl: defaultImageURLTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.ttl > maxImageURLTTL {
		return nil, errExpiryTooLong
	}
	return s, nil
}

// SignedImageURL returns a V4 signed GET URL for ref.
func (s *ImageSigner) SignedImageURL(ctx context.Context, ref string) (string, error) {
	if s == nil {
		return "", errNoSigner
	}
	object, external, err := s.objectFor(ref)
	if err != nil {
		return "", err
	}
	if external != "" {
		return external, nil
	}

	signed, err := gcs.SignedURL(s.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        s.now().Add(s.ttl),
		QueryParameters: url.Values{
			"response-cache-control": {"private, max-age=" + fmt.Sprint(int(s.ttl.Seconds()))},
		},
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return "", fmt.Errorf("storage: sign image url: %w", err)
	}
	return signed, nil
}

func (s *ImageSigner) objectFor(ref string) (object string, external string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", errInvalidRef
	}
	if !strings.Contains(ref, "://") {
		return strings.TrimLeft(ref, "/"), "", nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", "", fmt.Errorf("storage: parse image reference: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		return "", ref, nil
	case "gs":
		if u.Host != s.bucket {
			return "", "", errForeignBucket
		}
		object = strings.TrimLeft(u.Path, "/")
		if object == "" {
			return "", "", errInvalidRef
		}
		return object, "", nil
	default:
		return "", "", errUnsupportedRef
	}
}

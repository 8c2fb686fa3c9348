package filestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"pubpipe/internal/services"
)

// GCSService keeps files in a Cloud Storage bucket under two prefixes.
type GCSService struct {
	bucket        *storage.BucketHandle
	stagingPrefix string
	publicPrefix  string
}

// NewGCSService builds a bucket-backed store.
func NewGCSService(bucket *storage.BucketHandle, stagingPrefix, publicPrefix string) *GCSService {
	return &GCSService{
		bucket:        bucket,
		stagingPrefix: strings.Trim(stagingPrefix, "/"),
		publicPrefix:  strings.Trim(publicPrefix, "/"),
	}
}

func (s *GCSService) list(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
}

// Promote implements Service. Objects are copied server side.
func (s *GCSService) Promote(ctx context.Context, releaseVersionID uuid.UUID) (int, error) {
	src := objectPrefix(s.stagingPrefix, releaseVersionID)
	dst := objectPrefix(s.publicPrefix, releaseVersionID)
	names, err := s.list(ctx, src)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "filestore", "list staged objects", src, err)
	}
	copied := 0
	for _, name := range names {
		target := dst + strings.TrimPrefix(name, src)
		copier := s.bucket.Object(target).CopierFrom(s.bucket.Object(name))
		if _, err := copier.Run(ctx); err != nil {
			return copied, services.Wrap(services.ErrTransient, "filestore", "copy object", name, err)
		}
		copied++
	}
	return copied, nil
}

// DeleteVersion implements Service.
func (s *GCSService) DeleteVersion(ctx context.Context, releaseVersionID uuid.UUID) error {
	prefix := objectPrefix(s.publicPrefix, releaseVersionID)
	names, err := s.list(ctx, prefix)
	if err != nil {
		return services.Wrap(services.ErrTransient, "filestore", "list public objects", prefix, err)
	}
	for _, name := range names {
		err := s.bucket.Object(name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return services.Wrap(services.ErrTransient, "filestore", "delete object", name, err)
		}
	}
	return nil
}

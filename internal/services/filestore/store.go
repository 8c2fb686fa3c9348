package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"pubpipe/internal/config"
	"pubpipe/internal/fileutil"
	"pubpipe/internal/services"
)

// Service moves release files between staging and public storage.
type Service interface {
	// Promote copies the staged files of a release version to public storage
	// and returns how many files were copied.
	Promote(ctx context.Context, releaseVersionID uuid.UUID) (int, error)
	// DeleteVersion removes every public file of a release version.
	DeleteVersion(ctx context.Context, releaseVersionID uuid.UUID) error
}

// NewConfiguredService returns the backend selected by cfg. The close function
// releases the storage client.
func NewConfiguredService(ctx context.Context, cfg *config.Config) (Service, func() error, error) {
	switch cfg.Files.Backend {
	case config.FilesBackendGCS:
		var opts []option.ClientOption
		if creds := strings.TrimSpace(cfg.Files.CredentialsJSON); creds != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, services.Wrap(services.ErrConfiguration, "filestore", "gcs client", cfg.Files.Bucket, err)
		}
		svc := NewGCSService(client.Bucket(cfg.Files.Bucket), cfg.Files.StagingPrefix, cfg.Files.PublicPrefix)
		return svc, client.Close, nil
	default:
		return NewLocalService(cfg.Files.StagingDir, cfg.Files.PublicDir), func() error { return nil }, nil
	}
}

// LocalService keeps files on the local filesystem.
type LocalService struct {
	stagingDir string
	publicDir  string
}

// NewLocalService builds a filesystem-backed store.
func NewLocalService(stagingDir, publicDir string) *LocalService {
	return &LocalService{stagingDir: stagingDir, publicDir: publicDir}
}

// StagingPath returns the staging directory of a release version.
func (s *LocalService) StagingPath(id uuid.UUID) string {
	return filepath.Join(s.stagingDir, id.String())
}

// PublicPath returns the public directory of a release version.
func (s *LocalService) PublicPath(id uuid.UUID) string {
	return filepath.Join(s.publicDir, id.String())
}

// Promote implements Service.
func (s *LocalService) Promote(ctx context.Context, releaseVersionID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := fileutil.CopyTree(s.StagingPath(releaseVersionID), s.PublicPath(releaseVersionID))
	if err != nil {
		return n, services.Wrap(services.ErrExternal, "filestore", "promote", releaseVersionID.String(), err)
	}
	return n, nil
}

// DeleteVersion implements Service.
func (s *LocalService) DeleteVersion(ctx context.Context, releaseVersionID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.PublicPath(releaseVersionID)); err != nil {
		return services.Wrap(services.ErrExternal, "filestore", "delete version", releaseVersionID.String(), err)
	}
	return nil
}

func objectPrefix(prefix string, id uuid.UUID) string {
	if prefix == "" {
		return id.String() + "/"
	}
	return fmt.Sprintf("%s/%s/", prefix, id)
}

package service

import (
	"context"
	"io"
	"os"

	"github.com/klauspost/compress/zip"
	"go.uber.org/zap"

	"github.com/noah-isme/file-manager-api/internal/models"
	appErrors "github.com/noah-isme/file-manager-api/pkg/errors"
)

type archiveResolver interface {
	ResolvePath(ctx context.Context, id string) (relPath, displayName string, err error)
}

type archiveContentStore interface {
	Open(relPath string) (*os.File, error)
}

// ArchiveService bundles a selected set of stored files into one zip
// stream for bulk download.
type ArchiveService struct {
	resolver archiveResolver
	store    archiveContentStore
	logger   *zap.Logger
}

// NewArchiveService constructs the service.
func NewArchiveService(resolver archiveResolver, store archiveContentStore, logger *zap.Logger) *ArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveService{resolver: resolver, store: store, logger: logger}
}

// BuildArchive resolves each identifier exactly like a download and
// streams the matching files into w as a zip. Identifiers that fail to
// resolve are skipped, so a partial archive is produced rather than
// failing the whole request. Entries keep their display filename;
// duplicate names are not renamed (zip allows them). Returns the
// number of entries written.
func (s *ArchiveService) BuildArchive(ctx context.Context, ids []string, caller *models.JWTClaims, w io.Writer) (int, error) {
	if caller == nil {
		return 0, appErrors.ErrUnauthorized
	}
	if len(ids) == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "at least one file id is required")
	}

	zw := zip.NewWriter(w)
	included := 0
	for _, id := range ids {
		relPath, displayName, err := s.resolver.ResolvePath(ctx, id)
		if err != nil {
			s.logger.Debug("skipping unresolvable archive entry", zap.String("id", id), zap.Error(err))
			continue
		}
		file, err := s.store.Open(relPath)
		if err != nil {
			s.logger.Warn("skipping unreadable archive entry", zap.String("path", relPath), zap.Error(err))
			continue
		}
		entry, err := zw.Create(displayName)
		if err != nil {
			file.Close() //nolint:errcheck
			_ = zw.Close()
			return included, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create archive entry")
		}
		if _, err := io.Copy(entry, file); err != nil {
			file.Close() //nolint:errcheck
			_ = zw.Close()
			return included, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write archive entry")
		}
		file.Close() //nolint:errcheck
		included++
	}

	if err := zw.Close(); err != nil {
		return included, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize archive")
	}
	return included, nil
}

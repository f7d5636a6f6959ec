package service

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/file-manager-api/internal/dto"
	"github.com/noah-isme/file-manager-api/internal/models"
	"github.com/noah-isme/file-manager-api/internal/repository"
	appErrors "github.com/noah-isme/file-manager-api/pkg/errors"
	"github.com/noah-isme/file-manager-api/pkg/storage"
)

const tempIDPrefix = "temp_"

// TempID derives the deterministic temporary identifier for a
// storage-only file. The digest is truncated to 8 hex characters, so
// two distinct paths can theoretically collide; this is a usability
// shortcut, not a security-grade identifier.
func TempID(relPath string) string {
	sum := md5.Sum([]byte(relPath))
	return tempIDPrefix + hex.EncodeToString(sum[:])[:8]
}

type fileCatalog interface {
	Create(ctx context.Context, record *models.FileRecord) error
	GetByID(ctx context.Context, id int64) (*models.FileRecord, error)
	GetByPath(ctx context.Context, path string) (*models.FileRecord, error)
	ListAll(ctx context.Context) ([]models.FileRecord, error)
	ListPaths(ctx context.Context) ([]string, error)
	BatchInsert(ctx context.Context, records []*models.FileRecord) error
	DeleteByPaths(ctx context.Context, paths []string) (int, error)
	UpdateSync(ctx context.Context, id int64, size int64, hash string, modified time.Time) error
	PathHashes(ctx context.Context) (map[string]string, error)
}

type contentStore interface {
	SaveStream(relPath string, r io.Reader) (int64, error)
	Open(relPath string) (*os.File, error)
	Exists(relPath string) bool
	Stat(relPath string) (storage.Entry, error)
	Walk() ([]storage.Entry, error)
	HashFile(relPath string) (string, error)
	Path() string
}

type adminActivityProbe interface {
	AdminActiveSince(ctx context.Context, cutoff time.Time) (bool, error)
}

// FileUpload carries upload metadata and a stream reader.
type FileUpload struct {
	Filename string
	Size     int64
	Content  io.Reader
}

// FileDownload bundles an open file handle with response metadata.
type FileDownload struct {
	File     *os.File
	Filename string
	Size     int64
}

// FileServiceConfig tunes the reconciliation engine.
type FileServiceConfig struct {
	MaxUploadBytes      int64
	AdminActivityWindow time.Duration
	ListCacheTTL        time.Duration
}

// FileService is the reconciliation engine: it merges the content
// store and the metadata catalog into one view and drives the one-way
// sync operations between them.
type FileService struct {
	catalog fileCatalog
	store   contentStore
	users   adminActivityProbe
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     FileServiceConfig
}

// NewFileService constructs the service with defaults.
func NewFileService(catalog fileCatalog, store contentStore, users adminActivityProbe, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg FileServiceConfig) *FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 100 * 1024 * 1024
	}
	if cfg.AdminActivityWindow <= 0 {
		cfg.AdminActivityWindow = 5 * time.Minute
	}
	if cfg.ListCacheTTL <= 0 {
		cfg.ListCacheTTL = 5 * time.Minute
	}
	return &FileService{
		catalog: catalog,
		store:   store,
		users:   users,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// adminActive evaluates the activity gate: true while any admin has a
// heartbeat inside the sliding window. Raw storage enumeration is
// exposed only under supervision; this is a visibility valve, not a
// security boundary.
func (s *FileService) adminActive(ctx context.Context) (bool, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.AdminActivityWindow)
	active, err := s.users.AdminActiveSince(ctx, cutoff)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate admin activity")
	}
	return active, nil
}

// List returns the reconciled, deduplicated, paginated view of the
// content store and the metadata catalog.
func (s *FileService) List(ctx context.Context, skip, limit int, caller *models.JWTClaims) (*dto.ListFilesResult, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	adminActive, err := s.adminActive(ctx)
	if err != nil {
		return nil, err
	}

	cacheKey := fmt.Sprintf("files:list:%d:%d:%t", skip, limit, adminActive)
	var cached dto.ListFilesResult
	if hit, _ := s.cache.Get(ctx, cacheKey, &cached); hit {
		return &cached, nil
	}

	merged := make(map[string]models.MergedFileView)

	if adminActive {
		start := time.Now()
		entries, err := s.store.Walk()
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enumerate storage")
		}
		s.metrics.ObserveStorageWalk(time.Since(start))
		for _, entry := range entries {
			merged[entry.RelPath] = models.MergedFileView{
				ID:         TempID(entry.RelPath),
				Name:       path.Base(entry.RelPath),
				Path:       entry.RelPath,
				Size:       entry.Size,
				Modified:   entry.Modified,
				Source:     models.SourceStorage,
				Registered: false,
			}
		}
	}

	records, err := s.catalog.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list catalog")
	}
	for _, record := range records {
		// Rows whose backing file drifted away are hidden from the
		// listing; the inconsistency is surfaced on direct access only.
		entry, err := s.store.Stat(record.Path)
		if err != nil {
			continue
		}
		ownerID := record.OwnerID
		// The catalog is authoritative: it replaces any storage entry
		// sharing the same path.
		merged[record.Path] = models.MergedFileView{
			ID:         strconv.FormatInt(record.ID, 10),
			Name:       record.Filename,
			Path:       record.Path,
			Size:       entry.Size,
			Modified:   entry.Modified,
			OwnerID:    &ownerID,
			Source:     models.SourceCatalog,
			Registered: true,
		}
	}

	views := make([]models.MergedFileView, 0, len(merged))
	for _, view := range merged {
		views = append(views, view)
	}
	sortMerged(views)

	total := len(views)
	end := skip + limit
	if skip > total {
		skip = total
	}
	if end > total {
		end = total
	}
	page := views[skip:end]

	result := &dto.ListFilesResult{
		Items: page,
		Pagination: models.Pagination{
			Total:   total,
			Skip:    skip,
			Limit:   limit,
			HasMore: skip+limit < total,
		},
		AdminActive: adminActive,
	}

	_ = s.cache.Set(ctx, cacheKey, result, s.cfg.ListCacheTTL)
	return result, nil
}

// sortMerged orders views by modification time descending; ties break
// on relative path ascending so pagination stays stable.
func sortMerged(views []models.MergedFileView) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].Modified.Equal(views[j].Modified) {
			return views[i].Path < views[j].Path
		}
		return views[i].Modified.After(views[j].Modified)
	})
}

// Upload stores the file under a generated name and registers it.
func (s *FileService) Upload(ctx context.Context, upload FileUpload, caller *models.JWTClaims) (*dto.UploadResult, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if upload.Content == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge,
			fmt.Sprintf("file too large, max size is %d bytes", s.cfg.MaxUploadBytes))
	}

	// The caller-supplied name is display-only; the stored path is a
	// generated collision-resistant name.
	storedName := uuid.NewString() + path.Ext(upload.Filename)
	written, err := s.store.SaveStream(storedName, io.LimitReader(upload.Content, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist file")
	}
	if written > s.cfg.MaxUploadBytes {
		return nil, appErrors.Clone(appErrors.ErrPayloadTooLarge,
			fmt.Sprintf("file too large, max size is %d bytes", s.cfg.MaxUploadBytes))
	}

	hash, err := s.store.HashFile(storedName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash file")
	}

	record := &models.FileRecord{
		Filename: upload.Filename,
		Path:     storedName,
		Size:     written,
		Hash:     &hash,
		Modified: time.Now().UTC(),
		OwnerID:  caller.UserID,
	}
	if err := s.catalog.Create(ctx, record); err != nil {
		// The orphaned blob stays behind; cleanup reconciles it later.
		s.logger.Error("upload registration failed, blob orphaned",
			zap.String("path", storedName), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register file")
	}

	s.invalidateListings(ctx)
	return &dto.UploadResult{
		ID:         record.ID,
		Filename:   record.Filename,
		Path:       record.Path,
		Size:       record.Size,
		Registered: true,
	}, nil
}

// ResolvePath maps a public identifier (temp id or catalog id) to a
// relative storage path and display name. Temp ids are never persisted,
// so the reverse lookup walks the store and matches the truncated
// digest per request.
func (s *FileService) ResolvePath(ctx context.Context, id string) (relPath, displayName string, err error) {
	if strings.HasPrefix(id, tempIDPrefix) {
		entries, walkErr := s.store.Walk()
		if walkErr != nil {
			return "", "", appErrors.Wrap(walkErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enumerate storage")
		}
		for _, entry := range entries {
			if TempID(entry.RelPath) == id {
				return entry.RelPath, path.Base(entry.RelPath), nil
			}
		}
		return "", "", appErrors.Clone(appErrors.ErrNotFound, "file not found in storage")
	}

	recordID, parseErr := strconv.ParseInt(id, 10, 64)
	if parseErr != nil {
		return "", "", appErrors.Clone(appErrors.ErrValidation, "invalid file id, must be an integer or a temp id")
	}
	record, err := s.catalog.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", appErrors.Clone(appErrors.ErrNotFound, "file not found in database")
		}
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file record")
	}
	if !s.store.Exists(record.Path) {
		return "", "", appErrors.Clone(appErrors.ErrInconsistent, "file exists in database but missing in storage")
	}
	return record.Path, record.Filename, nil
}

// Download opens the file addressed by a temp id or a catalog id. Any
// authenticated caller may download any registered file; temp ids
// address unregistered files, which have no owner at all.
func (s *FileService) Download(ctx context.Context, id string, caller *models.JWTClaims) (*FileDownload, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	relPath, displayName, err := s.ResolvePath(ctx, id)
	if err != nil {
		return nil, err
	}
	file, err := s.store.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file")
	}
	return &FileDownload{File: file, Filename: displayName, Size: info.Size()}, nil
}

// Register records an existing storage file in the catalog. Hash and
// size are computed from the live file at registration time.
func (s *FileService) Register(ctx context.Context, relPath, filename string, caller *models.JWTClaims) (*dto.RegisterResult, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(relPath) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "path is required")
	}
	entry, err := s.store.Stat(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "file not found in storage")
	}
	hash, err := s.store.HashFile(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash file")
	}
	if filename == "" {
		filename = path.Base(relPath)
	}
	record := &models.FileRecord{
		Filename: filename,
		Path:     relPath,
		Size:     entry.Size,
		Hash:     &hash,
		Modified: entry.Modified,
		OwnerID:  caller.UserID,
	}
	if err := s.catalog.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "file already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register file")
	}

	s.invalidateListings(ctx)
	return &dto.RegisterResult{
		ID:         record.ID,
		Filename:   record.Filename,
		Path:       record.Path,
		Registered: true,
	}, nil
}

// RegisterAll registers every unregistered storage file in one batch.
// Safe to re-run: a second pass finds nothing to register.
func (s *FileService) RegisterAll(ctx context.Context, caller *models.JWTClaims) (*dto.RegisterAllResult, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	registered, err := s.catalog.ListPaths(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list registered paths")
	}
	known := make(map[string]struct{}, len(registered))
	for _, p := range registered {
		known[p] = struct{}{}
	}

	entries, err := s.store.Walk()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enumerate storage")
	}

	var records []*models.FileRecord
	for _, entry := range entries {
		if _, ok := known[entry.RelPath]; ok {
			continue
		}
		hash, err := s.store.HashFile(entry.RelPath)
		if err != nil {
			s.logger.Warn("skipping unreadable storage file", zap.String("path", entry.RelPath), zap.Error(err))
			continue
		}
		h := hash
		records = append(records, &models.FileRecord{
			Filename: path.Base(entry.RelPath),
			Path:     entry.RelPath,
			Size:     entry.Size,
			Hash:     &h,
			Modified: entry.Modified,
			OwnerID:  caller.UserID,
		})
	}

	if err := s.catalog.BatchInsert(ctx, records); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "concurrent registration detected")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register files")
	}

	result := &dto.RegisterAllResult{
		Registered: len(records),
		Files:      make([]dto.RegisteredFile, 0, len(records)),
	}
	for _, record := range records {
		result.Files = append(result.Files, dto.RegisteredFile{ID: record.ID, Path: record.Path})
	}

	if len(records) > 0 {
		s.invalidateListings(ctx)
	}
	return result, nil
}

// Cleanup deletes every catalog row whose backing file no longer
// exists in storage. Irreversible; never touches the content store.
func (s *FileService) Cleanup(ctx context.Context, caller *models.JWTClaims) (*dto.CleanupResult, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	records, err := s.catalog.ListAll(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list catalog")
	}
	var orphaned []string
	for _, record := range records {
		if !s.store.Exists(record.Path) {
			orphaned = append(orphaned, record.Path)
		}
	}
	deleted, err := s.catalog.DeleteByPaths(ctx, orphaned)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete orphaned records")
	}

	if deleted > 0 {
		s.invalidateListings(ctx)
	}
	return &dto.CleanupResult{Deleted: deleted}, nil
}

// SyncOne reconciles a single pushed file with a three-way compare:
// unknown path is added, changed content is overwritten, identical
// hash and size is skipped without any disk write.
func (s *FileService) SyncOne(ctx context.Context, req dto.SyncRequest, filename string, content io.Reader, caller *models.JWTClaims) (*dto.SyncResult, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(req.Path) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "path is required")
	}

	existing, err := s.catalog.GetByPath(ctx, req.Path)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file record")
	}

	if existing != nil {
		if *orEmpty(existing.Hash) == req.Hash && existing.Size == req.Size {
			return &dto.SyncResult{Status: models.SyncSkipped, ID: existing.ID}, nil
		}
		if _, err := s.store.SaveStream(req.Path, content); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to overwrite file")
		}
		if err := s.catalog.UpdateSync(ctx, existing.ID, req.Size, req.Hash, req.ModifiedTime()); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update file record")
		}
		s.invalidateListings(ctx)
		return &dto.SyncResult{Status: models.SyncUpdated, ID: existing.ID}, nil
	}

	if _, err := s.store.SaveStream(req.Path, content); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist file")
	}
	if filename == "" {
		filename = path.Base(req.Path)
	}
	hash := req.Hash
	record := &models.FileRecord{
		Filename: filename,
		Path:     req.Path,
		Size:     req.Size,
		Hash:     &hash,
		Modified: req.ModifiedTime(),
		OwnerID:  caller.UserID,
	}
	if err := s.catalog.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "file registered concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register file")
	}

	s.invalidateListings(ctx)
	return &dto.SyncResult{Status: models.SyncAdded, ID: record.ID}, nil
}

// ImportFile stores and registers a pushed file without comparing
// content; an already-registered path is skipped untouched.
func (s *FileService) ImportFile(ctx context.Context, relPath, filename string, content io.Reader, caller *models.JWTClaims) (*dto.SyncResult, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(relPath) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "path is required")
	}

	if _, err := s.catalog.GetByPath(ctx, relPath); err == nil {
		return &dto.SyncResult{Status: models.SyncSkipped}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load file record")
	}

	if _, err := s.store.SaveStream(relPath, content); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist file")
	}
	entry, err := s.store.Stat(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat file")
	}
	hash, err := s.store.HashFile(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash file")
	}
	if filename == "" {
		filename = path.Base(relPath)
	}
	record := &models.FileRecord{
		Filename: filename,
		Path:     relPath,
		Size:     entry.Size,
		Hash:     &hash,
		Modified: entry.Modified,
		OwnerID:  caller.UserID,
	}
	if err := s.catalog.Create(ctx, record); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return &dto.SyncResult{Status: models.SyncSkipped}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to register file")
	}

	s.invalidateListings(ctx)
	return &dto.SyncResult{Status: models.SyncImported, ID: record.ID}, nil
}

// PathHashes returns the catalog's path-to-hash map for sync agents.
func (s *FileService) PathHashes(ctx context.Context, caller *models.JWTClaims) (map[string]string, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	hashes, err := s.catalog.PathHashes(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list file hashes")
	}
	return hashes, nil
}

// StorageStats summarises the content store.
func (s *FileService) StorageStats(ctx context.Context, caller *models.JWTClaims) (*dto.StorageStats, error) {
	if caller == nil {
		return nil, appErrors.ErrUnauthorized
	}
	start := time.Now()
	entries, err := s.store.Walk()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enumerate storage")
	}
	s.metrics.ObserveStorageWalk(time.Since(start))

	stats := &dto.StorageStats{Path: s.store.Path()}
	for _, entry := range entries {
		stats.TotalFiles++
		stats.TotalSize += entry.Size
	}
	return stats, nil
}

func (s *FileService) invalidateListings(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "files:list:*"); err != nil {
		s.logger.Warn("failed to invalidate listing cache", zap.Error(err))
	}
}

func orEmpty(v *string) *string {
	if v == nil {
		empty := ""
		return &empty
	}
	return v
}

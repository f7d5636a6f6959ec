package service

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/file-manager-api/internal/dto"
	"github.com/noah-isme/file-manager-api/internal/models"
	"github.com/noah-isme/file-manager-api/internal/repository"
	appErrors "github.com/noah-isme/file-manager-api/pkg/errors"
	"github.com/noah-isme/file-manager-api/pkg/storage"
)

type catalogStub struct {
	records map[string]*models.FileRecord
	nextID  int64
}

func newCatalogStub() *catalogStub {
	return &catalogStub{records: make(map[string]*models.FileRecord)}
}

func (c *catalogStub) Create(ctx context.Context, record *models.FileRecord) error {
	if _, ok := c.records[record.Path]; ok {
		return repository.ErrDuplicate
	}
	c.nextID++
	record.ID = c.nextID
	copy := *record
	c.records[record.Path] = &copy
	return nil
}

func (c *catalogStub) GetByID(ctx context.Context, id int64) (*models.FileRecord, error) {
	for _, record := range c.records {
		if record.ID == id {
			copy := *record
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (c *catalogStub) GetByPath(ctx context.Context, path string) (*models.FileRecord, error) {
	if record, ok := c.records[path]; ok {
		copy := *record
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (c *catalogStub) ListAll(ctx context.Context) ([]models.FileRecord, error) {
	result := make([]models.FileRecord, 0, len(c.records))
	for _, record := range c.records {
		result = append(result, *record)
	}
	return result, nil
}

func (c *catalogStub) ListPaths(ctx context.Context) ([]string, error) {
	paths := make([]string, 0, len(c.records))
	for path := range c.records {
		paths = append(paths, path)
	}
	return paths, nil
}

func (c *catalogStub) BatchInsert(ctx context.Context, records []*models.FileRecord) error {
	for _, record := range records {
		if err := c.Create(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (c *catalogStub) DeleteByPaths(ctx context.Context, paths []string) (int, error) {
	deleted := 0
	for _, path := range paths {
		if _, ok := c.records[path]; ok {
			delete(c.records, path)
			deleted++
		}
	}
	return deleted, nil
}

func (c *catalogStub) UpdateSync(ctx context.Context, id int64, size int64, hash string, modified time.Time) error {
	for _, record := range c.records {
		if record.ID == id {
			record.Size = size
			record.Hash = &hash
			record.Modified = modified
			return nil
		}
	}
	return sql.ErrNoRows
}

func (c *catalogStub) PathHashes(ctx context.Context) (map[string]string, error) {
	hashes := make(map[string]string)
	for path, record := range c.records {
		if record.Hash != nil {
			hashes[path] = *record.Hash
		}
	}
	return hashes, nil
}

type adminProbeStub struct {
	active bool
	err    error
}

func (p *adminProbeStub) AdminActiveSince(ctx context.Context, cutoff time.Time) (bool, error) {
	return p.active, p.err
}

type fileServiceFixture struct {
	service *FileService
	catalog *catalogStub
	store   *storage.LocalStorage
	probe   *adminProbeStub
	caller  *models.JWTClaims
}

func newFileServiceFixture(t *testing.T, cfg FileServiceConfig) *fileServiceFixture {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	catalog := newCatalogStub()
	probe := &adminProbeStub{active: true}
	cache := NewCacheService(nil, nil, 0, nil, false)
	svc := NewFileService(catalog, store, probe, cache, nil, zap.NewNop(), cfg)
	return &fileServiceFixture{
		service: svc,
		catalog: catalog,
		store:   store,
		probe:   probe,
		caller:  &models.JWTClaims{UserID: 1, Username: "alice", Role: models.RoleAdmin},
	}
}

func (f *fileServiceFixture) mustSave(t *testing.T, relPath, content string) {
	t.Helper()
	_, err := f.store.SaveStream(relPath, strings.NewReader(content))
	require.NoError(t, err)
}

func (f *fileServiceFixture) mustRegister(t *testing.T, relPath, filename string) *models.FileRecord {
	t.Helper()
	entry, err := f.store.Stat(relPath)
	require.NoError(t, err)
	hash, err := f.store.HashFile(relPath)
	require.NoError(t, err)
	record := &models.FileRecord{
		Filename: filename,
		Path:     relPath,
		Size:     entry.Size,
		Hash:     &hash,
		Modified: entry.Modified,
		OwnerID:  1,
	}
	require.NoError(t, f.catalog.Create(context.Background(), record))
	return record
}

func errorCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	var appErr *appErrors.Error
	require.ErrorAs(t, err, &appErr)
	return appErr.Code
}

func TestTempIDShape(t *testing.T) {
	id := TempID("docs/a.txt")
	assert.True(t, strings.HasPrefix(id, "temp_"))
	assert.Len(t, id, len("temp_")+8)
	assert.Equal(t, id, TempID("docs/a.txt"))
	assert.NotEqual(t, id, TempID("docs/b.txt"))
}

func TestListMergesCatalogOverStorage(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "registered")
	f.mustSave(t, "b.txt", "loose")
	f.mustRegister(t, "a.txt", "display-name.txt")

	result, err := f.service.List(context.Background(), 0, 10, f.caller)
	require.NoError(t, err)
	assert.True(t, result.AdminActive)
	require.Len(t, result.Items, 2)

	byPath := make(map[string]models.MergedFileView)
	for _, item := range result.Items {
		byPath[item.Path] = item
	}

	registered := byPath["a.txt"]
	assert.Equal(t, models.SourceCatalog, registered.Source)
	assert.True(t, registered.Registered)
	assert.Equal(t, "display-name.txt", registered.Name)
	assert.Equal(t, "1", registered.ID)
	require.NotNil(t, registered.OwnerID)
	assert.Equal(t, int64(1), *registered.OwnerID)

	loose := byPath["b.txt"]
	assert.Equal(t, models.SourceStorage, loose.Source)
	assert.False(t, loose.Registered)
	assert.Equal(t, TempID("b.txt"), loose.ID)
	assert.Nil(t, loose.OwnerID)
}

func TestListGateClosedHidesLooseFiles(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.probe.active = false
	f.mustSave(t, "a.txt", "registered")
	f.mustSave(t, "b.txt", "loose")
	f.mustRegister(t, "a.txt", "a.txt")

	result, err := f.service.List(context.Background(), 0, 10, f.caller)
	require.NoError(t, err)
	assert.False(t, result.AdminActive)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "a.txt", result.Items[0].Path)
}

func TestListHidesCatalogRowsMissingInStorage(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	hash := "h"
	require.NoError(t, f.catalog.Create(context.Background(), &models.FileRecord{
		Filename: "ghost.txt",
		Path:     "ghost.txt",
		Hash:     &hash,
		Modified: time.Now(),
		OwnerID:  1,
	}))

	result, err := f.service.List(context.Background(), 0, 10, f.caller)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 0, result.Pagination.Total)
}

func TestListPagination(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"old.txt", "mid.txt", "new.txt"} {
		f.mustSave(t, name, name)
		ts := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(filepath.Join(f.store.Path(), name), ts, ts))
	}

	result, err := f.service.List(context.Background(), 1, 1, f.caller)
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	// Newest first, so the second page holds the middle file.
	assert.Equal(t, "mid.txt", result.Items[0].Path)
	assert.Equal(t, 3, result.Pagination.Total)
	assert.True(t, result.Pagination.HasMore)

	last, err := f.service.List(context.Background(), 2, 1, f.caller)
	require.NoError(t, err)
	require.Len(t, last.Items, 1)
	assert.Equal(t, "old.txt", last.Items[0].Path)
	assert.False(t, last.Pagination.HasMore)
}

func TestListSkipBeyondTotal(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "x")

	result, err := f.service.List(context.Background(), 50, 10, f.caller)
	require.NoError(t, err)
	assert.Empty(t, result.Items)
	assert.Equal(t, 1, result.Pagination.Total)
	assert.False(t, result.Pagination.HasMore)
}

func TestUploadStoresAndRegisters(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})

	result, err := f.service.Upload(context.Background(), FileUpload{
		Filename: "notes.txt",
		Size:     5,
		Content:  strings.NewReader("hello"),
	}, f.caller)
	require.NoError(t, err)
	assert.True(t, result.Registered)
	assert.Equal(t, "notes.txt", result.Filename)
	assert.Equal(t, int64(5), result.Size)
	assert.True(t, strings.HasSuffix(result.Path, ".txt"))
	assert.NotEqual(t, "notes.txt", result.Path)

	record, err := f.catalog.GetByID(context.Background(), result.ID)
	require.NoError(t, err)
	require.NotNil(t, record.Hash)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", *record.Hash)
	assert.True(t, f.store.Exists(record.Path))
}

func TestUploadRejectsOversize(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{MaxUploadBytes: 4})

	_, err := f.service.Upload(context.Background(), FileUpload{
		Filename: "big.bin",
		Size:     10,
		Content:  strings.NewReader("0123456789"),
	}, f.caller)
	assert.Equal(t, appErrors.ErrPayloadTooLarge.Code, errorCode(t, err))

	entries, walkErr := f.store.Walk()
	require.NoError(t, walkErr)
	assert.Empty(t, entries)
}

func TestUploadRejectsUnderdeclaredSize(t *testing.T) {
	// A client can lie in the multipart header; the stream length is
	// what counts.
	f := newFileServiceFixture(t, FileServiceConfig{MaxUploadBytes: 4})

	_, err := f.service.Upload(context.Background(), FileUpload{
		Filename: "big.bin",
		Size:     1,
		Content:  strings.NewReader("0123456789"),
	}, f.caller)
	assert.Equal(t, appErrors.ErrPayloadTooLarge.Code, errorCode(t, err))
}

func TestDownloadByCatalogID(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "hello")
	record := f.mustRegister(t, "a.txt", "display.txt")

	result, err := f.service.Download(context.Background(), strconv.FormatInt(record.ID, 10), f.caller)
	require.NoError(t, err)
	defer result.File.Close()
	assert.Equal(t, "display.txt", result.Filename)
	assert.Equal(t, int64(5), result.Size)
	data, err := io.ReadAll(result.File)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestDownloadByTempID(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "nested/b.txt", "loose")

	result, err := f.service.Download(context.Background(), TempID("nested/b.txt"), f.caller)
	require.NoError(t, err)
	defer result.File.Close()
	assert.Equal(t, "b.txt", result.Filename)
}

func TestDownloadUnknownTempID(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})

	_, err := f.service.Download(context.Background(), "temp_deadbeef", f.caller)
	assert.Equal(t, appErrors.ErrNotFound.Code, errorCode(t, err))
}

func TestDownloadMalformedID(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})

	_, err := f.service.Download(context.Background(), "not-a-number", f.caller)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(t, err))
}

func TestDownloadInconsistentRecord(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "hello")
	record := f.mustRegister(t, "a.txt", "a.txt")
	require.NoError(t, f.store.Delete("a.txt"))

	_, err := f.service.Download(context.Background(), strconv.FormatInt(record.ID, 10), f.caller)
	assert.Equal(t, appErrors.ErrInconsistent.Code, errorCode(t, err))
}

func TestRegisterExistingFile(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "docs/report.txt", "hello")

	result, err := f.service.Register(context.Background(), "docs/report.txt", "", f.caller)
	require.NoError(t, err)
	assert.Equal(t, "report.txt", result.Filename)
	assert.True(t, result.Registered)

	record, err := f.catalog.GetByPath(context.Background(), "docs/report.txt")
	require.NoError(t, err)
	require.NotNil(t, record.Hash)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", *record.Hash)
}

func TestRegisterMissingFile(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})

	_, err := f.service.Register(context.Background(), "missing.txt", "", f.caller)
	assert.Equal(t, appErrors.ErrNotFound.Code, errorCode(t, err))
}

func TestRegisterTwiceConflicts(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "hello")

	_, err := f.service.Register(context.Background(), "a.txt", "", f.caller)
	require.NoError(t, err)
	_, err = f.service.Register(context.Background(), "a.txt", "", f.caller)
	assert.Equal(t, appErrors.ErrConflict.Code, errorCode(t, err))
}

func TestRegisterAllIsIdempotent(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "one")
	f.mustSave(t, "nested/b.txt", "two")
	f.mustRegister(t, "a.txt", "a.txt")

	result, err := f.service.RegisterAll(context.Background(), f.caller)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Registered)
	require.Len(t, result.Files, 1)
	assert.Equal(t, "nested/b.txt", result.Files[0].Path)
	assert.NotZero(t, result.Files[0].ID)

	again, err := f.service.RegisterAll(context.Background(), f.caller)
	require.NoError(t, err)
	assert.Zero(t, again.Registered)
}

func TestCleanupDeletesOnlyOrphans(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "alive.txt", "x")
	f.mustRegister(t, "alive.txt", "alive.txt")
	f.mustSave(t, "gone.txt", "y")
	f.mustRegister(t, "gone.txt", "gone.txt")
	require.NoError(t, f.store.Delete("gone.txt"))

	result, err := f.service.Cleanup(context.Background(), f.caller)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Deleted)

	_, err = f.catalog.GetByPath(context.Background(), "alive.txt")
	assert.NoError(t, err)
	_, err = f.catalog.GetByPath(context.Background(), "gone.txt")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestSyncOneLifecycle(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	req := dto.SyncRequest{
		Path:     "agent/a.txt",
		Hash:     "5d41402abc4b2a76b9719d911017c592",
		Size:     5,
		Modified: float64(time.Now().Unix()),
	}

	added, err := f.service.SyncOne(context.Background(), req, "a.txt", strings.NewReader("hello"), f.caller)
	require.NoError(t, err)
	assert.Equal(t, models.SyncAdded, added.Status)
	assert.True(t, f.store.Exists("agent/a.txt"))

	// Same hash and size: no write happens at all.
	skipped, err := f.service.SyncOne(context.Background(), req, "a.txt", failingReader{}, f.caller)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSkipped, skipped.Status)
	assert.Equal(t, added.ID, skipped.ID)

	changed := req
	changed.Hash = "different"
	changed.Size = 7
	updated, err := f.service.SyncOne(context.Background(), changed, "a.txt", strings.NewReader("changed"), f.caller)
	require.NoError(t, err)
	assert.Equal(t, models.SyncUpdated, updated.Status)

	hash, err := f.store.HashFile("agent/a.txt")
	require.NoError(t, err)
	record, err := f.catalog.GetByPath(context.Background(), "agent/a.txt")
	require.NoError(t, err)
	require.NotNil(t, record.Hash)
	assert.Equal(t, "different", *record.Hash)
	assert.NotEmpty(t, hash)
	assert.Equal(t, int64(7), record.Size)
}

func TestSyncOneRequiresPath(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})

	_, err := f.service.SyncOne(context.Background(), dto.SyncRequest{}, "", strings.NewReader(""), f.caller)
	assert.Equal(t, appErrors.ErrValidation.Code, errorCode(t, err))
}

func TestImportFileSkipsRegisteredPath(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})

	imported, err := f.service.ImportFile(context.Background(), "in/a.txt", "a.txt", strings.NewReader("hello"), f.caller)
	require.NoError(t, err)
	assert.Equal(t, models.SyncImported, imported.Status)
	assert.NotZero(t, imported.ID)

	// Re-import of a registered path never touches content.
	skipped, err := f.service.ImportFile(context.Background(), "in/a.txt", "a.txt", failingReader{}, f.caller)
	require.NoError(t, err)
	assert.Equal(t, models.SyncSkipped, skipped.Status)
}

func TestPathHashesPassThrough(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "hello")
	f.mustRegister(t, "a.txt", "a.txt")

	hashes, err := f.service.PathHashes(context.Background(), f.caller)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "5d41402abc4b2a76b9719d911017c592"}, hashes)
}

func TestStorageStats(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})
	f.mustSave(t, "a.txt", "hi")
	f.mustSave(t, "nested/b.txt", "there")

	stats, err := f.service.StorageStats(context.Background(), f.caller)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, int64(7), stats.TotalSize)
	assert.Equal(t, f.store.Path(), stats.Path)
}

func TestNilCallerIsUnauthorized(t *testing.T) {
	f := newFileServiceFixture(t, FileServiceConfig{})

	_, err := f.service.List(context.Background(), 0, 10, nil)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errorCode(t, err))
	_, err = f.service.Download(context.Background(), "1", nil)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, errorCode(t, err))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("must not be read")
}

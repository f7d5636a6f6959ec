package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/file-manager-api/internal/dto"
	"github.com/noah-isme/file-manager-api/internal/middleware"
	"github.com/noah-isme/file-manager-api/internal/models"
	"github.com/noah-isme/file-manager-api/internal/service"
	appErrors "github.com/noah-isme/file-manager-api/pkg/errors"
)

type fileServiceMock struct {
	listResp    *dto.ListFilesResult
	listErr     error
	uploadResp  *dto.UploadResult
	uploadErr   error
	downloadErr error
	syncResp    *dto.SyncResult
	syncErr     error
	lastSkip    int
	lastLimit   int
	lastUpload  service.FileUpload
	listCalled  bool
}

func (m *fileServiceMock) List(ctx context.Context, skip, limit int, caller *models.JWTClaims) (*dto.ListFilesResult, error) {
	m.listCalled = true
	m.lastSkip = skip
	m.lastLimit = limit
	return m.listResp, m.listErr
}

func (m *fileServiceMock) Upload(ctx context.Context, upload service.FileUpload, caller *models.JWTClaims) (*dto.UploadResult, error) {
	m.lastUpload = upload
	return m.uploadResp, m.uploadErr
}

func (m *fileServiceMock) Download(ctx context.Context, id string, caller *models.JWTClaims) (*service.FileDownload, error) {
	return nil, m.downloadErr
}

func (m *fileServiceMock) Register(ctx context.Context, relPath, filename string, caller *models.JWTClaims) (*dto.RegisterResult, error) {
	return &dto.RegisterResult{Path: relPath, Filename: filename, Registered: true}, nil
}

func (m *fileServiceMock) RegisterAll(ctx context.Context, caller *models.JWTClaims) (*dto.RegisterAllResult, error) {
	return &dto.RegisterAllResult{}, nil
}

func (m *fileServiceMock) Cleanup(ctx context.Context, caller *models.JWTClaims) (*dto.CleanupResult, error) {
	return &dto.CleanupResult{}, nil
}

func (m *fileServiceMock) SyncOne(ctx context.Context, req dto.SyncRequest, filename string, content io.Reader, caller *models.JWTClaims) (*dto.SyncResult, error) {
	return m.syncResp, m.syncErr
}

func (m *fileServiceMock) ImportFile(ctx context.Context, relPath, filename string, content io.Reader, caller *models.JWTClaims) (*dto.SyncResult, error) {
	return m.syncResp, m.syncErr
}

func (m *fileServiceMock) PathHashes(ctx context.Context, caller *models.JWTClaims) (map[string]string, error) {
	return map[string]string{}, nil
}

func (m *fileServiceMock) StorageStats(ctx context.Context, caller *models.JWTClaims) (*dto.StorageStats, error) {
	return &dto.StorageStats{}, nil
}

type archiveBuilderMock struct {
	lastIDs []string
	err     error
}

func (m *archiveBuilderMock) BuildArchive(ctx context.Context, ids []string, caller *models.JWTClaims, w io.Writer) (int, error) {
	m.lastIDs = ids
	if m.err != nil {
		return 0, m.err
	}
	return len(ids), nil
}

func testContext(t *testing.T, method, target string, body io.Reader) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, body)
	require.NoError(t, err)
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: 1, Username: "alice", Role: models.RoleUser})
	return c, w
}

func TestFileHandlerList(t *testing.T) {
	mockSvc := &fileServiceMock{
		listResp: &dto.ListFilesResult{
			Items:       []models.MergedFileView{{ID: "1", Path: "a.txt"}},
			Pagination:  models.Pagination{Total: 1, Limit: 5},
			AdminActive: true,
		},
	}
	h := NewFileHandler(mockSvc, &archiveBuilderMock{})

	c, w := testContext(t, http.MethodGet, "/files?skip=3&limit=5", nil)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.listCalled)
	assert.Equal(t, 3, mockSvc.lastSkip)
	assert.Equal(t, 5, mockSvc.lastLimit)

	var envelope struct {
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, true, envelope.Meta["admin_active"])
}

func TestFileHandlerListUnauthenticated(t *testing.T) {
	h := NewFileHandler(&fileServiceMock{}, &archiveBuilderMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/files", nil)
	c.Request = req

	h.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFileHandlerUploadMissingFile(t *testing.T) {
	h := NewFileHandler(&fileServiceMock{}, &archiveBuilderMock{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.Close())

	c, w := testContext(t, http.MethodPost, "/files/upload", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())

	h.Upload(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFileHandlerUpload(t *testing.T) {
	mockSvc := &fileServiceMock{uploadResp: &dto.UploadResult{ID: 1, Filename: "a.txt", Registered: true}}
	h := NewFileHandler(mockSvc, &archiveBuilderMock{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "a.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	c, w := testContext(t, http.MethodPost, "/files/upload", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())

	h.Upload(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "a.txt", mockSvc.lastUpload.Filename)
	assert.Equal(t, int64(5), mockSvc.lastUpload.Size)
}

func TestFileHandlerDownloadNotFound(t *testing.T) {
	mockSvc := &fileServiceMock{downloadErr: appErrors.Clone(appErrors.ErrNotFound, "file not found in database")}
	h := NewFileHandler(mockSvc, &archiveBuilderMock{})

	c, w := testContext(t, http.MethodGet, "/files/download/99", nil)
	c.Params = gin.Params{{Key: "id", Value: "99"}}

	h.Download(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileHandlerDownloadInconsistent(t *testing.T) {
	mockSvc := &fileServiceMock{downloadErr: appErrors.ErrInconsistent}
	h := NewFileHandler(mockSvc, &archiveBuilderMock{})

	c, w := testContext(t, http.MethodGet, "/files/download/1", nil)
	c.Params = gin.Params{{Key: "id", Value: "1"}}

	h.Download(c)
	require.Equal(t, http.StatusConflict, w.Code)

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "STORAGE_INCONSISTENCY", envelope.Error.Code)
}

func TestFileHandlerDownloadMultipleSplitsCommaList(t *testing.T) {
	builder := &archiveBuilderMock{}
	h := NewFileHandler(&fileServiceMock{}, builder)

	c, w := testContext(t, http.MethodGet, "/files/download-multiple?ids=1,2,temp_ab12cd34", nil)
	h.DownloadMultiple(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"1", "2", "temp_ab12cd34"}, builder.lastIDs)
	assert.Equal(t, "application/zip", w.Header().Get("Content-Type"))
}

func TestFileHandlerSyncInvalidPayload(t *testing.T) {
	h := NewFileHandler(&fileServiceMock{}, &archiveBuilderMock{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.WriteField("path", "a.txt"))
	// Missing hash, size and modified fields.
	require.NoError(t, writer.Close())

	c, w := testContext(t, http.MethodPost, "/files/admin/sync", body)
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())

	h.Sync(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

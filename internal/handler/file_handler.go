package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/file-manager-api/internal/dto"
	"github.com/noah-isme/file-manager-api/internal/models"
	"github.com/noah-isme/file-manager-api/internal/service"
	appErrors "github.com/noah-isme/file-manager-api/pkg/errors"
	"github.com/noah-isme/file-manager-api/pkg/response"
)

type fileService interface {
	List(ctx context.Context, skip, limit int, caller *models.JWTClaims) (*dto.ListFilesResult, error)
	Upload(ctx context.Context, upload service.FileUpload, caller *models.JWTClaims) (*dto.UploadResult, error)
	Download(ctx context.Context, id string, caller *models.JWTClaims) (*service.FileDownload, error)
	Register(ctx context.Context, relPath, filename string, caller *models.JWTClaims) (*dto.RegisterResult, error)
	RegisterAll(ctx context.Context, caller *models.JWTClaims) (*dto.RegisterAllResult, error)
	Cleanup(ctx context.Context, caller *models.JWTClaims) (*dto.CleanupResult, error)
	SyncOne(ctx context.Context, req dto.SyncRequest, filename string, content io.Reader, caller *models.JWTClaims) (*dto.SyncResult, error)
	ImportFile(ctx context.Context, relPath, filename string, content io.Reader, caller *models.JWTClaims) (*dto.SyncResult, error)
	PathHashes(ctx context.Context, caller *models.JWTClaims) (map[string]string, error)
	StorageStats(ctx context.Context, caller *models.JWTClaims) (*dto.StorageStats, error)
}

type archiveBuilder interface {
	BuildArchive(ctx context.Context, ids []string, caller *models.JWTClaims, w io.Writer) (int, error)
}

// FileHandler manages the file storage HTTP endpoints.
type FileHandler struct {
	files    fileService
	archives archiveBuilder
}

// NewFileHandler constructs the handler.
func NewFileHandler(files fileService, archives archiveBuilder) *FileHandler {
	return &FileHandler{files: files, archives: archives}
}

// List godoc
// @Summary List files merged from storage and catalog
// @Tags Files
// @Produce json
// @Param skip query int false "Offset"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /files [get]
func (h *FileHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	skip, _ := strconv.Atoi(c.DefaultQuery("skip", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	result, err := h.files.List(c.Request.Context(), skip, limit, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	pagination := result.Pagination
	response.JSON(c, http.StatusOK, result.Items, &pagination, map[string]interface{}{
		"admin_active": result.AdminActive,
	})
}

// Upload godoc
// @Summary Upload a file into storage and register it
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "File"
// @Success 201 {object} response.Envelope
// @Router /files/upload [post]
func (h *FileHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	result, err := h.files.Upload(c.Request.Context(), service.FileUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		Content:  src,
	}, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Download godoc
// @Summary Download a file by catalog id or temp id
// @Tags Files
// @Produce octet-stream
// @Param id path string true "File ID"
// @Success 200 {file} binary
// @Router /files/download/{id} [get]
func (h *FileHandler) Download(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.files.Download(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.Size, "application/octet-stream", result.File, nil)
}

// DownloadMultiple godoc
// @Summary Download several files as one zip archive
// @Tags Files
// @Produce octet-stream
// @Param ids query []string true "File IDs" collectionFormat(multi)
// @Success 200 {file} binary
// @Router /files/download-multiple [get]
func (h *FileHandler) DownloadMultiple(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	ids := c.QueryArray("ids")
	if len(ids) == 1 && strings.Contains(ids[0], ",") {
		ids = strings.Split(ids[0], ",")
	}
	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", `attachment; filename="files.zip"`)
	c.Status(http.StatusOK)
	if _, err := h.archives.BuildArchive(c.Request.Context(), ids, claims, c.Writer); err != nil {
		// Headers are already on the wire; the broken stream is all we
		// can signal. Log-worthy failures surface in the service.
		c.Abort()
	}
}

// Register godoc
// @Summary Register an existing storage file in the catalog
// @Tags Files
// @Produce json
// @Param path query string true "Relative path in storage"
// @Param filename query string false "Display filename"
// @Success 201 {object} response.Envelope
// @Router /files/register [post]
func (h *FileHandler) Register(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.files.Register(c.Request.Context(), c.Query("path"), c.Query("filename"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// RegisterAll godoc
// @Summary Register every unregistered storage file
// @Tags Files
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /files/register-all [post]
func (h *FileHandler) RegisterAll(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.files.RegisterAll(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Cleanup godoc
// @Summary Delete catalog rows whose storage file is gone
// @Tags Files
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /files/admin/cleanup [post]
func (h *FileHandler) Cleanup(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.files.Cleanup(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Sync godoc
// @Summary Synchronise one pushed file against the catalog
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param path formData string true "Relative path"
// @Param hash formData string true "Content hash"
// @Param size formData int true "Size in bytes"
// @Param modified formData number true "Unix mtime"
// @Param file formData file true "File"
// @Success 200 {object} response.Envelope
// @Router /files/admin/sync [post]
func (h *FileHandler) Sync(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SyncRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid sync payload"))
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	result, err := h.files.SyncOne(c.Request.Context(), req, fileHeader.Filename, src, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Import godoc
// @Summary Import a pushed file without content comparison
// @Tags Files
// @Accept multipart/form-data
// @Produce json
// @Param path formData string true "Relative path"
// @Param file formData file true "File"
// @Success 200 {object} response.Envelope
// @Router /files/admin/import [post]
func (h *FileHandler) Import(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	relPath := c.PostForm("path")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	result, err := h.files.ImportFile(c.Request.Context(), relPath, fileHeader.Filename, src, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Hashes godoc
// @Summary Map of registered path to content hash
// @Tags Files
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /files/admin/hashes [get]
func (h *FileHandler) Hashes(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	hashes, err := h.files.PathHashes(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, hashes, nil)
}

// Stats godoc
// @Summary Content store statistics
// @Tags Files
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /files/admin/stats [get]
func (h *FileHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.files.StorageStats(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

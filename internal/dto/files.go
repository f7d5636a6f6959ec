package dto

import (
	"time"

	"github.com/noah-isme/file-manager-api/internal/models"
)

// ListFilesResult is the reconciled, paginated listing. AdminActive
// tells callers whether they received the full view (storage included)
// or the catalog-only view.
type ListFilesResult struct {
	Items       []models.MergedFileView `json:"items"`
	Pagination  models.Pagination       `json:"pagination"`
	AdminActive bool                    `json:"admin_active"`
}

// UploadResult confirms a stored and registered upload.
type UploadResult struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Registered bool   `json:"registered"`
}

// RegisterResult confirms registration of an existing storage file.
type RegisterResult struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	Path       string `json:"path"`
	Registered bool   `json:"registered"`
}

// RegisteredFile identifies one record created by a bulk registration.
type RegisteredFile struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// RegisterAllResult summarises a bulk registration pass.
type RegisterAllResult struct {
	Registered int              `json:"registered"`
	Files      []RegisteredFile `json:"files"`
}

// CleanupResult reports how many orphaned catalog rows were removed.
type CleanupResult struct {
	Deleted int `json:"deleted"`
}

// SyncRequest carries the sync-one form fields. Modified is a Unix
// timestamp with fractional seconds, as sent by the sync agent.
type SyncRequest struct {
	Path     string  `form:"path" binding:"required"`
	Hash     string  `form:"hash" binding:"required"`
	Size     int64   `form:"size" binding:"gte=0"`
	Modified float64 `form:"modified" binding:"required"`
}

// ModifiedTime converts the agent timestamp into a time.Time.
func (r SyncRequest) ModifiedTime() time.Time {
	sec := int64(r.Modified)
	nsec := int64((r.Modified - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// SyncResult reports the outcome of a sync or import operation.
type SyncResult struct {
	Status models.SyncStatus `json:"status"`
	ID     int64             `json:"id,omitempty"`
}

// StorageStats summarises the content store.
type StorageStats struct {
	TotalFiles int    `json:"total_files"`
	TotalSize  int64  `json:"total_size"`
	Path       string `json:"storage_path"`
}

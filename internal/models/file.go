package models

import "time"

// FileRecord is one row of the metadata catalog. Path is unique and is
// a weak reference into the content store: existence of the backing
// file must be checked live, never assumed.
type FileRecord struct {
	ID        int64     `db:"id" json:"id"`
	Filename  string    `db:"filename" json:"filename"`
	Path      string    `db:"path" json:"path"`
	Size      int64     `db:"size" json:"size"`
	Hash      *string   `db:"hash" json:"hash,omitempty"`
	Modified  time.Time `db:"modified" json:"modified"`
	OwnerID   int64     `db:"owner_id" json:"owner_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FileSource identifies which side of the reconciliation produced a view.
type FileSource string

const (
	SourceStorage FileSource = "storage"
	SourceCatalog FileSource = "database"
)

// MergedFileView is one entry of the reconciled listing. Catalog-backed
// views carry the record id and owner; storage-only views carry a
// digest-derived temporary id and no owner.
type MergedFileView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Size       int64      `json:"size"`
	Modified   time.Time  `json:"modified"`
	OwnerID    *int64     `json:"owner_id,omitempty"`
	Source     FileSource `json:"source"`
	Registered bool       `json:"registered"`
}

// SyncStatus reports the outcome of a sync or import operation.
type SyncStatus string

const (
	SyncAdded    SyncStatus = "added"
	SyncUpdated  SyncStatus = "updated"
	SyncSkipped  SyncStatus = "skipped"
	SyncImported SyncStatus = "imported"
)

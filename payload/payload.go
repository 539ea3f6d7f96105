// Package payload defines the decrypted vault payload schema and the
// normalization pass that migrates historical payload shapes into it.
package payload

import "time"

// SchemaVersion is the current payload schema version.
const SchemaVersion = 2

const (
	// DefaultTrashRetentionDays applies when settings carry no retention.
	DefaultTrashRetentionDays = 30
	MinTrashRetentionDays     = 1
	MaxTrashRetentionDays     = 3650
)

// VaultPayload is the decrypted contents of a vault.
type VaultPayload struct {
	SchemaVersion int          `json:"schema_version"`
	Items         []Item       `json:"items"`
	Folders       []Folder     `json:"folders"`
	Categories    []Category   `json:"categories"`
	Trash         []TrashEntry `json:"trash"`
	Settings      Settings     `json:"settings"`
}

// Item is a stored credential.
type Item struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Username   string    `json:"username,omitempty"`
	Password   string    `json:"password,omitempty"`
	URL        string    `json:"url,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	FolderID   string    `json:"folder_id,omitempty"`
	CategoryID string    `json:"category_id,omitempty"`
	// FolderPath is a denormalized display path cached for convenience; it
	// is always re-derivable from the folder tree and recomputed on load.
	FolderPath string    `json:"folder_path,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`

	// LegacyFolder and LegacyCategory carry the flat name strings written
	// by schema v0 clients. Migration replaces them with id references.
	LegacyFolder   string `json:"folder,omitempty"`
	LegacyCategory string `json:"category,omitempty"`
}

// Folder is a node in the folder tree. A folder with no parent is a root.
type Folder struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// Category is a flat label for items.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrashEntry is a deleted item pending purge.
type TrashEntry struct {
	Item      Item      `json:"item"`
	DeletedAt time.Time `json:"deleted_at"`
	PurgeAt   time.Time `json:"purge_at,omitempty"`
}

// Settings holds per-vault preferences.
type Settings struct {
	TrashRetentionDays int `json:"trash_retention_days"`
}

// Empty returns a valid payload for a freshly created vault.
func Empty() *VaultPayload {
	return &VaultPayload{
		SchemaVersion: SchemaVersion,
		Items:         []Item{},
		Folders:       []Folder{},
		Categories:    []Category{},
		Trash:         []TrashEntry{},
		Settings:      Settings{TrashRetentionDays: DefaultTrashRetentionDays},
	}
}

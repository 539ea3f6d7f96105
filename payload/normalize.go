package payload

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brendan612/latchkey/internal/uuid"
)

// Normalize decodes an arbitrary decrypted payload and returns a fully
// valid VaultPayload at the current schema version. Missing optional fields
// never fail; they are coerced to safe defaults. Normalizing an
// already-normalized payload yields the same payload.
func Normalize(raw []byte) (*VaultPayload, error) {
	return NormalizeAt(raw, time.Now().UTC())
}

// NormalizeAt is Normalize with an explicit clock, used by tests and by
// callers replaying historical snapshots.
func NormalizeAt(raw []byte, now time.Time) (*VaultPayload, error) {
	// Decode into a zero value so a payload with no schema_version field
	// reads as version 0 and runs every migration. Pre-versioning payloads
	// never wrote the field.
	p := new(VaultPayload)
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, fmt.Errorf("decoding payload: %w", err)
		}
	}
	p.normalize(now)
	return p, nil
}

// migration upgrades a payload from one schema version to the next.
type migration func(p *VaultPayload)

// migrations[v] upgrades schema v to v+1.
var migrations = map[int]migration{
	0: migrateFlatNamesToTree,
	1: migrateTrashTimestamps,
}

func (p *VaultPayload) normalize(now time.Time) {
	if p.SchemaVersion < 0 {
		p.SchemaVersion = 0
	}
	for v := p.SchemaVersion; v < SchemaVersion; v++ {
		if m, ok := migrations[v]; ok {
			m(p)
		}
	}
	p.SchemaVersion = SchemaVersion

	p.Settings.TrashRetentionDays = clampRetention(p.Settings.TrashRetentionDays)

	if p.Items == nil {
		p.Items = []Item{}
	}
	if p.Folders == nil {
		p.Folders = []Folder{}
	}
	if p.Categories == nil {
		p.Categories = []Category{}
	}
	if p.Trash == nil {
		p.Trash = []TrashEntry{}
	}

	p.repairFolders()
	p.repairCategories()
	p.repairItems(now)
	p.purgeTrash(now)
}

// migrateFlatNamesToTree converts schema v0 flat folder/category name
// strings into structured nodes, deduplicating by first-seen name, then
// relinks each item to the new node id.
func migrateFlatNamesToTree(p *VaultPayload) {
	folderByName := make(map[string]string)
	for _, f := range p.Folders {
		folderByName[folderKey(f.Name)] = f.ID
	}
	categoryByName := make(map[string]string)
	for _, c := range p.Categories {
		categoryByName[folderKey(c.Name)] = c.ID
	}

	for i := range p.Items {
		it := &p.Items[i]
		if name := strings.TrimSpace(it.LegacyFolder); name != "" && it.FolderID == "" {
			id, ok := folderByName[folderKey(name)]
			if !ok {
				id = uuid.New()
				folderByName[folderKey(name)] = id
				p.Folders = append(p.Folders, Folder{ID: id, Name: name})
			}
			it.FolderID = id
		}
		it.LegacyFolder = ""

		if name := strings.TrimSpace(it.LegacyCategory); name != "" && it.CategoryID == "" {
			id, ok := categoryByName[folderKey(name)]
			if !ok {
				id = uuid.New()
				categoryByName[folderKey(name)] = id
				p.Categories = append(p.Categories, Category{ID: id, Name: name})
			}
			it.CategoryID = id
		}
		it.LegacyCategory = ""
	}
}

// migrateTrashTimestamps backfills purge deadlines for schema v1 trash
// entries, which carried only a deletion timestamp.
func migrateTrashTimestamps(p *VaultPayload) {
	retention := time.Duration(clampRetention(p.Settings.TrashRetentionDays)) * 24 * time.Hour
	for i := range p.Trash {
		e := &p.Trash[i]
		if e.PurgeAt.IsZero() && !e.DeletedAt.IsZero() {
			e.PurgeAt = e.DeletedAt.Add(retention)
		}
	}
}

func (p *VaultPayload) repairFolders() {
	ids := make(map[string]bool)
	kept := p.Folders[:0]
	for _, f := range p.Folders {
		if strings.TrimSpace(f.Name) == "" {
			continue
		}
		if f.ID == "" {
			f.ID = uuid.New()
		}
		if ids[f.ID] {
			continue
		}
		ids[f.ID] = true
		kept = append(kept, f)
	}
	p.Folders = kept

	// A parent reference to a missing folder degrades to root rather than
	// dropping the subtree.
	for i := range p.Folders {
		if p.Folders[i].ParentID != "" && !ids[p.Folders[i].ParentID] {
			p.Folders[i].ParentID = ""
		}
		if p.Folders[i].ParentID == p.Folders[i].ID {
			p.Folders[i].ParentID = ""
		}
	}
}

func (p *VaultPayload) repairCategories() {
	ids := make(map[string]bool)
	kept := p.Categories[:0]
	for _, c := range p.Categories {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		if c.ID == "" {
			c.ID = uuid.New()
		}
		if ids[c.ID] {
			continue
		}
		ids[c.ID] = true
		kept = append(kept, c)
	}
	p.Categories = kept
}

func (p *VaultPayload) repairItems(now time.Time) {
	folderIDs := make(map[string]bool, len(p.Folders))
	for _, f := range p.Folders {
		folderIDs[f.ID] = true
	}
	categoryIDs := make(map[string]bool, len(p.Categories))
	for _, c := range p.Categories {
		categoryIDs[c.ID] = true
	}
	paths := p.folderPaths()

	for i := range p.Items {
		it := &p.Items[i]
		if it.ID == "" {
			it.ID = uuid.New()
		}
		if it.Title == "" {
			it.Title = "Untitled"
		}
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		if it.UpdatedAt.IsZero() {
			it.UpdatedAt = it.CreatedAt
		}
		if it.FolderID != "" && !folderIDs[it.FolderID] {
			it.FolderID = ""
		}
		if it.CategoryID != "" && !categoryIDs[it.CategoryID] {
			it.CategoryID = ""
		}
		it.FolderPath = paths[it.FolderID]
	}
}

// folderPaths derives the display path for every folder id. The empty id
// maps to the empty path (root).
func (p *VaultPayload) folderPaths() map[string]string {
	byID := make(map[string]Folder, len(p.Folders))
	for _, f := range p.Folders {
		byID[f.ID] = f
	}
	paths := map[string]string{"": ""}
	var walk func(id string, depth int) string
	walk = func(id string, depth int) string {
		if path, ok := paths[id]; ok {
			return path
		}
		// Depth cap breaks parent cycles that survived repair.
		f, ok := byID[id]
		if !ok || depth > len(p.Folders) {
			return ""
		}
		parent := walk(f.ParentID, depth+1)
		path := f.Name
		if parent != "" {
			path = parent + "/" + f.Name
		}
		paths[id] = path
		return path
	}
	for _, f := range p.Folders {
		walk(f.ID, 0)
	}
	return paths
}

func (p *VaultPayload) purgeTrash(now time.Time) {
	retention := time.Duration(p.Settings.TrashRetentionDays) * 24 * time.Hour
	kept := p.Trash[:0]
	for _, e := range p.Trash {
		if e.DeletedAt.IsZero() {
			e.DeletedAt = now
		}
		if e.PurgeAt.IsZero() {
			e.PurgeAt = e.DeletedAt.Add(retention)
		}
		if !e.PurgeAt.After(now) {
			continue
		}
		if e.Item.ID == "" {
			e.Item.ID = uuid.New()
		}
		kept = append(kept, e)
	}
	p.Trash = kept
}

func clampRetention(days int) int {
	if days < MinTrashRetentionDays {
		if days == 0 {
			return DefaultTrashRetentionDays
		}
		return MinTrashRetentionDays
	}
	if days > MaxTrashRetentionDays {
		return MaxTrashRetentionDays
	}
	return days
}

func folderKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

package services

import (
	"strings"

	"mailcache/models"
)

// Folder pairs a logical key with the provider's name for it.
type Folder struct {
	Key  string
	Name string
}

var defaultFolderNames = map[string]string{
	models.FolderInbox:   "INBOX",
	models.FolderSent:    "Sent Items",
	models.FolderDraft:   "Drafts",
	models.FolderDeleted: "Deleted Items",
	models.FolderJunk:    "Junk Mail",
	models.FolderArchive: "Archive",
}

type FolderResolver struct {
	names map[string]string
}

// NewFolderResolver builds the key table; empty or unknown overrides are ignored.
func NewFolderResolver(overrides map[string]string) *FolderResolver {
	names := make(map[string]string, len(defaultFolderNames))
	for k, v := range defaultFolderNames {
		names[k] = v
	}
	for k, v := range overrides {
		k = strings.ToLower(strings.TrimSpace(k))
		if _, ok := names[k]; ok && strings.TrimSpace(v) != "" {
			names[k] = strings.TrimSpace(v)
		}
	}
	return &FolderResolver{names: names}
}

// Resolve maps a logical key to its folder. Unknown keys fall back to the
// inbox and report false, so callers can log the substitution.
func (r *FolderResolver) Resolve(key string) (Folder, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	if name, ok := r.names[k]; ok {
		return Folder{Key: k, Name: name}, true
	}
	return Folder{Key: models.FolderInbox, Name: r.names[models.FolderInbox]}, false
}

// Standard returns the six logical folders in lookup order.
func (r *FolderResolver) Standard() []Folder {
	out := make([]Folder, 0, len(models.FolderKeys))
	for _, k := range models.FolderKeys {
		out = append(out, Folder{Key: k, Name: r.names[k]})
	}
	return out
}

// KeyForName finds the logical key of a provider folder name, if it has one.
func (r *FolderResolver) KeyForName(name string) (string, bool) {
	for _, k := range models.FolderKeys {
		if r.names[k] == name {
			return k, true
		}
	}
	return "", false
}

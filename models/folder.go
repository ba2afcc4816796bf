package models

import "strings"

// Logical folder keys, in the order folders are searched and aggregated.
const (
	FolderInbox   = "inbox"
	FolderSent    = "sent"
	FolderDraft   = "draft"
	FolderDeleted = "deleted"
	FolderJunk    = "junk"
	FolderArchive = "archive"
)

var FolderKeys = []string{
	FolderInbox,
	FolderSent,
	FolderDraft,
	FolderDeleted,
	FolderJunk,
	FolderArchive,
}

// IsFolderKey reports whether key names one of the logical folders.
func IsFolderKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, k := range FolderKeys {
		if k == key {
			return true
		}
	}
	return false
}

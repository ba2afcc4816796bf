package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveKnownKeys(t *testing.T) {
	r := NewFolderResolver(nil)

	cases := map[string]string{
		"inbox":     "INBOX",
		"sent":      "Sent Items",
		"draft":     "Drafts",
		"deleted":   "Deleted Items",
		"junk":      "Junk Mail",
		"archive":   "Archive",
		" ARCHIVE ": "Archive",
	}
	for key, want := range cases {
		f, ok := r.Resolve(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, f.Name, key)
	}
}

func TestResolveUnknownFallsBackToInbox(t *testing.T) {
	r := NewFolderResolver(nil)

	f, ok := r.Resolve("spam")
	assert.False(t, ok)
	assert.Equal(t, Folder{Key: "inbox", Name: "INBOX"}, f)
}

func TestResolveOverrides(t *testing.T) {
	r := NewFolderResolver(map[string]string{
		"sent":    "[Gmail]/Sent Mail",
		"junk":    "",
		"unknown": "Whatever",
	})

	f, _ := r.Resolve("sent")
	assert.Equal(t, "[Gmail]/Sent Mail", f.Name)
	f, _ = r.Resolve("junk")
	assert.Equal(t, "Junk Mail", f.Name)

	key, ok := r.KeyForName("[Gmail]/Sent Mail")
	assert.True(t, ok)
	assert.Equal(t, "sent", key)

	assert.Len(t, r.Standard(), 6)
	assert.Equal(t, "inbox", r.Standard()[0].Key)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcache/models"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestRedisStoreMiss(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestFolderRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	list := []models.UniboxEmail{{UID: 7, MessageID: "a@x", Folder: "INBOX", Subject: "hi"}}
	require.NoError(t, SetFolder(ctx, store, "inbox", list, time.Hour))

	assert.True(t, mr.Exists("emails:folder:inbox"))
	assert.Equal(t, time.Hour, mr.TTL("emails:folder:inbox"))

	got, err := GetFolder(ctx, store, "inbox")
	require.NoError(t, err)
	assert.Equal(t, list, got)

	mr.FastForward(time.Hour + time.Second)
	_, err = GetFolder(ctx, store, "inbox")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestEmptyFolderIsStoredAsList(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	require.NoError(t, SetFolder(ctx, store, "junk", nil, time.Minute))
	raw, err := mr.Get("emails:folder:junk")
	require.NoError(t, err)
	assert.Equal(t, "[]", raw)
}

func TestAggregateAndDelete(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)

	all := map[string][]models.UniboxEmail{
		"inbox": {{MessageID: "a@x"}},
		"sent":  {},
	}
	require.NoError(t, SetAll(ctx, store, all, time.Hour))
	got, err := GetAll(ctx, store)
	require.NoError(t, err)
	assert.Len(t, got["inbox"], 1)
	assert.Empty(t, got["sent"])

	require.NoError(t, SetFolder(ctx, store, "inbox", nil, time.Hour))
	require.NoError(t, store.Delete(ctx, AllFoldersKey, FolderKey("inbox")))
	assert.False(t, mr.Exists(AllFoldersKey))
	assert.False(t, mr.Exists("emails:folder:inbox"))
	assert.NoError(t, store.Delete(ctx))
}

func TestCorruptEntry(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestStore(t)
	require.NoError(t, mr.Set("emails:folder:inbox", "{not json"))

	_, err := GetFolder(ctx, store, "inbox")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

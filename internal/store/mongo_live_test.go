package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// newLiveMongo connects to SPARK_TEST_MONGO_URI and drops its scratch
// database on cleanup.
func newLiveMongo(t *testing.T) *MongoBackend {
	t.Helper()

	uri := os.Getenv("SPARK_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("SPARK_TEST_MONGO_URI not set")
	}

	ctx := context.Background()
	b, err := NewMongoBackend(ctx, uri, fmt.Sprintf("spark_test_%d", time.Now().UnixNano()), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = b.db.Drop(context.Background())
		_ = b.Close(context.Background())
	})

	require.NoError(t, b.Ping(ctx))
	return b
}

func TestMongoCollection_Live(t *testing.T) {
	ctx := context.Background()
	b := newLiveMongo(t)
	items := openItems(t, b)

	require.NoError(t, items.EnsureUnique(ctx, "name"))

	created, err := items.Create(ctx, testItem{Name: "a", Tags: []string{"u1", "u2"}})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.Created.IsZero())

	_, err = items.Create(ctx, testItem{Name: "a"})
	assert.ErrorIs(t, err, ErrDuplicate)

	t.Run("update returns the new document", func(t *testing.T) {
		upd := NewUpdate().
			PushField("entries", testItem{ID: "e1", Name: "x"}).
			PushField("tags", "u3").
			SetField("count", 2)

		got, err := items.UpdateByID(ctx, created.ID, *upd)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Count)
		assert.Equal(t, []string{"u1", "u2", "u3"}, got.Tags)
		require.Len(t, got.Entries, 1)
		assert.Equal(t, "e1", got.Entries[0].ID)
	})

	t.Run("pull removes matching embedded documents only", func(t *testing.T) {
		_, err := items.UpdateByID(ctx, created.ID, *NewUpdate().PushField("entries", testItem{ID: "e2", Name: "y"}))
		require.NoError(t, err)

		got, err := items.UpdateByID(ctx, created.ID, *NewUpdate().PullWhere("entries", map[string]any{IDField: "e1", "name": "nope"}))
		require.NoError(t, err)
		assert.Len(t, got.Entries, 2, "expected a partial match to keep the element")

		got, err = items.UpdateByID(ctx, created.ID, *NewUpdate().PullWhere("entries", map[string]any{IDField: "e1", "name": "x"}))
		require.NoError(t, err)
		require.Len(t, got.Entries, 1)
		assert.Equal(t, "e2", got.Entries[0].ID)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := items.UpdateByID(ctx, "missing", *NewUpdate().SetField("count", 1))
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = items.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update honours unique index", func(t *testing.T) {
		other, err := items.Create(ctx, testItem{Name: "b"})
		require.NoError(t, err)
		_, err = items.UpdateByID(ctx, other.ID, *NewUpdate().SetField("name", "a"))
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("filters agree with the file engine", func(t *testing.T) {
		found, err := items.Find(ctx, Where(NotIn("tags", "u1")))
		require.NoError(t, err)
		for _, f := range found {
			assert.NotContains(t, f.Tags, "u1")
		}

		found, err = items.Find(ctx, Where(All("tags", "u2", "u1")))
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, created.ID, found[0].ID)
	})
}

func TestMongoCollection_UniqueIgnoresMissingField(t *testing.T) {
	ctx := context.Background()
	b := newLiveMongo(t)

	raw := b.db.Collection("legacy")
	_, err := raw.InsertMany(ctx, []any{
		bson.M{IDField: "l1", "members": bson.A{"u1", "u2"}},
		bson.M{IDField: "l2", "members": bson.A{"u3", "u4"}},
	})
	require.NoError(t, err)

	legacy, err := Open[testItem](b, "legacy")
	require.NoError(t, err)
	assert.NoError(t, legacy.EnsureUnique(ctx, "pair_key"), "expected documents without the field to be allowed")

	_, err = raw.InsertOne(ctx, bson.M{IDField: "l3", "pair_key": "u1:u2"})
	require.NoError(t, err)
	_, err = raw.InsertOne(ctx, bson.M{IDField: "l4", "pair_key": "u1:u2"})
	assert.Error(t, err, "expected the index to reject a repeated value")
}

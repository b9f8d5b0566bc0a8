package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func Test_toBSONFilter(t *testing.T) {
	tcases := []struct {
		name     string
		filter   Filter
		expected bson.M
	}{
		{
			name:     "empty filter",
			filter:   nil,
			expected: bson.M{},
		},
		{
			name:     "single equality",
			filter:   Where(Eq("pair_key", "u1:u2")),
			expected: bson.M{"pair_key": "u1:u2"},
		},
		{
			name:     "not in",
			filter:   Where(NotIn("_id", "a", "b")),
			expected: bson.M{"_id": bson.M{"$nin": bson.A{"a", "b"}}},
		},
		{
			name:   "all combined with equality",
			filter: Where(All("members", "u1", "u2"), Eq("kind", "text")),
			expected: bson.M{"$and": []bson.M{
				{"members": bson.M{"$all": bson.A{"u1", "u2"}}},
				{"kind": "text"},
			}},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, toBSONFilter(tc.filter))
		})
	}
}

func Test_toBSONUpdate(t *testing.T) {
	u := NewUpdate().
		SetField("updated_at", "now").
		PushField("messages", bson.M{"_id": "m1"}).
		PullWhere("messages", map[string]any{"_id": "m0", "sender_id": "u1"})

	expected := bson.M{
		"$set":  bson.M{"updated_at": "now"},
		"$push": bson.M{"messages": bson.M{"_id": "m1"}},
		"$pull": bson.M{"messages": bson.M{"_id": "m0", "sender_id": "u1"}},
	}

	assert.Equal(t, expected, toBSONUpdate(*u))
	assert.Equal(t, bson.M{}, toBSONUpdate(Update{}), "expected no operators for an empty update")
}

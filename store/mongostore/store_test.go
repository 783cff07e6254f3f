package mongostore

import (
	"testing"

	"github.com/getpup/configsync"
	"github.com/getpup/configsync/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestActionQuery(t *testing.T) {
	t.Run("builds target and action conditions", func(t *testing.T) {
		q, ok := actionQuery(store.ActionFilter{
			After:            42,
			Targets:          []string{"p1", configsync.Wildcard},
			ActionIDs:        []string{"flush_cache"},
			ExcludeActionIDs: []string{"reindex"},
		})

		require.True(t, ok)
		assert.Equal(t, bson.M{"$gt": int64(42)}, q["lt"])
		assert.Equal(t, bson.M{"$in": []string{"p1", configsync.Wildcard}}, q["target"])
		assert.Equal(t, bson.M{"$in": []string{"flush_cache"}, "$nin": []string{"reindex"}}, q["actionid"])
	})

	t.Run("no action condition when unrestricted", func(t *testing.T) {
		q, ok := actionQuery(store.ActionFilter{Targets: []string{configsync.Wildcard}})

		require.True(t, ok)
		assert.NotContains(t, q, "actionid")
	})

	t.Run("empty filters match nothing", func(t *testing.T) {
		_, ok := actionQuery(store.ActionFilter{})
		assert.False(t, ok)

		_, ok = actionQuery(store.ActionFilter{Targets: []string{"p1"}, ActionIDs: []string{}})
		assert.False(t, ok)
	})
}

func TestAlternativeDoc_Record(t *testing.T) {
	t.Run("bson containers become plain maps and slices", func(t *testing.T) {
		doc := alternativeDoc{
			EndpointID: "search",
			Config: bson.M{
				"methods":     "probability",
				"probability": primitive.A{primitive.A{"a", 0.25}, primitive.A{"b", 0.75}},
				"nested":      bson.D{{Key: "k", Value: int32(1)}},
			},
			LogicalTime: 7,
		}

		rec := doc.record()

		assert.Equal(t, "search", rec.EndpointID)
		assert.Equal(t, int64(7), rec.LogicalTime)
		assert.Equal(t, []any{[]any{"a", 0.25}, []any{"b", 0.75}}, rec.Config["probability"])
		assert.Equal(t, map[string]any{"k": int32(1)}, rec.Config["nested"])
	})

	t.Run("missing config stays nil", func(t *testing.T) {
		rec := alternativeDoc{EndpointID: "search", LogicalTime: 1}.record()
		assert.Nil(t, rec.Config)
	})
}

func TestNew_AppliesDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "config", cfg.Database)
	assert.Equal(t, int64(1000), cfg.ActionsCapacity)
	assert.Equal(t, int64(1<<20), cfg.ActionsSizeBytes)
}

package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUpsertReplacesCapabilities(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	reg := NewProviderRegistry(db)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, ProviderCapabilities{
		ProviderID: "p1",
		Models:     []string{"llama-3-8b", "mistral-7b"},
		Kinds:      []string{"chat"},
	}))
	require.NoError(t, reg.Upsert(ctx, ProviderCapabilities{
		ProviderID: "p1",
		Models:     []string{"llama-3-70b"},
		Kinds:      []string{"chat", "completion"},
	}))

	active, err := reg.ActiveSnapshot(ctx, time.Now().UTC(), DefaultProviderTTL)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, []string{"llama-3-70b"}, active[0].Models)
	assert.Equal(t, []string{"chat", "completion"}, active[0].Kinds)
}

func TestRegistryExpiresStaleProviders(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	reg := NewProviderRegistry(db)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, reg.Upsert(ctx, ProviderCapabilities{
		ProviderID: "stale",
		Models:     []string{"m"},
		Kinds:      []string{"chat"},
		LastSeen:   now.Add(-10 * time.Minute),
	}))
	require.NoError(t, reg.Upsert(ctx, ProviderCapabilities{
		ProviderID: "fresh",
		Models:     []string{"m"},
		Kinds:      []string{"chat"},
	}))

	active, err := reg.ActiveSnapshot(ctx, now, DefaultProviderTTL)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "fresh", active[0].ProviderID)

	// The stale row was purged, not just filtered.
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM providers;").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRegistryActiveModels(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	reg := NewProviderRegistry(db)
	ctx := context.Background()

	require.NoError(t, reg.Upsert(ctx, ProviderCapabilities{
		ProviderID: "a",
		Models:     []string{"llama-3-8b", "mistral-7b"},
		Kinds:      []string{"chat"},
	}))
	require.NoError(t, reg.Upsert(ctx, ProviderCapabilities{
		ProviderID: "b",
		Models:     []string{"mistral-7b", "qwen-2"},
		Kinds:      []string{"chat"},
	}))

	models, err := reg.ActiveModels(ctx, time.Now().UTC(), DefaultProviderTTL)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"llama-3-8b", "mistral-7b", "qwen-2"}, models)
}

func TestRegistryRejectsEmptyID(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	reg := NewProviderRegistry(db)

	assert.Error(t, reg.Upsert(context.Background(), ProviderCapabilities{}))
}

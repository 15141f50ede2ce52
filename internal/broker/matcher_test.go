package broker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMatcher(t *testing.T) (*Matcher, *RequestStore, *sql.DB) {
	t.Helper()
	db := openTestDB(t)
	store := NewRequestStore(db)
	reg := NewProviderRegistry(db)
	return NewMatcher(store, reg, DefaultProviderTTL), store, db
}

func chatCaps(models ...string) ProviderCapabilities {
	return ProviderCapabilities{ProviderID: "p1", Models: models, Kinds: []string{"chat"}}
}

func TestMatchClaimsOldestFirst(t *testing.T) {
	t.Parallel()
	m, store, _ := newTestMatcher(t)
	ctx := context.Background()

	first, err := store.Enqueue(ctx, EnqueueRequest{Kind: "chat", Model: "llama-3-8b"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	second, err := store.Enqueue(ctx, EnqueueRequest{Kind: "chat", Model: "llama-3-8b"})
	require.NoError(t, err)

	got, err := m.Match(ctx, chatCaps("llama-3-8b"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first, got.ID)
	assert.Equal(t, StatusProcessing, got.Status)
	require.NotNil(t, got.StartedAt)

	got, err = m.Match(ctx, chatCaps("llama-3-8b"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second, got.ID)
}

func TestMatchFiltersByModelAndKind(t *testing.T) {
	t.Parallel()
	m, store, _ := newTestMatcher(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, EnqueueRequest{Kind: "chat", Model: "qwen-2"})
	require.NoError(t, err)
	_, err = store.Enqueue(ctx, EnqueueRequest{Kind: "embedding", Model: "llama-3-8b"})
	require.NoError(t, err)
	wanted, err := store.Enqueue(ctx, EnqueueRequest{Kind: "chat", Model: "llama-3-8b"})
	require.NoError(t, err)

	got, err := m.Match(ctx, chatCaps("llama-3-8b"))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wanted, got.ID)

	// Nothing else the provider can serve.
	got, err = m.Match(ctx, chatCaps("llama-3-8b"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatchEmptyQueue(t *testing.T) {
	t.Parallel()
	m, _, _ := newTestMatcher(t)

	got, err := m.Match(context.Background(), chatCaps("llama-3-8b"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatchSkipsClaimedRequests(t *testing.T) {
	t.Parallel()
	m, store, _ := newTestMatcher(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, EnqueueRequest{Kind: "chat", Model: "llama-3-8b"})
	require.NoError(t, err)
	won, err := store.Claim(ctx, id)
	require.NoError(t, err)
	require.True(t, won)

	got, err := m.Match(ctx, chatCaps("llama-3-8b"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatchStaleRegistrationNeverMatches(t *testing.T) {
	t.Parallel()
	m, store, _ := newTestMatcher(t)
	ctx := context.Background()

	_, err := store.Enqueue(ctx, EnqueueRequest{Kind: "chat", Model: "llama-3-8b"})
	require.NoError(t, err)

	caps := chatCaps("llama-3-8b")
	caps.LastSeen = time.Now().UTC().Add(-2 * DefaultProviderTTL)

	got, err := m.Match(ctx, caps)
	require.NoError(t, err)
	assert.Nil(t, got)

	// The request is still claimable by a live provider.
	got, err = m.Match(ctx, chatCaps("llama-3-8b"))
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMatchRefreshesRegistration(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	store := NewRequestStore(db)
	reg := NewProviderRegistry(db)
	m := NewMatcher(store, reg, DefaultProviderTTL)
	ctx := context.Background()

	_, err := m.Match(ctx, chatCaps("llama-3-8b"))
	require.NoError(t, err)

	active, err := reg.ActiveSnapshot(ctx, time.Now().UTC(), DefaultProviderTTL)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p1", active[0].ProviderID)
}

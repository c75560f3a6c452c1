package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/brojonat/memofeed/service/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMemo(t *testing.T) {
	event := FromMemo("Acct111", "devnet", SourceArchived, solana.Memo{ID: "sig", Content: "gm", Timestamp: 42})

	assert.Equal(t, "sig", event.Signature)
	assert.Equal(t, "Acct111", event.Account)
	assert.Equal(t, "gm", event.Content)
	assert.Equal(t, int64(42), event.Timestamp)
	assert.Equal(t, "devnet", event.Network)
	assert.Equal(t, SourceArchived, event.Source)
	assert.False(t, event.PublishedAt.IsZero())
	assert.Equal(t, "memos.Acct111", event.Subject())

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"source":"archived"`)
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishMemo(ctx, &MemoEvent{Account: "a", Signature: "1"}))
	published, err := m.PublishMemoBatch(ctx, []*MemoEvent{{Account: "b", Signature: "2"}, {Account: "a", Signature: "3"}})
	require.NoError(t, err)
	assert.Len(t, published, 2)

	assert.Len(t, m.GetPublishedEvents(), 3)
	assert.Len(t, m.GetPublishedEventsForAccount("a"), 2)

	m.SetPublishError(errors.New("nats down"))
	_, err = m.PublishMemoBatch(ctx, []*MemoEvent{{Account: "a"}})
	assert.Error(t, err)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}

package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	natspkg "github.com/brojonat/memofeed/service/nats"
	"github.com/brojonat/memofeed/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock Store
type MockStore struct {
	mock.Mock
}

func (m *MockStore) UpsertMemos(ctx context.Context, account, network string, memos []solana.Memo) ([]solana.Memo, int, error) {
	args := m.Called(ctx, account, network, memos)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]solana.Memo), args.Int(1), args.Error(2)
}

func (m *MockStore) PendingMemos(ctx context.Context, account, network string, limit int32) ([]solana.Memo, error) {
	args := m.Called(ctx, account, network, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]solana.Memo), args.Error(1)
}

func (m *MockStore) MarkPublished(ctx context.Context, account, network string, signatures []string) (int64, error) {
	args := m.Called(ctx, account, network, signatures)
	return int64(args.Int(0)), args.Error(1)
}

// Mock Assembler
type MockAssembler struct {
	mock.Mock
}

func (m *MockAssembler) Assemble(ctx context.Context, account solanago.PublicKey) ([]solana.Memo, error) {
	args := m.Called(ctx, account)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]solana.Memo), args.Error(1)
}

// Mock Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishMemoBatch(ctx context.Context, events []*natspkg.MemoEvent) ([]*natspkg.MemoEvent, error) {
	args := m.Called(ctx, events)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*natspkg.MemoEvent), args.Error(1)
}

func TestAssembleFeed(t *testing.T) {
	account := solanago.MustPublicKeyFromBase58(testAccount)
	memos := []solana.Memo{{ID: "sig1", Content: "gm", Timestamp: 100}}

	t.Run("returns assembled memos", func(t *testing.T) {
		assembler := new(MockAssembler)
		assembler.On("Assemble", mock.Anything, account).Return(memos, nil)
		a := NewActivities(nil, assembler, nil, "devnet", nil, nil)

		result, err := a.AssembleFeed(context.Background(), AssembleFeedInput{Account: testAccount, Network: "devnet"})
		require.NoError(t, err)
		assert.Equal(t, memos, result.Memos)
		assembler.AssertExpectations(t)
	})

	t.Run("rejects other networks", func(t *testing.T) {
		assembler := new(MockAssembler)
		a := NewActivities(nil, assembler, nil, "devnet", nil, nil)

		_, err := a.AssembleFeed(context.Background(), AssembleFeedInput{Account: testAccount, Network: "mainnet-beta"})
		assert.ErrorContains(t, err, "mainnet-beta")
		assembler.AssertNotCalled(t, "Assemble", mock.Anything, mock.Anything)
	})

	t.Run("rejects invalid address", func(t *testing.T) {
		a := NewActivities(nil, new(MockAssembler), nil, "devnet", nil, nil)
		_, err := a.AssembleFeed(context.Background(), AssembleFeedInput{Account: "not-an-address", Network: "devnet"})
		assert.ErrorContains(t, err, "invalid account address")
	})

	t.Run("propagates listing failure", func(t *testing.T) {
		assembler := new(MockAssembler)
		assembler.On("Assemble", mock.Anything, account).Return(nil, errors.New("failed to list signatures: boom"))
		a := NewActivities(nil, assembler, nil, "devnet", nil, nil)

		_, err := a.AssembleFeed(context.Background(), AssembleFeedInput{Account: testAccount, Network: "devnet"})
		assert.ErrorContains(t, err, "failed to assemble feed")
	})
}

func TestWriteMemos(t *testing.T) {
	memos := []solana.Memo{
		{ID: "sig2", Content: "new", Timestamp: 200},
		{ID: "sig1", Content: "old", Timestamp: 100},
	}

	t.Run("reports written and skipped", func(t *testing.T) {
		store := new(MockStore)
		store.On("UpsertMemos", mock.Anything, testAccount, "devnet", memos).Return(memos[:1], 1, nil)
		a := NewActivities(store, nil, nil, "devnet", nil, nil)

		result, err := a.WriteMemos(context.Background(), WriteMemosInput{Account: testAccount, Network: "devnet", Memos: memos})
		require.NoError(t, err)
		assert.Equal(t, memos[:1], result.Written)
		assert.Equal(t, 1, result.Skipped)
		store.AssertExpectations(t)
	})

	t.Run("store error", func(t *testing.T) {
		store := new(MockStore)
		store.On("UpsertMemos", mock.Anything, testAccount, "devnet", memos).Return(nil, 0, errors.New("connection refused"))
		a := NewActivities(store, nil, nil, "devnet", nil, nil)

		_, err := a.WriteMemos(context.Background(), WriteMemosInput{Account: testAccount, Network: "devnet", Memos: memos})
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestPublishMemos(t *testing.T) {
	pending := []solana.Memo{
		{ID: "sig1", Content: "gm", Timestamp: 100},
		{ID: "sig2", Content: "gn", Timestamp: 200},
	}
	input := PublishMemosInput{Account: testAccount, Network: "devnet"}

	t.Run("publishes pending memos and marks them", func(t *testing.T) {
		store := new(MockStore)
		store.On("PendingMemos", mock.Anything, testAccount, "devnet", int32(maxPublishBatch)).Return(pending, nil)
		store.On("MarkPublished", mock.Anything, testAccount, "devnet", []string{"sig1", "sig2"}).Return(2, nil)

		publisher := natspkg.NewMockPublisher()
		a := NewActivities(store, nil, publisher, "devnet", nil, nil)

		result, err := a.PublishMemos(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Published)

		events := publisher.GetPublishedEventsForAccount(testAccount)
		require.Len(t, events, 2)
		assert.Equal(t, "sig1", events[0].Signature)
		assert.Equal(t, natspkg.SourceArchived, events[0].Source)
		store.AssertExpectations(t)
	})

	t.Run("nothing pending", func(t *testing.T) {
		store := new(MockStore)
		store.On("PendingMemos", mock.Anything, testAccount, "devnet", mock.Anything).Return([]solana.Memo{}, nil)
		publisher := new(MockPublisher)
		a := NewActivities(store, nil, publisher, "devnet", nil, nil)

		result, err := a.PublishMemos(context.Background(), input)
		require.NoError(t, err)
		assert.Zero(t, result.Published)
		publisher.AssertNotCalled(t, "PublishMemoBatch", mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "MarkPublished", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no publisher configured", func(t *testing.T) {
		store := new(MockStore)
		a := NewActivities(store, nil, nil, "devnet", nil, nil)
		result, err := a.PublishMemos(context.Background(), input)
		require.NoError(t, err)
		assert.Zero(t, result.Published)
		store.AssertNotCalled(t, "PendingMemos", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("partial failure marks only what went out", func(t *testing.T) {
		store := new(MockStore)
		store.On("PendingMemos", mock.Anything, testAccount, "devnet", mock.Anything).Return(pending, nil)
		store.On("MarkPublished", mock.Anything, testAccount, "devnet", []string{"sig2"}).Return(1, nil)

		publisher := new(MockPublisher)
		publisher.On("PublishMemoBatch", mock.Anything, mock.Anything).
			Return([]*natspkg.MemoEvent{{Account: testAccount, Signature: "sig2"}}, errors.New("nats: timeout"))
		a := NewActivities(store, nil, publisher, "devnet", nil, nil)

		_, err := a.PublishMemos(context.Background(), input)
		assert.ErrorContains(t, err, "failed to publish 1 of 2 memos")
		store.AssertExpectations(t)
	})

	t.Run("memos left pending by a failed run go out on the next", func(t *testing.T) {
		store := new(MockStore)
		store.On("PendingMemos", mock.Anything, testAccount, "devnet", mock.Anything).Return(pending[:1], nil).Twice()
		store.On("MarkPublished", mock.Anything, testAccount, "devnet", []string{"sig1"}).Return(1, nil).Once()

		publisher := natspkg.NewMockPublisher()
		publisher.SetPublishError(errors.New("nats down"))
		a := NewActivities(store, nil, publisher, "devnet", nil, nil)

		_, err := a.PublishMemos(context.Background(), input)
		require.Error(t, err)

		publisher.SetPublishError(nil)
		result, err := a.PublishMemos(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Published)
		store.AssertExpectations(t)
	})

	t.Run("store failure", func(t *testing.T) {
		store := new(MockStore)
		store.On("PendingMemos", mock.Anything, testAccount, "devnet", mock.Anything).Return(nil, errors.New("connection refused"))
		a := NewActivities(store, nil, new(MockPublisher), "devnet", nil, nil)

		_, err := a.PublishMemos(context.Background(), input)
		assert.ErrorContains(t, err, "connection refused")
	})
}

func TestMockScheduler(t *testing.T) {
	s := NewMockScheduler()
	ctx := context.Background()

	require.NoError(t, s.UpsertArchiveSchedule(ctx, testAccount, "devnet", 0))
	require.NoError(t, s.UpsertArchiveSchedule(ctx, testAccount, "devnet", 10*time.Minute))
	interval, ok := s.GetScheduleInterval(testAccount, "devnet")
	require.True(t, ok)
	assert.Equal(t, 10*time.Minute, interval)
	assert.Equal(t, 1, s.ScheduleCount())

	require.NoError(t, s.DeleteArchiveSchedule(ctx, testAccount, "devnet"))
	assert.Error(t, s.DeleteArchiveSchedule(ctx, testAccount, "devnet"))
}

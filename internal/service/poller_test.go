package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// orderRecorder records the update ids it is handed
type orderRecorder struct {
	mu      sync.Mutex
	ids     []int
	panicOn int
	err     error
}

func (r *orderRecorder) Dispatch(ctx context.Context, update tgbotapi.Update) error {
	r.mu.Lock()
	r.ids = append(r.ids, update.UpdateID)
	r.mu.Unlock()
	if update.UpdateID == r.panicOn {
		panic("boom")
	}
	return r.err
}

func (r *orderRecorder) IDs() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.ids...)
}

func TestNewUpdatePoller_Defaults(t *testing.T) {
	p := NewUpdatePoller(&mockUpdateProvider{}, &orderRecorder{}, PollerConfig{InitialOffset: 12}, quietLogger())

	assert.Equal(t, 30, p.config.TimeoutSec)
	assert.Equal(t, time.Second, p.config.Delay)
	assert.Equal(t, 12, p.Offset())
	assert.False(t, p.IsRunning())
}

func TestPollOnce_DispatchesInUpdateOrder(t *testing.T) {
	provider := &mockUpdateProvider{}
	recorder := &orderRecorder{}
	p := NewUpdatePoller(provider, recorder, PollerConfig{TimeoutSec: 5}, quietLogger())

	provider.On("GetUpdates", mock.Anything, 0, 5).Return([]tgbotapi.Update{
		{UpdateID: 7}, {UpdateID: 5}, {UpdateID: 6},
	}, nil).Once()

	require.NoError(t, p.PollOnce(context.Background()))

	assert.Equal(t, []int{5, 6, 7}, recorder.IDs())
	assert.Equal(t, 8, p.Offset())
	provider.AssertExpectations(t)
}

func TestPollOnce_NextRequestUsesAdvancedOffset(t *testing.T) {
	provider := &mockUpdateProvider{}
	recorder := &orderRecorder{}
	p := NewUpdatePoller(provider, recorder, PollerConfig{InitialOffset: 3, TimeoutSec: 5}, quietLogger())

	provider.On("GetUpdates", mock.Anything, 3, 5).Return([]tgbotapi.Update{{UpdateID: 3}}, nil).Once()
	provider.On("GetUpdates", mock.Anything, 4, 5).Return([]tgbotapi.Update{}, nil).Once()

	require.NoError(t, p.PollOnce(context.Background()))
	require.NoError(t, p.PollOnce(context.Background()))

	assert.Equal(t, 4, p.Offset())
	provider.AssertExpectations(t)
}

func TestPollOnce_ErrorKeepsOffset(t *testing.T) {
	provider := &mockUpdateProvider{}
	recorder := &orderRecorder{}
	p := NewUpdatePoller(provider, recorder, PollerConfig{InitialOffset: 9, TimeoutSec: 5}, quietLogger())

	provider.On("GetUpdates", mock.Anything, 9, 5).Return(nil, fmt.Errorf("connection reset")).Once()

	err := p.PollOnce(context.Background())
	require.Error(t, err)

	assert.Equal(t, 9, p.Offset())
	assert.Empty(t, recorder.IDs())
	provider.AssertExpectations(t)
}

func TestPollOnce_RecoversFromDispatchPanic(t *testing.T) {
	provider := &mockUpdateProvider{}
	recorder := &orderRecorder{panicOn: 5}
	p := NewUpdatePoller(provider, recorder, PollerConfig{TimeoutSec: 5}, quietLogger())

	provider.On("GetUpdates", mock.Anything, 0, 5).Return([]tgbotapi.Update{{UpdateID: 5}, {UpdateID: 6}}, nil).Once()

	assert.NotPanics(t, func() {
		require.NoError(t, p.PollOnce(context.Background()))
	})
	assert.Equal(t, []int{5, 6}, recorder.IDs())
	assert.Equal(t, 7, p.Offset())
}

func TestPollOnce_DispatchErrorDoesNotStopBatch(t *testing.T) {
	provider := &mockUpdateProvider{}
	recorder := &orderRecorder{err: fmt.Errorf("store down")}
	p := NewUpdatePoller(provider, recorder, PollerConfig{TimeoutSec: 5}, quietLogger())

	provider.On("GetUpdates", mock.Anything, 0, 5).Return([]tgbotapi.Update{{UpdateID: 1}, {UpdateID: 2}}, nil).Once()

	require.NoError(t, p.PollOnce(context.Background()))
	assert.Equal(t, []int{1, 2}, recorder.IDs())
	assert.Equal(t, 3, p.Offset())
}

func TestUpdatePoller_StartStop(t *testing.T) {
	provider := &mockUpdateProvider{}
	recorder := &orderRecorder{}
	p := NewUpdatePoller(provider, recorder, PollerConfig{TimeoutSec: 1, Delay: 5 * time.Millisecond}, quietLogger())

	provider.On("GetUpdates", mock.Anything, 0, 1).Return([]tgbotapi.Update{{UpdateID: 1}}, nil).Once()
	provider.On("GetUpdates", mock.Anything, 2, 1).Return([]tgbotapi.Update{}, nil).Maybe()

	require.NoError(t, p.Start(context.Background()))
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(context.Background()))

	assert.Eventually(t, func() bool { return p.Offset() == 2 }, time.Second, 5*time.Millisecond)

	p.Stop()
	assert.False(t, p.IsRunning())
	assert.Equal(t, []int{1}, recorder.IDs())

	// stopping twice is a no-op
	p.Stop()
}

func TestUpdatePoller_StopsOnContextCancel(t *testing.T) {
	provider := &mockUpdateProvider{}
	p := NewUpdatePoller(provider, &orderRecorder{}, PollerConfig{TimeoutSec: 1, Delay: time.Hour}, quietLogger())

	provider.On("GetUpdates", mock.Anything, 0, 1).Return([]tgbotapi.Update{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))

	done := make(chan struct{})
	go func() {
		cancel()
		p.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}

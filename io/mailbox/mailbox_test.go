package mailbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
)

func env(from dto.ID, kind dto.Kind) group.Envelope {
	return group.Envelope{From: from, Message: dto.NewMessage(kind)}
}

func TestMailbox_TimeoutIsNotAnError(t *testing.T) {
	m := New()
	start := time.Now()

	_, ok, err := m.Take(context.Background(), []dto.ID{1}, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMailbox_FiltersBySender(t *testing.T) {
	m := New()
	m.Put(env(2, dto.KindStateAnnouncement))
	m.Put(env(1, dto.KindGlobalCommit))

	got, ok, err := m.Take(context.Background(), []dto.ID{1}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dto.KindGlobalCommit, got.Message.Kind)

	// the message of the other sender stays queued
	require.Equal(t, 1, m.Len())
	got, ok, err = m.Take(context.Background(), []dto.ID{2}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dto.ID(2), got.From)
}

func TestMailbox_FIFOPerSender(t *testing.T) {
	m := New()
	m.Put(env(1, dto.KindPrepareCommit))
	m.Put(env(1, dto.KindGlobalCommit))

	first, _, _ := m.Take(context.Background(), []dto.ID{1}, time.Second)
	second, _, _ := m.Take(context.Background(), []dto.ID{1}, time.Second)
	require.Equal(t, dto.KindPrepareCommit, first.Message.Kind)
	require.Equal(t, dto.KindGlobalCommit, second.Message.Kind)
}

func TestMailbox_WakesUpWaitingReceiver(t *testing.T) {
	m := New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Put(env(3, dto.KindVoteRequest))
	}()

	got, ok, err := m.Take(context.Background(), []dto.ID{3}, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, dto.KindVoteRequest, got.Message.Kind)
}

func TestMailbox_ContextCancel(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := m.Take(ctx, []dto.ID{1}, time.Second)
	require.False(t, ok)
	require.ErrorIs(t, err, context.Canceled)
}

func TestMailbox_Close(t *testing.T) {
	m := New()
	m.Close()
	m.Put(env(1, dto.KindVoteRequest))

	_, ok, err := m.Take(context.Background(), []dto.ID{1}, time.Second)
	require.False(t, ok)
	require.ErrorIs(t, err, ErrClosed)
}

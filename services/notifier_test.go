package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifier_PublishWakesSubscriber(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := NewRedisNotifier("redis://" + mr.Addr())
	require.NoError(t, err)
	defer n.Close()

	ctx := context.Background()
	wake, release, err := n.Subscribe(ctx, SquadChannel("s1"))
	require.NoError(t, err)
	defer release()

	require.NoError(t, n.Publish(ctx, SquadChannel("s1"), map[string]string{"event": "submission"}))

	select {
	case <-wake:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber was not woken")
	}
}

func TestRedisNotifier_OtherChannelIgnored(t *testing.T) {
	mr := miniredis.RunT(t)
	n, err := NewRedisNotifier("redis://" + mr.Addr())
	require.NoError(t, err)
	defer n.Close()

	ctx := context.Background()
	wake, release, err := n.Subscribe(ctx, QueueChannel("c1", "u1"))
	require.NoError(t, err)
	defer release()

	require.NoError(t, n.Publish(ctx, QueueChannel("c1", "u2"), "matched"))

	select {
	case <-wake:
		t.Fatal("woken by an unrelated channel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNewRedisNotifier_BadURL(t *testing.T) {
	_, err := NewRedisNotifier("not a url")
	assert.Error(t, err)
}

func TestNoopNotifier(t *testing.T) {
	var n NoopNotifier
	assert.NoError(t, n.Publish(context.Background(), "x", nil))
	wake, release, err := n.Subscribe(context.Background(), "x")
	require.NoError(t, err)
	assert.Nil(t, wake)
	release()
}

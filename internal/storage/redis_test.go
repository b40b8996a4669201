package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfy-relay/server/internal/config"
)

func newTestJournal(t *testing.T, size int64) (*EventJournal, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return newEventJournal(client, size, time.Hour), mr
}

func TestJournalAppendAndRecent(t *testing.T) {
	j, mr := newTestJournal(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(ctx, []byte(fmt.Sprintf(`{"type":"progress","value":%d}`, i))))
	}

	events, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3, "list is capped at the journal size")
	assert.JSONEq(t, `{"type":"progress","value":4}`, string(events[0]))
	assert.JSONEq(t, `{"type":"progress","value":2}`, string(events[2]))

	events, err = j.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.Equal(t, time.Hour, mr.TTL(journalKey))
}

func TestJournalRunConsumesUntilClosed(t *testing.T) {
	j, _ := newTestJournal(t, 10)
	msgs := make(chan []byte, 3)
	msgs <- []byte(`{"type":"started","prompt_id":"a"}`)
	msgs <- []byte(`{"type":"completed","prompt_id":"a","images":[]}`)
	close(msgs)

	j.Run(context.Background(), msgs)

	events, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Contains(t, string(events[0]), "completed")
}

func TestJournalRecentEmpty(t *testing.T) {
	j, _ := newTestJournal(t, 10)
	events, err := j.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewEventJournal(t *testing.T) {
	mr := miniredis.RunT(t)
	j, err := NewEventJournal(config.RedisConfig{Addr: mr.Addr(), JournalSize: 5})
	require.NoError(t, err)
	defer j.Close()
	assert.EqualValues(t, 5, j.size)

	addr := mr.Addr()
	mr.Close()
	_, err = NewEventJournal(config.RedisConfig{Addr: addr})
	assert.Error(t, err)
}

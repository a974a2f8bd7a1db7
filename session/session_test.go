package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/core"
)

func TestMemoryManagerLifecycle(t *testing.T) {
	m := NewMemoryManager(100)
	ctx := context.Background()

	s, err := m.Create(ctx, map[string]interface{}{"client": "web"})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, "web", got.Metadata["client"])

	require.NoError(t, m.Delete(ctx, s.ID))
	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestMemoryManagerUnknownSession(t *testing.T) {
	m := NewMemoryManager(100)
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	err = m.AddMessage(ctx, "missing", Message{Role: "user", Content: "hi"})
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestMessageHistoryAndWindow(t *testing.T) {
	m := NewMemoryManager(100)
	ctx := context.Background()

	s, err := m.Create(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 15; i++ {
		err := m.AddMessage(ctx, s.ID, Message{
			Role:    "user",
			Content: fmt.Sprintf("message %d", i),
		})
		require.NoError(t, err)
	}

	window, err := m.GetMessages(ctx, s.ID, ContextWindow)
	require.NoError(t, err)
	require.Len(t, window, 10)
	assert.Equal(t, "message 5", window[0].Content)
	assert.Equal(t, "message 14", window[9].Content)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, got.MessageCount)
}

func TestHistoryBounded(t *testing.T) {
	m := NewMemoryManager(5)
	ctx := context.Background()

	s, err := m.Create(ctx, nil)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, m.AddMessage(ctx, s.ID, Message{Content: fmt.Sprintf("m%d", i)}))
	}

	all, err := m.GetMessages(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
	assert.Equal(t, "m15", all[0].Content)
}

func TestTopicTracking(t *testing.T) {
	m := NewMemoryManager(100)
	ctx := context.Background()

	s, err := m.Create(ctx, nil)
	require.NoError(t, err)

	require.NoError(t, m.AddMessage(ctx, s.ID, Message{Content: "why is redis slow"}))
	require.NoError(t, m.AddMessage(ctx, s.ID, Message{Content: "check system health"}))
	require.NoError(t, m.AddMessage(ctx, s.ID, Message{Content: "redis again"}))

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"caching", "performance", "health"}, got.Topics)
}

func TestExtractTopics(t *testing.T) {
	tests := []struct {
		content string
		want    []string
	}{
		{"add a redis cache", []string{"caching"}},
		{"fix the bug, check the error!", []string{"debugging"}},
		{"write a game script", []string{"code_generation"}},
		{"hello there", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractTopics(tt.content), tt.content)
	}
}

func TestListActive(t *testing.T) {
	m := NewMemoryManager(100)
	ctx := context.Background()

	a, _ := m.Create(ctx, nil)
	b, _ := m.Create(ctx, nil)

	ids, err := m.ListActive(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
}

func TestNewRedisManagerRejectsBadURL(t *testing.T) {
	_, err := NewRedisManager("not-a-url", 0, 0)
	require.Error(t, err)
}

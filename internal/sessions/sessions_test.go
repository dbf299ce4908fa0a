package sessions_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kielitutor/tutor/internal/sessions"
	"github.com/kielitutor/tutor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func user(s string) models.ChatMessage      { return models.ChatMessage{Role: models.RoleUser, Content: s} }
func assistant(s string) models.ChatMessage { return models.ChatMessage{Role: models.RoleAssistant, Content: s} }

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	s := sessions.NewMemorySessionStore(10, time.Hour)

	h, err := s.History(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, h)

	require.NoError(t, s.AppendTurn(ctx, "s1", user("[START_CONVERSATION]"), assistant("Hei!")))
	require.NoError(t, s.AppendTurn(ctx, "s1", user("Minä haluan maitoa"), assistant("Hyvä!")))

	h, err = s.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, h, 4)
	assert.Equal(t, "Minä haluan maitoa", h[2].Content)

	h[0].Content = "mutated"
	again, _ := s.History(ctx, "s1")
	assert.Equal(t, "[START_CONVERSATION]", again[0].Content, "History must return a copy")

	sess, ok := s.GetSession(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, 2, sess.TurnCount)
	require.NotNil(t, sess.ExpiresAt)
}

func TestAppendTurn_TrimsKeepingOpeningExchange(t *testing.T) {
	tests := []struct {
		maxTurns int
		appends  int
		want     []string
	}{
		{1, 1, []string{"u0", "a0"}},
		{1, 2, []string{"u0", "a0", "u1", "a1"}},
		{1, 4, []string{"u0", "a0", "u3", "a3"}},
		{3, 4, []string{"u0", "a0", "u1", "a1", "u2", "a2", "u3", "a3"}},
		{3, 5, []string{"u0", "a0", "u2", "a2", "u3", "a3", "u4", "a4"}},
		{3, 6, []string{"u0", "a0", "u3", "a3", "u4", "a4", "u5", "a5"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("max%d_appends%d", tt.maxTurns, tt.appends), func(t *testing.T) {
			ctx := context.Background()
			s := sessions.NewMemorySessionStore(tt.maxTurns, time.Hour)

			for i := 0; i < tt.appends; i++ {
				require.NoError(t, s.AppendTurn(ctx, "s1", user(fmt.Sprintf("u%d", i)), assistant(fmt.Sprintf("a%d", i))))
			}

			h, _ := s.History(ctx, "s1")
			assert.Equal(t, tt.want, contents(h))
		})
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := sessions.NewMemorySessionStore(10, time.Hour)
	require.NoError(t, s.AppendTurn(ctx, "s1", user("a"), assistant("b")))

	require.NoError(t, s.Reset(ctx, "s1"))
	h, _ := s.History(ctx, "s1")
	assert.Empty(t, h)
	assert.NoError(t, s.Reset(ctx, "never-existed"))
}

func TestExpiryAndPurge(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := sessions.NewMemorySessionStore(10, time.Hour)
	s.SetClock(func() time.Time { return now })

	require.NoError(t, s.AppendTurn(ctx, "old", user("a"), assistant("b")))
	now = now.Add(30 * time.Minute)
	require.NoError(t, s.AppendTurn(ctx, "fresh", user("a"), assistant("b")))

	now = now.Add(45 * time.Minute)
	h, _ := s.History(ctx, "old")
	assert.Empty(t, h, "expired session must read as empty")
	h, _ = s.History(ctx, "fresh")
	assert.Len(t, h, 2)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Count())
}

func TestConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := sessions.NewMemorySessionStore(1000, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.AppendTurn(ctx, "shared", user(fmt.Sprint(i)), assistant(fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()

	h, _ := s.History(ctx, "shared")
	assert.Len(t, h, 100)
}

func contents(msgs []models.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/embedder"
	"github.com/bowerhall/mira/internal/memory"
)

type failingEmbedder struct{ err error }

// pickyEmbedder refuses texts in reject and embeds everything else.
type pickyEmbedder struct {
	reject map[string]bool
	calls  []string
}

func (p *pickyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls = append(p.calls, text)
	if p.reject[text] {
		return nil, apperr.Validation("embed", "no content to embed")
	}
	return []float32{1, 0, 0, 0, 0, 0, 0, 0}, nil
}

func (f failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

func seed(t *testing.T) (*memory.Store, string) {
	t.Helper()
	ctx := context.Background()

	store, err := memory.Open(":memory:", memory.Options{Dimension: 8})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	user, err := store.CreateUser(ctx, false, "laptop.local")
	require.NoError(t, err)
	conv, err := store.CreateConversation(ctx, []string{user.ID})
	require.NoError(t, err)

	for _, content := range []string{"one", "two", "three"} {
		_, err := store.CreateMessage(ctx, conv.ID, user.ID, content, nil)
		require.NoError(t, err)
	}

	return store, conv.ID
}

func TestBackfillFillsMissingEmbeddings(t *testing.T) {
	store, convID := seed(t)
	ctx := context.Background()

	emb, err := embedder.New(embedder.Config{Provider: "hash", Dimension: 8})
	require.NoError(t, err)

	job := NewBackfill(store, emb, 2)

	n, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	msgs, err := store.GetMessages(ctx, convID, memory.MessageQuery{})
	require.NoError(t, err)
	for _, m := range msgs {
		assert.Len(t, m.Embedding, 8, m.Content)
	}

	last, next, total := job.Stats()
	assert.False(t, last.IsZero())
	assert.True(t, next.IsZero())
	assert.Equal(t, 3, total)
}

func TestBackfillStopsWhenEmbedderDown(t *testing.T) {
	store, _ := seed(t)

	job := NewBackfill(store, failingEmbedder{err: apperr.New(apperr.KindNetwork, "embed", "connection refused")}, 10)

	n, err := job.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestBackfillSkipsUnembeddableMessages(t *testing.T) {
	store, _ := seed(t)

	job := NewBackfill(store, failingEmbedder{err: apperr.Validation("embed", "dimension mismatch")}, 10)

	n, err := job.RunOnce(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackfillMovesPastUnembeddableMessages(t *testing.T) {
	store, convID := seed(t)
	ctx := context.Background()

	// a batch of two is filled entirely by messages that always fail
	emb := &pickyEmbedder{reject: map[string]bool{"one": true, "two": true}}
	job := NewBackfill(store, emb, 2)

	n, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// the sweep wrapped around, so the failures are retried
	_, err = job.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"one", "two", "three", "one", "two"}, emb.calls)

	msgs, err := store.GetMessages(ctx, convID, memory.MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Nil(t, msgs[0].Embedding)
	assert.Nil(t, msgs[1].Embedding)
	assert.Len(t, msgs[2].Embedding, 8)
}

func TestBackfillDoesNotAdvancePastEmbedderOutage(t *testing.T) {
	store, _ := seed(t)
	ctx := context.Background()

	down := NewBackfill(store, failingEmbedder{err: apperr.New(apperr.KindNetwork, "embed", "connection refused")}, 10)
	_, err := down.RunOnce(ctx)
	require.Error(t, err)

	emb := &pickyEmbedder{}
	down.embedder = emb

	n, err := down.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	_, err := Start(context.Background(), "every tuesday", NewBackfill(nil, nil, 0))
	assert.Error(t, err)
}

func TestStartAndStop(t *testing.T) {
	store, _ := seed(t)
	job := NewBackfill(store, failingEmbedder{err: errors.New("unused")}, 0)

	s, err := Start(context.Background(), "*/5 * * * *", job)
	require.NoError(t, err)
	s.Stop()

	_, next, _ := job.Stats()
	assert.True(t, next.After(time.Now()))
}

func TestComputeNextRun(t *testing.T) {
	from := time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC)

	next, err := ComputeNextRun("*/5 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC), next)

	_, err = ComputeNextRun("nope", from)
	assert.Error(t, err)
}

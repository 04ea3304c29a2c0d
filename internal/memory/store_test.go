package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bowerhall/mira/internal/apperr"
)

const testDim = 4

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:", Options{Dimension: testDim})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestOpenAndClose(t *testing.T) {
	store, err := Open(":memory:", Options{Dimension: 384})
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestSqliteVecLoaded(t *testing.T) {
	store := openTestStore(t)

	var version string
	require.NoError(t, store.DB().QueryRow("SELECT vec_version()").Scan(&version))
	assert.NotEmpty(t, version)
}

func TestOpenRejectsBadOptions(t *testing.T) {
	_, err := Open(":memory:", Options{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = Open(":memory:", Options{Dimension: 4, Metric: "dot"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestOpenRejectsDimensionChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mira.db")

	store, err := Open(path, Options{Dimension: 384})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	_, err = Open(path, Options{Dimension: 1536})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	store, err = Open(path, Options{Dimension: 384})
	require.NoError(t, err)
	store.Close()
}

func TestCreateAndGetUser(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	cases := []struct {
		hostname string
		isAgent  bool
	}{
		{"laptop.local", false},
		{"mira-agent", true},
		{"10.0.0.7", false},
	}

	for _, tc := range cases {
		created, err := store.CreateUser(ctx, tc.isAgent, tc.hostname)
		require.NoError(t, err)

		got, err := store.GetUser(ctx, ByHostname(tc.hostname))
		require.NoError(t, err)
		assert.Equal(t, tc.hostname, got.Hostname)
		assert.Equal(t, tc.isAgent, got.IsAgent)
		assert.Equal(t, created.ID, got.ID)

		byID, err := store.GetUser(ctx, ByID(created.ID))
		require.NoError(t, err)
		assert.Equal(t, tc.hostname, byID.Hostname)
	}

	agent, err := store.GetUser(ctx, AgentUser())
	require.NoError(t, err)
	assert.Equal(t, "mira-agent", agent.Hostname)
}

func TestCreateUserDuplicateHostname(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.CreateUser(ctx, false, "laptop.local")
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, false, "laptop.local")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestSecondAgentRejected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.CreateUser(ctx, true, "agent-one")
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, true, "agent-two")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	// non-agents are unaffected by the partial index
	_, err = store.CreateUser(ctx, false, "human-one")
	require.NoError(t, err)
	_, err = store.CreateUser(ctx, false, "human-two")
	require.NoError(t, err)
}

func TestGetUserByPaddedHostname(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	created, err := store.CreateUser(ctx, false, " bob ")
	require.NoError(t, err)
	assert.Equal(t, "bob", created.Hostname)

	found, err := store.GetUser(ctx, ByHostname(" bob "))
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = store.GetUser(ctx, ByHostname("   "))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestGetUserRequiresDiscriminator(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetUser(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestGetUserNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetUser(context.Background(), ByHostname("nobody"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetUser(context.Background(), AgentUser())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateConversationAtomic(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u1, err := store.CreateUser(ctx, false, "laptop.local")
	require.NoError(t, err)

	_, err = store.CreateConversation(ctx, []string{u1.ID, "no-such-user"})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindBusinessLogic))

	convs, err := store.GetConversations(ctx, u1.ID)
	require.NoError(t, err)
	assert.Empty(t, convs)

	var count int
	require.NoError(t, store.DB().QueryRow("SELECT COUNT(*) FROM conversations").Scan(&count))
	assert.Zero(t, count)
}

func TestCreateConversationRequiresParticipants(t *testing.T) {
	store := openTestStore(t)

	_, err := store.CreateConversation(context.Background(), nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestCreateConversationParticipants(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u1, _ := store.CreateUser(ctx, false, "laptop.local")
	agent, _ := store.CreateUser(ctx, true, "mira-agent")

	conv, err := store.CreateConversation(ctx, []string{u1.ID, agent.ID, u1.ID})
	require.NoError(t, err)

	parts, err := store.GetParticipants(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	ids := []string{parts[0].UserID, parts[1].UserID}
	sort.Strings(ids)
	want := []string{u1.ID, agent.ID}
	sort.Strings(want)
	assert.Equal(t, want, ids)

	got, err := store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, got.ID)
}

func TestGetConversationsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	older, err := store.CreateConversation(ctx, []string{u.ID})
	require.NoError(t, err)
	newer, err := store.CreateConversation(ctx, []string{u.ID})
	require.NoError(t, err)

	convs, err := store.GetConversations(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)

	// activity on the older conversation moves it to the front
	_, err = store.CreateMessage(ctx, older.ID, u.ID, "still there?", nil)
	require.NoError(t, err)

	convs, err = store.GetConversations(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, older.ID, convs[0].ID)
}

func TestCreateMessageValidation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})

	_, err := store.CreateMessage(ctx, conv.ID, u.ID, "   ", nil)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	for _, n := range []int{0, testDim - 1, testDim + 1} {
		_, err := store.CreateMessage(ctx, conv.ID, u.ID, "hello", make([]float32, n))
		require.Error(t, err, "dimension %d", n)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	}

	_, err = store.CreateMessage(ctx, "missing", u.ID, "hello", nil)
	assert.ErrorIs(t, err, ErrMissingReference)

	msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestCreateMessageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})

	embedding := []float32{0.25, -1.5, 3.0, 1e-7}
	created, err := store.CreateMessage(ctx, conv.ID, u.ID, "hello", embedding)
	require.NoError(t, err)

	msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, created.ID, msgs[0].ID)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, embedding, msgs[0].Embedding)
}

func TestGetMessagesChronological(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})

	for i := 0; i < 5; i++ {
		_, err := store.CreateMessage(ctx, conv.ID, u.ID, fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
	}

	msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{})
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, fmt.Sprintf("message %d", i), m.Content)
		assert.Nil(t, m.Embedding)
	}
}

func TestGetMessagesSimilarity(t *testing.T) {
	ctx := context.Background()

	for _, metric := range []Metric{MetricCosine, MetricL2} {
		t.Run(string(metric), func(t *testing.T) {
			store, err := Open(":memory:", Options{Dimension: testDim, Metric: metric})
			require.NoError(t, err)
			defer store.Close()

			u, _ := store.CreateUser(ctx, false, "laptop.local")
			conv, _ := store.CreateConversation(ctx, []string{u.ID})
			other, _ := store.CreateConversation(ctx, []string{u.ID})

			vectors := map[string][]float32{
				"exact":    {1, 0, 0, 0},
				"close":    {0.9, 0.1, 0, 0},
				"middling": {0.5, 0.5, 0, 0},
				"far":      {0, 1, 0, 0},
				"opposite": {-1, 0, 0, 0},
			}
			for content, v := range vectors {
				_, err := store.CreateMessage(ctx, conv.ID, u.ID, content, v)
				require.NoError(t, err)
			}
			_, err = store.CreateMessage(ctx, conv.ID, u.ID, "no embedding", nil)
			require.NoError(t, err)
			_, err = store.CreateMessage(ctx, other.ID, u.ID, "other conversation", []float32{1, 0, 0, 0})
			require.NoError(t, err)

			query := []float32{1, 0, 0, 0}

			for _, k := range []int{1, 3, 5, 10} {
				msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{Embedding: query, Limit: k})
				require.NoError(t, err)
				assert.Len(t, msgs, min(k, len(vectors)))

				for i := 1; i < len(msgs); i++ {
					assert.LessOrEqual(t, msgs[i-1].Distance, msgs[i].Distance)
				}
				for _, m := range msgs {
					assert.NotEqual(t, "no embedding", m.Content)
					assert.Equal(t, conv.ID, m.ConversationID)
				}
				assert.Equal(t, "exact", msgs[0].Content)
			}

			msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{Embedding: query})
			require.NoError(t, err)
			assert.Len(t, msgs, defaultLimit)
			assert.Equal(t, []string{"exact", "close", "middling", "far", "opposite"}, contents(msgs))
		})
	}
}

func TestGetMessagesSkipsUndefinedDistance(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})

	_, err := store.CreateMessage(ctx, conv.ID, u.ID, "zero", []float32{0, 0, 0, 0})
	require.NoError(t, err)
	_, err = store.CreateMessage(ctx, conv.ID, u.ID, "unit", []float32{1, 0, 0, 0})
	require.NoError(t, err)

	msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.Equal(t, []string{"unit"}, contents(msgs))

	msgs, err = store.GetMessages(ctx, conv.ID, MessageQuery{Embedding: []float32{0, 0, 0, 0}})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestGetMessagesLimitAboveDefaultPage(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})

	for i := 0; i < 150; i++ {
		_, err := store.CreateMessage(ctx, conv.ID, u.ID, fmt.Sprintf("m%d", i), []float32{1, float32(i), 0, 0})
		require.NoError(t, err)
	}

	msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{Embedding: []float32{1, 0, 0, 0}, Limit: 120})
	require.NoError(t, err)
	assert.Len(t, msgs, 120)

	msgs, err = store.GetMessages(ctx, conv.ID, MessageQuery{Embedding: []float32{1, 0, 0, 0}, Limit: 500})
	require.NoError(t, err)
	assert.Len(t, msgs, 150)
}

func TestGetMessagesSimilarityValidation(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetMessages(context.Background(), "c", MessageQuery{Embedding: []float32{1, 2}})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = store.GetMessages(context.Background(), "c", MessageQuery{Embedding: make([]float32, testDim), Limit: -1})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestDeleteConversationCascades(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})
	_, err := store.CreateMessage(ctx, conv.ID, u.ID, "hello", []float32{1, 2, 3, 4})
	require.NoError(t, err)

	require.NoError(t, store.DeleteConversation(ctx, conv.ID))

	msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	parts, err := store.GetParticipants(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, parts)

	_, err = store.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// idempotent
	require.NoError(t, store.DeleteConversation(ctx, conv.ID))
	require.NoError(t, store.DeleteConversation(ctx, "never-existed"))

	// the user survives
	_, err = store.GetUser(ctx, ByID(u.ID))
	require.NoError(t, err)
}

func TestUpdateMessageEmbedding(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})
	first, _ := store.CreateMessage(ctx, conv.ID, u.ID, "first", nil)
	second, _ := store.CreateMessage(ctx, conv.ID, u.ID, "second", nil)

	missing, err := store.MessagesMissingEmbedding(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, missing, 2)
	assert.Equal(t, first.ID, missing[0].ID)
	assert.Equal(t, second.ID, missing[1].ID)
	assert.Less(t, missing[0].Seq, missing[1].Seq)

	after, err := store.MessagesMissingEmbedding(ctx, missing[0].Seq, 10)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, second.ID, after[0].ID)

	err = store.UpdateMessageEmbedding(ctx, first.ID, []float32{1, 2})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	require.NoError(t, store.UpdateMessageEmbedding(ctx, first.ID, []float32{1, 0, 0, 0}))

	missing, err = store.MessagesMissingEmbedding(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, second.ID, missing[0].ID)

	similar, err := store.GetMessages(ctx, conv.ID, MessageQuery{Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, first.ID, similar[0].ID)

	err = store.UpdateMessageEmbedding(ctx, "no-such-message", []float32{1, 0, 0, 0})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	u, _ := store.CreateUser(ctx, false, "laptop.local")
	conv, _ := store.CreateConversation(ctx, []string{u.ID})

	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			_, err := store.CreateMessage(ctx, conv.ID, u.ID, fmt.Sprintf("m%d", i), []float32{float32(i), 1, 0, 0})
			errs <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-errs)
	}

	msgs, err := store.GetMessages(ctx, conv.ID, MessageQuery{})
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
}

func TestClassifyPassesThroughUnknown(t *testing.T) {
	err := classify("op", errors.New("disk I/O error"))
	assert.Equal(t, apperr.KindUnknown, apperr.KindOf(err))
	assert.Nil(t, classify("op", nil))
}

func contents(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"live-quiz-service/internal/domain"
)

func lobbyGame(code string) domain.Game {
	return domain.Game{
		Code:                 code,
		QuizID:               "quiz-1",
		HostID:               "host-1",
		State:                domain.StateLobby,
		CurrentQuestionIndex: -1,
		QuestionCount:        2,
		CreatedAt:            time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestGameStoreCreateIsExclusive(t *testing.T) {
	ctx := context.Background()
	store := NewGameStore()

	created, err := store.CreateGame(ctx, lobbyGame("123456"))
	require.NoError(t, err)
	require.Equal(t, int64(1), created.Version)

	_, err = store.CreateGame(ctx, lobbyGame("123456"))
	require.ErrorIs(t, err, domain.ErrGameCodeTaken)

	_, err = store.GetGame(ctx, "654321")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGameStoreRejectsMalformedGame(t *testing.T) {
	game := lobbyGame("123456")
	game.CurrentQuestionIndex = 0
	_, err := NewGameStore().CreateGame(context.Background(), game)
	require.ErrorIs(t, err, domain.ErrMalformedGame)
}

func TestGameStoreUpdateDetectsConflict(t *testing.T) {
	ctx := context.Background()
	store := NewGameStore()
	_, err := store.CreateGame(ctx, lobbyGame("123456"))
	require.NoError(t, err)

	_, err = store.UpdateGame(ctx, "123456", func(g *domain.Game) error {
		// a concurrent commit lands while this transaction is running
		_, innerErr := store.UpdateGame(ctx, "123456", func(inner *domain.Game) error {
			inner.State = domain.StateInProgress
			inner.CurrentQuestionIndex = 0
			return nil
		})
		require.NoError(t, innerErr)
		g.State = domain.StateInProgress
		g.CurrentQuestionIndex = 0
		return nil
	})
	require.ErrorIs(t, err, domain.ErrTransactionConflict)

	game, err := store.GetGame(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, int64(2), game.Version)
}

func TestGameStoreParticipantLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewGameStore()
	_, err := store.CreateGame(ctx, lobbyGame("123456"))
	require.NoError(t, err)

	joined, err := store.AddParticipant(ctx, domain.Participant{
		ID:        "p1",
		GameCode:  "123456",
		Pseudonym: "Alice",
		JoinedAt:  time.Now(),
	}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(1), joined.Version)

	updated, err := store.UpdateParticipant(ctx, "123456", "p1", func(_ domain.Game, p *domain.Participant) error {
		p.Score += 500
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 500, updated.Score)
	require.Equal(t, int64(2), updated.Version)

	_, err = store.UpdateParticipant(ctx, "123456", "ghost", func(domain.Game, *domain.Participant) error { return nil })
	require.ErrorIs(t, err, domain.ErrParticipantNotFound)

	list, err := store.ListParticipants(ctx, "123456")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, 500, list[0].Score)
}

func TestGameStoreParticipantWriteConflictsWithGameChange(t *testing.T) {
	ctx := context.Background()
	store := NewGameStore()
	_, err := store.CreateGame(ctx, lobbyGame("123456"))
	require.NoError(t, err)
	_, err = store.AddParticipant(ctx, domain.Participant{ID: "p1", GameCode: "123456", Pseudonym: "Alice"}, nil)
	require.NoError(t, err)

	_, err = store.UpdateParticipant(ctx, "123456", "p1", func(_ domain.Game, p *domain.Participant) error {
		_, innerErr := store.UpdateGame(ctx, "123456", func(g *domain.Game) error {
			g.State = domain.StateInProgress
			g.CurrentQuestionIndex = 0
			return nil
		})
		require.NoError(t, innerErr)
		p.Score = 1000
		return nil
	})
	require.ErrorIs(t, err, domain.ErrTransactionConflict)

	p, err := store.GetParticipant(ctx, "123456", "p1")
	require.NoError(t, err)
	require.Zero(t, p.Score)
}

func TestGameStoreMutateErrorIsReturned(t *testing.T) {
	ctx := context.Background()
	store := NewGameStore()
	_, err := store.CreateGame(ctx, lobbyGame("123456"))
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.UpdateGame(ctx, "123456", func(*domain.Game) error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestGameStoreSubscribeStreamsCommits(t *testing.T) {
	ctx := context.Background()
	store := NewGameStore()
	_, err := store.CreateGame(ctx, lobbyGame("123456"))
	require.NoError(t, err)

	events, cancel, err := store.Subscribe(ctx, "123456")
	require.NoError(t, err)
	defer cancel()

	_, err = store.AddParticipant(ctx, domain.Participant{ID: "p1", GameCode: "123456", Pseudonym: "Alice"}, nil)
	require.NoError(t, err)
	_, err = store.UpdateGame(ctx, "123456", func(g *domain.Game) error {
		g.State = domain.StateInProgress
		g.CurrentQuestionIndex = 0
		return nil
	})
	require.NoError(t, err)

	first := <-events
	require.Equal(t, domain.EventParticipant, first.Kind)
	require.Equal(t, "Alice", first.Participant.Pseudonym)

	second := <-events
	require.Equal(t, domain.EventGame, second.Kind)
	require.Equal(t, domain.StateInProgress, second.Game.State)
	require.Equal(t, int64(2), second.Version)

	_, _, err = store.Subscribe(ctx, "000000")
	require.ErrorIs(t, err, domain.ErrGameNotFound)
}

func TestGameStoreSubscribeEndsWithContext(t *testing.T) {
	store := NewGameStore()
	_, err := store.CreateGame(context.Background(), lobbyGame("123456"))
	require.NoError(t, err)

	ctx, cancelCtx := context.WithCancel(context.Background())
	events, cancel, err := store.Subscribe(ctx, "123456")
	require.NoError(t, err)
	defer cancel()

	cancelCtx()
	select {
	case _, ok := <-events:
		require.False(t, ok, "expected closed channel")
	case <-time.After(2 * time.Second):
		t.Fatalf("subscription not released after context cancel")
	}
}

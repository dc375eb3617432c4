package redis

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

type GameStoreTestSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *GameStore
	ctx    context.Context
	now    time.Time
}

func TestGameStoreTestSuite(t *testing.T) {
	suite.Run(t, new(GameStoreTestSuite))
}

func (s *GameStoreTestSuite) SetupTest() {
	mr, err := miniredis.Run()
	s.Require().NoError(err)
	s.mr = mr
	s.client = newClient(mr)
	s.store = NewGameStore(s.client, time.Hour)
	s.ctx = context.Background()
	s.now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (s *GameStoreTestSuite) TearDownTest() {
	s.client.Close()
	s.mr.Close()
}

func (s *GameStoreTestSuite) lobby(code string) domain.Game {
	return domain.Game{
		Code:                 code,
		QuizID:               "quiz-1",
		HostID:               "host-1",
		State:                domain.StateLobby,
		CurrentQuestionIndex: -1,
		QuestionCount:        2,
		CreatedAt:            s.now,
	}
}

func (s *GameStoreTestSuite) join(code, id string, at time.Time) domain.Participant {
	p, err := s.store.AddParticipant(s.ctx, domain.Participant{
		ID:        id,
		GameCode:  code,
		Pseudonym: "player-" + id,
		Answers:   map[int]domain.Answer{},
		JoinedAt:  at,
	}, nil)
	s.Require().NoError(err)
	return p
}

func (s *GameStoreTestSuite) TestCreateAndGetGame() {
	created, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)
	s.Equal(int64(1), created.Version)
	s.True(s.mr.Exists("game:123456"))
	s.Greater(s.mr.TTL("game:123456"), time.Duration(0))

	got, err := s.store.GetGame(s.ctx, "123456")
	s.Require().NoError(err)
	s.Equal(domain.StateLobby, got.State)
	s.Equal(-1, got.CurrentQuestionIndex)
	s.True(got.CreatedAt.Equal(s.now))
}

func (s *GameStoreTestSuite) TestCreateRejectsTakenCode() {
	_, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)

	_, err = s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.ErrorIs(err, domain.ErrGameCodeTaken)
}

func (s *GameStoreTestSuite) TestGetMissingGame() {
	_, err := s.store.GetGame(s.ctx, "000000")
	s.ErrorIs(err, domain.ErrGameNotFound)
}

func (s *GameStoreTestSuite) TestMalformedRecordIsRejected() {
	s.Require().NoError(s.mr.Set("game:123456", `{"code":"123456","state":"paused"}`))
	_, err := s.store.GetGame(s.ctx, "123456")
	s.ErrorIs(err, domain.ErrMalformedGame)

	s.Require().NoError(s.mr.Set("game:654321", `{"code":"654321","color":"red"}`))
	_, err = s.store.GetGame(s.ctx, "654321")
	s.ErrorIs(err, domain.ErrMalformedGame)
}

func (s *GameStoreTestSuite) TestUpdateGameBumpsVersionAndKeepsTTL() {
	_, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)

	updated, err := s.store.UpdateGame(s.ctx, "123456", func(g *domain.Game) error {
		g.State = domain.StateInProgress
		g.CurrentQuestionIndex = 0
		return nil
	})
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)
	s.Greater(s.mr.TTL("game:123456"), time.Duration(0))
}

func (s *GameStoreTestSuite) TestUpdateGameConflict() {
	_, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)

	_, err = s.store.UpdateGame(s.ctx, "123456", func(g *domain.Game) error {
		// a second client commits between WATCH and EXEC
		_, innerErr := s.store.UpdateGame(s.ctx, "123456", func(inner *domain.Game) error {
			inner.State = domain.StateInProgress
			inner.CurrentQuestionIndex = 0
			return nil
		})
		s.Require().NoError(innerErr)
		g.State = domain.StateInProgress
		g.CurrentQuestionIndex = 0
		return nil
	})
	s.ErrorIs(err, domain.ErrTransactionConflict)
}

func (s *GameStoreTestSuite) TestParticipantsInJoinOrder() {
	_, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)

	s.join("123456", "b", s.now.Add(2*time.Second))
	s.join("123456", "a", s.now.Add(time.Second))

	list, err := s.store.ListParticipants(s.ctx, "123456")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("a", list[0].ID)
	s.Equal("b", list[1].ID)
}

func (s *GameStoreTestSuite) TestAddParticipantGuard() {
	game := s.lobby("123456")
	_, err := s.store.CreateGame(s.ctx, game)
	s.Require().NoError(err)

	_, err = s.store.AddParticipant(s.ctx, domain.Participant{ID: "p1", GameCode: "123456", Pseudonym: "Alice"}, func(domain.Game) error {
		return domain.ErrGameFinished
	})
	s.ErrorIs(err, domain.ErrGameFinished)

	list, err := s.store.ListParticipants(s.ctx, "123456")
	s.Require().NoError(err)
	s.Empty(list)

	_, err = s.store.AddParticipant(s.ctx, domain.Participant{ID: "p1", GameCode: "999999", Pseudonym: "Alice"}, nil)
	s.ErrorIs(err, domain.ErrGameNotFound)
}

func (s *GameStoreTestSuite) TestUpdateParticipantConflictsWithGameChange() {
	_, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)
	s.join("123456", "p1", s.now)

	_, err = s.store.UpdateParticipant(s.ctx, "123456", "p1", func(_ domain.Game, p *domain.Participant) error {
		_, innerErr := s.store.UpdateGame(s.ctx, "123456", func(g *domain.Game) error {
			g.State = domain.StateInProgress
			g.CurrentQuestionIndex = 0
			return nil
		})
		s.Require().NoError(innerErr)
		p.Score += 1000
		return nil
	})
	s.ErrorIs(err, domain.ErrTransactionConflict)

	p, err := s.store.GetParticipant(s.ctx, "123456", "p1")
	s.Require().NoError(err)
	s.Zero(p.Score)
	s.Equal(int64(1), p.Version)
}

func (s *GameStoreTestSuite) TestUpdateParticipantPersistsAnswers() {
	_, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)
	s.join("123456", "p1", s.now)

	updated, err := s.store.UpdateParticipant(s.ctx, "123456", "p1", func(_ domain.Game, p *domain.Participant) error {
		p.Answers[0] = domain.Answer{Answer: "Paris", IsCorrect: true, ScoreAwarded: 500}
		p.Score += 500
		return nil
	})
	s.Require().NoError(err)
	s.Equal(int64(2), updated.Version)

	p, err := s.store.GetParticipant(s.ctx, "123456", "p1")
	s.Require().NoError(err)
	s.Equal(500, p.Score)
	s.Equal("Paris", p.Answers[0].Answer)

	_, err = s.store.GetParticipant(s.ctx, "123456", "ghost")
	s.ErrorIs(err, domain.ErrParticipantNotFound)
}

func (s *GameStoreTestSuite) TestSubscribeReceivesCommitsInOrder() {
	_, err := s.store.CreateGame(s.ctx, s.lobby("123456"))
	s.Require().NoError(err)

	events, cancel, err := s.store.Subscribe(s.ctx, "123456")
	s.Require().NoError(err)
	defer cancel()

	s.join("123456", "p1", s.now)
	_, err = s.store.UpdateGame(s.ctx, "123456", func(g *domain.Game) error {
		g.State = domain.StateInProgress
		g.CurrentQuestionIndex = 0
		return nil
	})
	s.Require().NoError(err)

	first := s.next(events)
	s.Equal(domain.EventParticipant, first.Kind)
	s.Equal("p1", first.Participant.ID)

	second := s.next(events)
	s.Equal(domain.EventGame, second.Kind)
	s.Equal(domain.StateInProgress, second.Game.State)
	s.Equal(int64(2), second.Version)
}

func (s *GameStoreTestSuite) TestSubscribeUnknownGame() {
	_, _, err := s.store.Subscribe(s.ctx, "000000")
	s.ErrorIs(err, domain.ErrGameNotFound)
}

func (s *GameStoreTestSuite) TestConcurrentDuplicateSubmissionsScoreOnce() {
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
	}), time.Minute)
	service := app.NewGameService(s.store, quizzes,
		app.WithCodeAllocator(app.NewSeededCodeAllocator(7)),
		app.WithRetry(10, time.Millisecond),
	)
	game, err := service.Create(s.ctx, "quiz-1", "host-1")
	s.Require().NoError(err)
	alice, err := service.Join(s.ctx, game.Code, "Alice")
	s.Require().NoError(err)
	_, err = service.Start(s.ctx, game.Code, "host-1")
	s.Require().NoError(err)

	const attempts = 8
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		refused  atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Submit(s.ctx, game.Code, alice.ID, "Paris", 15)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrAlreadyAnswered), errors.Is(err, domain.ErrTransactionConflict):
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), accepted.Load())
	s.Equal(int32(attempts-1), refused.Load())
	stored, err := s.store.GetParticipant(s.ctx, game.Code, alice.ID)
	s.Require().NoError(err)
	s.Equal(500, stored.Score)
	s.Len(stored.Answers, 1)
}

func (s *GameStoreTestSuite) next(events <-chan domain.Event) domain.Event {
	select {
	case event, ok := <-events:
		s.Require().True(ok, "event channel closed")
		return event
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for event")
	}
	return domain.Event{}
}

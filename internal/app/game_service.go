package app

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

const (
	defaultCodeAttempts   = 10
	defaultSubmitAttempts = 5
	defaultRetryInterval  = 5 * time.Millisecond
	maxPseudonymLength    = 32
)

// GameStore persists games and their participants. Every mutation runs as an
// isolated transaction over one game's subtree and fails with
// domain.ErrTransactionConflict when a concurrent commit invalidated it.
type GameStore interface {
	// CreateGame writes a new game, failing with domain.ErrGameCodeTaken if the code exists.
	CreateGame(ctx context.Context, game domain.Game) (domain.Game, error)
	GetGame(ctx context.Context, code string) (domain.Game, error)
	UpdateGame(ctx context.Context, code string, mutate func(*domain.Game) error) (domain.Game, error)
	// AddParticipant writes a participant after guard accepted the current game record.
	AddParticipant(ctx context.Context, participant domain.Participant, guard func(domain.Game) error) (domain.Participant, error)
	GetParticipant(ctx context.Context, code, participantID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, code string) ([]domain.Participant, error)
	// UpdateParticipant reads the game and the participant and commits the mutated
	// participant only if neither record changed in between.
	UpdateParticipant(ctx context.Context, code, participantID string, mutate func(domain.Game, *domain.Participant) error) (domain.Participant, error)
	// Subscribe streams committed changes of the game's records in commit order.
	Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error)
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// Invalidate drops a cached quiz so the next read loads it again.
	Invalidate(ctx context.Context, quizID string) error
}

// EventPublisher exports lifecycle events to other systems.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.LifecycleEvent) error
}

// GameService owns game state transitions and answer arbitration.
type GameService struct {
	store   GameStore
	quizzes QuizRepository
	events  EventPublisher
	codes   CodeAllocator
	now     func() time.Time
	newID   func() string

	codeAttempts   int
	submitAttempts int
	retryInterval  time.Duration
}

// Option customizes a GameService.
type Option func(*GameService)

func WithCodeAllocator(codes CodeAllocator) Option {
	return func(s *GameService) { s.codes = codes }
}

func WithEventPublisher(events EventPublisher) Option {
	return func(s *GameService) { s.events = events }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *GameService) { s.newID = newID }
}

func WithCodeAttempts(n int) Option {
	return func(s *GameService) {
		if n > 0 {
			s.codeAttempts = n
		}
	}
}

// WithRetry bounds how often a conflicting transaction is retried.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(s *GameService) {
		if attempts > 0 {
			s.submitAttempts = attempts
		}
		if interval > 0 {
			s.retryInterval = interval
		}
	}
}

func NewGameService(store GameStore, quizzes QuizRepository, opts ...Option) *GameService {
	s := &GameService{
		store:          store,
		quizzes:        quizzes,
		codes:          NewRandomCodeAllocator(),
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
		codeAttempts:   defaultCodeAttempts,
		submitAttempts: defaultSubmitAttempts,
		retryInterval:  defaultRetryInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create opens a lobby for one of the host's quizzes.
func (s *GameService) Create(ctx context.Context, quizID, hostID string) (domain.Game, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Game{}, err
	}
	if hostID == "" || quiz.CreatorID != hostID {
		return domain.Game{}, domain.ErrNotHost
	}

	now := s.now()
	for attempt := 0; attempt < s.codeAttempts; attempt++ {
		game, err := s.store.CreateGame(ctx, domain.Game{
			Code:                 s.codes.Allocate(),
			QuizID:               quiz.ID,
			HostID:               hostID,
			State:                domain.StateLobby,
			CurrentQuestionIndex: -1,
			QuestionCount:        len(quiz.Questions),
			CreatedAt:            now,
		})
		if errors.Is(err, domain.ErrGameCodeTaken) {
			glog.Warningf("game code collision on attempt %d, retrying", attempt+1)
			continue
		}
		if err != nil {
			return domain.Game{}, err
		}
		glog.Infof("game %s: created for quiz %s by %s", game.Code, quiz.ID, hostID)
		s.publish(ctx, domain.LifecycleGameCreated, game)
		return game, nil
	}
	return domain.Game{}, domain.ErrGameCodesExhausted
}

// RefreshQuiz reloads a quiz after its creator edited it. Games created
// afterwards see the new content.
func (s *GameService) RefreshQuiz(ctx context.Context, quizID, userID string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if userID == "" || quiz.CreatorID != userID {
		return domain.Quiz{}, domain.ErrNotHost
	}
	if err := s.quizzes.Invalidate(ctx, quizID); err != nil {
		return domain.Quiz{}, err
	}
	quiz, err = s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.Quiz{}, err
	}
	glog.Infof("quiz %s: refreshed by %s", quizID, userID)
	return quiz, nil
}

// Start moves a lobby to the first question.
func (s *GameService) Start(ctx context.Context, code, userID string) (domain.Game, error) {
	game, err := s.transition(ctx, code, func(g *domain.Game) error {
		if !g.IsHost(userID) {
			return domain.ErrNotHost
		}
		if g.State != domain.StateLobby {
			return domain.ErrGameAlreadyStarted
		}
		g.State = domain.StateInProgress
		g.CurrentQuestionIndex = 0
		g.QuestionStartedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	glog.Infof("game %s: started", code)
	s.publish(ctx, domain.LifecycleGameStarted, game)
	s.publish(ctx, domain.LifecycleQuestionStarted, game)
	return game, nil
}

// AdvanceQuestion opens the next question once the current results were shown.
func (s *GameService) AdvanceQuestion(ctx context.Context, code, userID string) (domain.Game, error) {
	game, err := s.transition(ctx, code, func(g *domain.Game) error {
		if !g.IsHost(userID) {
			return domain.ErrNotHost
		}
		switch g.State {
		case domain.StateQuestionResults:
		case domain.StateLobby:
			return domain.ErrGameNotStarted
		case domain.StateFinalResults:
			return domain.ErrGameFinished
		default:
			return domain.ErrResultsNotShown
		}
		if g.CurrentQuestionIndex+1 >= g.QuestionCount {
			return domain.ErrGameFinished
		}
		g.State = domain.StateInProgress
		g.CurrentQuestionIndex++
		g.QuestionStartedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	glog.Infof("game %s: question %d opened", code, game.CurrentQuestionIndex)
	s.publish(ctx, domain.LifecycleQuestionStarted, game)
	return game, nil
}

// RevealResults closes the current question. The last question ends the game.
func (s *GameService) RevealResults(ctx context.Context, code, userID string) (domain.Game, error) {
	game, err := s.transition(ctx, code, func(g *domain.Game) error {
		if !g.IsHost(userID) {
			return domain.ErrNotHost
		}
		switch g.State {
		case domain.StateInProgress:
		case domain.StateLobby:
			return domain.ErrGameNotStarted
		case domain.StateFinalResults:
			return domain.ErrGameFinished
		default:
			return domain.ErrResultsShown
		}
		if g.CurrentQuestionIndex >= g.QuestionCount-1 {
			g.State = domain.StateFinalResults
		} else {
			g.State = domain.StateQuestionResults
		}
		return nil
	})
	if err != nil {
		return domain.Game{}, err
	}
	glog.Infof("game %s: results for question %d shown (%s)", code, game.CurrentQuestionIndex, game.State)
	s.publish(ctx, domain.LifecycleQuestionResults, game)
	if game.State == domain.StateFinalResults {
		s.publish(ctx, domain.LifecycleGameFinished, game)
	}
	return game, nil
}

// Join adds a participant to a game that has not finished yet.
func (s *GameService) Join(ctx context.Context, code, pseudonym string) (domain.Participant, error) {
	pseudonym = strings.TrimSpace(pseudonym)
	if pseudonym == "" {
		return domain.Participant{}, domain.ErrEmptyPseudonym
	}
	if utf8.RuneCountInString(pseudonym) > maxPseudonymLength {
		return domain.Participant{}, domain.ErrLongPseudonym
	}

	candidate := domain.Participant{
		ID:        s.newID(),
		GameCode:  code,
		Pseudonym: pseudonym,
		Answers:   map[int]domain.Answer{},
		JoinedAt:  s.now(),
	}
	var participant domain.Participant
	err := s.withRetry(ctx, func() error {
		var err error
		participant, err = s.store.AddParticipant(ctx, candidate, func(g domain.Game) error {
			if g.State == domain.StateFinalResults {
				return domain.ErrGameFinished
			}
			return nil
		})
		return err
	})
	if err != nil {
		return domain.Participant{}, err
	}
	glog.V(1).Infof("game %s: %s joined as %q", code, participant.ID, participant.Pseudonym)
	return participant, nil
}

// Submit scores an answer to the game's current question. The game read, the
// quiz read and the participant write commit as one transaction; a question
// change in between forces a retry that observes the new state.
func (s *GameService) Submit(ctx context.Context, code, participantID, answer string, timeLeftSeconds float64) (domain.Submission, error) {
	var result domain.Submission
	err := s.withRetry(ctx, func() error {
		_, err := s.store.UpdateParticipant(ctx, code, participantID, func(g domain.Game, p *domain.Participant) error {
			if g.State != domain.StateInProgress {
				return domain.ErrGameNotInProgress
			}
			index := g.CurrentQuestionIndex
			if _, answered := p.Answers[index]; answered {
				return domain.ErrAlreadyAnswered
			}

			quiz, err := s.quizzes.GetQuiz(ctx, g.QuizID)
			if err != nil {
				return err
			}
			if index < 0 || index >= len(quiz.Questions) {
				return domain.ErrQuestionNotFound
			}
			question := quiz.Questions[index]

			correct, points := Score(question, answer, clampTimeLeft(question, timeLeftSeconds))
			if p.Answers == nil {
				p.Answers = map[int]domain.Answer{}
			}
			p.Answers[index] = domain.Answer{
				Answer:       answer,
				IsCorrect:    correct,
				ScoreAwarded: points,
				SubmittedAt:  s.now(),
			}
			p.Score += points

			result = domain.Submission{
				QuestionIndex: index,
				IsCorrect:     correct,
				PointsAwarded: points,
				TotalScore:    p.Score,
			}
			return nil
		})
		return err
	})
	if errors.Is(err, domain.ErrGameNotFound) {
		return domain.Submission{}, domain.ErrNoActiveGame
	}
	if err != nil {
		return domain.Submission{}, err
	}
	glog.V(2).Infof("game %s: %s answered question %d (+%d)", code, participantID, result.QuestionIndex, result.PointsAwarded)
	return result, nil
}

// GetGame returns the current game record with its participant count.
func (s *GameService) GetGame(ctx context.Context, code string) (domain.GameView, error) {
	game, err := s.store.GetGame(ctx, code)
	if err != nil {
		return domain.GameView{}, err
	}
	participants, err := s.store.ListParticipants(ctx, code)
	if err != nil {
		return domain.GameView{}, err
	}
	return domain.GameView{Game: game, ParticipantCount: len(participants)}, nil
}

// Participant returns one participant record.
func (s *GameService) Participant(ctx context.Context, code, participantID string) (domain.Participant, error) {
	return s.store.GetParticipant(ctx, code, participantID)
}

// Leaderboard ranks participants by score, then by who joined first.
func (s *GameService) Leaderboard(ctx context.Context, code string) (domain.Leaderboard, error) {
	game, err := s.store.GetGame(ctx, code)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	participants, err := s.store.ListParticipants(ctx, code)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return buildLeaderboard(game, participants, s.now()), nil
}

// CurrentQuestion returns the open question without its answer.
func (s *GameService) CurrentQuestion(ctx context.Context, code string) (domain.QuestionView, error) {
	game, question, err := s.currentQuestion(ctx, code)
	if err != nil {
		return domain.QuestionView{}, err
	}
	return domain.QuestionView{
		Code:              game.Code,
		Index:             game.CurrentQuestionIndex,
		Count:             game.QuestionCount,
		Text:              question.Text,
		Kind:              question.Kind,
		TimerSeconds:      question.TimerSeconds,
		Options:           question.Options,
		QuestionStartedAt: game.QuestionStartedAt,
	}, nil
}

// QuestionSummary aggregates the answers given to the current question. Host only.
func (s *GameService) QuestionSummary(ctx context.Context, code, userID string) (domain.QuestionSummary, error) {
	game, err := s.store.GetGame(ctx, code)
	if err != nil {
		return domain.QuestionSummary{}, err
	}
	if !game.IsHost(userID) {
		return domain.QuestionSummary{}, domain.ErrNotHost
	}
	question, err := s.questionAt(ctx, game)
	if err != nil {
		return domain.QuestionSummary{}, err
	}
	participants, err := s.store.ListParticipants(ctx, code)
	if err != nil {
		return domain.QuestionSummary{}, err
	}
	return summarize(game, question, participants), nil
}

// Subscribe streams record changes of a game. The caller must invoke the
// returned cancel function to release the subscription.
func (s *GameService) Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error) {
	return s.store.Subscribe(ctx, code)
}

func (s *GameService) currentQuestion(ctx context.Context, code string) (domain.Game, domain.Question, error) {
	game, err := s.store.GetGame(ctx, code)
	if err != nil {
		return domain.Game{}, domain.Question{}, err
	}
	question, err := s.questionAt(ctx, game)
	if err != nil {
		return domain.Game{}, domain.Question{}, err
	}
	return game, question, nil
}

func (s *GameService) questionAt(ctx context.Context, game domain.Game) (domain.Question, error) {
	if game.State == domain.StateLobby {
		return domain.Question{}, domain.ErrGameNotStarted
	}
	quiz, err := s.quizzes.GetQuiz(ctx, game.QuizID)
	if err != nil {
		return domain.Question{}, err
	}
	if game.CurrentQuestionIndex >= len(quiz.Questions) {
		return domain.Question{}, domain.ErrQuestionNotFound
	}
	return quiz.Questions[game.CurrentQuestionIndex], nil
}

func (s *GameService) transition(ctx context.Context, code string, mutate func(*domain.Game) error) (domain.Game, error) {
	var game domain.Game
	err := s.withRetry(ctx, func() error {
		var err error
		game, err = s.store.UpdateGame(ctx, code, mutate)
		return err
	})
	return game, err
}

func (s *GameService) publish(ctx context.Context, eventType string, game domain.Game) {
	if s.events == nil {
		return
	}
	event := domain.LifecycleEvent{
		Type:          eventType,
		Code:          game.Code,
		QuizID:        game.QuizID,
		State:         game.State,
		QuestionIndex: game.CurrentQuestionIndex,
		At:            s.now(),
	}
	if err := s.events.Publish(ctx, event); err != nil {
		glog.Warningf("game %s: publish %s: %v", game.Code, eventType, err)
	}
}

func buildLeaderboard(game domain.Game, participants []domain.Participant, now time.Time) domain.Leaderboard {
	sorted := make([]domain.Participant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if !sorted[i].JoinedAt.Equal(sorted[j].JoinedAt) {
			return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
		}
		return sorted[i].Pseudonym < sorted[j].Pseudonym
	})

	entries := make([]domain.LeaderboardEntry, 0, len(sorted))
	for i, p := range sorted {
		rank := i + 1
		// equal scores share a rank
		if i > 0 && p.Score == sorted[i-1].Score {
			rank = entries[i-1].Rank
		}
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Pseudonym:     p.Pseudonym,
			Score:         p.Score,
			Rank:          rank,
		})
	}
	return domain.Leaderboard{
		Code:      game.Code,
		State:     game.State,
		Entries:   entries,
		UpdatedAt: now,
	}
}

func summarize(game domain.Game, question domain.Question, participants []domain.Participant) domain.QuestionSummary {
	summary := domain.QuestionSummary{
		Code:          game.Code,
		Index:         game.CurrentQuestionIndex,
		CorrectAnswer: question.CorrectAnswer,
		Participants:  len(participants),
	}

	counts := map[string]*domain.AnswerCount{}
	var order []string
	add := func(text string) *domain.AnswerCount {
		key := strings.ToLower(text)
		if c, ok := counts[key]; ok {
			return c
		}
		c := &domain.AnswerCount{Answer: text, IsCorrect: strings.EqualFold(text, question.CorrectAnswer)}
		counts[key] = c
		order = append(order, key)
		return c
	}
	for _, option := range question.Options {
		add(option)
	}
	optionCount := len(order)

	for _, p := range participants {
		answer, ok := p.Answers[game.CurrentQuestionIndex]
		if !ok {
			continue
		}
		summary.Answered++
		if answer.IsCorrect {
			summary.Correct++
		}
		add(answer.Answer).Count++
	}

	// options keep their quiz order; free-text answers follow by popularity
	extra := order[optionCount:]
	sort.SliceStable(extra, func(i, j int) bool {
		ci, cj := counts[extra[i]], counts[extra[j]]
		if ci.Count != cj.Count {
			return ci.Count > cj.Count
		}
		return extra[i] < extra[j]
	})
	summary.Answers = make([]domain.AnswerCount, 0, len(order))
	for _, key := range order {
		summary.Answers = append(summary.Answers, *counts[key])
	}
	return summary
}

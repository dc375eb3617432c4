package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/glog"

	"live-quiz-service/internal/broadcast"
	"live-quiz-service/internal/domain"
)

// GameStore is an in-memory implementation of app.GameStore. Mutations read a
// snapshot, run the caller's logic without holding the lock and commit only if
// the records still carry the versions that were read.
type GameStore struct {
	hub *broadcast.Hub

	mu    sync.RWMutex
	games map[string]*gameEntry
}

type gameEntry struct {
	game         domain.Game
	participants map[string]domain.Participant
}

func NewGameStore() *GameStore {
	return &GameStore{
		hub:   broadcast.NewHub(broadcast.DefaultBuffer),
		games: make(map[string]*gameEntry),
	}
}

func (s *GameStore) CreateGame(_ context.Context, game domain.Game) (domain.Game, error) {
	game.Version = 1
	if err := game.Validate(); err != nil {
		return domain.Game{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[game.Code]; ok {
		return domain.Game{}, domain.ErrGameCodeTaken
	}
	s.games[game.Code] = &gameEntry{
		game:         game,
		participants: make(map[string]domain.Participant),
	}
	s.hub.Publish(domain.GameEvent(game))
	return game, nil
}

func (s *GameStore) GetGame(_ context.Context, code string) (domain.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.games[code]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return entry.game, nil
}

func (s *GameStore) UpdateGame(_ context.Context, code string, mutate func(*domain.Game) error) (domain.Game, error) {
	s.mu.RLock()
	entry, ok := s.games[code]
	if !ok {
		s.mu.RUnlock()
		return domain.Game{}, domain.ErrGameNotFound
	}
	game := entry.game
	s.mu.RUnlock()

	read := game.Version
	if err := mutate(&game); err != nil {
		return domain.Game{}, err
	}
	game.Version = read + 1
	if err := game.Validate(); err != nil {
		return domain.Game{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.game.Version != read {
		return domain.Game{}, domain.ErrTransactionConflict
	}
	entry.game = game
	s.hub.Publish(domain.GameEvent(game))
	return game, nil
}

func (s *GameStore) AddParticipant(_ context.Context, participant domain.Participant, guard func(domain.Game) error) (domain.Participant, error) {
	participant = participant.Clone()
	participant.Version = 1
	if err := participant.Validate(); err != nil {
		return domain.Participant{}, err
	}

	s.mu.RLock()
	entry, ok := s.games[participant.GameCode]
	if !ok {
		s.mu.RUnlock()
		return domain.Participant{}, domain.ErrGameNotFound
	}
	game := entry.game
	s.mu.RUnlock()

	if guard != nil {
		if err := guard(game); err != nil {
			return domain.Participant{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.game.Version != game.Version {
		return domain.Participant{}, domain.ErrTransactionConflict
	}
	entry.participants[participant.ID] = participant
	s.hub.Publish(domain.ParticipantEvent(participant))
	return participant.Clone(), nil
}

func (s *GameStore) GetParticipant(_ context.Context, code, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.games[code]
	if !ok {
		return domain.Participant{}, domain.ErrGameNotFound
	}
	participant, ok := entry.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return participant.Clone(), nil
}

// ListParticipants returns participants in join order.
func (s *GameStore) ListParticipants(_ context.Context, code string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.games[code]
	if !ok {
		return nil, domain.ErrGameNotFound
	}
	out := make([]domain.Participant, 0, len(entry.participants))
	for _, p := range entry.participants {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *GameStore) UpdateParticipant(_ context.Context, code, participantID string, mutate func(domain.Game, *domain.Participant) error) (domain.Participant, error) {
	s.mu.RLock()
	entry, ok := s.games[code]
	if !ok {
		s.mu.RUnlock()
		return domain.Participant{}, domain.ErrGameNotFound
	}
	game := entry.game
	current, ok := entry.participants[participantID]
	if !ok {
		s.mu.RUnlock()
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	participant := current.Clone()
	s.mu.RUnlock()

	read := participant.Version
	if err := mutate(game, &participant); err != nil {
		return domain.Participant{}, err
	}
	participant.Version = read + 1
	if err := participant.Validate(); err != nil {
		return domain.Participant{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.game.Version != game.Version || entry.participants[participantID].Version != read {
		return domain.Participant{}, domain.ErrTransactionConflict
	}
	entry.participants[participantID] = participant
	s.hub.Publish(domain.ParticipantEvent(participant))
	return participant.Clone(), nil
}

// Subscribe streams committed changes of one game until cancel is called or
// ctx ends.
func (s *GameStore) Subscribe(ctx context.Context, code string) (<-chan domain.Event, func(), error) {
	s.mu.RLock()
	_, ok := s.games[code]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, domain.ErrGameNotFound
	}

	ch, cancel := s.hub.Subscribe(code)
	glog.V(1).Infof("game %s: %d viewers", code, s.hub.Subscribers(code))
	stop := context.AfterFunc(ctx, cancel)
	return ch, func() {
		stop()
		cancel()
	}, nil
}
